package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zbstctc/botool/internal/models"
)

func TestMonitor_ThreeFailuresDisconnect(t *testing.T) {
	tr := NewTracker("test")
	m := NewMonitor(tr, func(context.Context) error { return errors.New("down") })
	ctx := context.Background()

	m.Check(ctx)
	m.Check(ctx)
	assert.Equal(t, models.ConnectionConnected, tr.State())
	m.Check(ctx)
	assert.Equal(t, models.ConnectionDisconnected, tr.State())
}

func TestMonitor_SuccessReconnects(t *testing.T) {
	tr := NewTracker("test")
	tr.MarkDisconnected()
	m := NewMonitor(tr, func(context.Context) error { return nil })

	m.Check(context.Background())
	assert.Equal(t, models.ConnectionConnected, tr.State())
}

func TestMonitor_CustomThreshold(t *testing.T) {
	tr := NewTracker("test")
	m := NewMonitor(tr, func(context.Context) error { return errors.New("down") }, WithFailureThreshold(1))
	m.Check(context.Background())
	assert.Equal(t, models.ConnectionDisconnected, tr.State())
}

func TestMonitor_RunSkipsWhenBusy(t *testing.T) {
	tr := NewTracker("test")
	var checks, ticks atomic.Int32
	var idle atomic.Bool

	m := NewMonitor(tr,
		func(context.Context) error { checks.Add(1); return nil },
		WithInterval(2*time.Millisecond),
		WithIdleCheck(func() bool { ticks.Add(1); return idle.Load() }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), checks.Load(), "no check while an exchange is open")

	idle.Store(true)
	require.Eventually(t, func() bool { return checks.Load() >= 1 }, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
