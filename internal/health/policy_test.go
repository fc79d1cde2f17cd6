package health

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zbstctc/botool/internal/api"
	"github.com/zbstctc/botool/internal/models"
)

var errNetwork = &api.StatusError{Code: http.StatusServiceUnavailable, Message: "unavailable"}

func fastPolicy(max int) ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: max, Delay: time.Millisecond}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	tr := NewTracker("test")
	calls := 0
	err := Retry(context.Background(), tr, fastPolicy(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return errNetwork
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, tr.Attempts())
	assert.Equal(t, models.ConnectionConnected, tr.State())
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	tr := NewTracker("test")
	var states []models.ConnectionState
	tr.OnChange(func(s models.ConnectionState) { states = append(states, s) })

	calls := 0
	err := Retry(context.Background(), tr, fastPolicy(5), func(context.Context) error {
		calls++
		return errNetwork
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.ErrorIs(t, err, errNetwork)
	assert.Equal(t, 6, calls, "initial attempt plus five retries")
	assert.Equal(t, models.ConnectionDisconnected, tr.State())
	assert.Equal(t, []models.ConnectionState{models.ConnectionReconnecting, models.ConnectionDisconnected}, states)
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	tr := NewTracker("test")
	boom := errors.New("bad request")
	calls := 0
	err := Retry(context.Background(), tr, fastPolicy(5), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Equal(t, models.ConnectionConnected, tr.State())
}

func TestRetry_CancelDuringWait(t *testing.T) {
	tr := NewTracker("test")
	ctx, cancel := context.WithCancel(context.Background())
	p := ReconnectPolicy{MaxAttempts: 5, Delay: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, tr, p, func(context.Context) error {
			calls++
			return errNetwork
		})
	}()

	require.Eventually(t, func() bool { return tr.State() == models.ConnectionReconnecting }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop on cancel")
	}
	assert.Equal(t, 1, calls, "no attempt after cancel")
}

func TestRetry_CustomClassifier(t *testing.T) {
	tr := NewTracker("test")
	p := fastPolicy(1)
	p.Retryable = func(error) bool { return true }
	err := Retry(context.Background(), tr, p, func(context.Context) error {
		return errors.New("anything")
	})
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 3*time.Second, p.Delay)
}

func TestRetry_FreshBudgetPerCall(t *testing.T) {
	tr := NewTracker("test")
	fail := func(context.Context) error { return errNetwork }
	require.ErrorIs(t, Retry(context.Background(), tr, fastPolicy(2), fail), ErrDisconnected)

	calls := 0
	err := Retry(context.Background(), tr, fastPolicy(2), func(context.Context) error {
		calls++
		if calls < 3 {
			return errNetwork
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionConnected, tr.State())
}
