package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zbstctc/botool/internal/models"
)

type mockController struct {
	startErr error
	stopErr  error
	started  int
	stopped  int
}

func (m *mockController) StartAgent(_ context.Context, maxIterations int) error {
	m.started = maxIterations
	return m.startErr
}

func (m *mockController) StopAgent(context.Context) error {
	m.stopped++
	return m.stopErr
}

// scriptFeed replays a fixed sequence of updates and failures.
type scriptFeed struct {
	steps []any
}

func (f *scriptFeed) Run(_ context.Context, update func(*models.AgentStatusRecord), fail func(error)) error {
	for _, s := range f.steps {
		switch v := s.(type) {
		case *models.AgentStatusRecord:
			update(v)
		case error:
			fail(v)
		}
	}
	return nil
}

func TestDerive(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	started := models.At(now.Add(-90 * time.Second))

	tests := []struct {
		name     string
		rec      *models.AgentStatusRecord
		running  bool
		complete bool
		hasError bool
		progress float64
	}{
		{"nil", nil, false, false, false, 0},
		{"running", &models.AgentStatusRecord{Status: models.AgentStatusRunning, Completed: 1, Total: 4}, true, false, false, 25},
		{"waiting", &models.AgentStatusRecord{Status: models.AgentStatusWaitingNetwork}, true, false, false, 0},
		{"complete", &models.AgentStatusRecord{Status: models.AgentStatusComplete, Completed: 4, Total: 4}, false, true, false, 100},
		{"timeout", &models.AgentStatusRecord{Status: models.AgentStatusTimeout}, false, false, true, 0},
		{"stopped", &models.AgentStatusRecord{Status: models.AgentStatusStopped}, false, false, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Derive(tt.rec, "", now)
			assert.Equal(t, tt.running, v.IsRunning)
			assert.Equal(t, tt.complete, v.IsComplete)
			assert.Equal(t, tt.hasError, v.HasError)
			assert.InDelta(t, tt.progress, v.Progress, 0.001)
		})
	}

	v := Derive(&models.AgentStatusRecord{Status: models.AgentStatusRunning, StartedAt: started}, "", now)
	assert.Equal(t, 90*time.Second, v.Elapsed)
}

func TestChannel_ErrorKeepsLastRecord(t *testing.T) {
	first := &models.AgentStatusRecord{Status: models.AgentStatusRunning, Iteration: 3, Completed: 1, Total: 2}
	feed := &scriptFeed{steps: []any{first, errors.New("fetch status: boom")}}
	c := New(feed, &mockController{})

	var views []View
	c.OnChange(func(v View) { views = append(views, v) })
	require.NoError(t, c.Run(context.Background()))

	v := c.View()
	require.NotNil(t, v.Record)
	assert.Equal(t, 3, v.Record.Iteration)
	assert.Equal(t, "fetch status: boom", v.Err)
	assert.Len(t, views, 2)
}

func TestChannel_UpdateClearsError(t *testing.T) {
	feed := &scriptFeed{steps: []any{
		errors.New("down"),
		&models.AgentStatusRecord{Status: models.AgentStatusIdle},
	}}
	c := New(feed, &mockController{})
	require.NoError(t, c.Run(context.Background()))
	assert.Empty(t, c.View().Err)
	assert.Equal(t, models.AgentStatusIdle, c.View().Record.Status)
}

func TestChannel_RecordReplacedWholesale(t *testing.T) {
	feed := &scriptFeed{steps: []any{
		&models.AgentStatusRecord{Status: models.AgentStatusRunning, CurrentTask: "DT-001", RetryCount: 2},
		&models.AgentStatusRecord{Status: models.AgentStatusRunning},
	}}
	c := New(feed, &mockController{})
	require.NoError(t, c.Run(context.Background()))

	rec := c.View().Record
	assert.Empty(t, rec.CurrentTask)
	assert.Zero(t, rec.RetryCount)
}

func TestChannel_StartStopPropagate(t *testing.T) {
	ctl := &mockController{startErr: errors.New("already running")}
	feed := &scriptFeed{steps: []any{&models.AgentStatusRecord{Status: models.AgentStatusIdle}}}
	c := New(feed, ctl)
	require.NoError(t, c.Run(context.Background()))

	err := c.Start(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
	assert.Equal(t, 10, ctl.started)
	assert.Equal(t, models.AgentStatusIdle, c.View().Record.Status, "no optimistic mutation")
	assert.Empty(t, c.View().Err)

	ctl.stopErr = errors.New("not running")
	assert.ErrorContains(t, c.Stop(context.Background()), "not running")

	ctl.stopErr = nil
	assert.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, 2, ctl.stopped)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("push")
	require.NoError(t, err)
	assert.Equal(t, ModePush, m)

	_, err = ParseMode("websocket")
	assert.Error(t, err)
}
