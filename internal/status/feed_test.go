package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zbstctc/botool/internal/api"
	"github.com/zbstctc/botool/internal/health"
	"github.com/zbstctc/botool/internal/models"
	"github.com/zbstctc/botool/internal/sse"
)

func TestPollFeed_RetainsRecordAcrossFailures(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+api.PathAgentStatus, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			_, _ = w.Write([]byte(`{"status":"running","iteration":2,"completed":1,"total":3}`))
		case 2:
			http.Error(w, `{"error":"agent crashed"}`, http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`{"status":"complete","completed":3,"total":3}`))
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(NewPollFeed(api.NewClient(srv.URL), 5*time.Millisecond), api.NewClient(srv.URL))

	var mu sync.Mutex
	var views []View
	c.OnChange(func(v View) {
		mu.Lock()
		views = append(views, v)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.View().IsComplete }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(views), 3)
	assert.True(t, views[0].IsRunning)
	assert.Contains(t, views[1].Err, "agent crashed")
	require.NotNil(t, views[1].Record, "last status kept on failure")
	assert.Equal(t, 2, views[1].Record.Iteration)
	assert.Empty(t, views[2].Err)
	assert.InDelta(t, 100, c.View().Progress, 0.001)
}

func TestPushFeed_DeliversAndExhausts(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+api.PathAgentStatus, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("stream") != "true" || r.URL.Query().Get("project") != "demo" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		for _, rec := range []any{
			map[string]any{"type": "status", "data": map[string]any{"status": "starting"}, "timestamp": 1},
			map[string]any{"type": "heartbeat"},
			map[string]any{"type": "status", "data": map[string]any{"status": "running", "completed": 1, "total": 2}, "timestamp": 2},
		} {
			data, _ := sse.Frame(rec)
			_, _ = w.Write(data)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := api.NewClient(srv.URL, api.WithProject("demo"))
	feed := NewPushFeed(client, health.ReconnectPolicy{MaxAttempts: 2, Delay: time.Millisecond})
	c := New(feed, client)

	err := c.Run(context.Background())
	require.ErrorIs(t, err, health.ErrDisconnected)
	assert.Equal(t, models.ConnectionDisconnected, feed.Tracker().State())
	assert.Equal(t, int32(3), calls.Load())

	v := c.View()
	require.NotNil(t, v.Record)
	assert.Equal(t, models.AgentStatusRunning, v.Record.Status)
	assert.InDelta(t, 50, v.Progress, 0.001)
	require.NotNil(t, v.Record.Timestamp, "envelope timestamp carried onto the record")
	assert.Equal(t, int64(2), v.Record.Timestamp.UnixMilli())
	assert.Contains(t, v.Err, "disconnected")
}

func TestNewFeed(t *testing.T) {
	client := api.NewClient("http://localhost:1")
	_, ok := NewFeed(ModePush, client, 0, health.DefaultPolicy()).(*PushFeed)
	assert.True(t, ok)
	poll, ok := NewFeed(ModePoll, client, 0, health.DefaultPolicy()).(*PollFeed)
	require.True(t, ok)
	assert.Equal(t, DefaultPollInterval, poll.interval)
}
