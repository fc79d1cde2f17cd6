// Package status tracks the agent's run-state through a push or poll feed
// and forwards start/stop control calls.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/zbstctc/botool/internal/models"
)

// Feed delivers status records until ctx ends. Failures are reported
// through fail and do not stop a poll feed.
type Feed interface {
	Run(ctx context.Context, update func(*models.AgentStatusRecord), fail func(error)) error
}

// Controller starts and stops the agent process. *api.Client satisfies it.
type Controller interface {
	StartAgent(ctx context.Context, maxIterations int) error
	StopAgent(ctx context.Context) error
}

// View is the derived status exposed to consumers.
type View struct {
	Record     *models.AgentStatusRecord
	IsRunning  bool
	IsComplete bool
	HasError   bool
	Progress   float64 // percent of tasks completed
	Elapsed    time.Duration
	Err        string
}

// Derive computes a View from a record at time now.
func Derive(rec *models.AgentStatusRecord, errMsg string, now time.Time) View {
	v := View{Err: errMsg}
	if rec == nil {
		return v
	}
	r := *rec
	v.Record = &r
	v.IsRunning = r.Status.IsActive()
	v.IsComplete = r.Status == models.AgentStatusComplete
	v.HasError = r.Status.IsErrored()
	if r.Total > 0 {
		v.Progress = float64(r.Completed) / float64(r.Total) * 100
	}
	if r.StartedAt != nil && !r.StartedAt.IsZero() {
		v.Elapsed = now.Sub(r.StartedAt.Time)
	}
	return v
}

// Channel holds the latest status record.
type Channel struct {
	feed Feed
	ctl  Controller
	now  func() time.Time

	mu        sync.Mutex
	record    *models.AgentStatusRecord
	errMsg    string
	listeners []func(View)
}

// New creates a Channel.
func New(feed Feed, ctl Controller) *Channel {
	return &Channel{feed: feed, ctl: ctl, now: time.Now}
}

// Run consumes the feed until ctx ends.
func (c *Channel) Run(ctx context.Context) error {
	return c.feed.Run(ctx, c.set, c.fail)
}

// OnChange registers fn to receive the view after every update or failure.
func (c *Channel) OnChange(fn func(View)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// View returns the current derived status.
func (c *Channel) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Derive(c.record, c.errMsg, c.now())
}

// Start asks the server to launch the agent. Status is left to the feed.
func (c *Channel) Start(ctx context.Context, maxIterations int) error {
	return c.ctl.StartAgent(ctx, maxIterations)
}

// Stop asks the server to stop the agent.
func (c *Channel) Stop(ctx context.Context) error {
	return c.ctl.StopAgent(ctx)
}

// set replaces the record wholesale and clears any retained error.
func (c *Channel) set(rec *models.AgentStatusRecord) {
	if rec == nil {
		return
	}
	r := *rec
	c.mu.Lock()
	c.record = &r
	c.errMsg = ""
	c.notifyLocked()
}

// fail retains err without discarding the last record.
func (c *Channel) fail(err error) {
	c.mu.Lock()
	c.errMsg = err.Error()
	c.notifyLocked()
}

func (c *Channel) notifyLocked() {
	v := Derive(c.record, c.errMsg, c.now())
	listeners := append(([]func(View))(nil), c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(v)
	}
}
