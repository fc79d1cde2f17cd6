package health

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultCheckInterval    = 30 * time.Second
	DefaultFailureThreshold = 3
)

// CheckFunc performs one liveness check.
type CheckFunc func(ctx context.Context) error

// Monitor checks the server while its channel is idle and flips the
// tracker on sustained failure or on recovery. It never interrupts an
// exchange.
type Monitor struct {
	tracker   *Tracker
	check     CheckFunc
	interval  time.Duration
	threshold int
	idle      func() bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval sets the check period.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

// WithFailureThreshold sets how many consecutive failures mean disconnected.
func WithFailureThreshold(n int) MonitorOption {
	return func(m *Monitor) { m.threshold = n }
}

// WithIdleCheck limits checks to ticks where idle returns true.
func WithIdleCheck(idle func() bool) MonitorOption {
	return func(m *Monitor) { m.idle = idle }
}

// NewMonitor creates a Monitor for t.
func NewMonitor(t *Tracker, check CheckFunc, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		tracker:   t,
		check:     check,
		interval:  DefaultCheckInterval,
		threshold: DefaultFailureThreshold,
		idle:      func() bool { return true },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Run checks every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if m.idle() {
				m.Check(ctx)
			}
		}
	}
}

// Check runs a single check and applies its outcome.
func (m *Monitor) Check(ctx context.Context) {
	err := m.check(ctx)
	switch {
	case err == nil:
		m.tracker.MarkConnected()
	case errors.Is(err, context.Canceled), ctx.Err() != nil:
	default:
		if m.tracker.MarkCheckFailure(m.threshold) {
			log.Warn().Err(err).Str("channel", m.tracker.name).Int("failures", m.threshold).Msg("Health check failing, marking disconnected")
		}
	}
}
