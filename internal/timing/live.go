package timing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultLiveInterval = time.Second

// Live keeps a timeline fresh: it re-runs the engine every interval while
// any task is still in flight, and immediately on Trigger.
type Live struct {
	engine   *Engine
	input    func() Input
	interval time.Duration
	trigger  chan struct{}

	mu        sync.Mutex
	last      *Timeline
	listeners []func(*Timeline)
}

// LiveOption configures a Live.
type LiveOption func(*Live)

// WithInterval sets the in-flight refresh period.
func WithInterval(d time.Duration) LiveOption {
	return func(l *Live) { l.interval = d }
}

// NewLive creates a Live that reads its input from input on every pass.
func NewLive(e *Engine, input func() Input, opts ...LiveOption) *Live {
	l := &Live{
		engine:   e,
		input:    input,
		interval: defaultLiveInterval,
		trigger:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Trigger requests a pass as soon as possible. Bursts coalesce.
func (l *Live) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// OnUpdate registers fn to receive every new timeline.
func (l *Live) OnUpdate(fn func(*Timeline)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Last returns the most recent timeline, nil before the first pass.
func (l *Live) Last() *Timeline {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Run evaluates once, then until ctx ends.
func (l *Live) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.evaluate(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.trigger:
			l.evaluate(ctx)
		case <-ticker.C:
			if last := l.Last(); last != nil && last.InFlight {
				l.evaluate(ctx)
			}
		}
	}
}

func (l *Live) evaluate(ctx context.Context) {
	tl, err := l.engine.Reconcile(ctx, l.input())
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Str("scope", l.engine.Scope()).Msg("Reconciliation failed")
		}
		return
	}
	l.mu.Lock()
	l.last = tl
	listeners := append(([]func(*Timeline))(nil), l.listeners...)
	l.mu.Unlock()
	for _, fn := range listeners {
		fn(tl)
	}
}
