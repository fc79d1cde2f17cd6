// Package health owns the connection-state machine shared by every live
// channel: the per-channel Tracker, the fixed-delay reconnect policy and the
// idle liveness monitor.
package health

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zbstctc/botool/internal/models"
)

// ErrDisconnected is returned once a channel has exhausted its reconnect
// budget. Callers recover by reconnecting explicitly.
var ErrDisconnected = errors.New("disconnected")

// Tracker holds one channel's connection state and attempt counter.
type Tracker struct {
	name string

	mu            sync.Mutex
	state         models.ConnectionState
	attempts      int
	checkFailures int
	listeners     []func(models.ConnectionState)
}

// NewTracker returns a connected tracker. The name only labels log lines.
func NewTracker(name string) *Tracker {
	return &Tracker{name: name, state: models.ConnectionConnected}
}

// State returns the current connection state.
func (t *Tracker) State() models.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attempts returns the number of reconnect attempts since the last success.
func (t *Tracker) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// OnChange registers fn to be called after every state transition.
func (t *Tracker) OnChange(fn func(models.ConnectionState)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// MarkConnected records a successful exchange, check or stream open.
func (t *Tracker) MarkConnected() {
	t.mu.Lock()
	t.attempts = 0
	t.checkFailures = 0
	t.transition(models.ConnectionConnected)
}

// BeginRetry records reconnect attempt n.
func (t *Tracker) BeginRetry(n int) {
	t.mu.Lock()
	t.attempts = n
	t.transition(models.ConnectionReconnecting)
}

func (t *Tracker) clearAttempts() {
	t.mu.Lock()
	t.attempts = 0
	t.mu.Unlock()
}

// MarkDisconnected records that the reconnect budget is spent.
func (t *Tracker) MarkDisconnected() {
	t.mu.Lock()
	t.transition(models.ConnectionDisconnected)
}

// MarkCheckFailure counts a failed liveness check. Reaching threshold
// consecutive failures flips the state to disconnected; it reports whether
// that happened on this call.
func (t *Tracker) MarkCheckFailure(threshold int) bool {
	t.mu.Lock()
	t.checkFailures++
	if t.checkFailures < threshold || t.state == models.ConnectionDisconnected {
		t.mu.Unlock()
		return false
	}
	t.transition(models.ConnectionDisconnected)
	return true
}

// Reset is the explicit reconnect: counters cleared, state connected.
func (t *Tracker) Reset() {
	t.MarkConnected()
}

// transition must be called with t.mu held; it releases the lock before
// notifying listeners.
func (t *Tracker) transition(next models.ConnectionState) {
	prev := t.state
	t.state = next
	attempts := t.attempts
	var listeners []func(models.ConnectionState)
	if prev != next {
		listeners = append(listeners, t.listeners...)
	}
	t.mu.Unlock()

	if prev == next {
		return
	}
	log.Debug().
		Str("channel", t.name).
		Str("from", string(prev)).
		Str("to", string(next)).
		Int("attempts", attempts).
		Msg("Connection state changed")
	for _, fn := range listeners {
		fn(next)
	}
}
