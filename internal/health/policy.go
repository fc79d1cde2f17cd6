package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zbstctc/botool/internal/api"
)

const (
	DefaultMaxAttempts = 5
	DefaultDelay       = 3 * time.Second
)

// ReconnectPolicy is a fixed-delay retry budget.
type ReconnectPolicy struct {
	MaxAttempts int
	Delay       time.Duration

	// Retryable classifies failures; nil means api.IsNetworkError.
	Retryable func(error) bool
}

// DefaultPolicy returns five attempts three seconds apart.
func DefaultPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultDelay}
}

// Wait sleeps for one reconnect delay or until ctx ends.
func (p ReconnectPolicy) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p ReconnectPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return api.IsNetworkError(err)
}

// Retry runs op until it succeeds, fails with a non-retryable error, ctx
// ends, or MaxAttempts consecutive retries have failed. An op that reaches
// t.MarkConnected (a stream that opened) starts the budget over. Exhaustion marks
// the tracker disconnected and returns ErrDisconnected wrapping the last
// failure. A cancelled ctx returns ctx.Err() without touching the tracker.
func Retry(ctx context.Context, t *Tracker, p ReconnectPolicy, op func(context.Context) error) error {
	t.clearAttempts()
	for {
		err := op(ctx)
		if err == nil {
			t.MarkConnected()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.retryable(err) {
			return err
		}
		attempt := t.Attempts()
		if attempt >= p.MaxAttempts {
			t.MarkDisconnected()
			log.Error().Err(err).Str("channel", t.name).Int("attempts", p.MaxAttempts).Msg("Reconnect budget exhausted")
			return fmt.Errorf("%w after %d attempts: %w", ErrDisconnected, p.MaxAttempts, err)
		}
		t.BeginRetry(attempt + 1)
		log.Warn().Err(err).Str("channel", t.name).Int("attempt", attempt+1).Dur("delay", p.Delay).Msg("Reconnecting")
		if err := p.Wait(ctx); err != nil {
			return err
		}
	}
}
