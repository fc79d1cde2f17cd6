package status

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/zbstctc/botool/internal/api"
	"github.com/zbstctc/botool/internal/health"
	"github.com/zbstctc/botool/internal/models"
	"github.com/zbstctc/botool/internal/sse"
)

// Mode selects the feed strategy.
type Mode string

const (
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

const DefaultPollInterval = 2 * time.Second

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePush, ModePoll:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown status mode %q (want push or poll)", s)
}

// Fetcher returns the current status record. *api.Client satisfies it.
type Fetcher interface {
	AgentStatus(ctx context.Context) (*models.AgentStatusRecord, error)
}

// Streamer opens a server push stream. *api.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, method, path string, query url.Values, body any) (io.ReadCloser, error)
}

// PollFeed fetches the status on a fixed interval. It has no connection
// state: a failed fetch is reported and the next tick tries again.
type PollFeed struct {
	fetcher  Fetcher
	interval time.Duration
}

// NewPollFeed creates a PollFeed. A non-positive interval means the default.
func NewPollFeed(f Fetcher, interval time.Duration) *PollFeed {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollFeed{fetcher: f, interval: interval}
}

// Run implements Feed. The first fetch happens immediately.
func (p *PollFeed) Run(ctx context.Context, update func(*models.AgentStatusRecord), fail func(error)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		rec, err := p.fetcher.AgentStatus(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			log.Debug().Err(err).Msg("Status poll failed")
			fail(fmt.Errorf("fetch status: %w", err))
		default:
			update(rec)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type envelope struct {
	Type      string                   `json:"type"`
	Data      models.AgentStatusRecord `json:"data"`
	Timestamp int64                    `json:"timestamp"`
}

// PushFeed subscribes to the status stream with the shared reconnect
// discipline.
type PushFeed struct {
	streamer Streamer
	tracker  *health.Tracker
	policy   health.ReconnectPolicy
}

// NewPushFeed creates a PushFeed.
func NewPushFeed(s Streamer, p health.ReconnectPolicy) *PushFeed {
	return &PushFeed{streamer: s, tracker: health.NewTracker("status"), policy: p}
}

// Tracker exposes the stream's connection state.
func (p *PushFeed) Tracker() *health.Tracker {
	return p.tracker
}

// Run implements Feed. It returns health.ErrDisconnected once the
// reconnect budget is spent, nil when ctx ends.
func (p *PushFeed) Run(ctx context.Context, update func(*models.AgentStatusRecord), fail func(error)) error {
	p.tracker.Reset()
	err := health.Retry(ctx, p.tracker, p.policy, func(ctx context.Context) error {
		err := p.watch(ctx, update)
		if err != nil && ctx.Err() == nil {
			fail(err)
		}
		return err
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		fail(err)
	}
	return err
}

func (p *PushFeed) watch(ctx context.Context, update func(*models.AgentStatusRecord)) error {
	q := url.Values{"stream": {"true"}}
	body, err := p.streamer.Stream(ctx, http.MethodGet, api.PathAgentStatus, q, nil)
	if err != nil {
		return fmt.Errorf("open status stream: %w", err)
	}
	defer body.Close()
	p.tracker.MarkConnected()

	err = sse.Scan(body, func(payload []byte) error {
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			log.Debug().Err(err).Msg("Ignoring undecodable status record")
			return nil
		}
		if env.Type != "status" {
			return nil
		}
		if env.Data.Timestamp == nil && env.Timestamp != 0 {
			ts := models.Millis(env.Timestamp)
			env.Data.Timestamp = &ts
		}
		update(&env.Data)
		return nil
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("read status stream: %w: %w", api.ErrStreamInterrupted, err)
	}
	return fmt.Errorf("status stream closed by server: %w", api.ErrStreamInterrupted)
}

// NewFeed builds the feed for mode against client.
func NewFeed(mode Mode, client *api.Client, pollInterval time.Duration, policy health.ReconnectPolicy) Feed {
	if mode == ModePush {
		return NewPushFeed(client, policy)
	}
	return NewPollFeed(client, pollInterval)
}
