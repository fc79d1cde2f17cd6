// Package filesync mirrors the agent's two working documents (the PRD and
// the progress log) into local state from a push source.
package filesync

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/zbstctc/botool/internal/health"
	"github.com/zbstctc/botool/internal/models"
)

// Doc names a mirrored document.
type Doc string

const (
	DocPRD      Doc = "prd"
	DocProgress Doc = "progress"
)

// Docs lists every mirrored document in delivery order.
var Docs = []Doc{DocPRD, DocProgress}

// Record types on the wire.
const (
	RecordInitial        = "initial"
	RecordPRDUpdate      = "prd-update"
	RecordProgressUpdate = "progress-update"
)

// Record is one push record. Data is {prd, progress} for the initial
// snapshot and the full new content (or null) for updates.
type Record struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type snapshot struct {
	PRD      *string `json:"prd"`
	Progress *string `json:"progress"`
}

// InitialRecord builds the combined snapshot record.
func InitialRecord(prd, progress *string) Record {
	data, _ := json.Marshal(snapshot{PRD: prd, Progress: progress})
	return Record{Type: RecordInitial, Data: data}
}

// UpdateRecord builds the record announcing new content for doc.
func UpdateRecord(doc Doc, content *string) Record {
	data, _ := json.Marshal(content)
	typ := RecordPRDUpdate
	if doc == DocProgress {
		typ = RecordProgressUpdate
	}
	return Record{Type: typ, Data: data}
}

// Source delivers records until the connection ends. It calls onOpen once
// the connection is established. A clean end of stream is reported as an
// error so the channel reconnects.
type Source interface {
	Watch(ctx context.Context, onOpen func(), emit func(Record)) error
}

// Channel holds the last known content of each document.
type Channel struct {
	src     Source
	tracker *health.Tracker
	policy  health.ReconnectPolicy

	mu        sync.Mutex
	content   map[Doc]*string
	known     map[Doc]bool
	callbacks map[Doc][]func(*string)
}

// Option configures a Channel.
type Option func(*Channel)

// WithPolicy sets the reconnect budget.
func WithPolicy(p health.ReconnectPolicy) Option {
	return func(c *Channel) { c.policy = p }
}

// New creates a Channel reading from src.
func New(src Source, opts ...Option) *Channel {
	c := &Channel{
		src:       src,
		tracker:   health.NewTracker("files"),
		policy:    health.DefaultPolicy(),
		content:   make(map[Doc]*string),
		known:     make(map[Doc]bool),
		callbacks: make(map[Doc][]func(*string)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Tracker exposes the connection state machine.
func (c *Channel) Tracker() *health.Tracker {
	return c.tracker
}

// State returns the connection state.
func (c *Channel) State() models.ConnectionState {
	return c.tracker.State()
}

// OnUpdate registers fn for changes to doc. A nil argument means the
// document does not exist.
func (c *Channel) OnUpdate(doc Doc, fn func(content *string)) {
	c.mu.Lock()
	c.callbacks[doc] = append(c.callbacks[doc], fn)
	c.mu.Unlock()
}

// Content returns the last known content of doc and whether any record for
// it has been received. Content survives disconnects.
func (c *Channel) Content(doc Doc) (*string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content[doc], c.known[doc]
}

// Run connects and applies records until ctx ends (nil) or the reconnect
// budget is spent (health.ErrDisconnected). Calling Run again reconnects
// with a fresh budget.
func (c *Channel) Run(ctx context.Context) error {
	c.tracker.Reset()
	err := health.Retry(ctx, c.tracker, c.policy, func(ctx context.Context) error {
		return c.src.Watch(ctx, c.tracker.MarkConnected, c.Apply)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Apply folds one record into the channel state.
func (c *Channel) Apply(rec Record) {
	updates := make(map[Doc]*string)
	switch rec.Type {
	case RecordInitial:
		var snap snapshot
		if err := json.Unmarshal(rec.Data, &snap); err != nil {
			log.Debug().Err(err).Msg("Ignoring undecodable file snapshot")
			return
		}
		updates[DocPRD] = snap.PRD
		updates[DocProgress] = snap.Progress
	case RecordPRDUpdate, RecordProgressUpdate:
		var content *string
		if err := json.Unmarshal(rec.Data, &content); err != nil {
			log.Debug().Err(err).Str("type", rec.Type).Msg("Ignoring undecodable file update")
			return
		}
		doc := DocPRD
		if rec.Type == RecordProgressUpdate {
			doc = DocProgress
		}
		updates[doc] = content
	default:
		log.Debug().Str("type", rec.Type).Msg("Ignoring unknown file record")
		return
	}

	type call struct {
		fns     []func(*string)
		content *string
	}
	var calls []call
	c.mu.Lock()
	for _, doc := range Docs {
		content, ok := updates[doc]
		if !ok {
			continue
		}
		c.content[doc] = content
		c.known[doc] = true
		calls = append(calls, call{fns: append(([]func(*string))(nil), c.callbacks[doc]...), content: content})
	}
	c.mu.Unlock()

	for _, cl := range calls {
		for _, fn := range cl.fns {
			fn(cl.content)
		}
	}
}
