// Package chat implements the streaming request/response channel with its
// tool-call interruption protocol.
package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/zbstctc/botool/internal/api"
	"github.com/zbstctc/botool/internal/health"
	"github.com/zbstctc/botool/internal/models"
	"github.com/zbstctc/botool/internal/sse"
)

// ExchangeState is the lifecycle of the current exchange.
type ExchangeState string

const (
	StateIdle         ExchangeState = "idle"
	StateOpen         ExchangeState = "open"
	StateAwaitingTool ExchangeState = "awaiting_tool"
	StateClosed       ExchangeState = "closed"
)

var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrExchangeInFlight     = errors.New("an exchange is already in flight")
	ErrAwaitingToolResponse = errors.New("a tool call is awaiting a response")
	ErrNoPendingToolCall    = errors.New("no tool call is pending")
	ErrToolMismatch         = errors.New("tool id does not match the pending call")
	ErrInvalidToolResponse  = errors.New("tool response must be a JSON object")
)

// errDone stops the record loop once the terminal marker arrives.
var errDone = errors.New("done")

// ProtocolError is an error event sent by the server. It is final for the
// exchange and never retried.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// Streamer opens a server push stream. *api.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, method, path string, query url.Values, body any) (io.ReadCloser, error)
}

// Snapshot is a consistent copy of the channel's observable state.
type Snapshot struct {
	Messages   []models.ChatMessage
	Pending    *models.PendingToolCall
	Err        string
	State      ExchangeState
	Connection models.ConnectionState
	SessionID  string
}

type request struct {
	Message      string  `json:"message,omitempty"`
	SessionID    string  `json:"sessionId,omitempty"`
	ToolResponse json.RawMessage `json:"toolResponse,omitempty"`
	Mode         string  `json:"mode,omitempty"`
}

type event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Content   string          `json:"content"`
	ToolID    string          `json:"toolId"`
	ToolName  string          `json:"toolName"`
	ToolInput json.RawMessage `json:"toolInput"`
	Error     string          `json:"error"`
}

// Channel is one conversation with the agent server.
type Channel struct {
	streamer Streamer
	tracker  *health.Tracker
	policy   health.ReconnectPolicy
	mode     string

	mu         sync.Mutex
	messages   []models.ChatMessage
	pending    *models.PendingToolCall
	errMsg     string
	state      ExchangeState
	sessionID  string
	exchange   int // bumped per exchange and on Reset
	assistant  int // index of the exchange's assistant message, -1 if none
	sawToolUse bool
	cancelled  bool
	cancel     context.CancelFunc
	listeners  []func(Snapshot)
}

// Option configures a Channel.
type Option func(*Channel)

// WithPolicy sets the reconnect budget.
func WithPolicy(p health.ReconnectPolicy) Option {
	return func(c *Channel) { c.policy = p }
}

// WithMode sets the mode sent with every request.
func WithMode(mode string) Option {
	return func(c *Channel) { c.mode = mode }
}

// WithTracker shares an existing connection tracker.
func WithTracker(t *health.Tracker) Option {
	return func(c *Channel) { c.tracker = t }
}

// New creates an idle Channel.
func New(s Streamer, opts ...Option) *Channel {
	c := &Channel{
		streamer:  s,
		policy:    health.DefaultPolicy(),
		state:     StateIdle,
		assistant: -1,
	}
	for _, o := range opts {
		o(c)
	}
	if c.tracker == nil {
		c.tracker = health.NewTracker("chat")
	}
	return c
}

// Tracker exposes the channel's connection state machine.
func (c *Channel) Tracker() *health.Tracker {
	return c.tracker
}

// Idle reports whether no exchange is open. Liveness checks only run then.
func (c *Channel) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateOpen
}

// OnChange registers fn to receive a snapshot after every state change.
func (c *Channel) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Channel) snapshotLocked() Snapshot {
	s := Snapshot{
		Messages:   append([]models.ChatMessage(nil), c.messages...),
		Err:        c.errMsg,
		State:      c.state,
		Connection: c.tracker.State(),
		SessionID:  c.sessionID,
	}
	if c.pending != nil {
		p := *c.pending
		s.Pending = &p
	}
	return s
}

// Send opens a new exchange with text and blocks until it closes, pauses
// on a tool call, or fails. Cancellation returns nil.
func (c *Channel) Send(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return ErrExchangeInFlight
	case StateAwaitingTool:
		c.mu.Unlock()
		return ErrAwaitingToolResponse
	}
	c.messages = append(c.messages, models.ChatMessage{ID: newID(), Role: models.RoleUser, Content: text})
	req := request{Message: text, SessionID: c.sessionID, Mode: c.mode}
	gen := c.beginLocked()
	c.unlockAndNotify()

	return c.run(ctx, gen, req)
}

// RespondToTool answers the pending tool call with payload and continues
// the same session. payload is sent as the toolResponse object: a
// json.RawMessage or []byte is used as is, anything else is marshaled. It
// blocks like Send. The call stays pending until the continuation ends with
// done and raises no new tool call.
func (c *Channel) RespondToTool(ctx context.Context, toolID string, payload any) error {
	resp, err := toolResponse(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.state != StateAwaitingTool || c.pending == nil {
		c.mu.Unlock()
		return ErrNoPendingToolCall
	}
	if c.pending.ID != toolID {
		c.mu.Unlock()
		return fmt.Errorf("%w: pending %s, got %s", ErrToolMismatch, c.pending.ID, toolID)
	}
	req := request{SessionID: c.sessionID, ToolResponse: resp, Mode: c.mode}
	gen := c.beginLocked()
	c.unlockAndNotify()

	return c.run(ctx, gen, req)
}

func toolResponse(payload any) (json.RawMessage, error) {
	var data []byte
	switch v := payload.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToolResponse, err)
		}
		data = b
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' || !json.Valid(data) {
		return nil, ErrInvalidToolResponse
	}
	return append(json.RawMessage(nil), data...), nil
}

// Cancel aborts the in-flight exchange, including a pending reconnect
// wait. It is a no-op when nothing is in flight.
func (c *Channel) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return
	}
	c.cancelled = true
	if c.cancel != nil {
		c.cancel()
	}
}

// Reset starts a fresh session: messages, pending call, session id and
// error are cleared. An in-flight exchange is aborted.
func (c *Channel) Reset() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancelled = true
		c.cancel()
		c.cancel = nil
	}
	c.exchange++
	c.messages = nil
	c.pending = nil
	c.sessionID = ""
	c.errMsg = ""
	c.assistant = -1
	c.sawToolUse = false
	c.state = StateIdle
	c.unlockAndNotify()
}

func (c *Channel) beginLocked() int {
	c.exchange++
	c.state = StateOpen
	c.errMsg = ""
	c.cancelled = false
	c.sawToolUse = false
	c.assistant = -1
	return c.exchange
}

func (c *Channel) run(ctx context.Context, gen int, req request) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if gen == c.exchange {
		c.cancel = cancel
	}
	c.mu.Unlock()

	err := health.Retry(ctx, c.tracker, c.policy, func(ctx context.Context) error {
		return c.attempt(ctx, gen, req)
	})
	return c.finish(gen, err)
}

func (c *Channel) attempt(ctx context.Context, gen int, req request) error {
	c.mu.Lock()
	if gen != c.exchange || c.cancelled {
		c.mu.Unlock()
		return context.Canceled
	}
	// A retry starts the assistant message over.
	if c.assistant >= 0 {
		c.messages[c.assistant].Content = ""
	} else {
		c.messages = append(c.messages, models.ChatMessage{ID: newID(), Role: models.RoleAssistant})
		c.assistant = len(c.messages) - 1
	}
	c.sawToolUse = false
	c.unlockAndNotify()

	body, err := c.streamer.Stream(ctx, http.MethodPost, api.PathChat, nil, req)
	if err != nil {
		return err
	}
	defer body.Close()
	c.tracker.MarkConnected()

	err = sse.Scan(body, func(payload []byte) error {
		return c.handle(gen, payload)
	})
	switch {
	case err == nil, errors.Is(err, errDone):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	var pe *ProtocolError
	if errors.As(err, &pe) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", api.ErrStreamInterrupted, err)
}

func (c *Channel) handle(gen int, payload []byte) error {
	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Debug().Err(err).Msg("Ignoring undecodable chat record")
		return nil
	}

	c.mu.Lock()
	if gen != c.exchange || c.cancelled {
		c.mu.Unlock()
		return context.Canceled
	}
	var ret error
	switch ev.Type {
	case "session":
		c.sessionID = ev.SessionID
	case "text":
		if !c.sawToolUse && c.assistant >= 0 {
			c.messages[c.assistant].Content += ev.Content
		}
	case "tool_use":
		c.pending = &models.PendingToolCall{ID: ev.ToolID, Name: ev.ToolName, Input: ev.ToolInput}
		c.sawToolUse = true
	case "error":
		ret = &ProtocolError{Message: ev.Error}
	case "done":
		ret = errDone
	default:
		log.Debug().Str("type", ev.Type).Msg("Ignoring unknown chat record")
	}
	c.unlockAndNotify()
	return ret
}

func (c *Channel) finish(gen int, err error) error {
	c.mu.Lock()
	if gen != c.exchange {
		// Reset replaced this exchange.
		c.mu.Unlock()
		return nil
	}
	c.cancel = nil
	c.state = StateClosed

	var pe *ProtocolError
	switch {
	case err == nil:
		if c.sawToolUse && c.pending != nil {
			c.state = StateAwaitingTool
		} else {
			c.pending = nil
		}
	case c.cancelled || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if c.assistant >= 0 && c.messages[c.assistant].Content == "" {
			c.dropAssistantLocked()
		}
		c.pending = nil
		err = nil
	case errors.As(err, &pe):
		c.dropAssistantLocked()
		c.pending = nil
		c.errMsg = pe.Message
	default:
		// A failed tool response leaves the call answerable again.
		c.dropAssistantLocked()
		if c.pending != nil {
			c.state = StateAwaitingTool
		}
		c.errMsg = err.Error()
		if !errors.Is(err, health.ErrDisconnected) {
			err = fmt.Errorf("send message: %w", err)
		}
	}
	c.assistant = -1
	c.unlockAndNotify()
	return err
}

func (c *Channel) dropAssistantLocked() {
	if c.assistant < 0 {
		return
	}
	c.messages = append(c.messages[:c.assistant], c.messages[c.assistant+1:]...)
	c.assistant = -1
}

// unlockAndNotify releases c.mu and then delivers a snapshot to listeners.
func (c *Channel) unlockAndNotify() {
	var snap Snapshot
	listeners := c.listeners
	if len(listeners) > 0 {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func newID() string {
	return ulid.Make().String()
}
