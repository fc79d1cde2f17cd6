// Package api is the HTTP client for the agent server: control calls,
// status and cohort fetches, and the raw streams consumed by the channels.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/zbstctc/botool/internal/models"
)

// Server endpoints.
const (
	PathHealth      = "/api/health"
	PathChat        = "/api/chat"
	PathFilesWatch  = "/api/files/watch"
	PathAgentStatus = "/api/agent/status"
	PathAgentStart  = "/api/agent/start"
	PathTeammates   = "/api/agent/teammates"
)

// ErrStreamInterrupted marks a push stream that broke mid-read.
var ErrStreamInterrupted = errors.New("stream interrupted")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// IsNetworkError reports whether err is a transient transport failure worth
// retrying. Cancellation and explicit server rejections are not.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, ErrStreamInterrupted) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// Client talks to one agent server, optionally scoped to a project.
type Client struct {
	baseURL string
	project string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithProject scopes every call to the given project id.
func WithProject(project string) Option {
	return func(c *Client) { c.project = project }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Project returns the configured project scope ("" when unscoped).
func (c *Client) Project() string {
	return c.project
}

// URL builds an absolute endpoint URL carrying the project scope.
func (c *Client) URL(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	if c.project != "" {
		query.Set("project", c.project)
	}
	u := c.baseURL + path
	if enc := query.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// Health checks the server. Any 2xx is healthy.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, PathHealth, nil, nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// AgentStatus fetches the current status record.
func (c *Client) AgentStatus(ctx context.Context) (*models.AgentStatusRecord, error) {
	resp, err := c.do(ctx, http.MethodGet, PathAgentStatus, nil, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	var rec models.AgentStatusRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &rec, nil
}

// StartAgent asks the server to launch the agent process.
func (c *Client) StartAgent(ctx context.Context, maxIterations int) error {
	body := map[string]int{"maxIterations": maxIterations}
	resp, err := c.do(ctx, http.MethodPost, PathAgentStart, nil, body)
	if err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	drain(resp)
	return nil
}

// StopAgent asks the server to stop the agent process.
func (c *Client) StopAgent(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, PathAgentStart, nil, nil)
	if err != nil {
		return fmt.Errorf("stop agent: %w", err)
	}
	drain(resp)
	return nil
}

// Teammates fetches the authoritative cohort file. A missing file yields
// (nil, nil).
func (c *Client) Teammates(ctx context.Context) (*models.CohortFile, error) {
	resp, err := c.do(ctx, http.MethodGet, PathTeammates, nil, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	defer drain(resp)

	var cf models.CohortFile
	if err := json.NewDecoder(resp.Body).Decode(&cf); err != nil {
		return nil, fmt.Errorf("decode teammates: %w", err)
	}
	return &cf, nil
}

// Stream opens a push stream and returns its body. The caller closes it.
func (c *Client) Stream(ctx context.Context, method, path string, query url.Values, body any) (io.ReadCloser, error) {
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path, query), rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer drain(resp)
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	return resp, nil
}

// errorMessage extracts {"error": "..."} bodies, falling back to raw text.
func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
