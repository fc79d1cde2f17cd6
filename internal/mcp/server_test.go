package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zbstctc/botool/internal/filesync"
	"github.com/zbstctc/botool/internal/models"
	"github.com/zbstctc/botool/internal/store"
	"github.com/zbstctc/botool/internal/timing"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

type mockAgent struct {
	status *models.AgentStatusRecord
	cohort *models.CohortFile

	statusErr error
	startErr  error
	stopErr   error

	started []int
	stopped int
}

func (m *mockAgent) AgentStatus(_ context.Context) (*models.AgentStatusRecord, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if m.status == nil {
		return &models.AgentStatusRecord{Status: models.AgentStatusIdle}, nil
	}
	return m.status, nil
}

func (m *mockAgent) StartAgent(_ context.Context, n int) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, n)
	return nil
}

func (m *mockAgent) StopAgent(_ context.Context) error {
	if m.stopErr != nil {
		return m.stopErr
	}
	m.stopped++
	return nil
}

func (m *mockAgent) Teammates(_ context.Context) (*models.CohortFile, error) {
	return m.cohort, nil
}

type mockDocs map[filesync.Doc]string

func (m mockDocs) Content(doc filesync.Doc) (*string, bool) {
	s, ok := m[doc]
	if !ok {
		return nil, false
	}
	return &s, true
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const samplePRD = `{"devTasks":[
	{"id":"DT-001","title":"schema","passes":true},
	{"id":"DT-002","title":"api","dependsOn":["DT-001"]},
	{"id":"DT-003","title":"ui","dependsOn":["DT-001"]}
]}`

func newTestServer(t *testing.T, agent *mockAgent, docs mockDocs) (*Server, store.HistoryStore) {
	t.Helper()
	hist := store.NewMemoryStore()
	engine := timing.NewEngine(hist, "proj", timing.WithClock(func() time.Time { return fixedNow }), timing.WithLocation(time.UTC))

	prev := timeNow
	timeNow = func() time.Time { return fixedNow }
	t.Cleanup(func() { timeNow = prev })

	return NewServer(agent, docs, engine, "test"), hist
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) *mcpgo.CallToolResult {
	t.Helper()
	handlers := map[string]func(context.Context, mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error){
		"botool_status":        s.handleStatus,
		"botool_start":         s.handleStart,
		"botool_stop":          s.handleStop,
		"botool_batches":       s.handleBatches,
		"botool_timeline":      s.handleTimeline,
		"botool_history":       s.handleHistory,
		"botool_history_reset": s.handleHistoryReset,
	}
	h, ok := handlers[name]
	require.True(t, ok, "unknown tool %s", name)
	result, err := h(context.Background(), callToolReq(name, args))
	require.NoError(t, err, "handler should not return Go error; should wrap in result")
	require.NotNil(t, result)
	return result
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestMCPServer_Creates(t *testing.T) {
	s, _ := newTestServer(t, &mockAgent{}, mockDocs{})
	assert.NotNil(t, s.MCPServer(), "MCPServer() should return non-nil")
}

func TestStatus(t *testing.T) {
	agent := &mockAgent{status: &models.AgentStatusRecord{
		Status:      models.AgentStatusRunning,
		Completed:   1,
		Total:       4,
		CurrentTask: "DT-002",
	}}
	s, _ := newTestServer(t, agent, mockDocs{})

	result := callTool(t, s, "botool_status", nil)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Status      string  `json:"status"`
		CurrentTask string  `json:"currentTask"`
		IsRunning   bool    `json:"isRunning"`
		IsComplete  bool    `json:"isComplete"`
		Progress    float64 `json:"progress"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, "running", out.Status)
	assert.Equal(t, "DT-002", out.CurrentTask)
	assert.True(t, out.IsRunning)
	assert.False(t, out.IsComplete)
	assert.InDelta(t, 25.0, out.Progress, 0.001)
}

func TestStatus_Error(t *testing.T) {
	s, _ := newTestServer(t, &mockAgent{statusErr: errors.New("connection refused")}, mockDocs{})

	result := callTool(t, s, "botool_status", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "connection refused")
}

func TestStart(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		want    []int
		isError bool
	}{
		{name: "default budget", args: nil, want: []int{defaultMaxIterations}},
		{name: "explicit budget", args: map[string]any{"max_iterations": float64(25)}, want: []int{25}},
		{name: "zero rejected", args: map[string]any{"max_iterations": float64(0)}, isError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &mockAgent{}
			s, _ := newTestServer(t, agent, mockDocs{})

			result := callTool(t, s, "botool_start", tt.args)
			assert.Equal(t, tt.isError, result.IsError, resultText(t, result))
			assert.Equal(t, tt.want, agent.started)
		})
	}
}

func TestStart_ServerRejects(t *testing.T) {
	agent := &mockAgent{startErr: errors.New("start agent: server returned 409: already running")}
	s, _ := newTestServer(t, agent, mockDocs{})

	result := callTool(t, s, "botool_start", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "already running")
}

func TestStop(t *testing.T) {
	agent := &mockAgent{}
	s, _ := newTestServer(t, agent, mockDocs{})

	result := callTool(t, s, "botool_stop", nil)
	assert.False(t, result.IsError)
	assert.Equal(t, 1, agent.stopped)
	assert.Equal(t, "agent stopped", resultText(t, result))
}

func TestBatches(t *testing.T) {
	s, _ := newTestServer(t, &mockAgent{}, mockDocs{filesync.DocPRD: samplePRD})

	result := callTool(t, s, "botool_batches", nil)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Batches     [][]string `json:"batches"`
		Unscheduled []string   `json:"unscheduled"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, [][]string{{"DT-001"}, {"DT-002", "DT-003"}}, out.Batches)
	assert.Empty(t, out.Unscheduled)
}

func TestBatches_Cycle(t *testing.T) {
	prd := `{"devTasks":[{"id":"A","dependsOn":["B"]},{"id":"B","dependsOn":["A"]},{"id":"C"}]}`
	s, _ := newTestServer(t, &mockAgent{}, mockDocs{filesync.DocPRD: prd})

	result := callTool(t, s, "botool_batches", nil)
	require.False(t, result.IsError)

	var out struct {
		Batches     [][]string `json:"batches"`
		Unscheduled []string   `json:"unscheduled"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, [][]string{{"C"}}, out.Batches)
	assert.Equal(t, []string{"A", "B"}, out.Unscheduled)
}

func TestBatches_NoDocument(t *testing.T) {
	s, _ := newTestServer(t, &mockAgent{}, mockDocs{})

	result := callTool(t, s, "botool_batches", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not available")
}

func TestBatches_InvalidPRD(t *testing.T) {
	s, _ := newTestServer(t, &mockAgent{}, mockDocs{filesync.DocPRD: "{not json"})

	result := callTool(t, s, "botool_batches", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "parse prd")
}

func TestTimeline_RecordsHistory(t *testing.T) {
	started := models.Millis(fixedNow.Add(-5 * time.Minute).UnixMilli())
	agent := &mockAgent{status: &models.AgentStatusRecord{
		Status:      models.AgentStatusRunning,
		CurrentTask: "DT-002",
		StartedAt:   &started,
	}}
	s, hist := newTestServer(t, agent, mockDocs{filesync.DocPRD: samplePRD})

	result := callTool(t, s, "botool_timeline", nil)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Timings []models.TaskTiming `json:"timings"`
		Cohort  struct {
			Source     string   `json:"source"`
			BatchIndex int      `json:"batchIndex"`
			TaskIDs    []string `json:"taskIds"`
		} `json:"cohort"`
		InFlight bool `json:"inFlight"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, "inferred", out.Cohort.Source)
	assert.Equal(t, 1, out.Cohort.BatchIndex)
	assert.True(t, out.InFlight)
	require.NotEmpty(t, out.Timings)

	got, err := hist.Lookup(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"DT-002": 1, "DT-003": 1}, got)
}

func TestHistory_AndReset(t *testing.T) {
	s, hist := newTestServer(t, &mockAgent{}, mockDocs{})
	_, err := hist.Assign(context.Background(), "proj", map[string]int{"DT-001": 0, "DT-002": 1})
	require.NoError(t, err)

	result := callTool(t, s, "botool_history", nil)
	require.False(t, result.IsError)
	var out struct {
		Scope   string         `json:"scope"`
		Batches map[string]int `json:"batches"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, "proj", out.Scope)
	assert.Equal(t, map[string]int{"DT-001": 0, "DT-002": 1}, out.Batches)

	result = callTool(t, s, "botool_history_reset", nil)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"proj"`)

	got, err := hist.Lookup(context.Background(), "proj")
	require.NoError(t, err)
	assert.Empty(t, got)
}
