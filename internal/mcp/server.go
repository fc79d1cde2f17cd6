package mcp

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/zbstctc/botool/internal/batch"
	"github.com/zbstctc/botool/internal/filesync"
	"github.com/zbstctc/botool/internal/models"
	"github.com/zbstctc/botool/internal/status"
	"github.com/zbstctc/botool/internal/timing"
)

const defaultMaxIterations = 10

// Agent is the slice of the server API the tools call. *api.Client
// satisfies it.
type Agent interface {
	AgentStatus(ctx context.Context) (*models.AgentStatusRecord, error)
	StartAgent(ctx context.Context, maxIterations int) error
	StopAgent(ctx context.Context) error
	Teammates(ctx context.Context) (*models.CohortFile, error)
}

// Documents exposes the mirrored PRD and progress log.
// *filesync.Channel satisfies it.
type Documents interface {
	Content(doc filesync.Doc) (*string, bool)
}

// Server exposes the agent's state as MCP tools.
type Server struct {
	agent   Agent
	docs    Documents
	engine  *timing.Engine
	version string
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(agent Agent, docs Documents, engine *timing.Engine, version string) *Server {
	return &Server{agent: agent, docs: docs, engine: engine, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("botool", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.statusTool())
	srv.AddTool(s.startTool())
	srv.AddTool(s.stopTool())
	srv.AddTool(s.batchesTool())
	srv.AddTool(s.timelineTool())
	srv.AddTool(s.historyTool())
	srv.AddTool(s.historyResetTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// botool_status
func (s *Server) statusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("botool_status",
		mcp.WithDescription("Get the agent's current run-state: status, iteration, completed/total tasks, current task, and derived flags (running, complete, error) with a progress percentage."),
	)
	return tool, s.handleStatus
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, err := s.agent.AgentStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch status: %v", err)), nil
	}
	v := status.Derive(rec, "", timeNow())

	type statusOut struct {
		*models.AgentStatusRecord
		IsRunning  bool    `json:"isRunning"`
		IsComplete bool    `json:"isComplete"`
		HasError   bool    `json:"hasError"`
		Progress   float64 `json:"progress"`
	}
	return jsonResult(statusOut{
		AgentStatusRecord: v.Record,
		IsRunning:         v.IsRunning,
		IsComplete:        v.IsComplete,
		HasError:          v.HasError,
		Progress:          v.Progress,
	})
}

// botool_start
func (s *Server) startTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("botool_start",
		mcp.WithDescription("Start the agent process."),
		mcp.WithNumber("max_iterations", mcp.Description("Iteration budget for the run (default 10)")),
	)
	return tool, s.handleStart
}

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := defaultMaxIterations
	if v, ok := request.GetArguments()["max_iterations"].(float64); ok {
		n = int(v)
	}
	if n <= 0 {
		return mcp.NewToolResultError("max_iterations must be positive"), nil
	}
	if err := s.agent.StartAgent(ctx, n); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("agent started with max_iterations=%d", n)), nil
}

// botool_stop
func (s *Server) stopTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("botool_stop",
		mcp.WithDescription("Stop the running agent process."),
	)
	return tool, s.handleStop
}

func (s *Server) handleStop(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.agent.StopAgent(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("agent stopped"), nil
}

// botool_batches
func (s *Server) batchesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("botool_batches",
		mcp.WithDescription("Layer the PRD's task graph into batches of tasks that can run concurrently. Tasks caught in a dependency cycle are listed as unscheduled."),
	)
	return tool, s.handleBatches
}

func (s *Server) handleBatches(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prd, _ := s.docs.Content(filesync.DocPRD)
	if prd == nil {
		return mcp.NewToolResultError("PRD document is not available"), nil
	}
	tasks, err := batch.ParsePRD(*prd)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := batch.ComputeBatches(tasks)

	type batchesOut struct {
		Batches     [][]string `json:"batches"`
		Unscheduled []string   `json:"unscheduled"`
	}
	out := batchesOut{Batches: res.Batches, Unscheduled: res.Unscheduled}
	if out.Batches == nil {
		out.Batches = [][]string{}
	}
	if out.Unscheduled == nil {
		out.Unscheduled = []string{}
	}
	return jsonResult(out)
}

// botool_timeline
func (s *Server) timelineTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("botool_timeline",
		mcp.WithDescription("Reconcile per-task timings from teammate records, the progress log and an even-split estimate. Returns timings, batch lanes, and average/active/total/max durations in seconds."),
	)
	return tool, s.handleTimeline
}

func (s *Server) handleTimeline(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, err := s.agent.AgentStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch status: %v", err)), nil
	}
	cohort, err := s.agent.Teammates(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch teammates: %v", err)), nil
	}
	prd, _ := s.docs.Content(filesync.DocPRD)
	progress, _ := s.docs.Content(filesync.DocProgress)

	in, err := timing.BuildInput(prd, progress, rec, cohort)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tl, err := s.engine.Reconcile(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to reconcile timeline: %v", err)), nil
	}
	return jsonResult(tl)
}

// botool_history
func (s *Server) historyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("botool_history",
		mcp.WithDescription("Show the batch index each task was first seen in for the current project."),
	)
	return tool, s.handleHistory
}

func (s *Server) handleHistory(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hist, err := s.engine.History(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read history: %v", err)), nil
	}
	return jsonResult(map[string]any{"scope": s.engine.Scope(), "batches": hist})
}

// botool_history_reset
func (s *Server) historyResetTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("botool_history_reset",
		mcp.WithDescription("Forget all batch assignments for the current project. Use after switching the monitored project."),
	)
	return tool, s.handleHistoryReset
}

func (s *Server) handleHistoryReset(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.engine.ResetScope(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to reset history: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("batch history reset for %q", s.engine.Scope())), nil
}
