package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kimjoonhwaan/metaworkflow/internal/services"
	"github.com/kimjoonhwaan/metaworkflow/internal/triggers"
	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	workflows *services.WorkflowService
	runner    *services.Runner
	triggers  *triggers.Manager
}

func NewServer(workflows *services.WorkflowService, runner *services.Runner, manager *triggers.Manager) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Metaworkflow",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		workflows: workflows,
		runner:    runner,
		triggers:  manager,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List workflows, optionally filtered by status"),
			mcp.WithString("status", mcp.Description("Filter by status: DRAFT, ACTIVE, PAUSED or ARCHIVED")),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_workflow",
			mcp.WithDescription("Start an execution of a workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow to run")),
			mcp.WithString("input", mcp.Description("Input variables as a JSON object")),
		),
		s.handleRunWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_execution",
			mcp.WithDescription("Get the status and step logs of an execution"),
			mcp.WithString("execution_id", mcp.Required(), mcp.Description("The ID of the execution")),
		),
		s.handleGetExecution,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"approve_execution",
			mcp.WithDescription("Approve or reject an execution waiting for approval"),
			mcp.WithString("execution_id", mcp.Required(), mcp.Description("The ID of the execution")),
			mcp.WithBoolean("approved", mcp.Required(), mcp.Description("Whether the execution is approved")),
		),
		s.handleApproveExecution,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"fire_event",
			mcp.WithDescription("Fire an event that starts all matching event triggers"),
			mcp.WithString("event_type", mcp.Required(), mcp.Description("The event type to fire")),
			mcp.WithString("data", mcp.Description("Event payload as a JSON object")),
		),
		s.handleFireEvent,
	)
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	status, _ := args["status"].(string)
	workflows, err := s.workflows.List(ctx, models.WorkflowStatus(status))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(workflows)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	input := map[string]interface{}{}
	if raw, ok := args["input"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid input JSON: %v", err)), nil
		}
	}

	execution, err := s.runner.Execute(ctx, workflowID, input, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to run workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(execution)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetExecution(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["execution_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: execution_id"), nil
	}

	logs, err := s.runner.GetLogs(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get execution: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(logs)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleApproveExecution(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["execution_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: execution_id"), nil
	}

	approved, ok := args["approved"].(bool)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: approved"), nil
	}

	execution, err := s.runner.Approve(ctx, id, approved)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to approve execution: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(execution)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleFireEvent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	eventType, ok := args["event_type"].(string)
	if !ok || eventType == "" {
		return mcp.NewToolResultError("Missing required parameter: event_type"), nil
	}

	data := map[string]interface{}{}
	if raw, ok := args["data"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid data JSON: %v", err)), nil
		}
	}

	matched, err := s.triggers.FireEvent(ctx, eventType, data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fire event: %v", err)), nil
	}

	started := make([]*models.Execution, 0, len(matched))
	for _, trigger := range matched {
		execution, err := s.runner.Execute(ctx, trigger.WorkflowID, data, &trigger.ID)
		if err != nil {
			continue
		}
		_ = s.triggers.MarkFired(ctx, trigger.ID)
		started = append(started, execution)
	}

	jsonBytes, _ := json.Marshal(map[string]interface{}{
		"matched":    len(matched),
		"executions": started,
	})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
