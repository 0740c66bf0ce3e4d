package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// ExecuteWorkflow starts a new run and returns the pending execution.
// (POST /api/v1/workflows/:id/execute)
func (s *Server) ExecuteWorkflow(c echo.Context) error {
	var body struct {
		Input map[string]interface{} `json:"input"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	exec, err := s.Runner.Execute(c.Request().Context(), c.Param("id"), body.Input, nil)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, exec)
}

// ListWorkflowExecutions returns recent executions of a workflow.
// (GET /api/v1/workflows/:id/executions?limit=50)
func (s *Server) ListWorkflowExecutions(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	execs, err := s.Runner.ListExecutions(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, execs)
}

// GetExecution returns one execution.
// (GET /api/v1/executions/:id)
func (s *Server) GetExecution(c echo.Context) error {
	exec, err := s.Runner.GetExecution(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, exec)
}

// GetExecutionLogs returns an execution together with its step records.
// (GET /api/v1/executions/:id/logs)
func (s *Server) GetExecutionLogs(c echo.Context) error {
	logs, err := s.Runner.GetLogs(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, logs)
}

// RetryExecution re-runs a failed or cancelled execution from scratch with
// its original input. The retry is a brand new execution.
// (POST /api/v1/executions/:id/retry)
func (s *Server) RetryExecution(c echo.Context) error {
	exec, err := s.Runner.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, exec)
}

// CancelExecution stops a pending, running or approval-blocked execution.
// (POST /api/v1/executions/:id/cancel)
func (s *Server) CancelExecution(c echo.Context) error {
	exec, err := s.Runner.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, exec)
}

// ApproveExecution resolves an execution waiting on an approval step.
// (POST /api/v1/executions/:id/approve)
func (s *Server) ApproveExecution(c echo.Context) error {
	var body struct {
		Approved bool `json:"approved"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	exec, err := s.Runner.Approve(c.Request().Context(), c.Param("id"), body.Approved)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, exec)
}
