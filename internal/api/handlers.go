// Package api contains the HTTP handlers for the workflow service.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/kimjoonhwaan/metaworkflow/internal/engine"
	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
	"github.com/kimjoonhwaan/metaworkflow/internal/repository"
	"github.com/kimjoonhwaan/metaworkflow/internal/services"
	"github.com/kimjoonhwaan/metaworkflow/internal/triggers"
)

// Server holds the dependencies for the API server.
type Server struct {
	Workflows *services.WorkflowService
	Runner    *services.Runner
	Triggers  *triggers.Manager
	Scheduler *triggers.Scheduler
	Log       *logging.Logger
}

func NewServer(workflows *services.WorkflowService, runner *services.Runner, manager *triggers.Manager, scheduler *triggers.Scheduler, log *logging.Logger) *Server {
	return &Server{
		Workflows: workflows,
		Runner:    runner,
		Triggers:  manager,
		Scheduler: scheduler,
		Log:       log,
	}
}

// RegisterRoutes attaches all API routes to the group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.PUT("/workflows/:id", s.UpdateWorkflow)
	g.DELETE("/workflows/:id", s.DeleteWorkflow)
	g.POST("/workflows/:id/status", s.SetWorkflowStatus)
	g.GET("/workflows/:id/versions", s.ListWorkflowVersions)
	g.POST("/workflows/:id/execute", s.ExecuteWorkflow)
	g.GET("/workflows/:id/executions", s.ListWorkflowExecutions)

	g.GET("/executions/:id", s.GetExecution)
	g.GET("/executions/:id/logs", s.GetExecutionLogs)
	g.POST("/executions/:id/retry", s.RetryExecution)
	g.POST("/executions/:id/cancel", s.CancelExecution)
	g.POST("/executions/:id/approve", s.ApproveExecution)

	g.POST("/triggers", s.CreateTrigger)
	g.GET("/triggers", s.ListTriggers)
	g.GET("/triggers/:id", s.GetTrigger)
	g.PATCH("/triggers/:id", s.UpdateTrigger)
	g.DELETE("/triggers/:id", s.DeleteTrigger)
	g.POST("/triggers/:id/fire", s.FireTrigger)

	g.POST("/events", s.FireEvent)
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK).
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "metaworkflow",
		Version:   "1.0.0",
	})
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	var ve *engine.ValidationError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
