package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

// CreateTrigger registers a trigger for a workflow.
// (POST /api/v1/triggers)
func (s *Server) CreateTrigger(c echo.Context) error {
	var tr models.Trigger
	if err := c.Bind(&tr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	created, err := s.Triggers.Create(c.Request().Context(), &tr)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// ListTriggers returns triggers, optionally for one workflow.
// (GET /api/v1/triggers?workflow_id=...)
func (s *Server) ListTriggers(c echo.Context) error {
	list, err := s.Triggers.List(c.Request().Context(), c.QueryParam("workflow_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, list)
}

// GetTrigger returns one trigger.
// (GET /api/v1/triggers/:id)
func (s *Server) GetTrigger(c echo.Context) error {
	tr, err := s.Triggers.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tr)
}

// UpdateTrigger patches a trigger's name, enabled flag or config.
// (PATCH /api/v1/triggers/:id)
func (s *Server) UpdateTrigger(c echo.Context) error {
	var body struct {
		Name    *string                `json:"name"`
		Enabled *bool                  `json:"enabled"`
		Config  map[string]interface{} `json:"config"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	tr, err := s.Triggers.Update(c.Request().Context(), c.Param("id"), body.Name, body.Enabled, body.Config)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tr)
}

// DeleteTrigger removes a trigger.
// (DELETE /api/v1/triggers/:id)
func (s *Server) DeleteTrigger(c echo.Context) error {
	if err := s.Triggers.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// FireTrigger dispatches one trigger immediately.
// (POST /api/v1/triggers/:id/fire)
func (s *Server) FireTrigger(c echo.Context) error {
	exec, err := s.Scheduler.FireNow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, exec)
}

// FireEvent matches enabled event triggers against an application event and
// starts the workflows of every match. The event data becomes each run's
// input.
// (POST /api/v1/events)
func (s *Server) FireEvent(c echo.Context) error {
	var body struct {
		EventType string                 `json:"event_type"`
		Data      map[string]interface{} `json:"data"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if body.EventType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event_type is required")
	}

	ctx := c.Request().Context()
	matched, err := s.Triggers.FireEvent(ctx, body.EventType, body.Data)
	if err != nil {
		return httpError(err)
	}

	executions := make([]*models.Execution, 0, len(matched))
	for _, tr := range matched {
		exec, err := s.Runner.Execute(ctx, tr.WorkflowID, body.Data, &tr.ID)
		if err != nil {
			s.Log.Error("event trigger failed to start workflow", "trigger", tr.ID, "error", err)
			continue
		}
		if err := s.Triggers.MarkFired(ctx, tr.ID); err != nil {
			s.Log.Error("failed to mark trigger fired", "trigger", tr.ID, "error", err)
		}
		executions = append(executions, exec)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"matched":    len(matched),
		"executions": executions,
	})
}

// HandleWebhook starts the workflow behind a registered webhook endpoint.
// The trigger's configured secret, if any, must match the X-Webhook-Secret
// header. Registered outside the authenticated API group.
// (POST /hooks/:endpoint)
func (s *Server) HandleWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	tr, err := s.Triggers.MatchWebhook(ctx, c.Param("endpoint"))
	if err != nil {
		return httpError(err)
	}

	if secret, _ := tr.Config["secret"].(string); secret != "" {
		got := c.Request().Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(got)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
		}
	}

	var payload map[string]interface{}
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	exec, err := s.Runner.Execute(ctx, tr.WorkflowID, payload, &tr.ID)
	if err != nil {
		return httpError(err)
	}
	if err := s.Triggers.MarkFired(ctx, tr.ID); err != nil {
		s.Log.Error("failed to mark trigger fired", "trigger", tr.ID, "error", err)
	}
	return c.JSON(http.StatusAccepted, exec)
}
