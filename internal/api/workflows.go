package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

// CreateWorkflow creates a new workflow with its steps.
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	var wf models.Workflow
	if err := c.Bind(&wf); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	created, err := s.Workflows.Create(c.Request().Context(), &wf)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// ListWorkflows returns workflows, optionally filtered by status.
// (GET /api/v1/workflows?status=ACTIVE)
func (s *Server) ListWorkflows(c echo.Context) error {
	status := models.WorkflowStatus(c.QueryParam("status"))
	workflows, err := s.Workflows.List(c.Request().Context(), status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// GetWorkflow returns one workflow including its steps.
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	wf, err := s.Workflows.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

// UpdateWorkflow replaces a workflow's definition and bumps its version.
// (PUT /api/v1/workflows/:id)
func (s *Server) UpdateWorkflow(c echo.Context) error {
	var body struct {
		models.Workflow
		ChangeSummary string `json:"change_summary"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	updated, err := s.Workflows.Update(c.Request().Context(), c.Param("id"), &body.Workflow, body.ChangeSummary)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteWorkflow removes a workflow and everything attached to it.
// (DELETE /api/v1/workflows/:id)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	if err := s.Workflows.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetWorkflowStatus moves a workflow through its lifecycle.
// (POST /api/v1/workflows/:id/status)
func (s *Server) SetWorkflowStatus(c echo.Context) error {
	var body struct {
		Status models.WorkflowStatus `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	wf, err := s.Workflows.SetStatus(c.Request().Context(), c.Param("id"), body.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

// ListWorkflowVersions returns a workflow's version history, newest first.
// (GET /api/v1/workflows/:id/versions)
func (s *Server) ListWorkflowVersions(c echo.Context) error {
	versions, err := s.Workflows.Versions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, versions)
}
