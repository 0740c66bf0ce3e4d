package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator for workflows, executions and
// triggers.
type Store interface {
	// Workflows.
	SaveWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error

	// Steps. ReplaceSteps swaps a workflow's full step list atomically;
	// ListSteps returns them ordered by their execution order.
	ReplaceSteps(ctx context.Context, workflowID string, steps []models.Step) error
	ListSteps(ctx context.Context, workflowID string) ([]models.Step, error)

	// Version snapshots.
	SaveVersion(ctx context.Context, v *models.WorkflowVersion) error
	ListVersions(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error)

	// Executions.
	SaveExecution(ctx context.Context, e *models.Execution) error
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	UpdateExecution(ctx context.Context, e *models.Execution) error
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error)

	// Per-step records.
	SaveStepExecution(ctx context.Context, se *models.StepExecution) error
	UpdateStepExecution(ctx context.Context, se *models.StepExecution) error
	ListStepExecutions(ctx context.Context, executionID string) ([]*models.StepExecution, error)

	// Triggers.
	SaveTrigger(ctx context.Context, tr *models.Trigger) error
	GetTrigger(ctx context.Context, id string) (*models.Trigger, error)
	ListTriggers(ctx context.Context, workflowID string) ([]*models.Trigger, error)
	UpdateTrigger(ctx context.Context, tr *models.Trigger) error
	DeleteTrigger(ctx context.Context, id string) error
	// DueTriggers returns enabled scheduled triggers whose next fire time
	// is at or before now.
	DueTriggers(ctx context.Context, now time.Time) ([]*models.Trigger, error)
	// ListEnabledByType returns all enabled triggers of one type.
	ListEnabledByType(ctx context.Context, t models.TriggerType) ([]*models.Trigger, error)
}
