package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kimjoonhwaan/metaworkflow/internal/engine"
	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
	"github.com/kimjoonhwaan/metaworkflow/internal/repository"
	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

var knownStepTypes = map[models.StepType]bool{
	models.StepLLMCall:       true,
	models.StepAPICall:       true,
	models.StepScript:        true,
	models.StepCondition:     true,
	models.StepApproval:      true,
	models.StepNotification:  true,
	models.StepDataTransform: true,
}

// WorkflowService owns workflow definitions: CRUD, step validation and
// version snapshots.
type WorkflowService struct {
	store repository.Store
	log   *logging.Logger
}

func NewWorkflowService(store repository.Store, log *logging.Logger) *WorkflowService {
	return &WorkflowService{store: store, log: log}
}

// Create validates and persists a new workflow plus its first version
// snapshot.
func (s *WorkflowService) Create(ctx context.Context, wf *models.Workflow) (*models.Workflow, error) {
	if wf.Name == "" {
		return nil, &engine.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if err := validateStepList(wf.Steps); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	wf.ID = uuid.NewString()
	if wf.Status == "" {
		wf.Status = models.WorkflowDraft
	}
	wf.Version = 1
	wf.CreatedAt = now
	wf.UpdatedAt = now
	for i := range wf.Steps {
		wf.Steps[i].ID = uuid.NewString()
		wf.Steps[i].WorkflowID = wf.ID
		wf.Steps[i].CreatedAt = now
		wf.Steps[i].UpdatedAt = now
	}

	if err := s.store.SaveWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	if err := s.store.ReplaceSteps(ctx, wf.ID, wf.Steps); err != nil {
		return nil, err
	}
	if err := s.snapshot(ctx, wf, "initial version"); err != nil {
		return nil, err
	}
	s.log.Info("workflow created", "id", wf.ID, "name", wf.Name, "steps", len(wf.Steps))
	return wf, nil
}

func (s *WorkflowService) Get(ctx context.Context, id string) (*models.Workflow, error) {
	return s.store.GetWorkflow(ctx, id)
}

func (s *WorkflowService) List(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error) {
	return s.store.ListWorkflows(ctx, status)
}

// Update replaces a workflow's definition, bumps its version and records a
// snapshot.
func (s *WorkflowService) Update(ctx context.Context, id string, updated *models.Workflow, changeSummary string) (*models.Workflow, error) {
	existing, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validateStepList(updated.Steps); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	existing.Name = updated.Name
	existing.Description = updated.Description
	if updated.Status != "" {
		existing.Status = updated.Status
	}
	existing.Tags = updated.Tags
	existing.Variables = updated.Variables
	existing.Metadata = updated.Metadata
	existing.Version++
	existing.UpdatedAt = now

	steps := updated.Steps
	for i := range steps {
		if steps[i].ID == "" {
			steps[i].ID = uuid.NewString()
		}
		steps[i].WorkflowID = id
		if steps[i].CreatedAt.IsZero() {
			steps[i].CreatedAt = now
		}
		steps[i].UpdatedAt = now
	}
	existing.Steps = steps

	if err := s.store.UpdateWorkflow(ctx, existing); err != nil {
		return nil, err
	}
	if err := s.store.ReplaceSteps(ctx, id, steps); err != nil {
		return nil, err
	}
	if changeSummary == "" {
		changeSummary = fmt.Sprintf("version %d", existing.Version)
	}
	if err := s.snapshot(ctx, existing, changeSummary); err != nil {
		return nil, err
	}
	s.log.Info("workflow updated", "id", id, "version", existing.Version)
	return existing, nil
}

func (s *WorkflowService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteWorkflow(ctx, id)
}

// SetStatus moves a workflow through its lifecycle (draft/active/paused/
// archived).
func (s *WorkflowService) SetStatus(ctx context.Context, id string, status models.WorkflowStatus) (*models.Workflow, error) {
	switch status {
	case models.WorkflowDraft, models.WorkflowActive, models.WorkflowPaused, models.WorkflowArchived:
	default:
		return nil, &engine.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	wf, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	wf.Status = status
	wf.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *WorkflowService) Versions(ctx context.Context, id string) ([]*models.WorkflowVersion, error) {
	return s.store.ListVersions(ctx, id)
}

// snapshot records the workflow's current definition as an immutable
// version row.
func (s *WorkflowService) snapshot(ctx context.Context, wf *models.Workflow, summary string) error {
	raw, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	var definition map[string]interface{}
	if err := json.Unmarshal(raw, &definition); err != nil {
		return err
	}
	return s.store.SaveVersion(ctx, &models.WorkflowVersion{
		ID:            uuid.NewString(),
		WorkflowID:    wf.ID,
		Version:       wf.Version,
		Name:          wf.Name,
		Description:   wf.Description,
		Definition:    definition,
		ChangeSummary: summary,
		CreatedAt:     time.Now().UTC(),
	})
}

// validateStepList rejects step lists whose orders are not contiguous from
// zero, whose types are unknown, or whose script steps carry no code.
func validateStepList(steps []models.Step) error {
	seen := make(map[int]bool, len(steps))
	for i := range steps {
		st := &steps[i]
		if st.Name == "" {
			return &engine.ValidationError{Field: "steps", Reason: fmt.Sprintf("step %d has no name", i)}
		}
		if !knownStepTypes[st.Type] {
			return &engine.ValidationError{Field: "steps", Reason: fmt.Sprintf("unknown step type %q", st.Type)}
		}
		if st.Type == models.StepScript && st.Code == "" {
			if _, ok := st.Config["code"]; !ok {
				return &engine.ValidationError{Field: "steps", Reason: fmt.Sprintf("script step %q has no code", st.Name)}
			}
		}
		if seen[st.Order] {
			return &engine.ValidationError{Field: "steps", Reason: fmt.Sprintf("duplicate step order %d", st.Order)}
		}
		seen[st.Order] = true
	}
	for i := 0; i < len(steps); i++ {
		if !seen[i] {
			return &engine.ValidationError{Field: "steps", Reason: fmt.Sprintf("step orders must be contiguous from 0, missing %d", i)}
		}
	}
	return nil
}
