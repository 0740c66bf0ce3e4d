package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

// MemoryStore keeps everything in process memory. Used by tests and the
// dev-mode server when no database is configured.
type MemoryStore struct {
	mu             sync.RWMutex
	workflows      map[string]*models.Workflow
	steps          map[string][]models.Step // workflow id -> ordered steps
	versions       map[string][]*models.WorkflowVersion
	executions     map[string]*models.Execution
	stepExecutions map[string][]*models.StepExecution
	triggers       map[string]*models.Trigger
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:      make(map[string]*models.Workflow),
		steps:          make(map[string][]models.Step),
		versions:       make(map[string][]*models.WorkflowVersion),
		executions:     make(map[string]*models.Execution),
		stepExecutions: make(map[string][]*models.StepExecution),
		triggers:       make(map[string]*models.Trigger),
	}
}

func (s *MemoryStore) SaveWorkflow(_ context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *wf
	cp.Steps = append([]models.Step(nil), s.steps[id]...)
	return &cp, nil
}

func (s *MemoryStore) ListWorkflows(_ context.Context, status models.WorkflowStatus) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Workflow
	for _, wf := range s.workflows {
		if status != "" && wf.Status != status {
			continue
		}
		cp := *wf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateWorkflow(_ context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return ErrNotFound
	}
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(s.workflows, id)
	delete(s.steps, id)
	delete(s.versions, id)
	for tid, tr := range s.triggers {
		if tr.WorkflowID == id {
			delete(s.triggers, tid)
		}
	}
	return nil
}

func (s *MemoryStore) ReplaceSteps(_ context.Context, workflowID string, steps []models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]models.Step(nil), steps...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Order < cp[j].Order })
	s.steps[workflowID] = cp
	return nil
}

func (s *MemoryStore) ListSteps(_ context.Context, workflowID string) ([]models.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Step(nil), s.steps[workflowID]...), nil
}

func (s *MemoryStore) SaveVersion(_ context.Context, v *models.WorkflowVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.versions[v.WorkflowID] = append(s.versions[v.WorkflowID], &cp)
	return nil
}

func (s *MemoryStore) ListVersions(_ context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]*models.WorkflowVersion(nil), s.versions[workflowID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (s *MemoryStore) SaveExecution(_ context.Context, e *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.executions[e.ID] = &cp
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) UpdateExecution(_ context.Context, e *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[e.ID]; !ok {
		return ErrNotFound
	}
	cp := *e
	s.executions[e.ID] = &cp
	return nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*models.Execution
	for _, e := range s.executions {
		if workflowID != "" && e.WorkflowID != workflowID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveStepExecution(_ context.Context, se *models.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *se
	s.stepExecutions[se.ExecutionID] = append(s.stepExecutions[se.ExecutionID], &cp)
	return nil
}

func (s *MemoryStore) UpdateStepExecution(_ context.Context, se *models.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.stepExecutions[se.ExecutionID]
	for i, existing := range recs {
		if existing.ID == se.ID {
			cp := *se
			recs[i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) ListStepExecutions(_ context.Context, executionID string) ([]*models.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.StepExecution, 0, len(s.stepExecutions[executionID]))
	for _, se := range s.stepExecutions[executionID] {
		cp := *se
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveTrigger(_ context.Context, tr *models.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tr
	s.triggers[tr.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTrigger(_ context.Context, id string) (*models.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tr, ok := s.triggers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tr
	return &cp, nil
}

func (s *MemoryStore) ListTriggers(_ context.Context, workflowID string) ([]*models.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Trigger
	for _, tr := range s.triggers {
		if workflowID != "" && tr.WorkflowID != workflowID {
			continue
		}
		cp := *tr
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateTrigger(_ context.Context, tr *models.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[tr.ID]; !ok {
		return ErrNotFound
	}
	cp := *tr
	s.triggers[tr.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteTrigger(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[id]; !ok {
		return ErrNotFound
	}
	delete(s.triggers, id)
	return nil
}

func (s *MemoryStore) DueTriggers(_ context.Context, now time.Time) ([]*models.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Trigger
	for _, tr := range s.triggers {
		if !tr.Enabled || tr.Type != models.TriggerScheduled || tr.NextFireAt == nil {
			continue
		}
		if tr.NextFireAt.After(now) {
			continue
		}
		cp := *tr
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextFireAt.Before(*out[j].NextFireAt) })
	return out, nil
}

func (s *MemoryStore) ListEnabledByType(_ context.Context, t models.TriggerType) ([]*models.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Trigger
	for _, tr := range s.triggers {
		if !tr.Enabled || tr.Type != t {
			continue
		}
		cp := *tr
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
