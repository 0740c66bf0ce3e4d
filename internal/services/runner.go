package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kimjoonhwaan/metaworkflow/internal/engine"
	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
	"github.com/kimjoonhwaan/metaworkflow/internal/repository"
	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

// ExecutionLogs bundles an execution with its per-step records.
type ExecutionLogs struct {
	Execution *models.Execution       `json:"execution"`
	Steps     []*models.StepExecution `json:"steps"`
}

// Runner drives executions end to end: it starts runs, persists progress
// after every step, and exposes retry, cancel and approve.
type Runner struct {
	store   repository.Store
	machine *engine.Machine
	log     *logging.Logger

	mu      sync.Mutex
	handles map[string]*runHandle
	wg      sync.WaitGroup

	started   metric.Int64Counter
	completed metric.Int64Counter
}

// runHandle tracks one in-flight run: cancel aborts it, done is closed
// after the terminal state has been persisted.
type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(store repository.Store, machine *engine.Machine, log *logging.Logger) *Runner {
	meter := otel.Meter("metaworkflow/runner")
	started, _ := meter.Int64Counter("workflow_executions_started_total")
	completed, _ := meter.Int64Counter("workflow_executions_completed_total")
	return &Runner{
		store:     store,
		machine:   machine,
		log:       log,
		handles:   make(map[string]*runHandle),
		started:   started,
		completed: completed,
	}
}

// Execute starts a new run of the workflow and returns the pending
// execution. The run itself proceeds in the background; progress is visible
// through GetExecution/GetLogs.
func (r *Runner) Execute(ctx context.Context, workflowID string, input map[string]interface{}, triggerID *string) (*models.Execution, error) {
	wf, steps, exec, err := r.prepare(ctx, workflowID, input, triggerID)
	if err != nil {
		return nil, err
	}
	r.wg.Add(1)
	go r.drive(wf, steps, exec)
	return exec, nil
}

// ExecuteSync runs the workflow in the caller's goroutine and returns the
// finished execution. Cancel still works on it through the shared handle
// table. The scheduler uses this so its worker pool bounds how many
// triggered runs execute at once.
func (r *Runner) ExecuteSync(ctx context.Context, workflowID string, input map[string]interface{}, triggerID *string) (*models.Execution, error) {
	wf, steps, exec, err := r.prepare(ctx, workflowID, input, triggerID)
	if err != nil {
		return nil, err
	}
	r.wg.Add(1)
	r.drive(wf, steps, exec)
	return exec, nil
}

// prepare validates the workflow and persists the PENDING execution record.
func (r *Runner) prepare(ctx context.Context, workflowID string, input map[string]interface{}, triggerID *string) (*models.Workflow, []models.Step, *models.Execution, error) {
	wf, err := r.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, nil, err
	}
	if wf.Status == models.WorkflowArchived {
		return nil, nil, nil, &engine.ValidationError{Field: "status", Reason: "archived workflows cannot run"}
	}
	steps, err := r.store.ListSteps(ctx, workflowID)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(steps) == 0 {
		return nil, nil, nil, &engine.ValidationError{Field: "steps", Reason: "workflow has no steps"}
	}
	if err := r.machine.ValidateSteps(steps); err != nil {
		return nil, nil, nil, err
	}

	exec := &models.Execution{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		TriggerID:  triggerID,
		Status:     models.StatusPending,
		InputData:  input,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.SaveExecution(ctx, exec); err != nil {
		return nil, nil, nil, err
	}
	r.started.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_id", workflowID)))
	return wf, steps, exec, nil
}

// drive registers the run's handle, walks the state machine, and releases
// the handle once the terminal state is persisted. Callers must r.wg.Add(1)
// before invoking.
func (r *Runner) drive(wf *models.Workflow, steps []models.Step, exec *models.Execution) {
	defer r.wg.Done()

	runCtx, cancel := context.WithCancel(context.Background())
	h := &runHandle{cancel: cancel, done: make(chan struct{})}
	r.mu.Lock()
	r.handles[exec.ID] = h
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.handles, exec.ID)
		r.mu.Unlock()
		cancel()
		close(h.done)
	}()

	r.run(runCtx, wf, steps, exec)
}

// run walks the state machine and persists the outcome. runCtx cancellation
// marks the execution CANCELLED.
func (r *Runner) run(runCtx context.Context, wf *models.Workflow, steps []models.Step, exec *models.Execution) {
	// Store writes use a context independent of the run so a cancelled
	// execution can still record its final state.
	storeCtx, cancelStore := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStore()

	started := time.Now().UTC()
	exec.Status = models.StatusRunning
	exec.StartedAt = &started
	if err := r.store.UpdateExecution(storeCtx, exec); err != nil {
		r.log.Error("failed to mark execution running", "execution", exec.ID, "error", err)
	}

	// One PENDING record per step up front, so a crash mid-run leaves a
	// complete trail. Steps that never ran stay PENDING.
	pending := make(map[string]*models.StepExecution, len(steps))
	for i := range steps {
		rec := &models.StepExecution{
			ID:          uuid.NewString(),
			ExecutionID: exec.ID,
			StepID:      steps[i].ID,
			Status:      models.StatusPending,
			CreatedAt:   time.Now().UTC(),
		}
		if err := r.store.SaveStepExecution(storeCtx, rec); err != nil {
			r.log.Error("failed to create step execution", "execution", exec.ID, "step", steps[i].Name, "error", err)
		}
		pending[steps[i].ID] = rec
	}

	st := engine.NewState(wf.Variables, exec.InputData)
	hook := func(_ context.Context, step *models.Step, rec *models.StepExecution) {
		if pre, ok := pending[step.ID]; ok {
			rec.ID = pre.ID
			rec.CreatedAt = pre.CreatedAt
		}
		if err := r.store.UpdateStepExecution(storeCtx, rec); err != nil {
			r.log.Error("failed to save step execution", "execution", exec.ID, "step", step.Name, "error", err)
		}
	}

	runErr := r.machine.Run(runCtx, exec.ID, steps, st, hook)

	now := time.Now().UTC()
	exec.Variables = st.Variables
	exec.StepOutputs = st.StepOutputs
	exec.Errors = st.Errors

	switch {
	case errors.Is(runErr, engine.ErrCancelled):
		exec.Status = models.StatusCancelled
		exec.CompletedAt = &now
	case runErr != nil:
		exec.Status = models.StatusFailed
		exec.ErrorMessage = runErr.Error()
		var stepErr *engine.StepError
		if errors.As(runErr, &stepErr) {
			exec.ErrorStepID = stepErr.StepID
		}
		exec.CompletedAt = &now
	case st.WaitingApproval:
		exec.Status = models.StatusWaitingApproval
	default:
		exec.Status = models.StatusSuccess
		exec.CompletedAt = &now
	}
	if exec.CompletedAt != nil && exec.StartedAt != nil {
		exec.DurationSeconds = exec.CompletedAt.Sub(*exec.StartedAt).Seconds()
	}

	if err := r.store.UpdateExecution(storeCtx, exec); err != nil {
		r.log.Error("failed to persist execution result", "execution", exec.ID, "error", err)
	}
	r.completed.Add(storeCtx, 1, metric.WithAttributes(
		attribute.String("workflow_id", exec.WorkflowID),
		attribute.String("status", string(exec.Status)),
	))
	r.log.Info("execution finished", "execution", exec.ID, "status", exec.Status)
}

func (r *Runner) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	return r.store.GetExecution(ctx, id)
}

func (r *Runner) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	return r.store.ListExecutions(ctx, workflowID, limit)
}

// GetLogs returns the execution and its step records.
func (r *Runner) GetLogs(ctx context.Context, id string) (*ExecutionLogs, error) {
	exec, err := r.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := r.store.ListStepExecutions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ExecutionLogs{Execution: exec, Steps: steps}, nil
}

// Cancel stops a pending, running or approval-blocked execution.
func (r *Runner) Cancel(ctx context.Context, id string) (*models.Execution, error) {
	exec, err := r.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	switch exec.Status {
	case models.StatusPending, models.StatusRunning, models.StatusWaitingApproval:
	default:
		return nil, fmt.Errorf("%w: cannot cancel execution in status %s", engine.ErrInvalidState, exec.Status)
	}

	r.mu.Lock()
	h, running := r.handles[id]
	r.mu.Unlock()
	if running {
		// The run goroutine records the terminal state; wait for it so
		// the caller sees the CANCELLED record, not a stale RUNNING one.
		h.cancel()
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return r.store.GetExecution(ctx, id)
	}

	now := time.Now().UTC()
	exec.Status = models.StatusCancelled
	exec.CompletedAt = &now
	if exec.StartedAt != nil {
		exec.DurationSeconds = now.Sub(*exec.StartedAt).Seconds()
	}
	if err := r.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// Approve resolves an execution halted at an approval step. Approval marks
// the run SUCCESS; there is no resume of later steps. Rejection cancels it.
func (r *Runner) Approve(ctx context.Context, id string, approved bool) (*models.Execution, error) {
	exec, err := r.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status != models.StatusWaitingApproval {
		return nil, fmt.Errorf("%w: execution is %s, not %s", engine.ErrInvalidState, exec.Status, models.StatusWaitingApproval)
	}

	now := time.Now().UTC()
	if approved {
		exec.Status = models.StatusSuccess
	} else {
		exec.Status = models.StatusCancelled
		exec.ErrorMessage = "approval rejected"
	}
	exec.CompletedAt = &now
	if exec.StartedAt != nil {
		exec.DurationSeconds = now.Sub(*exec.StartedAt).Seconds()
	}
	if err := r.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	r.log.Info("approval resolved", "execution", id, "approved", approved)
	return exec, nil
}

// Retry re-runs the workflow from scratch with the original input. Only
// failed or cancelled executions can be retried.
func (r *Runner) Retry(ctx context.Context, id string) (*models.Execution, error) {
	exec, err := r.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	switch exec.Status {
	case models.StatusFailed, models.StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: cannot retry execution in status %s", engine.ErrInvalidState, exec.Status)
	}
	return r.Execute(ctx, exec.WorkflowID, exec.InputData, exec.TriggerID)
}

// Close cancels every in-flight execution and waits for their goroutines.
func (r *Runner) Close() {
	r.mu.Lock()
	for _, h := range r.handles {
		h.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
