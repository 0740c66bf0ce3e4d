package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kimjoonhwaan/metaworkflow/internal/adapters"
	"github.com/kimjoonhwaan/metaworkflow/internal/expr"
	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

// State is the mutable progress of one execution as the machine walks the
// step list. The caller owns persistence; the machine only mutates this
// struct and reports per-step records through the hook.
type State struct {
	Variables    map[string]interface{}
	StepOutputs  map[string]interface{}
	StepStatuses map[string]models.ExecutionStatus
	Errors       []models.ExecutionError

	// WaitingApproval is set when an APPROVAL step halted the run.
	WaitingApproval bool
	ApprovalStepID  string
}

// NewState seeds a state with workflow variable defaults overlaid by the
// caller's input data.
func NewState(defaults, input map[string]interface{}) *State {
	vars := make(map[string]interface{}, len(defaults)+len(input))
	for k, v := range defaults {
		vars[k] = v
	}
	for k, v := range input {
		vars[k] = v
	}
	return &State{
		Variables:    vars,
		StepOutputs:  make(map[string]interface{}),
		StepStatuses: make(map[string]models.ExecutionStatus),
	}
}

// StepHook observes each finished step attempt group. Runners use it to
// persist step execution rows as the run progresses.
type StepHook func(ctx context.Context, step *models.Step, rec *models.StepExecution)

// Machine walks a workflow's steps in order, dispatching each to its adapter
// with retry, condition and approval semantics.
type Machine struct {
	registry *adapters.Registry
	binder   *Binder
	log      *logging.Logger
}

func NewMachine(registry *adapters.Registry, binder *Binder, log *logging.Logger) *Machine {
	return &Machine{registry: registry, binder: binder, log: log}
}

// Run executes steps sequentially until all finish, a step fails, an approval
// halts the run, or ctx is cancelled. Steps are sorted by Order before the
// walk. On failure or cancellation the remaining steps are left untouched;
// their statuses stay absent from st.StepStatuses.
func (m *Machine) Run(ctx context.Context, execID string, steps []models.Step, st *State, hook StepHook) error {
	sorted := make([]models.Step, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for i := range sorted {
		step := &sorted[i]

		if err := ctx.Err(); err != nil {
			return ErrCancelled
		}

		if step.Condition != "" {
			ok, err := expr.Eval(step.Condition, st.Variables)
			if err != nil {
				m.log.Warn("condition evaluation failed, skipping step",
					"step", step.Name, "condition", step.Condition, "error", err)
			}
			if err != nil || !ok {
				st.StepStatuses[step.ID] = models.StatusSkipped
				rec := &models.StepExecution{
					ID:          uuid.NewString(),
					ExecutionID: execID,
					StepID:      step.ID,
					Status:      models.StatusSkipped,
					CreatedAt:   time.Now().UTC(),
				}
				if err != nil {
					rec.ErrorMessage = fmt.Sprintf("condition evaluation failed: %v", err)
				}
				m.emit(ctx, hook, step, rec)
				continue
			}
		}

		input := m.binder.PrepareInput(step, st.Variables, st.StepOutputs)
		started := time.Now().UTC()
		rec := &models.StepExecution{
			ID:          uuid.NewString(),
			ExecutionID: execID,
			StepID:      step.ID,
			Status:      models.StatusRunning,
			InputData:   input,
			StartedAt:   &started,
			CreatedAt:   started,
		}

		result, attempts, err := m.runWithRetry(ctx, step, input)
		now := time.Now().UTC()
		rec.CompletedAt = &now
		rec.RetryCount = attempts - 1
		rec.Logs = result.Logs
		if rec.StartedAt != nil {
			rec.DurationSeconds = now.Sub(*rec.StartedAt).Seconds()
		}

		if err != nil {
			if ctx.Err() != nil {
				return ErrCancelled
			}
			rec.Status = models.StatusFailed
			rec.ErrorMessage = err.Error()
			st.StepStatuses[step.ID] = models.StatusFailed
			st.Errors = append(st.Errors, models.ExecutionError{
				StepID:    step.ID,
				StepName:  step.Name,
				Error:     err.Error(),
				Timestamp: now,
			})
			m.emit(ctx, hook, step, rec)
			return &StepError{StepID: step.ID, StepName: step.Name, Attempts: attempts, Err: err}
		}

		if result.RequiresApproval {
			rec.Status = models.StatusWaitingApproval
			rec.OutputData = result.Output
			st.StepStatuses[step.ID] = models.StatusWaitingApproval
			st.WaitingApproval = true
			st.ApprovalStepID = step.ID
			m.emit(ctx, hook, step, rec)
			return nil
		}

		rec.Status = models.StatusSuccess
		rec.OutputData = result.Output
		st.StepStatuses[step.ID] = models.StatusSuccess
		st.StepOutputs[step.ID] = result.Output
		m.binder.ApplyOutput(step, result.Output, st.Variables)
		m.emit(ctx, hook, step, rec)
	}
	return nil
}

// runWithRetry executes a single step, honoring its retry configuration.
// Backoff waits are interruptible by ctx. Returns the result, the number of
// attempts made, and the last error.
func (m *Machine) runWithRetry(ctx context.Context, step *models.Step, input map[string]interface{}) (adapters.Result, int, error) {
	adapter, err := m.registry.Get(step.Type)
	if err != nil {
		return adapters.Result{}, 1, err
	}

	maxRetries := 0
	delay := time.Duration(0)
	multiplier := 2.0
	if rc := step.RetryConfig; rc != nil {
		maxRetries = rc.MaxRetries
		delay = time.Duration(rc.DelaySeconds * float64(time.Second))
		if rc.BackoffMultiplier > 0 {
			multiplier = rc.BackoffMultiplier
		}
	}

	req := adapters.Request{Config: step.Config, Variables: input, Code: step.Code}

	var lastErr error
	var lastResult adapters.Result
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		if attempt > 0 {
			m.log.Info("retrying step", "step", step.Name, "attempt", attempt, "delay", delay.String())
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return lastResult, attempts, ctx.Err()
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * multiplier)
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout := stepTimeout(step); timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		result, err := adapter.Execute(attemptCtx, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, attempts, nil
		}
		lastErr = err
		lastResult = result
		if ctx.Err() != nil {
			return lastResult, attempts, ctx.Err()
		}
		m.log.Warn("step attempt failed", "step", step.Name, "attempt", attempt, "error", err)
	}
	return lastResult, attempts, lastErr
}

func (m *Machine) emit(ctx context.Context, hook StepHook, step *models.Step, rec *models.StepExecution) {
	if hook != nil {
		hook(ctx, step, rec)
	}
}

func stepTimeout(step *models.Step) time.Duration {
	v, ok := step.Config["timeout_seconds"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return time.Duration(n * float64(time.Second))
	case int:
		return time.Duration(n) * time.Second
	}
	return 0
}

// ValidateSteps checks that step orders are contiguous from zero and that
// every step type has a registered adapter.
func (m *Machine) ValidateSteps(steps []models.Step) error {
	seen := make(map[int]bool, len(steps))
	for i := range steps {
		s := &steps[i]
		if seen[s.Order] {
			return &ValidationError{Field: "steps", Reason: fmt.Sprintf("duplicate step order %d", s.Order)}
		}
		seen[s.Order] = true
		if _, err := m.registry.Get(s.Type); err != nil {
			return &ValidationError{Field: "steps", Reason: err.Error()}
		}
	}
	for i := 0; i < len(steps); i++ {
		if !seen[i] {
			return &ValidationError{Field: "steps", Reason: fmt.Sprintf("step orders must be contiguous from 0, missing %d", i)}
		}
	}
	return nil
}
