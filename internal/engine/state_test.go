package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimjoonhwaan/metaworkflow/internal/adapters"
	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

type fakeAdapter struct {
	fn    func(ctx context.Context, req adapters.Request) (adapters.Result, error)
	calls int
}

func (f *fakeAdapter) Execute(ctx context.Context, req adapters.Request) (adapters.Result, error) {
	f.calls++
	return f.fn(ctx, req)
}

func newTestMachine(t *testing.T, adapterMap map[models.StepType]adapters.Adapter) *Machine {
	t.Helper()
	reg := adapters.NewRegistry()
	for st, a := range adapterMap {
		reg.Register(st, a)
	}
	log := logging.NewLogger()
	return NewMachine(reg, NewBinder(log), log)
}

func step(id string, order int, typ models.StepType) models.Step {
	return models.Step{ID: id, Name: id, Order: order, Type: typ}
}

func TestRunSequentialSuccess(t *testing.T) {
	var order []string
	a := &fakeAdapter{fn: func(_ context.Context, req adapters.Request) (adapters.Result, error) {
		order = append(order, req.Config["tag"].(string))
		return adapters.Result{Output: map[string]interface{}{"tag": req.Config["tag"]}}, nil
	}}
	m := newTestMachine(t, map[models.StepType]adapters.Adapter{models.StepScript: a})

	steps := []models.Step{step("b", 1, models.StepScript), step("a", 0, models.StepScript)}
	steps[0].Config = map[string]interface{}{"tag": "second"}
	steps[1].Config = map[string]interface{}{"tag": "first"}

	st := NewState(nil, nil)
	err := m.Run(context.Background(), "exec-1", steps, st, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, models.StatusSuccess, st.StepStatuses["a"])
	assert.Equal(t, models.StatusSuccess, st.StepStatuses["b"])
	assert.Len(t, st.StepOutputs, 2)
}

func TestRunConditionSkipDoesNotMutate(t *testing.T) {
	a := &fakeAdapter{fn: func(context.Context, adapters.Request) (adapters.Result, error) {
		return adapters.Result{Output: map[string]interface{}{"ran": true}}, nil
	}}
	m := newTestMachine(t, map[models.StepType]adapters.Adapter{models.StepScript: a})

	s := step("s", 0, models.StepScript)
	s.Condition = "flag == true"
	s.OutputMapping = map[string]string{"result": "output"}

	st := NewState(map[string]interface{}{"flag": false}, nil)
	require.NoError(t, m.Run(context.Background(), "exec-1", []models.Step{s}, st, nil))

	assert.Equal(t, models.StatusSkipped, st.StepStatuses["s"])
	assert.Zero(t, a.calls)
	assert.NotContains(t, st.Variables, "result")
	assert.NotContains(t, st.StepOutputs, "s")
}

func TestRunConditionErrorSkips(t *testing.T) {
	a := &fakeAdapter{fn: func(context.Context, adapters.Request) (adapters.Result, error) {
		return adapters.Result{}, nil
	}}
	m := newTestMachine(t, map[models.StepType]adapters.Adapter{models.StepScript: a})

	s := step("s", 0, models.StepScript)
	s.Condition = "definitely_missing > 3"

	st := NewState(nil, nil)
	var recorded *models.StepExecution
	hook := func(_ context.Context, _ *models.Step, rec *models.StepExecution) { recorded = rec }

	require.NoError(t, m.Run(context.Background(), "exec-1", []models.Step{s}, st, hook))
	assert.Equal(t, models.StatusSkipped, st.StepStatuses["s"])
	assert.Zero(t, a.calls)
	// A broken condition is distinguishable from one that evaluated false.
	require.NotNil(t, recorded)
	assert.Contains(t, recorded.ErrorMessage, "condition evaluation failed")
}

func TestRunConditionFalseLeavesNoError(t *testing.T) {
	a := &fakeAdapter{fn: func(context.Context, adapters.Request) (adapters.Result, error) {
		return adapters.Result{}, nil
	}}
	m := newTestMachine(t, map[models.StepType]adapters.Adapter{models.StepScript: a})

	s := step("s", 0, models.StepScript)
	s.Condition = "flag == true"

	st := NewState(map[string]interface{}{"flag": false}, nil)
	var recorded *models.StepExecution
	hook := func(_ context.Context, _ *models.Step, rec *models.StepExecution) { recorded = rec }

	require.NoError(t, m.Run(context.Background(), "exec-1", []models.Step{s}, st, hook))
	require.NotNil(t, recorded)
	assert.Empty(t, recorded.ErrorMessage)
}

func TestRunFeedsPriorOutputsForward(t *testing.T) {
	var second map[string]interface{}
	a := &fakeAdapter{fn: func(_ context.Context, req adapters.Request) (adapters.Result, error) {
		if req.Config["tag"] == "second" {
			second = req.Variables
		}
		return adapters.Result{Output: map[string]interface{}{"text": "hello"}}, nil
	}}
	m := newTestMachine(t, map[models.StepType]adapters.Adapter{models.StepScript: a})

	steps := []models.Step{step("first", 0, models.StepScript), step("second", 1, models.StepScript)}
	steps[0].Config = map[string]interface{}{"tag": "first"}
	steps[1].Config = map[string]interface{}{"tag": "second"}
	steps[1].InputMapping = map[string]string{"summary": "first.text"}

	st := NewState(nil, nil)
	require.NoError(t, m.Run(context.Background(), "exec-1", steps, st, nil))

	// The second step sees the first step's output keyed by its id,
	// and can map fields out of it.
	require.NotNil(t, second)
	assert.Equal(t, map[string]interface{}{"text": "hello"}, second["first"])
	assert.Equal(t, "hello", second["summary"])
}

func TestRunFailureStopsAndRecordsError(t *testing.T) {
	fail := &fakeAdapter{fn: func(context.Context, adapters.Request) (adapters.Result, error) {
		return adapters.Result{}, errors.New("boom")
	}}
	never := &fakeAdapter{fn: func(context.Context, adapters.Request) (adapters.Result, error) {
		return adapters.Result{}, nil
	}}
	m := newTestMachine(t, map[models.StepType]adapters.Adapter{
		models.StepScript:  fail,
		models.StepAPICall: never,
	})

	steps := []models.Step{step("bad", 0, models.StepScript), step("after", 1, models.StepAPICall)}
	st := NewState(nil, nil)
	err := m.Run(context.Background(), "exec-1", steps, st, nil)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "bad", stepErr.StepID)
	assert.Equal(t, models.StatusFailed, st.StepStatuses["bad"])
	assert.NotContains(t, st.StepStatuses, "after")
	assert.Zero(t, never.calls)
	require.Len(t, st.Errors, 1)
	assert.Equal(t, "boom", st.Errors[0].Error)
}

func TestRunRetriesWithBackoff(t *testing.T) {
	attempts := 0
	a := &fakeAdapter{fn: func(context.Context, adapters.Request) (adapters.Result, error) {
		attempts++
		if attempts < 3 {
			return adapters.Result{}, errors.New("transient")
		}
		return adapters.Result{Output: map[string]interface{}{"ok": true}}, nil
	}}
	m := newTestMachine(t, map[models.StepType]adapters.Adapter{models.StepAPICall: a})

	s := step("s", 0, models.StepAPICall)
	s.RetryConfig = &models.RetryConfig{MaxRetries: 3, DelaySeconds: 0.01, BackoffMultiplier: 2}

	st := NewState(nil, nil)
	var recorded *models.StepExecution
	hook := func(_ context.Context, _ *models.Step, rec *models.StepExecution) { recorded = rec }

	require.NoError(t, m.Run(context.Background(), "exec-1", []models.Step{s}, st, hook))
	assert.Equal(t, 3, attempts)
	require.NotNil(t, recorded)
	assert.Equal(t, 2, recorded.RetryCount)
	assert.Equal(t, models.StatusSuccess, recorded.Status)
}

func TestRunRetryExhaustion(t *testing.T) {
	a := &fakeAdapter{fn: func(context.Context, adapters.Request) (adapters.Result, error) {
		return adapters.Result{}, errors.New("always")
	}}
	m := newTestMachine(t, map[models.StepType]adapters.Adapter{models.StepAPICall: a})

	s := step("s", 0, models.StepAPICall)
	s.RetryConfig = &models.RetryConfig{MaxRetries: 2, DelaySeconds: 0.001}

	st := NewState(nil, nil)
	err := m.Run(context.Background(), "exec-1", []models.Step{s}, st, nil)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 3, stepErr.Attempts)
	assert.Equal(t, 3, a.calls)
}

func TestRunApprovalHalts(t *testing.T) {
	approval := &fakeAdapter{fn: func(context.Context, adapters.Request) (adapters.Result, error) {
		return adapters.Result{
			Output:           map[string]interface{}{"requiresApproval": true},
			RequiresApproval: true,
		}, nil
	}}
	after := &fakeAdapter{fn: func(context.Context, adapters.Request) (adapters.Result, error) {
		return adapters.Result{}, nil
	}}
	m := newTestMachine(t, map[models.StepType]adapters.Adapter{
		models.StepApproval: approval,
		models.StepScript:   after,
	})

	steps := []models.Step{step("gate", 0, models.StepApproval), step("next", 1, models.StepScript)}
	st := NewState(nil, nil)
	require.NoError(t, m.Run(context.Background(), "exec-1", steps, st, nil))

	assert.True(t, st.WaitingApproval)
	assert.Equal(t, "gate", st.ApprovalStepID)
	assert.Equal(t, models.StatusWaitingApproval, st.StepStatuses["gate"])
	assert.Zero(t, after.calls)
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeAdapter{fn: func(context.Context, adapters.Request) (adapters.Result, error) {
		cancel()
		return adapters.Result{Output: map[string]interface{}{}}, nil
	}}
	m := newTestMachine(t, map[models.StepType]adapters.Adapter{models.StepScript: a})

	steps := []models.Step{step("a", 0, models.StepScript), step("b", 1, models.StepScript)}
	st := NewState(nil, nil)
	err := m.Run(ctx, "exec-1", steps, st, nil)

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, a.calls)
}

func TestRunCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeAdapter{fn: func(context.Context, adapters.Request) (adapters.Result, error) {
		cancel()
		return adapters.Result{}, errors.New("fail then cancel")
	}}
	m := newTestMachine(t, map[models.StepType]adapters.Adapter{models.StepScript: a})

	s := step("s", 0, models.StepScript)
	s.RetryConfig = &models.RetryConfig{MaxRetries: 5, DelaySeconds: 30}

	st := NewState(nil, nil)
	start := time.Now()
	err := m.Run(ctx, "exec-1", []models.Step{s}, st, nil)

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunUnknownStepType(t *testing.T) {
	m := newTestMachine(t, nil)
	st := NewState(nil, nil)
	err := m.Run(context.Background(), "exec-1", []models.Step{step("s", 0, models.StepScript)}, st, nil)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Contains(t, stepErr.Error(), "no adapter registered")
}

func TestNewStateOverlaysInput(t *testing.T) {
	st := NewState(
		map[string]interface{}{"env": "prod", "retries": 3},
		map[string]interface{}{"env": "staging"},
	)
	assert.Equal(t, "staging", st.Variables["env"])
	assert.Equal(t, 3, st.Variables["retries"])
}

func TestValidateSteps(t *testing.T) {
	a := &fakeAdapter{fn: func(context.Context, adapters.Request) (adapters.Result, error) {
		return adapters.Result{}, nil
	}}
	m := newTestMachine(t, map[models.StepType]adapters.Adapter{models.StepScript: a})

	require.NoError(t, m.ValidateSteps([]models.Step{
		step("a", 0, models.StepScript), step("b", 1, models.StepScript),
	}))

	err := m.ValidateSteps([]models.Step{step("a", 0, models.StepScript), step("b", 2, models.StepScript)})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	err = m.ValidateSteps([]models.Step{step("a", 0, models.StepScript), step("b", 0, models.StepScript)})
	require.ErrorAs(t, err, &ve)

	err = m.ValidateSteps([]models.Step{step("a", 0, models.StepLLMCall)})
	require.ErrorAs(t, err, &ve)
}
