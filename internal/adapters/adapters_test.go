package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get(models.StepScript)
	assert.Error(t, err)

	reg.Register(models.StepScript, NewApprovalAdapter())
	a, err := reg.Get(models.StepScript)
	require.NoError(t, err)
	assert.NotNil(t, a)
	assert.Len(t, reg.Types(), 1)
}

type fakeModel struct {
	system, prompt string
	response       string
	err            error
}

func (f *fakeModel) Complete(_ context.Context, system, prompt string) (string, error) {
	f.system, f.prompt = system, prompt
	return f.response, f.err
}

func TestLLMAdapterInterpolatesPrompt(t *testing.T) {
	client := &fakeModel{response: "summary text"}
	a := NewLLMAdapter(client, "claude-sonnet-4-5")

	res, err := a.Execute(context.Background(), Request{
		Config: map[string]interface{}{
			"prompt":        "Summarize {topic} in one line. Keep {unknown} literal.",
			"system_prompt": "You are terse.",
		},
		Variables: map[string]interface{}{"topic": "Go generics"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Summarize Go generics in one line. Keep {unknown} literal.", client.prompt)
	assert.Equal(t, "You are terse.", client.system)
	assert.Equal(t, "summary text", res.Output["response"])
	assert.Equal(t, "claude-sonnet-4-5", res.Output["model"])
}

func TestLLMAdapterErrors(t *testing.T) {
	a := NewLLMAdapter(&fakeModel{err: errors.New("rate limited")}, "m")
	_, err := a.Execute(context.Background(), Request{
		Config: map[string]interface{}{"prompt": "hi"},
	})
	assert.Error(t, err)

	_, err = a.Execute(context.Background(), Request{Config: map[string]interface{}{}})
	assert.Error(t, err)
}

func TestConditionAdapter(t *testing.T) {
	a := NewConditionAdapter(logging.NewLogger())

	res, err := a.Execute(context.Background(), Request{
		Config:    map[string]interface{}{"condition": "score >= 60"},
		Variables: map[string]interface{}{"score": float64(75)},
	})
	require.NoError(t, err)
	assert.Equal(t, true, res.Output["condition_met"])

	// A broken expression is false, not a step failure.
	res, err = a.Execute(context.Background(), Request{
		Config: map[string]interface{}{"condition": "nonsense ==="},
	})
	require.NoError(t, err)
	assert.Equal(t, false, res.Output["condition_met"])
}

func TestApprovalAdapter(t *testing.T) {
	a := NewApprovalAdapter()
	res, err := a.Execute(context.Background(), Request{
		Config:    map[string]interface{}{"message": "Release {version}?"},
		Variables: map[string]interface{}{"version": "1.2.0"},
	})
	require.NoError(t, err)
	assert.True(t, res.RequiresApproval)
	assert.Equal(t, "Release 1.2.0?", res.Output["approval_message"])
}

type fakeEmail struct {
	sent []EmailMessage
	err  error
}

func (f *fakeEmail) Send(_ context.Context, msg EmailMessage) error {
	f.sent = append(f.sent, msg)
	return f.err
}

type fakeSlack struct {
	messages []string
	err      error
}

func (f *fakeSlack) Post(_ context.Context, message string) error {
	f.messages = append(f.messages, message)
	return f.err
}

func TestNotificationAdapterEmail(t *testing.T) {
	email := &fakeEmail{}
	a := NewNotificationAdapter(email, nil, logging.NewLogger())

	res, err := a.Execute(context.Background(), Request{
		Config: map[string]interface{}{
			"type":    "email",
			"to":      []interface{}{"ops@example.com"},
			"cc":      "lead@example.com",
			"subject": "Run {run_id} finished",
			"message": "All {count} steps passed.",
			"html":    true,
		},
		Variables: map[string]interface{}{"run_id": "r-9", "count": 4},
	})

	require.NoError(t, err)
	assert.Equal(t, true, res.Output["notification_sent"])
	require.Len(t, email.sent, 1)
	assert.Equal(t, []string{"ops@example.com"}, email.sent[0].To)
	assert.Equal(t, []string{"lead@example.com"}, email.sent[0].CC)
	assert.Equal(t, "Run r-9 finished", email.sent[0].Subject)
	assert.Equal(t, "All 4 steps passed.", email.sent[0].Body)
	assert.True(t, email.sent[0].HTML)
}

func TestNotificationAdapterTransportFailureNotFatal(t *testing.T) {
	slack := &fakeSlack{err: errors.New("webhook 404")}
	a := NewNotificationAdapter(nil, slack, logging.NewLogger())

	res, err := a.Execute(context.Background(), Request{
		Config: map[string]interface{}{"type": "slack", "message": "hi"},
	})

	require.NoError(t, err)
	assert.Equal(t, false, res.Output["notification_sent"])
	assert.Contains(t, res.Output["error"], "webhook 404")
}

func TestNotificationAdapterLogChannel(t *testing.T) {
	a := NewNotificationAdapter(nil, nil, logging.NewLogger())
	res, err := a.Execute(context.Background(), Request{
		Config: map[string]interface{}{"message": "plain log"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, res.Output["notification_sent"])
	assert.Equal(t, "log", res.Output["channel"])
}

func TestTransformAdapterExtract(t *testing.T) {
	a := NewTransformAdapter(logging.NewLogger())
	res, err := a.Execute(context.Background(), Request{
		Config: map[string]interface{}{
			"transform_type": "extract",
			"expression":     "user.name",
			"input_data":     map[string]interface{}{"user": map[string]interface{}{"name": "kim"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "kim", res.Output["result"])
}

func TestTransformAdapterMap(t *testing.T) {
	a := NewTransformAdapter(logging.NewLogger())
	res, err := a.Execute(context.Background(), Request{
		Config: map[string]interface{}{
			"transform_type": "map",
			"mapping":        map[string]interface{}{"id": "user.id"},
		},
		Variables: map[string]interface{}{"user": map[string]interface{}{"id": 7}},
	})
	require.NoError(t, err)
	result := res.Output["result"].(map[string]interface{})
	assert.Equal(t, 7, result["id"])
}

func TestTransformAdapterPassThrough(t *testing.T) {
	a := NewTransformAdapter(logging.NewLogger())
	vars := map[string]interface{}{"a": 1}
	res, err := a.Execute(context.Background(), Request{
		Config:    map[string]interface{}{"transform_type": "jq"},
		Variables: vars,
	})
	require.NoError(t, err)
	assert.Equal(t, vars, res.Output["result"])
}

func TestInterpolate(t *testing.T) {
	vars := map[string]interface{}{"a": "x", "n": 3}
	assert.Equal(t, "x and 3", interpolate("{a} and {n}", vars))
	assert.Equal(t, "{missing} stays", interpolate("{missing} stays", vars))
	assert.Equal(t, "no placeholders", interpolate("no placeholders", vars))
	assert.Equal(t, "dangling {", interpolate("dangling {", vars))
}
