package adapters

import (
	"context"
	"fmt"
	"strings"
)

// ModelClient is the slice of an LLM provider the adapter needs.
type ModelClient interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// LLMAdapter renders a prompt template against the step's variables and
// sends it to the configured model client.
type LLMAdapter struct {
	client ModelClient
	model  string
}

func NewLLMAdapter(client ModelClient, defaultModel string) *LLMAdapter {
	return &LLMAdapter{client: client, model: defaultModel}
}

func (a *LLMAdapter) Execute(ctx context.Context, req Request) (Result, error) {
	prompt, _ := req.Config["prompt"].(string)
	if prompt == "" {
		return Result{}, fmt.Errorf("llm step requires a prompt")
	}
	system, _ := req.Config["system_prompt"].(string)

	prompt = interpolate(prompt, req.Variables)
	system = interpolate(system, req.Variables)

	model := a.model
	if m, ok := req.Config["model"].(string); ok && m != "" {
		model = m
	}

	response, err := a.client.Complete(ctx, system, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("llm call: %w", err)
	}
	return Result{Output: map[string]interface{}{
		"response": response,
		"prompt":   prompt,
		"model":    model,
	}}, nil
}

// interpolate replaces {name} placeholders with variable values. Unknown
// placeholders are left as-is so a literal brace in the prompt is harmless.
func interpolate(template string, vars map[string]interface{}) string {
	if template == "" || !strings.Contains(template, "{") {
		return template
	}
	var sb strings.Builder
	i := 0
	for i < len(template) {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			sb.WriteString(template[i:])
			break
		}
		open += i
		close := strings.IndexByte(template[open:], '}')
		if close < 0 {
			sb.WriteString(template[i:])
			break
		}
		close += open
		name := template[open+1 : close]
		if v, ok := vars[name]; ok {
			sb.WriteString(template[i:open])
			sb.WriteString(fmt.Sprintf("%v", v))
			i = close + 1
			continue
		}
		sb.WriteString(template[i : close+1])
		i = close + 1
	}
	return sb.String()
}
