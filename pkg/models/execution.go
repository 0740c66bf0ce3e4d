package models

import (
	"time"
)

// ExecutionError records a single step failure inside an execution.
type ExecutionError struct {
	StepID    string    `json:"step_id"`
	StepName  string    `json:"step_name,omitempty"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Execution is one concrete run of a workflow, with its own variable state.
type Execution struct {
	ID              string                 `json:"id"`
	WorkflowID      string                 `json:"workflow_id"`
	TriggerID       *string                `json:"trigger_id,omitempty"`
	Status          ExecutionStatus        `json:"status"`
	InputData       map[string]interface{} `json:"input_data,omitempty"`
	Variables       map[string]interface{} `json:"variables,omitempty"`    // final variable snapshot
	StepOutputs     map[string]interface{} `json:"step_outputs,omitempty"` // step id -> raw output
	Errors          []ExecutionError       `json:"errors,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ErrorStepID     string                 `json:"error_step_id,omitempty"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	DurationSeconds float64                `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// StepExecution is the persisted outcome of one step within one execution.
// Never mutated once the owning execution is terminal.
type StepExecution struct {
	ID              string                 `json:"id"`
	ExecutionID     string                 `json:"execution_id"`
	StepID          string                 `json:"step_id"`
	Status          ExecutionStatus        `json:"status"`
	InputData       map[string]interface{} `json:"input_data,omitempty"`
	OutputData      map[string]interface{} `json:"output_data,omitempty"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	DurationSeconds float64                `json:"duration_seconds,omitempty"`
	RetryCount      int                    `json:"retry_count"`
	Logs            string                 `json:"logs,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ErrorTrace      string                 `json:"error_trace,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}
