package models

import (
	"time"
)

// Workflow is the saved, versioned blueprint of an automation.
type Workflow struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Status      WorkflowStatus         `json:"status"`
	Tags        []string               `json:"tags,omitempty"`
	Steps       []Step                 `json:"steps,omitempty"`
	Variables   map[string]interface{} `json:"variables,omitempty"` // initial workflow variables
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Version     int                    `json:"version"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// RetryConfig controls per-step retry behavior. An attempt n (0-based) that
// fails sleeps DelaySeconds * BackoffMultiplier^n before the next try.
type RetryConfig struct {
	MaxRetries        int     `json:"max_retries"`
	DelaySeconds      float64 `json:"delay_seconds"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// Step is one unit of work inside a workflow. Order values across a
// workflow's steps must form a contiguous ascending sequence starting at 0.
type Step struct {
	ID            string                 `json:"id"`
	WorkflowID    string                 `json:"workflow_id"`
	Name          string                 `json:"name"`
	Type          StepType               `json:"type"`
	Order         int                    `json:"order"`
	Config        map[string]interface{} `json:"config"`
	InputMapping  map[string]string      `json:"input_mapping,omitempty"`  // local name -> source name
	OutputMapping map[string]string      `json:"output_mapping,omitempty"` // variable name -> output key
	Condition     string                 `json:"condition,omitempty"`
	RetryConfig   *RetryConfig           `json:"retry_config,omitempty"`
	Code          string                 `json:"code,omitempty"` // SCRIPT steps only
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// WorkflowVersion is an immutable snapshot taken whenever a workflow's
// definition changes.
type WorkflowVersion struct {
	ID            string                 `json:"id"`
	WorkflowID    string                 `json:"workflow_id"`
	Version       int                    `json:"version"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description,omitempty"`
	Definition    map[string]interface{} `json:"definition"`
	ChangeSummary string                 `json:"change_summary,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}
