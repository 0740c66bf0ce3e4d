package models

// WorkflowStatus is the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowDraft    WorkflowStatus = "DRAFT"
	WorkflowActive   WorkflowStatus = "ACTIVE"
	WorkflowPaused   WorkflowStatus = "PAUSED"
	WorkflowArchived WorkflowStatus = "ARCHIVED"
)

// ExecutionStatus applies to both whole executions and individual steps.
// SKIPPED is only ever used at the step level.
type ExecutionStatus string

const (
	StatusPending         ExecutionStatus = "PENDING"
	StatusRunning         ExecutionStatus = "RUNNING"
	StatusSuccess         ExecutionStatus = "SUCCESS"
	StatusFailed          ExecutionStatus = "FAILED"
	StatusCancelled       ExecutionStatus = "CANCELLED"
	StatusSkipped         ExecutionStatus = "SKIPPED"
	StatusWaitingApproval ExecutionStatus = "WAITING_APPROVAL"
)

// Terminal reports whether an execution in this status will never change again.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// StepType identifies which adapter executes a step.
type StepType string

const (
	StepLLMCall       StepType = "LLM_CALL"
	StepAPICall       StepType = "API_CALL"
	StepScript        StepType = "SCRIPT"
	StepCondition     StepType = "CONDITION"
	StepApproval      StepType = "APPROVAL"
	StepNotification  StepType = "NOTIFICATION"
	StepDataTransform StepType = "DATA_TRANSFORM"
)

// TriggerType identifies how an execution gets started.
type TriggerType string

const (
	TriggerManual    TriggerType = "MANUAL"
	TriggerScheduled TriggerType = "SCHEDULED"
	TriggerEvent     TriggerType = "EVENT"
	TriggerWebhook   TriggerType = "WEBHOOK"
)
