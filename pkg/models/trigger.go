package models

import (
	"time"
)

// Trigger is a rule that starts an execution of its workflow.
//
// Config is type-specific:
//
//	SCHEDULED: {"cron": "*/5 * * * *", "timezone": "UTC"}
//	EVENT:     {"event_type": "data_received", "condition": "value > 100"}
//	WEBHOOK:   {"endpoint": "abc123", "secret": "..."}
//	MANUAL:    {}
//
// An enabled SCHEDULED trigger always has NextFireAt set; disabling it
// clears NextFireAt.
type Trigger struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	Name        string                 `json:"name"`
	Type        TriggerType            `json:"type"`
	Enabled     bool                   `json:"enabled"`
	Config      map[string]interface{} `json:"config"`
	LastFiredAt *time.Time             `json:"last_fired_at,omitempty"`
	NextFireAt  *time.Time             `json:"next_fire_at,omitempty"`
	FireCount   int                    `json:"fire_count"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}
