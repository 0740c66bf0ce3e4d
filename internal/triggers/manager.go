// Package triggers manages trigger definitions and the background scheduler
// that fires them.
package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/kimjoonhwaan/metaworkflow/internal/engine"
	"github.com/kimjoonhwaan/metaworkflow/internal/expr"
	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
	"github.com/kimjoonhwaan/metaworkflow/internal/repository"
	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

// Manager owns trigger CRUD, validation and fire-time accounting.
type Manager struct {
	store repository.Store
	log   *logging.Logger
	// now is swappable for tests.
	now func() time.Time
}

func NewManager(store repository.Store, log *logging.Logger) *Manager {
	return &Manager{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Create validates and persists a new trigger. Enabled scheduled triggers
// get their first NextFireAt computed immediately.
func (m *Manager) Create(ctx context.Context, tr *models.Trigger) (*models.Trigger, error) {
	if tr.WorkflowID == "" {
		return nil, &engine.ValidationError{Field: "workflow_id", Reason: "must not be empty"}
	}
	if err := validateConfig(tr.Type, tr.Config); err != nil {
		return nil, err
	}

	now := m.now()
	tr.ID = uuid.NewString()
	tr.CreatedAt = now
	tr.UpdatedAt = now
	tr.FireCount = 0
	tr.NextFireAt = nil
	if tr.Type == models.TriggerScheduled && tr.Enabled {
		next, err := nextFireTime(tr.Config, now)
		if err != nil {
			return nil, err
		}
		tr.NextFireAt = &next
	}

	if err := m.store.SaveTrigger(ctx, tr); err != nil {
		return nil, err
	}
	m.log.Info("trigger created", "id", tr.ID, "type", tr.Type, "workflow", tr.WorkflowID)
	return tr, nil
}

// Update applies name, enabled and config changes. Toggling a scheduled
// trigger off clears NextFireAt; toggling it on, or changing its config,
// recomputes it.
func (m *Manager) Update(ctx context.Context, id string, name *string, enabled *bool, config map[string]interface{}) (*models.Trigger, error) {
	tr, err := m.store.GetTrigger(ctx, id)
	if err != nil {
		return nil, err
	}

	if name != nil {
		tr.Name = *name
	}
	if config != nil {
		if err := validateConfig(tr.Type, config); err != nil {
			return nil, err
		}
		tr.Config = config
	}
	if enabled != nil {
		tr.Enabled = *enabled
	}

	now := m.now()
	if tr.Type == models.TriggerScheduled {
		if tr.Enabled {
			next, err := nextFireTime(tr.Config, now)
			if err != nil {
				return nil, err
			}
			tr.NextFireAt = &next
		} else {
			tr.NextFireAt = nil
		}
	}
	tr.UpdatedAt = now

	if err := m.store.UpdateTrigger(ctx, tr); err != nil {
		return nil, err
	}
	return tr, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*models.Trigger, error) {
	return m.store.GetTrigger(ctx, id)
}

func (m *Manager) List(ctx context.Context, workflowID string) ([]*models.Trigger, error) {
	return m.store.ListTriggers(ctx, workflowID)
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteTrigger(ctx, id)
}

// Due returns enabled scheduled triggers whose fire time has arrived.
func (m *Manager) Due(ctx context.Context) ([]*models.Trigger, error) {
	return m.store.DueTriggers(ctx, m.now())
}

// MarkFired records a firing: bumps the count, stamps LastFiredAt, and moves
// NextFireAt to the next cron occurrence strictly after now.
func (m *Manager) MarkFired(ctx context.Context, id string) error {
	tr, err := m.store.GetTrigger(ctx, id)
	if err != nil {
		return err
	}
	now := m.now()
	tr.LastFiredAt = &now
	tr.FireCount++
	if tr.Type == models.TriggerScheduled && tr.Enabled {
		next, err := nextFireTime(tr.Config, now)
		if err != nil {
			return err
		}
		tr.NextFireAt = &next
	}
	tr.UpdatedAt = now
	return m.store.UpdateTrigger(ctx, tr)
}

// FireEvent finds enabled event triggers whose event_type matches and whose
// optional condition holds against the event data. Condition errors exclude
// the trigger rather than failing the whole event.
func (m *Manager) FireEvent(ctx context.Context, eventType string, eventData map[string]interface{}) ([]*models.Trigger, error) {
	candidates, err := m.store.ListEnabledByType(ctx, models.TriggerEvent)
	if err != nil {
		return nil, err
	}

	var matched []*models.Trigger
	for _, tr := range candidates {
		if t, _ := tr.Config["event_type"].(string); t != eventType {
			continue
		}
		if condition, _ := tr.Config["condition"].(string); condition != "" {
			ok, err := expr.Eval(condition, eventData)
			if err != nil {
				m.log.Warn("event trigger condition failed", "trigger", tr.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, tr)
	}
	m.log.Info("event fired", "event_type", eventType, "matched", len(matched))
	return matched, nil
}

// MatchWebhook finds the enabled webhook trigger registered for an endpoint.
func (m *Manager) MatchWebhook(ctx context.Context, endpoint string) (*models.Trigger, error) {
	candidates, err := m.store.ListEnabledByType(ctx, models.TriggerWebhook)
	if err != nil {
		return nil, err
	}
	for _, tr := range candidates {
		if e, _ := tr.Config["endpoint"].(string); e == endpoint {
			return tr, nil
		}
	}
	return nil, repository.ErrNotFound
}

func validateConfig(t models.TriggerType, config map[string]interface{}) error {
	switch t {
	case models.TriggerManual:
		return nil
	case models.TriggerScheduled:
		cronExpr, _ := config["cron"].(string)
		if cronExpr == "" {
			return &engine.ValidationError{Field: "config", Reason: "scheduled trigger requires 'cron'"}
		}
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return &engine.ValidationError{Field: "config", Reason: fmt.Sprintf("invalid cron expression: %v", err)}
		}
		if tz, _ := config["timezone"].(string); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return &engine.ValidationError{Field: "config", Reason: fmt.Sprintf("unknown timezone %q", tz)}
			}
		}
		return nil
	case models.TriggerEvent:
		if et, _ := config["event_type"].(string); et == "" {
			return &engine.ValidationError{Field: "config", Reason: "event trigger requires 'event_type'"}
		}
		return nil
	case models.TriggerWebhook:
		if e, _ := config["endpoint"].(string); e == "" {
			return &engine.ValidationError{Field: "config", Reason: "webhook trigger requires 'endpoint'"}
		}
		return nil
	default:
		return &engine.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown trigger type %q", t)}
	}
}

// nextFireTime computes the next cron occurrence strictly after the given
// time, evaluated in the trigger's timezone and stored in UTC.
func nextFireTime(config map[string]interface{}, after time.Time) (time.Time, error) {
	cronExpr, _ := config["cron"].(string)
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return time.Time{}, &engine.ValidationError{Field: "config", Reason: fmt.Sprintf("invalid cron expression: %v", err)}
	}

	loc := time.UTC
	if tz, _ := config["timezone"].(string); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, &engine.ValidationError{Field: "config", Reason: fmt.Sprintf("unknown timezone %q", tz)}
		}
	}
	return schedule.Next(after.In(loc)).UTC(), nil
}
