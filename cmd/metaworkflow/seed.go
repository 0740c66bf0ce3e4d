package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed the store with demo workflows and triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildStack(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.close()
			return runSeed(cmd.Context(), app)
		},
	}
}

func runSeed(ctx context.Context, app *stack) error {
	existing, err := app.workflows.List(ctx, "")
	if err != nil {
		return err
	}
	existingNames := make(map[string]bool)
	for _, wf := range existing {
		existingNames[wf.Name] = true
	}

	for _, wf := range seedWorkflows() {
		if existingNames[wf.Name] {
			app.log.Info("Skipping existing workflow", "name", wf.Name)
			continue
		}

		created, err := app.workflows.Create(ctx, wf)
		if err != nil {
			app.log.Error("Failed to seed workflow", "name", wf.Name, "error", err)
			continue
		}
		app.log.Info("Seeded workflow", "name", created.Name, "id", created.ID)

		for _, tr := range seedTriggers(created) {
			if _, err := app.manager.Create(ctx, tr); err != nil {
				app.log.Error("Failed to seed trigger", "name", tr.Name, "error", err)
				continue
			}
			app.log.Info("Seeded trigger", "name", tr.Name, "workflow", created.Name)
		}
	}

	app.log.Info("Seeding complete!")
	return nil
}

func seedWorkflows() []*models.Workflow {
	return []*models.Workflow{
		{
			Name:        "API Health Check",
			Description: "Polls the service health endpoint and raises an alert when it is down.",
			Status:      models.WorkflowActive,
			Tags:        []string{"ops", "demo"},
			Variables:   map[string]interface{}{"health_url": "http://localhost:8080/health"},
			Steps: []models.Step{
				{
					Name:  "check endpoint",
					Type:  models.StepAPICall,
					Order: 0,
					Config: map[string]interface{}{
						"url":    "{health_url}",
						"method": "GET",
						"retry":  map[string]interface{}{"max_retries": 2, "delay_seconds": 1.0},
					},
					OutputMapping: map[string]string{"health_status": "status_code"},
				},
				{
					Name:      "alert",
					Type:      models.StepNotification,
					Order:     1,
					Condition: "health_status != 200",
					Config: map[string]interface{}{
						"channel": "log",
						"message": "health check failed with status {health_status}",
					},
				},
			},
		},
		{
			Name:        "Daily Report",
			Description: "Builds a small report via a script and reshapes the result.",
			Status:      models.WorkflowActive,
			Tags:        []string{"demo"},
			Steps: []models.Step{
				{
					Name:  "collect",
					Type:  models.StepScript,
					Order: 0,
					Code:  "import json\nprint(json.dumps({\"items\": 3, \"ok\": True}))\n",
					OutputMapping: map[string]string{
						"report": "output",
					},
				},
				{
					Name:  "reshape",
					Type:  models.StepDataTransform,
					Order: 1,
					Config: map[string]interface{}{
						"transform_type": "extract",
						"expression":     "report.items",
					},
				},
			},
		},
		{
			Name:        "Content Summarizer",
			Description: "Summarizes provided text with an LLM.",
			Status:      models.WorkflowDraft,
			Tags:        []string{"llm", "demo"},
			Steps: []models.Step{
				{
					Name:  "summarize",
					Type:  models.StepLLMCall,
					Order: 0,
					Config: map[string]interface{}{
						"prompt":        "Summarize the following text in three sentences:\n\n{text}",
						"system_prompt": "You are a concise technical writer.",
					},
					OutputMapping: map[string]string{"summary": "response"},
				},
			},
		},
	}
}

func seedTriggers(wf *models.Workflow) []*models.Trigger {
	switch wf.Name {
	case "API Health Check":
		return []*models.Trigger{
			{
				WorkflowID: wf.ID,
				Name:       "every five minutes",
				Type:       models.TriggerScheduled,
				Enabled:    true,
				Config:     map[string]interface{}{"cron": "*/5 * * * *"},
			},
		}
	case "Daily Report":
		return []*models.Trigger{
			{
				WorkflowID: wf.ID,
				Name:       "nightly",
				Type:       models.TriggerScheduled,
				Enabled:    true,
				Config:     map[string]interface{}{"cron": "0 6 * * *", "timezone": "UTC"},
			},
			{
				WorkflowID: wf.ID,
				Name:       "on demand report",
				Type:       models.TriggerEvent,
				Enabled:    true,
				Config:     map[string]interface{}{"event_type": "report_requested"},
			},
		}
	default:
		return nil
	}
}
