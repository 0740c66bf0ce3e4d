package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/kimjoonhwaan/metaworkflow/internal/adapters"
	"github.com/kimjoonhwaan/metaworkflow/internal/config"
	"github.com/kimjoonhwaan/metaworkflow/internal/engine"
	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
	"github.com/kimjoonhwaan/metaworkflow/internal/repository"
	"github.com/kimjoonhwaan/metaworkflow/internal/services"
	"github.com/kimjoonhwaan/metaworkflow/internal/triggers"
	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "metaworkflow",
		Short: "Workflow execution engine and trigger scheduler",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(newServeCmd(), newSchedulerCmd(), newSeedCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// stack bundles the wired application services shared by the subcommands.
type stack struct {
	cfg       *config.Config
	log       *logging.Logger
	pool      *pgxpool.Pool
	store     repository.Store
	workflows *services.WorkflowService
	runner    *services.Runner
	manager   *triggers.Manager
	scheduler *triggers.Scheduler
}

func buildStack(ctx context.Context, useMemory bool) (*stack, error) {
	log := logging.NewLogger()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var pool *pgxpool.Pool
	var store repository.Store
	if useMemory || cfg.DB.Name == "" {
		log.Info("Using in-memory store")
		store = repository.NewMemoryStore()
	} else {
		pool, err = connectDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := repository.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		store = repository.NewPostgresStore(pool)
		log.Info("Database connected", "host", cfg.DB.Host, "name", cfg.DB.Name)
	}

	registry := buildRegistry(cfg, log)
	machine := engine.NewMachine(registry, engine.NewBinder(log), log)
	runner := services.NewRunner(store, machine, log)
	workflows := services.NewWorkflowService(store, log)
	manager := triggers.NewManager(store, log)
	scheduler := triggers.NewScheduler(manager, runner, cfg.PollInterval(), cfg.Scheduler.WorkerCount, log)

	return &stack{
		cfg:       cfg,
		log:       log,
		pool:      pool,
		store:     store,
		workflows: workflows,
		runner:    runner,
		manager:   manager,
		scheduler: scheduler,
	}, nil
}

func (s *stack) close() {
	s.scheduler.Stop()
	s.runner.Close()
	if s.pool != nil {
		s.pool.Close()
	}
}

func buildRegistry(cfg *config.Config, log *logging.Logger) *adapters.Registry {
	registry := adapters.NewRegistry()

	if cfg.LLM.APIKey != "" {
		client := services.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
		registry.Register(models.StepLLMCall, adapters.NewLLMAdapter(client, cfg.LLM.Model))
	} else {
		log.Warn("LLM API key not configured, LLM_CALL steps disabled")
	}

	registry.Register(models.StepAPICall, adapters.NewRESTAdapter(log))
	registry.Register(models.StepScript, adapters.NewScriptAdapter(cfg.Script.Interpreter, cfg.ScriptTimeout(), log))
	registry.Register(models.StepCondition, adapters.NewConditionAdapter(log))
	registry.Register(models.StepApproval, adapters.NewApprovalAdapter())

	var email adapters.EmailSender
	if cfg.SMTP.Host != "" {
		email = services.NewEmailNotifier(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
	}
	var slack adapters.SlackPoster
	if cfg.Slack.WebhookURL != "" {
		slack = services.NewSlackNotifier(cfg.Slack.WebhookURL)
	}
	registry.Register(models.StepNotification, adapters.NewNotificationAdapter(email, slack, log))

	registry.Register(models.StepDataTransform, adapters.NewTransformAdapter(log))

	return registry
}

func connectDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
