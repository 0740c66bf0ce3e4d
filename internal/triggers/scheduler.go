package triggers

import (
	"context"
	"sync"
	"time"

	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

// ExecutionStarter is the slice of the runner the scheduler needs.
type ExecutionStarter interface {
	Execute(ctx context.Context, workflowID string, input map[string]interface{}, triggerID *string) (*models.Execution, error)
	ExecuteSync(ctx context.Context, workflowID string, input map[string]interface{}, triggerID *string) (*models.Execution, error)
}

// Scheduler polls for due scheduled triggers and runs their workflows
// through a bounded worker pool: each worker runs its trigger's workflow to
// completion before taking the next, so at most `workers` triggered runs
// execute at once. A trigger is only marked fired after its execution was
// started, so a failed start is retried on the next tick; a trigger whose
// workflow can never start (archived, no steps) is therefore re-dispatched
// every tick until it is disabled or its workflow is fixed.
type Scheduler struct {
	manager  *Manager
	runner   ExecutionStarter
	log      *logging.Logger
	interval time.Duration
	workers  int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(manager *Manager, runner ExecutionStarter, interval time.Duration, workers int, log *logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		manager:  manager,
		runner:   runner,
		log:      log,
		interval: interval,
		workers:  workers,
	}
}

// Start launches the poll loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	jobs := make(chan *models.Trigger)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, jobs)
	}

	s.wg.Add(1)
	go s.loop(ctx, jobs)
	s.log.Info("scheduler started", "interval", s.interval.String(), "workers", s.workers)
}

// Stop halts polling and waits for in-flight trigger dispatches. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, jobs chan<- *models.Trigger) {
	defer s.wg.Done()
	defer close(jobs)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First check happens immediately, not one interval in.
	s.tick(ctx, jobs)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, jobs)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, jobs chan<- *models.Trigger) {
	due, err := s.manager.Due(ctx)
	if err != nil {
		s.log.Error("scheduler failed to query due triggers", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}
	s.log.Info("due triggers found", "count", len(due))
	for _, tr := range due {
		select {
		case <-ctx.Done():
			return
		case jobs <- tr:
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, jobs <-chan *models.Trigger) {
	defer s.wg.Done()
	for tr := range jobs {
		s.fire(ctx, tr)
	}
}

// fire runs the trigger's workflow synchronously so the worker pool bounds
// concurrency.
func (s *Scheduler) fire(ctx context.Context, tr *models.Trigger) {
	exec, err := s.runner.ExecuteSync(ctx, tr.WorkflowID, nil, &tr.ID)
	if err != nil {
		s.log.Error("trigger failed to start workflow", "trigger", tr.ID, "workflow", tr.WorkflowID, "error", err)
		return
	}
	s.log.Info("trigger fired", "trigger", tr.Name, "execution", exec.ID)
	if err := s.manager.MarkFired(ctx, tr.ID); err != nil {
		s.log.Error("failed to mark trigger fired", "trigger", tr.ID, "error", err)
	}
}

// FireNow dispatches one trigger immediately, outside the poll loop.
func (s *Scheduler) FireNow(ctx context.Context, triggerID string) (*models.Execution, error) {
	tr, err := s.manager.Get(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	exec, err := s.runner.Execute(ctx, tr.WorkflowID, nil, &tr.ID)
	if err != nil {
		return nil, err
	}
	if err := s.manager.MarkFired(ctx, tr.ID); err != nil {
		s.log.Error("failed to mark trigger fired", "trigger", tr.ID, "error", err)
	}
	return exec, nil
}
