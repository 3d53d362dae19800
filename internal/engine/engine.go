package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"flowfire/custom_errors"
	"flowfire/internal/clock"
	"flowfire/internal/constants"
	"flowfire/internal/export"
	"flowfire/internal/handler"
	"flowfire/internal/lock"
	"flowfire/internal/models"
	"flowfire/internal/models/config"
	"flowfire/internal/schedule"
	"flowfire/internal/state"
	"flowfire/internal/store"
	"flowfire/internal/trigger"
)

// Engine is the top-level entry point: it owns the trigger loop, the
// coordinator and the admin operations over job definitions and run history.
type Engine struct {
	cfg         *config.EngineConfig
	jobs        store.JobStore
	history     store.HistoryStore
	registry    *handler.Registry
	coordinator *Coordinator
	trig        *trigger.Trigger
	lockMgr     lock.DistributedLockManager
	exporter    export.Publisher

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	triggerHeld bool
}

func NewEngine(cfg *config.EngineConfig, jobs store.JobStore, history store.HistoryStore, registry *handler.Registry, lockMgr lock.DistributedLockManager, exporter export.Publisher) *Engine {
	e := &Engine{
		cfg:      cfg,
		jobs:     jobs,
		history:  history,
		registry: registry,
		lockMgr:  lockMgr,
		exporter: exporter,
	}
	e.coordinator = NewCoordinator(cfg, CoordinatorDeps{
		Jobs:     jobs,
		History:  history,
		Registry: registry,
		Exporter: exporter,
	})
	e.trig = trigger.New(jobs, history, clock.System(), cfg.TickInterval, e.coordinator.Submit)
	return e
}

// Start launches the coordinator and, when this instance wins the trigger
// lock, the schedule evaluation loop. Instances that lose the lock still
// execute work: fire events come off the shared queue of whichever instance
// triggers them.
func (e *Engine) Start(ctx context.Context) error {
	if e.cfg.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", e.cfg.TickInterval)
	}

	ctx, e.cancel = context.WithCancel(ctx)

	e.coordinator.Start(ctx)

	held, err := e.lockMgr.TryAcquire(constants.TriggerLoopLock)
	if err != nil {
		return fmt.Errorf("trigger lock: %w", err)
	}
	e.triggerHeld = held
	if !held {
		log.Printf("Engine: instance %s did not win the trigger lock, executing only", e.cfg.Instance)
		return nil
	}

	log.Printf("Engine: instance %s triggering every %s", e.cfg.Instance, e.cfg.TickInterval)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.trig.Run(ctx)
	}()
	return nil
}

// Stop shuts the engine down in dependency order: trigger loop first so no
// new fires enter, then the coordinator drains, then external resources.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	e.coordinator.Stop()

	if e.triggerHeld {
		if err := e.lockMgr.Release(constants.TriggerLoopLock); err != nil {
			log.Printf("Engine: trigger lock release failed: %v", err)
		}
		e.triggerHeld = false
	}

	if e.exporter != nil {
		if err := e.exporter.Close(); err != nil {
			log.Printf("Engine: exporter close failed: %v", err)
		}
	}
	if err := e.history.Close(); err != nil {
		log.Println(err.Error())
	}
	if err := e.jobs.Close(); err != nil {
		log.Println(err.Error())
	}
}

// GracefulExit blocks until SIGINT or SIGTERM, then stops the engine. An
// in-flight attempt runs to completion; a pending retry wait is cancelled.
func (e *Engine) GracefulExit() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("Engine: shutting down gracefully...")
	e.Stop()
	log.Println("Engine: stopped")
}

// CreateJob validates and stores a new definition. A zero retry policy gets
// the defaults; a partially filled one must be coherent.
func (e *Engine) CreateJob(ctx context.Context, def models.JobDefinition) (int64, error) {
	if def.Retry == (models.RetryPolicy{}) {
		def.Retry = models.DefaultRetryPolicy()
	}
	if err := e.validateDefinition(def); err != nil {
		return 0, err
	}
	return e.jobs.Create(ctx, def)
}

// UpdateJob replaces an existing definition. The new expression and handler
// id go through the same validation as creation.
func (e *Engine) UpdateJob(ctx context.Context, def models.JobDefinition) error {
	if err := e.validateDefinition(def); err != nil {
		return err
	}
	return e.jobs.Update(ctx, def)
}

func (e *Engine) EnableJob(ctx context.Context, id int64) error {
	return e.jobs.SetEnabled(ctx, id, true)
}

// DisableJob takes effect at the next decision point: a running attempt
// finishes, but no further fire or retry is produced for the job.
func (e *Engine) DisableJob(ctx context.Context, id int64) error {
	return e.jobs.SetEnabled(ctx, id, false)
}

func (e *Engine) GetJob(ctx context.Context, id int64) (*models.JobDefinition, error) {
	return e.jobs.FindByID(ctx, id)
}

func (e *Engine) GetJobByName(ctx context.Context, name string) (*models.JobDefinition, error) {
	return e.jobs.FindByName(ctx, name)
}

func (e *Engine) ListJobs(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
	return e.jobs.GetAll(ctx, page, pageSize)
}

// RunNow fires a job immediately, outside its schedule. The fire goes through
// the normal dispatch pipeline, so mutual exclusion and the overlap policy
// still apply.
func (e *Engine) RunNow(ctx context.Context, id int64) error {
	def, err := e.jobs.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !def.Enabled {
		return fmt.Errorf("job %d (%s) is disabled", def.ID, def.Name)
	}

	now := time.Now()
	return e.coordinator.Submit(models.NewFireEvent(def.ID, now, now))
}

// JobStatus reports the in-memory cycle status of a job on this instance.
func (e *Engine) JobStatus(id int64) state.JobStatus {
	return e.coordinator.Status(id)
}

// History returns the attempt records of one job within [from, to).
func (e *Engine) History(ctx context.Context, jobID int64, from, to time.Time, page, pageSize int) (*models.PaginationResult[models.ExecutionAttempt], error) {
	if _, err := e.jobs.FindByID(ctx, jobID); err != nil {
		return nil, err
	}
	return e.history.Range(ctx, jobID, from, to, page, pageSize)
}

// PruneHistory deletes attempt records older than the cutoff and returns how
// many were removed. The deletion is audited.
func (e *Engine) PruneHistory(ctx context.Context, before time.Time, requestedBy string) (int64, error) {
	return e.history.Prune(ctx, before, requestedBy)
}

func (e *Engine) validateDefinition(def models.JobDefinition) error {
	validationErrs := &custom_errors.ValidationError{}

	if def.Name == "" {
		validationErrs.Add(errors.New("job name is required"))
	}
	if _, err := schedule.Parse(def.Expression); err != nil {
		validationErrs.Add(err)
	}
	if def.HandlerID == "" {
		validationErrs.Add(errors.New("handler id is required"))
	} else if !e.registry.Exists(def.HandlerID) {
		validationErrs.Add(fmt.Errorf("handler '%s': %w", def.HandlerID, custom_errors.ErrHandlerNotRegistered))
	}
	if def.Retry.MaxAttempts < 1 {
		validationErrs.Add(errors.New("retry: max attempts must be at least 1"))
	}
	if def.Retry.BaseDelay <= 0 {
		validationErrs.Add(errors.New("retry: base delay must be positive"))
	}
	if def.Retry.MaxDelay < def.Retry.BaseDelay {
		validationErrs.Add(errors.New("retry: max delay must be at least the base delay"))
	}

	if validationErrs.HasError() {
		return validationErrs
	}
	return nil
}
