package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"flowfire/custom_errors"
	"flowfire/internal/clock"
	"flowfire/internal/constants"
	"flowfire/internal/export"
	"flowfire/internal/handler"
	"flowfire/internal/models"
	"flowfire/internal/models/config"
	"flowfire/internal/retry"
	"flowfire/internal/state"
	"flowfire/internal/store"
)

// AlertFunc is the operator surface for faults that threaten correctness,
// currently only exhausted ledger appends.
type AlertFunc func(error)

const ledgerRetryDelay = 100 * time.Millisecond

// Coordinator owns the dispatch pipeline: a bounded FIFO queue feeding a
// bounded pool of worker slots, with per-job mutual exclusion. A job stays
// busy for its whole execution cycle, including retry waits, so attempts of
// the same job can never overlap and attempt numbers stay strictly
// increasing until the cycle ends.
type Coordinator struct {
	jobs     store.JobStore
	history  store.HistoryStore
	registry *handler.Registry
	exporter export.Publisher
	clk      clock.Clock
	rnd      *rand.Rand
	rndMu    sync.Mutex
	alert    AlertFunc

	handlerTimeout time.Duration
	overlap        config.OverlapPolicy
	pendingCap     int

	queue chan models.FireEvent
	slots *semaphore.Weighted

	mu      sync.Mutex
	busy    map[int64]bool
	pending map[int64][]models.FireEvent
	status  map[int64]state.JobStatus
	timers  map[uuid.UUID]*time.Timer
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type CoordinatorDeps struct {
	Jobs     store.JobStore
	History  store.HistoryStore
	Registry *handler.Registry
	Exporter export.Publisher // optional
	Clock    clock.Clock      // optional, defaults to the system clock
	Rand     *rand.Rand       // optional jitter source, defaults to a time-seeded one
	Alert    AlertFunc        // optional
}

func NewCoordinator(cfg *config.EngineConfig, deps CoordinatorDeps) *Coordinator {
	clk := deps.Clock
	if clk == nil {
		clk = clock.System()
	}
	alert := deps.Alert
	if alert == nil {
		alert = func(err error) { log.Printf("Coordinator: ALERT: %v", err) }
	}
	rnd := deps.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Coordinator{
		jobs:           deps.Jobs,
		history:        deps.History,
		registry:       deps.Registry,
		exporter:       deps.Exporter,
		clk:            clk,
		rnd:            rnd,
		alert:          alert,
		handlerTimeout: cfg.HandlerTimeout,
		overlap:        cfg.Overlap,
		pendingCap:     cfg.PendingCap,
		queue:          make(chan models.FireEvent, cfg.QueueDepth),
		slots:          semaphore.NewWeighted(int64(cfg.WorkerCount)),
		busy:           make(map[int64]bool),
		pending:        make(map[int64][]models.FireEvent),
		status:         make(map[int64]state.JobStatus),
		timers:         make(map[uuid.UUID]*time.Timer),
	}
}

// Start launches the dispatch loop. It returns immediately.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.dispatchLoop()
}

// Stop drains the coordinator: no new events are accepted, pending retry
// timers are cancelled, and attempt contexts are cancelled so handlers that
// honor cancellation return promptly. Every started attempt is still closed
// with a ledger record before Stop returns.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Submit enqueues a fire event. When the queue is full the event is dropped,
// recorded as a missed fire, and a DispatchOverflowError is returned.
func (c *Coordinator) Submit(ev models.FireEvent) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return custom_errors.ErrEngineStopped
	}
	c.mu.Unlock()

	select {
	case c.queue <- ev:
		return nil
	default:
		c.recordMissedFire(ev, "dispatch queue full")
		return &custom_errors.DispatchOverflowError{
			JobID:       ev.JobID,
			ScheduledAt: ev.ScheduledAt,
			QueueDepth:  cap(c.queue),
		}
	}
}

// Status reports the current cycle status for a job id; jobs with no active
// cycle are idle.
func (c *Coordinator) Status(jobID int64) state.JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.status[jobID]; ok {
		return s
	}
	return state.StatusIdle
}

func (c *Coordinator) dispatchLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.queue:
			if !c.claim(ev) {
				continue
			}
			// Waiting for a slot here keeps dispatch order FIFO.
			if err := c.slots.Acquire(c.ctx, 1); err != nil {
				c.release(ev.JobID, state.StatusIdle)
				return
			}
			c.wg.Add(1)
			go c.execute(ev)
		}
	}
}

// claim marks the job busy for this event. A fire for an already-busy job is
// handled per the overlap policy: dropped as a missed fire, or held in the
// job's pending list up to the cap.
func (c *Coordinator) claim(ev models.FireEvent) bool {
	c.mu.Lock()

	if c.busy[ev.JobID] {
		if c.overlap == config.OverlapQueue && len(c.pending[ev.JobID]) < c.pendingCap {
			c.pending[ev.JobID] = append(c.pending[ev.JobID], ev)
			held := len(c.pending[ev.JobID])
			c.mu.Unlock()
			log.Printf("Coordinator: job %d busy, fire %s held (%d pending)", ev.JobID, ev.ID, held)
			return false
		}
		c.mu.Unlock()
		c.recordMissedFire(ev, "overlaps running attempt")
		return false
	}

	c.busy[ev.JobID] = true
	c.transition(ev.JobID, state.StatusDispatched)
	c.mu.Unlock()
	return true
}

// release ends a job's cycle and replays one held fire, if any. An Idle
// terminal means the cycle was abandoned before producing an outcome
// (disabled job, shutdown); the status resets without a recorded transition.
func (c *Coordinator) release(jobID int64, terminal state.JobStatus) {
	c.mu.Lock()
	if terminal == state.StatusIdle {
		delete(c.status, jobID)
	} else {
		c.transition(jobID, terminal)
		c.transition(jobID, state.StatusIdle)
	}
	delete(c.busy, jobID)

	var replay *models.FireEvent
	if held := c.pending[jobID]; len(held) > 0 {
		replay = &held[0]
		c.pending[jobID] = held[1:]
		if len(c.pending[jobID]) == 0 {
			delete(c.pending, jobID)
		}
	}
	stopped := c.stopped
	c.mu.Unlock()

	if replay != nil && !stopped {
		if err := c.Submit(*replay); err != nil {
			log.Printf("Coordinator: replay of held fire for job %d failed: %v", jobID, err)
		}
	}
}

// transition moves a job's cycle status, guarding against illegal moves.
// Callers hold c.mu.
func (c *Coordinator) transition(jobID int64, to state.JobStatus) {
	from, ok := c.status[jobID]
	if !ok {
		from = state.StatusIdle
	}
	if from == to {
		return
	}
	if !state.IsValidTransition(from, to) {
		log.Printf("Coordinator: job %d illegal status transition %s -> %s", jobID, from, to)
		return
	}
	if to == state.StatusIdle {
		delete(c.status, jobID)
		return
	}
	c.status[jobID] = to
}

func (c *Coordinator) execute(ev models.FireEvent) {
	defer func() {
		c.slots.Release(1)
		c.wg.Done()
	}()

	def, err := c.jobs.FindByID(c.ctx, ev.JobID)
	if err != nil {
		log.Printf("Coordinator: job %d lookup failed, skipping fire: %v", ev.JobID, err)
		c.release(ev.JobID, state.StatusIdle)
		return
	}
	if !def.Enabled {
		// Disabled between fire and dispatch.
		log.Printf("Coordinator: job %d disabled, skipping fire %s", ev.JobID, ev.ID)
		c.release(ev.JobID, state.StatusIdle)
		return
	}

	attempt := c.runAttempt(*def, ev)

	if !c.closeAttempt(attempt) {
		// Ledger write exhausted its retries. Without a durable record
		// the retry decision cannot be trusted, so the cycle ends here;
		// the operator has been alerted.
		c.mu.Lock()
		c.transition(ev.JobID, state.StatusFailed)
		c.mu.Unlock()
		c.release(ev.JobID, state.StatusStopped)
		return
	}

	if attempt.Outcome == models.OutcomeSucceeded {
		c.release(ev.JobID, state.StatusSucceeded)
		return
	}

	c.mu.Lock()
	c.transition(ev.JobID, state.StatusFailed)
	c.mu.Unlock()

	enabled := c.jobStillEnabled(ev.JobID)
	// rand.Rand is not safe for concurrent use; worker goroutines share one.
	c.rndMu.Lock()
	decision := retry.Decide(attempt.Attempt, attempt.Outcome, def.Retry, enabled, attempt.EndedAt, c.rnd)
	c.rndMu.Unlock()
	if !decision.Retry {
		c.release(ev.JobID, state.StatusStopped)
		return
	}

	c.scheduleRetry(ev, decision)
}

// runAttempt invokes the handler under the configured timeout. The handler
// runs in its own goroutine so a body that ignores cancellation still yields
// a timeout outcome at the bound; the goroutine is then abandoned.
func (c *Coordinator) runAttempt(def models.JobDefinition, ev models.FireEvent) models.ExecutionAttempt {
	started := c.clk.Now()
	attempt := models.ExecutionAttempt{
		ID:          uuid.New(),
		JobID:       ev.JobID,
		Attempt:     ev.Attempt,
		ScheduledAt: ev.ScheduledAt,
		StartedAt:   started,
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.handlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- c.registry.Execute(ctx, def.HandlerID, handler.Invocation{
			JobID:       def.ID,
			JobName:     def.Name,
			Attempt:     ev.Attempt,
			ScheduledAt: ev.ScheduledAt,
			Payload:     def.Payload,
		})
	}()

	select {
	case err := <-done:
		attempt.EndedAt = c.clk.Now()
		if err != nil {
			attempt.Outcome = models.OutcomeFailed
			attempt.LastError = sql.NullString{String: err.Error(), Valid: true}
		} else {
			attempt.Outcome = models.OutcomeSucceeded
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			attempt.EndedAt = started.Add(c.handlerTimeout)
			attempt.Outcome = models.OutcomeTimeout
		} else {
			// Shutdown cancelled the attempt before its deadline.
			attempt.EndedAt = c.clk.Now()
			attempt.Outcome = models.OutcomeFailed
		}
		attempt.LastError = sql.NullString{String: ctx.Err().Error(), Valid: true}
	}

	return attempt
}

// closeAttempt durably appends the attempt record, retrying a bounded number
// of times. It reports whether the attempt is closed; false means history is
// lost and the cycle must not continue.
func (c *Coordinator) closeAttempt(attempt models.ExecutionAttempt) bool {
	var err error
	for i := 0; i < constants.LedgerAppendRetries; i++ {
		if i > 0 {
			time.Sleep(ledgerRetryDelay)
		}
		if err = c.history.Append(context.Background(), attempt); err == nil {
			c.publish(attempt)
			return true
		}
		log.Printf("Coordinator: ledger append for job %d attempt %d failed (try %d): %v",
			attempt.JobID, attempt.Attempt, i+1, err)
	}

	c.alert(&custom_errors.LedgerWriteError{
		JobID:   attempt.JobID,
		Attempt: attempt.Attempt,
		Cause:   err,
	})
	return false
}

func (c *Coordinator) publish(attempt models.ExecutionAttempt) {
	if c.exporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.exporter.Publish(ctx, export.NewRecord(attempt)); err != nil {
		log.Printf("Coordinator: export publish for job %d failed: %v", attempt.JobID, err)
	}
}

// recordMissedFire logs a dropped event to the ledger so drops are never
// silent. Missed fires close instantly and never retry.
func (c *Coordinator) recordMissedFire(ev models.FireEvent, reason string) {
	now := c.clk.Now()
	attempt := models.ExecutionAttempt{
		ID:          uuid.New(),
		JobID:       ev.JobID,
		Attempt:     ev.Attempt,
		ScheduledAt: ev.ScheduledAt,
		StartedAt:   now,
		EndedAt:     now,
		Outcome:     models.OutcomeMissed,
		LastError:   sql.NullString{String: reason, Valid: true},
	}

	log.Printf("Coordinator: missed fire for job %d scheduled at %s: %s",
		ev.JobID, ev.ScheduledAt.Format(time.RFC3339), reason)
	c.closeAttempt(attempt)
}

// jobStillEnabled re-reads the definition at decision time, so a disable
// issued during the attempt stops the retry chain. Lookup failures fail
// closed.
func (c *Coordinator) jobStillEnabled(jobID int64) bool {
	def, err := c.jobs.FindByID(context.Background(), jobID)
	if err != nil {
		log.Printf("Coordinator: enabled check for job %d failed, stopping retries: %v", jobID, err)
		return false
	}
	return def.Enabled
}

// scheduleRetry re-enters the event at the decided time with the incremented
// attempt counter. The job stays busy for the whole wait: the retry is part
// of the same execution cycle.
func (c *Coordinator) scheduleRetry(ev models.FireEvent, decision retry.Decision) {
	next := ev
	next.Attempt = decision.Attempt

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.release(ev.JobID, state.StatusStopped)
		return
	}
	c.transition(ev.JobID, state.StatusRetryScheduled)

	delay := decision.At.Sub(c.clk.Now())
	if delay < 0 {
		delay = 0
	}
	timerID := next.ID
	c.timers[timerID] = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, timerID)
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.transition(next.JobID, state.StatusDispatched)
		// The wait-group registration shares the lock with the stopped
		// check, so Stop cannot pass wg.Wait before this attempt is
		// accounted for.
		c.wg.Add(1)
		c.mu.Unlock()

		if err := c.slots.Acquire(c.ctx, 1); err != nil {
			c.release(next.JobID, state.StatusIdle)
			c.wg.Done()
			return
		}
		go c.execute(next)
	})
	c.mu.Unlock()

	log.Printf("Coordinator: job %d attempt %d scheduled at %s",
		next.JobID, next.Attempt, decision.At.Format(time.RFC3339))
}
