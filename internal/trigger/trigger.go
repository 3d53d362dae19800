// Package trigger runs the schedule evaluation loop. It only produces fire
// events; it never blocks on job execution.
package trigger

import (
	"context"
	"log"
	"sync"
	"time"

	"flowfire/internal/clock"
	"flowfire/internal/models"
	"flowfire/internal/schedule"
	"flowfire/internal/store"
)

// SubmitFunc hands a due fire event to the coordinator. It must not block;
// overflow is the coordinator's problem and is reported as an error.
type SubmitFunc func(models.FireEvent) error

type Trigger struct {
	jobs     store.JobStore
	history  store.HistoryStore
	clk      clock.Clock
	interval time.Duration
	submit   SubmitFunc

	mu sync.Mutex
	// emitted remembers, per job, the evaluation time of the last fire this
	// loop produced, so one due boundary yields exactly one event and an
	// engine that was down for a while does not replay a backlog.
	emitted map[int64]time.Time
	// parsed caches schedules by expression; definitions are validated at
	// creation so parses here only fail after an out-of-band DB edit.
	parsed map[string]schedule.Schedule
}

func New(jobs store.JobStore, history store.HistoryStore, clk clock.Clock, interval time.Duration, submit SubmitFunc) *Trigger {
	return &Trigger{
		jobs:     jobs,
		history:  history,
		clk:      clk,
		interval: interval,
		submit:   submit,
		emitted:  make(map[int64]time.Time),
		parsed:   make(map[string]schedule.Schedule),
	}
}

// Run evaluates schedules on a fixed tick until the context is cancelled.
// The interval must be positive.
func (t *Trigger) Run(ctx context.Context) {
	if t.interval <= 0 {
		log.Printf("Trigger: refusing to run with non-positive interval %s", t.interval)
		return
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Trigger: stopped")
			return
		case <-ticker.C:
			t.Evaluate(ctx)
		}
	}
}

// Evaluate performs one pass over the enabled definitions and submits every
// due fire event. It is exposed for deterministic tests with a fake clock.
func (t *Trigger) Evaluate(ctx context.Context) {
	now := t.clk.Now()

	defs, err := t.jobs.ListEnabled(ctx)
	if err != nil {
		log.Printf("Trigger: failed to list definitions: %v", err)
		return
	}

	seenJobs := make(map[int64]bool, len(defs))
	seenExprs := make(map[string]bool, len(defs))
	for _, def := range defs {
		seenJobs[def.ID] = true
		seenExprs[def.Expression] = true

		sched, err := t.scheduleFor(def.Expression)
		if err != nil {
			log.Printf("Trigger: job %d has unparseable expression %q, skipping: %v", def.ID, def.Expression, err)
			continue
		}

		lastRun, err := t.lastRun(ctx, def.ID)
		if err != nil {
			log.Printf("Trigger: last-run lookup for job %d failed, skipping: %v", def.ID, err)
			continue
		}

		next := schedule.NextFire(sched, def, lastRun, now)
		if next.IsZero() || next.After(now) {
			continue
		}

		ev := models.NewFireEvent(def.ID, next, now)
		if err := t.submit(ev); err != nil {
			log.Printf("Trigger: submit for job %d failed: %v", def.ID, err)
		}

		t.mu.Lock()
		t.emitted[def.ID] = now
		t.mu.Unlock()
	}

	t.prune(seenJobs, seenExprs)
}

// prune drops cache entries for jobs that left the enabled set and
// expressions no definition references anymore, so the maps track the live
// definition set instead of growing forever.
func (t *Trigger) prune(jobs map[int64]bool, exprs map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range t.emitted {
		if !jobs[id] {
			delete(t.emitted, id)
		}
	}
	for expr := range t.parsed {
		if !exprs[expr] {
			delete(t.parsed, expr)
		}
	}
}

// lastRun is the later of the ledger's latest scheduled time for the job and
// the time this loop last emitted a fire for it. The in-memory side covers
// the window between emission and the attempt's ledger record appearing.
func (t *Trigger) lastRun(ctx context.Context, jobID int64) (time.Time, error) {
	t.mu.Lock()
	last := t.emitted[jobID]
	t.mu.Unlock()

	latest, err := t.history.LatestByJob(ctx, jobID)
	if err != nil {
		return time.Time{}, err
	}
	if latest != nil && latest.ScheduledAt.After(last) {
		last = latest.ScheduledAt
	}
	return last, nil
}

func (t *Trigger) scheduleFor(expression string) (schedule.Schedule, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.parsed[expression]; ok {
		return s, nil
	}
	s, err := schedule.Parse(expression)
	if err != nil {
		return schedule.Schedule{}, err
	}
	t.parsed[expression] = s
	return s, nil
}
