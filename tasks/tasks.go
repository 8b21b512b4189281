// Package tasks implements the durable task lifecycle: submit, pickup,
// execute, periodic zombie-recovery sweep, and cooperative cancellation,
// over store.TaskStore.
package tasks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/config"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/store"
	"goa.design/goa-ai/telemetry"
)

// Queue drives the durable task lifecycle over a store.TaskStore.
type Queue struct {
	store    store.Store
	registry *agentregistry.Registry
	logger   telemetry.Logger

	staleness     time.Duration
	hardTimeout   time.Duration
	sweepInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Queue. Zero-valued cfg fields fall back to the
// documented defaults (10 min staleness, 30 min hard timeout, 30s sweep).
func New(cfg config.TaskSweep, st store.Store, reg *agentregistry.Registry, logger telemetry.Logger) *Queue {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	staleness := time.Duration(cfg.StalenessMinutes) * time.Minute
	if staleness <= 0 {
		staleness = 10 * time.Minute
	}
	hardTimeout := time.Duration(cfg.HardTimeoutMinutes) * time.Minute
	if hardTimeout <= 0 {
		hardTimeout = 30 * time.Minute
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Queue{
		store:         st,
		registry:      reg,
		logger:        logger,
		staleness:     staleness,
		hardTimeout:   hardTimeout,
		sweepInterval: interval,
	}
}

// Submit persists a new pending task. A duplicate idempotencyKey returns the
// existing task's id instead of creating another.
func (q *Queue) Submit(ctx context.Context, taskType, itineraryID, owner string, params map[string]any, idempotencyKey string, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	now := time.Now().UTC()
	task := &itinerary.Task{
		ID:             newTaskID(),
		Type:           taskType,
		ItineraryID:    itineraryID,
		Owner:          owner,
		Params:         params,
		Status:         itinerary.TaskPending,
		MaxAttempts:    maxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
		IdempotencyKey: idempotencyKey,
	}
	return q.store.CreateTask(ctx, task)
}

// Pickup atomically transitions a pending task to running, stamping its
// hard-timeout deadline.
func (q *Queue) Pickup(ctx context.Context, id string) (*itinerary.Task, error) {
	t, err := q.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != itinerary.TaskPending {
		return nil, fmt.Errorf("tasks: task %q is not pending (status %q)", id, t.Status)
	}
	now := time.Now().UTC()
	t.Status = itinerary.TaskRunning
	t.UpdatedAt = now
	t.PickupDeadline = now.Add(q.hardTimeout)
	if err := q.store.UpdateTask(ctx, t, itinerary.TaskPending); err != nil {
		return nil, err
	}
	return t, nil
}

// Execute resolves the agent for task.Type and runs it, transitioning the
// task to completed, retrying pending (with backoff), or failed depending
// on the outcome and remaining attempts.
func (q *Queue) Execute(ctx context.Context, task *itinerary.Task) error {
	agent, err := q.registry.Resolve(task.Type)
	if err != nil {
		return q.failOrRetry(ctx, task, err)
	}

	resp, err := agent.Execute(ctx, agentregistry.Request{
		ItineraryID: task.ItineraryID,
		Owner:       task.Owner,
		Params:      task.Params,
		AutoApply:   true,
	})
	if err != nil {
		return q.failOrRetry(ctx, task, err)
	}

	current, err := q.store.GetTask(ctx, task.ID)
	if err != nil {
		return err
	}
	if current.Status == itinerary.TaskCancelled {
		return nil // cancellation observed cooperatively: discard the result
	}

	now := time.Now().UTC()
	current.Status = itinerary.TaskCompleted
	current.UpdatedAt = now
	current.Result = map[string]any{"message": resp.Message}
	return q.store.UpdateTask(ctx, current, itinerary.TaskRunning)
}

func (q *Queue) failOrRetry(ctx context.Context, task *itinerary.Task, execErr error) error {
	current, err := q.store.GetTask(ctx, task.ID)
	if err != nil {
		return err
	}
	if current.Status == itinerary.TaskCancelled {
		return nil
	}

	now := time.Now().UTC()
	current.Attempts++
	current.LastError = execErr.Error()
	current.UpdatedAt = now
	if current.Attempts >= current.MaxAttempts {
		current.Status = itinerary.TaskFailed
	} else {
		current.Status = itinerary.TaskPending
		current.NextAttemptAt = now.Add(backoff(current.Attempts))
	}
	return q.store.UpdateTask(ctx, current, itinerary.TaskRunning)
}

// Cancel marks a pending or running task cancelled. Running work observes
// the transition the next time Execute reloads the task and discards its
// result instead of completing.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	t, err := q.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.Status == itinerary.TaskCompleted || t.Status == itinerary.TaskFailed || t.Status == itinerary.TaskCancelled {
		return fmt.Errorf("tasks: task %q is already terminal (status %q)", id, t.Status)
	}
	expected := t.Status
	t.Status = itinerary.TaskCancelled
	t.UpdatedAt = time.Now().UTC()
	return q.store.UpdateTask(ctx, t, expected)
}

// backoff computes an exponential delay capped at 5 minutes, indexed by the
// attempt count that just failed.
func backoff(attempts int) time.Duration {
	d := time.Duration(1<<uint(attempts)) * time.Second
	cap := 5 * time.Minute
	if d > cap {
		return cap
	}
	return d
}

// SweepOnce resets zombie running tasks to pending: unconditionally past
// their hard-timeout deadline, or when stale (no update within the
// staleness window). It returns the number of tasks reset.
func (q *Queue) SweepOnce(ctx context.Context) (int, error) {
	running, err := q.store.ListTasks(ctx, store.TaskFilter{Status: itinerary.TaskRunning})
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	reset := 0
	for _, t := range running {
		hardExpired := !t.PickupDeadline.IsZero() && now.After(t.PickupDeadline)
		stale := now.Sub(t.UpdatedAt) > q.staleness
		if !hardExpired && !stale {
			continue
		}
		t.Status = itinerary.TaskPending
		t.UpdatedAt = now
		if err := q.store.UpdateTask(ctx, t, itinerary.TaskRunning); err != nil {
			q.logger.Warn(ctx, "tasks: sweep failed to reset zombie task", "task", t.ID, "error", err)
			continue
		}
		reset++
	}
	return reset, nil
}

// StartSweep runs SweepOnce on a ticker until ctx is cancelled or StopSweep
// is called. It is a no-op if a sweep is already running.
func (q *Queue) StartSweep(ctx context.Context) {
	q.mu.Lock()
	if q.cancel != nil {
		q.mu.Unlock()
		return
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := q.SweepOnce(sweepCtx); err != nil {
					q.logger.Warn(sweepCtx, "tasks: sweep pass failed", "error", err)
				}
			}
		}
	}()
}

// StopSweep cancels the sweep loop started by StartSweep and waits for it
// to exit.
func (q *Queue) StopSweep() {
	q.mu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

func newTaskID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "task_" + hex.EncodeToString(buf)
}
