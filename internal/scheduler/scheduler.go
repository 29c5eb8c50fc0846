// Package scheduler drives registered periodic tasks on a wall-clock
// schedule. Each periodic worker process owns a static shard of the task
// list and reschedules every task from its own completion time, so a slow
// run delays the next one instead of compressing future runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldline/taskfleet/internal/identity"
	"github.com/fieldline/taskfleet/internal/monitor"
	"github.com/fieldline/taskfleet/internal/registry"
)

// WorkerType is the heartbeat namespace for periodic workers.
const WorkerType = "periodic"

const (
	defaultTick           = 500 * time.Millisecond
	defaultHeartbeatEvery = 10 * time.Second
)

// MonitorStore is the subset of monitor operations the scheduler uses.
// *monitor.Store satisfies it.
type MonitorStore interface {
	MarkPeriodicStarted(ctx context.Context, taskKey, taskName, workerID string) error
	MarkPeriodicFinished(ctx context.Context, taskKey string, result monitor.PeriodicResult) error
	SetHeartbeat(ctx context.Context, workerType, workerID string) error
}

// Worker runs the shard of periodic tasks assigned to this process.
type Worker struct {
	reg      *registry.Registry
	store    MonitorStore
	logger   *slog.Logger
	identity identity.Identity

	tick           time.Duration
	heartbeatEvery time.Duration
	now            func() time.Time
}

// NewWorker creates a periodic worker for the given registry shard.
func NewWorker(reg *registry.Registry, store MonitorStore, id identity.Identity, logger *slog.Logger) *Worker {
	return &Worker{
		reg:            reg,
		store:          store,
		logger:         logger.With("component", "periodic_worker", "worker_id", id.ID),
		identity:       id,
		tick:           defaultTick,
		heartbeatEvery: defaultHeartbeatEvery,
		now:            time.Now,
	}
}

// AssignShard selects the tasks belonging to one worker: task i (in
// registration order) is assigned iff i mod total == index. The partition
// is static; changing the worker total requires restarting all periodic
// workers together.
func AssignShard(tasks []registry.PeriodicTask, index, total int) []registry.PeriodicTask {
	if total <= 1 {
		return tasks
	}
	if index < 0 {
		index = 0
	}

	var assigned []registry.PeriodicTask
	for i, def := range tasks {
		if i%total == index {
			assigned = append(assigned, def)
		}
	}
	return assigned
}

// Run executes the scheduling loop until the context is cancelled. Handler
// failures are recorded and never stop the loop; monitor-store write
// failures do, because a worker that cannot report its state must not run
// blind.
func (w *Worker) Run(ctx context.Context) error {
	tasks := AssignShard(w.reg.PeriodicTasks(), w.identity.Index, w.identity.Total)
	if len(tasks) == 0 {
		w.logger.Warn("no periodic tasks assigned to this shard, idling with heartbeats only",
			"worker_index", w.identity.Index,
			"worker_total", w.identity.Total)
	} else {
		w.logger.Info("periodic worker starting",
			"assigned_tasks", len(tasks),
			"worker_index", w.identity.Index,
			"worker_total", w.identity.Total)
	}

	nextRunAt := make(map[string]time.Time, len(tasks))
	for _, def := range tasks {
		nextRunAt[def.Key] = w.now()
	}

	var nextHeartbeat time.Time

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		now := w.now()
		if !now.Before(nextHeartbeat) {
			if err := w.store.SetHeartbeat(ctx, WorkerType, w.identity.ID); err != nil {
				return fmt.Errorf("heartbeat write failed: %w", err)
			}
			nextHeartbeat = now.Add(w.heartbeatEvery)
		}

		for _, def := range tasks {
			if w.now().Before(nextRunAt[def.Key]) {
				continue
			}

			next, err := w.runTask(ctx, def)
			if err != nil {
				return err
			}
			nextRunAt[def.Key] = next
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.tick):
		}
	}
}

// runTask executes one periodic task, records its outcome, and returns the
// next scheduled run time. The returned error is non-nil only for
// cancellation or monitor-store write failures.
func (w *Worker) runTask(ctx context.Context, def registry.PeriodicTask) (time.Time, error) {
	if err := w.store.MarkPeriodicStarted(ctx, def.Key, def.Name, w.identity.ID); err != nil {
		return time.Time{}, fmt.Errorf("failed to mark task %s started: %w", def.Key, err)
	}

	started := w.now()
	runErr := w.invokeRunner(ctx, def)

	// Cancellation is intentional shutdown, not a task failure.
	if runErr != nil && ctx.Err() != nil {
		return time.Time{}, ctx.Err()
	}

	status := monitor.StatusSuccess
	errorMessage := ""
	if runErr != nil {
		status = monitor.StatusFailed
		errorMessage = runErr.Error()
		w.logger.Error("periodic task failed", "task_key", def.Key, "error", runErr)
	}

	finished := w.now()
	next := finished.Add(def.Interval)

	err := w.store.MarkPeriodicFinished(ctx, def.Key, monitor.PeriodicResult{
		TaskName:  def.Name,
		WorkerID:  w.identity.ID,
		Status:    status,
		Error:     errorMessage,
		Duration:  finished.Sub(started),
		NextRunAt: next,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to mark task %s finished: %w", def.Key, err)
	}

	return next, nil
}

// invokeRunner calls the task body, converting a panic into an error so a
// broken task cannot crash the worker loop.
func (w *Worker) invokeRunner(ctx context.Context, def registry.PeriodicTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return def.Runner(ctx)
}
