package tasks

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldline/taskfleet/internal/registry"
)

const defaultBackupCheckInterval = time.Minute

// EventQueue is the slice of the durable log client the built-ins use.
// *queue.Client satisfies it.
type EventQueue interface {
	eventEnqueuer
	pendingCounter
}

// Deps carries the backends the built-in definitions are wired to.
type Deps struct {
	Logger *slog.Logger
	Queue  EventQueue

	// DB backs the operation-log cleanup task. Nil disables it.
	DB                 OperationLogDB
	LogRetentionDays   int
	LogCleanupInterval time.Duration

	// Backups backs the auto-scheduler. Nil disables it.
	Backups             BackupConfigProvider
	LastRuns            LastRunStore
	BackupCheckInterval time.Duration

	// QueueMaxRetries is the global retry budget, shown by display
	// providers that have no per-consumer override.
	QueueMaxRetries int
}

// LoadBuiltin registers every built-in definition whose backends are
// available. It is idempotent: definitions already present are left as-is.
func LoadBuiltin(reg *registry.Registry, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if deps.DB != nil {
		task := NewLogCleanupTask(deps.DB, deps.LogRetentionDays, deps.LogCleanupInterval, logger)
		if _, err := reg.RegisterPeriodicTask(task); err != nil && !errors.Is(err, registry.ErrDuplicateKey) {
			return fmt.Errorf("failed to register %s: %w", task.Key, err)
		}
	}

	if deps.Backups != nil {
		interval := deps.BackupCheckInterval
		if interval <= 0 {
			interval = defaultBackupCheckInterval
		}
		task := NewBackupSchedulerTask(deps.Backups, deps.LastRuns, deps.Queue, interval, logger)
		if _, err := reg.RegisterPeriodicTask(task); err != nil && !errors.Is(err, registry.ErrDuplicateKey) {
			return fmt.Errorf("failed to register %s: %w", task.Key, err)
		}
	}

	consumer := NewDemoEventsConsumer(deps.Queue, deps.QueueMaxRetries, logger)
	if _, err := reg.RegisterQueueConsumer(consumer); err != nil && !errors.Is(err, registry.ErrDuplicateKey) {
		return fmt.Errorf("failed to register %s: %w", consumer.Key, err)
	}

	return nil
}
