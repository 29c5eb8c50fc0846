// Package tasks registers the built-in periodic tasks and queue consumers
// that ship with the service: operation-log cleanup, the backup
// auto-scheduler and the demo events consumer.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fieldline/taskfleet/internal/registry"
)

// LogCleanupKey identifies the built-in operation-log cleanup task.
const LogCleanupKey = "operation_log_cleanup"

// OperationLogDB is the slice of the Postgres pool the cleanup task needs.
// *pgxpool.Pool satisfies it.
type OperationLogDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewLogCleanupTask builds the periodic task that deletes operation-log rows
// older than the retention window.
func NewLogCleanupTask(db OperationLogDB, retentionDays int, interval time.Duration, logger *slog.Logger) registry.PeriodicTask {
	if retentionDays < 1 {
		retentionDays = 1
	}
	taskLogger := logger.With("component", "log_cleanup")

	return registry.PeriodicTask{
		Key:      LogCleanupKey,
		Name:     "Operation log cleanup",
		Interval: interval,
		Tags:     []string{"builtin", "maintenance"},
		DisplayColumns: []registry.DisplayColumn{
			{Key: "retention_days", Label: "Retention (days)"},
		},
		DisplayValues: registry.DisplayFunc(func() map[string]string {
			return map[string]string{
				"retention_days": strconv.Itoa(retentionDays),
			}
		}),
		Runner: func(ctx context.Context) error {
			cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

			tag, err := db.Exec(ctx,
				"DELETE FROM operation_logs WHERE created_at < $1", cutoff)
			if err != nil {
				return fmt.Errorf("failed to delete expired operation logs: %w", err)
			}

			if deleted := tag.RowsAffected(); deleted > 0 {
				taskLogger.Info("deleted expired operation logs",
					"deleted", deleted,
					"cutoff", cutoff.Format(time.RFC3339))
			}
			return nil
		},
	}
}
