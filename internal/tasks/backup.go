package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fieldline/taskfleet/internal/config"
	"github.com/fieldline/taskfleet/internal/queue"
	"github.com/fieldline/taskfleet/internal/registry"
)

// BackupSchedulerKey identifies the built-in backup auto-scheduler task.
const BackupSchedulerKey = "backup_auto_scheduler"

const lastRunKeyPrefix = "taskfleet:backup:lastrun:"

// BackupTarget is one backup destination with an automatic schedule.
type BackupTarget struct {
	// Key uniquely identifies the target and names its last-run record.
	Key string

	// Interval is the minimum spacing between automatic runs.
	Interval time.Duration
}

// BackupConfigProvider yields the targets whose automatic schedule is
// currently enabled.
type BackupConfigProvider interface {
	Targets(ctx context.Context) ([]BackupTarget, error)
}

// BackupTargetsFunc adapts a function to BackupConfigProvider.
type BackupTargetsFunc func(ctx context.Context) ([]BackupTarget, error)

func (f BackupTargetsFunc) Targets(ctx context.Context) ([]BackupTarget, error) {
	return f(ctx)
}

// StaticBackupProvider serves a fixed target list, typically read from
// configuration at startup.
func StaticBackupProvider(configs []config.BackupConfig) BackupConfigProvider {
	targets := make([]BackupTarget, 0, len(configs))
	for _, c := range configs {
		targets = append(targets, BackupTarget{
			Key:      c.Key,
			Interval: time.Duration(c.IntervalSeconds) * time.Second,
		})
	}
	return BackupTargetsFunc(func(ctx context.Context) ([]BackupTarget, error) {
		return targets, nil
	})
}

// LastRunStore is the slice of Redis used for per-target throttling.
// redis.Cmdable satisfies it.
type LastRunStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// eventEnqueuer publishes events to the durable log. *queue.Client
// satisfies it.
type eventEnqueuer interface {
	Enqueue(ctx context.Context, stream string, payload map[string]any, opts queue.EnqueueOptions) (string, error)
}

// NewBackupSchedulerTask builds the periodic task that walks the configured
// backup targets and, for each one whose interval has elapsed since its last
// recorded run, records a fresh run and publishes a backup_completed event.
// The backup work itself is carried out by the event's consumers.
func NewBackupSchedulerTask(provider BackupConfigProvider, store LastRunStore, events eventEnqueuer, interval time.Duration, logger *slog.Logger) registry.PeriodicTask {
	taskLogger := logger.With("component", "backup_scheduler")

	return registry.PeriodicTask{
		Key:      BackupSchedulerKey,
		Name:     "Backup auto-scheduler",
		Interval: interval,
		Tags:     []string{"builtin", "backup"},
		Runner: func(ctx context.Context) error {
			targets, err := provider.Targets(ctx)
			if err != nil {
				return fmt.Errorf("failed to load backup targets: %w", err)
			}

			now := time.Now().UTC()
			for _, target := range targets {
				due, err := targetDue(ctx, store, target, now)
				if err != nil {
					return err
				}
				if !due {
					continue
				}

				if err := store.Set(ctx, lastRunKeyPrefix+target.Key,
					strconv.FormatInt(now.Unix(), 10), 0).Err(); err != nil {
					return fmt.Errorf("failed to record backup run for %q: %w", target.Key, err)
				}

				id, err := events.Enqueue(ctx, DemoEventStream, map[string]any{
					"event":        "backup_completed",
					"event_id":     uuid.NewString(),
					"target":       target.Key,
					"completed_at": now.Format(time.RFC3339),
				}, queue.EnqueueOptions{})
				if err != nil {
					return fmt.Errorf("failed to publish backup event for %q: %w", target.Key, err)
				}

				taskLogger.Info("scheduled automatic backup",
					"target", target.Key,
					"message_id", id)
			}
			return nil
		},
	}
}

// targetDue reports whether the target's interval has elapsed since its last
// recorded run. A missing record means the target has never run.
func targetDue(ctx context.Context, store LastRunStore, target BackupTarget, now time.Time) (bool, error) {
	raw, err := store.Get(ctx, lastRunKeyPrefix+target.Key).Result()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read backup run record for %q: %w", target.Key, err)
	}

	lastUnix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Unreadable record: treat the target as due so it self-heals.
		return true, nil
	}

	return now.Sub(time.Unix(lastUnix, 0)) >= target.Interval, nil
}
