package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key namespaces for monitor records and heartbeats.
const (
	periodicPrefix  = "taskfleet:monitor:periodic:"
	consumerPrefix  = "taskfleet:monitor:consumer:"
	heartbeatPrefix = "taskfleet:heartbeat:"
)

// Status values recorded for tasks and consumers.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// minHeartbeatTTL is the floor applied to heartbeat expiry so a slow
// heartbeat loop cannot flap liveness.
const minHeartbeatTTL = 10 * time.Second

// kvAPI is the subset of go-redis hash/string commands the store uses.
// *redis.Client satisfies it; tests substitute a fake.
type kvAPI interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HIncrBy(ctx context.Context, key, field string, incr int64) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// Store records per-task and per-consumer execution state and per-worker
// heartbeats. Reads are fail-soft because they only feed dashboards; writes
// are fail-hard so a worker that cannot report its state stops instead of
// running blind.
type Store struct {
	rdb          kvAPI
	heartbeatTTL time.Duration
	now          func() time.Time
}

// NewStore creates a monitor store. heartbeatTTL below 10s is clamped up.
func NewStore(rdb redis.Cmdable, heartbeatTTL time.Duration) *Store {
	if heartbeatTTL < minHeartbeatTTL {
		heartbeatTTL = minHeartbeatTTL
	}
	return &Store{rdb: rdb, heartbeatTTL: heartbeatTTL, now: time.Now}
}

// PeriodicKey returns the monitor hash key for a periodic task.
func PeriodicKey(taskKey string) string {
	return periodicPrefix + taskKey
}

// ConsumerKey returns the monitor hash key for a queue consumer.
func ConsumerKey(consumerKey string) string {
	return consumerPrefix + consumerKey
}

// HeartbeatKey returns the heartbeat key for a worker.
func HeartbeatKey(workerType, workerID string) string {
	return heartbeatPrefix + workerType + ":" + workerID
}

func (s *Store) nowISO() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// MarkPeriodicStarted records that a periodic task has begun executing.
func (s *Store) MarkPeriodicStarted(ctx context.Context, taskKey, taskName, workerID string) error {
	now := s.nowISO()
	err := s.rdb.HSet(ctx, PeriodicKey(taskKey), map[string]interface{}{
		"key":             taskKey,
		"name":            taskName,
		"last_status":     StatusRunning,
		"last_error":      "",
		"last_started_at": now,
		"worker_id":       workerID,
		"updated_at":      now,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to mark periodic task %s started: %w", taskKey, err)
	}
	return nil
}

// PeriodicResult describes one finished periodic task run.
type PeriodicResult struct {
	TaskName  string
	WorkerID  string
	Status    string
	Error     string
	Duration  time.Duration
	NextRunAt time.Time
}

// MarkPeriodicFinished records the outcome of a periodic task run and bumps
// the run counters.
func (s *Store) MarkPeriodicFinished(ctx context.Context, taskKey string, result PeriodicResult) error {
	now := s.nowISO()
	key := PeriodicKey(taskKey)

	durationMs := result.Duration.Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}

	err := s.rdb.HSet(ctx, key, map[string]interface{}{
		"key":              taskKey,
		"name":             result.TaskName,
		"last_status":      result.Status,
		"last_error":       result.Error,
		"last_finished_at": now,
		"last_duration_ms": strconv.FormatInt(durationMs, 10),
		"next_run_at":      result.NextRunAt.UTC().Format(time.RFC3339Nano),
		"worker_id":        result.WorkerID,
		"updated_at":       now,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to mark periodic task %s finished: %w", taskKey, err)
	}

	if err := s.rdb.HIncrBy(ctx, key, "run_count", 1).Err(); err != nil {
		return fmt.Errorf("failed to bump run count for %s: %w", taskKey, err)
	}
	counter := "failure_count"
	if result.Status == StatusSuccess {
		counter = "success_count"
	}
	if err := s.rdb.HIncrBy(ctx, key, counter, 1).Err(); err != nil {
		return fmt.Errorf("failed to bump %s for %s: %w", counter, taskKey, err)
	}
	return nil
}

// ConsumerResult describes one consumed queue message.
type ConsumerResult struct {
	ConsumerName string
	Stream       string
	Group        string
	WorkerID     string
	Status       string
	MessageID    string
	Error        string
	Duration     time.Duration
	Retried      bool
	DeadLettered bool
}

// MarkConsumerResult records the outcome of one message dispatch and bumps
// the consume counters.
func (s *Store) MarkConsumerResult(ctx context.Context, consumerKey string, result ConsumerResult) error {
	now := s.nowISO()
	key := ConsumerKey(consumerKey)

	durationMs := result.Duration.Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}

	err := s.rdb.HSet(ctx, key, map[string]interface{}{
		"key":              consumerKey,
		"name":             result.ConsumerName,
		"stream":           result.Stream,
		"group":            result.Group,
		"last_status":      result.Status,
		"last_error":       result.Error,
		"last_message_id":  result.MessageID,
		"last_run_at":      now,
		"last_duration_ms": strconv.FormatInt(durationMs, 10),
		"worker_id":        result.WorkerID,
		"updated_at":       now,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to mark consumer %s result: %w", consumerKey, err)
	}

	if err := s.rdb.HIncrBy(ctx, key, "consume_count", 1).Err(); err != nil {
		return fmt.Errorf("failed to bump consume count for %s: %w", consumerKey, err)
	}
	counter := "failure_count"
	if result.Status == StatusSuccess {
		counter = "success_count"
	}
	if err := s.rdb.HIncrBy(ctx, key, counter, 1).Err(); err != nil {
		return fmt.Errorf("failed to bump %s for %s: %w", counter, consumerKey, err)
	}

	if result.Retried {
		if err := s.rdb.HIncrBy(ctx, key, "retry_count", 1).Err(); err != nil {
			return fmt.Errorf("failed to bump retry count for %s: %w", consumerKey, err)
		}
	}
	if result.DeadLettered {
		if err := s.rdb.HIncrBy(ctx, key, "dead_letter_count", 1).Err(); err != nil {
			return fmt.Errorf("failed to bump dead-letter count for %s: %w", consumerKey, err)
		}
	}
	return nil
}

// SetHeartbeat writes the worker's liveness key with the configured TTL.
// Absence of a fresh heartbeat is the sole liveness signal, so this write
// is fail-hard like the other monitor writes.
func (s *Store) SetHeartbeat(ctx context.Context, workerType, workerID string) error {
	err := s.rdb.Set(ctx, HeartbeatKey(workerType, workerID), s.nowISO(), s.heartbeatTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set heartbeat for %s/%s: %w", workerType, workerID, err)
	}
	return nil
}

// Heartbeats returns all live heartbeats for a worker type, keyed by worker
// id. Backend failures yield an empty map.
func (s *Store) Heartbeats(ctx context.Context, workerType string) map[string]string {
	pattern := HeartbeatKey(workerType, "*")
	keys, err := s.rdb.Keys(ctx, pattern).Result()
	if err != nil || len(keys) == 0 {
		return map[string]string{}
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return map[string]string{}
	}

	result := make(map[string]string, len(keys))
	for i, key := range keys {
		if i >= len(values) || values[i] == nil {
			continue
		}
		workerID := strings.TrimPrefix(key, heartbeatPrefix+workerType+":")
		result[workerID] = fmt.Sprint(values[i])
	}
	return result
}

// PeriodicRecord returns the monitor record for a periodic task. Backend
// failures yield an empty map.
func (s *Store) PeriodicRecord(ctx context.Context, taskKey string) map[string]string {
	record, err := s.rdb.HGetAll(ctx, PeriodicKey(taskKey)).Result()
	if err != nil || record == nil {
		return map[string]string{}
	}
	return record
}

// ConsumerRecord returns the monitor record for a queue consumer. Backend
// failures yield an empty map.
func (s *Store) ConsumerRecord(ctx context.Context, consumerKey string) map[string]string {
	record, err := s.rdb.HGetAll(ctx, ConsumerKey(consumerKey)).Result()
	if err != nil || record == nil {
		return map[string]string{}
	}
	return record
}
