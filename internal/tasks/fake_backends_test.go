package tasks

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/fieldline/taskfleet/internal/queue"
)

// fakeDB records SQL executed against it.
type fakeDB struct {
	mu      sync.Mutex
	execs   []execCall
	tag     pgconn.CommandTag
	execErr error
}

type execCall struct {
	sql  string
	args []any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return f.tag, nil
}

// fakeLastRuns is an in-memory stand-in for the Redis last-run records.
type fakeLastRuns struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
	setErr error
}

func newFakeLastRuns() *fakeLastRuns {
	return &fakeLastRuns{values: make(map[string]string)}
}

func (f *fakeLastRuns) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeLastRuns) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.values[key], _ = value.(string)
	return redis.NewStatusResult("OK", nil)
}

// fakeEventQueue captures enqueued events and serves a fixed pending count.
type fakeEventQueue struct {
	mu         sync.Mutex
	enqueued   []enqueuedEvent
	enqueueErr error
	pending    int64
	nextID     int
}

type enqueuedEvent struct {
	stream  string
	payload map[string]any
}

func (f *fakeEventQueue) Enqueue(_ context.Context, stream string, payload map[string]any, _ queue.EnqueueOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	f.nextID++
	f.enqueued = append(f.enqueued, enqueuedEvent{stream: stream, payload: payload})
	return "0-" + strconv.Itoa(f.nextID), nil
}

func (f *fakeEventQueue) PendingCount(_ context.Context, _, _ string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *fakeEventQueue) events() []enqueuedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]enqueuedEvent, len(f.enqueued))
	copy(out, f.enqueued)
	return out
}
