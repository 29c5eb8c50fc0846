package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fieldline/taskfleet/internal/monitor"
	"github.com/fieldline/taskfleet/internal/queue"
)

// fakeLog is an in-memory durable log: per-stream entry lists with a single
// implicit group cursor, recorded acks, and recorded dead-letter writes.
type fakeLog struct {
	mu      sync.Mutex
	nextSeq int

	// streams holds undelivered entries per stream.
	streams map[string][]queue.Message

	// delivered retains every message handed out, in order.
	delivered []queue.Message

	groups map[string]bool
	acks   []string
	dead   []deadRecord

	readErr error
}

type deadRecord struct {
	DeadStream     string
	OriginalStream string
	OriginalGroup  string
	OriginalID     string
	Payload        map[string]any
	Error          string
	RetryCount     int
}

func newFakeLog() *fakeLog {
	return &fakeLog{
		streams: make(map[string][]queue.Message),
		groups:  make(map[string]bool),
	}
}

func (f *fakeLog) Enqueue(ctx context.Context, stream string, payload map[string]any, opts queue.EnqueueOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextSeq++
	id := fmt.Sprintf("%d-0", f.nextSeq)
	f.streams[stream] = append(f.streams[stream], queue.Message{
		ID:              id,
		Payload:         payload,
		RetryCount:      opts.RetryCount,
		SourceMessageID: opts.SourceMessageID,
	})
	return id, nil
}

func (f *fakeLog) EnsureGroup(ctx context.Context, stream, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[stream+"|"+group] = true
	return nil
}

func (f *fakeLog) ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration, count int) ([]queue.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return nil, f.readErr
	}
	entries := f.streams[stream]
	if len(entries) == 0 {
		return nil, nil
	}

	msg := entries[0]
	f.streams[stream] = entries[1:]
	f.delivered = append(f.delivered, msg)
	return []queue.Message{msg}, nil
}

func (f *fakeLog) Ack(ctx context.Context, stream, group, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, id)
	return nil
}

func (f *fakeLog) DeadLetter(ctx context.Context, deadStream, originalStream, originalGroup, id string, payload map[string]any, handlerErr string, retryCount int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dead = append(f.dead, deadRecord{
		DeadStream:     deadStream,
		OriginalStream: originalStream,
		OriginalGroup:  originalGroup,
		OriginalID:     id,
		Payload:        payload,
		Error:          handlerErr,
		RetryCount:     retryCount,
	})
	f.nextSeq++
	return fmt.Sprintf("%d-0", f.nextSeq), nil
}

func (f *fakeLog) deadRecords() []deadRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]deadRecord, len(f.dead))
	copy(out, f.dead)
	return out
}

func (f *fakeLog) deliveredRetryCounts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make([]int, len(f.delivered))
	for i, msg := range f.delivered {
		counts[i] = msg.RetryCount
	}
	return counts
}

func (f *fakeLog) pendingLen(stream string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams[stream])
}

func (f *fakeLog) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acks)
}

// fakeMonitorStore records consumer results and heartbeats.
type fakeMonitorStore struct {
	mu         sync.Mutex
	results    []monitor.ConsumerResult
	heartbeats int
}

func (f *fakeMonitorStore) MarkConsumerResult(ctx context.Context, consumerKey string, result monitor.ConsumerResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return nil
}

func (f *fakeMonitorStore) SetHeartbeat(ctx context.Context, workerType, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeMonitorStore) consumerResults() []monitor.ConsumerResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]monitor.ConsumerResult, len(f.results))
	copy(out, f.results)
	return out
}

func (f *fakeMonitorStore) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats
}
