// Package worker runs the queue consumer loop: it pulls messages for every
// registered consumer from its stream/group, dispatches them to the
// handler, and applies the retry/dead-letter policy. Delivery is
// at-least-once; retries are re-enqueued as new stream entries so the audit
// trail stays linear.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/fieldline/taskfleet/internal/identity"
	"github.com/fieldline/taskfleet/internal/monitor"
	"github.com/fieldline/taskfleet/internal/queue"
	"github.com/fieldline/taskfleet/internal/registry"
)

// WorkerType is the heartbeat namespace for queue workers.
const WorkerType = "queue"

const (
	defaultIdleSleep      = 200 * time.Millisecond
	defaultHeartbeatEvery = 10 * time.Second
)

// LogClient is the subset of durable log operations the worker uses.
// *queue.Client satisfies it.
type LogClient interface {
	Enqueue(ctx context.Context, stream string, payload map[string]any, opts queue.EnqueueOptions) (string, error)
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration, count int) ([]queue.Message, error)
	Ack(ctx context.Context, stream, group, id string) error
	DeadLetter(ctx context.Context, deadStream, originalStream, originalGroup, id string, payload map[string]any, handlerErr string, retryCount int) (string, error)
}

// MonitorStore is the subset of monitor operations the worker uses.
// *monitor.Store satisfies it.
type MonitorStore interface {
	MarkConsumerResult(ctx context.Context, consumerKey string, result monitor.ConsumerResult) error
	SetHeartbeat(ctx context.Context, workerType, workerID string) error
}

// Worker consumes messages for every registered queue consumer.
type Worker struct {
	reg      *registry.Registry
	log      LogClient
	store    MonitorStore
	logger   *slog.Logger
	identity identity.Identity

	// consumerName identifies this process to the consumer-group protocol.
	consumerName string

	// maxRetries is the global retry budget for consumers without an
	// override.
	maxRetries int

	// block bounds each blocking group read.
	block time.Duration

	idleSleep      time.Duration
	heartbeatEvery time.Duration
	now            func() time.Time
}

// NewWorker creates a queue worker. block bounds each group read; it is
// floored at 100ms to keep the loop responsive to shutdown.
func NewWorker(reg *registry.Registry, log LogClient, store MonitorStore, id identity.Identity, maxRetries int, block time.Duration, logger *slog.Logger) *Worker {
	if block < 100*time.Millisecond {
		block = 100 * time.Millisecond
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Worker{
		reg:            reg,
		log:            log,
		store:          store,
		logger:         logger.With("component", "queue_worker", "worker_id", id.ID),
		identity:       id,
		consumerName:   id.ID + ":" + strconv.Itoa(os.Getpid()),
		maxRetries:     maxRetries,
		block:          block,
		idleSleep:      defaultIdleSleep,
		heartbeatEvery: defaultHeartbeatEvery,
		now:            time.Now,
	}
}

// Run consumes messages until the context is cancelled. Handler failures
// are routed per the retry/dead-letter policy and never stop the loop;
// durable-log and monitor-store write failures do.
func (w *Worker) Run(ctx context.Context) error {
	consumers := w.reg.QueueConsumers()
	if len(consumers) == 0 {
		w.logger.Warn("no queue consumers registered, idling with heartbeats only")
	} else {
		w.logger.Info("queue worker starting",
			"consumers", len(consumers),
			"consumer_name", w.consumerName)
	}

	for _, def := range consumers {
		if err := w.log.EnsureGroup(ctx, def.Stream, def.Group); err != nil {
			return fmt.Errorf("failed to ensure group for consumer %s: %w", def.Key, err)
		}
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

		processed := false
		for _, def := range consumers {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			messages, err := w.log.ReadGroup(ctx, def.Stream, def.Group, w.consumerName, w.block, 1)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("group read failed for consumer %s: %w", def.Key, err)
			}
			if len(messages) == 0 {
				continue
			}

			processed = true
			for _, msg := range messages {
				if err := w.handleMessage(ctx, def, msg); err != nil {
					return err
				}
			}
		}

		// No consumer yielded a message this sweep; back off briefly so an
		// idle worker does not busy-spin.
		if !processed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.idleSleep):
			}
		}
	}
}

// handleMessage dispatches one message and applies the routing decision.
// The returned error is non-nil only for cancellation or backend write
// failures.
func (w *Worker) handleMessage(ctx context.Context, def registry.QueueConsumer, msg queue.Message) error {
	started := w.now()
	handlerErr := w.dispatch(ctx, def, msg)

	// Cancellation propagates: it is intentional shutdown, not a failure.
	if handlerErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	outcome := queue.AsOutcome(handlerErr)
	maxRetries := def.EffectiveMaxRetries(w.maxRetries)
	routing := queue.Decide(outcome, msg.RetryCount, maxRetries)

	result := monitor.ConsumerResult{
		ConsumerName: def.Name,
		Stream:       def.Stream,
		Group:        def.Group,
		WorkerID:     w.identity.ID,
		MessageID:    msg.ID,
	}

	switch routing {
	case queue.RouteAck:
		if err := w.log.Ack(ctx, def.Stream, def.Group, msg.ID); err != nil {
			return err
		}
		result.Status = monitor.StatusSuccess

	case queue.RouteRetry:
		nextRetry := msg.RetryCount + 1
		_, err := w.log.Enqueue(ctx, def.Stream, msg.Payload, queue.EnqueueOptions{
			RetryCount:      nextRetry,
			SourceMessageID: msg.ID,
		})
		if err != nil {
			return fmt.Errorf("failed to re-enqueue message %s: %w", msg.ID, err)
		}
		if err := w.log.Ack(ctx, def.Stream, def.Group, msg.ID); err != nil {
			return err
		}
		result.Status = monitor.StatusFailed
		result.Error = outcome.Err.Error()
		result.Retried = true
		w.logger.Warn("message failed, re-enqueued for retry",
			"consumer_key", def.Key,
			"message_id", msg.ID,
			"retry_count", nextRetry,
			"error", outcome.Err)

	case queue.RouteDeadLetter:
		nextRetry := msg.RetryCount + 1
		_, err := w.log.DeadLetter(ctx, def.EffectiveDeadLetterStream(), def.Stream, def.Group, msg.ID,
			msg.Payload, outcome.Err.Error(), nextRetry)
		if err != nil {
			return fmt.Errorf("failed to dead-letter message %s: %w", msg.ID, err)
		}
		// The original must not remain pending forever.
		if err := w.log.Ack(ctx, def.Stream, def.Group, msg.ID); err != nil {
			return err
		}
		result.Status = monitor.StatusFailed
		result.Error = outcome.Err.Error()
		result.DeadLettered = true
		w.logger.Error("message exhausted retries, dead-lettered",
			"consumer_key", def.Key,
			"message_id", msg.ID,
			"retry_count", msg.RetryCount,
			"max_retries", maxRetries,
			"error", outcome.Err)
	}

	result.Duration = w.now().Sub(started)
	if err := w.store.MarkConsumerResult(ctx, def.Key, result); err != nil {
		return err
	}
	return nil
}

// dispatch invokes the consumer handler, converting a panic into an error
// so a broken handler cannot crash the worker loop.
func (w *Worker) dispatch(ctx context.Context, def registry.QueueConsumer, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return def.Handler(ctx, msg.Payload, registry.Delivery{
		Stream:     def.Stream,
		Group:      def.Group,
		MessageID:  msg.ID,
		RetryCount: msg.RetryCount,
	})
}
