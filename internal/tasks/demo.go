package tasks

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/fieldline/taskfleet/internal/registry"
)

// Demo events consumer identity. Other built-ins publish to this stream.
const (
	DemoConsumerKey = "demo_events"
	DemoEventStream = "taskfleet:events:demo"
	DemoEventGroup  = "demo-events"
)

// pendingCounter reports how many deliveries are awaiting acknowledgement.
// *queue.Client satisfies it.
type pendingCounter interface {
	PendingCount(ctx context.Context, stream, group string) int64
}

// NewDemoEventsConsumer builds the built-in consumer that logs every event
// it receives. Its display provider surfaces the live pending count and the
// retry budget in effect.
func NewDemoEventsConsumer(pending pendingCounter, globalMaxRetries int, logger *slog.Logger) registry.QueueConsumer {
	consumerLogger := logger.With("component", "demo_events")

	def := registry.QueueConsumer{
		Key:    DemoConsumerKey,
		Name:   "Demo events",
		Stream: DemoEventStream,
		Group:  DemoEventGroup,
		Tags:   []string{"builtin", "demo"},
		DisplayColumns: []registry.DisplayColumn{
			{Key: "pending", Label: "Pending"},
			{Key: "max_retries", Label: "Max retries"},
		},
		Handler: func(ctx context.Context, payload map[string]any, meta registry.Delivery) error {
			consumerLogger.Info("received event",
				"event", payload["event"],
				"message_id", meta.MessageID,
				"retry_count", meta.RetryCount)
			return nil
		},
	}

	def.DisplayValues = registry.DisplayContextFunc(func(ctx context.Context) (map[string]string, error) {
		return map[string]string{
			"pending":     strconv.FormatInt(pending.PendingCount(ctx, def.Stream, def.Group), 10),
			"max_retries": strconv.Itoa(def.EffectiveMaxRetries(globalMaxRetries)),
		}, nil
	})

	return def
}
