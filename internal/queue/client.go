package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// deadLetterMaxLen caps dead-letter stream growth (approximate trim).
const deadLetterMaxLen = 10000

// streamsAPI is the subset of go-redis stream commands the client uses.
// *redis.Client satisfies it; tests substitute a fake.
type streamsAPI interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XPending(ctx context.Context, stream, group string) *redis.XPendingCmd
}

// Client is a thin wrapper over the Redis Streams commands that back the
// durable queue.
type Client struct {
	rdb streamsAPI

	// maxLen caps stream length on enqueue (approximate trim); zero
	// disables trimming.
	maxLen int64
}

// NewClient creates a queue client. maxLen bounds stream growth on enqueue;
// pass 0 to disable trimming.
func NewClient(rdb redis.Cmdable, maxLen int) *Client {
	return &Client{rdb: rdb, maxLen: int64(maxLen)}
}

// EnqueueOptions carries the retry provenance for re-enqueued messages.
// The zero value describes an original message.
type EnqueueOptions struct {
	RetryCount      int
	SourceMessageID string
}

// Enqueue appends a message to the stream and returns the new entry id.
func (c *Client) Enqueue(ctx context.Context, stream string, payload map[string]any, opts EnqueueOptions) (string, error) {
	retryCount := opts.RetryCount
	if retryCount < 0 {
		retryCount = 0
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			fieldPayload:         encodePayload(payload),
			fieldRetryCount:      strconv.Itoa(retryCount),
			fieldSourceMessageID: opts.SourceMessageID,
		},
	}
	if c.maxLen > 0 {
		args.MaxLen = c.maxLen
		args.Approx = true
	}

	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue message to stream %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group at the beginning of the stream,
// creating the stream itself if it does not exist. A group that already
// exists is not an error; everything else propagates.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create group %s on stream %s: %w", group, stream, err)
	}
	return nil
}

// ReadGroup performs a blocking read of up to count new messages for the
// group, waiting up to block. A timeout yields an empty slice, not an error.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration, count int) ([]Message, error) {
	if count < 1 {
		count = 1
	}

	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read group %s on stream %s: %w", group, stream, err)
	}

	var messages []Message
	for _, s := range streams {
		for _, entry := range s.Messages {
			fields := make(map[string]string, len(entry.Values))
			for k, v := range entry.Values {
				fields[k] = fmt.Sprint(v)
			}
			messages = append(messages, parseMessage(entry.ID, fields))
		}
	}
	return messages, nil
}

// Ack marks a message as durably processed for the group, removing it from
// the group's pending-entries list.
func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	if err := c.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("failed to ack message %s on stream %s: %w", id, stream, err)
	}
	return nil
}

// DeadLetter appends a structured record to the dead-letter stream carrying
// the full failure provenance of the original message.
func (c *Client) DeadLetter(ctx context.Context, deadStream, originalStream, originalGroup, id string, payload map[string]any, handlerErr string, retryCount int) (string, error) {
	if retryCount < 0 {
		retryCount = 0
	}

	deadID, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: deadStream,
		MaxLen: deadLetterMaxLen,
		Approx: true,
		Values: map[string]any{
			fieldPayload:        encodePayload(payload),
			fieldError:          handlerErr,
			fieldRetryCount:     strconv.Itoa(retryCount),
			fieldOriginalStream: originalStream,
			fieldOriginalGroup:  originalGroup,
			fieldOriginalID:     id,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to dead-letter message %s to stream %s: %w", id, deadStream, err)
	}
	return deadID, nil
}

// PendingCount reports the number of outstanding unacknowledged entries for
// the group. This is a monitoring signal, not a control input: any backend
// error yields 0.
func (c *Client) PendingCount(ctx context.Context, stream, group string) int64 {
	pending, err := c.rdb.XPending(ctx, stream, group).Result()
	if err != nil || pending == nil {
		return 0
	}
	return pending.Count
}
