package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testStream = "taskfleet:queue:test"
	testGroup  = "taskfleet_test_group"
)

func newTestClient(fake *fakeStreams) *Client {
	return &Client{rdb: fake, maxLen: 10000}
}

func TestEnqueueReadGroupRoundTrip(t *testing.T) {
	fake := newFakeStreams()
	client := newTestClient(fake)
	ctx := context.Background()

	require.NoError(t, client.EnsureGroup(ctx, testStream, testGroup))

	id, err := client.Enqueue(ctx, testStream, map[string]any{"event": "x"}, EnqueueOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	messages, err := client.ReadGroup(ctx, testStream, testGroup, "worker-0:1", time.Second, 1)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	assert.Equal(t, id, messages[0].ID)
	assert.Equal(t, map[string]any{"event": "x"}, messages[0].Payload)
	assert.Equal(t, 0, messages[0].RetryCount)
	assert.Empty(t, messages[0].SourceMessageID)
}

func TestAckedMessageDoesNotReappear(t *testing.T) {
	fake := newFakeStreams()
	client := newTestClient(fake)
	ctx := context.Background()

	require.NoError(t, client.EnsureGroup(ctx, testStream, testGroup))
	id, err := client.Enqueue(ctx, testStream, map[string]any{"event": "x"}, EnqueueOptions{})
	require.NoError(t, err)

	messages, err := client.ReadGroup(ctx, testStream, testGroup, "worker-0:1", time.Second, 1)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	require.NoError(t, client.Ack(ctx, testStream, testGroup, id))

	messages, err = client.ReadGroup(ctx, testStream, testGroup, "worker-0:1", time.Second, 1)
	require.NoError(t, err)
	assert.Empty(t, messages)

	assert.Zero(t, client.PendingCount(ctx, testStream, testGroup))
}

func TestEnsureGroupIdempotent(t *testing.T) {
	fake := newFakeStreams()
	client := newTestClient(fake)
	ctx := context.Background()

	require.NoError(t, client.EnsureGroup(ctx, testStream, testGroup))

	// Second creation hits BUSYGROUP, which is swallowed.
	assert.NoError(t, client.EnsureGroup(ctx, testStream, testGroup))
}

func TestEnsureGroupPropagatesOtherErrors(t *testing.T) {
	fake := newFakeStreams()
	fake.failWith("xgroup", errors.New("connection refused"))
	client := newTestClient(fake)

	err := client.EnsureGroup(context.Background(), testStream, testGroup)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestReadGroupTimeoutYieldsEmpty(t *testing.T) {
	fake := newFakeStreams()
	client := newTestClient(fake)
	ctx := context.Background()

	require.NoError(t, client.EnsureGroup(ctx, testStream, testGroup))

	messages, err := client.ReadGroup(ctx, testStream, testGroup, "worker-0:1", 50*time.Millisecond, 1)
	assert.NoError(t, err)
	assert.Empty(t, messages)
}

func TestReadGroupMalformedFields(t *testing.T) {
	fake := newFakeStreams()
	client := newTestClient(fake)
	ctx := context.Background()

	require.NoError(t, client.EnsureGroup(ctx, testStream, testGroup))
	fake.seedEntry(testStream, map[string]any{
		"payload":           "{not json",
		"retry_count":       "many",
		"source_message_id": "",
	})

	messages, err := client.ReadGroup(ctx, testStream, testGroup, "worker-0:1", time.Second, 1)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	assert.Equal(t, map[string]any{}, messages[0].Payload)
	assert.Equal(t, 0, messages[0].RetryCount)
}

func TestEnqueueCarriesRetryProvenance(t *testing.T) {
	fake := newFakeStreams()
	client := newTestClient(fake)
	ctx := context.Background()

	require.NoError(t, client.EnsureGroup(ctx, testStream, testGroup))

	_, err := client.Enqueue(ctx, testStream, map[string]any{"event": "x"}, EnqueueOptions{
		RetryCount:      2,
		SourceMessageID: "41-0",
	})
	require.NoError(t, err)

	messages, err := client.ReadGroup(ctx, testStream, testGroup, "worker-0:1", time.Second, 1)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	assert.Equal(t, 2, messages[0].RetryCount)
	assert.Equal(t, "41-0", messages[0].SourceMessageID)
}

func TestDeadLetterRecordsProvenance(t *testing.T) {
	fake := newFakeStreams()
	client := newTestClient(fake)
	ctx := context.Background()

	deadStream := testStream + ":dead"
	deadID, err := client.DeadLetter(ctx, deadStream, testStream, testGroup, "7-0",
		map[string]any{"event": "x"}, "handler exploded", 4)
	require.NoError(t, err)
	require.NotEmpty(t, deadID)

	require.Len(t, fake.entries[deadStream], 1)
	values := fake.entries[deadStream][0].Values
	assert.Equal(t, `{"event":"x"}`, values["payload"])
	assert.Equal(t, "handler exploded", values["error"])
	assert.Equal(t, "4", values["retry_count"])
	assert.Equal(t, testStream, values["original_stream"])
	assert.Equal(t, testGroup, values["original_group"])
	assert.Equal(t, "7-0", values["original_message_id"])
}

func TestPendingCountNeverFails(t *testing.T) {
	fake := newFakeStreams()
	client := newTestClient(fake)
	ctx := context.Background()

	// No group at all: still 0, no panic, no error surface.
	assert.Zero(t, client.PendingCount(ctx, testStream, testGroup))

	require.NoError(t, client.EnsureGroup(ctx, testStream, testGroup))
	assert.Zero(t, client.PendingCount(ctx, testStream, testGroup))

	fake.failWith("xpending", errors.New("connection refused"))
	assert.Zero(t, client.PendingCount(ctx, testStream, testGroup))
}

func TestEnqueueTrimsToMaxLen(t *testing.T) {
	fake := newFakeStreams()
	client := &Client{rdb: fake, maxLen: 2}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.Enqueue(ctx, testStream, map[string]any{"n": i}, EnqueueOptions{})
		require.NoError(t, err)
	}

	assert.Len(t, fake.entries[testStream], 2)
}

func TestEnqueuePropagatesBackendErrors(t *testing.T) {
	fake := newFakeStreams()
	fake.failWith("xadd", errors.New("connection refused"))
	client := newTestClient(fake)

	_, err := client.Enqueue(context.Background(), testStream, map[string]any{}, EnqueueOptions{})
	assert.Error(t, err)
}
