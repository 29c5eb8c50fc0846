package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// fakeStreams is an in-memory stand-in for the Redis Streams commands used
// by the client. It models per-group delivery cursors and pending-entry
// lists closely enough to exercise enqueue/read/ack/dead-letter flows.
type fakeStreams struct {
	entries map[string][]redis.XMessage
	groups  map[string]map[string]*fakeGroup
	nextSeq int64

	// forced errors per command name ("xadd", "xgroup", "xreadgroup",
	// "xack", "xpending")
	failures map[string]error
}

type fakeGroup struct {
	cursor  int
	pending map[string]struct{}
}

func newFakeStreams() *fakeStreams {
	return &fakeStreams{
		entries:  make(map[string][]redis.XMessage),
		groups:   make(map[string]map[string]*fakeGroup),
		failures: make(map[string]error),
	}
}

func (f *fakeStreams) failWith(command string, err error) {
	f.failures[command] = err
}

func (f *fakeStreams) group(stream, group string) *fakeGroup {
	byGroup, ok := f.groups[stream]
	if !ok {
		return nil
	}
	return byGroup[group]
}

func (f *fakeStreams) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	if err := f.failures["xadd"]; err != nil {
		return redis.NewStringResult("", err)
	}

	f.nextSeq++
	id := fmt.Sprintf("%d-0", f.nextSeq)

	values, ok := a.Values.(map[string]any)
	if !ok {
		return redis.NewStringResult("", errors.New("unexpected values type"))
	}
	f.entries[a.Stream] = append(f.entries[a.Stream], redis.XMessage{ID: id, Values: values})

	if a.MaxLen > 0 && int64(len(f.entries[a.Stream])) > a.MaxLen {
		overflow := int64(len(f.entries[a.Stream])) - a.MaxLen
		f.entries[a.Stream] = f.entries[a.Stream][overflow:]
	}

	return redis.NewStringResult(id, nil)
}

func (f *fakeStreams) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	if err := f.failures["xgroup"]; err != nil {
		return redis.NewStatusResult("", err)
	}

	if f.groups[stream] == nil {
		f.groups[stream] = make(map[string]*fakeGroup)
	}
	if _, ok := f.groups[stream][group]; ok {
		return redis.NewStatusResult("", errors.New("BUSYGROUP Consumer Group name already exists"))
	}
	f.groups[stream][group] = &fakeGroup{pending: make(map[string]struct{})}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeStreams) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	if err := f.failures["xreadgroup"]; err != nil {
		return redis.NewXStreamSliceCmdResult(nil, err)
	}

	stream := a.Streams[0]
	g := f.group(stream, a.Group)
	if g == nil {
		return redis.NewXStreamSliceCmdResult(nil, errors.New("NOGROUP No such consumer group"))
	}

	available := f.entries[stream][g.cursor:]
	if len(available) == 0 {
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}

	count := int(a.Count)
	if count < 1 || count > len(available) {
		count = len(available)
	}

	delivered := make([]redis.XMessage, count)
	copy(delivered, available[:count])
	g.cursor += count
	for _, msg := range delivered {
		g.pending[msg.ID] = struct{}{}
	}

	return redis.NewXStreamSliceCmdResult([]redis.XStream{
		{Stream: stream, Messages: delivered},
	}, nil)
}

func (f *fakeStreams) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	if err := f.failures["xack"]; err != nil {
		return redis.NewIntResult(0, err)
	}

	g := f.group(stream, group)
	if g == nil {
		return redis.NewIntResult(0, nil)
	}

	var acked int64
	for _, id := range ids {
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			acked++
		}
	}
	return redis.NewIntResult(acked, nil)
}

func (f *fakeStreams) XPending(ctx context.Context, stream, group string) *redis.XPendingCmd {
	if err := f.failures["xpending"]; err != nil {
		return redis.NewXPendingResult(nil, err)
	}

	g := f.group(stream, group)
	if g == nil {
		return redis.NewXPendingResult(nil, errors.New("NOGROUP No such consumer group"))
	}
	return redis.NewXPendingResult(&redis.XPending{Count: int64(len(g.pending))}, nil)
}

// seedEntry appends a raw entry, bypassing the client's field encoding.
func (f *fakeStreams) seedEntry(stream string, fields map[string]any) string {
	f.nextSeq++
	id := strconv.FormatInt(f.nextSeq, 10) + "-0"
	f.entries[stream] = append(f.entries[stream], redis.XMessage{ID: id, Values: fields})
	return id
}
