package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeKV is an in-memory stand-in for the Redis hash/string commands used
// by the store. String keys carry an expiry honored against the fake clock
// so heartbeat TTL behavior can be tested without waiting.
type fakeKV struct {
	hashes  map[string]map[string]string
	strings map[string]fakeString
	clock   time.Time

	// err, when set, is returned by every command.
	err error
}

type fakeString struct {
	value     string
	expiresAt time.Time
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		hashes:  make(map[string]map[string]string),
		strings: make(map[string]fakeString),
		clock:   time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeKV) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *fakeKV) alive(s fakeString) bool {
	return s.expiresAt.IsZero() || f.clock.Before(s.expiresAt)
}

func (f *fakeKV) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}

	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	if len(values) == 1 {
		if m, ok := values[0].(map[string]interface{}); ok {
			for field, value := range m {
				f.hashes[key][field] = toString(value)
			}
			return redis.NewIntResult(int64(len(m)), nil)
		}
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.hashes[key][toString(values[i])] = toString(values[i+1])
	}
	return redis.NewIntResult(int64(len(values) / 2), nil)
}

func (f *fakeKV) HIncrBy(ctx context.Context, key, field string, incr int64) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}

	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	current, _ := strconv.ParseInt(f.hashes[key][field], 10, 64)
	current += incr
	f.hashes[key][field] = strconv.FormatInt(current, 10)
	return redis.NewIntResult(current, nil)
}

func (f *fakeKV) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	if f.err != nil {
		return redis.NewMapStringStringResult(nil, f.err)
	}

	result := make(map[string]string, len(f.hashes[key]))
	for field, value := range f.hashes[key] {
		result[field] = value
	}
	return redis.NewMapStringStringResult(result, nil)
}

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}

	entry := fakeString{value: toString(value)}
	if expiration > 0 {
		entry.expiresAt = f.clock.Add(expiration)
	}
	f.strings[key] = entry
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}

	entry, ok := f.strings[key]
	if !ok || !f.alive(entry) {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(entry.value, nil)
}

func (f *fakeKV) Keys(ctx context.Context, pattern string) *redis.StringSliceCmd {
	if f.err != nil {
		return redis.NewStringSliceResult(nil, f.err)
	}

	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for key, entry := range f.strings {
		if strings.HasPrefix(key, prefix) && f.alive(entry) {
			keys = append(keys, key)
		}
	}
	return redis.NewStringSliceResult(keys, nil)
}

func (f *fakeKV) MGet(ctx context.Context, keys ...string) *redis.SliceCmd {
	if f.err != nil {
		return redis.NewSliceResult(nil, f.err)
	}

	values := make([]interface{}, len(keys))
	for i, key := range keys {
		if entry, ok := f.strings[key]; ok && f.alive(entry) {
			values[i] = entry.value
		}
	}
	return redis.NewSliceResult(values, nil)
}

func toString(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case []byte:
		return string(value)
	default:
		return fmt.Sprint(v)
	}
}
