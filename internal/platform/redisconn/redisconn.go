// Package redisconn manages the process-wide Redis client used for the
// durable log streams and the monitor store. The client is a lazily
// constructed singleton so every component in a worker process shares one
// connection pool.
package redisconn

import (
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	mu     sync.Mutex
	client *redis.Client
)

// Get returns the process-wide Redis client, constructing it on first use.
// Concurrent first calls are serialized so only one client is ever built.
func Get(url string) (*redis.Client, error) {
	mu.Lock()
	defer mu.Unlock()

	if client != nil {
		return client, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client = redis.NewClient(opts)
	return client, nil
}

// Close shuts down the shared client. Subsequent Get calls construct a
// fresh one.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if client == nil {
		return nil
	}

	err := client.Close()
	client = nil
	return err
}
