// Package identity reads the worker identity contract every worker process
// receives from the supervisor through its environment.
package identity

import (
	"os"
	"strconv"
)

// Environment variable names of the worker identity contract.
const (
	EnvWorkerID    = "WORKER_ID"
	EnvWorkerIndex = "WORKER_INDEX"
	EnvWorkerTotal = "WORKER_TOTAL"
)

// Identity is one worker's place in the fleet.
type Identity struct {
	// ID is the worker's stable string identity (e.g. "queue-1").
	ID string

	// Index is the worker's 0-based shard index.
	Index int

	// Total is the shard count across workers of this type.
	Total int
}

// FromEnv reads the identity from the environment. Missing or malformed
// values fall back to defaults: "<workerType>-0", index 0, total 1.
func FromEnv(workerType string) Identity {
	id := os.Getenv(EnvWorkerID)
	if id == "" {
		id = workerType + "-0"
	}

	index, err := strconv.Atoi(os.Getenv(EnvWorkerIndex))
	if err != nil || index < 0 {
		index = 0
	}

	total, err := strconv.Atoi(os.Getenv(EnvWorkerTotal))
	if err != nil || total < 1 {
		total = 1
	}

	return Identity{ID: id, Index: index, Total: total}
}
