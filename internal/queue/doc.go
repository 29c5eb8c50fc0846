// Package queue wraps the Redis Streams operations that back the durable
// message queue: enqueue, consumer-group management, blocking group reads,
// acknowledgment, dead-letter writes, and pending-entry counts. It also
// defines the handler outcome type and the pure retry/dead-letter routing
// decision applied by the queue worker.
package queue
