// Package monitor is the read/write façade over the Redis keys that record
// per-task and per-consumer execution state and per-worker heartbeats.
// Records are mutated only by the worker currently executing the task or
// consumer; the monitor API reads them to render dashboards.
package monitor
