// Package registry holds the process-local catalog of periodic task and
// queue consumer definitions. Definitions are registered at process start,
// are immutable once accepted, and are consumed by the periodic scheduler,
// the queue worker, and the monitor API.
package registry
