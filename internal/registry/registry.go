package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Common registry errors.
var (
	// ErrDuplicateKey is returned when a definition is registered under a
	// key that is already present. Registration is not upsert; callers that
	// want idempotent bootstrapping catch this error and continue.
	ErrDuplicateKey = errors.New("definition key already registered")

	// ErrValidation is returned when a definition fails validation.
	// This is wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")
)

// PeriodicRunner is the body of a periodic task. It receives the worker's
// context and reports failure through the returned error.
type PeriodicRunner func(ctx context.Context) error

// QueueHandler is the body of a queue consumer. It receives the decoded
// message payload and delivery metadata for the message being processed.
type QueueHandler func(ctx context.Context, payload map[string]any, meta Delivery) error

// Delivery carries the stream coordinates of a message handed to a
// QueueHandler.
type Delivery struct {
	Stream     string
	Group      string
	MessageID  string
	RetryCount int
}

// DisplayColumn defines one dynamic column shown on the monitoring
// dashboard for a task or consumer.
type DisplayColumn struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// PeriodicTask is an immutable periodic task definition. Instances are
// created by Registry.RegisterPeriodicTask and live for the process
// lifetime; they are never persisted.
type PeriodicTask struct {
	Key            string
	Name           string
	Interval       time.Duration
	Runner         PeriodicRunner
	Tags           []string
	DisplayColumns []DisplayColumn
	DisplayValues  DisplayProvider
}

// QueueConsumer is an immutable queue consumer definition bound to one
// stream/group pair.
type QueueConsumer struct {
	Key    string
	Name   string
	Stream string
	Group  string
	Handler QueueHandler
	Tags   []string

	// MaxRetries overrides the global retry budget when non-nil.
	MaxRetries *int

	// DeadLetterStream overrides the default dead-letter stream name
	// (<stream>:dead) when non-empty.
	DeadLetterStream string

	DisplayColumns []DisplayColumn
	DisplayValues  DisplayProvider
}

// EffectiveMaxRetries resolves the retry budget for this consumer, falling
// back to the global default when no override is declared. Negative values
// are clamped to zero.
func (c QueueConsumer) EffectiveMaxRetries(globalDefault int) int {
	limit := globalDefault
	if c.MaxRetries != nil {
		limit = *c.MaxRetries
	}
	if limit < 0 {
		return 0
	}
	return limit
}

// EffectiveDeadLetterStream resolves the dead-letter stream for this
// consumer.
func (c QueueConsumer) EffectiveDeadLetterStream() string {
	if c.DeadLetterStream != "" {
		return c.DeadLetterStream
	}
	return c.Stream + ":dead"
}

// Registry is the process-local catalog of periodic task and queue consumer
// definitions. It is constructed once per process and passed by reference
// into the scheduler, queue worker, and monitor API entry points.
type Registry struct {
	mu        sync.RWMutex
	periodic  []PeriodicTask
	consumers []QueueConsumer
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{}
}

// RegisterPeriodicTask validates and adds a periodic task definition.
// Returns ErrDuplicateKey if the key is already registered and ErrValidation
// if required fields are missing or the interval is below one second.
func (r *Registry) RegisterPeriodicTask(def PeriodicTask) (PeriodicTask, error) {
	def.Key = strings.TrimSpace(def.Key)
	def.Name = strings.TrimSpace(def.Name)

	if def.Key == "" {
		return PeriodicTask{}, fmt.Errorf("%w: periodic task key cannot be empty", ErrValidation)
	}
	if def.Name == "" {
		return PeriodicTask{}, fmt.Errorf("%w: periodic task name cannot be empty", ErrValidation)
	}
	if def.Interval < time.Second {
		return PeriodicTask{}, fmt.Errorf("%w: periodic task interval must be at least 1s", ErrValidation)
	}
	if def.Runner == nil {
		return PeriodicTask{}, fmt.Errorf("%w: periodic task runner cannot be nil", ErrValidation)
	}

	def.Tags = normalizeTags(def.Tags)
	def.DisplayColumns = normalizeColumns(def.DisplayColumns)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.periodic {
		if existing.Key == def.Key {
			return PeriodicTask{}, fmt.Errorf("%w: periodic task %q", ErrDuplicateKey, def.Key)
		}
	}

	r.periodic = append(r.periodic, def)
	return def, nil
}

// RegisterQueueConsumer validates and adds a queue consumer definition.
// Returns ErrDuplicateKey if the key is already registered and ErrValidation
// if required fields are missing.
func (r *Registry) RegisterQueueConsumer(def QueueConsumer) (QueueConsumer, error) {
	def.Key = strings.TrimSpace(def.Key)
	def.Name = strings.TrimSpace(def.Name)
	def.Stream = strings.TrimSpace(def.Stream)
	def.Group = strings.TrimSpace(def.Group)
	def.DeadLetterStream = strings.TrimSpace(def.DeadLetterStream)

	if def.Key == "" {
		return QueueConsumer{}, fmt.Errorf("%w: queue consumer key cannot be empty", ErrValidation)
	}
	if def.Name == "" {
		return QueueConsumer{}, fmt.Errorf("%w: queue consumer name cannot be empty", ErrValidation)
	}
	if def.Stream == "" {
		return QueueConsumer{}, fmt.Errorf("%w: queue consumer stream cannot be empty", ErrValidation)
	}
	if def.Group == "" {
		return QueueConsumer{}, fmt.Errorf("%w: queue consumer group cannot be empty", ErrValidation)
	}
	if def.Handler == nil {
		return QueueConsumer{}, fmt.Errorf("%w: queue consumer handler cannot be nil", ErrValidation)
	}

	def.Tags = normalizeTags(def.Tags)
	def.DisplayColumns = normalizeColumns(def.DisplayColumns)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.consumers {
		if existing.Key == def.Key {
			return QueueConsumer{}, fmt.Errorf("%w: queue consumer %q", ErrDuplicateKey, def.Key)
		}
	}

	r.consumers = append(r.consumers, def)
	return def, nil
}

// PeriodicTasks returns a snapshot of all periodic task definitions in
// registration order.
func (r *Registry) PeriodicTasks() []PeriodicTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PeriodicTask, len(r.periodic))
	copy(out, r.periodic)
	return out
}

// QueueConsumers returns a snapshot of all queue consumer definitions in
// registration order.
func (r *Registry) QueueConsumers() []QueueConsumer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]QueueConsumer, len(r.consumers))
	copy(out, r.consumers)
	return out
}

// PeriodicTask looks up a periodic task definition by key.
func (r *Registry) PeriodicTask(key string) (PeriodicTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, def := range r.periodic {
		if def.Key == key {
			return def, true
		}
	}
	return PeriodicTask{}, false
}

// QueueConsumer looks up a queue consumer definition by key.
func (r *Registry) QueueConsumer(key string) (QueueConsumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, def := range r.consumers {
		if def.Key == key {
			return def, true
		}
	}
	return QueueConsumer{}, false
}

// Reset clears the catalog. This exists for test and reload support only;
// it is never called in steady-state operation.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.periodic = nil
	r.consumers = nil
}

// normalizeTags trims entries, drops empties, and removes duplicates while
// preserving first occurrence order.
func normalizeTags(raw []string) []string {
	var tags []string
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		tags = append(tags, value)
	}
	return tags
}

// normalizeColumns trims key/label, drops incomplete entries, and removes
// duplicate keys while preserving first occurrence order.
func normalizeColumns(raw []DisplayColumn) []DisplayColumn {
	var columns []DisplayColumn
	seen := make(map[string]struct{}, len(raw))
	for _, column := range raw {
		key := strings.TrimSpace(column.Key)
		label := strings.TrimSpace(column.Label)
		if key == "" || label == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		columns = append(columns, DisplayColumn{Key: key, Label: label})
	}
	return columns
}
