// Package api exposes the read-only monitor surface: the registered task
// and consumer catalog joined with each definition's monitor record, plus
// live worker heartbeats.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/taskfleet/internal/registry"
	"github.com/fieldline/taskfleet/internal/scheduler"
	"github.com/fieldline/taskfleet/internal/worker"
)

// MonitorStore is the read side of the monitor records. *monitor.Store
// satisfies it.
type MonitorStore interface {
	PeriodicRecord(ctx context.Context, taskKey string) map[string]string
	ConsumerRecord(ctx context.Context, consumerKey string) map[string]string
	Heartbeats(ctx context.Context, workerType string) map[string]string
}

// Handler serves the monitor endpoints.
type Handler struct {
	reg        *registry.Registry
	store      MonitorStore
	maxRetries int
	logger     *slog.Logger
}

// NewHandler creates a Handler. maxRetries is the global retry budget used
// when a consumer carries no override.
func NewHandler(reg *registry.Registry, store MonitorStore, maxRetries int, logger *slog.Logger) *Handler {
	return &Handler{
		reg:        reg,
		store:      store,
		maxRetries: maxRetries,
		logger:     logger.With("component", "api"),
	}
}

type periodicTaskResponse struct {
	Key             string                   `json:"key"`
	Name            string                   `json:"name"`
	IntervalSeconds float64                  `json:"interval_seconds"`
	Tags            []string                 `json:"tags"`
	DisplayColumns  []registry.DisplayColumn `json:"display_columns"`
	DisplayValues   map[string]string        `json:"display_values"`
	Monitor         map[string]string        `json:"monitor"`
}

type queueConsumerResponse struct {
	Key              string                   `json:"key"`
	Name             string                   `json:"name"`
	Stream           string                   `json:"stream"`
	Group            string                   `json:"group"`
	MaxRetries       int                      `json:"max_retries"`
	DeadLetterStream string                   `json:"dead_letter_stream"`
	Tags             []string                 `json:"tags"`
	DisplayColumns   []registry.DisplayColumn `json:"display_columns"`
	DisplayValues    map[string]string        `json:"display_values"`
	Monitor          map[string]string        `json:"monitor"`
}

type heartbeatsResponse struct {
	WorkerType string            `json:"worker_type"`
	Heartbeats map[string]string `json:"heartbeats"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ListPeriodicTasks returns every registered periodic task joined with its
// monitor record and resolved display values.
func (h *Handler) ListPeriodicTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tasks := h.reg.PeriodicTasks()
	out := make([]periodicTaskResponse, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, periodicTaskResponse{
			Key:             task.Key,
			Name:            task.Name,
			IntervalSeconds: task.Interval.Seconds(),
			Tags:            task.Tags,
			DisplayColumns:  task.DisplayColumns,
			DisplayValues:   registry.ResolveDisplayValues(ctx, task.DisplayValues),
			Monitor:         h.store.PeriodicRecord(ctx, task.Key),
		})
	}

	h.respondJSON(w, http.StatusOK, out)
}

// ListQueueConsumers returns every registered queue consumer joined with its
// monitor record and resolved display values.
func (h *Handler) ListQueueConsumers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	consumers := h.reg.QueueConsumers()
	out := make([]queueConsumerResponse, 0, len(consumers))
	for _, consumer := range consumers {
		out = append(out, queueConsumerResponse{
			Key:              consumer.Key,
			Name:             consumer.Name,
			Stream:           consumer.Stream,
			Group:            consumer.Group,
			MaxRetries:       consumer.EffectiveMaxRetries(h.maxRetries),
			DeadLetterStream: consumer.EffectiveDeadLetterStream(),
			Tags:             consumer.Tags,
			DisplayColumns:   consumer.DisplayColumns,
			DisplayValues:    registry.ResolveDisplayValues(ctx, consumer.DisplayValues),
			Monitor:          h.store.ConsumerRecord(ctx, consumer.Key),
		})
	}

	h.respondJSON(w, http.StatusOK, out)
}

// ListHeartbeats returns the live heartbeats for one worker type.
func (h *Handler) ListHeartbeats(w http.ResponseWriter, r *http.Request) {
	workerType := chi.URLParam(r, "type")
	if workerType != worker.WorkerType && workerType != scheduler.WorkerType {
		h.respondJSON(w, http.StatusNotFound,
			errorResponse{Error: "unknown worker type: " + workerType})
		return
	}

	h.respondJSON(w, http.StatusOK, heartbeatsResponse{
		WorkerType: workerType,
		Heartbeats: h.store.Heartbeats(r.Context(), workerType),
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
