package httphandler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/moodlink/internal/application"
)

const maxBodyBytes = 32 << 20

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	sessions *application.SessionManager
	// edits is nil when no compute provider is configured.
	edits   *application.EditOrchestrator
	db      Pinger
	metrics http.Handler
	logger  *slog.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithReadiness makes /health ping p and report unhealthy when it fails.
func WithReadiness(p Pinger) Option {
	return func(h *Handler) { h.db = p }
}

// WithMetricsHandler serves m at /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a Handler. edits may be nil, in which case edit jobs
// are rejected with 503.
func NewHandler(sessions *application.SessionManager, edits *application.EditOrchestrator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		sessions: sessions,
		edits:    edits,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request id, logging and recovery middleware. Extra middleware wraps
// the mux directly, inside recovery.
func NewServeMux(h *Handler, logger *slog.Logger, middleware ...func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /connections", h.Connect)
	mux.HandleFunc("DELETE /connections", h.Disconnect)
	mux.HandleFunc("GET /connections/status", h.Status)
	mux.HandleFunc("GET /connections/collections", h.ListCollections)
	mux.HandleFunc("GET /connections/collections/{id}/items", h.ListItems)
	mux.HandleFunc("POST /edit-jobs", h.SubmitEdit)
	mux.HandleFunc("GET /health", h.Health)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	var wrapped http.Handler = mux
	for _, mw := range middleware {
		wrapped = mw(wrapped)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped = recoveryMiddleware(logger, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// Health reports liveness, and readiness of the store when one is configured.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.ErrorContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Timestamp: now})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: now})
}
