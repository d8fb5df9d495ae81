// Package api provides HTTP API server implementation for the governance
// events service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aigrc/govevents/internal/api/middleware"
)

const healthCheckTimeout = 2 * time.Second

// HealthStatus is the body returned by GET /v1/health.
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// setupRoutes registers every HTTP route the server serves.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	middleware.RegisterPublicEndpoint("/v1/health")

	mux.HandleFunc("POST /v1/events", s.handleSyncEvent)
	mux.HandleFunc("POST /v1/events/batch", s.handleBatchEvents)
	mux.HandleFunc("GET /v1/events", s.handleListEvents)
	mux.HandleFunc("GET /v1/events/{id}", s.handleGetEvent)
	mux.HandleFunc("GET /v1/assets", s.handleListAssets)

	mux.HandleFunc("/", s.handleNotFound)
}

// handleHealth reports basic service liveness. It bypasses authentication
// and rate limiting (registered as a public endpoint in setupRoutes) so
// orchestrator probes never need a credential.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Error("event store health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		status, body := InternalError("event store unavailable")
		WriteError(w, r, s.logger, status, body)

		return
	}

	s.writeJSON(w, r, http.StatusOK, HealthStatus{Status: "ok", Service: "govevents"})
}

// handleNotFound is the catch-all for unregistered paths.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	status, body := NotFound("no such endpoint: " + r.Method + " " + r.URL.Path)
	WriteError(w, r, s.logger, status, body)
}

// writeJSON marshals v and writes it with the given status, logging (but not
// surfacing to the client, since headers are already flushed) any encode
// failure.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	correlationID := middleware.GetCorrelationID(r.Context())

	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to marshal response body",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		status, body := InternalError("failed to encode response")
		WriteError(w, r, s.logger, status, body)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write response body",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// queryParamOrEmpty trims a query parameter, treating an all-whitespace
// value as absent.
func queryParamOrEmpty(r *http.Request, name string) string {
	return strings.TrimSpace(r.URL.Query().Get(name))
}
