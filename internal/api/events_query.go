package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aigrc/govevents/internal/api/middleware"
	"github.com/aigrc/govevents/internal/eventstore"
)

// handleListEvents implements GET /v1/events: a flat, filtered listing of
// the authenticated org's events.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	filter := eventstore.ListFilter{
		AssetID:     queryParamOrEmpty(r, "asset_id"),
		Type:        queryParamOrEmpty(r, "type"),
		Criticality: queryParamOrEmpty(r, "criticality"),
		Limit:       parseIntParam(r, "limit", 0),
		Offset:      parseIntParam(r, "offset", 0),
	}

	if sinceStr := queryParamOrEmpty(r, "since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			status, body := SchemaInvalid("since must be an RFC3339 timestamp")
			WriteError(w, r, s.logger, status, body)

			return
		}

		filter.Since = &since
	}

	orgCtx, _ := middleware.GetOrgContext(r.Context())

	result, err := s.store.List(r.Context(), orgCtx.OrgID, filter)
	if err != nil {
		s.logger.Error("failed to list events",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		status, body := InternalError("failed to list events")
		WriteError(w, r, s.logger, status, body)

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"events": result})
}

// handleGetEvent implements GET /v1/events/{id}: 200 with the event, or 404
// if no event with that id is owned by the authenticated org.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())
	id := r.PathValue("id")

	orgCtx, _ := middleware.GetOrgContext(r.Context())

	event, err := s.store.FindByID(r.Context(), id, orgCtx.OrgID)
	if err != nil {
		if isNotFound(err) {
			status, body := NotFound("no event with that id")
			WriteError(w, r, s.logger, status, body)

			return
		}

		s.logger.Error("failed to find event",
			slog.String("correlation_id", correlationID),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)

		status, body := InternalError("failed to find event")
		WriteError(w, r, s.logger, status, body)

		return
	}

	s.writeJSON(w, r, http.StatusOK, event)
}

// handleListAssets implements GET /v1/assets: the distinct asset ids the
// authenticated org has emitted events for, paginated.
func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	limit := parseIntParam(r, "limit", 0)
	offset := parseIntParam(r, "offset", 0)

	orgCtx, _ := middleware.GetOrgContext(r.Context())

	assetIDs, err := s.store.ListAssetIDs(r.Context(), orgCtx.OrgID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list assets",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		status, body := InternalError("failed to list assets")
		WriteError(w, r, s.logger, status, body)

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"assets": assetIDs})
}

// parseIntParam parses a query parameter as an int, returning fallback if
// absent or malformed.
func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := queryParamOrEmpty(r, name)
	if raw == "" {
		return fallback
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return n
}

// isNotFound reports whether err is eventstore.ErrNotFound.
func isNotFound(err error) bool {
	return errors.Is(err, eventstore.ErrNotFound)
}
