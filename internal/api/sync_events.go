package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aigrc/govevents/internal/api/middleware"
	"github.com/aigrc/govevents/internal/events"
	"github.com/aigrc/govevents/internal/eventstore"
	"github.com/aigrc/govevents/internal/validation"
)

// statusAccepted is the only status word the sync channel ever reports in
// its response body; HTTP status code alone (201 vs 200) distinguishes a
// fresh acceptance from a replayed duplicate.
const statusAccepted = "accepted"

// SyncEventResponse is the body returned by a successful POST /v1/events:
// the stored event plus the outcome's status word.
type SyncEventResponse struct {
	*events.GovernanceEvent
	Status string `json:"status"`
}

// handleSyncEvent implements POST /v1/events: decode, validate, persist,
// and map the outcome to its HTTP status per the sync channel's contract.
// 201 on first acceptance, 200 on a replayed duplicate, 400 on any
// validation failure, 403 on an organization mismatch, 500 on a downstream
// store failure. A single event body is never large enough to warrant 413.
func (s *Server) handleSyncEvent(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	var raw any

	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		status, body := SchemaInvalid("request body must be valid JSON")
		WriteError(w, r, s.logger, status, body)

		return
	}

	event, err := s.validator.ValidateOrThrow(raw)
	if err != nil {
		var invalid *validation.InvalidError
		if errors.As(err, &invalid) {
			WriteError(w, r, s.logger, http.StatusBadRequest, FromValidationError(invalid.Err))

			return
		}

		s.logger.Error("unexpected validation error",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		status, body := InternalError("failed to validate event")
		WriteError(w, r, s.logger, status, body)

		return
	}

	if err := s.verifyGoldenThreadSignature(event); err != nil {
		status, body := SignatureInvalid(err.Error())
		WriteError(w, r, s.logger, status, body)

		return
	}

	orgCtx, _ := middleware.GetOrgContext(r.Context())

	result, err := s.store.Store(r.Context(), event, orgCtx.OrgID)
	if err != nil {
		switch {
		case errors.Is(err, eventstore.ErrOrgMismatch):
			status, body := OrgMismatch("event orgId does not match the authenticated organization")
			WriteError(w, r, s.logger, status, body)
		default:
			s.logger.Error("failed to store event",
				slog.String("correlation_id", correlationID),
				slog.String("id", event.ID),
				slog.String("error", err.Error()),
			)

			status, body := InternalError("failed to store event")
			WriteError(w, r, s.logger, status, body)
		}

		return
	}

	resp := SyncEventResponse{GovernanceEvent: result.Event, Status: statusAccepted}

	httpStatus := http.StatusOK
	if result.IsNew {
		httpStatus = http.StatusCreated
	}

	s.writeJSON(w, r, httpStatus, resp)
}
