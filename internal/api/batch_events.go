package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/aigrc/govevents/internal/api/middleware"
	"github.com/aigrc/govevents/internal/events"
	"github.com/aigrc/govevents/internal/eventstore"
	"github.com/aigrc/govevents/internal/validation"
)

// maxBatchElements mirrors eventstore.MaxBatchSize; a batch larger than this
// is rejected wholesale before any per-event work begins.
const maxBatchElements = eventstore.MaxBatchSize

// BatchEventsResponse is the body returned by POST /v1/events/batch. HTTP
// status is 200 regardless of per-event outcomes, provided the envelope
// itself parsed as a JSON array within the size limit.
type BatchEventsResponse struct {
	Accepted  int                `json:"accepted"`
	Rejected  int                `json:"rejected"`
	Duplicate int                `json:"duplicate"`
	Results   []BatchEventResult `json:"results"`
}

// BatchEventResult is one element's outcome, positioned at the same index
// as its corresponding input element.
type BatchEventResult struct {
	ID         string                      `json:"id,omitempty"`
	Status     string                      `json:"status"`
	ReceivedAt *time.Time                  `json:"receivedAt,omitempty"`
	Error      *validation.ValidationError `json:"error,omitempty"`
}

// handleBatchEvents implements POST /v1/events/batch: each element is
// validated and persisted independently, so one rejected or duplicate
// event never blocks its peers.
func (s *Server) handleBatchEvents(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	var raw []any

	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		status, body := SchemaInvalid("request body must be a JSON array of events")
		WriteError(w, r, s.logger, status, body)

		return
	}

	if len(raw) > maxBatchElements {
		status, body := BatchTooLarge("batch exceeds the maximum of 1000 events")
		WriteError(w, r, s.logger, status, body)

		return
	}

	results := make([]BatchEventResult, len(raw))

	validEvents := make([]*events.GovernanceEvent, 0, len(raw))
	validIndexes := make([]int, 0, len(raw))

	rejectedPreStore := 0

	for i, item := range raw {
		validationResult := s.validator.Validate(item)
		if !validationResult.Valid {
			err := validationResult.Errors[0]
			results[i] = BatchEventResult{Status: eventstore.StatusRejected, Error: &err}
			rejectedPreStore++

			continue
		}

		m, _ := item.(map[string]any)

		event, err := events.FromMap(m)
		if err != nil {
			results[i] = BatchEventResult{
				Status: eventstore.StatusRejected,
				Error: &validation.ValidationError{
					Code:    validation.CodeSchemaInvalid,
					Message: err.Error(),
				},
			}
			rejectedPreStore++

			continue
		}

		if err := s.verifyGoldenThreadSignature(event); err != nil {
			results[i] = BatchEventResult{
				Status: eventstore.StatusRejected,
				Error: &validation.ValidationError{
					Code:    validation.CodeSignatureInvalid,
					Message: err.Error(),
				},
			}
			rejectedPreStore++

			continue
		}

		validEvents = append(validEvents, event)
		validIndexes = append(validIndexes, i)
	}

	orgCtx, _ := middleware.GetOrgContext(r.Context())

	batch, err := s.store.StoreMany(r.Context(), validEvents, orgCtx.OrgID)
	if err != nil {
		s.logger.Error("failed to store event batch",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		status, body := InternalError("failed to store event batch")
		WriteError(w, r, s.logger, status, body)

		return
	}

	for j, item := range batch.Results {
		results[validIndexes[j]] = BatchEventResult{
			ID:         item.ID,
			Status:     item.Status,
			ReceivedAt: item.ReceivedAt,
			Error:      item.Error,
		}
	}

	resp := BatchEventsResponse{
		Accepted:  batch.Accepted,
		Rejected:  batch.Rejected + rejectedPreStore,
		Duplicate: batch.Duplicate,
		Results:   results,
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}
