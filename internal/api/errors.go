// Package api provides HTTP API server implementation for the governance
// events service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aigrc/govevents/internal/api/middleware"
	"github.com/aigrc/govevents/internal/validation"
)

// ErrorBody is the uniform wire error shape: {error:{code,message,field?,schemaPath?}}.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable EVT_* (or AUTH_*) code plus optional
// field-level detail for validation failures.
type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	SchemaPath string `json:"schemaPath,omitempty"`
}

// NewErrorBody builds an ErrorBody from a code and message.
func NewErrorBody(code, message string) *ErrorBody {
	return &ErrorBody{Error: ErrorDetail{Code: code, Message: message}}
}

// WithField sets the field the error pertains to, for validation failures.
func (b *ErrorBody) WithField(field string) *ErrorBody {
	b.Error.Field = field

	return b
}

// WithSchemaPath sets the JSON schema path the error pertains to.
func (b *ErrorBody) WithSchemaPath(schemaPath string) *ErrorBody {
	b.Error.SchemaPath = schemaPath

	return b
}

// FromValidationError converts a validation.ValidationError into an ErrorBody
// carrying the same code, message, field, and schema path.
func FromValidationError(ve validation.ValidationError) *ErrorBody {
	body := NewErrorBody(ve.Code, ve.Message)
	if ve.Field != "" {
		body = body.WithField(ve.Field)
	}

	if ve.SchemaPath != "" {
		body = body.WithSchemaPath(ve.SchemaPath)
	}

	return body
}

// WriteError writes the uniform error envelope with the given HTTP status.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, body *ErrorBody) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", status),
		)

		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// Common error constructors for frequently used responses.

// InternalError builds a 500 response with the closed EVT_INTERNAL code.
func InternalError(detail string) (int, *ErrorBody) {
	return http.StatusInternalServerError, NewErrorBody(validation.CodeInternal, detail)
}

// SchemaInvalid builds a 400 response for a structurally malformed body.
func SchemaInvalid(detail string) (int, *ErrorBody) {
	return http.StatusBadRequest, NewErrorBody(validation.CodeSchemaInvalid, detail)
}

// NotFound builds a 404 response for an unknown event or asset id.
func NotFound(detail string) (int, *ErrorBody) {
	return http.StatusNotFound, NewErrorBody("EVT_NOT_FOUND", detail)
}

// BatchTooLarge builds a 413 response for an oversized batch envelope.
func BatchTooLarge(detail string) (int, *ErrorBody) {
	return http.StatusRequestEntityTooLarge, NewErrorBody(validation.CodeBatchTooLarge, detail)
}

// OrgMismatch builds a 403 response for an event whose orgId does not match
// the authenticated principal's org.
func OrgMismatch(detail string) (int, *ErrorBody) {
	return http.StatusForbidden, NewErrorBody(validation.CodeOrgMismatch, detail)
}

// SignatureInvalid builds a 400 response for a Golden Thread signature that
// fails cryptographic verification.
func SignatureInvalid(detail string) (int, *ErrorBody) {
	return http.StatusBadRequest, NewErrorBody(validation.CodeSignatureInvalid, detail)
}
