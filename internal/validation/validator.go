// Package validation runs incoming GovernanceEvent payloads through the
// ordered structural, semantic, and integrity checks required before the
// Event Store will accept them, producing a stable EVT_* error taxonomy.
package validation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/aigrc/govevents/internal/canon"
	"github.com/aigrc/govevents/internal/events"
	"github.com/aigrc/govevents/internal/goldenthread"
)

// Closed EVT_* error codes, the external wire contract for validation and
// store failures.
const (
	CodeIDInvalid            = "EVT_ID_INVALID"
	CodeSchemaInvalid        = "EVT_SCHEMA_INVALID"
	CodeSchemaVersionUnknown = "EVT_SCHEMA_VERSION_UNKNOWN"
	CodeTypeInvalid          = "EVT_TYPE_INVALID"
	CodeCategoryMismatch     = "EVT_CATEGORY_MISMATCH"
	CodeGoldenThreadMissing  = "EVT_GOLDEN_THREAD_MISSING"
	CodeGoldenThreadInvalid  = "EVT_GOLDEN_THREAD_INVALID"
	CodeOrphanNoteTooShort   = "EVT_ORPHAN_NOTE_TOO_SHORT"
	CodeHashMissing          = "EVT_HASH_MISSING"
	CodeHashInvalid          = "EVT_HASH_INVALID"
	CodeHashFormat           = "EVT_HASH_FORMAT"
	CodeSignatureInvalid     = "EVT_SIGNATURE_INVALID"
	// CodeReceivedAtRejected is the single stable wire code for a producer
	// submitting receivedAt on ingress. The source material also names
	// EVT_RECEIVED_AT_SET in one handler path; this package treats the two
	// as aliases and only ever emits CodeReceivedAtRejected.
	CodeReceivedAtRejected = "EVT_RECEIVED_AT_REJECTED"
	CodeDataEmpty          = "EVT_DATA_EMPTY"
	CodeDuplicate          = "EVT_DUPLICATE"
	CodeRateLimited        = "EVT_RATE_LIMITED"
	CodeOrgMismatch        = "EVT_ORG_MISMATCH"
	CodeBatchTooLarge      = "EVT_BATCH_TOO_LARGE"
	CodeInternal           = "EVT_INTERNAL"
)

var idPattern = regexp.MustCompile(`^evt_[0-9a-f]{32}$`)

var schemaVersionPattern = regexp.MustCompile(`^aigrc-events@\d+\.\d+\.\d+$`)

// ValidationError is one coded failure, matching the §6 wire error shape.
type ValidationError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	SchemaPath string `json:"schemaPath,omitempty"`
}

func newErr(code, message, field string) ValidationError {
	return ValidationError{Code: code, Message: message, Field: field}
}

// Result is the outcome of Validate: valid iff Errors is empty.
type Result struct {
	Valid  bool
	Errors []ValidationError
}

// ErrInvalid is the sentinel wrapped by ValidateOrThrow's returned error.
var ErrInvalid = errors.New("event failed validation")

// Validator runs the ordered C5 pipeline over a decoded request body.
type Validator struct{}

// NewValidator constructs a stateless Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate runs the six-step pipeline over raw, the JSON-decoded request
// body. Steps 1-3 halt further checking on failure (a structurally broken
// event cannot be meaningfully checked for category/orphan/hash issues);
// steps 4-6 accumulate independently.
func (v *Validator) Validate(raw any) Result {
	m, ok := raw.(map[string]any)
	if !ok {
		return Result{Errors: []ValidationError{
			newErr(CodeIDInvalid, "event body must be a JSON object", ""),
		}}
	}

	if _, present := m["receivedAt"]; present {
		return Result{Errors: []ValidationError{
			newErr(CodeReceivedAtRejected, "receivedAt must not be set by the producer", "receivedAt"),
		}}
	}

	if errs := validateStructure(m); len(errs) > 0 {
		return Result{Errors: errs}
	}

	event, err := events.FromMap(m)
	if err != nil {
		return Result{Errors: []ValidationError{
			newErr(CodeSchemaInvalid, err.Error(), ""),
		}}
	}

	var errs []ValidationError

	if err := validateCategory(event); err != nil {
		errs = append(errs, *err)
	}

	if err := validateOrphanNote(event); err != nil {
		errs = append(errs, *err)
	}

	if err := validateHash(m, event); err != nil {
		errs = append(errs, *err)
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// validateStructure checks the envelope's required fields and formats
// without constructing a typed event, so a malformed field never panics the
// json round-trip in step 3's caller.
func validateStructure(m map[string]any) []ValidationError {
	var errs []ValidationError

	id, _ := m["id"].(string)
	if id == "" || !idPattern.MatchString(id) {
		errs = append(errs, newErr(CodeIDInvalid, "id must match evt_ followed by 32 hex characters", "id"))
	}

	schemaVersion, _ := m["schemaVersion"].(string)
	if schemaVersion == "" || !schemaVersionPattern.MatchString(schemaVersion) {
		errs = append(errs, newErr(CodeSchemaVersionUnknown, "schemaVersion must be aigrc-events@MAJOR.MINOR.PATCH", "schemaVersion"))
	}

	eventType, _ := m["type"].(string)
	if eventType == "" || !events.IsValidType(eventType) {
		errs = append(errs, newErr(CodeTypeInvalid, "type is not one of the closed event types", "type"))
	}

	goldenThreadErrs := validateGoldenThreadShape(m["goldenThread"])
	errs = append(errs, goldenThreadErrs...)

	hash, _ := m["hash"].(string)
	switch {
	case hash == "":
		errs = append(errs, newErr(CodeHashMissing, "hash is required", "hash"))
	case !strings.HasPrefix(hash, canon.HashPrefix) || len(hash) != len(canon.HashPrefix)+sha256HexLen:
		errs = append(errs, newErr(CodeHashFormat, "hash must be sha256: followed by 64 hex characters", "hash"))
	}

	data, ok := m["data"].(map[string]any)
	if !ok || len(data) == 0 {
		errs = append(errs, newErr(CodeDataEmpty, "data must be an object with at least one entry", "data"))
	}

	if sig, present := m["signature"]; present {
		sigStr, isStr := sig.(string)
		if !isStr || !strings.Contains(sigStr, ":") {
			errs = append(errs, newErr(CodeSignatureInvalid, "signature must be ALG:BASE64", "signature"))
		}
	}

	return errs
}

const sha256HexLen = 64

func validateGoldenThreadShape(raw any) []ValidationError {
	gt, ok := raw.(map[string]any)
	if !ok {
		return []ValidationError{newErr(CodeGoldenThreadMissing, "goldenThread is required", "goldenThread")}
	}

	threadType, _ := gt["type"].(string)

	switch threadType {
	case "linked":
		if _, ok := gt["linked"]; !ok {
			return []ValidationError{newErr(CodeGoldenThreadInvalid, "linked goldenThread missing linked object", "goldenThread.linked")}
		}

		return nil
	case "orphan":
		if _, ok := gt["orphan"]; !ok {
			return []ValidationError{newErr(CodeGoldenThreadInvalid, "orphan goldenThread missing orphan object", "goldenThread.orphan")}
		}

		return nil
	default:
		return []ValidationError{newErr(CodeGoldenThreadInvalid, "goldenThread.type must be linked or orphan", "goldenThread.type")}
	}
}

func validateCategory(e *events.GovernanceEvent) *ValidationError {
	category, err := events.CategoryOf(e.Type)
	if err != nil {
		err := newErr(CodeTypeInvalid, err.Error(), "type")

		return &err
	}

	if category != e.Category {
		err := newErr(CodeCategoryMismatch, "category does not match CATEGORY_OF(type)", "category")

		return &err
	}

	return nil
}

func validateOrphanNote(e *events.GovernanceEvent) *ValidationError {
	if err := e.GoldenThread.Validate(); err != nil {
		if errors.Is(err, goldenthread.ErrOrphanNoteTooShort) {
			err := newErr(CodeOrphanNoteTooShort, err.Error(), "goldenThread.orphan.remediationNote")

			return &err
		}

		err := newErr(CodeGoldenThreadInvalid, err.Error(), "goldenThread")

		return &err
	}

	return nil
}

func validateHash(m map[string]any, e *events.GovernanceEvent) *ValidationError {
	bytes, err := canon.Canonicalize(m)
	if err != nil {
		err := newErr(CodeInternal, err.Error(), "")

		return &err
	}

	result := canon.Verify(e.Hash, bytes)
	if !result.Verified {
		err := newErr(CodeHashInvalid, result.Reason, "hash")

		return &err
	}

	return nil
}

// ValidateOrThrow runs Validate and, on success, parses raw into a
// GovernanceEvent. On failure it returns the first ValidationError wrapped
// in ErrInvalid.
func (v *Validator) ValidateOrThrow(raw any) (*events.GovernanceEvent, error) {
	result := v.Validate(raw)
	if !result.Valid {
		return nil, &InvalidError{Err: result.Errors[0]}
	}

	m, _ := raw.(map[string]any)

	return events.FromMap(m)
}

// InvalidError wraps the first ValidationError so callers can unwrap to
// ErrInvalid while still reaching the structured code/message/field.
type InvalidError struct {
	Err ValidationError
}

func (e *InvalidError) Error() string {
	return e.Err.Code + ": " + e.Err.Message
}

func (e *InvalidError) Unwrap() error {
	return ErrInvalid
}
