// Package eventstore provides dedup-aware, org-scoped persistence for
// GovernanceEvents: a PostgreSQL-backed store fronted by a bounded
// in-memory LRU cache that accelerates duplicate detection for recently
// seen event IDs.
package eventstore

import (
	"errors"
	"time"

	"github.com/aigrc/govevents/internal/events"
	"github.com/aigrc/govevents/internal/validation"
)

// MaxBatchSize is the maximum number of events accepted by a single
// StoreMany call; larger batches are rejected wholesale with
// EVT_BATCH_TOO_LARGE before any per-event processing.
const MaxBatchSize = 1000

var (
	// ErrOrgMismatch is returned when an event's declared orgId does not
	// match the authenticated principal's org.
	ErrOrgMismatch = errors.New("event org does not match authenticated org")
	// ErrNotFound is returned when FindByID finds no event owned by the
	// requesting org.
	ErrNotFound = errors.New("event not found")
	// ErrBatchTooLarge is returned when StoreMany is called with more than
	// MaxBatchSize events.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
	// ErrNilEvent is returned when Store is called with a nil event.
	ErrNilEvent = errors.New("event cannot be nil")
)

// Per-event outcome statuses reported in a BatchResult.
const (
	StatusCreated   = "created"
	StatusDuplicate = "duplicate"
	StatusRejected  = "rejected"
)

// Result is returned by Store for a single event.
type Result struct {
	// Event is the stored (or already-stored) event with ReceivedAt set.
	Event *events.GovernanceEvent
	// IsNew is true iff this call caused the event to be persisted for the
	// first time; false for both duplicates and org-mismatch rejections.
	IsNew bool
}

// ItemResult is the per-event outcome within a StoreMany batch.
type ItemResult struct {
	ID         string
	Status     string
	ReceivedAt *time.Time
	Error      *validation.ValidationError
}

// BatchResult aggregates per-event outcomes for StoreMany. HTTP status for
// the batch envelope is 200 regardless of these per-event outcomes.
type BatchResult struct {
	Accepted  int
	Rejected  int
	Duplicate int
	Results   []ItemResult
}

// DefaultListLimit and MaxListLimit bound GET /v1/events and GET /v1/assets
// pagination.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListFilter narrows a List query to the caller's org plus optional
// asset/type/criticality/since filters, with limit/offset pagination.
type ListFilter struct {
	AssetID     string
	Type        string
	Criticality string
	Since       *time.Time
	Limit       int
	Offset      int
}

// Normalize clamps Limit to [1, MaxListLimit], defaulting to
// DefaultListLimit when unset, and floors a negative Offset to 0.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}

	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}

	if f.Offset < 0 {
		f.Offset = 0
	}

	return f
}
