package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aigrc/govevents/internal/events"
	"github.com/aigrc/govevents/internal/validation"
)

// Store is the dedup-aware, org-scoped persistence facade. It combines a
// PostgresStore (authoritative, durable) with a bounded in-memory LRU
// cache (fast-path dedup for recently seen ids) so that a retry storm
// against the same id doesn't hit the database for every submission.
type Store struct {
	db     *PostgresStore
	cache  *lruCache
	logger *slog.Logger
}

// NewStore builds a Store over an already-constructed PostgresStore. A
// cacheCapacity of 0 selects defaultCacheCapacity.
func NewStore(db *PostgresStore, cacheCapacity int) *Store {
	return &Store{
		db:     db,
		cache:  newLRUCache(cacheCapacity),
		logger: slog.Default(),
	}
}

// Store persists a single event, enforcing org ownership and the dedup
// invariant: exactly one accepted record per id per org, regardless of
// how many times the same id is submitted. IsNew distinguishes a fresh
// write from a replay of an already-accepted event.
func (s *Store) Store(ctx context.Context, event *events.GovernanceEvent, authOrgID string) (Result, error) {
	if event == nil {
		return Result{}, ErrNilEvent
	}

	if event.OrgID != authOrgID {
		return Result{}, ErrOrgMismatch
	}

	if entry, hit := s.cache.get(event.ID); hit {
		if entry.orgID != authOrgID {
			return Result{}, ErrOrgMismatch
		}

		stored := *event
		receivedAt := entry.receivedAt
		stored.ReceivedAt = &receivedAt

		return Result{Event: &stored, IsNew: false}, nil
	}

	inserted, receivedAt, err := s.db.insert(ctx, event)
	if err != nil {
		return Result{}, fmt.Errorf("failed to store event: %w", err)
	}

	s.cache.put(cacheEntry{id: event.ID, orgID: event.OrgID, receivedAt: receivedAt})

	stored := *event
	stored.ReceivedAt = &receivedAt

	return Result{Event: &stored, IsNew: inserted}, nil
}

// StoreMany processes a batch of events independently: one event's
// rejection or duplicate status never blocks another's acceptance.
// Batches larger than MaxBatchSize are rejected wholesale before any
// per-event work begins.
func (s *Store) StoreMany(ctx context.Context, evts []*events.GovernanceEvent, authOrgID string) (BatchResult, error) {
	if len(evts) > MaxBatchSize {
		return BatchResult{}, ErrBatchTooLarge
	}

	batch := BatchResult{Results: make([]ItemResult, 0, len(evts))}

	for _, e := range evts {
		item := s.storeOne(ctx, e, authOrgID)
		batch.Results = append(batch.Results, item)

		switch item.Status {
		case StatusCreated:
			batch.Accepted++
		case StatusDuplicate:
			batch.Duplicate++
		case StatusRejected:
			batch.Rejected++
		}
	}

	return batch, nil
}

func (s *Store) storeOne(ctx context.Context, e *events.GovernanceEvent, authOrgID string) ItemResult {
	if e == nil {
		code := validation.CodeIDInvalid

		return ItemResult{
			Status: StatusRejected,
			Error:  &validation.ValidationError{Code: code, Message: "event cannot be nil"},
		}
	}

	result, err := s.Store(ctx, e, authOrgID)
	if err != nil {
		switch {
		case errors.Is(err, ErrOrgMismatch):
			return ItemResult{
				ID:     e.ID,
				Status: StatusRejected,
				Error: &validation.ValidationError{
					Code:    validation.CodeOrgMismatch,
					Message: "event org does not match authenticated org",
					Field:   "orgId",
				},
			}
		default:
			s.logger.Error("failed to store event in batch", "id", e.ID, "error", err)

			return ItemResult{
				ID:     e.ID,
				Status: StatusRejected,
				Error: &validation.ValidationError{
					Code:    validation.CodeInternal,
					Message: "internal error while storing event",
				},
			}
		}
	}

	status := StatusCreated
	if !result.IsNew {
		status = StatusDuplicate
	}

	return ItemResult{ID: e.ID, Status: status, ReceivedAt: result.Event.ReceivedAt}
}

// FindByID retrieves an event, scoped to the requesting org — an event
// owned by a different org is reported as ErrNotFound, not ErrOrgMismatch,
// so existence is never leaked across org boundaries.
func (s *Store) FindByID(ctx context.Context, id, authOrgID string) (*events.GovernanceEvent, error) {
	event, err := s.db.findByID(ctx, id, authOrgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to find event: %w", err)
	}

	return event, nil
}

// List runs a flat, filtered query over an org's events (§6 GET /v1/events).
// Like FindByID this never consults the cache: listing is a read-path
// query, not a dedup check, so the cache (which only tracks individual
// ids) has nothing to contribute.
func (s *Store) List(ctx context.Context, authOrgID string, filter ListFilter) ([]*events.GovernanceEvent, error) {
	result, err := s.db.list(ctx, authOrgID, filter.Normalize())
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return result, nil
}

// ListAssetIDs returns the distinct asset ids an org has emitted events
// for (§6 GET /v1/assets), paginated.
func (s *Store) ListAssetIDs(ctx context.Context, authOrgID string, limit, offset int) ([]string, error) {
	filter := ListFilter{Limit: limit, Offset: offset}.Normalize()

	assetIDs, err := s.db.listAssetIDs(ctx, authOrgID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list asset ids: %w", err)
	}

	return assetIDs, nil
}

// HealthCheck verifies the backing database is reachable. Cache health is
// not externally observable and needs no check of its own.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}
