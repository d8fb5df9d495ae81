package middleware

import (
	"context"

	"github.com/aigrc/govevents/internal/storage"
)

// MockAPIKeyStore is a test double for storage.APIKeyStore.
type MockAPIKeyStore struct {
	FindByKeyFunc func(ctx context.Context, key string) (*storage.APIKey, bool)
	AddFunc       func(ctx context.Context, apiKey *storage.APIKey) error
	UpdateFunc    func(ctx context.Context, apiKey *storage.APIKey) error
	DeleteFunc    func(ctx context.Context, keyID string) error
	ListByOrgFunc func(ctx context.Context, orgID string) ([]*storage.APIKey, error)
}

func (m *MockAPIKeyStore) FindByKey(ctx context.Context, key string) (*storage.APIKey, bool) {
	if m.FindByKeyFunc != nil {
		return m.FindByKeyFunc(ctx, key)
	}

	return nil, false
}

func (m *MockAPIKeyStore) Add(ctx context.Context, apiKey *storage.APIKey) error {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, apiKey)
	}

	return nil
}

func (m *MockAPIKeyStore) Update(ctx context.Context, apiKey *storage.APIKey) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, apiKey)
	}

	return nil
}

func (m *MockAPIKeyStore) Delete(ctx context.Context, keyID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, keyID)
	}

	return nil
}

func (m *MockAPIKeyStore) ListByOrg(ctx context.Context, orgID string) ([]*storage.APIKey, error) {
	if m.ListByOrgFunc != nil {
		return m.ListByOrgFunc(ctx, orgID)
	}

	return []*storage.APIKey{}, nil
}

func (m *MockAPIKeyStore) HealthCheck(_ context.Context) error {
	return nil
}
