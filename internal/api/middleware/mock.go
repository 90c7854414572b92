package middleware

import (
	"context"

	"github.com/trailblaze-io/trailblaze/internal/storage"
)

// MockKeyStore is a function-backed storage.KeyStore for tests.
type MockKeyStore struct {
	FindByKeyFunc   func(ctx context.Context, key string) (*storage.APIKey, bool)
	AddFunc         func(ctx context.Context, apiKey *storage.APIKey) error
	DeleteFunc      func(ctx context.Context, keyID string) error
	ListByOwnerFunc func(ctx context.Context, owner string) ([]*storage.APIKey, error)
}

var _ storage.KeyStore = (*MockKeyStore)(nil)

// FindByKey implements storage.KeyStore.
func (m *MockKeyStore) FindByKey(ctx context.Context, key string) (*storage.APIKey, bool) {
	if m.FindByKeyFunc != nil {
		return m.FindByKeyFunc(ctx, key)
	}

	return nil, false
}

// Add implements storage.KeyStore.
func (m *MockKeyStore) Add(ctx context.Context, apiKey *storage.APIKey) error {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, apiKey)
	}

	return nil
}

// Delete implements storage.KeyStore.
func (m *MockKeyStore) Delete(ctx context.Context, keyID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, keyID)
	}

	return nil
}

// ListByOwner implements storage.KeyStore.
func (m *MockKeyStore) ListByOwner(ctx context.Context, owner string) ([]*storage.APIKey, error) {
	if m.ListByOwnerFunc != nil {
		return m.ListByOwnerFunc(ctx, owner)
	}

	return []*storage.APIKey{}, nil
}
