package storage

import (
	"context"
	"sync"
)

// InMemoryKeyStore provides thread-safe in-memory storage for API keys.
// Used in tests and single-node development setups; production uses
// PersistentKeyStore.
type InMemoryKeyStore struct {
	// keys maps key strings to APIKey structs for fast lookup
	keys map[string]*APIKey
	// keysByID maps key IDs to APIKey structs for ID-based operations
	keysByID map[string]*APIKey
	// keysByOwner maps owners to their APIKey structs
	keysByOwner map[string][]*APIKey
	// mutex protects concurrent access to all maps
	mutex sync.RWMutex
}

// Compile-time check that the memory store satisfies KeyStore.
var _ KeyStore = (*InMemoryKeyStore)(nil)

// NewInMemoryKeyStore creates a new thread-safe in-memory key store.
func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{
		keys:        make(map[string]*APIKey),
		keysByID:    make(map[string]*APIKey),
		keysByOwner: make(map[string][]*APIKey),
	}
}

// FindByKey retrieves an API key by its key value.
func (s *InMemoryKeyStore) FindByKey(_ context.Context, key string) (*APIKey, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	apiKey, exists := s.keys[key]
	if !exists {
		return nil, false
	}

	// Return a copy to prevent external modification.
	keyCopy := *apiKey

	return &keyCopy, true
}

// Add stores a new API key.
func (s *InMemoryKeyStore) Add(_ context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.keysByID[apiKey.ID]; exists {
		return ErrKeyAlreadyExists
	}

	if _, exists := s.keys[apiKey.Key]; exists {
		return ErrKeyAlreadyExists
	}

	keyCopy := *apiKey

	s.keys[keyCopy.Key] = &keyCopy
	s.keysByID[keyCopy.ID] = &keyCopy
	s.keysByOwner[keyCopy.Owner] = append(s.keysByOwner[keyCopy.Owner], &keyCopy)

	return nil
}

// Delete removes an API key.
func (s *InMemoryKeyStore) Delete(_ context.Context, keyID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	existingKey, exists := s.keysByID[keyID]
	if !exists {
		return ErrKeyNotFound
	}

	delete(s.keys, existingKey.Key)
	delete(s.keysByID, keyID)
	s.removeFromOwnerMap(existingKey.Owner, keyID)

	return nil
}

// ListByOwner returns all API keys for a consumer.
func (s *InMemoryKeyStore) ListByOwner(_ context.Context, owner string) ([]*APIKey, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys, exists := s.keysByOwner[owner]
	if !exists {
		return []*APIKey{}, nil
	}

	// Return copies to prevent external modification.
	result := make([]*APIKey, len(keys))
	for i, key := range keys {
		keyCopy := *key
		result[i] = &keyCopy
	}

	return result, nil
}

// removeFromOwnerMap removes a key from the owner map by key ID.
// Caller must hold the write lock.
func (s *InMemoryKeyStore) removeFromOwnerMap(owner, keyID string) {
	keys := s.keysByOwner[owner]
	for i, key := range keys {
		if key.ID == keyID {
			s.keysByOwner[owner] = append(keys[:i], keys[i+1:]...)

			break
		}
	}

	if len(s.keysByOwner[owner]) == 0 {
		delete(s.keysByOwner, owner)
	}
}
