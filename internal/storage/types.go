package storage

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// API key format constants.
	randomBytesSize = 32
	apiKeyPrefix    = "trailblaze_ak_"
	apiKeyLength    = len(apiKeyPrefix) + randomBytesSize*2 // prefix + 64 hex chars
	maskPrefixLen   = len(apiKeyPrefix) + 4                 // show "trailblaze_ak_1234"
	maskSuffixLen   = 4
)

var (
	// ErrKeyAlreadyExists is returned when attempting to add a key that already exists.
	ErrKeyAlreadyExists = errors.New("API key already exists")
	// ErrKeyNotFound is returned when attempting to operate on a non-existent key.
	ErrKeyNotFound = errors.New("API key not found")
	// ErrKeyNil is returned when a nil API key is provided.
	ErrKeyNil = errors.New("API key cannot be nil")
	// ErrOwnerEmpty is returned when the owner is empty during key generation.
	ErrOwnerEmpty = errors.New("owner cannot be empty")
	// ErrKeyStringEmpty is returned when key string is empty during parsing.
	ErrKeyStringEmpty = errors.New("key string cannot be empty")
	// ErrInvalidKeyFormat is returned when an API key doesn't match the expected format.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	// ErrInvalidKeyLength is returned when an API key length is incorrect.
	ErrInvalidKeyLength = errors.New("invalid API key length")
)

// APIKey represents a read-API key issued to a consumer.
type APIKey struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Owner     string     `json:"owner"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Active    bool       `json:"active"`
}

// KeyStore defines the interface for API key storage and retrieval.
type KeyStore interface {
	// FindByKey retrieves an API key by its key value.
	FindByKey(ctx context.Context, key string) (*APIKey, bool)
	// Add stores a new API key.
	Add(ctx context.Context, apiKey *APIKey) error
	// Delete deactivates an API key.
	Delete(ctx context.Context, keyID string) error
	// ListByOwner returns all active API keys for a consumer.
	ListByOwner(ctx context.Context, owner string) ([]*APIKey, error)
}

// Valid reports whether the key is active and unexpired.
func (ak *APIKey) Valid() bool {
	if !ak.Active {
		return false
	}

	if ak.ExpiresAt != nil && time.Now().After(*ak.ExpiresAt) {
		return false
	}

	return true
}

// SecureCompare performs constant-time comparison of two strings to prevent timing attacks.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		// Compare against a dummy string of the same length as 'a' so the
		// mismatch path takes constant time too.
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskKey masks an API key for logging, showing only the prefix and suffix
// of well-formed keys. Anything else is masked completely.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}

	keyLen := len(key)

	if keyLen == apiKeyLength {
		maskedLen := keyLen - maskPrefixLen - maskSuffixLen

		return key[:maskPrefixLen] + strings.Repeat("*", maskedLen) + key[keyLen-maskSuffixLen:]
	}

	return strings.Repeat("*", keyLen)
}

// GenerateAPIKey creates a new secure API key for a consumer.
func GenerateAPIKey(owner string) (string, error) {
	if owner == "" {
		return "", ErrOwnerEmpty
	}

	randomBytes := make([]byte, randomBytesSize)

	_, err := rand.Read(randomBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return apiKeyPrefix + hex.EncodeToString(randomBytes), nil
}

// ParseAPIKey extracts and validates the API key from a header value.
func ParseAPIKey(keyString string) (string, error) {
	if keyString == "" {
		return "", ErrKeyStringEmpty
	}

	keyString = strings.TrimPrefix(keyString, "Bearer ")

	if !strings.HasPrefix(keyString, apiKeyPrefix) {
		return "", ErrInvalidKeyFormat
	}

	if len(keyString) != apiKeyLength {
		return "", ErrInvalidKeyLength
	}

	return keyString, nil
}
