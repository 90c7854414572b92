package storage

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// ==============================================================================
// Unit Tests: API key format
// ==============================================================================

func TestGenerateAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key, err := GenerateAPIKey("mobile-app")
	if err != nil {
		t.Fatalf("GenerateAPIKey() failed: %v", err)
	}

	if !strings.HasPrefix(key, apiKeyPrefix) {
		t.Errorf("key %q missing prefix %q", key, apiKeyPrefix)
	}

	if len(key) != apiKeyLength {
		t.Errorf("key length = %d, want %d", len(key), apiKeyLength)
	}

	second, err := GenerateAPIKey("mobile-app")
	if err != nil {
		t.Fatalf("GenerateAPIKey() failed: %v", err)
	}

	if key == second {
		t.Error("two generated keys are identical")
	}
}

func TestGenerateAPIKeyRequiresOwner(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if _, err := GenerateAPIKey(""); !errors.Is(err, ErrOwnerEmpty) {
		t.Errorf("GenerateAPIKey(\"\") error = %v, want ErrOwnerEmpty", err)
	}
}

func TestParseAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	valid, err := GenerateAPIKey("tester")
	if err != nil {
		t.Fatalf("GenerateAPIKey() failed: %v", err)
	}

	cases := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"bare key", valid, valid, nil},
		{"bearer prefix", "Bearer " + valid, valid, nil},
		{"empty", "", "", ErrKeyStringEmpty},
		{"wrong prefix", "other_ak_" + strings.Repeat("a", 64), "", ErrInvalidKeyFormat},
		{"truncated", valid[:apiKeyLength-2], "", ErrInvalidKeyLength},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAPIKey(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ParseAPIKey() error = %v, want %v", err, tc.wantErr)
			}

			if got != tc.want {
				t.Errorf("ParseAPIKey() = %q, want %q", got, tc.want)
			}
		})
	}
}

// ==============================================================================
// Unit Tests: Key validity and comparison
// ==============================================================================

func TestAPIKeyValid(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	cases := []struct {
		name string
		key  APIKey
		want bool
	}{
		{"active unexpired", APIKey{Active: true}, true},
		{"active with future expiry", APIKey{Active: true, ExpiresAt: &future}, true},
		{"inactive", APIKey{Active: false}, false},
		{"expired", APIKey{Active: true, ExpiresAt: &past}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.key.Valid(); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSecureCompare(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if !SecureCompare("same", "same") {
		t.Error("SecureCompare rejected equal strings")
	}

	if SecureCompare("same", "different") {
		t.Error("SecureCompare accepted different strings")
	}

	if SecureCompare("short", "much longer string") {
		t.Error("SecureCompare accepted strings of different length")
	}
}

func TestMaskKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key, err := GenerateAPIKey("tester")
	if err != nil {
		t.Fatalf("GenerateAPIKey() failed: %v", err)
	}

	masked := MaskKey(key)

	if masked == key {
		t.Error("MaskKey returned the key unmodified")
	}

	if !strings.HasPrefix(masked, key[:maskPrefixLen]) {
		t.Errorf("masked key %q lost its prefix", masked)
	}

	if !strings.HasSuffix(masked, key[len(key)-maskSuffixLen:]) {
		t.Errorf("masked key %q lost its suffix", masked)
	}

	// Nonstandard lengths are masked completely.
	if got := MaskKey("abc"); got != "***" {
		t.Errorf("MaskKey(short) = %q, want full mask", got)
	}

	if got := MaskKey(""); got != "" {
		t.Errorf("MaskKey(\"\") = %q, want empty", got)
	}
}
