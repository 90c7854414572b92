// Package cache provides a content-keyed, TTL-bounded file cache for
// expensive fetches and parsed intermediate results.
//
// Keys are arbitrary strings; the cache derives a storage token from a
// stable 128-bit digest of the key. Entries are JSON envelopes carrying
// the payload and its storage timestamp. Writes are atomic (temp file +
// rename) so a concurrent reader never observes a partial entry.
package cache

import (
	"crypto/md5" //nolint:gosec // digest is a storage token, not a security boundary
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Sentinel errors for cache failures.
var (
	// ErrCacheRead indicates an entry exists but could not be read or
	// decoded. Callers treat it as a miss.
	ErrCacheRead = errors.New("cache read failed")

	// ErrCacheWrite indicates an entry could not be persisted.
	ErrCacheWrite = errors.New("cache write failed")
)

type (
	// Cache is a TTL file cache rooted at a directory. Each pipeline run
	// owns its own Cache rooted at cache/<source>/, so no cross-source
	// contention arises.
	Cache struct {
		dir     string
		ttl     time.Duration
		refresh bool
		logger  *slog.Logger

		mu      sync.Mutex
		metrics Metrics
	}

	// Metrics are the cache counters accumulated over a run.
	Metrics struct {
		Hits    int `json:"hits"`
		Misses  int `json:"misses"`
		Expired int `json:"expired"`
		Errors  int `json:"errors"`
	}

	// entry is the on-disk envelope for a cached payload.
	entry struct {
		StoredAt time.Time `json:"stored_at"`
		Payload  []byte    `json:"payload"`
	}
)

// New creates a Cache rooted at dir with the given entry lifetime.
// When refresh is true every Get reports a miss, forcing re-fetches
// while still allowing Set to repopulate entries.
func New(dir string, ttl time.Duration, refresh bool, logger *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create cache dir: %v", ErrCacheWrite, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		dir:     dir,
		ttl:     ttl,
		refresh: refresh,
		logger:  logger.With("component", "cache"),
	}, nil
}

// path derives the storage path for a key from its digest.
func (c *Cache) path(key string) string {
	sum := md5.Sum([]byte(key)) //nolint:gosec // see package comment

	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

// Get returns the cached payload for key and whether it was a hit.
//
// A miss is reported when the entry is absent, expired, unreadable, or
// when the cache was created with the refresh flag. Expired entries are
// removed on read. Read errors increment the error counter but are not
// surfaced; the caller simply re-fetches.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c.refresh {
		c.count(func(m *Metrics) { m.Misses++ })

		return nil, false
	}

	raw, err := os.ReadFile(c.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			c.count(func(m *Metrics) { m.Errors++ })
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}

		c.count(func(m *Metrics) { m.Misses++ })

		return nil, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.count(func(m *Metrics) { m.Errors++; m.Misses++ })
		c.logger.Warn("cache entry corrupt", "key", key, "error", err)

		return nil, false
	}

	if time.Since(e.StoredAt) > c.ttl {
		c.count(func(m *Metrics) { m.Expired++; m.Misses++ })
		_ = os.Remove(c.path(key))

		return nil, false
	}

	c.count(func(m *Metrics) { m.Hits++ })

	return e.Payload, true
}

// Set stores a payload under key with the current timestamp. The write
// is atomic: the envelope lands in a temp file which is renamed over the
// final path.
func (c *Cache) Set(key string, payload []byte) error {
	raw, err := json.Marshal(entry{StoredAt: time.Now(), Payload: payload})
	if err != nil {
		c.count(func(m *Metrics) { m.Errors++ })

		return fmt.Errorf("%w: encode entry: %v", ErrCacheWrite, err)
	}

	tmp, err := os.CreateTemp(c.dir, "entry-*.tmp")
	if err != nil {
		c.count(func(m *Metrics) { m.Errors++ })

		return fmt.Errorf("%w: %v", ErrCacheWrite, err)
	}

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		c.count(func(m *Metrics) { m.Errors++ })

		return fmt.Errorf("%w: %v", ErrCacheWrite, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		c.count(func(m *Metrics) { m.Errors++ })

		return fmt.Errorf("%w: %v", ErrCacheWrite, err)
	}

	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		c.count(func(m *Metrics) { m.Errors++ })

		return fmt.Errorf("%w: %v", ErrCacheWrite, err)
	}

	return nil
}

// Invalidate removes the entry for key if present.
func (c *Cache) Invalidate(key string) error {
	if err := os.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		c.count(func(m *Metrics) { m.Errors++ })

		return fmt.Errorf("%w: %v", ErrCacheWrite, err)
	}

	return nil
}

// Clear removes every entry under the cache directory.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.count(func(m *Metrics) { m.Errors++ })

		return fmt.Errorf("%w: %v", ErrCacheRead, err)
	}

	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".json" {
			continue
		}

		if err := os.Remove(filepath.Join(c.dir, ent.Name())); err != nil {
			c.count(func(m *Metrics) { m.Errors++ })

			return fmt.Errorf("%w: %v", ErrCacheWrite, err)
		}
	}

	return nil
}

// Metrics returns a snapshot of the cache counters.
func (c *Cache) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.metrics
}

func (c *Cache) count(fn func(*Metrics)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn(&c.metrics)
}
