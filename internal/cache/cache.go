// Package cache implements the SERP result cache: a TTL-bound key-value
// store keyed by a hash of the normalized query and the options that affect
// the result. Payloads are gzip-compressed JSON. Expired entries are
// retained for a grace window so the client can fall back to stale data
// when every provider fails.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/FranksOps/serprank/internal/serp"
)

// Entry is a stored cache record. Payload is gzip-compressed JSON unless
// compression is disabled, in which case it is plain JSON.
type Entry struct {
	Payload    []byte    `json:"payload"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the entry's logical TTL has passed.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Store is the key-value backend. Implementations keep entries past their
// logical expiry (bounded by the retention passed to Set) so GetStale works.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	// Set stores the entry. retain is the total physical lifetime, which
	// exceeds the entry's logical TTL by the stale-retention window.
	Set(ctx context.Context, key string, e *Entry, retain time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes keys matching a glob pattern, returning the count.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// Config for a Manager.
type Config struct {
	TTL            time.Duration // logical TTL, default 24h
	StaleRetention time.Duration // grace past expiry, default 72h
	Namespace      string        // key prefix, default "serp"
	Compress       bool
}

// Stats exposes cache effectiveness counters.
type Stats struct {
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	StaleHits        int64   `json:"staleHits"`
	HitRate          float64 `json:"hitRate"`
	CompressionRatio float64 `json:"compressionRatio"` // compressed/raw, 1.0 when disabled
}

// Manager wraps a Store with key derivation, compression and stats.
type Manager struct {
	store  Store
	cfg    Config
	logger *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	staleHits atomic.Int64
	rawBytes  atomic.Int64
	compBytes atomic.Int64
}

// NewManager creates a Manager over the given store.
func NewManager(store Store, cfg Config, logger *slog.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.StaleRetention <= 0 {
		cfg.StaleRetention = 72 * time.Hour
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "serp"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, cfg: cfg, logger: logger}
}

// Key derives the cache key for a query+options pair. The query is
// lowercased and whitespace-collapsed; only options that change the result
// participate.
func (m *Manager) Key(query string, opts serp.SearchOptions) string {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|%d",
		norm, opts.Location, opts.Language, opts.Device, opts.Num, opts.Start)
	return m.cfg.Namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached result if present and unexpired.
func (m *Manager) Get(ctx context.Context, query string, opts serp.SearchOptions) (*serp.SearchResults, bool, error) {
	entry, ok, err := m.lookup(ctx, query, opts)
	if err != nil || !ok {
		return nil, false, err
	}
	if entry.Expired(time.Now()) {
		m.misses.Add(1)
		return nil, false, nil
	}
	res, err := m.decode(entry)
	if err != nil {
		return nil, false, err
	}
	m.hits.Add(1)
	res.Cached = true
	return res, true, nil
}

// GetStale returns a cached result even past its TTL, as long as the store
// still holds it. Used as a last resort when all providers fail.
func (m *Manager) GetStale(ctx context.Context, query string, opts serp.SearchOptions) (*serp.SearchResults, bool, error) {
	entry, ok, err := m.lookup(ctx, query, opts)
	if err != nil || !ok {
		return nil, false, err
	}
	res, err := m.decode(entry)
	if err != nil {
		return nil, false, err
	}
	m.staleHits.Add(1)
	res.Cached = true
	return res, true, nil
}

func (m *Manager) lookup(ctx context.Context, query string, opts serp.SearchOptions) (*Entry, bool, error) {
	key := m.Key(query, opts)
	entry, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %q: %w", key, err)
	}
	if !ok {
		m.misses.Add(1)
		return nil, false, nil
	}
	return entry, true, nil
}

// Set stores a search result under its derived key.
func (m *Manager) Set(ctx context.Context, query string, opts serp.SearchOptions, res *serp.SearchResults) error {
	key := m.Key(query, opts)

	stored := *res
	stored.Metadata.CacheKey = key

	raw, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}

	payload := raw
	if m.cfg.Compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return fmt.Errorf("cache: compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("cache: compress: %w", err)
		}
		payload = buf.Bytes()
	}
	m.rawBytes.Add(int64(len(raw)))
	m.compBytes.Add(int64(len(payload)))

	now := time.Now()
	entry := &Entry{
		Payload:    payload,
		Compressed: m.cfg.Compress,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.cfg.TTL),
	}
	if err := m.store.Set(ctx, key, entry, m.cfg.TTL+m.cfg.StaleRetention); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	return nil
}

func (m *Manager) decode(e *Entry) (*serp.SearchResults, error) {
	raw := e.Payload
	if e.Compressed {
		zr, err := gzip.NewReader(bytes.NewReader(e.Payload))
		if err != nil {
			return nil, fmt.Errorf("cache: decompress: %w", err)
		}
		defer zr.Close()
		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("cache: decompress: %w", err)
		}
	}
	var res serp.SearchResults
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("cache: unmarshal: %w", err)
	}
	return &res, nil
}

// SearchFunc executes a live search, used by Warmup.
type SearchFunc func(ctx context.Context, query string, opts serp.SearchOptions) (*serp.SearchResults, error)

// Warmup pre-fetches the given queries through fn, skipping queries that
// already have a fresh entry. Failures are logged and skipped.
func (m *Manager) Warmup(ctx context.Context, queries []string, opts serp.SearchOptions, fn SearchFunc) int {
	warmed := 0
	for _, q := range queries {
		if ctx.Err() != nil {
			return warmed
		}
		if _, ok, _ := m.Get(ctx, q, opts); ok {
			continue
		}
		if _, err := fn(ctx, q, opts); err != nil {
			m.logger.Warn("cache warmup fetch failed", "query", q, "error", err)
			continue
		}
		warmed++
	}
	return warmed
}

// Prune removes entries whose stale-retention window has passed. Stores
// with native expiry (Redis) reclaim those on their own; this covers the
// in-memory store and any orphans.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	keys, err := m.store.Keys(ctx, m.cfg.Namespace+":*")
	if err != nil {
		return 0, fmt.Errorf("cache: prune scan: %w", err)
	}
	now := time.Now()
	removed := 0
	for _, key := range keys {
		entry, ok, err := m.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		if now.After(entry.ExpiresAt.Add(m.cfg.StaleRetention)) {
			if err := m.store.Delete(ctx, key); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Clear removes all entries in this manager's namespace matching pattern
// ("*" for everything).
func (m *Manager) Clear(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		pattern = "*"
	}
	n, err := m.store.DeletePattern(ctx, m.cfg.Namespace+":"+pattern)
	if err != nil {
		return 0, fmt.Errorf("cache: clear: %w", err)
	}
	return n, nil
}

// Stats returns hit/miss counters and the observed compression ratio.
func (m *Manager) Stats() Stats {
	hits, misses := m.hits.Load(), m.misses.Load()
	s := Stats{
		Hits:      hits,
		Misses:    misses,
		StaleHits: m.staleHits.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	if raw := m.rawBytes.Load(); raw > 0 {
		s.CompressionRatio = float64(m.compBytes.Load()) / float64(raw)
	} else {
		s.CompressionRatio = 1.0
	}
	return s
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
