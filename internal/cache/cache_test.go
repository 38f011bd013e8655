package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/FranksOps/serprank/internal/serp"
)

func sampleResults(query string) *serp.SearchResults {
	return &serp.SearchResults{
		Query:    query,
		Provider: "serpapi",
		Cost:     0.01,
		Results: []serp.SerpResult{
			{Position: 1, URL: "https://example.com/a", Domain: "example.com", Title: "A"},
			{Position: 2, URL: "https://rival.com/b", Domain: "rival.com", Title: "B"},
		},
		TotalResults: 1200,
		Features:     serp.SerpFeatures{FeaturedSnippet: true},
		Metadata:     serp.Metadata{Timestamp: time.Now()},
	}
}

func TestRoundTrip(t *testing.T) {
	m := NewManager(NewMemoryStore(), Config{Compress: true}, nil)
	defer m.Close()
	ctx := context.Background()

	opts := serp.SearchOptions{Location: "us", Device: serp.DeviceDesktop, Num: 10}
	if err := m.Set(ctx, "best running shoes", opts, sampleResults("best running shoes")); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := m.Get(ctx, "best running shoes", opts)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !got.Cached {
		t.Error("cached result not marked Cached")
	}
	if len(got.Results) != 2 || got.Results[0].Domain != "example.com" {
		t.Errorf("results corrupted: %+v", got.Results)
	}
	if !got.Features.FeaturedSnippet {
		t.Error("features lost in round trip")
	}
	if got.Metadata.CacheKey == "" {
		t.Error("cache key not recorded in metadata")
	}
}

func TestKeyNormalization(t *testing.T) {
	m := NewManager(NewMemoryStore(), Config{}, nil)
	defer m.Close()

	opts := serp.SearchOptions{Num: 10}
	base := m.Key("Best Running Shoes", opts)
	if m.Key("best running sneakers", opts) == base {
		t.Error("different queries collided")
	}
	if m.Key("  best   running  shoes ", opts) != base {
		t.Error("case and whitespace should not change the key")
	}
	if m.Key("best running shoes", serp.SearchOptions{Num: 20}) == base {
		t.Error("result count must participate in the key")
	}
	if m.Key("best running shoes", serp.SearchOptions{Num: 10, Device: serp.DeviceMobile}) == base {
		t.Error("device must participate in the key")
	}
}

func TestExpiryAndStaleFallback(t *testing.T) {
	m := NewManager(NewMemoryStore(), Config{TTL: 30 * time.Millisecond, StaleRetention: time.Hour}, nil)
	defer m.Close()
	ctx := context.Background()

	opts := serp.SearchOptions{}
	if err := m.Set(ctx, "q", opts, sampleResults("q")); err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, ok, _ := m.Get(ctx, "q", opts); !ok {
		t.Fatal("fresh entry not returned")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok, _ := m.Get(ctx, "q", opts); ok {
		t.Error("expired entry served as fresh")
	}
	stale, ok, err := m.GetStale(ctx, "q", opts)
	if err != nil || !ok {
		t.Fatalf("stale fallback: ok=%v err=%v", ok, err)
	}
	if stale.Query != "q" {
		t.Errorf("stale query = %q", stale.Query)
	}

	s := m.Stats()
	if s.StaleHits != 1 {
		t.Errorf("stale hits = %d, want 1", s.StaleHits)
	}
}

func TestStats(t *testing.T) {
	m := NewManager(NewMemoryStore(), Config{Compress: true}, nil)
	defer m.Close()
	ctx := context.Background()

	opts := serp.SearchOptions{}
	m.Set(ctx, "hit", opts, sampleResults("hit"))

	m.Get(ctx, "hit", opts)
	m.Get(ctx, "hit", opts)
	m.Get(ctx, "miss", opts)

	s := m.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("hits=%d misses=%d, want 2/1", s.Hits, s.Misses)
	}
	if s.HitRate < 0.66 || s.HitRate > 0.67 {
		t.Errorf("hit rate = %v", s.HitRate)
	}
	if s.CompressionRatio <= 0 || s.CompressionRatio >= 1.5 {
		t.Errorf("compression ratio = %v", s.CompressionRatio)
	}
}

func TestUncompressedEntries(t *testing.T) {
	m := NewManager(NewMemoryStore(), Config{Compress: false}, nil)
	defer m.Close()
	ctx := context.Background()

	opts := serp.SearchOptions{}
	if err := m.Set(ctx, "plain", opts, sampleResults("plain")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := m.Get(ctx, "plain", opts)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Query != "plain" {
		t.Errorf("query = %q", got.Query)
	}
	if r := m.Stats().CompressionRatio; r != 1.0 {
		t.Errorf("compression ratio without compression = %v, want 1.0", r)
	}
}

func TestWarmupSkipsFresh(t *testing.T) {
	m := NewManager(NewMemoryStore(), Config{}, nil)
	defer m.Close()
	ctx := context.Background()

	opts := serp.SearchOptions{}
	m.Set(ctx, "already cached", opts, sampleResults("already cached"))

	fetched := 0
	warmed := m.Warmup(ctx, []string{"already cached", "new one", "failing"}, opts,
		func(ctx context.Context, query string, opts serp.SearchOptions) (*serp.SearchResults, error) {
			fetched++
			if query == "failing" {
				return nil, fmt.Errorf("provider down")
			}
			res := sampleResults(query)
			return res, m.Set(ctx, query, opts, res)
		})

	if fetched != 2 {
		t.Errorf("fetched %d queries, want 2", fetched)
	}
	if warmed != 1 {
		t.Errorf("warmed = %d, want 1", warmed)
	}
}

func TestClearPattern(t *testing.T) {
	m := NewManager(NewMemoryStore(), Config{}, nil)
	defer m.Close()
	ctx := context.Background()

	opts := serp.SearchOptions{}
	m.Set(ctx, "one", opts, sampleResults("one"))
	m.Set(ctx, "two", opts, sampleResults("two"))

	n, err := m.Clear(ctx, "*")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 2 {
		t.Errorf("cleared %d, want 2", n)
	}
	if _, ok, _ := m.Get(ctx, "one", opts); ok {
		t.Error("entry survived clear")
	}
}

func TestPruneRemovesOnlyPastRetention(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, Config{TTL: time.Hour, StaleRetention: time.Hour}, nil)
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "fresh", serp.SearchOptions{}, sampleResults("fresh"))

	// Plant an entry whose retention window has fully passed.
	old := &Entry{
		Payload:   []byte("{}"),
		CreatedAt: time.Now().Add(-10 * time.Hour),
		ExpiresAt: time.Now().Add(-5 * time.Hour),
	}
	store.Set(ctx, m.Key("ancient", serp.SearchOptions{}), old, time.Hour)

	removed, err := m.Prune(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("pruned %d, want 1", removed)
	}
	if _, ok, _ := m.Get(ctx, "fresh", serp.SearchOptions{}); !ok {
		t.Error("fresh entry pruned")
	}
}
