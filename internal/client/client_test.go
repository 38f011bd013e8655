package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/serprank/internal/budget"
	"github.com/FranksOps/serprank/internal/cache"
	"github.com/FranksOps/serprank/internal/provider"
	"github.com/FranksOps/serprank/internal/serp"
	"github.com/FranksOps/serprank/internal/storage"
	"github.com/FranksOps/serprank/pkg/breaker"
)

// fakeProvider fails the first failures calls, then succeeds.
type fakeProvider struct {
	name     string
	failures int32
	failWith func(name string) error

	calls atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Execute(ctx context.Context, query string, opts serp.SearchOptions) (*serp.SearchResults, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		if f.failWith != nil {
			return nil, f.failWith(f.name)
		}
		return nil, &serp.ProviderError{Provider: f.name, StatusCode: 500, Retryable: true, Err: errors.New("upstream error")}
	}
	return &serp.SearchResults{
		Query:    query,
		Results:  []serp.SerpResult{{Position: 1, URL: "https://example.com/", Domain: "example.com"}},
		Metadata: serp.Metadata{Timestamp: time.Now(), Device: opts.Device},
	}, nil
}

func newTestClient(t *testing.T, cfg Config, providers ...*fakeProvider) *Client {
	t.Helper()
	registry := provider.NewRegistry()
	for i, p := range providers {
		err := registry.Register(provider.Config{
			Name:         p.name,
			Priority:     i + 1,
			CostPerQuery: 0.01,
			Enabled:      true,
		}, p)
		if err != nil {
			t.Fatalf("register %s: %v", p.name, err)
		}
	}
	cfg.Registry = registry
	c := New(cfg)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSearchSuccess(t *testing.T) {
	p := &fakeProvider{name: "primary"}
	c := newTestClient(t, Config{Audit: storage.NewMemory()}, p)

	res, err := c.Search(context.Background(), "q", serp.SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Provider != "primary" {
		t.Errorf("provider = %q", res.Provider)
	}
	if res.Cost != 0.01 {
		t.Errorf("cost = %v", res.Cost)
	}
	if res.Cached {
		t.Error("live result marked cached")
	}
}

func TestFallbackToSecondProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary", failures: 100}
	secondary := &fakeProvider{name: "secondary"}
	c := newTestClient(t, Config{}, primary, secondary)

	res, err := c.Search(context.Background(), "q", serp.SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Provider != "secondary" {
		t.Errorf("provider = %q, want secondary", res.Provider)
	}
	if primary.calls.Load() != 1 {
		t.Errorf("primary called %d times, want 1", primary.calls.Load())
	}
}

func TestOpenBreakerSkipsProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary", failures: 100}
	secondary := &fakeProvider{name: "secondary"}
	c := newTestClient(t, Config{
		BreakerEnabled:   true,
		BreakerThreshold: 2,
		BreakerTimeout:   time.Hour,
	}, primary, secondary)
	ctx := context.Background()

	// Two failing searches open primary's circuit.
	for i := 0; i < 2; i++ {
		if _, err := c.Search(ctx, "q", serp.SearchOptions{BypassCache: true}); err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
	}
	if state, _ := c.BreakerState("primary"); state != breaker.StateOpen {
		t.Fatalf("primary breaker = %s, want open", state)
	}

	calls := primary.calls.Load()
	if _, err := c.Search(ctx, "q", serp.SearchOptions{BypassCache: true}); err != nil {
		t.Fatalf("search with open primary: %v", err)
	}
	if primary.calls.Load() != calls {
		t.Error("open-circuit provider was still called")
	}
}

func TestRateLimitErrorsDoNotOpenBreaker(t *testing.T) {
	rateLimited := &fakeProvider{
		name:     "primary",
		failures: 100,
		failWith: func(name string) error {
			return &serp.ProviderError{Provider: name, StatusCode: 429, Retryable: true, Err: errors.New("too many requests")}
		},
	}
	secondary := &fakeProvider{name: "secondary"}
	c := newTestClient(t, Config{
		BreakerEnabled:   true,
		BreakerThreshold: 2,
		BreakerTimeout:   time.Hour,
	}, rateLimited, secondary)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := c.Search(ctx, "q", serp.SearchOptions{BypassCache: true}); err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
	}
	if state, _ := c.BreakerState("primary"); state != breaker.StateClosed {
		t.Errorf("breaker = %s after 429s, want closed", state)
	}
}

func TestExplicitProviderOverride(t *testing.T) {
	primary := &fakeProvider{name: "primary"}
	secondary := &fakeProvider{name: "secondary"}
	c := newTestClient(t, Config{}, primary, secondary)

	res, err := c.Search(context.Background(), "q", serp.SearchOptions{Provider: "secondary"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Provider != "secondary" {
		t.Errorf("provider = %q", res.Provider)
	}
	if primary.calls.Load() != 0 {
		t.Error("override still called the primary")
	}

	if _, err := c.Search(context.Background(), "q", serp.SearchOptions{Provider: "nonexistent"}); !errors.Is(err, serp.ErrNoProviderAvailable) {
		t.Errorf("unknown override: %v", err)
	}
}

func TestCacheHitSkipsProviders(t *testing.T) {
	p := &fakeProvider{name: "primary"}
	cm := cache.NewManager(cache.NewMemoryStore(), cache.Config{}, nil)
	c := newTestClient(t, Config{Cache: cm}, p)
	ctx := context.Background()

	if _, err := c.Search(ctx, "q", serp.SearchOptions{}); err != nil {
		t.Fatalf("first search: %v", err)
	}
	res, err := c.Search(ctx, "q", serp.SearchOptions{})
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if !res.Cached {
		t.Error("second search not served from cache")
	}
	if p.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", p.calls.Load())
	}
}

func TestStaleCacheFallback(t *testing.T) {
	p := &fakeProvider{name: "primary"}
	cm := cache.NewManager(cache.NewMemoryStore(), cache.Config{TTL: 20 * time.Millisecond, StaleRetention: time.Hour}, nil)
	c := newTestClient(t, Config{Cache: cm, CacheFallback: true}, p)
	ctx := context.Background()

	if _, err := c.Search(ctx, "q", serp.SearchOptions{}); err != nil {
		t.Fatalf("seed search: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	// Provider now fails permanently; the expired entry still serves.
	p.calls.Store(0)
	p.failures = 100

	res, err := c.Search(ctx, "q", serp.SearchOptions{})
	if err != nil {
		t.Fatalf("search with dead provider: %v", err)
	}
	if !res.Cached {
		t.Error("stale result not marked cached")
	}
}

func TestBudgetExceededNoFallback(t *testing.T) {
	primary := &fakeProvider{name: "primary"}
	secondary := &fakeProvider{name: "secondary"}
	bm := budget.NewManager(budget.Config{DailyBudget: 0.005}, nil, nil)
	c := newTestClient(t, Config{Budget: bm}, primary, secondary)

	_, err := c.Search(context.Background(), "q", serp.SearchOptions{})
	var budgetErr *serp.BudgetExceededError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected BudgetExceededError, got %v", err)
	}
	// A blown budget applies to every paid provider equally.
	if secondary.calls.Load() != 0 {
		t.Error("budget error still tried the fallback provider")
	}
}

func TestAllProvidersFailed(t *testing.T) {
	a := &fakeProvider{name: "a", failures: 100}
	b := &fakeProvider{name: "b", failures: 100}
	c := newTestClient(t, Config{}, a, b)

	_, err := c.Search(context.Background(), "q", serp.SearchOptions{})
	var allFailed *serp.AllProvidersFailedError
	if !errors.As(err, &allFailed) {
		t.Fatalf("expected AllProvidersFailedError, got %v", err)
	}
	if len(allFailed.Errors) != 2 {
		t.Errorf("collected %d provider errors, want 2", len(allFailed.Errors))
	}
}

func TestHalfOpenTrialSurvivesLimiterFailure(t *testing.T) {
	primary := &fakeProvider{name: "primary", failures: 1}
	c := newTestClient(t, Config{
		BreakerEnabled:   true,
		BreakerThreshold: 1,
		BreakerTimeout:   30 * time.Millisecond,
		Concurrency:      1,
	}, primary)
	ctx := context.Background()

	if _, err := c.Search(ctx, "q", serp.SearchOptions{}); err == nil {
		t.Fatal("first search should fail and open the circuit")
	}
	if state, _ := c.BreakerState("primary"); state != breaker.StateOpen {
		t.Fatalf("breaker = %s, want open", state)
	}

	time.Sleep(40 * time.Millisecond)

	// Hold the only concurrency slot so the trial's limiter acquire
	// times out before the provider is reached.
	lim := c.limiters["primary"]
	if err := lim.Acquire(ctx, 0); err != nil {
		t.Fatalf("occupy slot: %v", err)
	}
	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	if _, err := c.Search(shortCtx, "q", serp.SearchOptions{}); err == nil {
		t.Fatal("search should fail while the slot is held")
	}
	cancel()
	calls := primary.calls.Load()
	lim.Release()

	// The aborted trial must not consume the half-open slot for good.
	res, err := c.Search(ctx, "q", serp.SearchOptions{})
	if err != nil {
		t.Fatalf("search after slot released: %v", err)
	}
	if res.Provider != "primary" {
		t.Errorf("provider = %q, want primary", res.Provider)
	}
	if primary.calls.Load() != calls+1 {
		t.Errorf("provider calls = %d, want %d", primary.calls.Load(), calls+1)
	}
	if state, _ := c.BreakerState("primary"); state != breaker.StateClosed {
		t.Errorf("breaker = %s after trial success, want closed", state)
	}
}

func TestSingleProviderExhaustion(t *testing.T) {
	only := &fakeProvider{name: "only", failures: 100}
	c := newTestClient(t, Config{}, only)

	_, err := c.Search(context.Background(), "q", serp.SearchOptions{})
	var allFailed *serp.AllProvidersFailedError
	if !errors.As(err, &allFailed) {
		t.Fatalf("expected AllProvidersFailedError, got %v", err)
	}
	if len(allFailed.Errors) != 1 {
		t.Fatalf("collected %d provider errors, want 1", len(allFailed.Errors))
	}
	var provErr *serp.ProviderError
	if !errors.As(allFailed.Errors["only"], &provErr) {
		t.Errorf("underlying error = %v, want ProviderError", allFailed.Errors["only"])
	}
}

func TestAuditCacheHitStatusCode(t *testing.T) {
	p := &fakeProvider{name: "primary"}
	cm := cache.NewManager(cache.NewMemoryStore(), cache.Config{}, nil)
	audit := storage.NewMemory()
	c := newTestClient(t, Config{Cache: cm, Audit: audit}, p)
	ctx := context.Background()

	if _, err := c.Search(ctx, "q", serp.SearchOptions{}); err != nil {
		t.Fatalf("live search: %v", err)
	}
	res, err := c.Search(ctx, "q", serp.SearchOptions{})
	if err != nil {
		t.Fatalf("cached search: %v", err)
	}
	if !res.Cached {
		t.Fatal("second search not served from cache")
	}

	records, err := audit.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("audit query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("audit records = %d, want 2", len(records))
	}
	for _, r := range records {
		if r.Cached && r.StatusCode != 0 {
			t.Errorf("cache hit status = %d, want 0 (no HTTP call made)", r.StatusCode)
		}
		if !r.Cached && r.StatusCode != 200 {
			t.Errorf("live record status = %d, want 200", r.StatusCode)
		}
	}
}

func TestBatchSearch(t *testing.T) {
	p := &fakeProvider{name: "primary"}
	c := newTestClient(t, Config{Concurrency: 2}, p)

	queries := []serp.GeneratedQuery{
		{Text: "one", Type: serp.QueryTypeBrand, Priority: 1},
		{Text: "two", Type: serp.QueryTypeProduct, Priority: 2},
		{Text: "three", Type: serp.QueryTypeInformational, Priority: 3},
	}

	var mu sync.Mutex
	var progressed []string
	out, err := c.BatchSearch(context.Background(), queries, serp.SearchOptions{}, BatchOptions{
		Progress: func(p BatchProgress) {
			mu.Lock()
			progressed = append(progressed, p.Query)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if out.Succeeded != 3 || out.Failed != 0 {
		t.Errorf("succeeded=%d failed=%d", out.Succeeded, out.Failed)
	}
	if len(out.Results) != 3 {
		t.Errorf("results = %d", len(out.Results))
	}
	if out.TotalCost < 0.029 || out.TotalCost > 0.031 {
		t.Errorf("total cost = %v, want ~0.03", out.TotalCost)
	}
	if len(progressed) != 3 {
		t.Errorf("progress callbacks = %d, want 3", len(progressed))
	}
}

func TestBatchAbortsOnBudget(t *testing.T) {
	p := &fakeProvider{name: "primary"}
	bm := budget.NewManager(budget.Config{DailyBudget: 0.02}, nil, nil)
	c := newTestClient(t, Config{Budget: bm, Concurrency: 1}, p)

	queries := make([]serp.GeneratedQuery, 6)
	for i := range queries {
		queries[i] = serp.GeneratedQuery{Text: string(rune('a' + i)), Type: serp.QueryTypeProduct}
	}

	out, err := c.BatchSearch(context.Background(), queries, serp.SearchOptions{}, BatchOptions{
		StopOnBudgetExceeded: true,
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if !out.Aborted {
		t.Fatal("batch did not abort on budget")
	}
	// Two $0.01 queries fit the $0.02 budget; their results are preserved.
	if out.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", out.Succeeded)
	}
	if out.Failed != 1 {
		t.Errorf("failed = %d, want 1", out.Failed)
	}
	if out.Skipped != 3 {
		t.Errorf("skipped = %d, want 3", out.Skipped)
	}
}
