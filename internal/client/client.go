// Package client implements the resilient SERP client: cache lookup,
// priority-ordered provider selection, budget enforcement, rate-limited and
// circuit-guarded execution, provider fallback, and stale-cache recovery.
package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/FranksOps/serprank/internal/budget"
	"github.com/FranksOps/serprank/internal/cache"
	"github.com/FranksOps/serprank/internal/metrics"
	"github.com/FranksOps/serprank/internal/provider"
	"github.com/FranksOps/serprank/internal/serp"
	"github.com/FranksOps/serprank/internal/storage"
	"github.com/FranksOps/serprank/pkg/breaker"
	"github.com/FranksOps/serprank/pkg/ratelimit"
	"github.com/google/uuid"
)

// Config assembles the client from its collaborators. Registry is required;
// everything else may be nil/zero for a pass-through client.
type Config struct {
	Registry *provider.Registry
	Cache    *cache.Manager  // nil disables caching
	Budget   *budget.Manager // nil disables budget enforcement
	Audit    storage.Backend // nil disables the audit log
	Logger   *slog.Logger

	// CircuitBreaker settings applied per provider.
	BreakerEnabled   bool
	BreakerThreshold int
	BreakerTimeout   time.Duration

	// Rate limiter settings. RPS comes from each provider's config; these
	// bound burst, concurrency and queue admission globally.
	Burst        int
	Concurrency  int
	QueueSize    int
	MaxRetries   int
	RetryBackoff time.Duration

	// CacheFallback serves stale cache entries when every provider fails.
	CacheFallback bool
}

// Client executes searches against the registered providers.
type Client struct {
	cfg      Config
	registry *provider.Registry
	logger   *slog.Logger

	limiters map[string]*ratelimit.Limiter
	breakers map[string]*breaker.Breaker
}

// New constructs a Client, building one rate limiter and one circuit
// breaker per registered provider.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:      cfg,
		registry: cfg.Registry,
		logger:   logger,
		limiters: make(map[string]*ratelimit.Limiter),
		breakers: make(map[string]*breaker.Breaker),
	}

	for _, entry := range cfg.Registry.Ordered() {
		name := entry.Config.Name
		c.limiters[name] = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: entry.Config.RateLimit,
			Burst:             cfg.Burst,
			Concurrency:       cfg.Concurrency,
			QueueSize:         cfg.QueueSize,
			MaxRetries:        cfg.MaxRetries,
			RetryBackoff:      cfg.RetryBackoff,
		})
		if cfg.BreakerEnabled {
			providerName := name
			c.breakers[name] = breaker.New(breaker.Config{
				Threshold: cfg.BreakerThreshold,
				Timeout:   cfg.BreakerTimeout,
				// 429s mean "slow down", not "provider is down"
				Classify: func(err error) bool { return !serp.IsRateLimited(err) },
				OnTransition: func(s breaker.State) {
					metrics.BreakerTransitions.WithLabelValues(providerName, string(s)).Inc()
				},
			})
		}
	}
	return c
}

// Close shuts down the limiters and the audit backend.
func (c *Client) Close() error {
	for _, l := range c.limiters {
		l.Stop()
	}
	if c.cfg.Audit != nil {
		return c.cfg.Audit.Close()
	}
	return nil
}

// Search runs one query through the cache and fallback chain.
func (c *Client) Search(ctx context.Context, query string, opts serp.SearchOptions) (*serp.SearchResults, error) {
	if c.cfg.Cache != nil && !opts.BypassCache {
		if res, ok, err := c.cfg.Cache.Get(ctx, query, opts); err != nil {
			c.logger.Warn("cache lookup failed", "query", query, "error", err)
		} else if ok {
			c.audit(ctx, query, res, nil)
			return res, nil
		}
	}

	candidates, err := c.candidates(opts)
	if err != nil {
		return nil, err
	}

	provErrors := make(map[string]error)
	var lastErr error

	for _, entry := range candidates {
		res, err := c.execute(ctx, entry, query, opts)
		if err == nil {
			return res, nil
		}

		provErrors[entry.Config.Name] = err
		lastErr = err

		var budgetErr *serp.BudgetExceededError
		if errors.As(err, &budgetErr) {
			// Non-retryable: no cheaper provider rescues a blown budget.
			break
		}
		if !serp.IsRetryable(err) {
			break
		}
		c.logger.Warn("provider failed, falling back",
			"provider", entry.Config.Name, "query", query, "error", err)
	}

	if c.cfg.Cache != nil && c.cfg.CacheFallback {
		if res, ok, staleErr := c.cfg.Cache.GetStale(ctx, query, opts); staleErr == nil && ok {
			c.logger.Info("serving stale cache entry after provider failures", "query", query)
			return res, nil
		}
	}

	if lastErr == nil {
		return nil, serp.ErrNoProviderAvailable
	}
	var budgetErr *serp.BudgetExceededError
	if errors.As(lastErr, &budgetErr) {
		return nil, lastErr
	}
	// Even a single-provider deployment surfaces exhaustion as
	// AllProvidersFailedError so callers can match one type.
	if len(provErrors) > 0 {
		return nil, &serp.AllProvidersFailedError{Query: query, Errors: provErrors}
	}
	return nil, lastErr
}

// candidates builds the fallback order: an explicit override wins;
// otherwise closed-circuit providers by priority, then half-open ones for
// a single trial each. Fully open circuits are excluded.
func (c *Client) candidates(opts serp.SearchOptions) ([]*provider.Entry, error) {
	if opts.Provider != "" {
		entry, ok := c.registry.Get(opts.Provider)
		if !ok || !entry.Config.Enabled {
			return nil, serp.ErrNoProviderAvailable
		}
		return []*provider.Entry{entry}, nil
	}

	var closed, halfOpen []*provider.Entry
	for _, entry := range c.registry.Ordered() {
		br := c.breakers[entry.Config.Name]
		if br == nil {
			closed = append(closed, entry)
			continue
		}
		switch br.State() {
		case breaker.StateClosed:
			closed = append(closed, entry)
		case breaker.StateHalfOpen:
			halfOpen = append(halfOpen, entry)
		}
	}

	candidates := append(closed, halfOpen...)
	if len(candidates) == 0 {
		return nil, serp.ErrNoProviderAvailable
	}
	return candidates, nil
}

// execute runs one provider attempt: budget check, rate limit, breaker
// guard, the call itself, then bookkeeping.
func (c *Client) execute(ctx context.Context, entry *provider.Entry, query string, opts serp.SearchOptions) (*serp.SearchResults, error) {
	name := entry.Config.Name
	cost := entry.Config.CostPerQuery

	if c.cfg.Budget != nil && cost > 0 {
		if err := c.cfg.Budget.Check(cost); err != nil {
			return nil, err
		}
	}

	br := c.breakers[name]
	if br != nil && !br.Allow() {
		return nil, &serp.CircuitOpenError{Provider: name}
	}

	if limiter := c.limiters[name]; limiter != nil {
		if err := limiter.Acquire(ctx, opts.Priority); err != nil {
			if br != nil {
				// The provider was never called; hand back the trial slot
				// so a half-open breaker is not wedged by limiter pressure.
				br.CancelTrial()
			}
			return nil, &serp.ProviderError{Provider: name, Retryable: true, Err: err}
		}
		defer limiter.Release()
	}

	start := time.Now()
	res, err := entry.Provider.Execute(ctx, query, opts)
	if err != nil {
		if br != nil {
			br.RecordFailure(err)
		}
		c.audit(ctx, query, nil, err)
		return nil, err
	}

	if br != nil {
		br.RecordSuccess()
	}

	res.Cached = false
	res.Cost = cost
	res.Provider = name
	if res.Latency == 0 {
		res.Latency = time.Since(start)
	}

	if c.cfg.Budget != nil && cost > 0 {
		c.cfg.Budget.Record(ctx, cost)
		snap := c.cfg.Budget.Snapshot()
		metrics.BudgetSpend.WithLabelValues("daily").Set(snap.DailySpend)
		metrics.BudgetSpend.WithLabelValues("monthly").Set(snap.MonthlySpend)
	}

	if c.cfg.Cache != nil {
		if err := c.cfg.Cache.Set(ctx, query, opts, res); err != nil {
			c.logger.Warn("cache store failed", "query", query, "error", err)
		}
	}

	c.audit(ctx, query, res, nil)
	return res, nil
}

// audit records the outcome of a search in the audit backend and metrics.
func (c *Client) audit(ctx context.Context, query string, res *serp.SearchResults, searchErr error) {
	record := &storage.SearchRecord{
		ID:        uuid.NewString(),
		Query:     query,
		CreatedAt: time.Now(),
	}
	if res != nil {
		record.Provider = res.Provider
		record.Cached = res.Cached
		record.Cost = res.Cost
		record.Latency = res.Latency
		record.ResultCount = len(res.Results)
		if !res.Cached {
			// Cache hits made no HTTP call; leave the status zero.
			record.StatusCode = 200
		}
	}
	if searchErr != nil {
		record.Error = searchErr.Error()
		var provErr *serp.ProviderError
		if errors.As(searchErr, &provErr) {
			record.Provider = provErr.Provider
			record.StatusCode = provErr.StatusCode
		}
	}

	metrics.RecordSearch(record)
	if c.cfg.Audit != nil {
		if err := c.cfg.Audit.Save(ctx, record); err != nil {
			c.logger.Warn("audit save failed", "query", query, "error", err)
		}
	}
}

// BreakerState reports a provider's circuit state, for diagnostics.
func (c *Client) BreakerState(providerName string) (breaker.State, bool) {
	br, ok := c.breakers[providerName]
	if !ok {
		return "", false
	}
	return br.State(), true
}
