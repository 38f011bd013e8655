package serp

import (
	"errors"
	"fmt"
)

// ErrNoProviderAvailable is returned when every provider is disabled or has
// an open circuit with no half-open candidate.
var ErrNoProviderAvailable = errors.New("serp: no provider available")

// BudgetExceededError is returned when a prospective call would push spend
// past a configured ceiling. It is never retried against another provider,
// but a stale cache entry may still satisfy the caller.
type BudgetExceededError struct {
	Period            string // "daily" or "monthly"
	Spend             float64
	Budget            float64
	Cost              float64
	FallbackAvailable bool
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("serp: %s budget exceeded: spend %.4f + cost %.4f > budget %.4f",
		e.Period, e.Spend, e.Cost, e.Budget)
}

// CircuitOpenError is returned when a provider's circuit breaker rejects a
// call without attempting the network. The client treats it as a signal to
// move on to the next provider.
type CircuitOpenError struct {
	Provider string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("serp: circuit open for provider %q", e.Provider)
}

// ProviderError wraps a failure from a specific provider call. Retryable
// failures trigger fallback to the next provider in priority order.
type ProviderError struct {
	Provider   string
	StatusCode int // 0 when the failure happened before an HTTP response
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("serp: provider %q failed with status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("serp: provider %q failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AllProvidersFailedError is returned when the fallback chain is exhausted
// and no cache entry, stale or fresh, could satisfy the query.
type AllProvidersFailedError struct {
	Query  string
	Errors map[string]error // provider name -> last error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("serp: all %d providers failed for query %q", len(e.Errors), e.Query)
}

// IsRetryable reports whether an error should trigger provider fallback.
// Budget errors and open circuits are handled separately by the client;
// everything else from a provider is assumed transient unless the provider
// marked it otherwise.
func IsRetryable(err error) bool {
	var budgetErr *BudgetExceededError
	if errors.As(err, &budgetErr) {
		return false
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	var openErr *CircuitOpenError
	if errors.As(err, &openErr) {
		return true
	}
	return true
}

// IsRateLimited reports whether an error represents an HTTP 429 from a
// provider. Rate-limit responses are excluded from circuit breaker failure
// counting: the provider is healthy, we are just calling it too fast.
func IsRateLimited(err error) bool {
	var provErr *ProviderError
	return errors.As(err, &provErr) && provErr.StatusCode == 429
}
