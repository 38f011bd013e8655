package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/FranksOps/serprank/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serprank_searches_total",
			Help: "Total number of search executions",
		},
		[]string{"provider", "status", "cache"},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serprank_search_duration_seconds",
			Help:    "Duration of provider search calls in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	SearchCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serprank_search_cost_total",
			Help: "Accumulated provider cost in USD",
		},
		[]string{"provider"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serprank_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"provider", "state"},
	)

	BudgetSpend = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "serprank_budget_spend",
			Help: "Current spend against the active budget period in USD",
		},
		[]string{"period"},
	)
)

// RecordSearch updates the search metrics from an audit record.
func RecordSearch(record *storage.SearchRecord) {
	if record == nil {
		return
	}

	cacheStr := "miss"
	if record.Cached {
		cacheStr = "hit"
	}

	statusStr := strconv.Itoa(record.StatusCode)
	if record.Error != "" {
		statusStr = "error"
	}

	SearchesTotal.WithLabelValues(record.Provider, statusStr, cacheStr).Inc()
	if !record.Cached {
		SearchDuration.WithLabelValues(record.Provider).Observe(record.Latency.Seconds())
		SearchCostTotal.WithLabelValues(record.Provider).Add(record.Cost)
	}
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server failed: %v\n", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
