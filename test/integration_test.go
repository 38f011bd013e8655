//go:build integration

package test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FranksOps/serprank/internal/analyzer"
	"github.com/FranksOps/serprank/internal/budget"
	"github.com/FranksOps/serprank/internal/cache"
	"github.com/FranksOps/serprank/internal/client"
	"github.com/FranksOps/serprank/internal/provider"
	"github.com/FranksOps/serprank/internal/serp"
	"github.com/FranksOps/serprank/internal/storage"
	"github.com/FranksOps/serprank/pkg/httpclient"
)

const serpAPIPayload = `{
	"search_information": {"total_results": 5000},
	"organic_results": [
		{"position": 1, "link": "https://rival.com/widgets", "title": "Rival Widgets", "snippet": "rival"},
		{"position": 2, "link": "https://example.com/widgets", "title": "Our Widgets", "snippet": "ours"},
		{"position": 3, "link": "https://other.net/stuff", "title": "Other", "snippet": "other"}
	],
	"answer_box": {"type": "organic_result"}
}`

// TestSearchAnalyzePipeline runs the whole stack end to end: one provider
// behind an httptest server, the caching layer, budget accounting, audit
// storage and the ranking analyzer.
func TestSearchAnalyzePipeline(t *testing.T) {
	var serverHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverHits++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(serpAPIPayload))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	httpc, err := httpclient.New(httpclient.Config{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("http client: %v", err)
	}
	registry := provider.NewRegistry()
	err = registry.Register(provider.Config{
		Name:         "serpapi",
		Priority:     1,
		CostPerQuery: 0.01,
		Enabled:      true,
	}, provider.NewSerpAPI("key", srv.URL, httpc))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	cacheMgr := cache.NewManager(cache.NewMemoryStore(), cache.Config{
		TTL:      time.Hour,
		Compress: true,
	}, logger)
	budgetMgr := budget.NewManager(budget.Config{
		DailyBudget:   1.00,
		MonthlyBudget: 10.00,
	}, nil, logger)
	audit := storage.NewMemory()

	c := client.New(client.Config{
		Registry:      registry,
		Cache:         cacheMgr,
		Budget:        budgetMgr,
		Audit:         audit,
		Logger:        logger,
		CacheFallback: true,
	})
	defer c.Close()

	ctx := context.Background()
	queries := []serp.GeneratedQuery{
		{Text: "best widgets", Type: serp.QueryTypeComparison, Priority: 1, AIRelevance: 0.9},
		{Text: "widget pricing", Type: serp.QueryTypeTransactional, Priority: 2, AIRelevance: 0.5},
	}

	batch, err := c.BatchSearch(ctx, queries, serp.SearchOptions{}, client.BatchOptions{})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if batch.Succeeded != 2 || batch.Failed != 0 {
		t.Fatalf("batch = %+v", batch)
	}
	if serverHits != 2 {
		t.Errorf("server hits = %d, want 2", serverHits)
	}

	// Same queries again come out of the cache without touching the
	// provider or the budget.
	before := budgetMgr.Snapshot().DailySpend
	batch2, err := c.BatchSearch(ctx, queries, serp.SearchOptions{}, client.BatchOptions{})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if batch2.Cached != 2 {
		t.Errorf("cached = %d, want 2", batch2.Cached)
	}
	if serverHits != 2 {
		t.Errorf("server hits after cached batch = %d, want 2", serverHits)
	}
	if after := budgetMgr.Snapshot().DailySpend; after != before {
		t.Errorf("cached batch changed spend: %v -> %v", before, after)
	}

	// Audit trail has the live fetches and the cache hits.
	records, err := audit.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("audit query: %v", err)
	}
	if len(records) != 4 {
		t.Errorf("audit records = %d, want 4", len(records))
	}

	an := analyzer.New(analyzer.Config{
		TargetDomain: "example.com",
		Competitors:  []string{"rival.com"},
	}, logger)
	result := an.AnalyzeRankings(queries, batch.Results)

	if result.Summary.TotalQueries != 2 || result.Summary.RankedQueries != 2 {
		t.Fatalf("summary = %+v", result.Summary)
	}
	if result.Summary.Top3 != 2 {
		t.Errorf("top3 = %d", result.Summary.Top3)
	}
	for _, r := range result.Rankings {
		if r.Position == nil || *r.Position != 2 {
			t.Errorf("query %q position = %v, want 2", r.Query, r.Position)
		}
		if r.CompetitorsAbove() != 1 {
			t.Errorf("query %q competitors above = %d, want 1", r.Query, r.CompetitorsAbove())
		}
	}
	if len(result.CompetitorAnalysis.Competitors) != 1 ||
		result.CompetitorAnalysis.Competitors[0].Domain != "rival.com" {
		t.Errorf("competitors = %+v", result.CompetitorAnalysis.Competitors)
	}
}

// testWriter routes component logs through t.Log so they show up with the
// failing test.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
