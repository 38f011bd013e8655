package storage

import (
	"context"
	"testing"
	"time"
)

func seedBackend(t *testing.T) Backend {
	t.Helper()
	b := NewMemory()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []*SearchRecord{
		{ID: "1", Query: "widgets", Provider: "serpapi", Cost: 0.01, CreatedAt: base},
		{ID: "2", Query: "widgets", Provider: "serper", Cost: 0.003, Cached: false, CreatedAt: base.Add(time.Minute)},
		{ID: "3", Query: "gadgets", Provider: "serpapi", Cached: true, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "4", Query: "widgets", Provider: "serpapi", Error: "unexpected status 500", CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, r := range records {
		if err := b.Save(context.Background(), r); err != nil {
			t.Fatalf("save %s: %v", r.ID, err)
		}
	}
	return b
}

func TestQueryNewestFirst(t *testing.T) {
	b := seedBackend(t)
	out, err := b.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("got %d records, want 4", len(out))
	}
	for i, want := range []string{"4", "3", "2", "1"} {
		if out[i].ID != want {
			t.Errorf("out[%d].ID = %s, want %s", i, out[i].ID, want)
		}
	}
}

func TestQueryFilters(t *testing.T) {
	b := seedBackend(t)
	ctx := context.Background()

	out, _ := b.Query(ctx, Filter{Provider: "serpapi"})
	if len(out) != 3 {
		t.Errorf("provider filter: %d records, want 3", len(out))
	}

	out, _ = b.Query(ctx, Filter{Query: "gadgets"})
	if len(out) != 1 || out[0].ID != "3" {
		t.Errorf("query filter: %+v", out)
	}

	cached := true
	out, _ = b.Query(ctx, Filter{Cached: &cached})
	if len(out) != 1 || !out[0].Cached {
		t.Errorf("cached filter: %+v", out)
	}

	since := time.Date(2026, 3, 1, 12, 2, 0, 0, time.UTC)
	out, _ = b.Query(ctx, Filter{Since: &since})
	if len(out) != 2 {
		t.Errorf("since filter: %d records, want 2", len(out))
	}
}

func TestQueryPagination(t *testing.T) {
	b := seedBackend(t)
	ctx := context.Background()

	out, _ := b.Query(ctx, Filter{Limit: 2})
	if len(out) != 2 || out[0].ID != "4" {
		t.Errorf("limit: %+v", out)
	}

	out, _ = b.Query(ctx, Filter{Offset: 3})
	if len(out) != 1 || out[0].ID != "1" {
		t.Errorf("offset: %+v", out)
	}

	out, _ = b.Query(ctx, Filter{Offset: 10})
	if len(out) != 0 {
		t.Errorf("offset past end: %+v", out)
	}
}
