package storage

import (
	"context"
	"sync"
)

// ensure memoryBackend implements Backend
var _ Backend = (*memoryBackend)(nil)

// memoryBackend keeps records in a slice. Useful for tests and short runs
// where durability doesn't matter.
type memoryBackend struct {
	mu      sync.Mutex
	records []*SearchRecord
}

// NewMemory creates an in-memory Backend.
func NewMemory() Backend {
	return &memoryBackend{}
}

func (b *memoryBackend) Save(ctx context.Context, record *SearchRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, record)
	return nil
}

func (b *memoryBackend) Query(ctx context.Context, filter Filter) ([]*SearchRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*SearchRecord
	// newest first, matching the SQL backends
	for i := len(b.records) - 1; i >= 0; i-- {
		r := b.records[i]
		if filter.Provider != "" && r.Provider != filter.Provider {
			continue
		}
		if filter.Query != "" && r.Query != filter.Query {
			continue
		}
		if filter.Cached != nil && r.Cached != *filter.Cached {
			continue
		}
		if filter.Since != nil && r.CreatedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, r)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (b *memoryBackend) Close() error { return nil }
