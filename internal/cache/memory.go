package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

// ensure memoryStore implements Store
var _ Store = (*memoryStore)(nil)

// memoryStore is a mutex-guarded map store for tests and single-process
// runs. Physical expiry is enforced lazily on Get and by a janitor.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	entry   *Entry
	evictAt time.Time
}

// NewMemoryStore creates an in-memory Store with a background janitor.
func NewMemoryStore() Store {
	s := &memoryStore{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *memoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, e := range s.entries {
				if now.After(e.evictAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *memoryStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.evictAt) {
		return nil, false, nil
	}
	return e.entry, true, nil
}

func (s *memoryStore) Set(ctx context.Context, key string, e *Entry, retain time.Duration) error {
	s.mu.Lock()
	s.entries[key] = memoryEntry{entry: e, evictAt: time.Now().Add(retain)}
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.entries {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *memoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
