// Package storage defines the search audit log: one record per provider
// call or cache hit, used for cost reconciliation and offline analysis.
package storage

import (
	"context"
	"time"
)

// SearchRecord is the outcome of a single search execution.
type SearchRecord struct {
	ID          string
	Query       string
	Provider    string
	StatusCode  int
	Cached      bool
	Cost        float64
	Latency     time.Duration
	ResultCount int
	CreatedAt   time.Time
	Error       string // non-empty if the search failed
}

// Filter allows querying for specific SearchRecords.
type Filter struct {
	Provider string
	Query    string
	Cached   *bool
	Since    *time.Time
	Limit    int
	Offset   int
}

// Backend defines the interface for storing and querying search records.
type Backend interface {
	Save(ctx context.Context, record *SearchRecord) error
	Query(ctx context.Context, filter Filter) ([]*SearchRecord, error)
	Close() error
}
