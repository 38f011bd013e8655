package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FranksOps/serprank/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS search_records (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	provider TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	cached BOOLEAN NOT NULL,
	cost REAL NOT NULL,
	latency_ms INTEGER NOT NULL,
	result_count INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_search_records_provider ON search_records(provider);
CREATE INDEX IF NOT EXISTS idx_search_records_created ON search_records(created_at);
`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, record *storage.SearchRecord) error {
	query := `
	INSERT INTO search_records (
		id, query, provider, status_code, cached, cost, latency_ms, result_count, created_at, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := b.db.ExecContext(ctx, query,
		record.ID,
		record.Query,
		record.Provider,
		record.StatusCode,
		record.Cached,
		record.Cost,
		record.Latency.Milliseconds(),
		record.ResultCount,
		record.CreatedAt,
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save record: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.SearchRecord, error) {
	query := `SELECT id, query, provider, status_code, cached, cost, latency_ms, result_count, created_at, error FROM search_records WHERE 1=1`
	args := []any{}

	if filter.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, filter.Provider)
	}
	if filter.Query != "" {
		query += ` AND query = ?`
		args = append(args, filter.Query)
	}
	if filter.Cached != nil {
		query += ` AND cached = ?`
		args = append(args, *filter.Cached)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query records: %w", err)
	}
	defer rows.Close()

	var records []*storage.SearchRecord
	for rows.Next() {
		var r storage.SearchRecord
		var latencyMs int64

		err := rows.Scan(
			&r.ID, &r.Query, &r.Provider, &r.StatusCode, &r.Cached,
			&r.Cost, &latencyMs, &r.ResultCount, &r.CreatedAt, &r.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan record: %w", err)
		}

		r.Latency = time.Duration(latencyMs) * time.Millisecond
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate records: %w", err)
	}
	return records, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
