package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/FranksOps/serprank/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS search_records (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	provider TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	cached BOOLEAN NOT NULL,
	cost DOUBLE PRECISION NOT NULL,
	latency_ms BIGINT NOT NULL,
	result_count INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_search_records_provider ON search_records(provider);
CREATE INDEX IF NOT EXISTS idx_search_records_created ON search_records(created_at);
`

// New creates a new PostgreSQL-backed storage.Backend using a pgx pool.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: init schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, record *storage.SearchRecord) error {
	query := `
	INSERT INTO search_records (
		id, query, provider, status_code, cached, cost, latency_ms, result_count, created_at, error
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := b.pool.Exec(ctx, query,
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
		return fmt.Errorf("postgres: save record: %w", err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.SearchRecord, error) {
	query := `SELECT id, query, provider, status_code, cached, cost, latency_ms, result_count, created_at, error FROM search_records WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.Provider != "" {
		query += fmt.Sprintf(` AND provider = $%d`, paramCount)
		args = append(args, filter.Provider)
		paramCount++
	}
	if filter.Query != "" {
		query += fmt.Sprintf(` AND query = $%d`, paramCount)
		args = append(args, filter.Query)
		paramCount++
	}
	if filter.Cached != nil {
		query += fmt.Sprintf(` AND cached = $%d`, paramCount)
		args = append(args, *filter.Cached)
		paramCount++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramCount)
		args = append(args, *filter.Since)
		paramCount++
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
		paramCount++
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query records: %w", err)
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
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}

		r.Latency = time.Duration(latencyMs) * time.Millisecond
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate records: %w", err)
	}
	return records, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
