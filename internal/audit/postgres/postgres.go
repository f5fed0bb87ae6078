package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/FranksOps/seedling/internal/audit"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresSink implements audit.Sink
var _ audit.Sink = (*postgresSink)(nil)

type postgresSink struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS provider_calls (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	run_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	request TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	quota_consumed INTEGER NOT NULL,
	success BOOLEAN NOT NULL,
	cache_hit BOOLEAN NOT NULL,
	error_kind TEXT,
	error TEXT,
	duration_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS provider_calls_run ON provider_calls (run_id, provider);
`

// New creates a Postgres-backed audit.Sink.
func New(ctx context.Context, dsn string) (audit.Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	return &postgresSink{pool: pool}, nil
}

func (s *postgresSink) Append(ctx context.Context, rec *audit.Record) error {
	audit.Prepare(rec)

	query := `
	INSERT INTO provider_calls (
		id, run_id, provider, request, attempt, quota_consumed, success, cache_hit, error_kind, error, duration_ms, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.RunID,
		rec.Provider,
		rec.Request,
		rec.Attempt,
		rec.QuotaConsumed,
		rec.Success,
		rec.CacheHit,
		rec.ErrorKind,
		rec.Error,
		rec.Duration.Milliseconds(),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	return nil
}

func (s *postgresSink) Query(ctx context.Context, filter audit.Filter) ([]*audit.Record, error) {
	query := `SELECT id, run_id, provider, request, attempt, quota_consumed, success, cache_hit, COALESCE(error_kind, ''), COALESCE(error, ''), duration_ms, created_at FROM provider_calls WHERE 1=1`
	args := []any{}
	param := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, param)
		args = append(args, filter.RunID)
		param++
	}
	if filter.Provider != "" {
		query += fmt.Sprintf(` AND provider = $%d`, param)
		args = append(args, filter.Provider)
		param++
	}
	if filter.Success != nil {
		query += fmt.Sprintf(` AND success = $%d`, param)
		args = append(args, *filter.Success)
		param++
	}
	if filter.CacheHit != nil {
		query += fmt.Sprintf(` AND cache_hit = $%d`, param)
		args = append(args, *filter.CacheHit)
		param++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, param)
		args = append(args, *filter.Since)
		param++
	}

	query += ` ORDER BY created_at DESC, seq DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, param)
		args = append(args, filter.Limit)
		param++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, param)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []*audit.Record
	for rows.Next() {
		var (
			r          audit.Record
			durationMs int64
		)
		err := rows.Scan(
			&r.ID, &r.RunID, &r.Provider, &r.Request, &r.Attempt, &r.QuotaConsumed,
			&r.Success, &r.CacheHit, &r.ErrorKind, &r.Error, &durationMs, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}

	return out, nil
}

func (s *postgresSink) Close() error {
	s.pool.Close()
	return nil
}
