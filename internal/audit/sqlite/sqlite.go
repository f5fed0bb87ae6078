package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FranksOps/seedling/internal/audit"
	_ "modernc.org/sqlite"
)

// ensure sqliteSink implements audit.Sink
var _ audit.Sink = (*sqliteSink)(nil)

type sqliteSink struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS provider_calls (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	request TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	quota_consumed INTEGER NOT NULL,
	success BOOLEAN NOT NULL,
	cache_hit BOOLEAN NOT NULL,
	error_kind TEXT,
	error TEXT,
	duration_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS provider_calls_run ON provider_calls (run_id, provider);
`

// New creates a SQLite-backed audit.Sink.
func New(dsn string) (audit.Sink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; concurrent appends queue on the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	return &sqliteSink{db: db}, nil
}

func (s *sqliteSink) Append(ctx context.Context, rec *audit.Record) error {
	audit.Prepare(rec)

	query := `
	INSERT INTO provider_calls (
		id, run_id, provider, request, attempt, quota_consumed, success, cache_hit, error_kind, error, duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
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

func (s *sqliteSink) Query(ctx context.Context, filter audit.Filter) ([]*audit.Record, error) {
	query := `SELECT id, run_id, provider, request, attempt, quota_consumed, success, cache_hit, error_kind, error, duration_ms, created_at FROM provider_calls WHERE 1=1`
	args := []any{}

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, filter.Provider)
	}
	if filter.Success != nil {
		query += ` AND success = ?`
		args = append(args, *filter.Success)
	}
	if filter.CacheHit != nil {
		query += ` AND cache_hit = ?`
		args = append(args, *filter.CacheHit)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC, rowid DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []*audit.Record
	for rows.Next() {
		var (
			r          audit.Record
			durationMs int64
			kind, msg  sql.NullString
		)
		err := rows.Scan(
			&r.ID, &r.RunID, &r.Provider, &r.Request, &r.Attempt, &r.QuotaConsumed,
			&r.Success, &r.CacheHit, &kind, &msg, &durationMs, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.ErrorKind = kind.String
		r.Error = msg.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}

	return out, nil
}

func (s *sqliteSink) Close() error {
	return s.db.Close()
}
