package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dunamismax/pixelopt/internal/domain"
	_ "github.com/lib/pq"
)

const usageSchemaSQL = `
CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	client_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	source_format TEXT NOT NULL,
	target_format TEXT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	bytes_saved BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS usage_logs_client_created_idx ON usage_logs (client_id, created_at);
`

const insertUsageSQL = `INSERT INTO usage_logs
	(client_id, job_id, source_format, target_format, pixels_processed, bytes_saved, compute_time_ms, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

type PostgresUsageStore struct {
	db *sql.DB
}

func NewPostgresUsageStore(ctx context.Context, dsn string) (*PostgresUsageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresUsageStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresUsageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usageSchemaSQL); err != nil {
		return fmt.Errorf("ensure usage schema: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Close() error {
	return s.db.Close()
}

func (s *PostgresUsageStore) RecordUsage(ctx context.Context, u domain.UsageLog) error {
	_, err := s.db.ExecContext(ctx, insertUsageSQL,
		u.ClientID,
		u.JobID,
		string(u.SourceFormat),
		string(u.TargetFormat),
		u.PixelsProcessed,
		u.BytesSaved,
		u.ComputeTimeMS,
		u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}
