package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonathan/brigade/internal/types"
)

// PostgresStore keeps snapshots as JSONB rows in kv_snapshots
type PostgresStore struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewPostgresStore connects to databaseURL and ensures the snapshot table exists
func NewPostgresStore(ctx context.Context, databaseURL, namespace string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kv_snapshots (
			namespace  TEXT PRIMARY KEY,
			payload    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create kv_snapshots: %w", err)
	}

	return &PostgresStore{pool: pool, namespace: namespace}, nil
}

// LoadAll implements Store
func (s *PostgresStore) LoadAll(ctx context.Context) ([]types.Session, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM kv_snapshots WHERE namespace = $1`, s.namespace,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return decode(payload)
}

// SaveAll implements Store
func (s *PostgresStore) SaveAll(ctx context.Context, sessions []types.Session) error {
	data, err := encode(sessions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO kv_snapshots (namespace, payload)
		 VALUES ($1, $2)
		 ON CONFLICT (namespace) DO UPDATE SET payload = $2, updated_at = NOW()`,
		s.namespace, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Close implements Store
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
