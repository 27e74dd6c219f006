package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/lib/pq"

	"push-dispatcher/internal/models"
)

//go:embed schema_postgres.sql
var postgresSchema string

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// RunMigrations creates the subscriptions table if it doesn't exist
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) Upsert(ctx context.Context, sub models.PushSubscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (endpoint, keys, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (endpoint) DO UPDATE SET keys = EXCLUDED.keys, updated_at = NOW()`,
		sub.Endpoint, string(sub.Keys),
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) DeleteMany(ctx context.Context, endpoints []string) (int, error) {
	if len(endpoints) == 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE endpoint = ANY($1)`,
		pq.Array(endpoints),
	)
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}
	return int(rows), nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]models.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint, keys, created_at, updated_at FROM push_subscriptions ORDER BY created_at, endpoint`,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.PushSubscription
	for rows.Next() {
		var sub models.PushSubscription
		var keys []byte
		if err := rows.Scan(&sub.Endpoint, &keys, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.Keys = keys
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	return subs, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM push_subscriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
