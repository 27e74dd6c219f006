package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"push-dispatcher/internal/models"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// sqliteDeleteChunk stays well below SQLite's bound-parameter limit.
const sqliteDeleteChunk = 500

// SQLiteStore is a single-node durable store backed by modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens path (":memory:" for a private in-memory database) and applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, sub models.PushSubscription) error {
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (endpoint, keys, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (endpoint) DO UPDATE SET keys = excluded.keys, updated_at = excluded.updated_at`,
		sub.Endpoint, string(sub.Keys), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	return rows > 0, nil
}

func (s *SQLiteStore) DeleteMany(ctx context.Context, endpoints []string) (int, error) {
	if len(endpoints) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	removed := 0
	for start := 0; start < len(endpoints); start += sqliteDeleteChunk {
		end := min(start+sqliteDeleteChunk, len(endpoints))
		chunk := endpoints[start:end]

		args := make([]any, len(chunk))
		for i, endpoint := range chunk {
			args[i] = endpoint
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		result, err := tx.ExecContext(ctx,
			`DELETE FROM push_subscriptions WHERE endpoint IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, fmt.Errorf("delete subscriptions: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("delete subscriptions: %w", err)
		}
		removed += int(rows)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}
	return removed, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]models.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint, keys, created_at, updated_at FROM push_subscriptions ORDER BY created_at, endpoint`,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.PushSubscription
	for rows.Next() {
		var (
			sub                  models.PushSubscription
			keys                 string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&sub.Endpoint, &keys, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.Keys = []byte(keys)
		sub.CreatedAt = time.UnixMilli(createdAt).UTC()
		sub.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	return subs, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM push_subscriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
