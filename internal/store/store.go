package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"push-dispatcher/internal/models"
)

// ErrUnsupportedURL is returned by Open for a storage URL it cannot map to a backend.
var ErrUnsupportedURL = errors.New("unsupported storage url")

// SubscriptionStore is the durable registry of push subscriptions, keyed by endpoint.
//
// Upsert replaces the key material of an existing endpoint, so the store never holds two
// records for the same endpoint. Writes are atomic per endpoint; there is no cross-key
// transaction.
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub models.PushSubscription) error
	// DeleteByEndpoint reports whether a record was actually removed.
	DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error)
	// DeleteMany removes every listed endpoint that is present and returns how many were
	// removed. Absent endpoints are skipped.
	DeleteMany(ctx context.Context, endpoints []string) (int, error)
	// ListAll returns a snapshot of every fully written record.
	ListAll(ctx context.Context) ([]models.PushSubscription, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Open connects to the backend named by rawURL and prepares its schema.
// An empty URL selects the in-memory store.
func Open(ctx context.Context, rawURL string, logger *zap.Logger) (SubscriptionStore, error) {
	if rawURL == "" || rawURL == "memory://" || rawURL == "memory" {
		logger.Warn("Using in-memory subscription store; subscriptions are lost on restart")
		return NewMemoryStore(), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse storage url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		s, err := NewPostgresStore(rawURL)
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("Connected to PostgreSQL subscription store", zap.String("host", u.Host))
		return s, nil

	case "sqlite", "file":
		path := sqlitePath(u, rawURL)
		s, err := NewSQLiteStore(ctx, path)
		if err != nil {
			return nil, err
		}
		logger.Info("Opened SQLite subscription store", zap.String("path", path))
		return s, nil

	case "redis", "rediss":
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		s := NewRedisStore(opts)
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, err
		}
		logger.Info("Connected to Redis subscription store", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
		return s, nil
	}

	return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
}

// sqlitePath turns sqlite:///var/lib/push.db, sqlite://push.db and file:push.db into a
// path the driver accepts.
func sqlitePath(u *url.URL, rawURL string) string {
	if u.Scheme == "file" {
		return rawURL
	}
	if u.Host != "" {
		return u.Host + u.Path
	}
	return u.Path
}
