package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"push-dispatcher/internal/models"
)

const (
	subscriptionsKey = "push:subscriptions"
	createdAtKey     = "push:subscriptions:created"
)

// redisRecord is the hash value stored under each endpoint field.
type redisRecord struct {
	Keys      json.RawMessage `json:"keys"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RedisStore keeps every subscription as a field of one hash, so each write is a single
// atomic HSET/HDEL on the endpoint.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(opts *redis.Options) *RedisStore {
	rdb := redis.NewClient(opts)
	return &RedisStore{client: rdb, now: func() time.Time { return time.Now().UTC() }}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Upsert(ctx context.Context, sub models.PushSubscription) error {
	now := s.now()
	data, err := json.Marshal(redisRecord{Keys: sub.Keys, UpdatedAt: now})
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, subscriptionsKey, sub.Endpoint, data)
		pipe.HSetNX(ctx, createdAtKey, sub.Endpoint, now.UnixMilli())
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error) {
	n, err := s.DeleteMany(ctx, []string{endpoint})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) DeleteMany(ctx context.Context, endpoints []string) (int, error) {
	if len(endpoints) == 0 {
		return 0, nil
	}

	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, subscriptionsKey, endpoints...)
		pipe.HDel(ctx, createdAtKey, endpoints...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}
	return int(removed.Val()), nil
}

func (s *RedisStore) ListAll(ctx context.Context) ([]models.PushSubscription, error) {
	var records, created *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		records = pipe.HGetAll(ctx, subscriptionsKey)
		created = pipe.HGetAll(ctx, createdAtKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	createdAt := created.Val()
	subs := make([]models.PushSubscription, 0, len(records.Val()))
	for endpoint, val := range records.Val() {
		var rec redisRecord
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			return nil, fmt.Errorf("decode subscription %q: %w", endpoint, err)
		}
		sub := models.PushSubscription{
			Endpoint:  endpoint,
			Keys:      rec.Keys,
			UpdatedAt: rec.UpdatedAt,
		}
		if ms, err := strconv.ParseInt(createdAt[endpoint], 10, 64); err == nil {
			sub.CreatedAt = time.UnixMilli(ms).UTC()
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, subscriptionsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
