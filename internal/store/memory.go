package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"push-dispatcher/internal/models"
)

// MemoryStore keeps subscriptions in process memory. It is used for local development and
// as the test double for the dispatch coordinator.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]models.PushSubscription
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]models.PushSubscription),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Upsert(_ context.Context, sub models.PushSubscription) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := models.PushSubscription{
		Endpoint:  sub.Endpoint,
		Keys:      bytes.Clone(sub.Keys),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok := s.subs[sub.Endpoint]; ok {
		rec.CreatedAt = existing.CreatedAt
	}
	s.subs[sub.Endpoint] = rec
	return nil
}

func (s *MemoryStore) DeleteByEndpoint(_ context.Context, endpoint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[endpoint]; !ok {
		return false, nil
	}
	delete(s.subs, endpoint)
	return true, nil
}

func (s *MemoryStore) DeleteMany(_ context.Context, endpoints []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, endpoint := range endpoints {
		if _, ok := s.subs[endpoint]; ok {
			delete(s.subs, endpoint)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]models.PushSubscription, error) {
	s.mu.RLock()
	subs := make([]models.PushSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		sub.Keys = bytes.Clone(sub.Keys)
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.Before(subs[j].CreatedAt)
		}
		return subs[i].Endpoint < subs[j].Endpoint
	})
	return subs, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
