package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"push-dispatcher/internal/content"
	"push-dispatcher/internal/models"
	"push-dispatcher/internal/push"
	"push-dispatcher/internal/store"
)

type fakeFetcher struct {
	items []models.ContentItem
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) Latest(context.Context) ([]models.ContentItem, error) {
	f.calls.Add(1)
	return f.items, f.err
}

// fakeTransport answers per endpoint and records what it was asked to send.
type fakeTransport struct {
	outcomes map[string]models.Outcome
	delay    time.Duration

	mu       sync.Mutex
	sent     []string
	payloads [][]byte

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeTransport) Send(_ context.Context, sub models.PushSubscription, payload []byte) (models.Outcome, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.sent = append(f.sent, sub.Endpoint)
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()

	outcome, ok := f.outcomes[sub.Endpoint]
	if !ok {
		outcome = models.OutcomeDelivered
	}
	switch outcome {
	case models.OutcomeInvalid:
		return outcome, &push.StatusError{StatusCode: 410}
	case models.OutcomeTransient:
		return outcome, context.DeadlineExceeded
	}
	return outcome, nil
}

// failingStore wraps a MemoryStore and fails selected operations.
type failingStore struct {
	*store.MemoryStore
	listErr   error
	deleteErr error
	countErr  error
}

func (s *failingStore) ListAll(ctx context.Context) ([]models.PushSubscription, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.MemoryStore.ListAll(ctx)
}

func (s *failingStore) DeleteMany(ctx context.Context, endpoints []string) (int, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	return s.MemoryStore.DeleteMany(ctx, endpoints)
}

func (s *failingStore) Count(ctx context.Context) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.MemoryStore.Count(ctx)
}

// subscribingTransport registers a fresh endpoint for every send, as a client
// re-subscribing while the cycle is in flight would.
type subscribingTransport struct {
	*fakeTransport
	store store.SubscriptionStore
}

func (t *subscribingTransport) Send(ctx context.Context, sub models.PushSubscription, payload []byte) (models.Outcome, error) {
	if err := t.store.Upsert(ctx, models.PushSubscription{
		Endpoint: "NEW-" + sub.Endpoint,
		Keys:     json.RawMessage(`{"p256dh":"k","auth":"a"}`),
	}); err != nil {
		return models.OutcomeTransient, err
	}
	return t.fakeTransport.Send(ctx, sub, payload)
}

func seed(t *testing.T, s store.SubscriptionStore, endpoints ...string) {
	t.Helper()
	for _, e := range endpoints {
		require.NoError(t, s.Upsert(context.Background(), models.PushSubscription{
			Endpoint: e,
			Keys:     json.RawMessage(`{"p256dh":"k","auth":"a"}`),
		}))
	}
}

func remaining(t *testing.T, s store.SubscriptionStore) []string {
	t.Helper()
	subs, err := s.ListAll(context.Background())
	require.NoError(t, err)
	var out []string
	for _, sub := range subs {
		out = append(out, sub.Endpoint)
	}
	return out
}

func newTestCoordinator(t *testing.T, s store.SubscriptionStore, f content.Fetcher, tr push.Transport) (*Coordinator, *Metrics) {
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewCoordinator(Options{
		Store:       s,
		Fetcher:     f,
		Transport:   tr,
		Composer:    NewComposer(ComposerOptions{Icon: "/icons/icon-192.png"}),
		Concurrency: 4,
		Metrics:     metrics,
		Logger:      zaptest.NewLogger(t),
	}), metrics
}

func TestDispatchMixedOutcomes(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "A", "B", "C")
	tr := &fakeTransport{outcomes: map[string]models.Outcome{
		"B": models.OutcomeInvalid,
		"C": models.OutcomeTransient,
	}}
	c, metrics := newTestCoordinator(t, s, &fakeFetcher{items: []models.ContentItem{{Title: "T"}}}, tr)

	summary, err := c.Dispatch(context.Background(), models.Overrides{})
	require.NoError(t, err)

	assert.Equal(t, models.DispatchSummary{Attempted: 3, Sent: 1, Failed: 2, Removed: 1, Remaining: 2}, summary)
	assert.ElementsMatch(t, []string{"A", "C"}, remaining(t, s))
	assert.ElementsMatch(t, []string{"A", "B", "C"}, tr.sent)

	var payload models.NotificationPayload
	require.NoError(t, json.Unmarshal(tr.payloads[0], &payload))
	assert.Equal(t, "T", payload.Title)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cycles.WithLabelValues(resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.deliveries.WithLabelValues(string(models.OutcomeDelivered))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.pruned))
}

func TestDispatchReconcilesOnlyInvalid(t *testing.T) {
	const n = 50
	s := store.NewMemoryStore()
	outcomes := map[string]models.Outcome{}
	var all []string
	for i := range n {
		e := fmt.Sprintf("https://push.example/%02d", i)
		all = append(all, e)
		switch i % 5 {
		case 0:
			outcomes[e] = models.OutcomeInvalid
		case 1:
			outcomes[e] = models.OutcomeTransient
		}
	}
	seed(t, s, all...)

	c, _ := newTestCoordinator(t, s, &fakeFetcher{items: []models.ContentItem{{Title: "T"}}}, &fakeTransport{outcomes: outcomes})
	summary, err := c.Dispatch(context.Background(), models.Overrides{})
	require.NoError(t, err)

	invalid, transient := 10, 10
	assert.Equal(t, n, summary.Attempted)
	assert.Equal(t, invalid+transient, summary.Failed)
	assert.Equal(t, n-invalid-transient, summary.Sent)
	assert.Equal(t, invalid, summary.Removed)
	assert.Equal(t, n-invalid, summary.Remaining)

	var want []string
	for _, e := range all {
		if outcomes[e] != models.OutcomeInvalid {
			want = append(want, e)
		}
	}
	assert.ElementsMatch(t, want, remaining(t, s))
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	s := store.NewMemoryStore()
	for i := range 20 {
		seed(t, s, fmt.Sprintf("E%d", i))
	}
	tr := &fakeTransport{delay: 10 * time.Millisecond}
	c, _ := newTestCoordinator(t, s, &fakeFetcher{items: []models.ContentItem{{Title: "T"}}}, tr)

	summary, err := c.Dispatch(context.Background(), models.Overrides{})
	require.NoError(t, err)
	assert.Equal(t, 20, summary.Sent)
	assert.LessOrEqual(t, tr.maxInFlight.Load(), int32(4))
	assert.Len(t, tr.sent, 20)
}

func TestDispatchEmptyContent(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "A")
	tr := &fakeTransport{}
	c, metrics := newTestCoordinator(t, s, &fakeFetcher{}, tr)

	_, err := c.Dispatch(context.Background(), models.Overrides{})
	require.ErrorIs(t, err, ErrNoContent)
	assert.Empty(t, tr.sent)
	assert.Equal(t, []string{"A"}, remaining(t, s))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cycles.WithLabelValues(resultNoContent)))
}

func TestDispatchContentError(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "A")
	tr := &fakeTransport{}
	c, _ := newTestCoordinator(t, s, &fakeFetcher{err: content.ErrNoSource}, tr)

	_, err := c.Dispatch(context.Background(), models.Overrides{})
	require.ErrorIs(t, err, ErrContentUnavailable)
	require.ErrorIs(t, err, content.ErrNoSource)
	assert.Empty(t, tr.sent)
}

func TestDispatchStoreUnavailable(t *testing.T) {
	s := &failingStore{MemoryStore: store.NewMemoryStore(), listErr: errors.New("connection refused")}
	tr := &fakeTransport{}
	c, _ := newTestCoordinator(t, s, &fakeFetcher{items: []models.ContentItem{{Title: "T"}}}, tr)

	_, err := c.Dispatch(context.Background(), models.Overrides{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrNoContent)
	assert.Empty(t, tr.sent)
}

func TestDispatchReconcileFailureIsNotFatal(t *testing.T) {
	s := &failingStore{MemoryStore: store.NewMemoryStore(), deleteErr: errors.New("read-only")}
	seed(t, s, "A", "B")
	tr := &fakeTransport{outcomes: map[string]models.Outcome{"B": models.OutcomeInvalid}}
	c, _ := newTestCoordinator(t, s, &fakeFetcher{items: []models.ContentItem{{Title: "T"}}}, tr)

	summary, err := c.Dispatch(context.Background(), models.Overrides{})
	require.NoError(t, err)
	assert.Equal(t, models.DispatchSummary{Attempted: 2, Sent: 1, Failed: 1, Removed: 0, Remaining: 2}, summary)
	assert.ElementsMatch(t, []string{"A", "B"}, remaining(t, s))
}

func TestDispatchRemainingCountsConcurrentSubscribers(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "A", "B")
	tr := &subscribingTransport{
		fakeTransport: &fakeTransport{outcomes: map[string]models.Outcome{"B": models.OutcomeInvalid}},
		store:         s,
	}
	c, _ := newTestCoordinator(t, s, &fakeFetcher{items: []models.ContentItem{{Title: "T"}}}, tr)

	summary, err := c.Dispatch(context.Background(), models.Overrides{})
	require.NoError(t, err)

	count, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, count, summary.Remaining)
	assert.Equal(t, models.DispatchSummary{Attempted: 2, Sent: 1, Failed: 1, Removed: 1, Remaining: 3}, summary)
	assert.ElementsMatch(t, []string{"A", "NEW-A", "NEW-B"}, remaining(t, s))
}

func TestDispatchRemainingFallsBackWhenCountFails(t *testing.T) {
	s := &failingStore{MemoryStore: store.NewMemoryStore(), countErr: errors.New("timeout")}
	seed(t, s, "A", "B", "C")
	tr := &fakeTransport{outcomes: map[string]models.Outcome{"C": models.OutcomeInvalid}}
	c, _ := newTestCoordinator(t, s, &fakeFetcher{items: []models.ContentItem{{Title: "T"}}}, tr)

	summary, err := c.Dispatch(context.Background(), models.Overrides{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Remaining)
	assert.Equal(t, 1, summary.Removed)
}

func TestDispatchNoSubscribers(t *testing.T) {
	c, _ := newTestCoordinator(t, store.NewMemoryStore(), &fakeFetcher{items: []models.ContentItem{{Title: "T"}}}, &fakeTransport{})

	summary, err := c.Dispatch(context.Background(), models.Overrides{})
	require.NoError(t, err)
	assert.Equal(t, models.DispatchSummary{}, summary)
}

func TestDispatchSurvivesCallerCancellation(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "A", "B")
	tr := &fakeTransport{outcomes: map[string]models.Outcome{"B": models.OutcomeInvalid}}
	c, _ := newTestCoordinator(t, s, &fakeFetcher{items: []models.ContentItem{{Title: "T"}}}, tr)

	ctx, cancel := context.WithCancel(context.Background())
	s2 := &cancelOnList{SubscriptionStore: s, cancel: cancel}
	c.store = s2

	summary, err := c.Dispatch(ctx, models.Overrides{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Removed)
	assert.Equal(t, []string{"A"}, remaining(t, s))
}

// cancelOnList cancels the caller's context as soon as recipients are loaded.
type cancelOnList struct {
	store.SubscriptionStore
	cancel context.CancelFunc
}

func (s *cancelOnList) ListAll(ctx context.Context) ([]models.PushSubscription, error) {
	defer s.cancel()
	return s.SubscriptionStore.ListAll(ctx)
}
