// Package dispatch runs notification cycles: fetch the latest content, compose one payload,
// fan it out to every stored subscription and prune the ones the push service rejected.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"push-dispatcher/internal/content"
	"push-dispatcher/internal/models"
	"push-dispatcher/internal/push"
	"push-dispatcher/internal/store"
)

var (
	// ErrContentUnavailable wraps any failure to read the content source.
	ErrContentUnavailable = errors.New("content source unavailable")
	// ErrNoContent means the source answered with no items; nothing was sent.
	ErrNoContent = errors.New("no content to send")
	// ErrStoreUnavailable wraps a failure to load recipients; nothing was sent.
	ErrStoreUnavailable = errors.New("subscription store unavailable")
)

// Options wires a Coordinator.
type Options struct {
	Store     store.SubscriptionStore
	Fetcher   content.Fetcher
	Transport push.Transport
	Composer  *Composer
	// Concurrency bounds the number of in-flight sends.
	Concurrency int
	Metrics     *Metrics
	Logger      *zap.Logger
}

// Coordinator runs dispatch cycles. Overlapping cycles are allowed; each works from its own
// snapshot of the store.
type Coordinator struct {
	store       store.SubscriptionStore
	fetcher     content.Fetcher
	transport   push.Transport
	composer    *Composer
	concurrency int
	metrics     *Metrics
	logger      *zap.Logger
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		store:       opts.Store,
		fetcher:     opts.Fetcher,
		transport:   opts.Transport,
		composer:    opts.Composer,
		concurrency: opts.Concurrency,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
	if c.composer == nil {
		c.composer = NewComposer(ComposerOptions{})
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

type delivery struct {
	endpoint string
	outcome  models.Outcome
	err      error
}

// Dispatch runs one cycle. Content and store failures abort the cycle before anything is
// sent; per-subscription failures only show up in the summary.
func (c *Coordinator) Dispatch(ctx context.Context, overrides models.Overrides) (models.DispatchSummary, error) {
	start := time.Now()

	items, err := c.fetcher.Latest(ctx)
	if err != nil {
		c.metrics.cycles.WithLabelValues(resultContentError).Inc()
		return models.DispatchSummary{}, fmt.Errorf("%w: %w", ErrContentUnavailable, err)
	}
	if len(items) == 0 {
		c.metrics.cycles.WithLabelValues(resultNoContent).Inc()
		return models.DispatchSummary{}, ErrNoContent
	}

	payload, err := json.Marshal(c.composer.Compose(items[0], overrides))
	if err != nil {
		c.metrics.cycles.WithLabelValues(resultEncodeError).Inc()
		return models.DispatchSummary{}, fmt.Errorf("encode payload: %w", err)
	}

	subs, err := c.store.ListAll(ctx)
	if err != nil {
		c.metrics.cycles.WithLabelValues(resultStoreError).Inc()
		return models.DispatchSummary{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	c.logger.Info("Sending notification", zap.Int("subscribers", len(subs)))

	// Once sending starts the cycle runs to completion even if the trigger goes away.
	sendCtx := context.WithoutCancel(ctx)
	results := c.fanOut(sendCtx, subs, payload)

	summary := models.DispatchSummary{Attempted: len(subs)}
	var invalid []string
	var failures error
	for _, r := range results {
		c.metrics.deliveries.WithLabelValues(string(r.outcome)).Inc()
		switch r.outcome {
		case models.OutcomeDelivered:
			summary.Sent++
			continue
		case models.OutcomeInvalid:
			invalid = append(invalid, r.endpoint)
		}
		summary.Failed++
		failures = multierr.Append(failures, fmt.Errorf("%s: %w", r.endpoint, r.err))
		c.logger.Warn("Push delivery failed",
			zap.String("endpoint", r.endpoint),
			zap.String("outcome", string(r.outcome)),
			zap.Error(r.err),
		)
	}

	if len(invalid) > 0 {
		removed, err := c.store.DeleteMany(sendCtx, invalid)
		if err != nil {
			c.logger.Error("Failed to remove invalid subscriptions", zap.Int("count", len(invalid)), zap.Error(err))
		} else {
			summary.Removed = removed
			c.metrics.pruned.Add(float64(removed))
			c.logger.Info("Removed invalid subscriptions", zap.Int("count", removed))
		}
	}
	summary.Remaining = c.remaining(sendCtx, summary)

	c.metrics.cycles.WithLabelValues(resultOK).Inc()
	c.metrics.duration.Observe(time.Since(start).Seconds())

	fields := []zap.Field{
		zap.Int("attempted", summary.Attempted),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("removed", summary.Removed),
		zap.Duration("elapsed", time.Since(start)),
	}
	if failures != nil {
		fields = append(fields, zap.NamedError("failures", failures))
	}
	c.logger.Info("Dispatch cycle finished", fields...)

	return summary, nil
}

// remaining reads the registry size after reconciliation. Subscriptions added or removed
// during the cycle are counted; the snapshot arithmetic is only a fallback.
func (c *Coordinator) remaining(ctx context.Context, summary models.DispatchSummary) int {
	n, err := c.store.Count(ctx)
	if err != nil {
		c.logger.Warn("Failed to count subscriptions after dispatch; reporting snapshot estimate", zap.Error(err))
		return summary.Attempted - summary.Removed
	}
	return n
}

// fanOut sends payload to every subscription with at most c.concurrency sends in flight and
// waits for all of them. results[i] belongs to subs[i].
func (c *Coordinator) fanOut(ctx context.Context, subs []models.PushSubscription, payload []byte) []delivery {
	results := make([]delivery, len(subs))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			outcome, err := c.transport.Send(ctx, sub, payload)
			if outcome == models.OutcomeDelivered {
				err = nil
			} else if err == nil {
				err = errors.New(string(outcome))
			}
			results[i] = delivery{endpoint: sub.Endpoint, outcome: outcome, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
