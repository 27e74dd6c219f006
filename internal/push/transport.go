package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"push-dispatcher/internal/models"
)

// Transport delivers one payload to one subscription and classifies the result.
// The returned error carries the detail for logging; the Outcome is what callers act on.
type Transport interface {
	Send(ctx context.Context, sub models.PushSubscription, payload []byte) (models.Outcome, error)
}

// StatusError is returned when the push service answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("push service returned %d: %s", e.StatusCode, e.Body)
}

// Classify maps a push service status code to an outcome. 400, 404 and 410 mean the
// subscription will never accept a message again.
func Classify(statusCode int) models.Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return models.OutcomeDelivered
	case statusCode == http.StatusBadRequest,
		statusCode == http.StatusNotFound,
		statusCode == http.StatusGone:
		return models.OutcomeInvalid
	default:
		return models.OutcomeTransient
	}
}

// Options configures a WebPushTransport.
type Options struct {
	Subscriber string
	Keys       VAPIDKeys
	TTL        int
	Timeout    time.Duration
	// HTTPClient overrides the client used to reach push services.
	HTTPClient webpush.HTTPClient
}

// WebPushTransport sends RFC 8030 Web Push messages signed with VAPID.
type WebPushTransport struct {
	opts Options
}

func NewWebPushTransport(opts Options) *WebPushTransport {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	// webpush-go adds the mailto: scheme itself.
	opts.Subscriber = strings.TrimPrefix(opts.Subscriber, "mailto:")
	return &WebPushTransport{opts: opts}
}

func (t *WebPushTransport) Send(ctx context.Context, sub models.PushSubscription, payload []byte) (models.Outcome, error) {
	var keys webpush.Keys
	if err := json.Unmarshal(sub.Keys, &keys); err != nil {
		return models.OutcomeInvalid, fmt.Errorf("decode subscription keys: %w", err)
	}
	if keys.P256dh == "" || keys.Auth == "" {
		return models.OutcomeInvalid, errors.New("subscription keys missing p256dh or auth")
	}

	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     keys,
	}, &webpush.Options{
		HTTPClient:      t.opts.HTTPClient,
		Subscriber:      t.opts.Subscriber,
		VAPIDPublicKey:  t.opts.Keys.Public,
		VAPIDPrivateKey: t.opts.Keys.Private,
		TTL:             t.opts.TTL,
	})
	if err != nil {
		return models.OutcomeTransient, fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	outcome := Classify(resp.StatusCode)
	if outcome == models.OutcomeDelivered {
		_, _ = io.Copy(io.Discard, resp.Body)
		return outcome, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return outcome, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
