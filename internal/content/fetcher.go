// Package content fetches the posts document that daily notifications are built from.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"push-dispatcher/internal/models"
)

// ErrNoSource is returned when no posts URL is configured.
var ErrNoSource = errors.New("content source url is not configured")

// Fetcher returns the current content items, latest first.
type Fetcher interface {
	Latest(ctx context.Context) ([]models.ContentItem, error)
}

// HTTPFetcher reads a JSON array of items from a URL.
type HTTPFetcher struct {
	httpClient *http.Client
	url        string
}

func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
	}
}

// URL returns the configured source address.
func (f *HTTPFetcher) URL() string {
	return f.url
}

func (f *HTTPFetcher) Latest(ctx context.Context) ([]models.ContentItem, error) {
	if f.url == "" {
		return nil, ErrNoSource
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build content request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch %s: status=%d, body=%s", f.url, resp.StatusCode, string(body))
	}

	var items []models.ContentItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.url, err)
	}
	return items, nil
}
