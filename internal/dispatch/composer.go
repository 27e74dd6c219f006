package dispatch

import (
	"net/url"
	"strings"

	"push-dispatcher/internal/models"
)

const (
	// MaxBodyLength is measured in characters (runes), not bytes.
	MaxBodyLength = 150
	ellipsis      = "..."

	DefaultTitle = "New update"
	DefaultBody  = "Tap to read the latest post"
	DefaultURL   = "./index.html?source=daily_push"
)

// ComposerOptions are the static parts of every notification.
type ComposerOptions struct {
	// TitlePrefix is prepended to every title, override or not.
	TitlePrefix string
	// Icon is used for both icon and badge.
	Icon string
	// AssetBaseURL is joined with relative image paths.
	AssetBaseURL string
}

// Composer builds notification payloads. It has no side effects.
type Composer struct {
	opts ComposerOptions
}

func NewComposer(opts ComposerOptions) *Composer {
	return &Composer{opts: opts}
}

// Compose builds the payload for item, letting non-empty overrides win.
func (c *Composer) Compose(item models.ContentItem, overrides models.Overrides) models.NotificationPayload {
	title := firstNonEmpty(overrides.Title, item.Title, DefaultTitle)
	body := firstNonEmpty(overrides.Body, item.Content, item.Body, item.Text, DefaultBody)

	return models.NotificationPayload{
		Title: c.opts.TitlePrefix + title,
		Body:  Truncate(body, MaxBodyLength),
		Icon:  c.opts.Icon,
		Badge: c.opts.Icon,
		Image: ResolveImage(c.opts.AssetBaseURL, item.Image),
		URL:   firstNonEmpty(overrides.URL, DefaultURL),
	}
}

// Truncate cuts s to limit runes and appends an ellipsis, but only when something was cut.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + ellipsis
}

// ResolveImage joins a relative image path onto base without doubling the separator.
// Absolute and protocol-relative URLs are returned unchanged.
func ResolveImage(base, image string) string {
	if image == "" {
		return ""
	}
	if strings.HasPrefix(image, "//") {
		return image
	}
	if u, err := url.Parse(image); err == nil && u.IsAbs() {
		return image
	}
	if base == "" {
		return image
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + strings.TrimPrefix(image, "/")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
