package models

import (
	"encoding/json"
	"time"
)

// PushSubscription is a browser push subscription as posted by the client.
// Keys is kept verbatim; only the push transport interprets it.
type PushSubscription struct {
	Endpoint  string          `json:"endpoint"`
	Keys      json.RawMessage `json:"keys"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// ContentItem is one entry of the remote posts document. The first item is the latest.
type ContentItem struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Body    string `json:"body"`
	Text    string `json:"text"`
	Image   string `json:"image"`
}

// NotificationPayload is the JSON document delivered to every subscriber.
type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	Badge string `json:"badge"`
	Image string `json:"image"`
	URL   string `json:"url"`
}

// Overrides are optional caller-supplied replacements for composed fields.
type Overrides struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeInvalid   Outcome = "permanently-invalid"
	OutcomeTransient Outcome = "transient-error"
)

// DispatchSummary is what one dispatch cycle reports back to the trigger.
type DispatchSummary struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Removed   int `json:"removed"`
	Remaining int `json:"remainingSubscriptions"`
}
