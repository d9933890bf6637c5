// Package payments is the narrow boundary to the hosted-checkout payment
// provider: creating a hosted session for a list of line items, and turning
// an inbound webhook body into a verified Event.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when no provider secret key is set.
	ErrNotConfigured = errors.New("payment provider is not configured")
	// ErrMalformedEvent is returned for webhook bodies that are not events.
	ErrMalformedEvent = errors.New("malformed event")
)

type LineItem struct {
	ProductID  int64
	SKU        string
	Name       string
	Currency   string
	UnitAmount int64
	Quantity   int
	ImageURL   string
}

type SessionRequest struct {
	LineItems []LineItem
	// SuccessURL may contain the provider's {CHECKOUT_SESSION_ID} placeholder,
	// which the provider substitutes on redirect.
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
}

type HostedSession struct {
	ID  string
	URL string
}

// Event is a decoded provider notification. Object is the event's
// data.object payload.
type Event struct {
	ID     string
	Type   string
	Object map[string]any
	Raw    []byte
}

// ObjectID returns the identifier stored under key in the event object. It
// accepts both a plain id string and an expanded object carrying an "id".
func (e Event) ObjectID(key string) string {
	switch v := e.Object[key].(type) {
	case string:
		return v
	case map[string]any:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}

type Gateway interface {
	CreateHostedSession(ctx context.Context, req SessionRequest) (HostedSession, error)
	VerifyEvent(payload []byte, signature, secret string) (Event, error)
}

type wireEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object map[string]any `json:"object"`
	} `json:"data"`
}

// DecodeUnsigned parses payload as an event without checking any signature.
// It exists for development setups that run without a webhook secret.
func DecodeUnsigned(payload []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if w.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return Event{ID: w.ID, Type: w.Type, Object: w.Data.Object, Raw: payload}, nil
}
