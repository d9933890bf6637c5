package orders

import (
	"time"
	"unicode/utf8"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusCanceled Status = "canceled"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCanceled
}

// CanTransition reports whether an order in state s may move to next.
// Only pending orders move, and only to paid or canceled.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPending && (next == StatusPaid || next == StatusCanceled)
}

// Order represents an order entity in the database
type Order struct {
	ID                      int64       `json:"id"`
	Status                  Status      `json:"status"`
	CustomerEmail           *string     `json:"customer_email"`
	StripeCheckoutSessionID string      `json:"stripe_checkout_session_id"`
	StripePaymentIntentID   *string     `json:"stripe_payment_intent_id"`
	SubtotalCents           int64       `json:"subtotal_cents"`
	TaxCents                int64       `json:"tax_cents"`
	ShippingCents           int64       `json:"shipping_cents"`
	TotalCents              int64       `json:"total_cents"`
	Currency                string      `json:"currency"`
	Items                   []OrderItem `json:"items"`
	CreatedAt               time.Time   `json:"created_at"`
	UpdatedAt               time.Time   `json:"updated_at"`
}

// OrderItem is a line of an order. Name, SKU and price are copied from the
// product when the order is created and never follow later catalog edits.
type OrderItem struct {
	ID             int64     `json:"id"`
	OrderID        int64     `json:"order_id"`
	ProductID      int64     `json:"product_id"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Quantity       int       `json:"quantity"`
	Currency       string    `json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
}

// LineTotal is UnitPriceCents × Quantity.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}

type NewOrder struct {
	CustomerEmail *string
	SessionID     string
	Currency      string
	Items         []NewOrderItem
}

type NewOrderItem struct {
	ProductID      int64
	SKU            string
	Name           string
	UnitPriceCents int64
	Quantity       int
	Currency       string
}

// Anomaly records a paid order line whose stock could not be fully removed.
// OnHand is nil when the product had no inventory row at all.
type Anomaly struct {
	OrderID   int64
	ProductID int64
	Requested int
	OnHand    *int
}

// MaxEventPayload is the number of characters of a raw event kept in the
// stripe_events table.
const MaxEventPayload = 10000

type StripeEvent struct {
	EventID string
	Type    string
	Payload string
}

// TruncatePayload shortens s to at most n characters without splitting a rune.
func TruncatePayload(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
