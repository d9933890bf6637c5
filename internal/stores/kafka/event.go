package kafka

import "time"

const (
	TopicOrderPaid     = `checkout-service.order-paid`
	TopicOrderCanceled = `checkout-service.order-canceled`
	TopicLowStock      = `checkout-service.inventory-low-stock`
)

// OrderEvent is published after an order reaches a terminal state.
type OrderEvent struct {
	OrderID         int64     `json:"order_id"`
	SessionID       string    `json:"session_id"`
	Status          string    `json:"status"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	StripeEventID   string    `json:"stripe_event_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// LowStockEvent is published when a paid order leaves a product at or below
// its low stock threshold.
type LowStockEvent struct {
	ProductID         int64     `json:"product_id"`
	Quantity          int       `json:"quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	OrderID           int64     `json:"order_id"`
	CreatedAt         time.Time `json:"created_at"`
}
