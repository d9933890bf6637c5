package catalog

import "time"

// Product is a catalog item. Prices are integer amounts in the smallest
// currency unit.
type Product struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	ImageURL    *string   `json:"image_url"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type NewProduct struct {
	SKU         string
	Name        string
	Description string
	PriceCents  int64
	Currency    string
	ImageURL    string
}

// Inventory tracks on-hand stock for one product. Quantity is never negative.
type Inventory struct {
	ID                int64     `json:"id"`
	ProductID         int64     `json:"product_id"`
	Quantity          int       `json:"quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// InventoryUpdate is a partial update; nil fields are left unchanged.
type InventoryUpdate struct {
	Quantity          *int
	LowStockThreshold *int
}

// Decrement describes the outcome of removing stock for a paid order line.
type Decrement struct {
	ProductID         int64
	Requested         int
	Before            int
	After             int
	Shortfall         int
	LowStockThreshold int
}

// LowStock reports whether the remaining quantity is at or below the threshold.
func (d Decrement) LowStock() bool {
	return d.After <= d.LowStockThreshold
}

// ClampDecrement removes qty from onHand without going below zero. shortfall
// is the part of qty that could not be satisfied.
func ClampDecrement(onHand, qty int) (after, shortfall int) {
	if qty <= 0 {
		return onHand, 0
	}
	if qty > onHand {
		return 0, qty - max(onHand, 0)
	}
	return onHand - qty, 0
}
