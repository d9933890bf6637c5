package checkout

import (
	"context"
	"fmt"
	"sync"

	"checkout-service/internal/catalog"
	"checkout-service/internal/orders"
	"checkout-service/internal/payments"
)

type fakeCatalog struct {
	products  map[int64]catalog.Product
	inventory map[int64]catalog.Inventory
	err       error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{products: map[int64]catalog.Product{}, inventory: map[int64]catalog.Inventory{}}
}

func (f *fakeCatalog) add(id int64, sku string, price int64, currency string, onHand int, active bool) {
	f.products[id] = catalog.Product{ID: id, SKU: sku, Name: "Product " + sku, PriceCents: price, Currency: currency, Active: active}
	if onHand >= 0 {
		f.inventory[id] = catalog.Inventory{ID: id, ProductID: id, Quantity: onHand}
	}
}

func (f *fakeCatalog) GetProduct(_ context.Context, id int64) (catalog.Product, error) {
	if f.err != nil {
		return catalog.Product{}, f.err
	}
	p, ok := f.products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("product %d: %w", id, catalog.ErrNotFound)
	}
	return p, nil
}

func (f *fakeCatalog) GetInventory(_ context.Context, id int64) (catalog.Inventory, error) {
	inv, ok := f.inventory[id]
	if !ok {
		return catalog.Inventory{}, fmt.Errorf("inventory %d: %w", id, catalog.ErrNotFound)
	}
	return inv, nil
}

type fakeOrders struct {
	mu      sync.Mutex
	created []orders.Order
	err     error
}

func (f *fakeOrders) CreateOrder(_ context.Context, n orders.NewOrder) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return orders.Order{}, f.err
	}
	o := orders.Order{
		ID:                      int64(len(f.created) + 1),
		Status:                  orders.StatusPending,
		CustomerEmail:           n.CustomerEmail,
		StripeCheckoutSessionID: n.SessionID,
		Currency:                n.Currency,
	}
	for _, it := range n.Items {
		item := orders.OrderItem{OrderID: o.ID, ProductID: it.ProductID, SKU: it.SKU, Name: it.Name,
			UnitPriceCents: it.UnitPriceCents, Quantity: it.Quantity, Currency: it.Currency}
		o.Items = append(o.Items, item)
		o.SubtotalCents += item.LineTotal()
	}
	o.TotalCents = o.SubtotalCents
	f.created = append(f.created, o)
	return o, nil
}

type fakeGateway struct {
	calls []payments.SessionRequest
	err   error
}

func (f *fakeGateway) CreateHostedSession(_ context.Context, req payments.SessionRequest) (payments.HostedSession, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return payments.HostedSession{}, f.err
	}
	id := fmt.Sprintf("cs_test_%d", len(f.calls))
	return payments.HostedSession{ID: id, URL: "https://checkout.stripe.com/c/pay/" + id}, nil
}

func (f *fakeGateway) VerifyEvent([]byte, string, string) (payments.Event, error) {
	return payments.Event{}, fmt.Errorf("not used")
}
