package reconcile

import (
	"context"
	"errors"
	"sync"

	"checkout-service/internal/catalog"
	"checkout-service/internal/orders"
)

// memLedger mirrors the locking and state rules of the SQL ledger in memory.
type memLedger struct {
	mu        sync.Mutex
	events    map[string]orders.StripeEvent
	orders    map[string]*memOrder
	stock     map[int64]*catalog.Inventory
	anomalies []orders.Anomaly
	recordErr error
	paidErr   error
}

type memOrder struct {
	id            int64
	status        orders.Status
	paymentIntent string
	lines         []orders.OrderItem
}

func newMemLedger() *memLedger {
	return &memLedger{
		events: map[string]orders.StripeEvent{},
		orders: map[string]*memOrder{},
		stock:  map[int64]*catalog.Inventory{},
	}
}

func (m *memLedger) addStock(productID int64, qty, threshold int) {
	m.stock[productID] = &catalog.Inventory{ProductID: productID, Quantity: qty, LowStockThreshold: threshold}
}

func (m *memLedger) addOrder(sessionID string, id int64, lines ...orders.OrderItem) {
	m.orders[sessionID] = &memOrder{id: id, status: orders.StatusPending, lines: lines}
}

func (m *memLedger) RecordEvent(_ context.Context, ev orders.StripeEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return false, m.recordErr
	}
	if _, ok := m.events[ev.EventID]; ok {
		return false, nil
	}
	m.events[ev.EventID] = ev
	return true, nil
}

func (m *memLedger) MarkPaid(_ context.Context, sessionID, paymentIntentID string) (orders.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paidErr != nil {
		return orders.Transition{}, m.paidErr
	}
	o, ok := m.orders[sessionID]
	if !ok {
		return orders.Transition{}, orders.ErrNotFound
	}
	t := orders.Transition{OrderID: o.id, From: o.status, To: o.status}
	if !o.status.CanTransition(orders.StatusPaid) {
		return t, nil
	}
	o.status = orders.StatusPaid
	t.To = orders.StatusPaid
	o.paymentIntent = paymentIntentID
	t.Applied = true
	for _, l := range o.lines {
		inv, ok := m.stock[l.ProductID]
		if !ok {
			a := orders.Anomaly{OrderID: o.id, ProductID: l.ProductID, Requested: l.Quantity}
			t.Anomalies = append(t.Anomalies, a)
			continue
		}
		after, shortfall := catalog.ClampDecrement(inv.Quantity, l.Quantity)
		d := catalog.Decrement{ProductID: l.ProductID, Requested: l.Quantity, Before: inv.Quantity, After: after, Shortfall: shortfall, LowStockThreshold: inv.LowStockThreshold}
		inv.Quantity = after
		t.Decrements = append(t.Decrements, d)
		if shortfall > 0 {
			onHand := d.Before
			t.Anomalies = append(t.Anomalies, orders.Anomaly{OrderID: o.id, ProductID: l.ProductID, Requested: l.Quantity, OnHand: &onHand})
		}
	}
	m.anomalies = append(m.anomalies, t.Anomalies...)
	return t, nil
}

func (m *memLedger) MarkCanceled(_ context.Context, sessionID string) (orders.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[sessionID]
	if !ok {
		return orders.Transition{}, orders.ErrNotFound
	}
	t := orders.Transition{OrderID: o.id, From: o.status, To: o.status}
	if !o.status.CanTransition(orders.StatusCanceled) {
		return t, nil
	}
	o.status = orders.StatusCanceled
	t.To = orders.StatusCanceled
	t.Applied = true
	return t, nil
}

func (m *memLedger) status(sessionID string) orders.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[sessionID].status
}

func (m *memLedger) quantity(productID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[productID].Quantity
}

type message struct {
	topic string
	key   string
	value []byte
}

type memProducer struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (p *memProducer) ProduceMessage(topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, message{topic: topic, key: string(key), value: value})
	return nil
}

func (p *memProducer) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.msgs {
		out = append(out, m.topic)
	}
	return out
}

var errStore = errors.New("connection reset")
