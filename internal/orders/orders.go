package orders

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"checkout-service/internal/catalog"
	"checkout-service/internal/stores/postgres"
	"checkout-service/pkg/ctxmanage"
	"checkout-service/pkg/logkey"
)

var (
	ErrNotFound         = errors.New("order not found")
	ErrDuplicateSession = errors.New("an order already exists for this checkout session")
	ErrNoItems          = errors.New("order has no items")
)

type Conf struct {
	db *sql.DB
}

func NewConf(db *sql.DB) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db}, nil
}

// CreateOrder persists a pending order and its items in one transaction.
// Items whose product row no longer exists are skipped and excluded from the
// totals, so the stored totals always equal the sum of the stored items.
func (c *Conf) CreateOrder(ctx context.Context, n NewOrder) (Order, error) {
	if len(n.Items) == 0 {
		return Order{}, ErrNoItems
	}

	o := Order{
		Status:                  StatusPending,
		CustomerEmail:           n.CustomerEmail,
		StripeCheckoutSessionID: n.SessionID,
		Currency:                n.Currency,
	}

	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		kept := make([]NewOrderItem, 0, len(n.Items))
		for _, it := range n.Items {
			ok, err := catalog.ProductExistsTx(ctx, tx, it.ProductID)
			if err != nil {
				return err
			}
			if !ok {
				slog.Warn("product vanished before order persisted, skipping line item",
					slog.String(logkey.TraceID, ctxmanage.TraceIdFromContext(ctx)),
					slog.String(logkey.SessionID, n.SessionID),
					slog.Int64(logkey.ProductID, it.ProductID))
				continue
			}
			kept = append(kept, it)
			o.SubtotalCents += it.UnitPriceCents * int64(it.Quantity)
		}
		// no tax or shipping
		o.TotalCents = o.SubtotalCents

		queryOrder := `
			INSERT INTO orders (status, customer_email, stripe_checkout_session_id,
				subtotal_cents, tax_cents, shipping_cents, total_cents, currency, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 0, 0, $5, $6, NOW(), NOW())
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRowContext(ctx, queryOrder, string(o.Status), o.CustomerEmail, o.StripeCheckoutSessionID,
			o.SubtotalCents, o.TotalCents, o.Currency).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			if postgres.IsCode(err, postgres.CodeUniqueViolation) {
				return ErrDuplicateSession
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}

		queryItem := `
			INSERT INTO order_items (order_id, product_id, sku, name, unit_price_cents, quantity, currency, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
			RETURNING id, created_at
		`
		for _, it := range kept {
			item := OrderItem{
				OrderID:        o.ID,
				ProductID:      it.ProductID,
				SKU:            it.SKU,
				Name:           it.Name,
				UnitPriceCents: it.UnitPriceCents,
				Quantity:       it.Quantity,
				Currency:       it.Currency,
			}
			err := tx.QueryRowContext(ctx, queryItem, item.OrderID, item.ProductID, item.SKU, item.Name,
				item.UnitPriceCents, item.Quantity, item.Currency).Scan(&item.ID, &item.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert order item for product %d: %w", it.ProductID, err)
			}
			o.Items = append(o.Items, item)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

// RecordEvent stores a webhook event once per event id. It reports whether
// the event was seen for the first time.
func (c *Conf) RecordEvent(ctx context.Context, ev StripeEvent) (bool, error) {
	query := `
		INSERT INTO stripe_events (event_id, type, payload, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`
	res, err := c.db.ExecContext(ctx, query, ev.EventID, ev.Type, TruncatePayload(ev.Payload, MaxEventPayload))
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	return n == 1, nil
}

// Transition is the outcome of applying a payment outcome to an order.
// Applied is false when the order was already terminal and nothing changed.
type Transition struct {
	OrderID    int64
	From       Status
	To         Status
	Applied    bool
	Decrements []catalog.Decrement
	Anomalies  []Anomaly
}

// lockOrder loads the order for sessionID and holds its row lock until tx
// ends, so concurrent deliveries for the same session serialize here.
func lockOrder(ctx context.Context, tx *sql.Tx, sessionID string) (int64, Status, error) {
	var (
		id     int64
		status string
	)
	query := `SELECT id, status FROM orders WHERE stripe_checkout_session_id = $1 FOR UPDATE`
	err := tx.QueryRowContext(ctx, query, sessionID).Scan(&id, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", ErrNotFound
		}
		return 0, "", fmt.Errorf("failed to lock order: %w", err)
	}
	return id, Status(status), nil
}

// MarkPaid moves the pending order for sessionID to paid and removes its
// items from inventory. Orders already paid or canceled are left untouched,
// which makes repeated deliveries of the same event harmless.
func (c *Conf) MarkPaid(ctx context.Context, sessionID, paymentIntentID string) (Transition, error) {
	var t Transition
	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		id, status, err := lockOrder(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		t = Transition{OrderID: id, From: status, To: status}
		if !status.CanTransition(StatusPaid) {
			return nil
		}

		var pi sql.NullString
		if paymentIntentID != "" {
			pi = sql.NullString{String: paymentIntentID, Valid: true}
		}
		queryUpdate := `UPDATE orders SET status = $1, stripe_payment_intent_id = $2, updated_at = NOW() WHERE id = $3`
		if _, err := tx.ExecContext(ctx, queryUpdate, string(StatusPaid), pi, id); err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		t.To, t.Applied = StatusPaid, true

		items, err := orderLines(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, it := range items {
			d, err := catalog.DecrementTx(ctx, tx, it.ProductID, it.Quantity)
			switch {
			case errors.Is(err, catalog.ErrNotFound):
				t.Anomalies = append(t.Anomalies, Anomaly{OrderID: id, ProductID: it.ProductID, Requested: it.Quantity})
				continue
			case err != nil:
				return err
			}
			t.Decrements = append(t.Decrements, d)
			if d.Shortfall > 0 {
				onHand := d.Before
				t.Anomalies = append(t.Anomalies, Anomaly{OrderID: id, ProductID: it.ProductID, Requested: it.Quantity, OnHand: &onHand})
			}
		}

		for _, a := range t.Anomalies {
			queryAnomaly := `INSERT INTO inventory_anomalies (order_id, product_id, requested, on_hand, created_at) VALUES ($1, $2, $3, $4, NOW())`
			if _, err := tx.ExecContext(ctx, queryAnomaly, a.OrderID, a.ProductID, a.Requested, a.OnHand); err != nil {
				return fmt.Errorf("failed to record inventory anomaly: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Transition{}, err
	}
	return t, nil
}

// MarkCanceled moves the pending order for sessionID to canceled. Inventory
// is not touched since nothing was removed for a pending order.
func (c *Conf) MarkCanceled(ctx context.Context, sessionID string) (Transition, error) {
	var t Transition
	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		id, status, err := lockOrder(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		t = Transition{OrderID: id, From: status, To: status}
		if !status.CanTransition(StatusCanceled) {
			return nil
		}
		queryUpdate := `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`
		if _, err := tx.ExecContext(ctx, queryUpdate, string(StatusCanceled), id); err != nil {
			return fmt.Errorf("failed to mark order canceled: %w", err)
		}
		t.To, t.Applied = StatusCanceled, true
		return nil
	})
	if err != nil {
		return Transition{}, err
	}
	return t, nil
}

// orderLines reads the product and quantity of every item of an order, in
// product id order. Inventory rows are locked in that order so two paid
// orders sharing products always acquire their locks in the same sequence.
// Rows are fully drained before returning so tx can be reused.
func orderLines(ctx context.Context, tx *sql.Tx, orderID int64) ([]OrderItem, error) {
	rows, err := tx.QueryContext(ctx, `SELECT product_id, quantity FROM order_items WHERE order_id = $1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		it := OrderItem{OrderID: orderID}
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}
	slices.SortFunc(items, func(a, b OrderItem) int { return cmp.Compare(a.ProductID, b.ProductID) })
	return items, nil
}
