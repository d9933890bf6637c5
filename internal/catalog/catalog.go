package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/stores/postgres"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidQuantity = errors.New("inventory quantity and threshold must not be negative")
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

const productColumns = `id, sku, name, description, price_cents, currency, image_url, active, created_at, updated_at`

const inventoryColumns = `id, product_id, quantity, low_stock_threshold, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.PriceCents, &p.Currency,
		&p.ImageURL, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanInventory(row rowScanner) (Inventory, error) {
	var inv Inventory
	err := row.Scan(&inv.ID, &inv.ProductID, &inv.Quantity, &inv.LowStockThreshold, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

// ListActiveProducts returns every active product ordered by id.
func (c *Conf) ListActiveProducts(ctx context.Context) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE active = TRUE ORDER BY id`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return products, nil
}

// GetProduct returns the product with the given id whether or not it is
// active; callers decide what an inactive product means for them.
func (c *Conf) GetProduct(ctx context.Context, id int64) (Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	p, err := scanProduct(c.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
		}
		return Product{}, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

func (c *Conf) GetInventory(ctx context.Context, productID int64) (Inventory, error) {
	query := `SELECT ` + inventoryColumns + ` FROM inventory WHERE product_id = $1`
	inv, err := scanInventory(c.db.QueryRowContext(ctx, query, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Inventory{}, fmt.Errorf("inventory for product %d: %w", productID, ErrNotFound)
		}
		return Inventory{}, fmt.Errorf("failed to query inventory: %w", err)
	}
	return inv, nil
}

// UpdateInventory applies upd to the inventory row of productID as a single
// read-modify-write transaction. The row lock serializes concurrent updates.
func (c *Conf) UpdateInventory(ctx context.Context, productID int64, upd InventoryUpdate) (Inventory, error) {
	if (upd.Quantity != nil && *upd.Quantity < 0) || (upd.LowStockThreshold != nil && *upd.LowStockThreshold < 0) {
		return Inventory{}, ErrInvalidQuantity
	}

	var inv Inventory
	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		query := `SELECT ` + inventoryColumns + ` FROM inventory WHERE product_id = $1 FOR UPDATE`
		var err error
		inv, err = scanInventory(tx.QueryRowContext(ctx, query, productID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("inventory for product %d: %w", productID, ErrNotFound)
			}
			return fmt.Errorf("failed to lock inventory: %w", err)
		}

		if upd.Quantity != nil {
			inv.Quantity = *upd.Quantity
		}
		if upd.LowStockThreshold != nil {
			inv.LowStockThreshold = *upd.LowStockThreshold
		}

		queryUpdate := `
			UPDATE inventory
			SET quantity = $1, low_stock_threshold = $2, updated_at = NOW()
			WHERE id = $3
			RETURNING updated_at
		`
		err = tx.QueryRowContext(ctx, queryUpdate, inv.Quantity, inv.LowStockThreshold, inv.ID).Scan(&inv.UpdatedAt)
		if err != nil {
			if postgres.IsCode(err, postgres.CodeCheckViolation) {
				return ErrInvalidQuantity
			}
			return fmt.Errorf("failed to update inventory: %w", err)
		}
		return nil
	})
	if err != nil {
		return Inventory{}, err
	}
	return inv, nil
}

// ProductExistsTx reports whether a product row with id is visible to tx.
func ProductExistsTx(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query product: %w", err)
	}
	return true, nil
}

// DecrementTx removes qty units of productID inside tx, clamping at zero.
// The inventory row stays locked until tx ends. ErrNotFound is returned when
// the product has no inventory row.
func DecrementTx(ctx context.Context, tx *sql.Tx, productID int64, qty int) (Decrement, error) {
	d := Decrement{ProductID: productID, Requested: qty}

	queryLock := `SELECT quantity, low_stock_threshold FROM inventory WHERE product_id = $1 FOR UPDATE`
	err := tx.QueryRowContext(ctx, queryLock, productID).Scan(&d.Before, &d.LowStockThreshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, fmt.Errorf("inventory for product %d: %w", productID, ErrNotFound)
		}
		return d, fmt.Errorf("failed to lock inventory: %w", err)
	}

	d.After, d.Shortfall = ClampDecrement(d.Before, qty)

	queryUpdate := `UPDATE inventory SET quantity = $1, updated_at = NOW() WHERE product_id = $2`
	if _, err := tx.ExecContext(ctx, queryUpdate, d.After, productID); err != nil {
		return d, fmt.Errorf("failed to decrement inventory: %w", err)
	}
	return d, nil
}
