package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/stores/postgres"
)

const (
	demoQuantity          = 50
	demoLowStockThreshold = 5
)

var DemoProducts = []NewProduct{
	{
		SKU:         "TSHIRT-BLUE-001",
		Name:        "Blue T-Shirt",
		Description: "Comfortable cotton t-shirt in ocean blue.",
		PriceCents:  1999,
		Currency:    "usd",
		ImageURL:    "https://picsum.photos/seed/blue-shirt/600/400",
	},
	{
		SKU:         "MUG-AMBER-001",
		Name:        "Amber Coffee Mug",
		Description: "Ceramic mug with amber accent handle.",
		PriceCents:  1299,
		Currency:    "usd",
		ImageURL:    "https://picsum.photos/seed/amber-mug/600/400",
	},
	{
		SKU:         "HOODIE-NAVY-001",
		Name:        "Navy Hoodie",
		Description: "Cozy hoodie with minimalist design.",
		PriceCents:  4599,
		Currency:    "usd",
		ImageURL:    "https://picsum.photos/seed/navy-hoodie/600/400",
	},
}

// Seed inserts products and a starting inventory row for each one. Products
// whose sku already exists are skipped. It returns how many were inserted.
func (c *Conf) Seed(ctx context.Context, products []NewProduct) (int, error) {
	inserted := 0
	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		for _, p := range products {
			queryProduct := `
				INSERT INTO products (sku, name, description, price_cents, currency, image_url, active)
				VALUES ($1, $2, $3, $4, $5, $6, TRUE)
				ON CONFLICT (sku) DO NOTHING
				RETURNING id
			`
			var id int64
			err := tx.QueryRowContext(ctx, queryProduct, p.SKU, p.Name, p.Description, p.PriceCents, p.Currency, p.ImageURL).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to insert product %s: %w", p.SKU, err)
			}

			queryInventory := `INSERT INTO inventory (product_id, quantity, low_stock_threshold) VALUES ($1, $2, $3)`
			if _, err := tx.ExecContext(ctx, queryInventory, id, demoQuantity, demoLowStockThreshold); err != nil {
				return fmt.Errorf("failed to insert inventory for %s: %w", p.SKU, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
