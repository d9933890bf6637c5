package checkout

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/catalog"
)

// CatalogReader is the read side of the catalog the validator needs.
type CatalogReader interface {
	GetProduct(ctx context.Context, id int64) (catalog.Product, error)
	GetInventory(ctx context.Context, productID int64) (catalog.Inventory, error)
}

type ItemRequest struct {
	ProductID int64
	Quantity  int
}

// LineItem is a requested item priced from the catalog.
type LineItem struct {
	ProductID  int64
	SKU        string
	Name       string
	UnitAmount int64
	Currency   string
	Quantity   int
	ImageURL   string
}

type Validator struct {
	catalog CatalogReader
}

func NewValidator(c CatalogReader) *Validator {
	return &Validator{catalog: c}
}

// Validate prices every requested item in input order and fails the whole
// request on the first bad item. The stock check is advisory: nothing is
// reserved, so stock may be gone by the time payment is confirmed.
func (v *Validator) Validate(ctx context.Context, items []ItemRequest) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, apperr.Invalid("No items provided")
	}

	seen := make(map[int64]struct{}, len(items))
	lineItems := make([]LineItem, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, apperr.Invalid(fmt.Sprintf("quantity must be greater than 0 for product %d", it.ProductID))
		}
		if _, dup := seen[it.ProductID]; dup {
			return nil, apperr.Invalid(fmt.Sprintf("Duplicate product %d", it.ProductID))
		}
		seen[it.ProductID] = struct{}{}

		p, err := v.catalog.GetProduct(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, apperr.Invalid(fmt.Sprintf("Invalid product %d", it.ProductID))
			}
			return nil, apperr.Internal("Failed to fetch product", err)
		}
		if !p.Active {
			return nil, apperr.Invalid(fmt.Sprintf("Invalid product %d", it.ProductID))
		}

		inv, err := v.catalog.GetInventory(ctx, it.ProductID)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return nil, apperr.Internal("Failed to fetch inventory", err)
		}
		if err != nil || inv.Quantity < it.Quantity {
			return nil, apperr.Invalid(fmt.Sprintf("Insufficient inventory for product %s", p.SKU))
		}

		if len(lineItems) > 0 && lineItems[0].Currency != p.Currency {
			return nil, apperr.Invalid(fmt.Sprintf("Product %s is priced in %s, expected %s", p.SKU, p.Currency, lineItems[0].Currency))
		}

		li := LineItem{
			ProductID:  p.ID,
			SKU:        p.SKU,
			Name:       p.Name,
			UnitAmount: p.PriceCents,
			Currency:   p.Currency,
			Quantity:   it.Quantity,
		}
		if p.ImageURL != nil {
			li.ImageURL = *p.ImageURL
		}
		lineItems = append(lineItems, li)
	}
	return lineItems, nil
}
