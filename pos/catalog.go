package pos

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PRODUCT CATALOG
// =============================================================================
// Quantity is never written directly here after creation. Creating a
// tracked product records its opening stock as an INITIAL entry so the
// ledger explains the quantity from the first unit on.

type CreateProductInput struct {
	ShopID     ShopID
	UserID     UserID
	Name       string
	Barcode    string
	Category   string
	CostPrice  decimal.Decimal
	SellPrice  decimal.Decimal
	Quantity   int
	ReorderAt  int
	TrackStock bool
}

// UpdateProductInput carries the editable fields. Quantity is deliberately
// absent: stock changes go through AdjustStock.
type UpdateProductInput struct {
	ShopID     ShopID
	UserID     UserID
	ProductID  ProductID
	Name       string
	Barcode    string
	Category   string
	CostPrice  decimal.Decimal
	SellPrice  decimal.Decimal
	ReorderAt  int
	TrackStock bool
}

func validateProductFields(name string, cost, sell decimal.Decimal, reorderAt int) error {
	if strings.TrimSpace(name) == "" {
		return invalid("name", "required")
	}
	if cost.IsNegative() {
		return invalid("cost_price", "must not be negative")
	}
	if sell.IsNegative() {
		return invalid("sell_price", "must not be negative")
	}
	if reorderAt < 0 {
		return invalid("reorder_at", "must not be negative")
	}
	return nil
}

// CreateProduct adds an active product to the shop catalog.
func (e *Engine) CreateProduct(ctx context.Context, in CreateProductInput) (*Product, error) {
	if in.ShopID == "" {
		return nil, invalid("shop_id", "required")
	}
	if err := validateProductFields(in.Name, in.CostPrice, in.SellPrice, in.ReorderAt); err != nil {
		return nil, err
	}
	if in.Quantity < 0 {
		return nil, invalid("quantity", "must not be negative")
	}
	if in.Quantity > MaxQuantity {
		return nil, invalid("quantity", "must be at most %d", MaxQuantity)
	}

	now := e.Now().UTC()
	product := Product{
		ID:         ProductID(uuid.NewString()),
		ShopID:     in.ShopID,
		Name:       strings.TrimSpace(in.Name),
		Barcode:    strings.TrimSpace(in.Barcode),
		Category:   strings.TrimSpace(in.Category),
		CostPrice:  in.CostPrice,
		SellPrice:  in.SellPrice,
		Quantity:   in.Quantity,
		ReorderAt:  in.ReorderAt,
		TrackStock: in.TrackStock,
		Status:     ProductActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := e.commit(ctx, "create product", func(tx Tx) error {
		if err := tx.InsertProduct(ctx, product); err != nil {
			return err
		}
		if !product.TrackStock {
			return nil
		}
		_, err := e.Ledger.Append(ctx, tx, Movement{
			ShopID:    product.ShopID,
			ProductID: product.ID,
			Type:      MovementInitial,
			Delta:     product.Quantity,
			Note:      "Opening stock",
			UserID:    in.UserID,
		}, 0, product.Quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateProduct edits catalog fields. Switching TrackStock on anchors the
// current quantity with an INITIAL entry.
func (e *Engine) UpdateProduct(ctx context.Context, in UpdateProductInput) (*Product, error) {
	if in.ShopID == "" {
		return nil, invalid("shop_id", "required")
	}
	if err := validateProductFields(in.Name, in.CostPrice, in.SellPrice, in.ReorderAt); err != nil {
		return nil, err
	}

	var updated *Product
	err := e.commit(ctx, "update product", func(tx Tx) error {
		p, err := tx.GetProduct(ctx, in.ShopID, in.ProductID)
		if err != nil {
			return err
		}
		if p == nil {
			return &ProductNotFoundError{Missing: []ProductID{in.ProductID}}
		}

		startsTracking := in.TrackStock && !p.TrackStock
		p.Name = strings.TrimSpace(in.Name)
		p.Barcode = strings.TrimSpace(in.Barcode)
		p.Category = strings.TrimSpace(in.Category)
		p.CostPrice = in.CostPrice
		p.SellPrice = in.SellPrice
		p.ReorderAt = in.ReorderAt
		p.TrackStock = in.TrackStock
		p.UpdatedAt = e.Now().UTC()

		if err := tx.UpdateProduct(ctx, *p); err != nil {
			return err
		}
		if startsTracking {
			_, err := e.Ledger.Append(ctx, tx, Movement{
				ShopID:    p.ShopID,
				ProductID: p.ID,
				Type:      MovementInitial,
				Delta:     p.Quantity,
				Note:      "Stock tracking enabled",
				UserID:    in.UserID,
			}, 0, p.Quantity)
			if err != nil {
				return err
			}
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeactivateProduct soft-deletes a product. Its history and past sales stay.
func (e *Engine) DeactivateProduct(ctx context.Context, shopID ShopID, id ProductID) (*Product, error) {
	var updated *Product
	err := e.commit(ctx, "deactivate product", func(tx Tx) error {
		p, err := tx.GetProduct(ctx, shopID, id)
		if err != nil {
			return err
		}
		if p == nil {
			return &ProductNotFoundError{Missing: []ProductID{id}}
		}
		p.Status = ProductInactive
		p.UpdatedAt = e.Now().UTC()
		if err := tx.UpdateProduct(ctx, *p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (e *Engine) GetProduct(ctx context.Context, shopID ShopID, id ProductID) (*Product, error) {
	p, err := e.Store.GetProduct(ctx, shopID, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &ProductNotFoundError{Missing: []ProductID{id}}
	}
	return p, nil
}

func (e *Engine) ListProducts(ctx context.Context, shopID ShopID, filter ProductFilter) ([]Product, error) {
	return e.Store.ListProducts(ctx, shopID, filter)
}
