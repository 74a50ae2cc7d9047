package pos

import (
	"context"
	"errors"
)

// AdjustStockInput describes a manual stock movement. Delta is signed.
type AdjustStockInput struct {
	ShopID    ShopID
	UserID    UserID
	ProductID ProductID
	Type      MovementType
	Delta     int
	Reference string
	Note      string
}

func (in AdjustStockInput) validate() error {
	if in.ShopID == "" {
		return invalid("shop_id", "required")
	}
	if in.ProductID == "" {
		return invalid("product_id", "required")
	}
	if in.Delta > MaxQuantity || in.Delta < -MaxQuantity {
		return invalid("quantity", "magnitude must be at most %d", MaxQuantity)
	}
	switch in.Type {
	case MovementRestock, MovementReturn:
		if in.Delta <= 0 {
			return invalid("quantity", "%s must add stock", in.Type)
		}
	case MovementDamaged, MovementExpired:
		if in.Delta >= 0 {
			return invalid("quantity", "%s must remove stock", in.Type)
		}
	case MovementAdjustment, MovementTransfer:
		if in.Delta == 0 {
			return invalid("quantity", "must not be zero")
		}
	case MovementSale, MovementInitial:
		return invalid("type", "%s entries are written by the engine only", in.Type)
	default:
		return invalid("type", "unknown movement type %q", in.Type)
	}
	return nil
}

// AdjustStock changes a tracked product's quantity outside of a sale and
// records the movement. Decrements never take quantity below zero.
func (e *Engine) AdjustStock(ctx context.Context, in AdjustStockInput) (*StockLogEntry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var entry StockLogEntry
	err := e.commit(ctx, "adjust stock", func(tx Tx) error {
		p, err := tx.GetProduct(ctx, in.ShopID, in.ProductID)
		if err != nil {
			return err
		}
		if p == nil || !p.IsActive() {
			return &ProductNotFoundError{Missing: []ProductID{in.ProductID}}
		}
		if !p.TrackStock {
			return ErrStockNotTracked
		}
		if in.Delta > 0 && p.Quantity > MaxQuantity-in.Delta {
			return invalid("quantity", "stock of %s would exceed %d", p.Name, MaxQuantity)
		}
		if p.Quantity+in.Delta < 0 {
			return &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   p.Quantity,
				Requested:   -in.Delta,
			}
		}

		entry, err = e.Ledger.Record(ctx, tx, Movement{
			ShopID:    in.ShopID,
			ProductID: in.ProductID,
			Type:      in.Type,
			Delta:     in.Delta,
			Reference: in.Reference,
			Note:      in.Note,
			UserID:    in.UserID,
		})
		if errors.Is(err, ErrInsufficientStock) {
			return ErrConflict
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
