/*
void.go - Void/Reversal Engine

PURPOSE:
  Compensates a COMPLETED sale: the sale becomes VOIDED and every tracked
  product it sold gets its quantity back through a RETURN entry that
  references the sale.

EXACTLY ONCE:
  The status is checked when the sale is read and again by the
  conditional COMPLETED -> VOIDED write, both inside the same Tx. Two
  concurrent voids cannot both pass the write, so stock is credited once
  and the loser fails with ErrAlreadyVoided.

PRODUCTS THAT CHANGED SINCE THE SALE:
  A line whose product no longer exists, or no longer tracks stock, is
  skipped. Deactivated products still get their stock back.

USAGE COUNTERS:
  Voids leave the monthly transaction count untouched.
*/
package pos

import (
	"context"
	"fmt"
	"strings"
)

type VoidSaleInput struct {
	SaleID SaleID
	ShopID ShopID
	UserID UserID
	Reason string
}

// VoidSale voids a completed sale and restores its stock.
func (e *Engine) VoidSale(ctx context.Context, in VoidSaleInput) (*Sale, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if in.ShopID == "" {
		return nil, invalid("shop_id", "required")
	}
	if in.SaleID == "" {
		return nil, invalid("sale_id", "required")
	}
	if in.Reason == "" {
		return nil, invalid("reason", "required")
	}

	var voided *Sale
	err := e.commit(ctx, "void sale", func(tx Tx) error {
		voided = nil

		sale, err := tx.GetSale(ctx, in.ShopID, in.SaleID)
		if err != nil {
			return err
		}
		if sale == nil {
			return ErrSaleNotFound
		}
		if sale.Status != SaleCompleted {
			return &SaleStateError{SaleID: sale.ID, Status: sale.Status}
		}

		now := e.Now().UTC()
		ok, err := tx.MarkSaleVoided(ctx, in.ShopID, in.SaleID, in.Reason, in.UserID, now)
		if err != nil {
			return err
		}
		if !ok {
			return &SaleStateError{SaleID: sale.ID, Status: SaleVoided}
		}

		ids, returned := soldQuantities(sale.Items)
		for _, id := range ids {
			p, err := tx.GetProduct(ctx, in.ShopID, id)
			if err != nil {
				return err
			}
			if p == nil || !p.TrackStock {
				continue
			}
			_, err = e.Ledger.Record(ctx, tx, Movement{
				ShopID:    in.ShopID,
				ProductID: id,
				Type:      MovementReturn,
				Delta:     returned[id],
				Reference: string(sale.ID),
				Note:      fmt.Sprintf("Void %s: %s", sale.ReceiptNumber, in.Reason),
				UserID:    in.UserID,
			})
			if err != nil {
				return err
			}
		}

		sale.Status = SaleVoided
		sale.VoidReason = in.Reason
		sale.VoidedBy = in.UserID
		sale.VoidedAt = &now
		voided = sale
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info().
		Str("shop_id", string(voided.ShopID)).
		Str("sale_id", string(voided.ID)).
		Str("reason", voided.VoidReason).
		Msg("sale voided")
	return voided, nil
}

// soldQuantities sums item quantities per product, in first-seen order.
func soldQuantities(items []SaleItem) ([]ProductID, map[ProductID]int) {
	var ids []ProductID
	qty := make(map[ProductID]int, len(items))
	for _, item := range items {
		if _, seen := qty[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		qty[item.ProductID] += item.Quantity
	}
	return ids, qty
}
