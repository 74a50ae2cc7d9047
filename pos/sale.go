/*
sale.go - Sale Transaction Engine

PURPOSE:
  Converts a cart into a committed sale. Validation, pricing, receipt
  numbering, the sale insert and every stock decrement + ledger append
  run in one Tx; a failure anywhere leaves nothing behind.

FLOW (per attempt):
  1. Resolve: lock the active products of the shop named in the cart.
     Any unresolved product fails with ProductNotFoundError.
  2. Validate stock against the combined demand per product, so two lines
     of the same product are checked together.
  3. Price: lineTotal = sellPrice * qty - lineDiscount; subtotal is the sum.
  4. Totals: tax = 0, total = subtotal - discount + tax,
     change = amountPaid - total; negative change fails with
     InsufficientPaymentError before anything is written.
  5. Commit: receipt number, sale + items, one SALE entry per tracked
     product with delta = -(combined quantity).

CONCURRENCY:
  The decrement is conditional. If it misses after step 2 passed, another
  writer got there first: the attempt reports ErrConflict and the whole
  flow re-runs against fresh rows, which then fails with an accurate
  InsufficientStockError or succeeds.

AFTER COMMIT:
  The shop's monthly transaction counter is bumped through UsageRecorder.
  That call is fire-and-forget and never affects the returned sale.
*/
package pos

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartLine is one requested line. Duplicate product IDs are separate lines.
type CartLine struct {
	ProductID ProductID
	Quantity  int
	Discount  decimal.Decimal
}

type CreateSaleInput struct {
	ShopID        ShopID
	UserID        UserID
	CustomerID    CustomerID
	Items         []CartLine
	PaymentMethod PaymentMethod
	AmountPaid    decimal.Decimal
	Discount      decimal.Decimal
}

func (in CreateSaleInput) validate() error {
	if in.ShopID == "" {
		return invalid("shop_id", "required")
	}
	if len(in.Items) == 0 {
		return invalid("items", "cart is empty")
	}
	for i, line := range in.Items {
		if line.ProductID == "" {
			return invalid(fmt.Sprintf("items[%d].product_id", i), "required")
		}
		if line.Quantity < 1 {
			return invalid(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		if line.Quantity > MaxQuantity {
			return invalid(fmt.Sprintf("items[%d].quantity", i), "must be at most %d", MaxQuantity)
		}
		if line.Discount.IsNegative() {
			return invalid(fmt.Sprintf("items[%d].discount", i), "must not be negative")
		}
	}
	if !in.PaymentMethod.Valid() {
		return invalid("payment_method", "unknown payment method %q", in.PaymentMethod)
	}
	if in.AmountPaid.IsNegative() {
		return invalid("amount_paid", "must not be negative")
	}
	if in.Discount.IsNegative() {
		return invalid("discount", "must not be negative")
	}

	// Lines are individually bounded; the running total is checked before
	// each addition so combined demand stays within MaxQuantity.
	demand := make(map[ProductID]int, len(in.Items))
	for _, line := range in.Items {
		if demand[line.ProductID] > MaxQuantity-line.Quantity {
			return invalid("items", "combined quantity of product %s exceeds %d", line.ProductID, MaxQuantity)
		}
		demand[line.ProductID] += line.Quantity
	}
	return nil
}

// distinctProducts returns the product IDs of the cart in first-seen order
// and the combined quantity requested for each.
func (in CreateSaleInput) distinctProducts() ([]ProductID, map[ProductID]int) {
	var ids []ProductID
	demand := make(map[ProductID]int, len(in.Items))
	for _, line := range in.Items {
		if _, seen := demand[line.ProductID]; !seen {
			ids = append(ids, line.ProductID)
		}
		demand[line.ProductID] += line.Quantity
	}
	return ids, demand
}

// CreateSale validates the cart and commits the sale with its stock effects.
func (e *Engine) CreateSale(ctx context.Context, in CreateSaleInput) (*Sale, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	ids, demand := in.distinctProducts()

	var sale *Sale
	err := e.commit(ctx, "create sale", func(tx Tx) error {
		sale = nil

		products, err := tx.LockProducts(ctx, in.ShopID, ids)
		if err != nil {
			return err
		}
		byID := make(map[ProductID]Product, len(products))
		for _, p := range products {
			byID[p.ID] = p
		}
		if len(byID) != len(ids) {
			return &ProductNotFoundError{Missing: missingProducts(ids, byID)}
		}

		for _, id := range ids {
			p := byID[id]
			if p.TrackStock && p.Quantity < demand[id] {
				return &InsufficientStockError{
					ProductID:   p.ID,
					ProductName: p.Name,
					Available:   p.Quantity,
					Requested:   demand[id],
				}
			}
		}

		draft, err := e.priceCart(in, byID)
		if err != nil {
			return err
		}

		draft.ReceiptNumber, err = e.nextReceiptNumber(ctx, tx, in.ShopID, draft.CreatedAt)
		if err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, *draft); err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}

		for _, id := range ids {
			p := byID[id]
			if !p.TrackStock {
				continue
			}
			_, err := e.Ledger.Record(ctx, tx, Movement{
				ShopID:    in.ShopID,
				ProductID: id,
				Type:      MovementSale,
				Delta:     -demand[id],
				Reference: string(draft.ID),
				Note:      "Sale " + draft.ReceiptNumber,
				UserID:    in.UserID,
			})
			if errors.Is(err, ErrInsufficientStock) {
				// Stock moved between the locked read and the write.
				return fmt.Errorf("decrement %s: %w", id, ErrConflict)
			}
			if err != nil {
				return err
			}
		}

		sale = draft
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Log.Debug().
		Str("shop_id", string(sale.ShopID)).
		Str("sale_id", string(sale.ID)).
		Str("receipt", sale.ReceiptNumber).
		Str("total", sale.TotalAmount.String()).
		Msg("sale committed")

	e.Usage.Record(sale.ShopID, UsageTransaction)
	return sale, nil
}

// priceCart builds the sale and its items from the resolved products.
func (e *Engine) priceCart(in CreateSaleInput, byID map[ProductID]Product) (*Sale, error) {
	sale := &Sale{
		ID:            SaleID(uuid.NewString()),
		ShopID:        in.ShopID,
		UserID:        in.UserID,
		CustomerID:    in.CustomerID,
		Discount:      in.Discount,
		Tax:           decimal.Zero,
		AmountPaid:    in.AmountPaid,
		PaymentMethod: in.PaymentMethod,
		Status:        SaleCompleted,
		CreatedAt:     e.Now().UTC(),
	}

	subtotal := decimal.Zero
	for i, line := range in.Items {
		p := byID[line.ProductID]
		gross := p.SellPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		lineTotal := gross.Sub(line.Discount)
		if lineTotal.IsNegative() {
			return nil, invalid(fmt.Sprintf("items[%d].discount", i), "exceeds line total %s", gross.String())
		}
		subtotal = subtotal.Add(lineTotal)

		sale.Items = append(sale.Items, SaleItem{
			ID:          SaleItemID(uuid.NewString()),
			SaleID:      sale.ID,
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    line.Quantity,
			UnitPrice:   p.SellPrice,
			CostPrice:   p.CostPrice,
			Discount:    line.Discount,
			TotalPrice:  lineTotal,
		})
	}

	sale.Subtotal = subtotal
	sale.TotalAmount = subtotal.Sub(in.Discount).Add(sale.Tax)
	if sale.TotalAmount.IsNegative() {
		return nil, invalid("discount", "exceeds subtotal %s", subtotal.String())
	}

	sale.Change = in.AmountPaid.Sub(sale.TotalAmount)
	if sale.Change.IsNegative() {
		return nil, &InsufficientPaymentError{Required: sale.TotalAmount, Received: in.AmountPaid}
	}
	return sale, nil
}

func missingProducts(ids []ProductID, found map[ProductID]Product) []ProductID {
	var missing []ProductID
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// GetSale returns a sale of the shop with its items.
func (e *Engine) GetSale(ctx context.Context, shopID ShopID, id SaleID) (*Sale, error) {
	sale, err := e.Store.GetSale(ctx, shopID, id)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, ErrSaleNotFound
	}
	return sale, nil
}
