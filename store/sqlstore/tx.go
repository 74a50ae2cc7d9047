package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/pos-engine/pos"
)

// =============================================================================
// TX STORE - pos.Tx bound to one *sql.Tx
// =============================================================================

// txStore never calls back into Store methods that use s.db: with a
// single-connection pool that would block on the connection held by tx.
type txStore struct {
	s  *Store
	tx *sql.Tx
}

func (t *txStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.s.rebind(query), args...)
}

func (t *txStore) LockProducts(ctx context.Context, shopID pos.ShopID, ids []pos.ProductID) ([]pos.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, 0, len(ids))
	args := []any{shopID, pos.ProductActive}
	seen := make(map[pos.ProductID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}

	// Ordered by id so concurrent units acquire row locks in the same order.
	query := `SELECT ` + productColumns + ` FROM products
		WHERE shop_id = ? AND status = ? AND id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY id` + t.s.d.ForUpdate

	rows, err := t.tx.QueryContext(ctx, t.s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}
	defer rows.Close()

	var products []pos.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (t *txStore) GetProduct(ctx context.Context, shopID pos.ShopID, id pos.ProductID) (*pos.Product, error) {
	return t.s.getProduct(ctx, t.tx, shopID, id, t.s.d.ForUpdate)
}

func (t *txStore) InsertProduct(ctx context.Context, p pos.Product) error {
	_, err := t.exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.ShopID, p.Name, p.Barcode, p.Category, p.CostPrice, p.SellPrice,
		p.Quantity, p.ReorderAt, p.TrackStock, p.Status, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (t *txStore) UpdateProduct(ctx context.Context, p pos.Product) error {
	res, err := t.exec(ctx, `
		UPDATE products SET
			name = ?, barcode = ?, category = ?, cost_price = ?, sell_price = ?,
			reorder_at = ?, track_stock = ?, status = ?, updated_at = ?
		WHERE shop_id = ? AND id = ?
	`, p.Name, p.Barcode, p.Category, p.CostPrice, p.SellPrice,
		p.ReorderAt, p.TrackStock, p.Status, formatTime(p.UpdatedAt),
		p.ShopID, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return pos.ErrProductNotFound
	}
	return nil
}

// DecrementQuantity is a conditional update: no row comes back when the
// product is missing or holds fewer than n units.
func (t *txStore) DecrementQuantity(ctx context.Context, shopID pos.ShopID, id pos.ProductID, n int) (int, error) {
	var qty int
	err := t.tx.QueryRowContext(ctx, t.s.rebind(`
		UPDATE products SET quantity = quantity - ?
		WHERE shop_id = ? AND id = ? AND quantity >= ?
		RETURNING quantity
	`), n, shopID, id, n).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, pos.ErrInsufficientStock
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decrement quantity: %w", err)
	}
	return qty, nil
}

func (t *txStore) IncrementQuantity(ctx context.Context, shopID pos.ShopID, id pos.ProductID, n int) (int, error) {
	var qty int
	err := t.tx.QueryRowContext(ctx, t.s.rebind(`
		UPDATE products SET quantity = quantity + ?
		WHERE shop_id = ? AND id = ?
		RETURNING quantity
	`), n, shopID, id).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, pos.ErrProductNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment quantity: %w", err)
	}
	return qty, nil
}

func (t *txStore) AppendMovement(ctx context.Context, e pos.StockLogEntry) error {
	_, err := t.exec(ctx, `
		INSERT INTO stock_movements (`+movementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ShopID, e.ProductID, e.Type, e.Quantity, e.PreviousQty, e.NewQty,
		e.Reference, e.Note, e.UserID, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append movement: %w", err)
	}
	return nil
}

func (t *txStore) NextReceiptSequence(ctx context.Context, shopID pos.ShopID, day string) (int, error) {
	var seq int
	err := t.tx.QueryRowContext(ctx, t.s.rebind(`
		INSERT INTO receipt_counters (shop_id, day, seq)
		VALUES (?, ?, 1)
		ON CONFLICT (shop_id, day) DO UPDATE SET seq = receipt_counters.seq + 1
		RETURNING seq
	`), shopID, day).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate receipt number: %w", err)
	}
	return seq, nil
}

func (t *txStore) InsertSale(ctx context.Context, s pos.Sale) error {
	_, err := t.exec(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.ShopID, s.UserID, s.CustomerID, s.ReceiptNumber, s.Subtotal, s.Discount, s.Tax,
		s.TotalAmount, s.AmountPaid, s.Change, s.PaymentMethod, s.Status,
		nullString(s.VoidReason), nullString(string(s.VoidedBy)), nullTime(s.VoidedAt),
		formatTime(s.CreatedAt))
	if err != nil {
		// A receipt collision means another unit won the counter; retry.
		if t.s.d.IsUniqueViolation != nil && t.s.d.IsUniqueViolation(err) {
			return fmt.Errorf("%w: receipt %s already used", pos.ErrConflict, s.ReceiptNumber)
		}
		return fmt.Errorf("failed to insert sale: %w", err)
	}

	for i, it := range s.Items {
		_, err := t.exec(ctx, `
			INSERT INTO sale_items (id, sale_id, position, product_id, product_name,
				quantity, unit_price, cost_price, discount, total_price)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, it.ID, s.ID, i, it.ProductID, it.ProductName,
			it.Quantity, it.UnitPrice, it.CostPrice, it.Discount, it.TotalPrice)
		if err != nil {
			return fmt.Errorf("failed to insert sale item: %w", err)
		}
	}
	return nil
}

func (t *txStore) GetSale(ctx context.Context, shopID pos.ShopID, id pos.SaleID) (*pos.Sale, error) {
	return t.s.getSale(ctx, t.tx, shopID, id, t.s.d.ForUpdate)
}

func (t *txStore) MarkSaleVoided(ctx context.Context, shopID pos.ShopID, id pos.SaleID, reason string, by pos.UserID, at time.Time) (bool, error) {
	res, err := t.exec(ctx, `
		UPDATE sales SET status = ?, void_reason = ?, voided_by = ?, voided_at = ?
		WHERE shop_id = ? AND id = ? AND status = ?
	`, pos.SaleVoided, reason, by, formatTime(at), shopID, id, pos.SaleCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to void sale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
