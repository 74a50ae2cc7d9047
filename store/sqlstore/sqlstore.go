/*
Package sqlstore implements pos.Store on database/sql.

PURPOSE:
  One implementation of the catalog, sale and ledger tables shared by
  SQLite and PostgreSQL. Dialect carries the few differences: placeholder
  syntax, auto-increment column, transaction options, row locking and
  driver error classification.

TRANSACTIONS:
  WithTx opens one *sql.Tx per atomic unit and hands the engine a Tx bound
  to it. Rollback is deferred, so every exit path (error, panic, context
  cancellation) releases the transaction; Commit makes it a no-op.

  - SQLite: SerializeWriters holds a process mutex around each unit and
    the pool is limited to one connection, so units never interleave.
  - PostgreSQL: units run SERIALIZABLE and lock product and sale rows with
    FOR UPDATE; serialization failures surface as pos.ErrConflict and
    the engine retries.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement touches stock_movements or sale_items.
  The table CHECK keeps new_qty = previous_qty + quantity.

SEE ALSO:
  - pos/store.go: interface definitions
  - store/sqlite, store/postgres: dialects and constructors
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/warp/pos-engine/pos"
)

// Dialect describes how one database differs from the shared SQL.
type Dialect struct {
	Name string

	// SeqColumn defines the auto-increment "seq" primary key.
	SeqColumn string

	// Numbered placeholders ($1, $2, ...) instead of "?".
	NumberedPlaceholders bool

	// TxOptions used for every WithTx.
	TxOptions *sql.TxOptions

	// ForUpdate is appended to reads that must lock rows inside a unit.
	ForUpdate string

	// SerializeWriters runs units one at a time in this process.
	SerializeWriters bool

	IsConflict        func(error) bool
	IsUniqueViolation func(error) bool
}

// Store implements pos.Store and pos.UsageStore.
type Store struct {
	db *sql.DB
	d  Dialect
	mu sync.Mutex
}

// Open wraps db and migrates the schema.
func Open(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{db: db, d: d}
	if _, err := db.ExecContext(ctx, schemaFor(d)); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites "?" placeholders for dialects that number them.
func (s *Store) rebind(query string) string {
	if !s.d.NumberedPlaceholders {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// classify maps driver errors onto pos sentinels.
func (s *Store) classify(err error) error {
	if err == nil {
		return nil
	}
	if s.d.IsConflict != nil && s.d.IsConflict(err) {
		return fmt.Errorf("%w: %v", pos.ErrConflict, err)
	}
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(pos.Tx) error) error {
	if s.d.SerializeWriters {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	sqlTx, err := s.db.BeginTx(ctx, s.d.TxOptions)
	if err != nil {
		return s.classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{s: s, tx: sqlTx}); err != nil {
		return s.classify(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return s.classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// PRODUCTS
// =============================================================================

const productColumns = `id, shop_id, name, barcode, category, cost_price, sell_price,
	quantity, reorder_at, track_stock, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (pos.Product, error) {
	var (
		p                    pos.Product
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.ShopID, &p.Name, &p.Barcode, &p.Category, &p.CostPrice, &p.SellPrice,
		&p.Quantity, &p.ReorderAt, &p.TrackStock, &p.Status, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func (s *Store) getProduct(ctx context.Context, q queryer, shopID pos.ShopID, id pos.ProductID, lock string) (*pos.Product, error) {
	query := s.rebind(`SELECT ` + productColumns + ` FROM products WHERE shop_id = ? AND id = ?` + lock)
	p, err := scanProduct(q.QueryRowContext(ctx, query, shopID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

// GetProduct retrieves a product by ID.
func (s *Store) GetProduct(ctx context.Context, shopID pos.ShopID, id pos.ProductID) (*pos.Product, error) {
	return s.getProduct(ctx, s.db, shopID, id, "")
}

// ListProducts returns the shop's products ordered by name.
func (s *Store) ListProducts(ctx context.Context, shopID pos.ShopID, filter pos.ProductFilter) ([]pos.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE shop_id = ?`
	args := []any{shopID}

	if !filter.IncludeInactive {
		query += ` AND status = ?`
		args = append(args, pos.ProductActive)
	}
	if filter.Category != "" {
		query += ` AND LOWER(category) = LOWER(?)`
		args = append(args, filter.Category)
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		query += ` AND (LOWER(name) LIKE ? OR LOWER(barcode) LIKE ?)`
		like := "%" + search + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
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

// =============================================================================
// SALES
// =============================================================================

const saleColumns = `id, shop_id, user_id, customer_id, receipt_number, subtotal, discount, tax,
	total_amount, amount_paid, change_amount, payment_method, status,
	void_reason, voided_by, voided_at, created_at`

func scanSale(row rowScanner) (pos.Sale, error) {
	var (
		sale                          pos.Sale
		voidReason, voidedBy, voidedAt sql.NullString
		createdAt                     string
	)
	err := row.Scan(&sale.ID, &sale.ShopID, &sale.UserID, &sale.CustomerID, &sale.ReceiptNumber,
		&sale.Subtotal, &sale.Discount, &sale.Tax, &sale.TotalAmount, &sale.AmountPaid, &sale.Change,
		&sale.PaymentMethod, &sale.Status, &voidReason, &voidedBy, &voidedAt, &createdAt)
	if err != nil {
		return sale, err
	}
	sale.CreatedAt = parseTime(createdAt)
	sale.VoidReason = voidReason.String
	sale.VoidedBy = pos.UserID(voidedBy.String)
	if voidedAt.Valid {
		t := parseTime(voidedAt.String)
		sale.VoidedAt = &t
	}
	return sale, nil
}

const itemColumns = `id, sale_id, product_id, product_name, quantity, unit_price, cost_price, discount, total_price`

func (s *Store) loadItems(ctx context.Context, q queryer, where string, args ...any) (map[pos.SaleID][]pos.SaleItem, error) {
	rows, err := q.QueryContext(ctx,
		s.rebind(`SELECT `+itemColumns+` FROM sale_items WHERE `+where+` ORDER BY sale_id, position`),
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale items: %w", err)
	}
	defer rows.Close()

	items := make(map[pos.SaleID][]pos.SaleItem)
	for rows.Next() {
		var it pos.SaleItem
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.ProductName, &it.Quantity,
			&it.UnitPrice, &it.CostPrice, &it.Discount, &it.TotalPrice); err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		items[it.SaleID] = append(items[it.SaleID], it)
	}
	return items, rows.Err()
}

func (s *Store) getSale(ctx context.Context, q queryer, shopID pos.ShopID, id pos.SaleID, lock string) (*pos.Sale, error) {
	sale, err := scanSale(q.QueryRowContext(ctx,
		s.rebind(`SELECT `+saleColumns+` FROM sales WHERE shop_id = ? AND id = ?`+lock), shopID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}

	items, err := s.loadItems(ctx, q, `sale_id = ?`, id)
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return &sale, nil
}

// GetSale retrieves a sale with its items.
func (s *Store) GetSale(ctx context.Context, shopID pos.ShopID, id pos.SaleID) (*pos.Sale, error) {
	return s.getSale(ctx, s.db, shopID, id, "")
}

// ListSales returns sales created in [from, to) with their items.
func (s *Store) ListSales(ctx context.Context, shopID pos.ShopID, from, to time.Time) ([]pos.Sale, error) {
	fromStr, toStr := formatTime(from), formatTime(to)

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+saleColumns+`
		FROM sales
		WHERE shop_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC, receipt_number ASC
	`), shopID, fromStr, toStr)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}

	var sales []pos.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(sales) == 0 {
		return sales, nil
	}

	items, err := s.loadItems(ctx, s.db,
		`sale_id IN (SELECT id FROM sales WHERE shop_id = ? AND created_at >= ? AND created_at < ?)`,
		shopID, fromStr, toStr)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

// =============================================================================
// STOCK LEDGER
// =============================================================================

const movementColumns = `id, shop_id, product_id, type, quantity, previous_qty, new_qty,
	reference, note, user_id, created_at`

// ListMovements returns a page of ledger entries, newest first.
func (s *Store) ListMovements(ctx context.Context, shopID pos.ShopID, filter pos.MovementFilter) ([]pos.StockLogEntry, int, error) {
	filter = filter.Normalize()

	where := ` WHERE shop_id = ?`
	args := []any{shopID}
	if filter.ProductID != "" {
		where += ` AND product_id = ?`
		args = append(args, filter.ProductID)
	}
	if filter.Type != "" {
		where += ` AND type = ?`
		args = append(args, filter.Type)
	}
	if !filter.From.IsZero() {
		where += ` AND created_at >= ?`
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		where += ` AND created_at < ?`
		args = append(args, formatTime(filter.To))
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM stock_movements`+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count movements: %w", err)
	}

	pageArgs := append(append([]any{}, args...), filter.Limit, filter.Offset())
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+movementColumns+` FROM stock_movements`+where+` ORDER BY seq DESC LIMIT ? OFFSET ?`),
		pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	entries := []pos.StockLogEntry{}
	for rows.Next() {
		var (
			e         pos.StockLogEntry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.ShopID, &e.ProductID, &e.Type, &e.Quantity, &e.PreviousQty,
			&e.NewQty, &e.Reference, &e.Note, &e.UserID, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan movement: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// MovementTotals sums deltas per product from its latest INITIAL entry on.
func (s *Store) MovementTotals(ctx context.Context, shopID pos.ShopID) (map[pos.ProductID]int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT m.product_id, COALESCE(SUM(m.quantity), 0)
		FROM stock_movements m
		WHERE m.shop_id = ?
		  AND m.seq >= COALESCE((
		      SELECT MAX(i.seq) FROM stock_movements i
		      WHERE i.shop_id = m.shop_id AND i.product_id = m.product_id AND i.type = ?
		  ), 0)
		GROUP BY m.product_id
	`), shopID, pos.MovementInitial)
	if err != nil {
		return nil, fmt.Errorf("failed to sum movements: %w", err)
	}
	defer rows.Close()

	totals := make(map[pos.ProductID]int)
	for rows.Next() {
		var (
			id    pos.ProductID
			total int
		)
		if err := rows.Scan(&id, &total); err != nil {
			return nil, err
		}
		totals[id] = total
	}
	return totals, rows.Err()
}

// =============================================================================
// USAGE COUNTERS
// =============================================================================

// IncrementUsage adds n to a monthly counter.
func (s *Store) IncrementUsage(ctx context.Context, shopID pos.ShopID, metric pos.UsageMetric, period string, n int) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO usage_counters (shop_id, metric, period, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (shop_id, metric, period) DO UPDATE SET
			count = usage_counters.count + excluded.count
	`), shopID, metric, period, n)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

// GetUsage returns the counters of one month.
func (s *Store) GetUsage(ctx context.Context, shopID pos.ShopID, period string) (map[pos.UsageMetric]int, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT metric, count FROM usage_counters WHERE shop_id = ? AND period = ?`),
		shopID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	usage := make(map[pos.UsageMetric]int)
	for rows.Next() {
		var (
			metric pos.UsageMetric
			count  int
		)
		if err := rows.Scan(&metric, &count); err != nil {
			return nil, err
		}
		usage[metric] = count
	}
	return usage, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
