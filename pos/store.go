/*
store.go - Persistence interfaces for the catalog, sales and stock ledger

PURPOSE:
  Defines the boundary between the engines and the database. The engines
  never hold a global client: a Store is injected and every multi-row
  write runs inside Store.WithTx, which hands out a Tx scoped to one
  atomic unit.

KEY INTERFACES:
  Store:      reads plus the transactional entry point
  Tx:         the view of the store inside one atomic unit
  UsageStore: monthly usage counters (outside any sale transaction)

APPEND-ONLY CONTRACT:
  Tx.AppendMovement is the only ledger write. There is no update or
  delete for ledger entries or sale items, and quantity only changes
  through DecrementQuantity / IncrementQuantity.

CONCURRENCY CONTRACT:
  - DecrementQuantity is a conditional update
    (quantity = quantity - n WHERE quantity >= n) and reports
    ErrInsufficientStock when no row matched.
  - Both quantity primitives return the quantity observed after the
    write, inside the unit; that value is what ledger entries record.
  - Serialization failures and lock timeouts surface as ErrConflict.
  - NextReceiptSequence is an atomic per shop-day counter.

IMPLEMENTATIONS:
  - pos/store/memory.go:  in-memory, snapshot + rollback
  - store/sqlite:         SQLite, single serialized writer
  - store/postgres:       PostgreSQL, SERIALIZABLE + FOR UPDATE
*/
package pos

import (
	"context"
	"time"
)

// Store handles persistence of products, sales and ledger entries.
// Get* methods return (nil, nil) when the row does not exist.
type Store interface {
	// WithTx executes fn within a transaction.
	// If fn returns error (or panics), the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error

	GetProduct(ctx context.Context, shopID ShopID, id ProductID) (*Product, error)
	ListProducts(ctx context.Context, shopID ShopID, filter ProductFilter) ([]Product, error)

	GetSale(ctx context.Context, shopID ShopID, id SaleID) (*Sale, error)

	// ListSales returns sales with their items created in [from, to), oldest first.
	ListSales(ctx context.Context, shopID ShopID, from, to time.Time) ([]Sale, error)

	// ListMovements returns one page of ledger entries, newest first, and
	// the total number of entries matching the filter.
	ListMovements(ctx context.Context, shopID ShopID, filter MovementFilter) ([]StockLogEntry, int, error)

	// MovementTotals returns, per product, the sum of ledger deltas from the
	// product's latest INITIAL entry onward.
	MovementTotals(ctx context.Context, shopID ShopID) (map[ProductID]int, error)
}

// Tx is the store as seen from inside one atomic unit.
type Tx interface {
	// LockProducts returns the ACTIVE products of the shop among ids.
	// Backends with row locks lock the returned rows until the unit ends.
	LockProducts(ctx context.Context, shopID ShopID, ids []ProductID) ([]Product, error)

	// GetProduct returns the product regardless of lifecycle state.
	GetProduct(ctx context.Context, shopID ShopID, id ProductID) (*Product, error)

	InsertProduct(ctx context.Context, p Product) error

	// UpdateProduct writes every field except Quantity.
	UpdateProduct(ctx context.Context, p Product) error

	DecrementQuantity(ctx context.Context, shopID ShopID, id ProductID, n int) (int, error)
	IncrementQuantity(ctx context.Context, shopID ShopID, id ProductID, n int) (int, error)

	AppendMovement(ctx context.Context, e StockLogEntry) error

	// NextReceiptSequence returns 1 for the first call of a (shop, day)
	// and increments atomically afterwards.
	NextReceiptSequence(ctx context.Context, shopID ShopID, day string) (int, error)

	InsertSale(ctx context.Context, s Sale) error
	GetSale(ctx context.Context, shopID ShopID, id SaleID) (*Sale, error)

	// MarkSaleVoided transitions a COMPLETED sale to VOIDED. It returns
	// false when the sale was not COMPLETED at write time.
	MarkSaleVoided(ctx context.Context, shopID ShopID, id SaleID, reason string, by UserID, at time.Time) (bool, error)
}

// UsageStore persists monthly usage counters. Period is "YYYY-MM".
type UsageStore interface {
	IncrementUsage(ctx context.Context, shopID ShopID, metric UsageMetric, period string, n int) error
	GetUsage(ctx context.Context, shopID ShopID, period string) (map[UsageMetric]int, error)
}

// ProductFilter narrows ListProducts.
type ProductFilter struct {
	Category        string
	Search          string // case-insensitive match on name or barcode
	IncludeInactive bool
}

// MovementFilter narrows ListMovements. Zero values mean "any".
type MovementFilter struct {
	ProductID ProductID
	Type      MovementType
	From      time.Time
	To        time.Time
	Page      int
	Limit     int
}

const (
	DefaultMovementLimit = 50
	MaxMovementLimit     = 200
)

// Normalize clamps paging to sane values.
func (f MovementFilter) Normalize() MovementFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultMovementLimit
	}
	if f.Limit > MaxMovementLimit {
		f.Limit = MaxMovementLimit
	}
	return f
}

// Offset is the number of rows skipped for the current page.
func (f MovementFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}
