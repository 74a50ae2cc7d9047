/*
Package pos provides the sale-transaction and stock-ledger engine of the
point-of-sale backend.

PURPOSE:
  Turns a cart into a committed sale, decrements inventory atomically,
  records every quantity change in an append-only stock ledger, and
  compensates committed sales through voids. Everything is shop-scoped.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: the mutable resource the ledger protects (quantity, prices)
  - Sale / SaleItem: the committed transaction and its frozen line snapshots
  - StockLogEntry: an immutable ledger record of one quantity change
  - Typed identifiers and enums (payment methods, sale status, movement types)

CORE INVARIANT:
  For every product with TrackStock, Quantity equals the INITIAL entry plus
  the sum of all later ledger deltas for that product. Quantity is only ever
  changed together with a ledger append, inside one Tx.

DESIGN PRINCIPLES:
  1. Immutability: ledger entries and sale items are never modified
  2. Precision: money uses decimal.Decimal, never float64
  3. Type Safety: distinct ID types prevent mixing shops, products and sales
  4. Explicit atomicity: every multi-row write happens inside Store.WithTx

SEE ALSO:
  - store.go: persistence interfaces
  - ledger.go: the only writer of quantity + ledger pairs
  - sale.go / void.go: the engines
*/
package pos

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ShopID string
type ProductID string
type SaleID string
type SaleItemID string
type EntryID string
type UserID string
type CustomerID string

// =============================================================================
// PRODUCT - Catalog entry with current stock
// =============================================================================

// ProductStatus is the lifecycle state of a product. Inactive products are
// soft-deleted: they keep their history but cannot be sold.
type ProductStatus string

const (
	ProductActive   ProductStatus = "ACTIVE"
	ProductInactive ProductStatus = "INACTIVE"
)

func (s ProductStatus) Valid() bool {
	return s == ProductActive || s == ProductInactive
}

type Product struct {
	ID         ProductID
	ShopID     ShopID
	Name       string
	Barcode    string
	Category   string
	CostPrice  decimal.Decimal
	SellPrice  decimal.Decimal
	Quantity   int
	ReorderAt  int
	TrackStock bool
	Status     ProductStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (p Product) IsActive() bool { return p.Status == ProductActive }

// MaxQuantity bounds every stock quantity and every requested or adjusted
// amount, so sums of quantities can never overflow int.
const MaxQuantity = 1_000_000_000

// =============================================================================
// SALE - Committed transaction
// =============================================================================

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentMomo   PaymentMethod = "MOMO"
	PaymentEmali  PaymentMethod = "EMALI"
	PaymentCard   PaymentMethod = "CARD"
	PaymentMixed  PaymentMethod = "MIXED"
	PaymentCredit PaymentMethod = "CREDIT"
)

// PaymentMethods lists every accepted method in display order.
var PaymentMethods = []PaymentMethod{
	PaymentCash, PaymentMomo, PaymentEmali, PaymentCard, PaymentMixed, PaymentCredit,
}

func (m PaymentMethod) Valid() bool {
	for _, v := range PaymentMethods {
		if m == v {
			return true
		}
	}
	return false
}

// SaleStatus is the state machine of a sale:
//
//	PENDING (never persisted) -> COMPLETED -> VOIDED
//
// REFUNDED is reserved and not driven by this package.
type SaleStatus string

const (
	SalePending   SaleStatus = "PENDING"
	SaleCompleted SaleStatus = "COMPLETED"
	SaleVoided    SaleStatus = "VOIDED"
	SaleRefunded  SaleStatus = "REFUNDED"
)

type Sale struct {
	ID            SaleID
	ShopID        ShopID
	UserID        UserID     // empty when not attributed
	CustomerID    CustomerID // empty for walk-in customers
	ReceiptNumber string
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Tax           decimal.Decimal
	TotalAmount   decimal.Decimal
	AmountPaid    decimal.Decimal
	Change        decimal.Decimal
	PaymentMethod PaymentMethod
	Status        SaleStatus
	Items         []SaleItem
	CreatedAt     time.Time

	// Set only once the sale is voided.
	VoidReason string
	VoidedBy   UserID
	VoidedAt   *time.Time
}

// SaleItem is a frozen snapshot of one cart line. Later product edits or
// deactivation never change it.
type SaleItem struct {
	ID          SaleItemID
	SaleID      SaleID
	ProductID   ProductID
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	CostPrice   decimal.Decimal
	Discount    decimal.Decimal
	TotalPrice  decimal.Decimal
}

// =============================================================================
// STOCK LEDGER ENTRY - Immutable record of one quantity change
// =============================================================================

type MovementType string

const (
	MovementSale       MovementType = "SALE"
	MovementRestock    MovementType = "RESTOCK"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementDamaged    MovementType = "DAMAGED"
	MovementExpired    MovementType = "EXPIRED"
	MovementTransfer   MovementType = "TRANSFER"
	MovementReturn     MovementType = "RETURN"
	MovementInitial    MovementType = "INITIAL"
)

var MovementTypes = []MovementType{
	MovementSale, MovementRestock, MovementAdjustment, MovementDamaged,
	MovementExpired, MovementTransfer, MovementReturn, MovementInitial,
}

func (t MovementType) Valid() bool {
	for _, v := range MovementTypes {
		if t == v {
			return true
		}
	}
	return false
}

// StockLogEntry is one ledger record. Quantity is the signed delta and
// NewQty == PreviousQty + Quantity always holds.
type StockLogEntry struct {
	ID          EntryID
	ShopID      ShopID
	ProductID   ProductID
	Type        MovementType
	Quantity    int
	PreviousQty int
	NewQty      int
	Reference   string
	Note        string
	UserID      UserID
	CreatedAt   time.Time
}

// =============================================================================
// USAGE
// =============================================================================

// UsageMetric names a per-shop monthly usage counter.
type UsageMetric string

const (
	UsageTransaction UsageMetric = "transaction"
)
