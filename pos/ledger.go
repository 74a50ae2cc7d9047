/*
ledger.go - Append-only stock ledger

PURPOSE:
  The ledger is the source of truth for why a quantity changed. Every
  sale, void, restock and adjustment produces one entry per product with
  the signed delta and the quantity before and after.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. BALANCED: NewQty == PreviousQty + Quantity for every entry.
  3. PAIRED: an entry is written in the same Tx as the quantity change it
     describes, and NewQty is the quantity the Tx observed after writing.

CORRECTIONS:
  Mistakes are not edited. A void writes RETURN entries, an audit
  correction writes an ADJUSTMENT. Both the original and the correction
  stay in the ledger.

EXAMPLE FLOW:
  1. Product created with 10 units:  INITIAL +10  (0 -> 10)
  2. Sale of 3:                       SALE    -3   (10 -> 7)
  3. Sale voided:                     RETURN  +3   (7 -> 10)
*/
package pos

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Movement describes one quantity change to be recorded.
type Movement struct {
	ShopID    ShopID
	ProductID ProductID
	Type      MovementType
	Delta     int
	Reference string
	Note      string
	UserID    UserID
}

// Ledger writes quantity changes together with their ledger entries.
type Ledger struct {
	Now func() time.Time
}

func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{Now: now}
}

// Record applies m.Delta to the product's quantity and appends the
// matching entry, both through tx. PreviousQty and NewQty come from the
// quantity the conditional update returned, so concurrent writers cannot
// make the entry disagree with the row.
func (l *Ledger) Record(ctx context.Context, tx Tx, m Movement) (StockLogEntry, error) {
	if m.Delta == 0 {
		return StockLogEntry{}, invalid("quantity", "movement delta must not be zero")
	}

	var (
		newQty int
		err    error
	)
	if m.Delta < 0 {
		newQty, err = tx.DecrementQuantity(ctx, m.ShopID, m.ProductID, -m.Delta)
	} else {
		newQty, err = tx.IncrementQuantity(ctx, m.ShopID, m.ProductID, m.Delta)
	}
	if err != nil {
		return StockLogEntry{}, err
	}

	return l.Append(ctx, tx, m, newQty-m.Delta, newQty)
}

// Append writes a ledger entry for a quantity change the caller already
// applied in the same tx.
func (l *Ledger) Append(ctx context.Context, tx Tx, m Movement, previousQty, newQty int) (StockLogEntry, error) {
	if !m.Type.Valid() {
		return StockLogEntry{}, invalid("type", "unknown movement type %q", m.Type)
	}
	if newQty != previousQty+m.Delta {
		return StockLogEntry{}, ErrLedgerMismatch
	}

	entry := StockLogEntry{
		ID:          EntryID(uuid.NewString()),
		ShopID:      m.ShopID,
		ProductID:   m.ProductID,
		Type:        m.Type,
		Quantity:    m.Delta,
		PreviousQty: previousQty,
		NewQty:      newQty,
		Reference:   m.Reference,
		Note:        m.Note,
		UserID:      m.UserID,
		CreatedAt:   l.Now().UTC(),
	}
	if err := tx.AppendMovement(ctx, entry); err != nil {
		return StockLogEntry{}, err
	}
	return entry, nil
}
