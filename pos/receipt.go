package pos

import (
	"context"
	"fmt"
	"time"
)

// Receipt numbers look like RCP-YYMMDD-NNNN, where NNNN is the 1-based
// sequence of sales for the shop on that shop-local calendar day.
const receiptPrefix = "RCP"

// FormatReceiptNumber renders a receipt number for day and seq.
func FormatReceiptNumber(day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", receiptPrefix, day.Format("060102"), seq)
}

// dayKey identifies a shop-local calendar day for the receipt counter.
func dayKey(day time.Time) string {
	return day.Format("2006-01-02")
}

// nextReceiptNumber draws the next number from the per shop-day counter
// inside tx. The counter increments atomically, so two sales committing
// concurrently for the same shop never share a number.
func (e *Engine) nextReceiptNumber(ctx context.Context, tx Tx, shopID ShopID, at time.Time) (string, error) {
	day, _ := e.dayBounds(at)
	seq, err := tx.NextReceiptSequence(ctx, shopID, dayKey(day))
	if err != nil {
		return "", fmt.Errorf("receipt sequence: %w", err)
	}
	return FormatReceiptNumber(day, seq), nil
}
