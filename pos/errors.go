/*
errors.go - Centralized error types for the sale and ledger engines

ERROR CATEGORIES:
  1. Validation errors - rejected before anything is written
     (ErrInvalidInput, ErrProductNotFound, ErrInsufficientStock,
      ErrInsufficientPayment, ErrAlreadyVoided, ErrSaleNotVoidable)
  2. Concurrency conflicts - ErrConflict, retried by the engine
  3. Infrastructure errors - wrapped store errors, surfaced as-is

USAGE:
  var stockErr *pos.InsufficientStockError
  if errors.As(err, &stockErr) {
      fmt.Printf("only %d of %s left\n", stockErr.Available, stockErr.ProductName)
  }
*/
package pos

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for malformed requests (empty cart,
	// non-positive quantity, unknown payment method, ...).
	ErrInvalidInput = errors.New("invalid input")

	// ErrProductNotFound is returned when a referenced product does not
	// exist in the shop or is inactive.
	ErrProductNotFound = errors.New("product not found")

	// ErrInsufficientStock is returned when a tracked product cannot cover
	// the requested quantity. Stores also return it from DecrementQuantity
	// when the conditional update matched no row.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientPayment is returned when the amount paid does not cover
	// the sale total.
	ErrInsufficientPayment = errors.New("insufficient payment")

	// ErrSaleNotFound is returned when a sale does not exist in the shop.
	ErrSaleNotFound = errors.New("sale not found")

	// ErrAlreadyVoided is returned for a second void of the same sale.
	ErrAlreadyVoided = errors.New("sale already voided")

	// ErrSaleNotVoidable is returned when a sale is in a state other than
	// COMPLETED or VOIDED.
	ErrSaleNotVoidable = errors.New("sale cannot be voided")

	// ErrStockNotTracked is returned when adjusting a product that does not
	// track stock.
	ErrStockNotTracked = errors.New("product does not track stock")

	// ErrConflict is returned by stores when a concurrent writer invalidated
	// what this unit read (serialization failure, busy database).
	ErrConflict = errors.New("concurrent modification detected")

	// ErrRetriesExhausted is returned when a commit kept conflicting.
	ErrRetriesExhausted = errors.New("commit retries exhausted")

	// ErrLedgerMismatch is returned when a ledger entry would break
	// NewQty == PreviousQty + Quantity.
	ErrLedgerMismatch = errors.New("ledger entry does not balance")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ProductNotFoundError lists the product IDs that could not be resolved.
type ProductNotFoundError struct {
	Missing []ProductID
}

func (e *ProductNotFoundError) Error() string {
	ids := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		ids[i] = string(id)
	}
	return fmt.Sprintf("product not found: %s", strings.Join(ids, ", "))
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// InsufficientStockError reports how much of a product is left.
type InsufficientStockError struct {
	ProductID   ProductID
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
		e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InsufficientPaymentError reports the amount still owed.
type InsufficientPaymentError struct {
	Required decimal.Decimal
	Received decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: required %s, received %s",
		e.Required.String(), e.Received.String())
}

func (e *InsufficientPaymentError) Unwrap() error { return ErrInsufficientPayment }

// Shortfall is the amount still owed.
func (e *InsufficientPaymentError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Received)
}

// SaleStateError reports a sale that is not in a voidable state.
type SaleStateError struct {
	SaleID SaleID
	Status SaleStatus
}

func (e *SaleStateError) Error() string {
	return fmt.Sprintf("sale %s is %s", e.SaleID, e.Status)
}

func (e *SaleStateError) Unwrap() error {
	if e.Status == SaleVoided {
		return ErrAlreadyVoided
	}
	return ErrSaleNotVoidable
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientPayment) ||
		errors.Is(err, ErrAlreadyVoided) ||
		errors.Is(err, ErrSaleNotVoidable) ||
		errors.Is(err, ErrStockNotTracked)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrSaleNotFound)
}
