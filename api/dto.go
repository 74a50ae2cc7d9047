/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication and decouples them from
  the pos domain types. Money is encoded as decimal strings ("12.50"); both
  strings and JSON numbers are accepted on input.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/pos-engine/pos"
)

// =============================================================================
// PRODUCTS
// =============================================================================

type ProductDTO struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Barcode    string          `json:"barcode,omitempty"`
	Category   string          `json:"category,omitempty"`
	CostPrice  decimal.Decimal `json:"cost_price"`
	SellPrice  decimal.Decimal `json:"sell_price"`
	Quantity   int             `json:"quantity"`
	ReorderAt  int             `json:"reorder_at"`
	TrackStock bool            `json:"track_stock"`
	Status     string          `json:"status"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

// CreateProductRequest creates a product. TrackStock defaults to true.
type CreateProductRequest struct {
	Name       string          `json:"name"`
	Barcode    string          `json:"barcode"`
	Category   string          `json:"category"`
	CostPrice  decimal.Decimal `json:"cost_price"`
	SellPrice  decimal.Decimal `json:"sell_price"`
	Quantity   int             `json:"quantity"`
	ReorderAt  int             `json:"reorder_at"`
	TrackStock *bool           `json:"track_stock"`
}

// UpdateProductRequest replaces the editable fields. Stock is changed
// through /api/stock/adjustments only.
type UpdateProductRequest struct {
	Name       string          `json:"name"`
	Barcode    string          `json:"barcode"`
	Category   string          `json:"category"`
	CostPrice  decimal.Decimal `json:"cost_price"`
	SellPrice  decimal.Decimal `json:"sell_price"`
	ReorderAt  int             `json:"reorder_at"`
	TrackStock bool            `json:"track_stock"`
}

// =============================================================================
// SALES
// =============================================================================

type CartLineRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Discount  decimal.Decimal `json:"discount"`
}

type CreateSaleRequest struct {
	Items         []CartLineRequest `json:"items"`
	PaymentMethod string            `json:"payment_method"`
	AmountPaid    decimal.Decimal   `json:"amount_paid"`
	Discount      decimal.Decimal   `json:"discount"`
	CustomerID    string            `json:"customer_id"`
}

type VoidSaleRequest struct {
	Reason string `json:"reason"`
}

type SaleItemDTO struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	Discount    decimal.Decimal `json:"discount"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type SaleDTO struct {
	ID            string          `json:"id"`
	ReceiptNumber string          `json:"receipt_number"`
	UserID        string          `json:"user_id,omitempty"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Tax           decimal.Decimal `json:"tax"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Change        decimal.Decimal `json:"change"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	Items         []SaleItemDTO   `json:"items"`
	CreatedAt     string          `json:"created_at"`
	VoidReason    string          `json:"void_reason,omitempty"`
	VoidedBy      string          `json:"voided_by,omitempty"`
	VoidedAt      string          `json:"voided_at,omitempty"`
}

type PaymentTotalDTO struct {
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

type TopProductDTO struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type DailySummaryDTO struct {
	Date              string                     `json:"date"`
	TotalSales        decimal.Decimal            `json:"total_sales"`
	TotalTransactions int                        `json:"total_transactions"`
	AverageBasket     decimal.Decimal            `json:"average_basket"`
	ByPaymentMethod   map[string]PaymentTotalDTO `json:"by_payment_method"`
	TopProducts       []TopProductDTO            `json:"top_products"`
}

// =============================================================================
// STOCK
// =============================================================================

type AdjustStockRequest struct {
	ProductID string `json:"product_id"`
	Type      string `json:"type"`
	Quantity  int    `json:"quantity"` // signed delta
	Reference string `json:"reference"`
	Note      string `json:"note"`
}

type MovementDTO struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	Type        string `json:"type"`
	Quantity    int    `json:"quantity"`
	PreviousQty int    `json:"previous_qty"`
	NewQty      int    `json:"new_qty"`
	Reference   string `json:"reference,omitempty"`
	Note        string `json:"note,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type MovementPageDTO struct {
	Entries    []MovementDTO `json:"entries"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"total_pages"`
}

type LowStockDTO struct {
	OutOfStock []ProductDTO `json:"out_of_stock"`
	Critical   []ProductDTO `json:"critical"`
	Low        []ProductDTO `json:"low"`
	Count      int          `json:"count"`
}

type DiscrepancyDTO struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	LedgerTotal int    `json:"ledger_total"`
	Drift       int    `json:"drift"`
}

type UsageDTO struct {
	Month    string         `json:"month"`
	Counters map[string]int `json:"counters"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}

type StockErrorDTO struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Available   int    `json:"available"`
	Requested   int    `json:"requested"`
}

type PaymentErrorDTO struct {
	Required  decimal.Decimal `json:"required"`
	Received  decimal.Decimal `json:"received"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toProductDTO(p pos.Product) ProductDTO {
	return ProductDTO{
		ID:         string(p.ID),
		Name:       p.Name,
		Barcode:    p.Barcode,
		Category:   p.Category,
		CostPrice:  p.CostPrice,
		SellPrice:  p.SellPrice,
		Quantity:   p.Quantity,
		ReorderAt:  p.ReorderAt,
		TrackStock: p.TrackStock,
		Status:     string(p.Status),
		CreatedAt:  formatTime(p.CreatedAt),
		UpdatedAt:  formatTime(p.UpdatedAt),
	}
}

func toProductDTOs(products []pos.Product) []ProductDTO {
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	return dtos
}

func toSaleDTO(s pos.Sale) SaleDTO {
	dto := SaleDTO{
		ID:            string(s.ID),
		ReceiptNumber: s.ReceiptNumber,
		UserID:        string(s.UserID),
		CustomerID:    string(s.CustomerID),
		Subtotal:      s.Subtotal,
		Discount:      s.Discount,
		Tax:           s.Tax,
		TotalAmount:   s.TotalAmount,
		AmountPaid:    s.AmountPaid,
		Change:        s.Change,
		PaymentMethod: string(s.PaymentMethod),
		Status:        string(s.Status),
		Items:         make([]SaleItemDTO, len(s.Items)),
		CreatedAt:     formatTime(s.CreatedAt),
		VoidReason:    s.VoidReason,
		VoidedBy:      string(s.VoidedBy),
	}
	if s.VoidedAt != nil {
		dto.VoidedAt = formatTime(*s.VoidedAt)
	}
	for i, it := range s.Items {
		dto.Items[i] = SaleItemDTO{
			ID:          string(it.ID),
			ProductID:   string(it.ProductID),
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			CostPrice:   it.CostPrice,
			Discount:    it.Discount,
			TotalPrice:  it.TotalPrice,
		}
	}
	return dto
}

func toMovementDTO(e pos.StockLogEntry) MovementDTO {
	return MovementDTO{
		ID:          string(e.ID),
		ProductID:   string(e.ProductID),
		Type:        string(e.Type),
		Quantity:    e.Quantity,
		PreviousQty: e.PreviousQty,
		NewQty:      e.NewQty,
		Reference:   e.Reference,
		Note:        e.Note,
		UserID:      string(e.UserID),
		CreatedAt:   formatTime(e.CreatedAt),
	}
}

func toDailySummaryDTO(s pos.DailySummary) DailySummaryDTO {
	dto := DailySummaryDTO{
		Date:              s.Date.Format("2006-01-02"),
		TotalSales:        s.TotalSales,
		TotalTransactions: s.TotalTransactions,
		AverageBasket:     s.AverageBasket,
		ByPaymentMethod:   make(map[string]PaymentTotalDTO, len(s.ByPaymentMethod)),
		TopProducts:       make([]TopProductDTO, len(s.TopProducts)),
	}
	for method, pt := range s.ByPaymentMethod {
		dto.ByPaymentMethod[string(method)] = PaymentTotalDTO{Count: pt.Count, Total: pt.Total}
	}
	for i, tp := range s.TopProducts {
		dto.TopProducts[i] = TopProductDTO{
			ProductID:   string(tp.ProductID),
			ProductName: tp.ProductName,
			Quantity:    tp.Quantity,
			Revenue:     tp.Revenue,
		}
	}
	return dto
}
