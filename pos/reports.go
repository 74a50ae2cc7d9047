/*
reports.go - Read-side projections over sales and the stock ledger

None of these operations write. They exist for controllers and
dashboards:
  - GetDailySummary:   totals for one shop-local calendar day
  - GetMovements:      paginated ledger entries
  - GetLowStockAlerts: tracked products at or below their reorder level
  - AuditLedger:       products whose quantity disagrees with the ledger
*/
package pos

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DAILY SUMMARY
// =============================================================================

const topProductsLimit = 5

type PaymentTotal struct {
	Count int
	Total decimal.Decimal
}

type TopProduct struct {
	ProductID   ProductID
	ProductName string
	Quantity    int
	Revenue     decimal.Decimal
}

type DailySummary struct {
	Date              time.Time
	TotalSales        decimal.Decimal
	TotalTransactions int
	AverageBasket     decimal.Decimal
	ByPaymentMethod   map[PaymentMethod]PaymentTotal
	TopProducts       []TopProduct
}

// GetDailySummary summarizes the completed sales of the shop-local day
// containing date. A zero date means today.
func (e *Engine) GetDailySummary(ctx context.Context, shopID ShopID, date time.Time) (*DailySummary, error) {
	if date.IsZero() {
		date = e.Now()
	}
	start, end := e.dayBounds(date)

	sales, err := e.Store.ListSales(ctx, shopID, start, end)
	if err != nil {
		return nil, err
	}
	summary := Summarize(sales, topProductsLimit)
	summary.Date = start
	return &summary, nil
}

// Summarize aggregates COMPLETED sales; voided sales are ignored.
func Summarize(sales []Sale, topN int) DailySummary {
	summary := DailySummary{
		TotalSales:      decimal.Zero,
		AverageBasket:   decimal.Zero,
		ByPaymentMethod: make(map[PaymentMethod]PaymentTotal),
	}

	products := make(map[ProductID]*TopProduct)
	for _, s := range sales {
		if s.Status != SaleCompleted {
			continue
		}
		summary.TotalTransactions++
		summary.TotalSales = summary.TotalSales.Add(s.TotalAmount)

		pt := summary.ByPaymentMethod[s.PaymentMethod]
		pt.Count++
		pt.Total = pt.Total.Add(s.TotalAmount)
		summary.ByPaymentMethod[s.PaymentMethod] = pt

		for _, item := range s.Items {
			tp, ok := products[item.ProductID]
			if !ok {
				tp = &TopProduct{ProductID: item.ProductID, ProductName: item.ProductName, Revenue: decimal.Zero}
				products[item.ProductID] = tp
			}
			tp.Quantity += item.Quantity
			tp.Revenue = tp.Revenue.Add(item.TotalPrice)
		}
	}

	if summary.TotalTransactions > 0 {
		summary.AverageBasket = summary.TotalSales.
			Div(decimal.NewFromInt(int64(summary.TotalTransactions))).
			Round(2)
	}

	for _, tp := range products {
		summary.TopProducts = append(summary.TopProducts, *tp)
	}
	sort.Slice(summary.TopProducts, func(i, j int) bool {
		a, b := summary.TopProducts[i], summary.TopProducts[j]
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		if !a.Revenue.Equal(b.Revenue) {
			return a.Revenue.GreaterThan(b.Revenue)
		}
		return a.ProductName < b.ProductName
	})
	if topN > 0 && len(summary.TopProducts) > topN {
		summary.TopProducts = summary.TopProducts[:topN]
	}
	return summary
}

// =============================================================================
// MOVEMENTS
// =============================================================================

type MovementPage struct {
	Entries    []StockLogEntry
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

func (e *Engine) GetMovements(ctx context.Context, shopID ShopID, filter MovementFilter) (*MovementPage, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, invalid("type", "unknown movement type %q", filter.Type)
	}
	filter = filter.Normalize()

	entries, total, err := e.Store.ListMovements(ctx, shopID, filter)
	if err != nil {
		return nil, err
	}
	return &MovementPage{
		Entries:    entries,
		Total:      total,
		Page:       filter.Page,
		Limit:      filter.Limit,
		TotalPages: (total + filter.Limit - 1) / filter.Limit,
	}, nil
}

// =============================================================================
// LOW STOCK ALERTS
// =============================================================================

type LowStockReport struct {
	OutOfStock []Product // quantity == 0
	Critical   []Product // 0 < quantity <= reorderAt/2
	Low        []Product // reorderAt/2 < quantity <= reorderAt
}

func (r LowStockReport) Count() int {
	return len(r.OutOfStock) + len(r.Critical) + len(r.Low)
}

func (e *Engine) GetLowStockAlerts(ctx context.Context, shopID ShopID) (*LowStockReport, error) {
	products, err := e.Store.ListProducts(ctx, shopID, ProductFilter{})
	if err != nil {
		return nil, err
	}
	report := CategorizeStock(products)
	return &report, nil
}

// CategorizeStock buckets active tracked products by how close they are
// to running out. Products above their reorder level are left out.
func CategorizeStock(products []Product) LowStockReport {
	var report LowStockReport
	for _, p := range products {
		if !p.IsActive() || !p.TrackStock {
			continue
		}
		switch {
		case p.Quantity <= 0:
			report.OutOfStock = append(report.OutOfStock, p)
		case p.Quantity <= p.ReorderAt/2:
			report.Critical = append(report.Critical, p)
		case p.Quantity <= p.ReorderAt:
			report.Low = append(report.Low, p)
		}
	}
	for _, bucket := range [][]Product{report.OutOfStock, report.Critical, report.Low} {
		sort.Slice(bucket, func(i, j int) bool {
			if bucket[i].Quantity != bucket[j].Quantity {
				return bucket[i].Quantity < bucket[j].Quantity
			}
			return bucket[i].Name < bucket[j].Name
		})
	}
	return report
}

// =============================================================================
// LEDGER AUDIT
// =============================================================================

// Discrepancy is a tracked product whose quantity is not explained by its
// ledger entries since the latest INITIAL entry.
type Discrepancy struct {
	ProductID   ProductID
	ProductName string
	Quantity    int
	LedgerTotal int
}

func (d Discrepancy) Drift() int { return d.Quantity - d.LedgerTotal }

// AuditLedger checks the core invariant for every tracked product of the
// shop, inactive ones included.
func (e *Engine) AuditLedger(ctx context.Context, shopID ShopID) ([]Discrepancy, error) {
	products, err := e.Store.ListProducts(ctx, shopID, ProductFilter{IncludeInactive: true})
	if err != nil {
		return nil, err
	}
	totals, err := e.Store.MovementTotals(ctx, shopID)
	if err != nil {
		return nil, err
	}

	var out []Discrepancy
	for _, p := range products {
		if !p.TrackStock {
			continue
		}
		if total := totals[p.ID]; total != p.Quantity {
			out = append(out, Discrepancy{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    p.Quantity,
				LedgerTotal: total,
			})
		}
	}
	return out, nil
}
