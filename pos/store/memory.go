// Package store provides an in-memory pos.Store for tests and development.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/pos-engine/pos"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	products  map[productKey]pos.Product
	sales     map[saleKey]pos.Sale
	movements []pos.StockLogEntry
	receipts  map[receiptKey]int
	usage     map[usageKey]int
}

type productKey struct {
	ShopID pos.ShopID
	ID     pos.ProductID
}

type saleKey struct {
	ShopID pos.ShopID
	ID     pos.SaleID
}

type receiptKey struct {
	ShopID pos.ShopID
	Day    string
}

type usageKey struct {
	ShopID pos.ShopID
	Metric pos.UsageMetric
	Period string
}

func NewMemory() *Memory {
	return &Memory{
		products: make(map[productKey]pos.Product),
		sales:    make(map[saleKey]pos.Sale),
		receipts: make(map[receiptKey]int),
		usage:    make(map[usageKey]int),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn with exclusive access to the store. Writes go straight
// to the maps; on error or panic the snapshot taken before fn is restored.
func (m *Memory) WithTx(ctx context.Context, fn func(pos.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	defer func() {
		if r := recover(); r != nil {
			m.restore(snapshot)
			panic(r)
		}
		if err != nil {
			m.restore(snapshot)
		}
	}()

	return fn(&memoryTx{m: m})
}

type memorySnapshot struct {
	products  map[productKey]pos.Product
	sales     map[saleKey]pos.Sale
	movements []pos.StockLogEntry
	receipts  map[receiptKey]int
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		products:  make(map[productKey]pos.Product, len(m.products)),
		sales:     make(map[saleKey]pos.Sale, len(m.sales)),
		movements: append([]pos.StockLogEntry{}, m.movements...),
		receipts:  make(map[receiptKey]int, len(m.receipts)),
	}
	for k, v := range m.products {
		s.products[k] = v
	}
	for k, v := range m.sales {
		s.sales[k] = v
	}
	for k, v := range m.receipts {
		s.receipts[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.products = s.products
	m.sales = s.sales
	m.movements = s.movements
	m.receipts = s.receipts
}

type memoryTx struct {
	m *Memory
}

func (tx *memoryTx) LockProducts(_ context.Context, shopID pos.ShopID, ids []pos.ProductID) ([]pos.Product, error) {
	var out []pos.Product
	seen := make(map[pos.ProductID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := tx.m.products[productKey{shopID, id}]; ok && p.IsActive() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetProduct(_ context.Context, shopID pos.ShopID, id pos.ProductID) (*pos.Product, error) {
	p, ok := tx.m.products[productKey{shopID, id}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (tx *memoryTx) InsertProduct(_ context.Context, p pos.Product) error {
	k := productKey{p.ShopID, p.ID}
	if _, exists := tx.m.products[k]; exists {
		return fmt.Errorf("product %s already exists", p.ID)
	}
	tx.m.products[k] = p
	return nil
}

func (tx *memoryTx) UpdateProduct(_ context.Context, p pos.Product) error {
	k := productKey{p.ShopID, p.ID}
	current, ok := tx.m.products[k]
	if !ok {
		return pos.ErrProductNotFound
	}
	p.Quantity = current.Quantity
	tx.m.products[k] = p
	return nil
}

func (tx *memoryTx) DecrementQuantity(_ context.Context, shopID pos.ShopID, id pos.ProductID, n int) (int, error) {
	k := productKey{shopID, id}
	p, ok := tx.m.products[k]
	if !ok || p.Quantity < n {
		return 0, pos.ErrInsufficientStock
	}
	p.Quantity -= n
	tx.m.products[k] = p
	return p.Quantity, nil
}

func (tx *memoryTx) IncrementQuantity(_ context.Context, shopID pos.ShopID, id pos.ProductID, n int) (int, error) {
	k := productKey{shopID, id}
	p, ok := tx.m.products[k]
	if !ok {
		return 0, pos.ErrProductNotFound
	}
	p.Quantity += n
	tx.m.products[k] = p
	return p.Quantity, nil
}

func (tx *memoryTx) AppendMovement(_ context.Context, e pos.StockLogEntry) error {
	tx.m.movements = append(tx.m.movements, e)
	return nil
}

func (tx *memoryTx) NextReceiptSequence(_ context.Context, shopID pos.ShopID, day string) (int, error) {
	k := receiptKey{shopID, day}
	tx.m.receipts[k]++
	return tx.m.receipts[k], nil
}

func (tx *memoryTx) InsertSale(_ context.Context, s pos.Sale) error {
	k := saleKey{s.ShopID, s.ID}
	if _, exists := tx.m.sales[k]; exists {
		return fmt.Errorf("sale %s already exists", s.ID)
	}
	for _, other := range tx.m.sales {
		if other.ShopID == s.ShopID && other.ReceiptNumber == s.ReceiptNumber {
			return fmt.Errorf("receipt %s already used", s.ReceiptNumber)
		}
	}
	s.Items = append([]pos.SaleItem{}, s.Items...)
	tx.m.sales[k] = s
	return nil
}

func (tx *memoryTx) GetSale(_ context.Context, shopID pos.ShopID, id pos.SaleID) (*pos.Sale, error) {
	return tx.m.getSale(shopID, id), nil
}

func (tx *memoryTx) MarkSaleVoided(_ context.Context, shopID pos.ShopID, id pos.SaleID, reason string, by pos.UserID, at time.Time) (bool, error) {
	k := saleKey{shopID, id}
	s, ok := tx.m.sales[k]
	if !ok || s.Status != pos.SaleCompleted {
		return false, nil
	}
	s.Status = pos.SaleVoided
	s.VoidReason = reason
	s.VoidedBy = by
	s.VoidedAt = &at
	tx.m.sales[k] = s
	return true, nil
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetProduct(_ context.Context, shopID pos.ShopID, id pos.ProductID) (*pos.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[productKey{shopID, id}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListProducts(_ context.Context, shopID pos.ShopID, filter pos.ProductFilter) ([]pos.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var out []pos.Product
	for k, p := range m.products {
		if k.ShopID != shopID {
			continue
		}
		if !filter.IncludeInactive && !p.IsActive() {
			continue
		}
		if filter.Category != "" && !strings.EqualFold(p.Category, filter.Category) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Barcode), search) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetSale(_ context.Context, shopID pos.ShopID, id pos.SaleID) (*pos.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSale(shopID, id), nil
}

func (m *Memory) getSale(shopID pos.ShopID, id pos.SaleID) *pos.Sale {
	s, ok := m.sales[saleKey{shopID, id}]
	if !ok {
		return nil
	}
	s.Items = append([]pos.SaleItem{}, s.Items...)
	return &s
}

func (m *Memory) ListSales(_ context.Context, shopID pos.ShopID, from, to time.Time) ([]pos.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []pos.Sale
	for k, s := range m.sales {
		if k.ShopID != shopID || s.CreatedAt.Before(from) || !s.CreatedAt.Before(to) {
			continue
		}
		s.Items = append([]pos.SaleItem{}, s.Items...)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListMovements(_ context.Context, shopID pos.ShopID, filter pos.MovementFilter) ([]pos.StockLogEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filter = filter.Normalize()
	var matched []pos.StockLogEntry
	for i := len(m.movements) - 1; i >= 0; i-- {
		e := m.movements[i]
		if e.ShopID != shopID {
			continue
		}
		if filter.ProductID != "" && e.ProductID != filter.ProductID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && e.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !e.CreatedAt.Before(filter.To) {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	start := filter.Offset()
	if start >= total {
		return []pos.StockLogEntry{}, total, nil
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return append([]pos.StockLogEntry{}, matched[start:end]...), total, nil
}

func (m *Memory) MovementTotals(_ context.Context, shopID pos.ShopID) (map[pos.ProductID]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := make(map[pos.ProductID]int)
	for _, e := range m.movements {
		if e.ShopID != shopID {
			continue
		}
		if e.Type == pos.MovementInitial {
			totals[e.ProductID] = e.Quantity
			continue
		}
		totals[e.ProductID] += e.Quantity
	}
	return totals, nil
}

// =============================================================================
// USAGE (pos.UsageStore)
// =============================================================================

func (m *Memory) IncrementUsage(_ context.Context, shopID pos.ShopID, metric pos.UsageMetric, period string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[usageKey{shopID, metric, period}] += n
	return nil
}

func (m *Memory) GetUsage(_ context.Context, shopID pos.ShopID, period string) (map[pos.UsageMetric]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[pos.UsageMetric]int)
	for k, v := range m.usage {
		if k.ShopID == shopID && k.Period == period {
			out[k.Metric] = v
		}
	}
	return out, nil
}
