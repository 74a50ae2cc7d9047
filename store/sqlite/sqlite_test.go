package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pos-engine/pos"
	"github.com/warp/pos-engine/store/sqlite"
	"github.com/warp/pos-engine/store/sqlstore"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const shop pos.ShopID = "shop-1"

var day = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newEngine(store pos.Store) *pos.Engine {
	return pos.NewEngine(store,
		pos.WithLocation(time.UTC),
		pos.WithClock(func() time.Time { return day }),
		pos.WithRetryDelay(0),
	)
}

func createProduct(t *testing.T, e *pos.Engine, name, price string, qty int) *pos.Product {
	t.Helper()
	p, err := e.CreateProduct(context.Background(), pos.CreateProductInput{
		ShopID:     shop,
		UserID:     "owner",
		Name:       name,
		CostPrice:  decimal.RequireFromString(price).Div(decimal.NewFromInt(2)),
		SellPrice:  decimal.RequireFromString(price),
		Quantity:   qty,
		ReorderAt:  2,
		TrackStock: true,
	})
	require.NoError(t, err)
	return p
}

func sell(e *pos.Engine, paid string, lines ...pos.CartLine) (*pos.Sale, error) {
	return e.CreateSale(context.Background(), pos.CreateSaleInput{
		ShopID:        shop,
		UserID:        "cashier",
		Items:         lines,
		PaymentMethod: pos.PaymentCash,
		AmountPaid:    decimal.RequireFromString(paid),
	})
}

func quantity(t *testing.T, store pos.Store, id pos.ProductID) int {
	t.Helper()
	p, err := store.GetProduct(context.Background(), shop, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Quantity
}

func assertAuditClean(t *testing.T, e *pos.Engine) {
	t.Helper()
	discrepancies, err := e.AuditLedger(context.Background(), shop)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)
}

// =============================================================================
// SALES
// =============================================================================

func TestSQLite_SaleRoundTrip(t *testing.T) {
	// GIVEN: P1 10 @ 12.00, P2 5 @ 3.50
	// WHEN: Selling 2 x P1 and 1 x P2, paying 30
	// THEN: Sale, items and ledger entries are persisted and read back
	store := newStore(t)
	e := newEngine(store)
	p1 := createProduct(t, e, "P1", "12.00", 10)
	p2 := createProduct(t, e, "P2", "3.50", 5)

	sale, err := sell(e, "30", pos.CartLine{ProductID: p1.ID, Quantity: 2}, pos.CartLine{ProductID: p2.ID, Quantity: 1})
	require.NoError(t, err)

	assert.Equal(t, "RCP-250310-0001", sale.ReceiptNumber)
	assert.True(t, decimal.RequireFromString("27.50").Equal(sale.TotalAmount))
	assert.True(t, decimal.RequireFromString("2.50").Equal(sale.Change))

	stored, err := store.GetSale(context.Background(), shop, sale.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, pos.SaleCompleted, stored.Status)
	assert.Equal(t, sale.ReceiptNumber, stored.ReceiptNumber)
	assert.True(t, sale.TotalAmount.Equal(stored.TotalAmount))
	assert.True(t, sale.CreatedAt.Equal(stored.CreatedAt))
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "P1", stored.Items[0].ProductName)
	assert.Equal(t, 2, stored.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("24").Equal(stored.Items[0].TotalPrice))
	assert.Equal(t, "P2", stored.Items[1].ProductName)

	assert.Equal(t, 8, quantity(t, store, p1.ID))
	assert.Equal(t, 4, quantity(t, store, p2.ID))

	page, err := e.GetMovements(context.Background(), shop, pos.MovementFilter{Type: pos.MovementSale})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	for _, entry := range page.Entries {
		assert.Equal(t, string(sale.ID), entry.Reference)
		assert.Equal(t, entry.PreviousQty+entry.Quantity, entry.NewQty)
	}
	assertAuditClean(t, e)
}

func TestSQLite_InsufficientStockRollsBack(t *testing.T) {
	store := newStore(t)
	e := newEngine(store)
	p1 := createProduct(t, e, "P1", "12", 10)
	p3 := createProduct(t, e, "P3", "1", 1)

	_, err := sell(e, "100", pos.CartLine{ProductID: p1.ID, Quantity: 1}, pos.CartLine{ProductID: p3.ID, Quantity: 2})

	var stockErr *pos.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, p3.ID, stockErr.ProductID)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 10, quantity(t, store, p1.ID))
	assert.Equal(t, 1, quantity(t, store, p3.ID))

	sales, err := store.ListSales(context.Background(), shop, day.Add(-time.Hour), day.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestSQLite_CombinedDemandChecked(t *testing.T) {
	store := newStore(t)
	e := newEngine(store)
	p := createProduct(t, e, "P", "1", 4)

	_, err := sell(e, "10", pos.CartLine{ProductID: p.ID, Quantity: 3}, pos.CartLine{ProductID: p.ID, Quantity: 2})

	var stockErr *pos.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, 4, quantity(t, store, p.ID))
}

func TestSQLite_ReceiptsSequentialAcrossSales(t *testing.T) {
	store := newStore(t)
	e := newEngine(store)
	p := createProduct(t, e, "P", "1", 10)

	var receipts []string
	for i := 0; i < 3; i++ {
		s, err := sell(e, "1", pos.CartLine{ProductID: p.ID, Quantity: 1})
		require.NoError(t, err)
		receipts = append(receipts, s.ReceiptNumber)
	}

	assert.Equal(t, []string{"RCP-250310-0001", "RCP-250310-0002", "RCP-250310-0003"}, receipts)
}

// =============================================================================
// VOIDS
// =============================================================================

func TestSQLite_VoidRestoresStockOnce(t *testing.T) {
	store := newStore(t)
	e := newEngine(store)
	ctx := context.Background()
	p := createProduct(t, e, "P1", "12", 10)
	sale, err := sell(e, "40", pos.CartLine{ProductID: p.ID, Quantity: 3})
	require.NoError(t, err)

	voided, err := e.VoidSale(ctx, pos.VoidSaleInput{SaleID: sale.ID, ShopID: shop, UserID: "manager", Reason: "customer changed mind"})
	require.NoError(t, err)
	assert.Equal(t, pos.SaleVoided, voided.Status)

	_, err = e.VoidSale(ctx, pos.VoidSaleInput{SaleID: sale.ID, ShopID: shop, UserID: "manager", Reason: "again"})
	assert.ErrorIs(t, err, pos.ErrAlreadyVoided)

	assert.Equal(t, 10, quantity(t, store, p.ID))

	stored, err := store.GetSale(ctx, shop, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.SaleVoided, stored.Status)
	assert.Equal(t, "customer changed mind", stored.VoidReason)
	assert.Equal(t, pos.UserID("manager"), stored.VoidedBy)
	require.NotNil(t, stored.VoidedAt)
	assert.True(t, day.Equal(*stored.VoidedAt))

	returns, err := e.GetMovements(ctx, shop, pos.MovementFilter{Type: pos.MovementReturn})
	require.NoError(t, err)
	require.Equal(t, 1, returns.Total)
	assert.Equal(t, 7, returns.Entries[0].PreviousQty)
	assert.Equal(t, 10, returns.Entries[0].NewQty)
	assertAuditClean(t, e)
}

func TestSQLite_MarkSaleVoidedIsConditional(t *testing.T) {
	store := newStore(t)
	e := newEngine(store)
	ctx := context.Background()
	p := createProduct(t, e, "P", "1", 10)
	sale, err := sell(e, "1", pos.CartLine{ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)

	var first, second bool
	err = store.WithTx(ctx, func(tx pos.Tx) error {
		var err error
		if first, err = tx.MarkSaleVoided(ctx, shop, sale.ID, "a", "m", day); err != nil {
			return err
		}
		second, err = tx.MarkSaleVoided(ctx, shop, sale.ID, "b", "m", day)
		return err
	})
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestSQLite_ConcurrentOversell(t *testing.T) {
	// GIVEN: 10 units
	// WHEN: Two concurrent sales of 6
	// THEN: Exactly one succeeds and 4 remain
	store := newStore(t)
	e := newEngine(store)
	p := createProduct(t, e, "P", "1", 10)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sell(e, "6", pos.CartLine{ProductID: p.ID, Quantity: 6})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			assert.ErrorIs(t, err, pos.ErrInsufficientStock)
			fail++
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, fail)
	assert.Equal(t, 4, quantity(t, store, p.ID))
	assertAuditClean(t, e)
}

func TestSQLite_ConcurrentReceiptsUnique(t *testing.T) {
	store := newStore(t)
	e := newEngine(store)
	p := createProduct(t, e, "P", "1", 100)

	const workers = 20
	receipts := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := sell(e, "1", pos.CartLine{ProductID: p.ID, Quantity: 1})
			if assert.NoError(t, err) {
				receipts <- s.ReceiptNumber
			}
		}()
	}
	wg.Wait()
	close(receipts)

	seen := make(map[string]bool)
	for r := range receipts {
		assert.False(t, seen[r], "duplicate receipt %s", r)
		seen[r] = true
	}
	assert.Len(t, seen, workers)
	assert.Equal(t, 100-workers, quantity(t, store, p.ID))
}

// =============================================================================
// STORE PRIMITIVES
// =============================================================================

func TestSQLite_DecrementIsConditional(t *testing.T) {
	store := newStore(t)
	e := newEngine(store)
	ctx := context.Background()
	p := createProduct(t, e, "P", "1", 3)

	err := store.WithTx(ctx, func(tx pos.Tx) error {
		_, err := tx.DecrementQuantity(ctx, shop, p.ID, 4)
		return err
	})

	assert.ErrorIs(t, err, pos.ErrInsufficientStock)
	assert.Equal(t, 3, quantity(t, store, p.ID))
}

func TestSQLite_LockProductsSkipsInactiveAndForeign(t *testing.T) {
	store := newStore(t)
	e := newEngine(store)
	ctx := context.Background()
	a := createProduct(t, e, "A", "1", 1)
	b := createProduct(t, e, "B", "1", 1)
	_, err := e.DeactivateProduct(ctx, shop, b.ID)
	require.NoError(t, err)

	var locked []pos.Product
	err = store.WithTx(ctx, func(tx pos.Tx) error {
		var err error
		locked, err = tx.LockProducts(ctx, shop, []pos.ProductID{a.ID, b.ID, a.ID, "missing"})
		return err
	})
	require.NoError(t, err)

	require.Len(t, locked, 1)
	assert.Equal(t, a.ID, locked[0].ID)
}

func TestSQLite_RollbackOnError(t *testing.T) {
	store := newStore(t)
	e := newEngine(store)
	ctx := context.Background()
	p := createProduct(t, e, "P", "1", 5)

	err := store.WithTx(ctx, func(tx pos.Tx) error {
		if _, err := tx.IncrementQuantity(ctx, shop, p.ID, 10); err != nil {
			return err
		}
		return pos.ErrInvalidInput
	})

	assert.ErrorIs(t, err, pos.ErrInvalidInput)
	assert.Equal(t, 5, quantity(t, store, p.ID))
}

func TestSQLite_MovementTotalsRestartAtInitial(t *testing.T) {
	store := newStore(t)
	e := newEngine(store)
	ctx := context.Background()
	p := createProduct(t, e, "P", "1", 10)
	_, err := sell(e, "3", pos.CartLine{ProductID: p.ID, Quantity: 3})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx pos.Tx) error {
		return tx.AppendMovement(ctx, pos.StockLogEntry{
			ID: "re-anchor", ShopID: shop, ProductID: p.ID, Type: pos.MovementInitial,
			Quantity: 50, PreviousQty: 0, NewQty: 50, CreatedAt: day,
		})
	})
	require.NoError(t, err)
	_, err = e.AdjustStock(ctx, pos.AdjustStockInput{ShopID: shop, ProductID: p.ID, Type: pos.MovementRestock, Delta: 4})
	require.NoError(t, err)

	totals, err := store.MovementTotals(ctx, shop)
	require.NoError(t, err)
	assert.Equal(t, 54, totals[p.ID])
}

func TestSQLite_ListProductsFilters(t *testing.T) {
	store := newStore(t)
	e := newEngine(store)
	ctx := context.Background()
	for _, in := range []pos.CreateProductInput{
		{ShopID: shop, Name: "Coca Cola", Barcode: "5449000000996", Category: "Drinks"},
		{ShopID: shop, Name: "Bread", Category: "Bakery"},
		{ShopID: "other", Name: "Coca Cola", Category: "Drinks"},
	} {
		_, err := e.CreateProduct(ctx, in)
		require.NoError(t, err)
	}

	drinks, err := store.ListProducts(ctx, shop, pos.ProductFilter{Category: "Drinks"})
	require.NoError(t, err)
	assert.Len(t, drinks, 1)

	byBarcode, err := store.ListProducts(ctx, shop, pos.ProductFilter{Search: "0996"})
	require.NoError(t, err)
	require.Len(t, byBarcode, 1)
	assert.Equal(t, "Coca Cola", byBarcode[0].Name)

	byName, err := store.ListProducts(ctx, shop, pos.ProductFilter{Search: "BREAD"})
	require.NoError(t, err)
	assert.Len(t, byName, 1)
}

func TestSQLite_Usage(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrementUsage(ctx, shop, pos.UsageTransaction, "2025-03", 1))
	require.NoError(t, store.IncrementUsage(ctx, shop, pos.UsageTransaction, "2025-03", 2))
	require.NoError(t, store.IncrementUsage(ctx, shop, pos.UsageTransaction, "2025-04", 1))

	march, err := store.GetUsage(ctx, shop, "2025-03")
	require.NoError(t, err)
	assert.Equal(t, 3, march[pos.UsageTransaction])

	empty, err := store.GetUsage(ctx, "other", "2025-03")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.db")
	ctx := context.Background()

	first, err := sqlite.New(ctx, path)
	require.NoError(t, err)
	p := createProduct(t, newEngine(first), "P", "1", 7)
	require.NoError(t, first.Close())

	second, err := sqlite.New(ctx, path)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, 7, quantity(t, second, p.ID))
	assertAuditClean(t, newEngine(second))
}
