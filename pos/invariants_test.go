package pos_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pos-engine/pos"
)

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestCreateSale_ConcurrentOversell_ExactlyOneSucceeds(t *testing.T) {
	// GIVEN: 10 units
	// WHEN: Two sales of 6 run concurrently
	// THEN: One succeeds, the other fails with InsufficientStock, final 4

	env := newTestEnv(t)
	p := env.product(t, "P", "1", 10)

	results := make(chan error, 2)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < 2; i++ {
		go func() {
			start.Wait()
			_, err := env.sell(context.Background(), []pos.CartLine{line(p.ID, 6)}, "6")
			results <- err
		}()
	}
	start.Done()

	var ok, short int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			ok++
		case errors.Is(err, pos.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 4, env.quantity(t, p.ID))
	env.assertLedgerConsistent(t, shopA)
}

func TestCreateSale_ManyConcurrentSales_NeverNegative_ReceiptsUnique(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "P", "1", 25)

	const workers = 40
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		receipts = make(map[string]bool)
		sold     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sale, err := env.sell(context.Background(), []pos.CartLine{line(p.ID, 1)}, "1")
			if err != nil {
				assert.ErrorIs(t, err, pos.ErrInsufficientStock)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, receipts[sale.ReceiptNumber], "duplicate receipt %s", sale.ReceiptNumber)
			receipts[sale.ReceiptNumber] = true
			sold++
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, sold)
	assert.Equal(t, 0, env.quantity(t, p.ID))
	env.assertLedgerConsistent(t, shopA)
}

// =============================================================================
// PROPERTY TEST
// =============================================================================

func TestInvariants_RandomOperations(t *testing.T) {
	// GIVEN: A handful of products
	// WHEN: A random mix of sales, voids and adjustments runs
	// THEN: After every step:
	//   - quantity == sum of ledger deltas (audit is clean), never negative
	//   - every completed sale has total = subtotal - discount + tax and change >= 0
	//   - every voided sale's RETURN deltas equal its tracked item quantities

	rng := rand.New(rand.NewSource(42))
	env := newTestEnv(t)
	ctx := context.Background()

	var products []*pos.Product
	for i, name := range []string{"A", "B", "C", "D"} {
		products = append(products, env.productIn(t, shopA, name, "2.50", 5+rng.Intn(10), i != 3))
	}

	var sales []*pos.Sale
	for step := 0; step < 300; step++ {
		switch op := rng.Intn(10); {
		case op < 6:
			var lines []pos.CartLine
			for n := 1 + rng.Intn(3); n > 0; n-- {
				p := products[rng.Intn(len(products))]
				lines = append(lines, line(p.ID, 1+rng.Intn(4)))
			}
			sale, err := env.sell(ctx, lines, "100")
			if err != nil {
				require.ErrorIs(t, err, pos.ErrInsufficientStock)
				continue
			}
			sales = append(sales, sale)
		case op < 8 && len(sales) > 0:
			s := sales[rng.Intn(len(sales))]
			_, err := env.engine.VoidSale(ctx, voidInput(s.ID, "random"))
			if err != nil {
				require.ErrorIs(t, err, pos.ErrAlreadyVoided)
			}
		default:
			p := products[rng.Intn(3)]
			delta := rng.Intn(9) - 3
			if delta == 0 {
				delta = 1
			}
			_, err := env.engine.AdjustStock(ctx, pos.AdjustStockInput{
				ShopID: shopA, ProductID: p.ID, Type: pos.MovementAdjustment, Delta: delta,
			})
			if err != nil {
				require.ErrorIs(t, err, pos.ErrInsufficientStock)
			}
		}

		env.assertLedgerConsistent(t, shopA)
	}

	all, err := env.engine.ListProducts(ctx, shopA, pos.ProductFilter{IncludeInactive: true})
	require.NoError(t, err)
	tracked := make(map[pos.ProductID]bool)
	for _, p := range all {
		tracked[p.ID] = p.TrackStock
		if p.TrackStock {
			assert.GreaterOrEqual(t, p.Quantity, 0)
		}
	}

	for _, s := range sales {
		stored, err := env.engine.GetSale(ctx, shopA, s.ID)
		require.NoError(t, err)

		assert.True(t, stored.TotalAmount.Equal(stored.Subtotal.Sub(stored.Discount).Add(stored.Tax)))
		assert.True(t, stored.Change.Equal(stored.AmountPaid.Sub(stored.TotalAmount)))
		assert.False(t, stored.Change.IsNegative())

		returned := 0
		page, err := env.engine.GetMovements(ctx, shopA, pos.MovementFilter{Type: pos.MovementReturn, Limit: pos.MaxMovementLimit})
		require.NoError(t, err)
		for p := 2; p <= page.TotalPages; p++ {
			more, err := env.engine.GetMovements(ctx, shopA, pos.MovementFilter{Type: pos.MovementReturn, Page: p, Limit: pos.MaxMovementLimit})
			require.NoError(t, err)
			page.Entries = append(page.Entries, more.Entries...)
		}
		for _, e := range page.Entries {
			if e.Reference == string(s.ID) {
				returned += e.Quantity
			}
		}

		expected := 0
		if stored.Status == pos.SaleVoided {
			for _, it := range stored.Items {
				if tracked[it.ProductID] {
					expected += it.Quantity
				}
			}
		}
		assert.Equal(t, expected, returned, "sale %s", stored.ReceiptNumber)
	}
}
