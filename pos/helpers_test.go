package pos_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pos-engine/pos"
	"github.com/warp/pos-engine/pos/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const shopA pos.ShopID = "shop-a"

var march10 = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// usageSpy records UsageRecorder calls.
type usageSpy struct {
	mu     sync.Mutex
	events []pos.ShopID
}

func (u *usageSpy) Record(shopID pos.ShopID, _ pos.UsageMetric) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, shopID)
}

func (u *usageSpy) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.events)
}

type testEnv struct {
	engine *pos.Engine
	store  pos.Store
	clock  *clock
	usage  *usageSpy
}

func newMemoryStore() *store.Memory {
	return store.NewMemory()
}

func newTestEnv(t *testing.T, opts ...pos.Option) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, newMemoryStore(), opts...)
}

func newTestEnvWithStore(t *testing.T, s pos.Store, opts ...pos.Option) *testEnv {
	t.Helper()
	c := &clock{now: march10}
	u := &usageSpy{}
	base := []pos.Option{
		pos.WithClock(c.Now),
		pos.WithLocation(time.UTC),
		pos.WithUsage(u),
		pos.WithRetryDelay(0),
	}
	engine := pos.NewEngine(s, append(base, opts...)...)
	return &testEnv{engine: engine, store: s, clock: c, usage: u}
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, money(want).Equal(got), append([]any{fmt.Sprintf("want %s, got %s", want, got.String())}, msgAndArgs...)...)
}

func (env *testEnv) product(t *testing.T, name, price string, qty int) *pos.Product {
	t.Helper()
	return env.productIn(t, shopA, name, price, qty, true)
}

func (env *testEnv) productIn(t *testing.T, shop pos.ShopID, name, price string, qty int, track bool) *pos.Product {
	t.Helper()
	p, err := env.engine.CreateProduct(context.Background(), pos.CreateProductInput{
		ShopID:     shop,
		UserID:     "owner",
		Name:       name,
		CostPrice:  money(price).Div(decimal.NewFromInt(2)),
		SellPrice:  money(price),
		Quantity:   qty,
		ReorderAt:  4,
		TrackStock: track,
	})
	require.NoError(t, err)
	return p
}

func (env *testEnv) quantity(t *testing.T, id pos.ProductID) int {
	t.Helper()
	p, err := env.engine.GetProduct(context.Background(), shopA, id)
	require.NoError(t, err)
	return p.Quantity
}

func (env *testEnv) sell(ctx context.Context, lines []pos.CartLine, paid string) (*pos.Sale, error) {
	return env.engine.CreateSale(ctx, pos.CreateSaleInput{
		ShopID:        shopA,
		UserID:        "cashier",
		Items:         lines,
		PaymentMethod: pos.PaymentCash,
		AmountPaid:    money(paid),
	})
}

func line(id pos.ProductID, qty int) pos.CartLine {
	return pos.CartLine{ProductID: id, Quantity: qty}
}

// movements returns all ledger entries of a product, oldest first.
func (env *testEnv) movements(t *testing.T, id pos.ProductID) []pos.StockLogEntry {
	t.Helper()
	page, err := env.engine.GetMovements(context.Background(), shopA, pos.MovementFilter{
		ProductID: id,
		Limit:     pos.MaxMovementLimit,
	})
	require.NoError(t, err)
	out := make([]pos.StockLogEntry, len(page.Entries))
	for i, e := range page.Entries {
		out[len(out)-1-i] = e
	}
	return out
}

func (env *testEnv) assertLedgerConsistent(t *testing.T, shop pos.ShopID) {
	t.Helper()
	discrepancies, err := env.engine.AuditLedger(context.Background(), shop)
	require.NoError(t, err)
	assert.Empty(t, discrepancies, "quantity must equal the sum of ledger deltas")
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// conflictingStore runs every unit to completion, then reports a conflict
// for the first n commits so the unit is rolled back.
type conflictingStore struct {
	pos.Store
	mu      sync.Mutex
	n       int
	commits int
}

func (s *conflictingStore) WithTx(ctx context.Context, fn func(pos.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx pos.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.commits++
		if s.n > 0 {
			s.n--
			return fmt.Errorf("%w: injected", pos.ErrConflict)
		}
		return nil
	})
}
