package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pos-engine/pos"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
		unique   bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true, false},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true, false},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, true, false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false, true},
		{"wrapped", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "40001"}), true, false},
		{"check violation", &pgconn.PgError{Code: "23514"}, false, false},
		{"plain error", errors.New("boom"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.conflict, isConflict(tt.err))
			assert.Equal(t, tt.unique, isUniqueViolation(tt.err))
		})
	}
}

func TestDialect(t *testing.T) {
	assert.True(t, Dialect.NumberedPlaceholders)
	assert.Equal(t, " FOR UPDATE", Dialect.ForUpdate)
	require.NotNil(t, Dialect.TxOptions)
}

// TestPostgres_ConcurrentOversell runs against a real server when
// POS_TEST_POSTGRES_DSN is set.
func TestPostgres_ConcurrentOversell(t *testing.T) {
	dsn := os.Getenv("POS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POS_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := New(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	// A fresh shop per run keeps the test independent of existing rows.
	shop := pos.ShopID("test-" + uuid.NewString())
	engine := pos.NewEngine(store, pos.WithLocation(time.UTC), pos.WithMaxRetries(10), pos.WithRetryDelay(5*time.Millisecond))

	p, err := engine.CreateProduct(ctx, pos.CreateProductInput{
		ShopID: shop, Name: "P", SellPrice: decimal.NewFromInt(1), Quantity: 10, TrackStock: true,
	})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.CreateSale(ctx, pos.CreateSaleInput{
				ShopID:        shop,
				Items:         []pos.CartLine{{ProductID: p.ID, Quantity: 6}},
				PaymentMethod: pos.PaymentCash,
				AmountPaid:    decimal.NewFromInt(6),
			})
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

	got, err := engine.GetProduct(ctx, shop, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Quantity)

	discrepancies, err := engine.AuditLedger(ctx, shop)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)
}
