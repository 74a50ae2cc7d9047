package pos

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// UsageRecorder receives best-effort usage events after a sale commits.
// Record must not block and has no way to fail the caller.
type UsageRecorder interface {
	Record(shopID ShopID, metric UsageMetric)
}

type nopUsage struct{}

func (nopUsage) Record(ShopID, UsageMetric) {}

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 10 * time.Millisecond
)

// Engine owns the sale, void and adjustment operations for all shops.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	Store      Store
	Ledger     *Ledger
	Usage      UsageRecorder
	Location   *time.Location // shop-local calendar for receipts and summaries
	MaxRetries int
	RetryDelay time.Duration
	Now        func() time.Time
	Log        zerolog.Logger
}

type Option func(*Engine)

func WithUsage(u UsageRecorder) Option { return func(e *Engine) { e.Usage = u } }

func WithLocation(loc *time.Location) Option { return func(e *Engine) { e.Location = loc } }

func WithMaxRetries(n int) Option { return func(e *Engine) { e.MaxRetries = n } }

func WithRetryDelay(d time.Duration) Option { return func(e *Engine) { e.RetryDelay = d } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.Now = now } }

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.Log = l } }

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		Store:      store,
		Usage:      nopUsage{},
		Location:   time.Local,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Now:        time.Now,
		Log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Ledger = NewLedger(e.Now)
	return e
}

// commit runs fn in a transaction and re-runs it from scratch while the
// store reports a conflict. fn must rebuild all of its state on each call.
func (e *Engine) commit(ctx context.Context, op string, fn func(Tx) error) error {
	attempts := e.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := e.Store.WithTx(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt >= attempts {
			e.Log.Error().Err(err).Str("op", op).Int("attempts", attempt).Msg("commit kept conflicting")
			return fmt.Errorf("%s: %w (last error: %v)", op, ErrRetriesExhausted, err)
		}

		e.Log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("commit conflict, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.RetryDelay * time.Duration(attempt)):
		}
	}
}

// dayBounds returns [start, end) of the shop-local calendar day containing t.
func (e *Engine) dayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(e.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.Location)
	return start, start.AddDate(0, 0, 1)
}
