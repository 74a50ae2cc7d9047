/*
Package usage counts billable events per shop and month.

PURPOSE:
  Sales bump the shop's monthly transaction counter after they commit.
  The counter feeds plan limits and billing, so it must never slow down
  or fail a sale: Record only enqueues, and a background goroutine
  writes to the UsageStore.

DESIGN:
  - Buffered channel between the engine and the writer goroutine
  - Full buffer: the event is dropped and a warning is logged
  - Store errors: logged, never retried, never surfaced to the seller
  - Period is the calendar month ("YYYY-MM") in the shop time zone

USAGE:
  worker := usage.NewWorker(store, logger)
  worker.Start()
  defer worker.Stop()

  engine := pos.NewEngine(store, pos.WithUsage(worker))
*/
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/pos-engine/pos"
)

const (
	DefaultBufferSize   = 256
	DefaultWriteTimeout = 5 * time.Second
)

// PeriodFor returns the usage period ("YYYY-MM") containing t in loc.
func PeriodFor(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01")
}

type event struct {
	shopID pos.ShopID
	metric pos.UsageMetric
	at     time.Time
}

// Worker implements pos.UsageRecorder on top of a pos.UsageStore.
type Worker struct {
	Store        pos.UsageStore
	Location     *time.Location
	WriteTimeout time.Duration
	Now          func() time.Time
	Log          zerolog.Logger

	events  chan event
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

type Option func(*Worker)

func WithBufferSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.events = make(chan event, n)
		}
	}
}

func WithLocation(loc *time.Location) Option { return func(w *Worker) { w.Location = loc } }

func WithClock(now func() time.Time) Option { return func(w *Worker) { w.Now = now } }

// NewWorker creates a stopped worker.
func NewWorker(store pos.UsageStore, log zerolog.Logger, opts ...Option) *Worker {
	w := &Worker{
		Store:        store,
		Location:     time.Local,
		WriteTimeout: DefaultWriteTimeout,
		Now:          time.Now,
		Log:          log,
		events:       make(chan event, DefaultBufferSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Record enqueues one event. It never blocks.
func (w *Worker) Record(shopID pos.ShopID, metric pos.UsageMetric) {
	select {
	case w.events <- event{shopID: shopID, metric: metric, at: w.Now()}:
	default:
		w.Log.Warn().
			Str("shop_id", string(shopID)).
			Str("metric", string(metric)).
			Msg("usage buffer full, event dropped")
	}
}

// Start begins draining events.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	w.wg.Add(1)
	go w.run()

	w.Log.Info().Int("buffer", cap(w.events)).Msg("usage worker started")
}

// Stop writes the events already queued and waits for the goroutine.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.stop)
	w.wg.Wait()
	w.running = false
	w.Log.Info().Msg("usage worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case ev := <-w.events:
			w.write(ev)
		case <-w.stop:
			w.drain()
			return
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case ev := <-w.events:
			w.write(ev)
		default:
			return
		}
	}
}

func (w *Worker) write(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), w.WriteTimeout)
	defer cancel()

	period := PeriodFor(ev.at, w.Location)
	if err := w.Store.IncrementUsage(ctx, ev.shopID, ev.metric, period, 1); err != nil {
		w.Log.Error().Err(err).
			Str("shop_id", string(ev.shopID)).
			Str("metric", string(ev.metric)).
			Str("period", period).
			Msg("failed to record usage")
	}
}
