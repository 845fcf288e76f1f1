// Package feed generates a simulated per-instrument price tick stream and
// fans it out to bounded per-subscriber queues without letting a slow
// subscriber stall the feed or its siblings.
package feed

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single immutable price sample for an instrument.
type Tick struct {
	Instrument string
	Price      decimal.Decimal
	Ts         time.Time
}

// Subscription is a bounded single-producer/single-consumer FIFO of Ticks
// for one (instrument, subscriber) pair. The feed holds the producer end;
// the caller of Subscribe holds the consumer end via C.
type Subscription struct {
	Instrument string
	C          <-chan Tick

	ch      chan Tick
	dropped atomic.Int64
}

// Dropped returns the number of ticks discarded from this subscription
// because its buffer was full when the feed attempted delivery.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// NewDirectSubscription builds a standalone Subscription backed by a
// channel the caller controls directly, bypassing a Feed entirely. It
// exists for runner tests and harnesses that need to drive a consumer
// without standing up a full simulated feed.
func NewDirectSubscription(instrument string, capacity int) (*Subscription, chan<- Tick) {
	ch := make(chan Tick, capacity)
	return &Subscription{Instrument: instrument, C: ch, ch: ch}, ch
}

// Snapshot is a non-blocking, point-in-time view of feed state.
type Snapshot struct {
	Prices map[string]decimal.Decimal
	Active bool
}

type instrumentState struct {
	mu    sync.Mutex
	price decimal.Decimal
	subs  []*Subscription
}

// Feed generates ticks for every instrument that has at least one
// subscription, at a fixed cadence, and delivers them to subscribers with a
// drop-oldest backpressure policy.
type Feed struct {
	interval   time.Duration
	volatility float64
	rng        *rand.Rand
	rngMu      sync.Mutex

	mu          sync.RWMutex
	instruments map[string]*instrumentState

	active   atomic.Bool
	dropped  atomic.Int64
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup

	errCh chan error
}

// New constructs a Feed. interval is the time between ticks per instrument;
// volatility is the uniform half-width of the per-tick return, i.e. each new
// price is price * (1 + eps), eps ~ Uniform[-volatility, +volatility].
func New(interval time.Duration, volatility float64, seed int64) *Feed {
	return &Feed{
		interval:    interval,
		volatility:  volatility,
		rng:         rand.New(rand.NewSource(seed)),
		instruments: make(map[string]*instrumentState),
		errCh:       make(chan error, 4),
	}
}

// Errors reports a fatal, unrecoverable failure of one instrument's tick
// loop: a panic during tick processing that recurred after one restart
// attempt. The orchestrator treats any value received here as cause for a
// degraded shutdown, per the single-restart-then-give-up policy.
func (f *Feed) Errors() <-chan error { return f.errCh }

// Subscribe registers a new bounded subscription for instrument, seeding its
// current price if this is the first subscriber for that instrument. The
// orchestrator calls Subscribe for every strategy before Start.
func (f *Feed) Subscribe(instrument string, seedPrice decimal.Decimal, capacity int) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.instruments[instrument]
	if !ok {
		st = &instrumentState{price: seedPrice}
		f.instruments[instrument] = st
	}

	ch := make(chan Tick, capacity)
	sub := &Subscription{Instrument: instrument, C: ch, ch: ch}
	st.mu.Lock()
	st.subs = append(st.subs, sub)
	st.mu.Unlock()
	return sub
}

// Start begins emitting ticks, one goroutine per instrument with at least
// one subscriber. Start is not idempotent; call it once.
func (f *Feed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.active.Store(true)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for instrument, st := range f.instruments {
		st.mu.Lock()
		hasSubs := len(st.subs) > 0
		st.mu.Unlock()
		if !hasSubs {
			continue
		}
		f.wg.Add(1)
		go f.run(ctx, instrument, st)
	}
}

// run drives one instrument's tick loop. A panic during tick processing
// restarts the loop exactly once; that first failure is not logged or
// reported anywhere. A second failure is reported on errCh and the goroutine
// exits for good, leaving that instrument's subscribers without further ticks.
func (f *Feed) run(ctx context.Context, instrument string, st *instrumentState) {
	defer f.wg.Done()

	restarted := false
	for {
		err := f.runOnce(ctx, instrument, st)
		if err == nil {
			return
		}
		if restarted {
			select {
			case f.errCh <- fmt.Errorf("instrument %s: %w (after one restart)", instrument, err):
			default:
			}
			return
		}
		restarted = true
	}
}

// runOnce runs the tick loop until ctx is cancelled (returning nil) or a
// panic escapes tick processing (returning the recovered value as an error).
func (f *Feed) runOnce(ctx context.Context, instrument string, st *instrumentState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("feed tick panic: %v", r)
		}
	}()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			price := f.nextPrice(st)
			tick := Tick{Instrument: instrument, Price: price, Ts: time.Now()}
			f.deliver(st, tick)
		}
	}
}

func (f *Feed) nextPrice(st *instrumentState) decimal.Decimal {
	f.rngMu.Lock()
	eps := (f.rng.Float64()*2 - 1) * f.volatility
	f.rngMu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	factor := decimal.NewFromFloat(1 + eps)
	st.price = st.price.Mul(factor)
	return st.price
}

// deliver attempts a non-blocking send to every subscriber of st. On a full
// buffer it drops the oldest queued tick and retries once — safe without
// additional locking because each Subscription has exactly one producer
// (this goroutine).
func (f *Feed) deliver(st *instrumentState, tick Tick) {
	st.mu.Lock()
	subs := make([]*Subscription, len(st.subs))
	copy(subs, st.subs)
	st.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- tick:
			continue
		default:
		}
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
			f.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- tick:
		default:
			// only reachable for a zero-capacity subscription with no waiting
			// receiver; this tick is not delivered to it
		}
	}
}

// Stop halts tick emission. It does not close or drain already-queued
// ticks. Stop is idempotent.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
		f.wg.Wait()
		f.active.Store(false)
	})
}

// Snapshot returns a non-blocking copy of current per-instrument prices.
func (f *Feed) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	prices := make(map[string]decimal.Decimal, len(f.instruments))
	for instrument, st := range f.instruments {
		st.mu.Lock()
		prices[instrument] = st.price
		st.mu.Unlock()
	}
	return Snapshot{Prices: prices, Active: f.active.Load()}
}

// DroppedTotal returns the aggregate number of ticks dropped across all
// subscriptions since the feed started.
func (f *Feed) DroppedTotal() int64 { return f.dropped.Load() }
