package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"strategy-engine/internal/clock"
	"strategy-engine/internal/config"
	"strategy-engine/internal/eventbus"
	"strategy-engine/internal/feed"
	"strategy-engine/internal/health"
	"strategy-engine/internal/logging"
	"strategy-engine/internal/runner"
	"strategy-engine/internal/strategydef"
)

func noopLogger() logging.Logger { return logging.Configure("ERROR") }

// TestMarketOpenDelayAlreadyPast confirms the no-wrap rule: if MARKET_OPEN
// has already passed today, the engine starts immediately rather than
// waiting until tomorrow (the behavior marketCloseTimer intentionally does
// not share).
func TestMarketOpenDelayAlreadyPast(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 7, 31, 10, 0, 0, 0, time.Local))
	d := marketOpenDelay(clk.Now(), 9*60+30) // open was 09:30, now 10:00
	if d != 0 {
		t.Fatalf("expected zero delay once open has passed, got %s", d)
	}
}

// TestMarketOpenDelayExactlyAtOpen confirms the boundary is inclusive.
func TestMarketOpenDelayExactlyAtOpen(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 7, 31, 9, 30, 0, 0, time.Local))
	d := marketOpenDelay(clk.Now(), 9*60+30)
	if d != 0 {
		t.Fatalf("expected zero delay exactly at open, got %s", d)
	}
}

// TestMarketOpenDelayBeforeOpen confirms a positive wait is computed when
// the open time is still ahead today, and that it never wraps to tomorrow.
func TestMarketOpenDelayBeforeOpen(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 7, 31, 9, 0, 0, 0, time.Local))
	d := marketOpenDelay(clk.Now(), 9*60+30) // 30 minutes until open
	if d != 30*time.Minute {
		t.Fatalf("expected a 30 minute wait, got %s", d)
	}

	clk.Advance(30 * time.Minute)
	if d := marketOpenDelay(clk.Now(), 9*60+30); d != 0 {
		t.Fatalf("expected zero delay after advancing to open, got %s", d)
	}
}

func testConfig() *config.Config {
	return &config.Config{
		MarketOpenMinute:     0,
		MarketCloseMinute:    23 * 60,
		TickInterval:         time.Millisecond,
		PriceVolatility:      0.001,
		HealthInterval:       time.Hour,
		SubscriptionCapacity: 8,
		ShutdownGrace:        20 * time.Millisecond,
	}
}

// newTestOrchestrator builds an Orchestrator directly (bypassing Build, and
// its strategydef.Load file read) with a single never-completing runner
// entry, suitable for exercising shutdown's join/abandon and market-open
// logic in isolation.
func newTestOrchestrator(cfg *config.Config) (*Orchestrator, *runnerEntry) {
	log := noopLogger()
	f := feed.New(cfg.TickInterval, cfg.PriceVolatility, 1)
	bus := eventbus.New("", log)

	o := &Orchestrator{
		cfg:  cfg,
		clk:  clock.NewFakeClock(time.Date(2026, 7, 31, 12, 0, 0, 0, time.Local)),
		log:  log,
		feed: f,
		bus:  bus,
	}

	sub, _ := feed.NewDirectSubscription("X", 1)
	rdef := runner.Definition{StrategyID: "s1", Instrument: "X", Quantity: 1}
	re := &runnerEntry{
		def:  strategydef.Definition{StrategyID: "s1", Instrument: "X"},
		done: make(chan struct{}),
	}
	re.run = runner.New(rdef, sub, o.clk, log, o.onRunnerExit)
	o.entries = append(o.entries, re)

	o.health = health.New(cfg.HealthInterval, o.sampleHealth, log, o.publishHealthToHub)
	return o, re
}

// TestShutdownAbandonsUnjoinedRunners exercises the ShutdownGrace deadline
// directly against shutdown: a runner goroutine that never signals
// completion must be reported ABANDONED once the grace period elapses,
// rather than hanging the shutdown sequence indefinitely.
func TestShutdownAbandonsUnjoinedRunners(t *testing.T) {
	cfg := testConfig()
	o, entry := newTestOrchestrator(cfg)

	var wg sync.WaitGroup
	wg.Add(1) // deliberately never Done: simulates a stuck runner goroutine

	start := time.Now()
	summary := o.shutdown(&wg)
	elapsed := time.Since(start)

	if elapsed < cfg.ShutdownGrace {
		t.Fatalf("shutdown returned before the grace deadline elapsed: %s", elapsed)
	}
	if summary.Abandoned != 1 {
		t.Fatalf("expected 1 abandoned strategy, got %d", summary.Abandoned)
	}
	if len(summary.Strategies) != 1 || !summary.Strategies[0].Abandoned {
		t.Fatalf("expected strategy %s marked abandoned in summary: %+v", entry.def.StrategyID, summary)
	}
}

// TestShutdownJoinsCleanlyWithoutAbandon confirms that when the wait group
// does complete before the grace deadline, no strategy is reported
// abandoned.
func TestShutdownJoinsCleanlyWithoutAbandon(t *testing.T) {
	cfg := testConfig()
	o, entry := newTestOrchestrator(cfg)
	close(entry.done)

	var wg sync.WaitGroup
	summary := o.shutdown(&wg)

	if summary.Abandoned != 0 {
		t.Fatalf("expected no abandoned strategies, got %d", summary.Abandoned)
	}
}

// TestShutdownClosesEventBus confirms the event bus publisher is always
// closed during shutdown, even for the no-op publisher used when no broker
// URL is configured.
func TestShutdownClosesEventBus(t *testing.T) {
	cfg := testConfig()
	o, entry := newTestOrchestrator(cfg)
	close(entry.done)

	closed := &closeTrackingPublisher{}
	o.bus = closed

	var wg sync.WaitGroup
	o.shutdown(&wg)

	if !closed.closed {
		t.Fatal("expected the event bus publisher to be closed during shutdown")
	}
}

type closeTrackingPublisher struct {
	closed bool
}

func (p *closeTrackingPublisher) Publish(eventbus.Event) {}
func (p *closeTrackingPublisher) Close()                 { p.closed = true }

// TestShutdownSkipsHealthStopWhenNeverStarted confirms that shutting down
// before Run ever reaches step 6 (e.g. a shutdown trigger fires during the
// market-open wait) does not hang: Reporter.Stop blocks on its done channel,
// which only ever closes once Run has actually been invoked.
func TestShutdownSkipsHealthStopWhenNeverStarted(t *testing.T) {
	cfg := testConfig()
	o, entry := newTestOrchestrator(cfg)
	close(entry.done)

	done := make(chan Summary, 1)
	go func() {
		var wg sync.WaitGroup
		done <- o.shutdown(&wg)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown hung calling Stop on a health reporter that never started")
	}
}

// TestRunAbortsBeforeOpenOnParentCancellation confirms that Run, asked to
// wait for a MARKET_OPEN still hours away, returns promptly via the
// shutdown path (rather than blocking for the full wait) when the parent
// context is already cancelled, and never starts the feed or any runner.
func TestRunAbortsBeforeOpenOnParentCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.MarketOpenMinute = 23 * 60 // hours away from the fake clock's noon
	o, entry := newTestOrchestrator(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan Summary, 1)
	go func() { done <- o.Run(ctx) }()

	select {
	case summary := <-done:
		if summary.Abandoned != 0 {
			t.Fatalf("expected no abandoned strategies when nothing was ever started, got %d", summary.Abandoned)
		}
		if entry.run.State().Phase != runner.Created {
			t.Fatalf("expected the runner to remain CREATED since it was never started, got %s", entry.run.State().Phase)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly on a pre-cancelled parent context")
	}
}
