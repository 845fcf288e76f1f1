// Package orchestrator wires the feed, every strategy runner, the health
// reporter, and shutdown triggers together in the engine's fixed
// startup/shutdown sequencing, and owns the join barrier that makes it
// safe to read runner state afterward.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"strategy-engine/internal/clock"
	"strategy-engine/internal/config"
	"strategy-engine/internal/eventbus"
	"strategy-engine/internal/expr"
	"strategy-engine/internal/feed"
	"strategy-engine/internal/health"
	"strategy-engine/internal/logging"
	"strategy-engine/internal/monitor"
	"strategy-engine/internal/runner"
	"strategy-engine/internal/strategydef"
)

// StrategySummary is one line of the final shutdown report.
type StrategySummary struct {
	StrategyID  string
	Phase       string
	EntryPrice  string
	ExitPrice   string
	ExitReason  string
	RealizedPnL string
	Abandoned   bool
}

// Summary is the orchestrator's final report, built once during shutdown.
type Summary struct {
	Strategies     []StrategySummary
	ByPhase        map[string]int
	ByExitReason   map[string]int
	Abandoned      int
	Degraded       bool
	DegradedReason string
}

type runnerEntry struct {
	run  *runner.Runner
	def  strategydef.Definition
	done chan struct{}
}

// Orchestrator is the engine's top-level coordinator.
type Orchestrator struct {
	cfg    *config.Config
	clk    clock.Clock
	log    logging.Logger
	feed   *feed.Feed
	health *health.Reporter
	bus    eventbus.Publisher
	hub    *monitor.Hub

	entries []*runnerEntry

	ctx           context.Context
	cancel        context.CancelFunc
	shutdownOnce  sync.Once
	healthStarted bool

	failedMu       sync.Mutex
	failed         bool
	degraded       bool
	degradedReason string
}

// Failed reports whether any strategy terminated in the FAILED phase or the
// feed suffered an unrecoverable error during the most recent Run. Strategy
// failures are isolated and expected — callers deciding a process exit code
// should prefer Degraded for a true orchestrator-level failure.
func (o *Orchestrator) Failed() bool {
	o.failedMu.Lock()
	defer o.failedMu.Unlock()
	return o.failed
}

// Degraded reports whether the most recent Run ended via an unrecoverable
// feed error rather than a normal shutdown trigger.
func (o *Orchestrator) Degraded() (bool, string) {
	o.failedMu.Lock()
	defer o.failedMu.Unlock()
	return o.degraded, o.degradedReason
}

// Build performs startup steps 1-3: load and validate strategies, compile
// every predicate (failing fast on the first syntax error), create each
// strategy's subscription, and construct its runner. Nothing is started
// yet — see Run.
func Build(cfg *config.Config, clk clock.Clock, log logging.Logger) (*Orchestrator, error) {
	defs, err := strategydef.Load(cfg.StrategiesFile)
	if err != nil {
		return nil, err
	}

	f := feed.New(cfg.TickInterval, cfg.PriceVolatility, time.Now().UnixNano())
	bus := eventbus.New(cfg.EventBusURL, log)

	var hub *monitor.Hub
	if cfg.MonitorAddr != "" {
		hub = monitor.NewHub(cfg.MonitorClientBuffer)
	}

	o := &Orchestrator{
		cfg:  cfg,
		clk:  clk,
		log:  log,
		feed: f,
		bus:  bus,
		hub:  hub,
	}

	for _, d := range defs {
		entryNode, err := o.compile(d.StrategyID, "entry_condition", d.EntryCondition)
		if err != nil {
			return nil, err
		}
		exitNode, err := o.compile(d.StrategyID, "exit_condition", d.ExitCondition)
		if err != nil {
			return nil, err
		}

		seed, ok := expr.PriceSeedHint(entryNode)
		if !ok {
			seed = decimal.NewFromInt(100)
		}
		sub := f.Subscribe(d.Instrument, seed, cfg.SubscriptionCapacity)

		rdef := runner.Definition{
			StrategyID: d.StrategyID,
			Instrument: d.Instrument,
			Quantity:   d.Quantity,
			MaxLoss:    d.MaxLoss,
			MaxProfit:  d.MaxProfit,
			Entry:      entryNode,
			Exit:       exitNode,
		}
		re := &runnerEntry{def: d, done: make(chan struct{})}
		re.run = runner.New(rdef, sub, clk, log, o.onRunnerExit)
		o.entries = append(o.entries, re)
	}

	o.health = health.New(cfg.HealthInterval, o.sampleHealth, log, o.publishHealthToHub)
	return o, nil
}

func (o *Orchestrator) compile(strategyID, field, src string) (expr.Node, error) {
	node, warnings, err := expr.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %s: %w", strategyID, field, err)
	}
	for _, w := range warnings {
		o.log.Warn("predicate warning", map[string]string{"strategy_id": strategyID, "field": field, "detail": w})
	}
	return node, nil
}

func (o *Orchestrator) onRunnerExit(st runner.State) {
	if st.Phase == runner.Failed {
		o.failedMu.Lock()
		o.failed = true
		o.failedMu.Unlock()
		o.health.MarkFailed()
	}
	ts := st.ExitTime
	if ts.IsZero() {
		ts = o.clk.Now()
	}
	evType := "exit"
	if st.Phase == runner.Failed {
		evType = "error"
	}
	o.bus.Publish(eventbus.Event{
		Type:       evType,
		StrategyID: st.StrategyID,
		Ts:         ts.Unix(),
		Reason:     st.ExitReason.String(),
		Price:      st.ExitPrice.String(),
	})
}

// Run waits for MARKET_OPEN (if it hasn't already passed today), then
// executes startup steps 4-7, blocks until a shutdown trigger fires, runs
// the shutdown sequence, and returns the final summary.
func (o *Orchestrator) Run(parent context.Context) Summary {
	o.ctx, o.cancel = context.WithCancel(parent)

	// Step 7 (partial): install shutdown triggers before the market-open
	// wait too, so a signal or parent cancellation during that wait is
	// still honored rather than blocking startup indefinitely.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var wg sync.WaitGroup
	if abortedBeforeOpen := o.waitForMarketOpen(parent, sigCh); abortedBeforeOpen {
		return o.shutdown(&wg)
	}

	// Step 4: start the feed.
	o.feed.Start(o.ctx)

	// Step 5: start all runners.
	for _, e := range o.entries {
		wg.Add(1)
		go func(e *runnerEntry) {
			defer wg.Done()
			defer close(e.done)
			e.run.Run(o.ctx)
		}(e)
	}

	// Step 6: start the health reporter.
	o.healthStarted = true
	go o.health.Run(o.ctx)

	// Optional monitor dashboard.
	if o.hub != nil {
		go o.hub.Run()
		go o.serveMonitor()
	}

	marketCloseCh := o.marketCloseTimer()

	select {
	case sig := <-sigCh:
		o.triggerShutdown(fmt.Sprintf("signal:%s", sig))
	case <-marketCloseCh:
		o.triggerShutdown("market_close")
	case <-parent.Done():
		o.triggerShutdown("parent_context")
	case err := <-o.feed.Errors():
		o.failedMu.Lock()
		o.failed = true
		o.degraded = true
		o.degradedReason = err.Error()
		o.failedMu.Unlock()
		o.log.StrategyError("feed", err)
		o.triggerShutdown(fmt.Sprintf("feed_error: %s", err))
	}

	// A second signal during the grace window forces immediate exit.
	go func() {
		<-sigCh
		os.Exit(0)
	}()

	return o.shutdown(&wg)
}

// marketCloseTimer fires once, at the next occurrence of MARKET_CLOSE
// local time — comparison is on the full wall-clock instant so a session
// that straddles local midnight still behaves correctly.
func (o *Orchestrator) marketCloseTimer() <-chan time.Time {
	d := delayUntilMinuteOfDay(o.clk.Now(), o.cfg.MarketCloseMinute, true)
	if d <= 0 {
		d = time.Millisecond
	}
	return time.After(d)
}

// waitForMarketOpen blocks until MARKET_OPEN local time, unless that time has
// already passed today (in which case it returns immediately, since the
// engine is starting mid-session). It returns true if a shutdown trigger
// fired during the wait, in which case Run should skip straight to shutdown
// without ever starting the feed or any runner.
func (o *Orchestrator) waitForMarketOpen(parent context.Context, sigCh <-chan os.Signal) bool {
	d := marketOpenDelay(o.clk.Now(), o.cfg.MarketOpenMinute)
	if d <= 0 {
		return false
	}
	o.log.Infof("waiting for market open", map[string]string{"wait": d.String()})
	select {
	case <-time.After(d):
		return false
	case sig := <-sigCh:
		o.triggerShutdown(fmt.Sprintf("signal:%s", sig))
		return true
	case <-parent.Done():
		o.triggerShutdown("parent_context")
		return true
	}
}

// marketOpenDelay returns how long to wait, from now, until openMinute
// (minutes since local midnight). Unlike the market-close wait, this never
// wraps to tomorrow: if openMinute has already passed today the market is
// already open, so the engine proceeds immediately with a zero delay.
func marketOpenDelay(now time.Time, openMinute int) time.Duration {
	return delayUntilMinuteOfDay(now, openMinute, false)
}

// delayUntilMinuteOfDay computes the duration from now until the next
// occurrence of targetMinute (minutes since local midnight). If that minute
// has already passed today, wrapToTomorrow controls whether the result
// wraps to the same time tomorrow (market close, a recurring trigger) or
// clamps to zero (market open, a one-time startup gate).
func delayUntilMinuteOfDay(now time.Time, targetMinute int, wrapToTomorrow bool) time.Duration {
	nowMin := clock.MinutesSinceMidnight(now)
	deltaMin := targetMinute - nowMin
	if deltaMin <= 0 {
		if !wrapToTomorrow {
			return 0
		}
		deltaMin += 24 * 60
	}
	target := now.Add(time.Duration(deltaMin) * time.Minute).Truncate(time.Minute)
	d := target.Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// triggerShutdown broadcasts cancellation to every runner and the feed
// (shutdown step 1). It is idempotent — a second trigger is a no-op.
func (o *Orchestrator) triggerShutdown(reason string) {
	o.shutdownOnce.Do(func() {
		o.log.ShutdownBegin(reason)
		o.cancel()
	})
}

// shutdown executes steps 2-5 of the shutdown sequence and returns the
// final summary.
func (o *Orchestrator) shutdown(wg *sync.WaitGroup) Summary {
	// Step 2: wait for runners with a bounded deadline.
	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()

	abandoned := make(map[string]bool)
	select {
	case <-joined:
	case <-time.After(o.cfg.ShutdownGrace):
		for _, e := range o.entries {
			select {
			case <-e.done:
			default:
				abandoned[e.def.StrategyID] = true
			}
		}
	}

	// Step 3: stop the feed (already cancelled; this joins its goroutines).
	o.feed.Stop()

	// Step 4: stop the health reporter, if it was ever started (Run may
	// short-circuit here before market open without starting it), and
	// close the event bus publisher so an open AMQP connection doesn't leak.
	if o.healthStarted {
		o.health.Stop()
	}
	o.bus.Close()

	// Step 5: build and emit the final summary.
	summary := o.buildSummary(abandoned)
	o.log.ShutdownEnd(summary.Abandoned)
	return summary
}

func (o *Orchestrator) buildSummary(abandoned map[string]bool) Summary {
	degraded, reason := o.Degraded()
	summary := Summary{
		ByPhase:        make(map[string]int),
		ByExitReason:   make(map[string]int),
		Degraded:       degraded,
		DegradedReason: reason,
	}
	for _, e := range o.entries {
		st := e.run.State()
		isAbandoned := abandoned[e.def.StrategyID]
		row := StrategySummary{
			StrategyID:  st.StrategyID,
			Phase:       st.Phase.String(),
			EntryPrice:  decimalOrEmpty(st.EntryPrice),
			ExitPrice:   decimalOrEmpty(st.ExitPrice),
			ExitReason:  st.ExitReason.String(),
			RealizedPnL: decimalOrEmpty(st.RealizedPnL),
			Abandoned:   isAbandoned,
		}
		summary.Strategies = append(summary.Strategies, row)
		summary.ByPhase[row.Phase]++
		if row.ExitReason != "" {
			summary.ByExitReason[row.ExitReason]++
		}
		if isAbandoned {
			summary.Abandoned++
		}
	}
	return summary
}

func decimalOrEmpty(d decimal.Decimal) string {
	if d.IsZero() {
		return "0"
	}
	return d.String()
}

// sampleHealth builds a health.Sample from current feed/runner state.
func (o *Orchestrator) sampleHealth() health.Sample {
	snap := o.feed.Snapshot()
	prices := make(map[string]string, len(snap.Prices))
	for k, v := range snap.Prices {
		prices[k] = v.String()
	}

	active := 0
	nonTerminal := 0
	for _, e := range o.entries {
		switch e.run.State().Phase {
		case runner.Open:
			active++
			nonTerminal++
		case runner.Created:
			nonTerminal++
		}
	}

	return health.Sample{
		ActiveStrategies: active,
		NonTerminal:      nonTerminal,
		TotalStrategies:  len(o.entries),
		FeedActive:       snap.Active,
		Prices:           prices,
		DroppedTicks:     o.feed.DroppedTotal(),
	}
}

func (o *Orchestrator) publishHealthToHub(s health.Sample, status string) {
	if o.hub == nil {
		return
	}
	body, err := json.Marshal(map[string]any{
		"event":               "health",
		"status":              status,
		"active_strategies":   s.ActiveStrategies,
		"total_strategies":    s.TotalStrategies,
		"market_feed_active":  s.FeedActive,
		"prices":              s.Prices,
		"dropped_ticks_total": s.DroppedTicks,
	})
	if err != nil {
		return
	}
	o.hub.Broadcast(body)
}

func (o *Orchestrator) serveMonitor() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", o.hub.ServeWs)
	srv := &http.Server{Addr: o.cfg.MonitorAddr, Handler: mux}

	go func() {
		<-o.ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		o.log.Infof("monitor dashboard stopped", map[string]string{"error": err.Error()})
	}
}
