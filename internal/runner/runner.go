// Package runner implements the per-strategy lifecycle task: the state
// machine that drives a single strategy from CREATED through OPEN to one of
// its terminal phases, isolated from every other strategy.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"strategy-engine/internal/clock"
	"strategy-engine/internal/expr"
	"strategy-engine/internal/feed"
	"strategy-engine/internal/logging"
	"strategy-engine/internal/risk"
)

// Phase is a strategy's position in its lifecycle. Terminal phases are
// absorbing: once reached, no further transition occurs.
type Phase int

const (
	Created Phase = iota
	Open
	Closed
	ForceClosed
	Failed
)

func (p Phase) String() string {
	switch p {
	case Created:
		return "CREATED"
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	case ForceClosed:
		return "FORCE_CLOSED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ExitReason records why a strategy left the OPEN phase.
type ExitReason int

const (
	NoExitReason ExitReason = iota
	ExitCondition
	StopLoss
	TargetHit
	MarketClose
	RuntimeError
)

func (r ExitReason) String() string {
	switch r {
	case ExitCondition:
		return "EXIT_CONDITION"
	case StopLoss:
		return "STOP_LOSS"
	case TargetHit:
		return "TARGET_HIT"
	case MarketClose:
		return "MARKET_CLOSE"
	case RuntimeError:
		return "ERROR"
	default:
		return ""
	}
}

// State is the per-strategy record. Only the runner that owns it ever
// mutates it, guarded by Runner.stateMu; other goroutines (the health
// sampler, the orchestrator's final summary) only ever read a copy via
// Runner.State.
type State struct {
	StrategyID  string
	Instrument  string
	Quantity    int64
	Phase       Phase
	EntryPrice  decimal.Decimal
	EntryTime   time.Time
	LastPrice   decimal.Decimal
	ExitPrice   decimal.Decimal
	ExitTime    time.Time
	ExitReason  ExitReason
	RealizedPnL decimal.Decimal
	Abandoned   bool
}

// Definition is the immutable input a Runner is constructed from.
type Definition struct {
	StrategyID string
	Instrument string
	Quantity   int64
	MaxLoss    decimal.Decimal
	MaxProfit  decimal.Decimal
	Entry      expr.Node
	Exit       expr.Node
}

// Runner drives one strategy's lifecycle against its Subscription.
type Runner struct {
	def    Definition
	sub    *feed.Subscription
	clock  clock.Clock
	log    logging.Logger
	onExit func(State) // optional lifecycle-event sink, e.g. the event bus

	stateMu sync.RWMutex
	state   State
}

// New constructs a Runner in the CREATED phase.
func New(def Definition, sub *feed.Subscription, clk clock.Clock, log logging.Logger, onExit func(State)) *Runner {
	return &Runner{
		def:   def,
		sub:   sub,
		clock: clk,
		log:   log,
		onExit: onExit,
		state: State{
			StrategyID: def.StrategyID,
			Instrument: def.Instrument,
			Quantity:   def.Quantity,
			Phase:      Created,
		},
	}
}

// State returns a copy of the runner's current state. Safe to call at any
// time, including concurrently with Run — the health reporter samples it
// mid-flight, not just after termination.
func (r *Runner) State() State {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

// Run is the runner's main loop: wait for the next tick or cancellation,
// whichever comes first. Any panic during tick processing is recovered at
// this boundary and converted into a FAILED terminal state so one
// strategy's bug can never affect a sibling, the feed, or the orchestrator.
func (r *Runner) Run(ctx context.Context) {
	defer r.recoverPanic()
	r.log.StrategyStarted(r.def.StrategyID, r.def.Instrument)

	for {
		select {
		case <-ctx.Done():
			r.forceClose()
			return
		case tick, ok := <-r.sub.C:
			if !ok {
				r.forceClose()
				return
			}
			r.onTick(tick)
			if isTerminal(r.phase()) {
				r.emit()
				return
			}
		}
	}
}

func (r *Runner) phase() Phase {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state.Phase
}

func isTerminal(p Phase) bool {
	return p == Closed || p == ForceClosed || p == Failed
}

func (r *Runner) recoverPanic() {
	if rec := recover(); rec != nil {
		r.stateMu.Lock()
		r.state.Phase = Failed
		r.state.ExitReason = RuntimeError
		r.stateMu.Unlock()
		err := fmt.Errorf("panic: %v", rec)
		r.log.StrategyError(r.def.StrategyID, err)
		r.emit()
	}
}

// onTick processes a single tick according to the current phase. The
// runner completes this evaluation before any cancellation check, so a
// position is never left half-updated.
func (r *Runner) onTick(t feed.Tick) {
	env := expr.Env{Price: t.Price, Time: clock.MinutesSinceMidnight(t.Ts)}

	r.stateMu.Lock()
	phase := r.state.Phase
	r.stateMu.Unlock()

	switch phase {
	case Created:
		// Evaluated with the lock released: a predicate panic must unwind to
		// recoverPanic's own Lock call, not re-enter it while still held.
		if r.def.Entry.Eval(env) {
			r.stateMu.Lock()
			r.state.EntryPrice = t.Price
			r.state.EntryTime = t.Ts
			r.state.LastPrice = t.Price
			r.state.Phase = Open
			r.stateMu.Unlock()
			r.log.Entry(r.def.StrategyID, t.Price.String(), t.Ts)
		}
	case Open:
		r.stateMu.Lock()
		r.state.LastPrice = t.Price
		pos := risk.Position{
			EntryPrice: r.state.EntryPrice,
			Quantity:   r.def.Quantity,
			MaxLoss:    r.def.MaxLoss,
			MaxProfit:  r.def.MaxProfit,
		}
		r.stateMu.Unlock()

		// risk.Check and Exit.Eval run lock-free for the same reason the
		// Created case does: a panic here must reach recoverPanic's Lock
		// with stateMu free.
		switch risk.Check(pos, t.Price) {
		case risk.StopLoss:
			r.exit(t, StopLoss, Closed)
		case risk.TargetHit:
			r.exit(t, TargetHit, Closed)
		default:
			if r.def.Exit.Eval(env) {
				r.exit(t, ExitCondition, Closed)
			}
		}
	}
}

func (r *Runner) exit(t feed.Tick, reason ExitReason, phase Phase) {
	r.stateMu.Lock()
	r.state.ExitPrice = t.Price
	r.state.ExitTime = t.Ts
	r.state.ExitReason = reason
	r.state.RealizedPnL = t.Price.Sub(r.state.EntryPrice).Mul(decimal.NewFromInt(r.def.Quantity))
	r.state.Phase = phase
	pnl := r.state.RealizedPnL
	r.stateMu.Unlock()
	r.log.Exit(r.def.StrategyID, reason.String(), t.Price.String(), pnl.String(), t.Ts)
}

// forceClose handles both shutdown paths: CREATED strategies simply close
// with no position ever opened; OPEN strategies force-close at last_price.
func (r *Runner) forceClose() {
	r.stateMu.Lock()
	phase := r.state.Phase
	var logExit bool
	var exitPrice, pnl decimal.Decimal
	var exitTime time.Time
	switch phase {
	case Created:
		r.state.Phase = Closed
	case Open:
		r.state.ExitPrice = r.state.LastPrice
		r.state.ExitTime = r.clock.Now()
		r.state.ExitReason = MarketClose
		r.state.RealizedPnL = r.state.LastPrice.Sub(r.state.EntryPrice).Mul(decimal.NewFromInt(r.def.Quantity))
		r.state.Phase = ForceClosed
		logExit = true
		exitPrice, pnl, exitTime = r.state.ExitPrice, r.state.RealizedPnL, r.state.ExitTime
	default:
		// already terminal; nothing to do
	}
	r.stateMu.Unlock()

	if logExit {
		r.log.Exit(r.def.StrategyID, MarketClose.String(), exitPrice.String(), pnl.String(), exitTime)
	}
	r.emit()
}

func (r *Runner) emit() {
	if r.onExit != nil {
		r.onExit(r.State())
	}
}
