// Package health periodically samples orchestrator state and emits a
// structured status record, modeled on the teacher's ledger stats
// broadcaster loop.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"strategy-engine/internal/logging"
)

// Sample is the orchestrator state needed to build one health record.
type Sample struct {
	ActiveStrategies int // strategies currently in OPEN (a position is held)
	NonTerminal      int // strategies in CREATED or OPEN (not yet exited)
	TotalStrategies  int
	FeedActive       bool
	Prices           map[string]string
	DroppedTicks     int64
	AnyFailedSince   bool
}

// Sampler is supplied by the orchestrator; it returns a fresh Sample on
// every call, non-blocking.
type Sampler func() Sample

// Reporter emits a Sample via the structured logger at a fixed interval.
type Reporter struct {
	interval time.Duration
	sample   Sampler
	log      logging.Logger
	onReport func(Sample, string) // optional fan-out, e.g. the monitor hub

	failedSeen atomic.Bool
	stopOnce   sync.Once
	stop       chan struct{}
	done       chan struct{}
}

// New constructs a Reporter. onReport, if non-nil, receives every sample
// alongside the computed status string ("healthy" or "degraded").
func New(interval time.Duration, sample Sampler, log logging.Logger, onReport func(Sample, string)) *Reporter {
	return &Reporter{
		interval: interval,
		sample:   sample,
		log:      log,
		onReport: onReport,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// MarkFailed records that a runner transitioned to FAILED since the last
// report; the next report will be degraded on that basis alone.
func (r *Reporter) MarkFailed() { r.failedSeen.Store(true) }

// Run blocks, emitting a report on every tick until ctx is cancelled or
// Stop is called.
func (r *Reporter) Run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	s := r.sample()
	degraded := (!s.FeedActive && s.NonTerminal > 0) || r.failedSeen.Swap(false)
	status := "healthy"
	if degraded {
		status = "degraded"
	}
	r.log.Health(status, s.ActiveStrategies, s.TotalStrategies, s.FeedActive, s.DroppedTicks)
	if r.onReport != nil {
		r.onReport(s, status)
	}
}

// Stop halts the reporter and waits for Run to return. Idempotent.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
