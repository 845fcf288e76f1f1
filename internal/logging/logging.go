// Package logging configures the engine's structured, newline-delimited
// event log and provides one helper per minimum event type so call sites
// can't typo a field name.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure sets the global zerolog logger's level and output, returning a
// Logger wired to emit the engine's event vocabulary.
func Configure(levelName string) Logger {
	level, err := zerolog.ParseLevel(levelNameToZerolog(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Logger = logger
	return Logger{l: logger}
}

func levelNameToZerolog(name string) string {
	switch name {
	case "DEBUG":
		return "debug"
	case "WARN":
		return "warn"
	case "ERROR":
		return "error"
	default:
		return "info"
	}
}

// Logger wraps a zerolog.Logger with the engine's fixed event vocabulary.
type Logger struct {
	l zerolog.Logger
}

// StrategyStarted logs strategy_started.
func (lg Logger) StrategyStarted(strategyID, instrument string) {
	lg.l.Info().Str("event", "strategy_started").Str("strategy_id", strategyID).Str("instrument", instrument).Msg("strategy started")
}

// Entry logs entry.
func (lg Logger) Entry(strategyID string, price string, ts time.Time) {
	lg.l.Info().Str("event", "entry").Str("strategy_id", strategyID).Str("price", price).Time("ts", ts).Msg("position entered")
}

// Exit logs exit with its reason.
func (lg Logger) Exit(strategyID, reason string, price string, pnl string, ts time.Time) {
	lg.l.Info().Str("event", "exit").Str("strategy_id", strategyID).Str("reason", reason).
		Str("price", price).Str("realized_pnl", pnl).Time("ts", ts).Msg("position exited")
}

// StrategyError logs error with strategy_id and message.
func (lg Logger) StrategyError(strategyID string, err error) {
	lg.l.Error().Str("event", "error").Str("strategy_id", strategyID).Err(err).Msg("strategy runtime error")
}

// Health logs a periodic health snapshot.
func (lg Logger) Health(status string, active, total int, feedActive bool, droppedTicks int64) {
	lg.l.Info().Str("event", "health").Str("status", status).
		Int("active_strategies", active).Int("total_strategies", total).
		Bool("market_feed_active", feedActive).Int64("dropped_ticks_total", droppedTicks).
		Msg("health report")
}

// ShutdownBegin logs shutdown_begin.
func (lg Logger) ShutdownBegin(reason string) {
	lg.l.Info().Str("event", "shutdown_begin").Str("reason", reason).Msg("shutdown initiated")
}

// ShutdownEnd logs shutdown_end.
func (lg Logger) ShutdownEnd(abandoned int) {
	lg.l.Info().Str("event", "shutdown_end").Int("abandoned", abandoned).Msg("shutdown complete")
}

// Warn logs an arbitrary non-fatal warning (e.g. predicate advisories).
func (lg Logger) Warn(msg string, fields map[string]string) {
	ev := lg.l.Warn()
	for k, v := range fields {
		ev = ev.Str(k, v)
	}
	ev.Msg(msg)
}

// Infof logs a free-form informational message, used by ambient components
// (event bus, market-open wait, monitor dashboard) that don't carry one of
// the fixed event types.
func (lg Logger) Infof(msg string, fields map[string]string) {
	ev := lg.l.Info()
	for k, v := range fields {
		ev = ev.Str(k, v)
	}
	ev.Msg(msg)
}
