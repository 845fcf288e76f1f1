// Command engine runs the strategy execution engine: it loads strategy
// definitions, starts the simulated market feed, runs every strategy to
// completion or market close, and prints a final summary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"strategy-engine/internal/clock"
	"strategy-engine/internal/config"
	"strategy-engine/internal/logging"
	"strategy-engine/internal/orchestrator"
)

// Exit codes, per the engine's documented CLI contract.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitOrchestrator = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return exitConfigError
	}

	appLog := logging.Configure(cfg.LogLevel)

	log.Info().
		Str("strategies_file", cfg.StrategiesFile).
		Dur("tick_interval", cfg.TickInterval).
		Msg("loading strategies")

	orch, err := orchestrator.Build(cfg, clock.RealClock{}, appLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %s\n", err)
		return exitConfigError
	}

	if cfg.MonitorAddr != "" {
		log.Info().Str("addr", cfg.MonitorAddr).Msg("monitor dashboard enabled")
	}

	summary := orch.Run(context.Background())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.Error().Err(err).Msg("failed to encode summary")
	}

	if degraded, reason := orch.Degraded(); degraded {
		log.Error().Str("reason", reason).Msg("orchestrator shut down in a degraded state")
		return exitOrchestrator
	}
	return exitOK
}
