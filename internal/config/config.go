// Package config loads and validates the engine's environment-variable
// configuration, with documented defaults for everything optional.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Error reports an invalid or unreadable configuration value. Load returns
// it rather than calling log.Fatal so main controls the process exit code.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config holds every tunable read from the environment.
type Config struct {
	MarketOpenMinute     int // minutes since local midnight
	MarketCloseMinute    int
	TickInterval         time.Duration
	PriceVolatility      float64
	StrategiesFile       string
	LogLevel             string
	HealthInterval       time.Duration
	SubscriptionCapacity int
	ShutdownGrace        time.Duration

	EventBusURL         string // optional; empty disables the lifecycle event bus
	MonitorAddr         string // optional; empty disables the monitor dashboard
	MonitorClientBuffer int
}

// Load reads .env (if present; a missing or unreadable file is ignored
// without a warning) then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// absence of a .env file is normal outside development
	}

	marketOpenMin, err := getEnvAsTimeOfDay("MARKET_OPEN", 9*60+30)
	if err != nil {
		return nil, err
	}
	marketCloseMin, err := getEnvAsTimeOfDay("MARKET_CLOSE", 16*60)
	if err != nil {
		return nil, err
	}
	tickInterval, err := getEnvAsSeconds("TICK_INTERVAL", 1.0)
	if err != nil {
		return nil, err
	}
	volatility, err := getEnvAsFloat("PRICE_VOLATILITY", 0.002)
	if err != nil {
		return nil, err
	}
	healthInterval, err := getEnvAsSeconds("HEALTH_INTERVAL", 30.0)
	if err != nil {
		return nil, err
	}
	shutdownGrace, err := getEnvAsSeconds("SHUTDOWN_GRACE", 5.0)
	if err != nil {
		return nil, err
	}
	capacity, err := getEnvAsInt("SUBSCRIPTION_CAPACITY", 64)
	if err != nil {
		return nil, err
	}

	strategiesFile := getEnv("STRATEGIES_FILE", "strategies.json")
	if strategiesFile == "" {
		return nil, &Error{Field: "STRATEGIES_FILE", Reason: "must not be empty"}
	}

	logLevel := getEnv("LOG_LEVEL", "INFO")
	if !validLogLevel(logLevel) {
		return nil, &Error{Field: "LOG_LEVEL", Reason: fmt.Sprintf("must be one of DEBUG, INFO, WARN, ERROR, got %q", logLevel)}
	}

	monitorBuf, err := getEnvAsInt("MONITOR_CLIENT_BUFFER", 16)
	if err != nil {
		return nil, err
	}

	return &Config{
		MarketOpenMinute:     marketOpenMin,
		MarketCloseMinute:    marketCloseMin,
		TickInterval:         tickInterval,
		PriceVolatility:      volatility,
		StrategiesFile:       strategiesFile,
		LogLevel:             logLevel,
		HealthInterval:       healthInterval,
		SubscriptionCapacity: capacity,
		ShutdownGrace:        shutdownGrace,
		EventBusURL:          getEnv("EVENTBUS_URL", ""),
		MonitorAddr:          getEnv("MONITOR_ADDR", ""),
		MonitorClientBuffer:  monitorBuf,
	}, nil
}

func validLogLevel(s string) bool {
	switch s {
	case "DEBUG", "INFO", "WARN", "ERROR":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	val, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, &Error{Field: key, Reason: fmt.Sprintf("invalid integer %q", valueStr)}
	}
	return val, nil
}

func getEnvAsFloat(key string, fallback float64) (float64, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	val, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, &Error{Field: key, Reason: fmt.Sprintf("invalid decimal %q", valueStr)}
	}
	return val, nil
}

func getEnvAsSeconds(key string, fallbackSeconds float64) (time.Duration, error) {
	seconds, err := getEnvAsFloat(key, fallbackSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// getEnvAsTimeOfDay parses an "HH:MM" env var into minutes since midnight.
func getEnvAsTimeOfDay(key string, fallbackMinutes int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallbackMinutes, nil
	}
	var h, m int
	if _, err := fmt.Sscanf(valueStr, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, &Error{Field: key, Reason: fmt.Sprintf("invalid HH:MM time %q", valueStr)}
	}
	return h*60 + m, nil
}
