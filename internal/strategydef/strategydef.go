// Package strategydef loads and validates the strategy definition file: a
// JSON array of strategy objects, strictly schema-checked so a typo in a
// field name or a missing required field fails the whole process at startup
// rather than silently dropping a strategy.
package strategydef

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
)

// Definition is one immutable strategy definition as read from the file.
// EntryCondition/ExitCondition are kept as raw DSL source here; the
// orchestrator compiles them with the expr package at startup so a syntax
// error fails fast with the offending strategy_id attached.
type Definition struct {
	StrategyID     string
	Instrument     string
	EntryCondition string
	ExitCondition  string
	Quantity       int64
	MaxLoss        decimal.Decimal
	MaxProfit      decimal.Decimal
}

// wireDefinition mirrors the on-disk JSON shape exactly; unknown fields are
// rejected by the decoder before this is ever populated.
type wireDefinition struct {
	StrategyID     string          `json:"strategy_id"`
	Instrument     string          `json:"instrument"`
	EntryCondition string          `json:"entry_condition"`
	ExitCondition  string          `json:"exit_condition"`
	Quantity       int64           `json:"quantity"`
	MaxLoss        decimal.Decimal `json:"max_loss"`
	MaxProfit      decimal.Decimal `json:"max_profit"`
}

// ValidationError reports a schema or value-range problem in the strategy
// file, identified by the offending element's index (and strategy_id, once
// known) so an operator can locate it without a line number.
type ValidationError struct {
	Index      int
	StrategyID string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.StrategyID != "" {
		return fmt.Sprintf("strategy %q (index %d): %s", e.StrategyID, e.Index, e.Reason)
	}
	return fmt.Sprintf("strategy at index %d: %s", e.Index, e.Reason)
}

// Load reads and validates the strategy file at path.
func Load(path string) ([]Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening strategy file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a strategy file from r. Exported separately
// from Load so tests can feed in-memory fixtures.
func Parse(r io.Reader) ([]Definition, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var wire []wireDefinition
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("decoding strategy file: %w", err)
	}
	if err := dec.Decode(new(any)); err != io.EOF {
		return nil, fmt.Errorf("strategy file contains trailing data after the array")
	}

	seen := make(map[string]bool, len(wire))
	defs := make([]Definition, 0, len(wire))
	for i, w := range wire {
		if err := validate(i, w, seen); err != nil {
			return nil, err
		}
		seen[w.StrategyID] = true
		defs = append(defs, Definition{
			StrategyID:     w.StrategyID,
			Instrument:     w.Instrument,
			EntryCondition: w.EntryCondition,
			ExitCondition:  w.ExitCondition,
			Quantity:       w.Quantity,
			MaxLoss:        w.MaxLoss,
			MaxProfit:      w.MaxProfit,
		})
	}
	return defs, nil
}

func validate(index int, w wireDefinition, seen map[string]bool) error {
	fail := func(format string, args ...any) error {
		return &ValidationError{Index: index, StrategyID: w.StrategyID, Reason: fmt.Sprintf(format, args...)}
	}
	if w.StrategyID == "" {
		return fail("strategy_id is required")
	}
	if seen[w.StrategyID] {
		return fail("duplicate strategy_id")
	}
	if w.Instrument == "" {
		return fail("instrument is required")
	}
	if w.EntryCondition == "" {
		return fail("entry_condition is required")
	}
	if w.ExitCondition == "" {
		return fail("exit_condition is required")
	}
	if w.Quantity <= 0 {
		return fail("quantity must be a positive integer, got %d", w.Quantity)
	}
	if !w.MaxLoss.IsPositive() {
		return fail("max_loss must be positive, got %s", w.MaxLoss)
	}
	if !w.MaxProfit.IsPositive() {
		return fail("max_profit must be positive, got %s", w.MaxProfit)
	}
	return nil
}
