// Package risk implements the pure stop-loss/target-hit check applied to
// every tick while a strategy is open.
package risk

import "github.com/shopspring/decimal"

// Result is the outcome of a risk check against a single tick.
type Result int

const (
	None Result = iota
	StopLoss
	TargetHit
)

func (r Result) String() string {
	switch r {
	case StopLoss:
		return "STOP_LOSS"
	case TargetHit:
		return "TARGET_HIT"
	default:
		return "NONE"
	}
}

// Position is the subset of strategy state the risk check needs.
type Position struct {
	EntryPrice decimal.Decimal
	Quantity   int64
	MaxLoss    decimal.Decimal
	MaxProfit  decimal.Decimal
}

// Check computes (tick.Price - pos.EntryPrice) * pos.Quantity and compares it
// against the position's loss/profit bounds. StopLoss is evaluated before
// TargetHit so a tick that straddles both thresholds is never misreported
// as a target hit.
func Check(pos Position, price decimal.Decimal) Result {
	pnl := price.Sub(pos.EntryPrice).Mul(decimal.NewFromInt(pos.Quantity))
	if pnl.LessThanOrEqual(pos.MaxLoss.Neg()) {
		return StopLoss
	}
	if pnl.GreaterThanOrEqual(pos.MaxProfit) {
		return TargetHit
	}
	return None
}
