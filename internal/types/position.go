package types

import "github.com/shopspring/decimal"

// Position is the authoritative net position for one
// (account, instrument, strategy) key. Volume is signed: positive long,
// negative short.
type Position struct {
	AccountID  string `yaml:"account_id" json:"account_id"`
	Instrument string `yaml:"instrument" json:"instrument"`
	StrategyID string `yaml:"strategy_id" json:"strategy_id"`
	Volume     int64  `yaml:"volume" json:"volume"`
	// AvgCost is the volume-weighted average entry price of the open
	// position. Zero when flat.
	AvgCost decimal.Decimal `yaml:"avg_cost" json:"avg_cost"`
}

// IsFlat reports whether the position is zero.
func (p Position) IsFlat() bool {
	return p.Volume == 0
}

// ApplyFill returns the position after a fill of signed volume delta at
// the given price. Increasing fills re-weight the average cost; reducing
// fills keep it; a fill through zero re-opens at the fill price.
func (p Position) ApplyFill(delta int64, price float64) Position {
	next := p
	prev := p.Volume
	next.Volume = prev + delta

	switch {
	case next.Volume == 0:
		next.AvgCost = decimal.Zero
	case prev == 0 || (prev > 0) != (next.Volume > 0):
		// Opened flat or flipped direction: cost basis restarts at the
		// fill price.
		next.AvgCost = decimal.NewFromFloat(price)
	case (delta > 0) == (prev > 0):
		// Same-direction increase: volume-weighted average.
		prevAbs := decimal.NewFromInt(abs64(prev))
		deltaAbs := decimal.NewFromInt(abs64(delta))
		total := prevAbs.Add(deltaAbs)
		next.AvgCost = p.AvgCost.Mul(prevAbs).
			Add(decimal.NewFromFloat(price).Mul(deltaAbs)).
			Div(total)
	default:
		// Partial close keeps the entry basis.
		next.AvgCost = p.AvgCost
	}

	return next
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}

	return v
}
