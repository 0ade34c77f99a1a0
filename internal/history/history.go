// Package history serves historical bars for strategy warm-up. A strategy
// moving from Initialized to Running first replays recent bars so its
// indicators carry real values before the first live tick.
package history

import (
	"github.com/harborquant/cta-engine/internal/types"
)

// BarSource returns up to count most recent finished bars for the
// instrument at the given interval, oldest first.
type BarSource interface {
	Bars(instrument string, interval types.Interval, count int) ([]types.Bar, error)
}
