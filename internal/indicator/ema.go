package indicator

// EMA is an incremental exponential moving average. The first value seeds
// it directly.
type EMA struct {
	period int
	value  float64
	primed bool
}

// NewEMA creates an EMA over the given period.
func NewEMA(period int) *EMA {
	return &EMA{period: period}
}

// Update folds the next value in and returns the current average.
func (e *EMA) Update(v float64) float64 {
	if !e.primed {
		e.value = v
		e.primed = true

		return e.value
	}

	k := 2.0 / float64(e.period+1)
	e.value = v*k + e.value*(1-k)

	return e.value
}

// Value returns the current average without advancing it.
func (e *EMA) Value() float64 {
	return e.value
}

// Primed reports whether the average has seen at least one value.
func (e *EMA) Primed() bool {
	return e.primed
}
