// Package indicator provides the moving average primitives the built-in
// strategy templates trade on. Everything here is computed incrementally
// or over an in-memory window so strategies stay free of storage concerns.
package indicator

// SMA returns the simple moving average of the last period values, or 0
// when not enough values exist.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}

	return sum / float64(period)
}
