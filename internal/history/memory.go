package history

import (
	"sort"
	"sync"

	"github.com/harborquant/cta-engine/internal/types"
)

type seriesKey struct {
	instrument string
	interval   types.Interval
}

// MemorySource keeps bars in memory. Used by tests and as the live bar
// cache fed from the market-data feed.
type MemorySource struct {
	mu     sync.RWMutex
	series map[seriesKey][]types.Bar
}

// NewMemorySource creates an empty in-memory bar source.
func NewMemorySource() *MemorySource {
	return &MemorySource{series: make(map[seriesKey][]types.Bar)}
}

// Add appends a finished bar to its series.
func (s *MemorySource) Add(bar types.Bar) {
	key := seriesKey{instrument: bar.Instrument, interval: bar.Interval}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[key] = append(s.series[key], bar)
}

// Bars implements BarSource.
func (s *MemorySource) Bars(instrument string, interval types.Interval, count int) ([]types.Bar, error) {
	key := seriesKey{instrument: instrument, interval: interval}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.series[key]
	if len(bars) == 0 {
		return nil, nil
	}

	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	if count > 0 && len(sorted) > count {
		sorted = sorted[len(sorted)-count:]
	}

	return sorted, nil
}

var _ BarSource = (*MemorySource)(nil)
