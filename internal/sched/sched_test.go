package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborquant/cta-engine/internal/logger"
)

func TestNextRun(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	next := nextRun(now, 15, 30)
	assert.Equal(t, time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC), next)

	// Already past today: tomorrow.
	next = nextRun(now, 9, 0)
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), next)

	// Exactly now: strictly after, so tomorrow.
	next = nextRun(now, 14, 0)
	assert.Equal(t, time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC), next)
}

func TestDailyRejectsBadTimes(t *testing.T) {
	s := New(logger.NewNopLogger())

	require.Error(t, s.Daily("x", "nope", func() {}))
	require.Error(t, s.Daily("x", "25:00", func() {}))
	require.Error(t, s.Daily("x", "12:75", func() {}))
	require.NoError(t, s.Daily("x", "15:30", func() {}))
}

func TestSchedulerFires(t *testing.T) {
	s := New(logger.NewNopLogger())

	// Pin "now" just before the trigger time so the task fires almost
	// immediately.
	base := time.Date(2026, 3, 2, 15, 29, 59, 900*int(time.Millisecond), time.Local)
	start := time.Now()
	s.now = func() time.Time { return base.Add(time.Since(start)) }

	var fired atomic.Int32
	require.NoError(t, s.Daily("check", "15:30", func() { fired.Add(1) }))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return fired.Load() >= 1 },
		2*time.Second, 10*time.Millisecond)
}
