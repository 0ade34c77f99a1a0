package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborquant/cta-engine/internal/types"
)

func TestMACDCrossUpBuys(t *testing.T) {
	s := NewMACD().(*MACD)
	s.params = MACDParams{FastPeriod: 3, SlowPeriod: 6, SignalPeriod: 3, Volume: 1}

	ctx := &stubContext{}
	require.NoError(t, s.OnInit(ctx))
	require.NoError(t, s.OnStart(ctx))

	closes := make([]float64, 0, 30)
	for i := 0; i < 15; i++ {
		closes = append(closes, 100-float64(i))
	}
	for i := 0; i < 15; i++ {
		closes = append(closes, 86+2*float64(i))
	}
	feedBars(s, ctx, closes)

	require.NotEmpty(t, ctx.collected)
	first := ctx.collected[0]
	assert.Equal(t, types.DirectionLong, first.Direction)
	assert.Equal(t, types.OffsetOpen, first.Offset)

	assert.Equal(t, types.DirectionLong, ctx.vars.Direction)
	assert.True(t, ctx.vars.AllowOpenLong)
	assert.Contains(t, ctx.vars.Tip, "cross up")
}

func TestMACDCrossDownShortsAfterClosing(t *testing.T) {
	s := NewMACD().(*MACD)
	s.params = MACDParams{FastPeriod: 3, SlowPeriod: 6, SignalPeriod: 3, Volume: 2}

	ctx := &stubContext{position: types.Position{Volume: 1}}
	require.NoError(t, s.OnInit(ctx))
	require.NoError(t, s.OnStart(ctx))

	closes := make([]float64, 0, 30)
	for i := 0; i < 15; i++ {
		closes = append(closes, 100+float64(i))
	}
	for i := 0; i < 15; i++ {
		closes = append(closes, 114-2*float64(i))
	}
	feedBars(s, ctx, closes)

	require.NotEmpty(t, ctx.collected)
	assert.Equal(t, types.OffsetClose, ctx.collected[0].Offset)
	assert.Equal(t, types.DirectionShort, ctx.collected[0].Direction)
	require.True(t, len(ctx.collected) >= 2)
	assert.Equal(t, types.OffsetOpen, ctx.collected[1].Offset)
	assert.Equal(t, int64(2), ctx.collected[1].Volume)
	assert.Contains(t, ctx.vars.Tip, "cross down")
}

func TestMACDWarmupPlacesNoOrders(t *testing.T) {
	s := NewMACD().(*MACD)
	s.params = MACDParams{FastPeriod: 3, SlowPeriod: 6, SignalPeriod: 3, Volume: 1}

	ctx := &stubContext{}
	require.NoError(t, s.OnInit(ctx))
	require.NoError(t, s.OnStart(ctx))

	// Too few bars for the slow EMA to settle.
	feedBars(s, ctx, []float64{100, 99, 98, 97, 96, 95})

	assert.Empty(t, ctx.collected)
}

func TestRegistryLookup(t *testing.T) {
	factory, err := Lookup("double_ma")
	require.NoError(t, err)
	assert.Equal(t, "double_ma", factory().Name())

	_, err = Lookup("nope")
	require.Error(t, err)

	assert.Equal(t, []string{"double_ma", "macd"}, Builtins())
}

func TestParamsSchema(t *testing.T) {
	schema, err := ParamsSchema("macd")
	require.NoError(t, err)
	assert.Contains(t, schema, "fast_period")
	assert.Contains(t, schema, "signal_period")

	_, err = ParamsSchema("nope")
	require.Error(t, err)
}
