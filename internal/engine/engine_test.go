package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborquant/cta-engine/internal/event"
	"github.com/harborquant/cta-engine/internal/gateway"
	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/rollover"
	"github.com/harborquant/cta-engine/internal/router"
	"github.com/harborquant/cta-engine/internal/strategy"
	"github.com/harborquant/cta-engine/internal/types"
)

func testConfig() *Config {
	return &Config{
		Accounts: []AccountConfig{{
			ID:   "acct-a",
			Role: types.RolePrimary,
			Risk: RiskConfig{MaxVolume: 100},
		}},
		Instances: []InstanceEntry{{
			InstanceConfig: strategy.InstanceConfig{
				ID:         "dm-rb",
				Strategy:   "double_ma",
				AccountID:  "acct-a",
				Instrument: "rb2505.SHFE",
				Interval:   types.IntervalMinute,
				Params: map[string]any{
					"fast_period": 2,
					"slow_period": 4,
					"volume":      1,
				},
			},
			AutoStart: true,
		}},
	}
}

func rbContracts() []types.Contract {
	return []types.Contract{
		{
			Instrument: "rb2505.SHFE", Commodity: "RB", Exchange: types.ExchangeSHFE,
			Name: "rebar 2505", Multiplier: 10, PriceTick: 1,
			ExpiryYear: 2025, ExpiryMonth: 5,
		},
		{
			Instrument: "rb2510.SHFE", Commodity: "RB", Exchange: types.ExchangeSHFE,
			Name: "rebar 2510", Multiplier: 10, PriceTick: 1,
			ExpiryYear: 2025, ExpiryMonth: 10,
		},
	}
}

func newTestEngine(t *testing.T, cfg *Config) (*Engine, *gateway.SimGateway) {
	t.Helper()

	var gw *gateway.SimGateway
	e, err := New(cfg, func(bus *event.Bus, log *logger.Logger) gateway.Gateway {
		gw = gateway.NewSimGateway(bus, log)
		gw.SetContracts(rbContracts())

		return gw
	}, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(e.Stop)

	return e, gw
}

func pushBar(gw *gateway.SimGateway, bus *event.Bus, instrument string, close float64) {
	gw.PushBar(types.Bar{
		Instrument: instrument,
		Interval:   types.IntervalMinute,
		Time:       time.Now(),
		Open:       close, High: close, Low: close, Close: close,
		Volume: 100,
	})
	bus.Flush()
}

func TestEngineStartBringsInstancesUp(t *testing.T) {
	e, gw := newTestEngine(t, testConfig())

	require.NoError(t, e.Start())

	status, err := e.Runtime().Status("dm-rb")
	require.NoError(t, err)
	assert.Equal(t, strategy.StatusRunning, status)
	assert.True(t, gw.Subscribed("rb2505.SHFE"))
}

func TestEngineSubscribesCommoditySiblings(t *testing.T) {
	e, gw := newTestEngine(t, testConfig())
	require.NoError(t, e.Start())

	// Only rb2505 is traded, but main-contract detection needs open
	// interest from the whole RB curve.
	assert.True(t, gw.Subscribed("rb2505.SHFE"))
	assert.True(t, gw.Subscribed("rb2510.SHFE"))

	gw.PushTick(types.Tick{Instrument: "rb2505.SHFE", Time: time.Now(), LastPrice: 3010, OpenInterest: 1000})
	gw.PushTick(types.Tick{Instrument: "rb2510.SHFE", Time: time.Now(), LastPrice: 3050, OpenInterest: 5000})
	e.Bus().Flush()

	e.DailyCheck()
	e.Bus().Flush()

	instrument, err := e.Runtime().InstrumentOf("dm-rb")
	require.NoError(t, err)
	assert.Equal(t, "rb2510.SHFE", instrument)
}

func TestEngineTradesEndToEnd(t *testing.T) {
	e, gw := newTestEngine(t, testConfig())
	require.NoError(t, e.Start())

	// Decline then rally: the fast MA crosses over and the instance
	// opens long.
	for _, close := range []float64{110, 108, 106, 104, 102, 100, 120, 140} {
		pushBar(gw, e.Bus(), "rb2505.SHFE", close)
	}

	active := e.Tracker().ActiveOrders("acct-a")
	require.Len(t, active, 1)
	assert.Equal(t, types.DirectionLong, active[0].Direction)
	assert.Equal(t, types.OffsetOpen, active[0].Offset)

	gw.Fill(active[0].OrderID, active[0].Price)
	e.Bus().Flush()

	pos := e.Tracker().Position("acct-a", "rb2505.SHFE", "dm-rb")
	assert.Equal(t, int64(1), pos.Volume)
}

func TestEngineFailedPrimaryLoginAborts(t *testing.T) {
	cfg := testConfig()

	var gw *gateway.SimGateway
	e, err := New(cfg, func(bus *event.Bus, log *logger.Logger) gateway.Gateway {
		gw = gateway.NewSimGateway(bus, log)
		gw.RejectLogin("acct-a", "bad credentials")

		return gw
	}, logger.NewNopLogger())
	require.NoError(t, err)
	defer e.Stop()

	require.Error(t, e.Start())
}

func TestEngineRolloverSwitchesMainContract(t *testing.T) {
	e, gw := newTestEngine(t, testConfig())
	require.NoError(t, e.Start())

	// Open interest migrated to the next contract month.
	gw.PushTick(types.Tick{Instrument: "rb2505.SHFE", Time: time.Now(), LastPrice: 3010, OpenInterest: 1000})
	gw.PushTick(types.Tick{Instrument: "rb2510.SHFE", Time: time.Now(), LastPrice: 3050, OpenInterest: 5000})
	e.Bus().Flush()

	e.DailyCheck()
	e.Bus().Flush()

	assert.Equal(t, rollover.PhaseStable, e.Rollover().Phase("RB"))

	instrument, err := e.Runtime().InstrumentOf("dm-rb")
	require.NoError(t, err)
	assert.Equal(t, "rb2510.SHFE", instrument)
	assert.True(t, gw.Subscribed("rb2510.SHFE"))

	status, err := e.Runtime().Status("dm-rb")
	require.NoError(t, err)
	assert.Equal(t, strategy.StatusRunning, status)
}

func TestEngineRolloverBlocksOpensUntilFlat(t *testing.T) {
	e, gw := newTestEngine(t, testConfig())
	require.NoError(t, e.Start())

	// Build a long position on the old contract.
	for _, close := range []float64{110, 108, 106, 104, 102, 100, 120, 140} {
		pushBar(gw, e.Bus(), "rb2505.SHFE", close)
	}
	active := e.Tracker().ActiveOrders("acct-a")
	require.Len(t, active, 1)
	gw.Fill(active[0].OrderID, active[0].Price)
	e.Bus().Flush()

	gw.PushTick(types.Tick{Instrument: "rb2505.SHFE", Time: time.Now(), LastPrice: 140, OpenInterest: 1000})
	gw.PushTick(types.Tick{Instrument: "rb2510.SHFE", Time: time.Now(), LastPrice: 150, OpenInterest: 5000})
	e.Bus().Flush()

	e.DailyCheck()
	e.Bus().Flush()

	// Position still open on the old contract: rollover holds.
	assert.Equal(t, rollover.PhasePending, e.Rollover().Phase("RB"))
	assert.True(t, e.Rollover().Blocked("rb2505.SHFE"))

	// A dead cross closes the long; the closing fill completes the
	// switch even though the open leg is blocked.
	for _, close := range []float64{150, 140, 100, 60} {
		pushBar(gw, e.Bus(), "rb2505.SHFE", close)
	}

	for _, order := range e.Tracker().ActiveOrders("acct-a") {
		gw.Fill(order.OrderID, order.Price)
	}
	e.Bus().Flush()

	assert.Equal(t, rollover.PhaseStable, e.Rollover().Phase("RB"))
	assert.Equal(t, int64(0), e.Tracker().AggregatePosition("acct-a", "rb2505.SHFE"))

	instrument, err := e.Runtime().InstrumentOf("dm-rb")
	require.NoError(t, err)
	assert.Equal(t, "rb2510.SHFE", instrument)
}

func TestEngineAssistedModeHoldsOrders(t *testing.T) {
	cfg := testConfig()
	cfg.Instances[0].Mode = string(router.ModeAssisted)

	e, gw := newTestEngine(t, cfg)
	require.NoError(t, e.Start())

	for _, close := range []float64{110, 108, 106, 104, 102, 100, 120, 140} {
		pushBar(gw, e.Bus(), "rb2505.SHFE", close)
	}

	assert.Empty(t, e.Tracker().ActiveOrders("acct-a"))

	proposals := e.Router().Proposals("dm-rb")
	require.Len(t, proposals, 1)

	require.NoError(t, e.Router().Confirm(proposals[0].Request.ID))
	e.Bus().Flush()
	assert.Len(t, e.Tracker().ActiveOrders("acct-a"), 1)
}

func TestEngineDisablesOnlyTheBrokenInstance(t *testing.T) {
	cfg := testConfig()
	cfg.Instances = append(cfg.Instances, InstanceEntry{
		InstanceConfig: strategy.InstanceConfig{
			ID:         "dm-bad",
			Strategy:   "double_ma",
			AccountID:  "acct-a",
			Instrument: "rb2505.SHFE",
			Interval:   types.IntervalMinute,
			Params: map[string]any{
				// slow must exceed fast; this instance is rejected.
				"fast_period": 10,
				"slow_period": 5,
				"volume":      1,
			},
		},
		AutoStart: true,
	})

	e, _ := newTestEngine(t, cfg)
	require.NoError(t, e.Start())

	status, err := e.Runtime().Status("dm-rb")
	require.NoError(t, err)
	assert.Equal(t, strategy.StatusRunning, status)

	_, err = e.Runtime().Status("dm-bad")
	assert.Error(t, err)
}
