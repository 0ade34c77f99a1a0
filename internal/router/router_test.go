package router

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborquant/cta-engine/internal/event"
	"github.com/harborquant/cta-engine/internal/gateway"
	"github.com/harborquant/cta-engine/internal/history"
	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/position"
	"github.com/harborquant/cta-engine/internal/risk"
	"github.com/harborquant/cta-engine/internal/store"
	"github.com/harborquant/cta-engine/internal/strategy"
	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

type staticGuard struct{ blocked map[string]bool }

func (g staticGuard) Blocked(instrument string) bool { return g.blocked[instrument] }

type staticVars struct{ vars map[string]strategy.Vars }

func (v staticVars) VarsOf(id string) (strategy.Vars, error) {
	if vars, ok := v.vars[id]; ok {
		return vars, nil
	}

	return strategy.Vars{}, errors.Newf(errors.ErrCodeStrategyNotFound, "instance %s not found", id)
}

type routerFixture struct {
	bus     *event.Bus
	gw      *gateway.SimGateway
	tracker *position.Tracker
	risk    *risk.Engine
	guard   staticGuard
	vars    staticVars
	router  *Router
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	log := logger.NewNopLogger()
	bus := event.NewBus(log)
	t.Cleanup(bus.Close)

	f := &routerFixture{
		bus:     bus,
		gw:      gateway.NewSimGateway(bus, log),
		tracker: position.NewTracker(bus, position.NopJournal{}, log),
		risk:    risk.NewEngine(bus, log),
		guard:   staticGuard{blocked: make(map[string]bool)},
		vars:    staticVars{vars: make(map[string]strategy.Vars)},
	}
	f.router = NewRouter(f.bus, f.gw, f.risk, f.guard, f.tracker, f.vars, log)

	require.NoError(t, f.gw.Connect("acct-a", nil))
	bus.Flush()

	return f
}

func request(strategyID string, offset types.Offset) types.OrderRequest {
	return types.OrderRequest{
		ID:         uuid.New().String(),
		AccountID:  "acct-a",
		StrategyID: strategyID,
		Instrument: "rb2505.SHFE",
		Direction:  types.DirectionLong,
		Offset:     offset,
		Price:      3010,
		Volume:     1,
		Reason:     types.OrderReasonStrategy,
	}
}

func TestRouterAutomatedSubmitsAndBinds(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Route("s1", []types.OrderRequest{request("s1", types.OffsetOpen)})
	f.bus.Flush()

	active := f.tracker.ActiveOrders("acct-a")
	require.Len(t, active, 1)

	owner, ok := f.tracker.Owner(active[0].OrderID)
	require.True(t, ok)
	assert.Equal(t, "s1", owner)
}

func TestRouterRolloverBlocksOpensOnly(t *testing.T) {
	f := newRouterFixture(t)
	f.guard.blocked["rb2505.SHFE"] = true

	err := f.router.Submit(request("s1", types.OffsetOpen))
	require.Error(t, err)
	assert.True(t, errors.IsRolloverBlocked(err))

	require.NoError(t, f.router.Submit(request("s1", types.OffsetClose)))
}

// barOpener opens long on every bar and records the order updates it sees.
type barOpener struct {
	params struct {
		Volume int64 `yaml:"volume" json:"volume" validate:"required,gt=0"`
	}
	state  strategy.BaseState
	orders []types.Order
}

func (s *barOpener) Name() string { return "bar_opener" }
func (s *barOpener) Params() any  { return &s.params }
func (s *barOpener) State() any   { return &s.state }

func (s *barOpener) OnInit(strategy.Context) error  { return nil }
func (s *barOpener) OnStart(strategy.Context) error { return nil }
func (s *barOpener) OnStop(strategy.Context) error  { return nil }

func (s *barOpener) OnTick(strategy.Context, types.Tick) {}

func (s *barOpener) OnBar(ctx strategy.Context, bar types.Bar) {
	ctx.Buy(bar.Close, s.params.Volume)
}

func (s *barOpener) OnOrder(_ strategy.Context, order types.Order) {
	s.orders = append(s.orders, order)
}

func (s *barOpener) OnTrade(strategy.Context, types.Trade) {}

func TestRouterRiskDenialReachesStrategy(t *testing.T) {
	f := newRouterFixture(t)
	f.risk.AddRule("acct-a", &risk.MaxVolumeRule{Max: 0})

	log := logger.NewNopLogger()
	opener := &barOpener{}
	opener.params.Volume = 1

	rt := strategy.NewRuntime(f.bus, store.NewMemoryStore(), history.NewMemorySource(), f.tracker, f.tracker, log)
	rt.SetRoute(f.router.Route)

	require.NoError(t, rt.Add(strategy.InstanceConfig{
		ID:         "s1",
		Strategy:   "bar_opener",
		AccountID:  "acct-a",
		Instrument: "rb2505.SHFE",
		Interval:   types.IntervalMinute,
	}, func() strategy.Strategy { return opener }))
	require.NoError(t, rt.Init("s1"))
	require.NoError(t, rt.Start("s1"))
	f.bus.Flush()

	f.bus.Publish(event.Event{Type: event.TypeBar, Data: types.Bar{
		Instrument: "rb2505.SHFE",
		Interval:   types.IntervalMinute,
		Time:       time.Now(),
		Open:       3010, High: 3010, Low: 3010, Close: 3010,
	}})
	// The first flush delivers the bar; the second drains the rejection
	// published while the bar was being handled.
	f.bus.Flush()
	f.bus.Flush()

	require.Len(t, opener.orders, 1)
	assert.Equal(t, types.OrderStatusRejected, opener.orders[0].Status)
	assert.Equal(t, "s1", opener.orders[0].StrategyID)
	assert.Equal(t, "rb2505.SHFE", opener.orders[0].Instrument)
	assert.Empty(t, f.tracker.ActiveOrders("acct-a"))
}

func TestRouterRolloverBlockRejectsToOwner(t *testing.T) {
	f := newRouterFixture(t)
	f.guard.blocked["rb2505.SHFE"] = true

	var rejected []types.Order
	f.bus.Subscribe(event.TypeOrderUpdate, func(e event.Event) {
		if order, ok := e.Data.(types.Order); ok {
			rejected = append(rejected, order)
		}
	})

	req := request("s1", types.OffsetOpen)
	require.Error(t, f.router.Submit(req))
	f.bus.Flush()

	require.Len(t, rejected, 1)
	assert.Equal(t, req.ID, rejected[0].OrderID)
	assert.Equal(t, "s1", rejected[0].StrategyID)
	assert.Equal(t, types.OrderStatusRejected, rejected[0].Status)
}

func TestRouterRiskDenialStopsSubmission(t *testing.T) {
	f := newRouterFixture(t)
	f.risk.AddRule("acct-a", &risk.MaxVolumeRule{Max: 0})

	err := f.router.Submit(request("s1", types.OffsetOpen))
	require.Error(t, err)
	assert.True(t, errors.IsRiskDenied(err))

	f.bus.Flush()
	assert.Empty(t, f.tracker.ActiveOrders("acct-a"))
}

func TestRouterInvalidRequestRejected(t *testing.T) {
	f := newRouterFixture(t)

	req := request("s1", types.OffsetOpen)
	req.Volume = 0

	err := f.router.Submit(req)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidOrder))
}

func TestRouterAssistedHoldsProposals(t *testing.T) {
	f := newRouterFixture(t)
	f.router.SetMode("s1", ModeAssisted)

	f.router.Route("s1", []types.OrderRequest{request("s1", types.OffsetOpen)})
	f.bus.Flush()

	assert.Empty(t, f.tracker.ActiveOrders("acct-a"))
	require.Len(t, f.router.Proposals("s1"), 1)
}

func TestRouterFreshAdviceReplacesProposals(t *testing.T) {
	f := newRouterFixture(t)
	f.router.SetMode("s1", ModeAssisted)

	stale := request("s1", types.OffsetOpen)
	f.router.Route("s1", []types.OrderRequest{stale})

	fresh := request("s1", types.OffsetOpen)
	f.router.Route("s1", []types.OrderRequest{fresh})

	proposals := f.router.Proposals("s1")
	require.Len(t, proposals, 1)
	assert.Equal(t, fresh.ID, proposals[0].Request.ID)

	err := f.router.Confirm(stale.ID)
	require.Error(t, err)
}

func TestRouterConfirmSubmitsWhenPermitted(t *testing.T) {
	f := newRouterFixture(t)
	f.router.SetMode("s1", ModeAssisted)
	f.vars.vars["s1"] = strategy.Vars{
		Direction:      types.DirectionLong,
		AllowOpenLong:  true,
		SuggestVolume:  optional.Some[int64](2),
		SuggestPrice:   optional.Some(3010.0),
		AllowOpenShort: false,
	}

	req := request("s1", types.OffsetOpen)
	f.router.Route("s1", []types.OrderRequest{req})

	require.NoError(t, f.router.Confirm(req.ID))
	f.bus.Flush()

	active := f.tracker.ActiveOrders("acct-a")
	require.Len(t, active, 1)
	assert.Empty(t, f.router.Proposals("s1"))

	// A confirmed proposal cannot be confirmed twice.
	require.Error(t, f.router.Confirm(req.ID))
}

func TestRouterConfirmRevalidatesPermissions(t *testing.T) {
	f := newRouterFixture(t)
	f.router.SetMode("s1", ModeAssisted)

	req := request("s1", types.OffsetOpen)
	f.router.Route("s1", []types.OrderRequest{req})

	// The strategy has since withdrawn permission to open long.
	f.vars.vars["s1"] = strategy.Vars{AllowOpenLong: false}

	err := f.router.Confirm(req.ID)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfirmNotPermitted))
}

func TestRouterConfirmCapsVolume(t *testing.T) {
	f := newRouterFixture(t)
	f.router.SetMode("s1", ModeAssisted)
	f.vars.vars["s1"] = strategy.Vars{
		AllowOpenLong: true,
		SuggestVolume: optional.Some[int64](1),
	}

	req := request("s1", types.OffsetOpen)
	req.Volume = 5
	f.router.Route("s1", []types.OrderRequest{req})

	err := f.router.Confirm(req.ID)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfirmNotPermitted))
}

func TestRouterFailedConfirmKeepsProposal(t *testing.T) {
	f := newRouterFixture(t)
	f.router.SetMode("s1", ModeAssisted)
	f.vars.vars["s1"] = strategy.Vars{AllowOpenLong: true}

	rule := &risk.MaxVolumeRule{Max: 0}
	f.risk.AddRule("acct-a", rule)

	req := request("s1", types.OffsetOpen)
	f.router.Route("s1", []types.OrderRequest{req})

	err := f.router.Confirm(req.ID)
	require.Error(t, err)
	assert.True(t, errors.IsRiskDenied(err))

	// The denied proposal is still held and confirms once the rule allows.
	require.Len(t, f.router.Proposals("s1"), 1)

	rule.Max = 5
	require.NoError(t, f.router.Confirm(req.ID))
	f.bus.Flush()

	assert.Empty(t, f.router.Proposals("s1"))
	require.Len(t, f.tracker.ActiveOrders("acct-a"), 1)
}

func TestRouterReject(t *testing.T) {
	f := newRouterFixture(t)
	f.router.SetMode("s1", ModeAssisted)

	req := request("s1", types.OffsetOpen)
	f.router.Route("s1", []types.OrderRequest{req})

	require.NoError(t, f.router.Reject(req.ID))
	assert.Empty(t, f.router.Proposals("s1"))
	require.Error(t, f.router.Reject(req.ID))
}

func TestRouterCancelAll(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Route("s1", []types.OrderRequest{request("s1", types.OffsetOpen)})
	f.bus.Flush()
	require.Len(t, f.tracker.ActiveOrders("acct-a"), 1)

	f.router.CancelAll("s1")
	f.bus.Flush()

	assert.Empty(t, f.tracker.ActiveOrders("acct-a"))
}
