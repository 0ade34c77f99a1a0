package rollover

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborquant/cta-engine/internal/event"
	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/strategy"
	"github.com/harborquant/cta-engine/internal/types"
)

type fakePositions struct {
	mu        sync.Mutex
	positions map[string]int64 // accountID|instrument -> volume
	orders    []types.Order
}

func (f *fakePositions) set(accountID, instrument string, volume int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positions == nil {
		f.positions = make(map[string]int64)
	}
	f.positions[accountID+"|"+instrument] = volume
}

func (f *fakePositions) AggregatePosition(accountID, instrument string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.positions[accountID+"|"+instrument]
}

func (f *fakePositions) ActiveOrders(string) []types.Order {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.orders
}

type fakeAccounts struct {
	mu           sync.Mutex
	subscribed   []string
	subscribeErr error
}

func (f *fakeAccounts) IDs() []string { return []string{"acct-a"} }

func (f *fakeAccounts) Subscribe(instrument string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed = append(f.subscribed, instrument)

	return nil
}

func (f *fakeAccounts) setSubscribeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeErr = err
}

type fakeInstances struct {
	mu       sync.Mutex
	on       map[string][]string
	statuses map[string]strategy.Status
	calls    []string
}

func newFakeInstances() *fakeInstances {
	return &fakeInstances{
		on:       make(map[string][]string),
		statuses: make(map[string]strategy.Status),
	}
}

func (f *fakeInstances) InstancesOn(instrument string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.on[instrument]
}

func (f *fakeInstances) Status(id string) (strategy.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.statuses[id], nil
}

func (f *fakeInstances) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeInstances) Stop(id string) error     { f.record("stop:" + id); return nil }
func (f *fakeInstances) Init(id string) error     { f.record("init:" + id); return nil }
func (f *fakeInstances) Start(id string) error    { f.record("start:" + id); return nil }
func (f *fakeInstances) Repoint(id, to string) error {
	f.record("repoint:" + id + ":" + to)

	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeNotifier) Notify(title, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.titles))
	copy(out, f.titles)

	return out
}

type fixture struct {
	bus       *event.Bus
	positions *fakePositions
	accounts  *fakeAccounts
	instances *fakeInstances
	notifier  *fakeNotifier
	manager   *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.NewNopLogger()
	bus := event.NewBus(log)
	t.Cleanup(bus.Close)

	f := &fixture{
		bus:       bus,
		positions: &fakePositions{},
		accounts:  &fakeAccounts{},
		instances: newFakeInstances(),
		notifier:  &fakeNotifier{},
	}
	f.manager = NewManager(bus, f.positions, f.accounts, f.instances, f.notifier, 2, log)

	return f
}

func (f *fixture) announce(commodity, old, next string) {
	f.bus.Publish(event.Event{Type: event.TypeRollover, Data: types.RolloverEvent{
		Commodity:     commodity,
		OldInstrument: old,
		NewInstrument: next,
		DetectedAt:    time.Now(),
	}})
	f.bus.Flush()
}

func TestManagerBlocksOpensWhilePending(t *testing.T) {
	f := newFixture(t)

	f.positions.set("acct-a", "rb2505.SHFE", 3)
	f.announce("RB", "rb2505.SHFE", "rb2510.SHFE")

	assert.Equal(t, PhasePending, f.manager.Phase("RB"))
	assert.True(t, f.manager.Blocked("rb2505.SHFE"))
	assert.False(t, f.manager.Blocked("rb2510.SHFE"))
	assert.False(t, f.manager.Blocked("cu2506.SHFE"))
}

func TestManagerSwitchesImmediatelyWhenFlat(t *testing.T) {
	f := newFixture(t)

	f.instances.on["rb2505.SHFE"] = []string{"p1"}
	f.instances.statuses["p1"] = strategy.StatusRunning

	f.announce("RB", "rb2505.SHFE", "rb2510.SHFE")

	assert.Equal(t, PhaseStable, f.manager.Phase("RB"))
	assert.False(t, f.manager.Blocked("rb2505.SHFE"))
	assert.Equal(t, []string{"rb2510.SHFE"}, f.accounts.subscribed)
	assert.Equal(t, []string{
		"stop:p1",
		"repoint:p1:rb2510.SHFE",
		"init:p1",
		"start:p1",
	}, f.instances.calls)
	assert.Contains(t, f.notifier.all(), "rollover complete")
}

func TestManagerWaitsForFlatThenSwitchesOnTrade(t *testing.T) {
	f := newFixture(t)

	f.positions.set("acct-a", "rb2505.SHFE", 2)
	f.announce("RB", "rb2505.SHFE", "rb2510.SHFE")
	require.Equal(t, PhasePending, f.manager.Phase("RB"))

	// A closing fill flattens the old contract.
	f.positions.set("acct-a", "rb2505.SHFE", 0)
	f.bus.Publish(event.Event{Type: event.TypeTradeUpdate, Data: types.Trade{
		TradeID: "trd-1", OrderID: "ord-1", AccountID: "acct-a",
		Instrument: "rb2505.SHFE", Direction: types.DirectionShort,
		Offset: types.OffsetClose, Price: 3000, Volume: 2,
	}})
	f.bus.Flush()

	assert.Equal(t, PhaseStable, f.manager.Phase("RB"))
}

func TestManagerHoldsWhileOrdersActive(t *testing.T) {
	f := newFixture(t)

	f.positions.orders = []types.Order{{
		OrderID: "ord-1", AccountID: "acct-a",
		Instrument: "rb2505.SHFE", Status: types.OrderStatusNotTraded,
	}}
	f.announce("RB", "rb2505.SHFE", "rb2510.SHFE")

	assert.Equal(t, PhasePending, f.manager.Phase("RB"))
}

func TestManagerStoppedInstanceOnlyRepoints(t *testing.T) {
	f := newFixture(t)

	f.instances.on["rb2505.SHFE"] = []string{"p1"}
	f.instances.statuses["p1"] = strategy.StatusStopped

	f.announce("RB", "rb2505.SHFE", "rb2510.SHFE")

	assert.Equal(t, []string{"repoint:p1:rb2510.SHFE"}, f.instances.calls)
}

func TestManagerEscalatesStuckRollover(t *testing.T) {
	f := newFixture(t)

	f.positions.set("acct-a", "rb2505.SHFE", 5)
	f.announce("RB", "rb2505.SHFE", "rb2510.SHFE")

	f.manager.OnSession()
	assert.NotContains(t, f.notifier.all(), "rollover stuck")

	f.manager.OnSession()
	assert.Contains(t, f.notifier.all(), "rollover stuck")
	assert.Equal(t, PhasePending, f.manager.Phase("RB"))
}

func TestManagerSessionRetriesSwitch(t *testing.T) {
	f := newFixture(t)

	f.positions.set("acct-a", "rb2505.SHFE", 5)
	f.announce("RB", "rb2505.SHFE", "rb2510.SHFE")

	f.positions.set("acct-a", "rb2505.SHFE", 0)
	f.manager.OnSession()

	assert.Equal(t, PhaseStable, f.manager.Phase("RB"))
}

func TestManagerHoldsWhenSubscribeFails(t *testing.T) {
	f := newFixture(t)

	f.instances.on["rb2505.SHFE"] = []string{"p1"}
	f.instances.statuses["p1"] = strategy.StatusRunning
	f.accounts.setSubscribeErr(errors.New("primary disconnected"))

	f.announce("RB", "rb2505.SHFE", "rb2510.SHFE")

	// No feed on the new contract: the switch is held, opens on the old
	// contract stay blocked, and no instance was touched.
	assert.Equal(t, PhasePending, f.manager.Phase("RB"))
	assert.True(t, f.manager.Blocked("rb2505.SHFE"))
	assert.Empty(t, f.instances.calls)
	assert.Empty(t, f.accounts.subscribed)

	// Once subscribing works again the next session check completes it.
	f.accounts.setSubscribeErr(nil)
	f.manager.OnSession()

	assert.Equal(t, PhaseStable, f.manager.Phase("RB"))
	assert.Equal(t, []string{"rb2510.SHFE"}, f.accounts.subscribed)
	require.Contains(t, f.instances.calls, "repoint:p1:rb2510.SHFE")
}
