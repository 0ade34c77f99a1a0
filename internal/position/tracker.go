// Package position maintains the authoritative view of orders and net
// positions per (account, instrument, strategy) key. Positions change only
// on trade events; order status updates never move a position.
package position

import (
	"sync"

	"go.uber.org/zap"

	"github.com/harborquant/cta-engine/internal/event"
	"github.com/harborquant/cta-engine/internal/gateway"
	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

type positionKey struct {
	accountID  string
	instrument string
	strategyID string
}

type owner struct {
	accountID  string
	strategyID string
}

// Tracker consumes order and trade events from the bus and keeps orders,
// ownership, and positions current. Gateways do not echo strategy identity,
// so every submitted order is bound to its owner before events arrive.
type Tracker struct {
	log     *logger.Logger
	journal TradeJournal

	mu        sync.RWMutex
	orders    map[string]types.Order
	owners    map[string]owner
	positions map[positionKey]types.Position
	// seenTrades dedupes trade events; brokers replay them on reconnect.
	seenTrades map[string]bool
}

// NewTracker creates a tracker subscribed to the bus's order and trade
// events.
func NewTracker(bus *event.Bus, journal TradeJournal, log *logger.Logger) *Tracker {
	t := &Tracker{
		log:        log,
		journal:    journal,
		orders:     make(map[string]types.Order),
		owners:     make(map[string]owner),
		positions:  make(map[positionKey]types.Position),
		seenTrades: make(map[string]bool),
	}

	bus.Subscribe(event.TypeOrderUpdate, t.onOrderUpdate)
	bus.Subscribe(event.TypeTradeUpdate, t.onTradeUpdate)

	return t
}

// Bind records which strategy owns a gateway order. Called by the router
// immediately after submit, before any update for the order can arrive.
func (t *Tracker) Bind(orderID, accountID, strategyID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owners[orderID] = owner{accountID: accountID, strategyID: strategyID}
}

// Owner returns the strategy bound to the order.
func (t *Tracker) Owner(orderID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	o, ok := t.owners[orderID]

	return o.strategyID, ok
}

// Order returns the latest known state of the order.
func (t *Tracker) Order(orderID string) (types.Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	order, ok := t.orders[orderID]

	return order, ok
}

// ActiveOrders returns orders still working at the broker for the account.
func (t *Tracker) ActiveOrders(accountID string) []types.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()

	active := make([]types.Order, 0)
	for _, order := range t.orders {
		if order.AccountID == accountID && order.Status.IsActive() {
			active = append(active, order)
		}
	}

	return active
}

// ActiveOrdersByStrategy returns the strategy's working orders across all
// accounts.
func (t *Tracker) ActiveOrdersByStrategy(strategyID string) []types.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()

	active := make([]types.Order, 0)
	for orderID, order := range t.orders {
		if !order.Status.IsActive() {
			continue
		}

		if o, ok := t.owners[orderID]; ok && o.strategyID == strategyID {
			active = append(active, order)
		}
	}

	return active
}

// Position returns the net position for the exact key. A missing key is a
// flat position.
func (t *Tracker) Position(accountID, instrument, strategyID string) types.Position {
	key := positionKey{accountID: accountID, instrument: instrument, strategyID: strategyID}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if pos, ok := t.positions[key]; ok {
		return pos
	}

	return types.Position{AccountID: accountID, Instrument: instrument, StrategyID: strategyID}
}

// AggregatePosition sums all strategies' volumes for the account and
// instrument. Rollover switching waits for this to hit zero.
func (t *Tracker) AggregatePosition(accountID, instrument string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total int64
	for key, pos := range t.positions {
		if key.accountID == accountID && key.instrument == instrument {
			total += pos.Volume
		}
	}

	return total
}

// Positions returns a snapshot of all non-flat positions.
func (t *Tracker) Positions() []types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make([]types.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		if !pos.IsFlat() {
			snapshot = append(snapshot, pos)
		}
	}

	return snapshot
}

func (t *Tracker) onOrderUpdate(e event.Event) {
	order, ok := e.Data.(types.Order)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[order.OrderID] = order
}

func (t *Tracker) onTradeUpdate(e event.Event) {
	trade, ok := e.Data.(types.Trade)
	if !ok {
		return
	}

	t.mu.Lock()
	if t.seenTrades[trade.TradeID] {
		t.mu.Unlock()
		t.log.Warn("duplicate trade dropped",
			zap.String("trade_id", trade.TradeID),
			zap.String("order_id", trade.OrderID),
		)

		return
	}
	t.seenTrades[trade.TradeID] = true

	o, bound := t.owners[trade.OrderID]
	if !bound {
		// Trades carried on the event may name their owner directly, as
		// the sim adapter does. Unowned broker trades still move the
		// account aggregate under an empty strategy key.
		o = owner{accountID: trade.AccountID, strategyID: trade.StrategyID}
	}

	key := positionKey{accountID: o.accountID, instrument: trade.Instrument, strategyID: o.strategyID}
	pos, exists := t.positions[key]
	if !exists {
		pos = types.Position{AccountID: o.accountID, Instrument: trade.Instrument, StrategyID: o.strategyID}
	}
	t.positions[key] = pos.ApplyFill(trade.SignedVolume(), trade.Price)
	t.mu.Unlock()

	if err := t.journal.Record(trade); err != nil {
		t.log.Error("trade journal write failed",
			zap.String("trade_id", trade.TradeID),
			zap.Error(err),
		)
	}
}

// Discrepancy is one mismatch found by reconciliation.
type Discrepancy struct {
	Instrument string
	Local      int64
	Broker     int64
}

// Reconcile compares local aggregates against the broker snapshot for the
// account. The broker is the source of truth: each mismatch is logged,
// reported, and absorbed into an unassigned strategy bucket so local
// aggregates match the broker again. Strategy-owned keys are never
// rewritten.
func (t *Tracker) Reconcile(accountID string, gw gateway.Gateway) ([]Discrepancy, error) {
	snapshot, err := gw.QueryPositions(accountID)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeReconciliationFailed, err, "failed to query positions for %s", accountID)
	}

	broker := make(map[string]int64)
	for _, pos := range snapshot {
		broker[pos.Instrument] += pos.Volume
	}

	local := make(map[string]int64)
	t.mu.RLock()
	for key, pos := range t.positions {
		if key.accountID == accountID {
			local[key.instrument] += pos.Volume
		}
	}
	t.mu.RUnlock()

	instruments := make(map[string]bool)
	for instrument := range broker {
		instruments[instrument] = true
	}
	for instrument := range local {
		instruments[instrument] = true
	}

	discrepancies := make([]Discrepancy, 0)
	for instrument := range instruments {
		if local[instrument] != broker[instrument] {
			d := Discrepancy{
				Instrument: instrument,
				Local:      local[instrument],
				Broker:     broker[instrument],
			}
			discrepancies = append(discrepancies, d)
			t.log.Warn("position discrepancy",
				zap.String("account", accountID),
				zap.String("instrument", instrument),
				zap.Int64("local", d.Local),
				zap.Int64("broker", d.Broker),
			)
			t.absorbDiscrepancy(accountID, instrument, d.Broker-d.Local)
		}
	}

	return discrepancies, nil
}

// absorbDiscrepancy books the broker-vs-local delta against the
// unassigned bucket (empty strategy id) for the instrument.
func (t *Tracker) absorbDiscrepancy(accountID, instrument string, delta int64) {
	key := positionKey{accountID: accountID, instrument: instrument}

	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[key]
	if !ok {
		pos = types.Position{AccountID: accountID, Instrument: instrument}
	}
	pos.Volume += delta
	t.positions[key] = pos
}
