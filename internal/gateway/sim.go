package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harborquant/cta-engine/internal/event"
	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

// SimGateway is an in-memory adapter used by the engine tests and the
// simulation run mode. Sessions connect and log in immediately; market
// data and fills are driven explicitly through the Push* methods.
type SimGateway struct {
	bus *event.Bus
	log *logger.Logger

	mu          sync.Mutex
	connected   map[string]bool
	subscribed  map[string]bool
	orders      map[string]types.Order
	snapshots   map[string][]types.Position
	contracts   []types.Contract
	rejectLogin map[string]string
}

// NewSimGateway creates a sim adapter publishing onto bus.
func NewSimGateway(bus *event.Bus, log *logger.Logger) *SimGateway {
	return &SimGateway{
		bus:         bus,
		log:         log,
		connected:   make(map[string]bool),
		subscribed:  make(map[string]bool),
		orders:      make(map[string]types.Order),
		snapshots:   make(map[string][]types.Position),
		rejectLogin: make(map[string]string),
	}
}

// SetContracts seeds the static contract table delivered on connect.
func (g *SimGateway) SetContracts(contracts []types.Contract) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.contracts = contracts
}

// RejectLogin makes future Connect calls for the account fail login with
// the given message.
func (g *SimGateway) RejectLogin(accountID, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejectLogin[accountID] = message
}

// SetPositions seeds the broker-side snapshot returned by QueryPositions.
func (g *SimGateway) SetPositions(accountID string, positions []types.Position) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snapshots[accountID] = positions
}

// Connect implements Gateway.
func (g *SimGateway) Connect(accountID string, _ types.Credentials) error {
	g.mu.Lock()
	if g.connected[accountID] {
		g.mu.Unlock()

		return errors.Newf(errors.ErrCodeDuplicateConnect, "account %s already connected", accountID)
	}

	reject, rejected := g.rejectLogin[accountID]
	if !rejected {
		g.connected[accountID] = true
	}
	contracts := g.contracts
	g.mu.Unlock()

	g.bus.Publish(event.Event{Type: event.TypeConnect, Data: ConnectEvent{AccountID: accountID}})

	if rejected {
		g.bus.Publish(event.Event{Type: event.TypeLoginResult, Data: LoginResult{
			AccountID: accountID,
			Success:   false,
			Message:   reject,
		}})

		return nil
	}

	g.bus.Publish(event.Event{Type: event.TypeLoginResult, Data: LoginResult{
		AccountID: accountID,
		Success:   true,
	}})
	g.bus.Publish(event.Event{Type: event.TypeContractInited, Data: ContractInited{
		AccountID: accountID,
		Contracts: contracts,
	}})

	return nil
}

// Disconnect implements Gateway.
func (g *SimGateway) Disconnect(accountID string) error {
	g.mu.Lock()
	delete(g.connected, accountID)
	g.mu.Unlock()

	g.bus.Publish(event.Event{Type: event.TypeDisconnect, Data: DisconnectEvent{
		AccountID: accountID,
		Reason:    "disconnect requested",
	}})

	return nil
}

// SubscribeMarketData implements Gateway.
func (g *SimGateway) SubscribeMarketData(instrument string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribed[instrument] = true

	return nil
}

// Subscribed reports whether the instrument has an active subscription.
func (g *SimGateway) Subscribed(instrument string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.subscribed[instrument]
}

// SubmitOrder implements Gateway.
func (g *SimGateway) SubmitOrder(req types.OrderRequest) (string, error) {
	g.mu.Lock()
	if !g.connected[req.AccountID] {
		g.mu.Unlock()

		return "", errors.Newf(errors.ErrCodeGatewayUnreachable, "account %s not connected", req.AccountID)
	}

	order := types.Order{
		OrderID:    uuid.New().String(),
		AccountID:  req.AccountID,
		StrategyID: req.StrategyID,
		Instrument: req.Instrument,
		Direction:  req.Direction,
		Offset:     req.Offset,
		Price:      req.Price,
		Volume:     req.Volume,
		Status:     types.OrderStatusNotTraded,
		CreatedAt:  time.Now(),
	}
	g.orders[order.OrderID] = order
	g.mu.Unlock()

	g.bus.Publish(event.Event{Type: event.TypeOrderUpdate, Data: order})

	return order.OrderID, nil
}

// CancelOrder implements Gateway.
func (g *SimGateway) CancelOrder(_ string, orderID string) error {
	g.mu.Lock()
	order, ok := g.orders[orderID]
	if !ok || !order.Status.IsActive() {
		g.mu.Unlock()

		return errors.Newf(errors.ErrCodeInvalidOrder, "order %s not active", orderID)
	}

	order.Status = types.OrderStatusCancelled
	g.orders[orderID] = order
	g.mu.Unlock()

	g.bus.Publish(event.Event{Type: event.TypeOrderUpdate, Data: order})

	return nil
}

// QueryPositions implements Gateway.
func (g *SimGateway) QueryPositions(accountID string) ([]types.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.snapshots[accountID], nil
}

// PushTick publishes a tick as if received from the broker feed.
func (g *SimGateway) PushTick(tick types.Tick) {
	g.bus.Publish(event.Event{Type: event.TypeTick, Data: tick})
}

// PushBar publishes a finished bar.
func (g *SimGateway) PushBar(bar types.Bar) {
	g.bus.Publish(event.Event{Type: event.TypeBar, Data: bar})
}

// Fill fully executes an active order at the given price and emits the
// trade followed by the terminal order update.
func (g *SimGateway) Fill(orderID string, price float64) {
	g.mu.Lock()
	order, ok := g.orders[orderID]
	if !ok || !order.Status.IsActive() {
		g.mu.Unlock()
		g.log.Warn("fill for unknown or inactive order", zap.String("order_id", orderID))

		return
	}

	order.Traded = order.Volume
	order.Status = types.OrderStatusAllTraded
	g.orders[orderID] = order
	g.mu.Unlock()

	trade := types.Trade{
		TradeID:    uuid.New().String(),
		OrderID:    order.OrderID,
		AccountID:  order.AccountID,
		StrategyID: order.StrategyID,
		Instrument: order.Instrument,
		Direction:  order.Direction,
		Offset:     order.Offset,
		Price:      price,
		Volume:     order.Volume,
		ExecutedAt: time.Now(),
	}

	g.bus.Publish(event.Event{Type: event.TypeTradeUpdate, Data: trade})
	g.bus.Publish(event.Event{Type: event.TypeOrderUpdate, Data: order})
}

var _ Gateway = (*SimGateway)(nil)
