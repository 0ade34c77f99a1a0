// Package gateway defines the brokerage adapter boundary. The core treats
// the brokerage strictly as an opaque event source/sink: adapters normalize
// connection, login, market-data and order events into the bus vocabulary,
// and accept the fixed set of outbound calls below. The wire protocol is
// out of scope.
package gateway

import (
	"github.com/harborquant/cta-engine/internal/types"
)

// ConnectEvent reports a transport-level connection for one account.
type ConnectEvent struct {
	AccountID string
}

// DisconnectEvent reports a lost connection for one account.
type DisconnectEvent struct {
	AccountID string
	Reason    string
}

// LoginResult reports the outcome of a login attempt.
type LoginResult struct {
	AccountID string
	Success   bool
	Message   string
}

// ContractInited reports that the static contract table for one account's
// connection has fully arrived.
type ContractInited struct {
	AccountID string
	Contracts []types.Contract
}

// Gateway is the outbound call surface of a brokerage adapter. Implementations
// emit the inbound vocabulary (ConnectEvent, DisconnectEvent, LoginResult,
// ContractInited, types.Tick, types.Bar, types.Order, types.Trade) on the
// event bus they were constructed with.
type Gateway interface {
	// Connect opens a session for the account. Connection progress and
	// login outcome arrive as events; connect/login timeouts are the
	// adapter's responsibility and surface as connection-state events.
	Connect(accountID string, creds types.Credentials) error
	// Disconnect tears down the account's session.
	Disconnect(accountID string) error
	// SubscribeMarketData subscribes the shared market-data session to
	// one instrument. The caller guarantees at most one subscription per
	// instrument across all accounts.
	SubscribeMarketData(instrument string) error
	// SubmitOrder sends the order and returns the gateway order ID.
	SubmitOrder(req types.OrderRequest) (string, error)
	// CancelOrder requests cancellation of an active order.
	CancelOrder(accountID, orderID string) error
	// QueryPositions returns the broker-side position snapshot for the
	// account, used by reconciliation after (re)connect.
	QueryPositions(accountID string) ([]types.Position, error)
}
