package event

// Type tags an event with its variant. The set is closed: components
// dispatch through a registration table keyed by these tags.
type Type string

const (
	// Gateway-sourced events.
	TypeConnect        Type = "connect"
	TypeDisconnect     Type = "disconnect"
	TypeLoginResult    Type = "login_result"
	TypeContractInited Type = "contract_inited"
	TypeTick           Type = "tick"
	TypeBar            Type = "bar"
	TypeOrderUpdate    Type = "order_update"
	TypeTradeUpdate    Type = "trade_update"

	// Core-produced events.
	TypeRollover   Type = "rollover"
	TypeSignal     Type = "signal"
	TypeRiskDenied Type = "risk_denied"
	TypeStrategy   Type = "strategy"
)

// Event is a single bus message.
type Event struct {
	Type Type
	Data any
}

// Handler consumes one event. Handlers run on the bus dispatch goroutine
// and must not block on external I/O.
type Handler func(Event)
