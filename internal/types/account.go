package types

// ConnectionState tracks one account's gateway connection lifecycle.
type ConnectionState string

const (
	ConnStateDisconnected ConnectionState = "DISCONNECTED"
	ConnStateConnecting   ConnectionState = "CONNECTING"
	ConnStateConnected    ConnectionState = "CONNECTED"
	ConnStateLoggedIn     ConnectionState = "LOGGED_IN"
	ConnStateFailed       ConnectionState = "FAILED"
)

// AccountRole marks whether an account is the shared market-data source.
// Exactly one account is Primary at a time; it is the sole gateway
// subscriber for any instrument, and ticks reach other accounts by
// internal redistribution.
type AccountRole string

const (
	RolePrimary   AccountRole = "PRIMARY"
	RoleSecondary AccountRole = "SECONDARY"
)

// Credentials is an opaque handle to brokerage login material. The core
// never inspects it; it is passed through to the gateway adapter.
type Credentials map[string]string
