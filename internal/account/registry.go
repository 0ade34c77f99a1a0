// Package account tracks configured brokerage accounts, their connection
// state, and which account is the shared primary market-data source.
package account

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/harborquant/cta-engine/internal/event"
	"github.com/harborquant/cta-engine/internal/gateway"
	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

// Account is one configured brokerage account.
type Account struct {
	ID    string
	Role  types.AccountRole
	State types.ConnectionState

	creds types.Credentials
	// wantConnected distinguishes operator disconnects from lost
	// connections; only the latter schedule reconnects.
	wantConnected bool
	lastError     string
	backoff       *backoff.ExponentialBackOff
	retryTimer    *time.Timer
}

// Registry owns all accounts and reacts to gateway connection events.
// Exactly one account holds the Primary role: it is the sole gateway
// subscriber for market data, and ticks reach every strategy through the
// shared bus regardless of account.
type Registry struct {
	log *logger.Logger
	bus *event.Bus
	gw  gateway.Gateway

	mu       sync.Mutex
	accounts map[string]*Account
	// subscribed remembers instruments requested on the gateway so a
	// primary re-login can replay them, and so no instrument is ever
	// subscribed twice.
	subscribed map[string]bool
}

// NewRegistry creates a registry wired to the bus's connection events.
func NewRegistry(bus *event.Bus, gw gateway.Gateway, log *logger.Logger) *Registry {
	r := &Registry{
		log:        log,
		bus:        bus,
		gw:         gw,
		accounts:   make(map[string]*Account),
		subscribed: make(map[string]bool),
	}

	bus.Subscribe(event.TypeConnect, r.onConnect)
	bus.Subscribe(event.TypeDisconnect, r.onDisconnect)
	bus.Subscribe(event.TypeLoginResult, r.onLoginResult)

	return r
}

// Add registers an account. At most one account may be Primary.
func (r *Registry) Add(id string, role types.AccountRole, creds types.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[id]; exists {
		return errors.Newf(errors.ErrCodeDuplicateConnect, "account %s already registered", id)
	}

	if role == types.RolePrimary {
		for _, a := range r.accounts {
			if a.Role == types.RolePrimary {
				return errors.Newf(errors.ErrCodeInvalidConfiguration,
					"account %s cannot be primary, %s already is", id, a.ID)
			}
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0

	r.accounts[id] = &Account{
		ID:      id,
		Role:    role,
		State:   types.ConnStateDisconnected,
		creds:   creds,
		backoff: b,
	}

	return nil
}

// Connect initiates a gateway session for the account. Progress arrives
// as connection-state events.
func (r *Registry) Connect(id string) error {
	r.mu.Lock()
	a, ok := r.accounts[id]
	if !ok {
		r.mu.Unlock()

		return errors.Newf(errors.ErrCodeAccountNotFound, "account %s not registered", id)
	}

	if a.State == types.ConnStateConnecting || a.State == types.ConnStateLoggedIn {
		r.mu.Unlock()

		return errors.Newf(errors.ErrCodeDuplicateConnect, "account %s is %s", id, a.State)
	}

	a.State = types.ConnStateConnecting
	a.wantConnected = true
	creds := a.creds
	r.mu.Unlock()

	if err := r.gw.Connect(id, creds); err != nil {
		r.fail(id, err.Error())

		return errors.Wrap(errors.ErrCodeGatewayUnreachable, "connect failed", err)
	}

	return nil
}

// Disconnect tears down the account's session and cancels any scheduled
// reconnect.
func (r *Registry) Disconnect(id string) error {
	r.mu.Lock()
	a, ok := r.accounts[id]
	if !ok {
		r.mu.Unlock()

		return errors.Newf(errors.ErrCodeAccountNotFound, "account %s not registered", id)
	}

	a.wantConnected = false
	if a.retryTimer != nil {
		a.retryTimer.Stop()
		a.retryTimer = nil
	}
	r.mu.Unlock()

	return r.gw.Disconnect(id)
}

// State returns the account's connection state.
func (r *Registry) State(id string) (types.ConnectionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return "", errors.Newf(errors.ErrCodeAccountNotFound, "account %s not registered", id)
	}

	return a.State, nil
}

// IsLoggedIn reports whether the account is ready for trading.
func (r *Registry) IsLoggedIn(id string) bool {
	state, err := r.State(id)

	return err == nil && state == types.ConnStateLoggedIn
}

// Primary returns the primary market-data account's ID.
func (r *Registry) Primary() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.Role == types.RolePrimary {
			return a.ID, nil
		}
	}

	return "", errors.New(errors.ErrCodeNoPrimaryAccount, "no primary account configured")
}

// IDs lists the registered account IDs.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}

	return ids
}

// Subscribe requests market data for an instrument through the primary
/// account's connection. Duplicate subscriptions are collapsed: every
// subscriber past the first is served by internal redistribution over
// the bus.
func (r *Registry) Subscribe(instrument string) error {
	r.mu.Lock()

	var primary *Account
	for _, a := range r.accounts {
		if a.Role == types.RolePrimary {
			primary = a

			break
		}
	}

	if primary == nil {
		r.mu.Unlock()

		return errors.New(errors.ErrCodeNoPrimaryAccount, "no primary account configured")
	}

	if primary.State != types.ConnStateLoggedIn {
		r.mu.Unlock()

		return errors.Newf(errors.ErrCodeAccountNotLoggedIn, "primary account %s is %s", primary.ID, primary.State)
	}

	if r.subscribed[instrument] {
		r.mu.Unlock()

		return nil
	}

	r.subscribed[instrument] = true
	r.mu.Unlock()

	return r.gw.SubscribeMarketData(instrument)
}

func (r *Registry) onConnect(e event.Event) {
	ev, ok := e.Data.(gateway.ConnectEvent)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, known := r.accounts[ev.AccountID]; known {
		a.State = types.ConnStateConnected
	}
}

func (r *Registry) onDisconnect(e event.Event) {
	ev, ok := e.Data.(gateway.DisconnectEvent)
	if !ok {
		return
	}

	r.mu.Lock()
	a, known := r.accounts[ev.AccountID]
	if !known {
		r.mu.Unlock()

		return
	}

	wanted := a.wantConnected
	a.State = types.ConnStateDisconnected
	r.mu.Unlock()

	r.log.Warn("account disconnected",
		zap.String("account", ev.AccountID),
		zap.String("reason", ev.Reason),
	)

	if wanted {
		r.scheduleReconnect(ev.AccountID)
	}
}

func (r *Registry) onLoginResult(e event.Event) {
	ev, ok := e.Data.(gateway.LoginResult)
	if !ok {
		return
	}

	if !ev.Success {
		r.log.Error("account login failed",
			zap.String("account", ev.AccountID),
			zap.String("message", ev.Message),
		)
		r.fail(ev.AccountID, ev.Message)
		r.scheduleReconnect(ev.AccountID)

		return
	}

	r.mu.Lock()
	a, known := r.accounts[ev.AccountID]
	if !known {
		r.mu.Unlock()

		return
	}

	a.State = types.ConnStateLoggedIn
	a.backoff.Reset()
	isPrimary := a.Role == types.RolePrimary

	var replay []string
	if isPrimary {
		for instrument := range r.subscribed {
			replay = append(replay, instrument)
		}
	}
	r.mu.Unlock()

	r.log.Info("account logged in", zap.String("account", ev.AccountID))

	// A re-logged-in primary must re-establish its market-data feed.
	for _, instrument := range replay {
		if err := r.gw.SubscribeMarketData(instrument); err != nil {
			r.log.Warn("resubscribe failed",
				zap.String("instrument", instrument),
				zap.Error(err),
			)
		}
	}
}

func (r *Registry) fail(id, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, known := r.accounts[id]; known {
		a.State = types.ConnStateFailed
		a.lastError = reason
	}
}

// LastError returns the most recent connection failure message.
func (r *Registry) LastError(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, known := r.accounts[id]; known {
		return a.lastError
	}

	return ""
}

// scheduleReconnect arms a one-shot reconnect after the account's current
// backoff interval. Reconnects are paced, never a tight loop.
func (r *Registry) scheduleReconnect(id string) {
	r.mu.Lock()
	a, known := r.accounts[id]
	if !known || !a.wantConnected {
		r.mu.Unlock()

		return
	}

	if a.retryTimer != nil {
		a.retryTimer.Stop()
	}

	delay := a.backoff.NextBackOff()
	a.retryTimer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		acc, ok := r.accounts[id]
		if !ok || !acc.wantConnected || acc.State == types.ConnStateLoggedIn {
			r.mu.Unlock()

			return
		}
		acc.State = types.ConnStateDisconnected
		r.mu.Unlock()

		if err := r.Connect(id); err != nil {
			r.log.Warn("scheduled reconnect failed",
				zap.String("account", id),
				zap.Error(err),
			)
		}
	})
	r.mu.Unlock()

	r.log.Info("reconnect scheduled",
		zap.String("account", id),
		zap.Duration("delay", delay),
	)
}
