// Package rollover coordinates moving live instances from an expiring
// main contract to its successor. A commodity in rollover holds new
// opens on the old contract until every account is flat there, then
// re-points subscriptions and instances to the new contract.
package rollover

import (
	"sync"

	"go.uber.org/zap"

	"github.com/harborquant/cta-engine/internal/event"
	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/strategy"
	"github.com/harborquant/cta-engine/internal/types"
)

// Phase is one commodity's rollover stage.
type Phase string

const (
	// PhaseStable means the commodity trades its current main contract.
	PhaseStable Phase = "STABLE"
	// PhasePending means a new main contract was detected but positions
	// on the old one are still open. Opens on the old contract are
	// blocked; closes pass.
	PhasePending Phase = "PENDING"
	// PhaseSwitching means positions are flat and instances are being
	// re-pointed.
	PhaseSwitching Phase = "SWITCHING"
)

// Positions exposes the aggregates the manager watches.
type Positions interface {
	AggregatePosition(accountID, instrument string) int64
	ActiveOrders(accountID string) []types.Order
}

// Accounts lists the configured accounts and re-subscribes instruments.
type Accounts interface {
	IDs() []string
	Subscribe(instrument string) error
}

// Instances is the slice of the strategy runtime the manager drives.
type Instances interface {
	InstancesOn(instrument string) []string
	Status(id string) (strategy.Status, error)
	Stop(id string) error
	Repoint(id, instrument string) error
	Init(id string) error
	Start(id string) error
}

// Notifier receives operator alerts. A nil-safe no-op is used when none
// is configured.
type Notifier interface {
	Notify(title, message string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string) {}

type rollState struct {
	commodity     string
	phase         Phase
	oldInstrument string
	newInstrument string
	// sessions counts trading sessions spent in PENDING; crossing the
	// escalation threshold alerts the operator.
	sessions int
}

// Manager tracks rollover phases per commodity.
type Manager struct {
	log       *logger.Logger
	bus       *event.Bus
	positions Positions
	accounts  Accounts
	instances Instances
	notifier  Notifier

	// escalateAfter is how many sessions a commodity may sit in PENDING
	// before the operator is alerted.
	escalateAfter int

	mu     sync.Mutex
	states map[string]*rollState
}

// NewManager creates a manager subscribed to rollover and trade events.
func NewManager(
	bus *event.Bus,
	positions Positions,
	accounts Accounts,
	instances Instances,
	notifier Notifier,
	escalateAfter int,
	log *logger.Logger,
) *Manager {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if escalateAfter <= 0 {
		escalateAfter = 3
	}

	m := &Manager{
		log:           log,
		bus:           bus,
		positions:     positions,
		accounts:      accounts,
		instances:     instances,
		notifier:      notifier,
		escalateAfter: escalateAfter,
		states:        make(map[string]*rollState),
	}

	bus.Subscribe(event.TypeRollover, m.onRollover)
	bus.Subscribe(event.TypeTradeUpdate, m.onTrade)
	bus.Subscribe(event.TypeOrderUpdate, m.onOrder)

	return m
}

// Phase returns the commodity's current phase.
func (m *Manager) Phase(commodity string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.states[commodity]; ok {
		return st.phase
	}

	return PhaseStable
}

// Blocked reports whether new opens on the instrument must be rejected.
// Only the outgoing contract of a pending rollover blocks; closes are
// always allowed.
func (m *Manager) Blocked(instrument string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, st := range m.states {
		if st.phase != PhaseStable && st.oldInstrument == instrument {
			return true
		}
	}

	return false
}

func (m *Manager) onRollover(e event.Event) {
	ev, ok := e.Data.(types.RolloverEvent)
	if !ok {
		return
	}

	m.mu.Lock()
	st, exists := m.states[ev.Commodity]
	if exists && st.phase != PhaseStable {
		// Already rolling; retarget the destination if detection moved on.
		st.newInstrument = ev.NewInstrument
		m.mu.Unlock()
		m.log.Warn("rollover retargeted while pending",
			zap.String("commodity", ev.Commodity),
			zap.String("new", ev.NewInstrument),
		)
		m.trySwitch(ev.Commodity)

		return
	}

	m.states[ev.Commodity] = &rollState{
		commodity:     ev.Commodity,
		phase:         PhasePending,
		oldInstrument: ev.OldInstrument,
		newInstrument: ev.NewInstrument,
	}
	m.mu.Unlock()

	m.log.Info("rollover pending",
		zap.String("commodity", ev.Commodity),
		zap.String("old", ev.OldInstrument),
		zap.String("new", ev.NewInstrument),
	)
	m.notifier.Notify("rollover pending",
		ev.Commodity+": "+ev.OldInstrument+" -> "+ev.NewInstrument)

	m.trySwitch(ev.Commodity)
}

// onTrade retries the switch whenever a fill might have flattened the
// outgoing contract.
func (m *Manager) onTrade(e event.Event) {
	trade, ok := e.Data.(types.Trade)
	if !ok {
		return
	}

	m.retryFor(trade.Instrument)
}

// onOrder retries the switch when an order on the outgoing contract goes
// terminal. A fill's trade event can arrive while its order still counts
// as active, so waiting for trades alone could leave the switch parked.
func (m *Manager) onOrder(e event.Event) {
	order, ok := e.Data.(types.Order)
	if ok && !order.Status.IsActive() {
		m.retryFor(order.Instrument)
	}
}

func (m *Manager) retryFor(instrument string) {
	m.mu.Lock()
	var commodity string
	for _, st := range m.states {
		if st.phase == PhasePending && st.oldInstrument == instrument {
			commodity = st.commodity

			break
		}
	}
	m.mu.Unlock()

	if commodity != "" {
		m.trySwitch(commodity)
	}
}

// OnSession is invoked once per trading session by the scheduler: stuck
// rollovers escalate, and the switch is retried.
func (m *Manager) OnSession() {
	m.mu.Lock()
	pending := make([]*rollState, 0)
	for _, st := range m.states {
		if st.phase == PhasePending {
			st.sessions++
			pending = append(pending, st)
		}
	}
	m.mu.Unlock()

	for _, st := range pending {
		if st.sessions >= m.escalateAfter {
			m.log.Error("rollover stuck",
				zap.String("commodity", st.commodity),
				zap.Int("sessions", st.sessions),
			)
			m.notifier.Notify("rollover stuck",
				st.commodity+" pending for multiple sessions, close "+st.oldInstrument+" manually")
		}
		m.trySwitch(st.commodity)
	}
}

// trySwitch completes the rollover if every account is flat on the old
// contract with no working orders there.
func (m *Manager) trySwitch(commodity string) {
	m.mu.Lock()
	st, ok := m.states[commodity]
	if !ok || st.phase != PhasePending {
		m.mu.Unlock()

		return
	}

	for _, accountID := range m.accounts.IDs() {
		if m.positions.AggregatePosition(accountID, st.oldInstrument) != 0 {
			m.mu.Unlock()

			return
		}
		for _, order := range m.positions.ActiveOrders(accountID) {
			if order.Instrument == st.oldInstrument {
				m.mu.Unlock()

				return
			}
		}
	}

	st.phase = PhaseSwitching
	oldInstrument := st.oldInstrument
	newInstrument := st.newInstrument
	m.mu.Unlock()

	m.log.Info("rollover switching",
		zap.String("commodity", commodity),
		zap.String("old", oldInstrument),
		zap.String("new", newInstrument),
	)

	// Without a feed on the new contract the switch must not proceed;
	// the commodity stays Pending and the next trade, order, or session
	// event retries.
	if err := m.accounts.Subscribe(newInstrument); err != nil {
		m.log.Error("subscribe to new contract failed, rollover held",
			zap.String("instrument", newInstrument),
			zap.Error(err),
		)

		m.mu.Lock()
		st.phase = PhasePending
		m.mu.Unlock()

		return
	}

	for _, id := range m.instances.InstancesOn(oldInstrument) {
		m.migrate(id, newInstrument)
	}

	m.mu.Lock()
	st.phase = PhaseStable
	st.oldInstrument = newInstrument
	st.sessions = 0
	m.mu.Unlock()

	m.notifier.Notify("rollover complete", commodity+" now on "+newInstrument)
}

// migrate moves one instance to the new contract, restoring its running
// state afterwards. The instance restarts from a clean State because old
// contract history does not apply to the new one.
func (m *Manager) migrate(id, instrument string) {
	status, err := m.instances.Status(id)
	if err != nil {
		m.log.Error("cannot migrate unknown instance", zap.String("instance", id), zap.Error(err))

		return
	}

	wasRunning := status == strategy.StatusRunning
	if wasRunning {
		if err := m.instances.Stop(id); err != nil {
			m.log.Error("stop for migration failed", zap.String("instance", id), zap.Error(err))

			return
		}
	}

	if err := m.instances.Repoint(id, instrument); err != nil {
		m.log.Error("repoint failed", zap.String("instance", id), zap.Error(err))

		return
	}

	if !wasRunning {
		return
	}

	if err := m.instances.Init(id); err != nil {
		m.log.Error("re-init after rollover failed", zap.String("instance", id), zap.Error(err))

		return
	}

	if err := m.instances.Start(id); err != nil {
		m.log.Error("restart after rollover failed", zap.String("instance", id), zap.Error(err))
	}
}
