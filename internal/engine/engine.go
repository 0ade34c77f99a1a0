// Package engine assembles the full runtime: event bus, gateway adapter,
// account registry, contract resolver, strategy runtime, rollover
// manager, order tracking, risk checks, and the signal router.
package engine

import (
	"go.uber.org/zap"

	"github.com/harborquant/cta-engine/internal/account"
	"github.com/harborquant/cta-engine/internal/contract"
	"github.com/harborquant/cta-engine/internal/event"
	"github.com/harborquant/cta-engine/internal/gateway"
	"github.com/harborquant/cta-engine/internal/history"
	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/notify"
	"github.com/harborquant/cta-engine/internal/position"
	"github.com/harborquant/cta-engine/internal/risk"
	"github.com/harborquant/cta-engine/internal/rollover"
	"github.com/harborquant/cta-engine/internal/router"
	"github.com/harborquant/cta-engine/internal/sched"
	"github.com/harborquant/cta-engine/internal/store"
	"github.com/harborquant/cta-engine/internal/strategy"
	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

// GatewayFactory builds the brokerage adapter against the engine's bus.
type GatewayFactory func(bus *event.Bus, log *logger.Logger) gateway.Gateway

// Engine owns every component and their lifecycles.
type Engine struct {
	cfg *Config
	log *logger.Logger

	bus       *event.Bus
	gw        gateway.Gateway
	store     store.Store
	barCache  *history.MemorySource
	barDB     *history.DuckDBSource
	journal   position.TradeJournal
	tracker   *position.Tracker
	riskEng   *risk.Engine
	resolver  *contract.Resolver
	registry  *account.Registry
	runtime   *strategy.Runtime
	router    *router.Router
	rollover  *rollover.Manager
	notifier  notify.Notifier
	scheduler *sched.Scheduler

	// commodities names the commodity codes traded by configured
	// instances. Every listed contract of these commodities is
	// subscribed so main-contract detection sees their open interest.
	commodities map[string]bool

	closers []func() error
}

// New builds an engine from config. Components are wired but nothing
// connects until Start.
func New(cfg *Config, factory GatewayFactory, log *logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		log:         log,
		bus:         event.NewBus(log),
		barCache:    history.NewMemorySource(),
		resolver:    contract.NewResolver(log),
		scheduler:   sched.New(log),
		commodities: make(map[string]bool),
	}

	e.gw = factory(e.bus, log)

	st, err := store.NewDuckDBStore(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	e.store = st
	e.closers = append(e.closers, st.Close)

	if cfg.BarsPath != "" {
		barDB, err := history.NewDuckDBSource(cfg.BarsPath)
		if err != nil {
			return nil, err
		}
		e.barDB = barDB
		e.closers = append(e.closers, barDB.Close)
	}

	e.journal = position.NopJournal{}
	if cfg.JournalPath != "" {
		journal, err := position.NewDuckDBJournal(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		e.journal = journal
		e.closers = append(e.closers, journal.Close)
	}

	e.notifier = notify.Nop{}
	if cfg.WebhookURL != "" {
		webhook := notify.NewWebhook(cfg.WebhookURL, log)
		e.notifier = webhook
		e.closers = append(e.closers, func() error {
			webhook.Close()

			return nil
		})
	}

	e.tracker = position.NewTracker(e.bus, e.journal, log)
	e.riskEng = risk.NewEngine(e.bus, log)
	e.registry = account.NewRegistry(e.bus, e.gw, log)
	e.runtime = strategy.NewRuntime(e.bus, e.store, e.warmupSource(), e.tracker, e.tracker, log)
	e.rollover = rollover.NewManager(
		e.bus, e.tracker, e.registry, e.runtime,
		e.notifier, cfg.Rollover.EscalateAfterSessions, log,
	)
	e.router = router.NewRouter(e.bus, e.gw, e.riskEng, e.rollover, e.tracker, e.runtime, log)

	e.runtime.SetRoute(e.router.Route)
	e.runtime.SetCancelAll(e.router.CancelAll)

	for _, accountCfg := range cfg.Accounts {
		if err := e.registry.Add(accountCfg.ID, accountCfg.Role, accountCfg.Credentials); err != nil {
			return nil, err
		}
		e.applyRiskRules(accountCfg)
	}

	// A broken instance config disables that instance only; the rest of
	// the engine still comes up.
	for _, entry := range cfg.Instances {
		if err := e.addInstance(entry); err != nil {
			e.log.Error("instance disabled, configuration rejected",
				zap.String("instance", entry.ID),
				zap.Error(err),
			)
			e.notifier.Notify("instance disabled", entry.ID+": "+err.Error())
		}
	}

	e.bus.Subscribe(event.TypeContractInited, e.onContractInited)
	e.bus.Subscribe(event.TypeTick, e.onTick)
	e.bus.Subscribe(event.TypeBar, e.onBar)

	if at := cfg.Rollover.DailyCheck; at != "" {
		if err := e.scheduler.Daily("rollover-check", at, e.DailyCheck); err != nil {
			return nil, err
		}
	}

	return e, nil
}

func (e *Engine) applyRiskRules(cfg AccountConfig) {
	if cfg.Risk.MaxVolume > 0 {
		e.riskEng.AddRule(cfg.ID, &risk.MaxVolumeRule{Max: cfg.Risk.MaxVolume})
	}
	if cfg.Risk.MaxActiveOrders > 0 {
		e.riskEng.AddRule(cfg.ID, &risk.MaxActiveOrdersRule{Max: cfg.Risk.MaxActiveOrders, View: e.tracker})
	}
	if cfg.Risk.DailyOrderLimit > 0 {
		e.riskEng.AddRule(cfg.ID, &risk.DailyOrderLimitRule{Max: cfg.Risk.DailyOrderLimit})
	}
	if cfg.Risk.OrderRateMax > 0 && cfg.Risk.OrderRateWindow > 0 {
		e.riskEng.AddRule(cfg.ID, &risk.OrderRateRule{Max: cfg.Risk.OrderRateMax, Window: cfg.Risk.OrderRateWindow})
	}
	if cfg.Risk.DuplicateWindow > 0 {
		e.riskEng.AddRule(cfg.ID, &risk.DuplicateOrderRule{Window: cfg.Risk.DuplicateWindow})
	}
}

func (e *Engine) addInstance(entry InstanceEntry) error {
	factory, err := strategy.Lookup(entry.Strategy)
	if err != nil {
		return err
	}

	if err := e.runtime.Add(entry.InstanceConfig, factory); err != nil {
		return err
	}

	if entry.Mode != "" {
		e.router.SetMode(entry.ID, router.Mode(entry.Mode))
	}

	// Seed the main-contract mapping so later detection that disagrees
	// raises a rollover instead of silently diverging.
	symbol, exchange, err := contract.SplitInstrument(entry.Instrument)
	if err != nil {
		return err
	}
	commodity := contract.Commodity(contract.ToStandard(symbol, exchange))
	if commodity == "" {
		return errors.Newf(errors.ErrCodeInvalidSymbol, "cannot derive commodity from %s", entry.Instrument)
	}
	e.resolver.SetMainContract(commodity, entry.Instrument)
	e.commodities[commodity] = true

	return nil
}

// startInstance brings one configured instance to Running. A failure is
// local to the instance.
func (e *Engine) startInstance(id string) error {
	if _, err := e.runtime.Status(id); err != nil {
		// Disabled during construction.
		return nil
	}

	if err := e.runtime.Init(id); err != nil {
		return err
	}

	return e.runtime.Start(id)
}

// warmupSource serves warm-up bars from the DuckDB file when configured,
// falling back to the in-memory cache.
func (e *Engine) warmupSource() history.BarSource {
	if e.barDB != nil {
		return e.barDB
	}

	return e.barCache
}

func (e *Engine) onContractInited(ev event.Event) {
	data, ok := ev.Data.(gateway.ContractInited)
	if !ok {
		return
	}

	e.resolver.AddContracts(data.Contracts)
	e.log.Info("contract table loaded",
		zap.String("account", data.AccountID),
		zap.Int("contracts", len(data.Contracts)),
	)

	// Detection compares open interest across a commodity's contracts,
	// so siblings of traded instruments need a feed too. The registry
	// collapses duplicate subscriptions.
	for _, c := range data.Contracts {
		if !e.commodities[c.Commodity] {
			continue
		}
		if err := e.registry.Subscribe(c.Instrument); err != nil {
			e.log.Warn("sibling subscription failed",
				zap.String("instrument", c.Instrument),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) onTick(ev event.Event) {
	tick, ok := ev.Data.(types.Tick)
	if !ok {
		return
	}

	e.resolver.ObserveTick(tick)
}

func (e *Engine) onBar(ev event.Event) {
	bar, ok := ev.Data.(types.Bar)
	if !ok {
		return
	}

	e.barCache.Add(bar)
	if e.barDB != nil {
		if err := e.barDB.WriteBar(bar); err != nil {
			e.log.Error("bar write failed", zap.String("instrument", bar.Instrument), zap.Error(err))
		}
	}
}

// Start connects every account, waits for the connection events to
// settle, subscribes market data for all instances, reconciles positions
// against the broker, and brings autostart instances to Running.
func (e *Engine) Start() error {
	for _, accountCfg := range e.cfg.Accounts {
		if err := e.registry.Connect(accountCfg.ID); err != nil {
			return err
		}
	}
	e.bus.Flush()

	primary, err := e.registry.Primary()
	if err != nil {
		return err
	}
	if !e.registry.IsLoggedIn(primary) {
		return errors.Newf(errors.ErrCodeLoginFailed,
			"primary account %s not logged in: %s", primary, e.registry.LastError(primary))
	}

	for _, entry := range e.cfg.Instances {
		instrument, err := e.runtime.InstrumentOf(entry.ID)
		if err != nil {
			// Disabled during construction.
			continue
		}
		if err := e.registry.Subscribe(instrument); err != nil {
			return err
		}
	}

	for _, id := range e.registry.IDs() {
		if !e.registry.IsLoggedIn(id) {
			continue
		}
		if _, err := e.tracker.Reconcile(id, e.gw); err != nil {
			e.log.Warn("reconciliation failed", zap.String("account", id), zap.Error(err))
		}
	}

	for _, entry := range e.cfg.Instances {
		if !entry.AutoStart {
			continue
		}
		if err := e.startInstance(entry.ID); err != nil {
			e.log.Error("instance failed to start",
				zap.String("instance", entry.ID),
				zap.Error(err),
			)
			e.notifier.Notify("instance failed to start", entry.ID+": "+err.Error())
		}
	}

	e.scheduler.Start()
	e.log.Info("engine started",
		zap.Int("accounts", len(e.cfg.Accounts)),
		zap.Int("instances", len(e.cfg.Instances)),
	)

	return nil
}

// Stop brings everything down in dependency order: strategies first, then
// the scheduler, the bus, and finally storage.
func (e *Engine) Stop() {
	e.runtime.StopAll()
	e.bus.Flush()
	e.scheduler.Stop()
	e.bus.Close()

	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.Error("close failed", zap.Error(err))
		}
	}

	e.log.Info("engine stopped")
}

// DailyCheck re-detects main contracts from observed open interest,
// raises rollovers for commodities whose main moved, and advances stuck
// rollovers.
func (e *Engine) DailyCheck() {
	for _, ev := range e.resolver.DetectAll() {
		e.bus.Publish(event.Event{Type: event.TypeRollover, Data: ev})
	}
	e.bus.Flush()
	e.rollover.OnSession()
}

// Bus exposes the event bus, used by adapters and tests.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Runtime exposes instance lifecycle operations.
func (e *Engine) Runtime() *strategy.Runtime { return e.runtime }

// Router exposes proposal confirmation for assisted instances.
func (e *Engine) Router() *router.Router { return e.router }

// Tracker exposes order and position state.
func (e *Engine) Tracker() *position.Tracker { return e.tracker }

// Rollover exposes rollover phases.
func (e *Engine) Rollover() *rollover.Manager { return e.rollover }
