package strategy

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/harborquant/cta-engine/internal/event"
	"github.com/harborquant/cta-engine/internal/history"
	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/store"
	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

// PositionView exposes the net position an instance context reads.
type PositionView interface {
	Position(accountID, instrument, strategyID string) types.Position
}

// OwnerView maps gateway order IDs back to the owning instance.
type OwnerView interface {
	Owner(orderID string) (string, bool)
}

// RouteFunc receives the orders collected during one callback. The router
// decides whether they are submitted or held for confirmation.
type RouteFunc func(instanceID string, reqs []types.OrderRequest)

// CancelAllFunc cancels the instance's working orders during Stop.
type CancelAllFunc func(instanceID string)

// InstanceConfig declares one strategy instance.
type InstanceConfig struct {
	ID         string         `yaml:"id" json:"id" validate:"required"`
	Strategy   string         `yaml:"strategy" json:"strategy" validate:"required"`
	AccountID  string         `yaml:"account_id" json:"account_id" validate:"required"`
	Instrument string         `yaml:"instrument" json:"instrument" validate:"required"`
	Interval   types.Interval `yaml:"interval" json:"interval" validate:"required,oneof=1m 1h d"`
	WarmupBars int            `yaml:"warmup_bars" json:"warmup_bars" validate:"gte=0"`
	Params     map[string]any `yaml:"params" json:"params"`
}

// Validate validates the InstanceConfig struct.
func (c *InstanceConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid instance config", err)
	}

	return nil
}

type instance struct {
	cfg        InstanceConfig
	factory    Factory
	strategy   Strategy
	status     Status
	instrument string
	vars       Vars
	// pending collects order requests produced inside the current
	// callback; they are routed after the callback returns.
	pending []types.OrderRequest
	// warming suppresses order routing during bar replay.
	warming bool
	log     *logger.Logger
}

// Runtime owns all strategy instances, drives their callbacks from bus
// events, and enforces the lifecycle
// Created -> Initialized -> Running -> Stopped.
type Runtime struct {
	log       *logger.Logger
	bus       *event.Bus
	store     store.Store
	bars      history.BarSource
	positions PositionView
	owners    OwnerView

	route     RouteFunc
	cancelAll CancelAllFunc

	// mu serializes every callback and lifecycle operation; strategies
	// never run concurrently with themselves or each other.
	mu           sync.Mutex
	instances    map[string]*instance
	byInstrument map[string][]*instance
}

// NewRuntime creates a runtime subscribed to market and execution events.
func NewRuntime(
	bus *event.Bus,
	st store.Store,
	bars history.BarSource,
	positions PositionView,
	owners OwnerView,
	log *logger.Logger,
) *Runtime {
	r := &Runtime{
		log:          log,
		bus:          bus,
		store:        st,
		bars:         bars,
		positions:    positions,
		owners:       owners,
		route:        func(string, []types.OrderRequest) {},
		cancelAll:    func(string) {},
		instances:    make(map[string]*instance),
		byInstrument: make(map[string][]*instance),
	}

	bus.Subscribe(event.TypeTick, r.onTick)
	bus.Subscribe(event.TypeBar, r.onBar)
	bus.Subscribe(event.TypeOrderUpdate, r.onOrderUpdate)
	bus.Subscribe(event.TypeTradeUpdate, r.onTradeUpdate)

	return r
}

// SetRoute installs the order sink. Must be called before any instance
// starts.
func (r *Runtime) SetRoute(route RouteFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.route = route
}

// SetCancelAll installs the cancel hook used during Stop.
func (r *Runtime) SetCancelAll(cancel CancelAllFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelAll = cancel
}

// Add registers an instance in Created status. Params are applied to a
// fresh strategy value and validated; a validation failure rejects the
// instance entirely.
func (r *Runtime) Add(cfg InstanceConfig, factory Factory) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[cfg.ID]; exists {
		return errors.Newf(errors.ErrCodeStrategyDuplicate, "instance %s already exists", cfg.ID)
	}

	inst := &instance{
		cfg:        cfg,
		factory:    factory,
		strategy:   factory(),
		status:     StatusCreated,
		instrument: cfg.Instrument,
		log:        r.log.Named(cfg.ID),
	}

	if err := applyParams(inst.strategy, cfg.Params); err != nil {
		return err
	}
	if err := r.syncParams(inst); err != nil {
		return err
	}

	r.instances[cfg.ID] = inst
	r.byInstrument[inst.instrument] = append(r.byInstrument[inst.instrument], inst)
	r.log.Info("instance added",
		zap.String("instance", cfg.ID),
		zap.String("strategy", inst.strategy.Name()),
		zap.String("instrument", inst.instrument),
	)

	return nil
}

// applyParams unmarshals the raw config into the strategy's Params struct
// and validates it.
func applyParams(s Strategy, raw map[string]any) error {
	if raw != nil {
		encoded, err := yaml.Marshal(raw)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidParameter, "failed to encode params", err)
		}

		if err := yaml.Unmarshal(encoded, s.Params()); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidParameter, "failed to decode params", err)
		}
	}

	if err := validate.Struct(s.Params()); err != nil {
		return errors.Wrap(errors.ErrCodeParamsOutOfRange, "params failed validation", err)
	}

	return nil
}

var validate = validator.New()

// Init moves the instance from Created (or Stopped) to Initialized:
// persisted State is restored, OnInit runs, then recent bars replay
// through OnBar with order routing suppressed so indicators warm up.
func (r *Runtime) Init(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.get(id)
	if err != nil {
		return err
	}

	if inst.status != StatusCreated && inst.status != StatusStopped {
		return errors.Newf(errors.ErrCodeStrategyInitFailed, "instance %s is %s, cannot init", id, inst.status)
	}

	if raw, ok, err := r.store.Get(stateKey(id)); err != nil {
		return errors.Wrapf(errors.ErrCodeStoreReadFailed, err, "failed to load state for %s", id)
	} else if ok {
		if err := yaml.Unmarshal(raw, inst.strategy.State()); err != nil {
			return errors.Wrapf(errors.ErrCodeStrategyInitFailed, err, "failed to restore state for %s", id)
		}
	}

	ctx := r.contextFor(inst)
	if err := inst.strategy.OnInit(ctx); err != nil {
		return errors.Wrapf(errors.ErrCodeStrategyInitFailed, err, "OnInit failed for %s", id)
	}

	if inst.cfg.WarmupBars > 0 {
		bars, err := r.bars.Bars(inst.instrument, inst.cfg.Interval, inst.cfg.WarmupBars)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeHistoricalDataFailed, err, "warm-up failed for %s", id)
		}

		inst.warming = true
		for _, bar := range bars {
			inst.strategy.OnBar(ctx, bar)
			inst.pending = inst.pending[:0]
		}
		inst.warming = false
	}

	inst.status = StatusInitialized
	inst.log.Info("instance initialized", zap.String("instrument", inst.instrument))
	r.publishSignal(inst)

	return nil
}

// Start moves an Initialized instance to Running.
func (r *Runtime) Start(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.get(id)
	if err != nil {
		return err
	}

	if inst.status != StatusInitialized {
		return errors.Newf(errors.ErrCodeStrategyNotRunning, "instance %s is %s, cannot start", id, inst.status)
	}

	if err := inst.strategy.OnStart(r.contextFor(inst)); err != nil {
		return errors.Wrapf(errors.ErrCodeStrategyInitFailed, err, "OnStart failed for %s", id)
	}

	inst.status = StatusRunning
	inst.log.Info("instance running")
	r.flushPending(inst)
	r.publishSignal(inst)

	return nil
}

// Stop halts a Running instance: OnStop runs, its working orders are
// cancelled, and State is synced to the store. Stopping an instance that
// is not Running is a no-op.
func (r *Runtime) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stopLocked(id)
}

func (r *Runtime) stopLocked(id string) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}

	if inst.status != StatusRunning {
		return nil
	}

	if err := inst.strategy.OnStop(r.contextFor(inst)); err != nil {
		inst.log.Error("OnStop failed", zap.Error(err))
	}
	inst.pending = inst.pending[:0]

	r.cancelAll(id)

	if err := r.syncState(inst); err != nil {
		inst.log.Error("state sync failed on stop", zap.Error(err))
	}

	inst.status = StatusStopped
	inst.log.Info("instance stopped")
	r.publishSignal(inst)

	return nil
}

// Reset discards a Stopped instance's State entirely: the persisted copy
// is deleted and the strategy value is rebuilt from its factory with the
// same Params. The instance returns to Created.
func (r *Runtime) Reset(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.get(id)
	if err != nil {
		return err
	}

	if inst.status == StatusRunning {
		return errors.Newf(errors.ErrCodeInstanceNotStopped, "instance %s is running, stop it first", id)
	}

	if err := r.store.Delete(stateKey(id)); err != nil {
		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to delete state for %s", id)
	}

	inst.strategy = inst.factory()
	if err := applyParams(inst.strategy, inst.cfg.Params); err != nil {
		return err
	}

	inst.vars = Vars{}
	inst.status = StatusCreated
	inst.log.Info("instance reset")

	return nil
}

// Repoint moves the instance onto a new concrete instrument after a
// contract switch. The instance must not be running; its State is
// discarded because indicator history from the old contract does not
// carry over.
func (r *Runtime) Repoint(id, instrument string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.get(id)
	if err != nil {
		return err
	}

	if inst.status == StatusRunning {
		return errors.Newf(errors.ErrCodeInstanceNotStopped, "instance %s is running, stop it first", id)
	}

	old := inst.instrument
	r.byInstrument[old] = removeInstance(r.byInstrument[old], inst)
	inst.instrument = instrument
	r.byInstrument[instrument] = append(r.byInstrument[instrument], inst)

	if err := r.store.Delete(stateKey(id)); err != nil {
		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to delete state for %s", id)
	}

	inst.strategy = inst.factory()
	if err := applyParams(inst.strategy, inst.cfg.Params); err != nil {
		return err
	}

	inst.vars = Vars{}
	inst.status = StatusCreated
	inst.log.Info("instance repointed",
		zap.String("from", old),
		zap.String("to", instrument),
	)

	return nil
}

// Status returns the instance's lifecycle status.
func (r *Runtime) Status(id string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.get(id)
	if err != nil {
		return "", err
	}

	return inst.status, nil
}

// VarsOf returns a copy of the instance's current advisory outputs.
func (r *Runtime) VarsOf(id string) (Vars, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.get(id)
	if err != nil {
		return Vars{}, err
	}

	return inst.vars, nil
}

// InstrumentOf returns the concrete instrument the instance trades.
func (r *Runtime) InstrumentOf(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.get(id)
	if err != nil {
		return "", err
	}

	return inst.instrument, nil
}

// AccountOf returns the account the instance trades through.
func (r *Runtime) AccountOf(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.get(id)
	if err != nil {
		return "", err
	}

	return inst.cfg.AccountID, nil
}

// IDs lists all instance IDs.
func (r *Runtime) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}

	return ids
}

// InstancesOn lists instance IDs trading the instrument.
func (r *Runtime) InstancesOn(instrument string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.byInstrument[instrument]))
	for _, inst := range r.byInstrument[instrument] {
		ids = append(ids, inst.cfg.ID)
	}

	return ids
}

// StopAll stops every running instance. Used during shutdown.
func (r *Runtime) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, inst := range r.instances {
		if inst.status == StatusRunning {
			if err := r.stopLocked(id); err != nil {
				r.log.Error("stop failed during shutdown",
					zap.String("instance", id),
					zap.Error(err),
				)
			}
		}
	}
}

func (r *Runtime) get(id string) (*instance, error) {
	inst, ok := r.instances[id]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "instance %s not found", id)
	}

	return inst, nil
}

func (r *Runtime) onTick(e event.Event) {
	tick, ok := e.Data.(types.Tick)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, inst := range r.byInstrument[tick.Instrument] {
		if inst.status != StatusRunning {
			continue
		}

		inst.strategy.OnTick(r.contextFor(inst), tick)
		r.flushPending(inst)
		r.publishSignal(inst)
	}
}

func (r *Runtime) onBar(e event.Event) {
	bar, ok := e.Data.(types.Bar)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, inst := range r.byInstrument[bar.Instrument] {
		if inst.status != StatusRunning || inst.cfg.Interval != bar.Interval {
			continue
		}

		inst.strategy.OnBar(r.contextFor(inst), bar)
		r.flushPending(inst)
		r.publishSignal(inst)
	}
}

func (r *Runtime) onOrderUpdate(e event.Event) {
	order, ok := e.Data.(types.Order)
	if !ok {
		return
	}

	id, owned := r.owners.Owner(order.OrderID)
	if !owned {
		id = order.StrategyID
	}
	if id == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.get(id)
	if err != nil || inst.status != StatusRunning {
		return
	}

	inst.strategy.OnOrder(r.contextFor(inst), order)
	r.flushPending(inst)
	r.publishSignal(inst)
}

func (r *Runtime) onTradeUpdate(e event.Event) {
	trade, ok := e.Data.(types.Trade)
	if !ok {
		return
	}

	id, owned := r.owners.Owner(trade.OrderID)
	if !owned {
		id = trade.StrategyID
	}
	if id == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.get(id)
	if err != nil || inst.status != StatusRunning {
		return
	}

	inst.strategy.OnTrade(r.contextFor(inst), trade)
	r.flushPending(inst)
	r.publishSignal(inst)

	// Fills change State-bearing values like pos; sync immediately so a
	// crash cannot lose the fill.
	if err := r.syncState(inst); err != nil {
		inst.log.Error("state sync failed after trade", zap.Error(err))
	}
}

// flushPending hands the callback's collected orders to the router.
func (r *Runtime) flushPending(inst *instance) {
	if len(inst.pending) == 0 {
		return
	}

	reqs := make([]types.OrderRequest, len(inst.pending))
	copy(reqs, inst.pending)
	inst.pending = inst.pending[:0]

	if inst.warming {
		return
	}

	r.route(inst.cfg.ID, reqs)
}

func (r *Runtime) publishSignal(inst *instance) {
	r.bus.Publish(event.Event{Type: event.TypeSignal, Data: Signal{
		StrategyID: inst.cfg.ID,
		Instrument: inst.instrument,
		Vars:       inst.vars,
		At:         time.Now(),
	}})
}

func (r *Runtime) syncState(inst *instance) error {
	encoded, err := yaml.Marshal(inst.strategy.State())
	if err != nil {
		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to encode state for %s", inst.cfg.ID)
	}

	return r.store.Put(stateKey(inst.cfg.ID), encoded)
}

// syncParams writes the validated Params record through the store
// boundary so operators can inspect the effective configuration after a
// restart. Config remains the source of truth on the next Add.
func (r *Runtime) syncParams(inst *instance) error {
	encoded, err := yaml.Marshal(inst.strategy.Params())
	if err != nil {
		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to encode params for %s", inst.cfg.ID)
	}

	return r.store.Put(paramsKey(inst.cfg.ID), encoded)
}

func stateKey(id string) string { return "state/" + id }

func paramsKey(id string) string { return "params/" + id }

func removeInstance(list []*instance, target *instance) []*instance {
	kept := list[:0]
	for _, inst := range list {
		if inst != target {
			kept = append(kept, inst)
		}
	}

	return kept
}

// runtimeContext implements Context for one callback.
type runtimeContext struct {
	rt   *Runtime
	inst *instance
}

func (r *Runtime) contextFor(inst *instance) *runtimeContext {
	return &runtimeContext{rt: r, inst: inst}
}

func (c *runtimeContext) StrategyID() string { return c.inst.cfg.ID }
func (c *runtimeContext) AccountID() string  { return c.inst.cfg.AccountID }
func (c *runtimeContext) Instrument() string { return c.inst.instrument }
func (c *runtimeContext) Vars() *Vars        { return &c.inst.vars }

func (c *runtimeContext) Logger() *logger.Logger { return c.inst.log }

func (c *runtimeContext) Position() types.Position {
	return c.rt.positions.Position(c.inst.cfg.AccountID, c.inst.instrument, c.inst.cfg.ID)
}

func (c *runtimeContext) Buy(price float64, volume int64) {
	c.collect(types.DirectionLong, types.OffsetOpen, price, volume)
}

func (c *runtimeContext) Sell(price float64, volume int64) {
	c.collect(types.DirectionShort, types.OffsetClose, price, volume)
}

func (c *runtimeContext) Short(price float64, volume int64) {
	c.collect(types.DirectionShort, types.OffsetOpen, price, volume)
}

func (c *runtimeContext) Cover(price float64, volume int64) {
	c.collect(types.DirectionLong, types.OffsetClose, price, volume)
}

func (c *runtimeContext) collect(direction types.Direction, offset types.Offset, price float64, volume int64) {
	c.inst.pending = append(c.inst.pending, types.OrderRequest{
		ID:         uuid.New().String(),
		AccountID:  c.inst.cfg.AccountID,
		StrategyID: c.inst.cfg.ID,
		Instrument: c.inst.instrument,
		Direction:  direction,
		Offset:     offset,
		Price:      price,
		Volume:     volume,
		Reason:     types.OrderReasonStrategy,
	})
}

var _ Context = (*runtimeContext)(nil)
