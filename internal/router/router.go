// Package router moves strategy order flow to the gateway. In Automated
// mode collected orders are risk-checked and submitted as they arrive; in
// Assisted mode they are held as proposals until an operator confirms,
// and the confirmation is revalidated against the strategy's live
// advisory outputs.
package router

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harborquant/cta-engine/internal/event"
	"github.com/harborquant/cta-engine/internal/gateway"
	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/risk"
	"github.com/harborquant/cta-engine/internal/strategy"
	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

// Mode selects how an instance's orders reach the gateway.
type Mode string

const (
	ModeAutomated Mode = "AUTOMATED"
	ModeAssisted  Mode = "ASSISTED"
)

// RolloverGuard reports whether opens on an instrument are held by a
// contract switch.
type RolloverGuard interface {
	Blocked(instrument string) bool
}

// Tracker is the slice of order tracking the router needs.
type Tracker interface {
	Bind(orderID, accountID, strategyID string)
	ActiveOrdersByStrategy(strategyID string) []types.Order
}

// VarsView reads an instance's live advisory outputs at confirm time.
type VarsView interface {
	VarsOf(id string) (strategy.Vars, error)
}

// Proposal is an order held for operator confirmation. Its ID is the
// request's ID.
type Proposal struct {
	Request   types.OrderRequest
	CreatedAt time.Time
}

// Router implements the strategy runtime's RouteFunc.
type Router struct {
	log      *logger.Logger
	bus      *event.Bus
	gw       gateway.Gateway
	risk     *risk.Engine
	rollover RolloverGuard
	tracker  Tracker
	vars     VarsView

	mu        sync.Mutex
	modes     map[string]Mode
	proposals map[string]Proposal // request ID -> proposal
	byOwner   map[string][]string // instance ID -> request IDs
}

// NewRouter creates a router. Instances default to Automated mode.
func NewRouter(
	bus *event.Bus,
	gw gateway.Gateway,
	riskEngine *risk.Engine,
	guard RolloverGuard,
	tracker Tracker,
	vars VarsView,
	log *logger.Logger,
) *Router {
	return &Router{
		log:       log,
		bus:       bus,
		gw:        gw,
		risk:      riskEngine,
		rollover:  guard,
		tracker:   tracker,
		vars:      vars,
		modes:     make(map[string]Mode),
		proposals: make(map[string]Proposal),
		byOwner:   make(map[string][]string),
	}
}

// SetMode selects the instance's routing mode.
func (r *Router) SetMode(instanceID string, mode Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes[instanceID] = mode
}

// ModeOf returns the instance's routing mode.
func (r *Router) ModeOf(instanceID string) Mode {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mode, ok := r.modes[instanceID]; ok {
		return mode
	}

	return ModeAutomated
}

// Route receives the orders one callback collected. Automated instances
// submit immediately; assisted instances replace their standing proposals
// with the fresh advice.
func (r *Router) Route(instanceID string, reqs []types.OrderRequest) {
	if r.ModeOf(instanceID) == ModeAssisted {
		r.propose(instanceID, reqs)

		return
	}

	for _, req := range reqs {
		if err := r.Submit(req); err != nil {
			r.log.Warn("order not submitted",
				zap.String("instance", instanceID),
				zap.String("instrument", req.Instrument),
				zap.Error(err),
			)
		}
	}
}

// Submit runs one request through validation, the rollover guard, and the
// risk engine, then hands it to the gateway and binds the returned order
// to its owner.
func (r *Router) Submit(req types.OrderRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	if req.Offset == types.OffsetOpen && r.rollover.Blocked(req.Instrument) {
		err := errors.Newf(errors.ErrCodeRolloverBlocked,
			"opens on %s held until rollover completes", req.Instrument)
		r.rejectToOwner(req)

		return err
	}

	if err := r.risk.Check(req); err != nil {
		r.rejectToOwner(req)

		return err
	}

	orderID, err := r.gw.SubmitOrder(req)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeOrderSubmitFailed, err, "gateway rejected order for %s", req.Instrument)
	}

	r.tracker.Bind(orderID, req.AccountID, req.StrategyID)
	r.risk.RecordSubmit(req)
	r.log.Info("order submitted",
		zap.String("order_id", orderID),
		zap.String("strategy", req.StrategyID),
		zap.String("instrument", req.Instrument),
		zap.String("direction", string(req.Direction)),
		zap.String("offset", string(req.Offset)),
		zap.Int64("volume", req.Volume),
	)

	return nil
}

// rejectToOwner publishes a rejected order for a request that never
// reached the gateway, so the owning strategy's OnOrder observes the
// denial like any other terminal order update.
func (r *Router) rejectToOwner(req types.OrderRequest) {
	r.bus.Publish(event.Event{Type: event.TypeOrderUpdate, Data: types.Order{
		OrderID:    req.ID,
		AccountID:  req.AccountID,
		StrategyID: req.StrategyID,
		Instrument: req.Instrument,
		Direction:  req.Direction,
		Offset:     req.Offset,
		Price:      req.Price,
		Volume:     req.Volume,
		Status:     types.OrderStatusRejected,
		CreatedAt:  time.Now(),
	}})
}

// propose replaces the instance's standing proposals. Stale advice must
// not remain confirmable once the strategy has produced newer orders.
func (r *Router) propose(instanceID string, reqs []types.OrderRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.byOwner[instanceID] {
		delete(r.proposals, id)
	}
	r.byOwner[instanceID] = r.byOwner[instanceID][:0]

	now := time.Now()
	for _, req := range reqs {
		r.proposals[req.ID] = Proposal{Request: req, CreatedAt: now}
		r.byOwner[instanceID] = append(r.byOwner[instanceID], req.ID)
	}
}

// Proposals lists the instance's orders awaiting confirmation.
func (r *Router) Proposals(instanceID string) []Proposal {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Proposal, 0, len(r.byOwner[instanceID]))
	for _, id := range r.byOwner[instanceID] {
		if p, ok := r.proposals[id]; ok {
			out = append(out, p)
		}
	}

	return out
}

// Confirm submits a held proposal. The strategy's advisory outputs are
// re-read at confirm time: an open the strategy no longer permits, or a
// volume above its current suggestion, is rejected.
func (r *Router) Confirm(proposalID string) error {
	// Claim the proposal before submitting so two concurrent confirms
	// cannot both send it. A failed confirm puts it back.
	r.mu.Lock()
	proposal, ok := r.proposals[proposalID]
	if !ok {
		r.mu.Unlock()

		return errors.Newf(errors.ErrCodeInvalidOrder, "proposal %s not found", proposalID)
	}
	delete(r.proposals, proposalID)
	r.mu.Unlock()

	restore := func() {
		r.mu.Lock()
		r.proposals[proposalID] = proposal
		r.mu.Unlock()
	}

	req := proposal.Request

	vars, err := r.vars.VarsOf(req.StrategyID)
	if err != nil {
		restore()

		return err
	}

	if req.Offset == types.OffsetOpen {
		if req.Direction == types.DirectionLong && !vars.AllowOpenLong {
			restore()

			return errors.Newf(errors.ErrCodeConfirmNotPermitted,
				"strategy %s no longer permits opening long", req.StrategyID)
		}
		if req.Direction == types.DirectionShort && !vars.AllowOpenShort {
			restore()

			return errors.Newf(errors.ErrCodeConfirmNotPermitted,
				"strategy %s no longer permits opening short", req.StrategyID)
		}

		if vars.SuggestVolume.IsSome() && req.Volume > vars.SuggestVolume.Unwrap() {
			restore()

			return errors.Newf(errors.ErrCodeConfirmNotPermitted,
				"volume %d exceeds current suggestion %d", req.Volume, vars.SuggestVolume.Unwrap())
		}
	}

	req.Reason = types.OrderReasonConfirm
	if err := r.Submit(req); err != nil {
		restore()

		return err
	}

	return nil
}

// Reject discards a held proposal.
func (r *Router) Reject(proposalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.proposals[proposalID]; !ok {
		return errors.Newf(errors.ErrCodeInvalidOrder, "proposal %s not found", proposalID)
	}
	delete(r.proposals, proposalID)

	return nil
}

// CancelAll cancels the instance's working orders and discards its held
// proposals. Installed as the runtime's stop hook.
func (r *Router) CancelAll(instanceID string) {
	for _, order := range r.tracker.ActiveOrdersByStrategy(instanceID) {
		if err := r.gw.CancelOrder(order.AccountID, order.OrderID); err != nil {
			r.log.Warn("cancel failed",
				zap.String("order_id", order.OrderID),
				zap.Error(err),
			)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.byOwner[instanceID] {
		delete(r.proposals, id)
	}
	delete(r.byOwner, instanceID)
}
