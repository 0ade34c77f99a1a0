// Package risk evaluates every outbound order against per-account rule
// sets before it reaches the gateway. Rules are isolated by account: one
// account's limits never throttle another's flow.
package risk

import (
	"sync"

	"go.uber.org/zap"

	"github.com/harborquant/cta-engine/internal/event"
	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

// Rule is one pre-submit check. Check returns nil to pass; OnSubmit is
// invoked after the gateway accepts the order so counting rules can
// advance their state.
type Rule interface {
	Name() string
	Check(req types.OrderRequest) error
	OnSubmit(req types.OrderRequest)
}

// Denial is published on the bus when a rule rejects an order.
type Denial struct {
	Request types.OrderRequest
	Rule    string
	Reason  string
}

// Engine holds the per-account rule sets.
type Engine struct {
	log *logger.Logger
	bus *event.Bus

	mu    sync.RWMutex
	rules map[string][]Rule
}

// NewEngine creates an empty risk engine publishing denials onto bus.
func NewEngine(bus *event.Bus, log *logger.Logger) *Engine {
	return &Engine{
		log:   log,
		bus:   bus,
		rules: make(map[string][]Rule),
	}
}

// AddRule attaches a rule to one account. Rules run in attachment order.
func (e *Engine) AddRule(accountID string, rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[accountID] = append(e.rules[accountID], rule)
}

// Check runs the account's rules against the request. The first failing
// rule denies the order; the denial is logged and published.
func (e *Engine) Check(req types.OrderRequest) error {
	e.mu.RLock()
	rules := e.rules[req.AccountID]
	e.mu.RUnlock()

	for _, rule := range rules {
		if err := rule.Check(req); err != nil {
			e.log.Warn("order denied by risk rule",
				zap.String("rule", rule.Name()),
				zap.String("account", req.AccountID),
				zap.String("strategy", req.StrategyID),
				zap.String("instrument", req.Instrument),
				zap.Error(err),
			)
			e.bus.Publish(event.Event{Type: event.TypeRiskDenied, Data: Denial{
				Request: req,
				Rule:    rule.Name(),
				Reason:  err.Error(),
			}})

			return errors.Wrapf(errors.ErrCodeRiskDenied, err, "denied by rule %s", rule.Name())
		}
	}

	return nil
}

// RecordSubmit tells the account's rules that the order went out.
func (e *Engine) RecordSubmit(req types.OrderRequest) {
	e.mu.RLock()
	rules := e.rules[req.AccountID]
	e.mu.RUnlock()

	for _, rule := range rules {
		rule.OnSubmit(req)
	}
}
