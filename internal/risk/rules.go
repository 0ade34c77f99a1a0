package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

// ActiveOrderView exposes the working orders a counting rule needs.
type ActiveOrderView interface {
	ActiveOrders(accountID string) []types.Order
}

// MaxVolumeRule caps the volume of a single order.
type MaxVolumeRule struct {
	Max int64
}

func (r *MaxVolumeRule) Name() string { return "max_volume" }

func (r *MaxVolumeRule) Check(req types.OrderRequest) error {
	if req.Volume > r.Max {
		return errors.Newf(errors.ErrCodeRiskDenied, "order volume %d exceeds limit %d", req.Volume, r.Max)
	}

	return nil
}

func (r *MaxVolumeRule) OnSubmit(types.OrderRequest) {}

// MaxActiveOrdersRule caps how many orders may be working at the broker
// at once.
type MaxActiveOrdersRule struct {
	Max  int
	View ActiveOrderView
}

func (r *MaxActiveOrdersRule) Name() string { return "max_active_orders" }

func (r *MaxActiveOrdersRule) Check(req types.OrderRequest) error {
	if active := len(r.View.ActiveOrders(req.AccountID)); active >= r.Max {
		return errors.Newf(errors.ErrCodeRiskDenied, "%d orders already active, limit %d", active, r.Max)
	}

	return nil
}

func (r *MaxActiveOrdersRule) OnSubmit(types.OrderRequest) {}

// DailyOrderLimitRule caps total submissions per calendar day. The counter
// resets when the date changes.
type DailyOrderLimitRule struct {
	Max int
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time

	mu    sync.Mutex
	day   string
	count int
}

func (r *DailyOrderLimitRule) Name() string { return "daily_order_limit" }

func (r *DailyOrderLimitRule) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}

	return time.Now()
}

func (r *DailyOrderLimitRule) Check(types.OrderRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roll()

	if r.count >= r.Max {
		return errors.Newf(errors.ErrCodeRiskDenied, "daily order limit %d reached", r.Max)
	}

	return nil
}

func (r *DailyOrderLimitRule) OnSubmit(types.OrderRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roll()
	r.count++
}

func (r *DailyOrderLimitRule) roll() {
	day := r.now().Format("2006-01-02")
	if day != r.day {
		r.day = day
		r.count = 0
	}
}

// OrderRateRule caps submissions inside a sliding window.
type OrderRateRule struct {
	Max    int
	Window time.Duration
	Now    func() time.Time

	mu    sync.Mutex
	times []time.Time
}

func (r *OrderRateRule) Name() string { return "order_rate" }

func (r *OrderRateRule) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}

	return time.Now()
}

func (r *OrderRateRule) Check(types.OrderRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trim(r.now())

	if len(r.times) >= r.Max {
		return errors.Newf(errors.ErrCodeRiskDenied, "rate limit %d per %s reached", r.Max, r.Window)
	}

	return nil
}

func (r *OrderRateRule) OnSubmit(types.OrderRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.trim(now)
	r.times = append(r.times, now)
}

func (r *OrderRateRule) trim(now time.Time) {
	cutoff := now.Add(-r.Window)
	kept := r.times[:0]
	for _, t := range r.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.times = kept
}

// DuplicateOrderRule rejects a request identical to one submitted moments
// before, guarding against double-fired signals.
type DuplicateOrderRule struct {
	Window time.Duration
	Now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func (r *DuplicateOrderRule) Name() string { return "duplicate_order" }

func (r *DuplicateOrderRule) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}

	return time.Now()
}

func signature(req types.OrderRequest) string {
	return fmt.Sprintf("%s|%s|%s|%s|%g|%d",
		req.AccountID, req.Instrument, req.Direction, req.Offset, req.Price, req.Volume)
}

func (r *DuplicateOrderRule) Check(req types.OrderRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last == nil {
		r.last = make(map[string]time.Time)
	}

	if at, seen := r.last[signature(req)]; seen && r.now().Sub(at) < r.Window {
		return errors.Newf(errors.ErrCodeRiskDenied, "duplicate of order submitted %s ago", r.now().Sub(at))
	}

	return nil
}

func (r *DuplicateOrderRule) OnSubmit(req types.OrderRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last == nil {
		r.last = make(map[string]time.Time)
	}
	r.last[signature(req)] = r.now()
}

var (
	_ Rule = (*MaxVolumeRule)(nil)
	_ Rule = (*MaxActiveOrdersRule)(nil)
	_ Rule = (*DailyOrderLimitRule)(nil)
	_ Rule = (*OrderRateRule)(nil)
	_ Rule = (*DuplicateOrderRule)(nil)
)
