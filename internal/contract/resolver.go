package contract

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

// Resolver maps logical commodity codes to their current main-contract
// instrument and detects rollover. Reads are safe for concurrent use;
// main-contract updates are serialized so that every account sharing a
// commodity observes a single consistent mapping.
type Resolver struct {
	log *logger.Logger

	mu sync.RWMutex
	// contracts indexes static info by full instrument code.
	contracts map[string]types.Contract
	// byCommodity lists known instruments per commodity code.
	byCommodity map[string][]string
	// main holds the current main-contract instrument per commodity.
	main map[string]string
	// openInterest tracks the latest observed open interest per
	// instrument, the liquidity measure used for main detection.
	openInterest map[string]float64
}

// NewResolver creates an empty resolver.
func NewResolver(log *logger.Logger) *Resolver {
	return &Resolver{
		log:          log,
		contracts:    make(map[string]types.Contract),
		byCommodity:  make(map[string][]string),
		main:         make(map[string]string),
		openInterest: make(map[string]float64),
	}
}

// AddContracts merges static contract info, typically from a gateway
// ContractInited event. Re-adding an instrument overwrites its info.
func (r *Resolver) AddContracts(contracts []types.Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range contracts {
		if _, known := r.contracts[c.Instrument]; !known {
			r.byCommodity[c.Commodity] = append(r.byCommodity[c.Commodity], c.Instrument)
		}

		r.contracts[c.Instrument] = c
	}
}

// Contract returns static info for a full instrument code.
func (r *Resolver) Contract(instrument string) (types.Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contracts[instrument]
	if !ok {
		return types.Contract{}, errors.Newf(errors.ErrCodeContractNotResolved, "no static info for instrument %s", instrument)
	}

	return c, nil
}

// MainContract returns the current main-contract instrument for a
// commodity code.
func (r *Resolver) MainContract(commodity string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instrument, ok := r.main[commodity]
	if !ok {
		return "", errors.Newf(errors.ErrCodeContractNotResolved, "no main contract for commodity %s", commodity)
	}

	return instrument, nil
}

// ObserveTick records the tick's open interest for main detection.
func (r *Resolver) ObserveTick(tick types.Tick) {
	if tick.OpenInterest <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.openInterest[tick.Instrument] = tick.OpenInterest
}

// SetMainContract forces the mapping for one commodity, returning a
// RolloverEvent when this changes an existing mapping. Seeding a
// commodity for the first time produces no event.
func (r *Resolver) SetMainContract(commodity, instrument string) *types.RolloverEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.setMainLocked(commodity, instrument)
}

// Detect re-evaluates the main contract for one commodity by highest
// observed open interest. Returns a RolloverEvent when the main contract
// changed, nil otherwise.
func (r *Resolver) Detect(commodity string) *types.RolloverEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := r.mostLiquidLocked(commodity)
	if best == "" {
		return nil
	}

	return r.setMainLocked(commodity, best)
}

// DetectAll re-runs detection for every commodity with a current main
// contract or known instruments. Used by the daily scheduled check.
func (r *Resolver) DetectAll() []types.RolloverEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []types.RolloverEvent

	for commodity := range r.byCommodity {
		best := r.mostLiquidLocked(commodity)
		if best == "" {
			continue
		}

		if ev := r.setMainLocked(commodity, best); ev != nil {
			events = append(events, *ev)
		}
	}

	return events
}

func (r *Resolver) mostLiquidLocked(commodity string) string {
	var best string
	var bestOI float64

	for _, instrument := range r.byCommodity[commodity] {
		oi := r.openInterest[instrument]
		if oi > bestOI {
			best = instrument
			bestOI = oi
		}
	}

	return best
}

func (r *Resolver) setMainLocked(commodity, instrument string) *types.RolloverEvent {
	old, had := r.main[commodity]
	if old == instrument {
		return nil
	}

	r.main[commodity] = instrument

	if !had {
		r.log.Info("main contract seeded",
			zap.String("commodity", commodity),
			zap.String("instrument", instrument),
		)

		return nil
	}

	r.log.Info("main contract changed",
		zap.String("commodity", commodity),
		zap.String("old", old),
		zap.String("new", instrument),
	)

	return &types.RolloverEvent{
		Commodity:     commodity,
		OldInstrument: old,
		NewInstrument: instrument,
		DetectedAt:    time.Now(),
	}
}
