package strategy

import (
	"fmt"

	"github.com/moznion/go-optional"

	"github.com/harborquant/cta-engine/internal/indicator"
	"github.com/harborquant/cta-engine/internal/types"
)

// MACDParams configure the MACD crossover strategy.
type MACDParams struct {
	FastPeriod   int   `yaml:"fast_period" json:"fast_period" validate:"required,gt=0"`
	SlowPeriod   int   `yaml:"slow_period" json:"slow_period" validate:"required,gtfield=FastPeriod"`
	SignalPeriod int   `yaml:"signal_period" json:"signal_period" validate:"required,gt=0"`
	Volume       int64 `yaml:"volume" json:"volume" validate:"required,gt=0"`
}

// MACD trades crossings of the MACD line over its signal line.
type MACD struct {
	params MACDParams
	state  BaseState

	fast      *indicator.EMA
	slow      *indicator.EMA
	signal    *indicator.EMA
	bars      int
	prevDelta float64
	hasPrev   bool
}

// NewMACD creates the strategy with the conventional 12/26/9 setup.
func NewMACD() Strategy {
	return &MACD{
		params: MACDParams{FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9, Volume: 1},
	}
}

func (s *MACD) Name() string { return "macd" }
func (s *MACD) Params() any  { return &s.params }
func (s *MACD) State() any   { return &s.state }

func (s *MACD) OnInit(ctx Context) error {
	s.fast = indicator.NewEMA(s.params.FastPeriod)
	s.slow = indicator.NewEMA(s.params.SlowPeriod)
	s.signal = indicator.NewEMA(s.params.SignalPeriod)
	s.bars = 0
	s.hasPrev = false

	return nil
}

func (s *MACD) OnStart(ctx Context) error {
	s.state.Hot = true

	return nil
}

func (s *MACD) OnStop(ctx Context) error {
	s.state.Hot = false

	return nil
}

func (s *MACD) OnTick(ctx Context, tick types.Tick) {}

func (s *MACD) OnBar(ctx Context, bar types.Bar) {
	fast := s.fast.Update(bar.Close)
	slow := s.slow.Update(bar.Close)
	macd := fast - slow
	signal := s.signal.Update(macd)
	delta := macd - signal
	s.bars++

	// EMAs need the slow period to settle before crossings mean anything.
	if s.bars <= s.params.SlowPeriod {
		s.prevDelta = delta
		s.hasPrev = true

		return
	}

	crossUp := s.hasPrev && s.prevDelta <= 0 && delta > 0
	crossDown := s.hasPrev && s.prevDelta >= 0 && delta < 0
	s.prevDelta = delta
	s.hasPrev = true

	vars := ctx.Vars()
	switch {
	case delta > 0:
		vars.Direction = types.DirectionLong
		vars.AllowOpenLong = true
		vars.AllowOpenShort = false
	case delta < 0:
		vars.Direction = types.DirectionShort
		vars.AllowOpenLong = false
		vars.AllowOpenShort = true
	default:
		vars.Direction = ""
	}
	if bar.Close != 0 {
		vars.Strength = clampStrength(int(delta / bar.Close * 100000))
		if vars.Direction == types.DirectionShort {
			vars.Strength = clampStrength(int(-delta / bar.Close * 100000))
		}
	}
	vars.SuggestPrice = optional.Some(bar.Close)
	vars.SuggestVolume = optional.Some(s.params.Volume)

	pos := ctx.Position().Volume

	if crossUp {
		vars.Tip = fmt.Sprintf("macd cross up, macd=%.2f signal=%.2f", macd, signal)
		if s.state.Hot {
			if pos < 0 {
				ctx.Cover(bar.Close, -pos)
			}
			if pos <= 0 {
				ctx.Buy(bar.Close, s.params.Volume)
			}
		}
	}

	if crossDown {
		vars.Tip = fmt.Sprintf("macd cross down, macd=%.2f signal=%.2f", macd, signal)
		if s.state.Hot {
			if pos > 0 {
				ctx.Sell(bar.Close, pos)
			}
			if pos >= 0 {
				ctx.Short(bar.Close, s.params.Volume)
			}
		}
	}
}

func (s *MACD) OnOrder(ctx Context, order types.Order) {}

func (s *MACD) OnTrade(ctx Context, trade types.Trade) {
	s.state.Pos += trade.SignedVolume()
}

var _ Strategy = (*MACD)(nil)
