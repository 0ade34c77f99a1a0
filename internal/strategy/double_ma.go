package strategy

import (
	"fmt"

	"github.com/moznion/go-optional"

	"github.com/harborquant/cta-engine/internal/indicator"
	"github.com/harborquant/cta-engine/internal/types"
)

// BaseState is the persisted tier shared by the built-in strategies: Hot
// gates live order flow, Pos mirrors the instance's net position.
type BaseState struct {
	Hot bool  `yaml:"hot" json:"hot"`
	Pos int64 `yaml:"pos" json:"pos"`
}

// DoubleMAParams configure the moving-average crossover strategy.
type DoubleMAParams struct {
	FastPeriod int   `yaml:"fast_period" json:"fast_period" validate:"required,gt=0"`
	SlowPeriod int   `yaml:"slow_period" json:"slow_period" validate:"required,gtfield=FastPeriod"`
	Volume     int64 `yaml:"volume" json:"volume" validate:"required,gt=0"`
}

// DoubleMA trades golden/dead crosses of two simple moving averages.
type DoubleMA struct {
	params DoubleMAParams
	state  BaseState

	closes []float64
}

// NewDoubleMA creates the strategy with conventional defaults.
func NewDoubleMA() Strategy {
	return &DoubleMA{
		params: DoubleMAParams{FastPeriod: 5, SlowPeriod: 20, Volume: 1},
	}
}

func (s *DoubleMA) Name() string { return "double_ma" }
func (s *DoubleMA) Params() any  { return &s.params }
func (s *DoubleMA) State() any   { return &s.state }

func (s *DoubleMA) OnInit(ctx Context) error {
	s.closes = s.closes[:0]

	return nil
}

func (s *DoubleMA) OnStart(ctx Context) error {
	s.state.Hot = true

	return nil
}

func (s *DoubleMA) OnStop(ctx Context) error {
	s.state.Hot = false

	return nil
}

func (s *DoubleMA) OnTick(ctx Context, tick types.Tick) {}

func (s *DoubleMA) OnBar(ctx Context, bar types.Bar) {
	s.closes = append(s.closes, bar.Close)
	if limit := s.params.SlowPeriod * 2; len(s.closes) > limit {
		s.closes = s.closes[len(s.closes)-limit:]
	}

	if len(s.closes) <= s.params.SlowPeriod {
		return
	}

	fast := indicator.SMA(s.closes, s.params.FastPeriod)
	slow := indicator.SMA(s.closes, s.params.SlowPeriod)
	prevFast := indicator.SMA(s.closes[:len(s.closes)-1], s.params.FastPeriod)
	prevSlow := indicator.SMA(s.closes[:len(s.closes)-1], s.params.SlowPeriod)

	golden := prevFast <= prevSlow && fast > slow
	dead := prevFast >= prevSlow && fast < slow

	vars := ctx.Vars()
	spread := 0.0
	if slow != 0 {
		spread = (fast - slow) / slow * 1000
	}

	switch {
	case fast > slow:
		vars.Direction = types.DirectionLong
		vars.Strength = clampStrength(int(spread * 10))
		vars.AllowOpenLong = true
		vars.AllowOpenShort = false
	case fast < slow:
		vars.Direction = types.DirectionShort
		vars.Strength = clampStrength(int(-spread * 10))
		vars.AllowOpenLong = false
		vars.AllowOpenShort = true
	default:
		vars.Direction = ""
		vars.Strength = 0
	}
	vars.SuggestPrice = optional.Some(bar.Close)
	vars.SuggestVolume = optional.Some(s.params.Volume)

	pos := ctx.Position().Volume

	if golden {
		vars.Tip = fmt.Sprintf("golden cross fast=%.1f slow=%.1f", fast, slow)
		if s.state.Hot {
			if pos < 0 {
				ctx.Cover(bar.Close, -pos)
			}
			if pos <= 0 {
				ctx.Buy(bar.Close, s.params.Volume)
			}
		}
	}

	if dead {
		vars.Tip = fmt.Sprintf("dead cross fast=%.1f slow=%.1f", fast, slow)
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

func (s *DoubleMA) OnOrder(ctx Context, order types.Order) {}

func (s *DoubleMA) OnTrade(ctx Context, trade types.Trade) {
	s.state.Pos += trade.SignedVolume()
}

var _ Strategy = (*DoubleMA)(nil)
