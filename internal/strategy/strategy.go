// Package strategy hosts trading strategies and their three-tier data
// model: Params (validated configuration, persisted), State (persisted
// working values), and Vars (ephemeral advisory outputs, republished as
// signals and never stored).
package strategy

import (
	"time"

	"github.com/moznion/go-optional"

	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/internal/types"
)

// Status is an instance's lifecycle stage.
type Status string

const (
	StatusCreated     Status = "CREATED"
	StatusInitialized Status = "INITIALIZED"
	StatusRunning     Status = "RUNNING"
	StatusStopped     Status = "STOPPED"
)

// Vars are the advisory outputs a strategy refreshes on every callback.
// They are never persisted; a restart begins with zero values.
type Vars struct {
	// Direction is the advised stance, empty when neutral.
	Direction types.Direction `json:"direction"`
	// Strength grades conviction from 0 to 100.
	Strength int `json:"strength"`
	// Tip is a short human-readable note for the operator console.
	Tip string `json:"tip"`
	// SuggestPrice and SuggestVolume describe the order an operator
	// would confirm in assisted mode.
	SuggestPrice  optional.Option[float64] `json:"suggest_price"`
	SuggestVolume optional.Option[int64]   `json:"suggest_volume"`
	// AllowOpenLong and AllowOpenShort gate what assisted confirms may
	// open right now.
	AllowOpenLong  bool `json:"allow_open_long"`
	AllowOpenShort bool `json:"allow_open_short"`
}

// Signal is published on the bus after every strategy callback, carrying
// the instance's refreshed Vars.
type Signal struct {
	StrategyID string    `json:"strategy_id"`
	Instrument string    `json:"instrument"`
	Vars       Vars      `json:"vars"`
	At         time.Time `json:"at"`
}

// Context is the surface a strategy sees during a callback. Order calls
// collect requests; nothing reaches the gateway until the callback
// returns.
type Context interface {
	StrategyID() string
	AccountID() string
	// Instrument is the concrete contract the instance currently trades.
	// It changes across a contract switch.
	Instrument() string
	// Position is the instance's net position on its instrument.
	Position() types.Position
	// Buy opens long, Sell closes long, Short opens short, Cover closes
	// short.
	Buy(price float64, volume int64)
	Sell(price float64, volume int64)
	Short(price float64, volume int64)
	Cover(price float64, volume int64)
	// Vars returns the instance's advisory outputs for mutation.
	Vars() *Vars
	Logger() *logger.Logger
}

// Strategy is the callback set a trading strategy implements. Params and
// State return pointers to yaml-tagged structs owned by the strategy;
// the runtime validates Params on init and persists State on every sync.
type Strategy interface {
	Name() string
	Params() any
	State() any
	OnInit(ctx Context) error
	OnStart(ctx Context) error
	OnStop(ctx Context) error
	OnTick(ctx Context, tick types.Tick)
	OnBar(ctx Context, bar types.Bar)
	OnOrder(ctx Context, order types.Order)
	OnTrade(ctx Context, trade types.Trade)
}

// Factory builds a fresh strategy value. Reset discards the old value and
// re-applies configuration to a new one.
type Factory func() Strategy

// clampStrength bounds a conviction grade to [0, 100].
func clampStrength(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}

	return v
}
