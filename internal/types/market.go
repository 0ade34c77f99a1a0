package types

import "time"

// Interval is the bar aggregation period.
type Interval string

const (
	IntervalMinute Interval = "1m"
	IntervalHour   Interval = "1h"
	IntervalDaily  Interval = "d"
)

// Tick is a single trade-price update for one instrument.
type Tick struct {
	Instrument   string    `yaml:"instrument" json:"instrument" validate:"required"`
	Time         time.Time `yaml:"time" json:"time" validate:"required"`
	LastPrice    float64   `yaml:"last_price" json:"last_price" validate:"required,gt=0"`
	Volume       float64   `yaml:"volume" json:"volume"`
	OpenInterest float64   `yaml:"open_interest" json:"open_interest"`
	BidPrice1    float64   `yaml:"bid_price_1" json:"bid_price_1"`
	AskPrice1    float64   `yaml:"ask_price_1" json:"ask_price_1"`
	BidVolume1   float64   `yaml:"bid_volume_1" json:"bid_volume_1"`
	AskVolume1   float64   `yaml:"ask_volume_1" json:"ask_volume_1"`
	// LimitUp and LimitDown are the exchange price bands for the session.
	LimitUp   float64 `yaml:"limit_up" json:"limit_up"`
	LimitDown float64 `yaml:"limit_down" json:"limit_down"`
}

// Bar is one aggregated OHLCV period sample.
type Bar struct {
	Instrument   string    `yaml:"instrument" json:"instrument" validate:"required"`
	Interval     Interval  `yaml:"interval" json:"interval" validate:"required"`
	Time         time.Time `yaml:"time" json:"time" validate:"required"`
	Open         float64   `yaml:"open" json:"open" validate:"required,gt=0"`
	High         float64   `yaml:"high" json:"high" validate:"required,gt=0"`
	Low          float64   `yaml:"low" json:"low" validate:"required,gt=0"`
	Close        float64   `yaml:"close" json:"close" validate:"required,gt=0"`
	Volume       float64   `yaml:"volume" json:"volume"`
	OpenInterest float64   `yaml:"open_interest" json:"open_interest"`
}
