package types

import "time"

// Exchange identifies a futures exchange.
type Exchange string

const (
	ExchangeSHFE  Exchange = "SHFE"
	ExchangeDCE   Exchange = "DCE"
	ExchangeCZCE  Exchange = "CZCE"
	ExchangeCFFEX Exchange = "CFFEX"
	ExchangeINE   Exchange = "INE"
	ExchangeGFEX  Exchange = "GFEX"
)

// Contract is the static description of one concrete futures instrument.
// Main-contract status is derived by the resolver, never stored here.
type Contract struct {
	// Instrument is the full local code including the exchange suffix,
	// e.g. "rb2505.SHFE".
	Instrument string `yaml:"instrument" json:"instrument" validate:"required"`
	// Commodity is the logical commodity code, e.g. "RB".
	Commodity string   `yaml:"commodity" json:"commodity" validate:"required"`
	Exchange  Exchange `yaml:"exchange" json:"exchange" validate:"required,oneof=SHFE DCE CZCE CFFEX INE GFEX"`
	Name      string   `yaml:"name" json:"name"`
	// Multiplier is the contract size in units per lot.
	Multiplier int `yaml:"multiplier" json:"multiplier" validate:"required,gt=0"`
	// PriceTick is the minimum price increment.
	PriceTick float64 `yaml:"price_tick" json:"price_tick" validate:"required,gt=0"`
	// ExpiryYear and ExpiryMonth order contracts of the same commodity.
	ExpiryYear  int `yaml:"expiry_year" json:"expiry_year"`
	ExpiryMonth int `yaml:"expiry_month" json:"expiry_month" validate:"gte=0,lte=12"`
}

// ExpiresBefore reports whether c expires strictly before other.
func (c Contract) ExpiresBefore(other Contract) bool {
	if c.ExpiryYear != other.ExpiryYear {
		return c.ExpiryYear < other.ExpiryYear
	}

	return c.ExpiryMonth < other.ExpiryMonth
}

// RolloverEvent records a detected main-contract change for one commodity.
// Created by the resolver, consumed exactly once by the rollover manager,
// never mutated after creation.
type RolloverEvent struct {
	Commodity     string    `yaml:"commodity" json:"commodity"`
	OldInstrument string    `yaml:"old_instrument" json:"old_instrument"`
	NewInstrument string    `yaml:"new_instrument" json:"new_instrument"`
	DetectedAt    time.Time `yaml:"detected_at" json:"detected_at"`
}
