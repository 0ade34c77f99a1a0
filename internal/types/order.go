package types

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/harborquant/cta-engine/pkg/errors"
)

type Direction string

type Offset string

type OrderStatus string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

const (
	OffsetOpen  Offset = "OPEN"
	OffsetClose Offset = "CLOSE"
)

const (
	OrderStatusSubmitting OrderStatus = "SUBMITTING"
	OrderStatusNotTraded  OrderStatus = "NOTTRADED"
	OrderStatusPartTraded OrderStatus = "PARTTRADED"
	OrderStatusAllTraded  OrderStatus = "ALLTRADED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRejected   OrderStatus = "REJECTED"
)

const (
	OrderReasonStrategy  string = "strategy"
	OrderReasonConfirm   string = "assisted_confirm"
	OrderReasonRollClose string = "rollover_close"
)

// IsActive reports whether the order can still produce fills.
func (s OrderStatus) IsActive() bool {
	switch s {
	case OrderStatusSubmitting, OrderStatusNotTraded, OrderStatusPartTraded:
		return true
	default:
		return false
	}
}

// OrderRequest is an order as produced by a strategy or a confirm action,
// before risk checks and gateway submission.
type OrderRequest struct {
	ID         string    `yaml:"id" json:"id" validate:"required,uuid"`
	AccountID  string    `yaml:"account_id" json:"account_id" validate:"required"`
	StrategyID string    `yaml:"strategy_id" json:"strategy_id" validate:"required"`
	Instrument string    `yaml:"instrument" json:"instrument" validate:"required"`
	Direction  Direction `yaml:"direction" json:"direction" validate:"required,oneof=LONG SHORT"`
	Offset     Offset    `yaml:"offset" json:"offset" validate:"required,oneof=OPEN CLOSE"`
	Price      float64   `yaml:"price" json:"price" validate:"required,gt=0"`
	Volume     int64     `yaml:"volume" json:"volume" validate:"required,gt=0"`
	// Reason records what produced the request, e.g. "strategy" or
	// "assisted_confirm".
	Reason string `yaml:"reason" json:"reason"`
}

// Order is the gateway's view of a submitted order.
type Order struct {
	OrderID    string      `yaml:"order_id" json:"order_id" validate:"required"`
	AccountID  string      `yaml:"account_id" json:"account_id" validate:"required"`
	StrategyID string      `yaml:"strategy_id" json:"strategy_id"`
	Instrument string      `yaml:"instrument" json:"instrument" validate:"required"`
	Direction  Direction   `yaml:"direction" json:"direction" validate:"required,oneof=LONG SHORT"`
	Offset     Offset      `yaml:"offset" json:"offset" validate:"required,oneof=OPEN CLOSE"`
	Price      float64     `yaml:"price" json:"price" validate:"required,gt=0"`
	Volume     int64       `yaml:"volume" json:"volume" validate:"required,gt=0"`
	Traded     int64       `yaml:"traded" json:"traded" validate:"gte=0"`
	Status     OrderStatus `yaml:"status" json:"status" validate:"required"`
	CreatedAt  time.Time   `yaml:"created_at" json:"created_at"`
}

// Trade is a fill reported by the gateway. Positions update on trades,
// never on order submission.
type Trade struct {
	TradeID    string    `yaml:"trade_id" json:"trade_id" validate:"required"`
	OrderID    string    `yaml:"order_id" json:"order_id" validate:"required"`
	AccountID  string    `yaml:"account_id" json:"account_id" validate:"required"`
	StrategyID string    `yaml:"strategy_id" json:"strategy_id"`
	Instrument string    `yaml:"instrument" json:"instrument" validate:"required"`
	Direction  Direction `yaml:"direction" json:"direction" validate:"required,oneof=LONG SHORT"`
	Offset     Offset    `yaml:"offset" json:"offset" validate:"required,oneof=OPEN CLOSE"`
	Price      float64   `yaml:"price" json:"price" validate:"required,gt=0"`
	Volume     int64     `yaml:"volume" json:"volume" validate:"required,gt=0"`
	ExecutedAt time.Time `yaml:"executed_at" json:"executed_at"`
}

// SignedVolume is the position delta this trade applies: positive for
// buys, negative for sells.
func (t Trade) SignedVolume() int64 {
	if t.Direction == DirectionLong {
		return t.Volume
	}

	return -t.Volume
}

var validate = validator.New()

// Validate validates the OrderRequest struct.
func (r *OrderRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order request", err)
	}

	return nil
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	return nil
}
