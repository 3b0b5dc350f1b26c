package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oakmont-labs/trendline/pkg/errors"
)

type PurchaseType string

type PositionType string

const (
	PurchaseTypeBuy  PurchaseType = "BUY"
	PurchaseTypeSell PurchaseType = "SELL"
)

const (
	PositionTypeLong  PositionType = "LONG"
	PositionTypeShort PositionType = "SHORT"
)

const (
	OrderReasonStrategy     string = "strategy"
	OrderReasonStopLoss     string = "stop"
	OrderReasonTakeProfit   string = "target"
	OrderReasonTrailingStop string = "trailing_stop"
	OrderReasonForcedExit   string = "forced_exit"

	RejectReasonInsufficientBuyingPower string = "insufficient_buying_power"
	RejectReasonMaxPositions            string = "max_positions"
	RejectReasonMaxExposure             string = "max_exposure"
	RejectReasonMaxEntriesPerSymbol     string = "max_entries_per_symbol"
	RejectReasonZeroQuantity            string = "zero_quantity"
	RejectReasonNoPosition              string = "no_position"
)

// Reason records why an intent was produced or rejected.
type Reason struct {
	Reason  string `yaml:"reason" json:"reason" csv:"reason" validate:"required"`
	Message string `yaml:"message" json:"message" csv:"message"`
}

// OrderIntent is a proposed trade awaiting portfolio application, not yet a
// fill. It is produced by the risk manager and consumed by the portfolio
// tracker within the same bar step.
type OrderIntent struct {
	ID           string       `yaml:"id" json:"id" csv:"id" validate:"required,uuid"`
	Symbol       string       `yaml:"symbol" json:"symbol" csv:"symbol" validate:"required"`
	Side         PurchaseType `yaml:"side" json:"side" csv:"side" validate:"required,oneof=BUY SELL"`
	PositionType PositionType `yaml:"position_type" json:"position_type" csv:"position_type" validate:"required,oneof=LONG SHORT"`
	Quantity     float64      `yaml:"quantity" json:"quantity" csv:"quantity" validate:"required,gt=0"`
	// Price is the reference price the intent was sized against, the close
	// of the bar that produced it.
	Price     float64   `yaml:"price" json:"price" csv:"price" validate:"required,gt=0"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp" csv:"timestamp" validate:"required"`
	// Reason is the rationale for the intent, e.g. "strategy", "stop",
	// "target" or "forced_exit".
	Reason Reason `yaml:"reason" json:"reason" csv:"reason" validate:"required"`
}

// Validate validates the OrderIntent struct.
func (o *OrderIntent) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrderIntent, "invalid order intent", err)
	}

	return nil
}

// Rejection is a soft refusal of a proposed trade. Rejections are recorded
// in the journal and never interrupt the step loop.
type Rejection struct {
	Symbol    string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp" csv:"timestamp"`
	Reason    Reason    `yaml:"reason" json:"reason" csv:"reason"`
}
