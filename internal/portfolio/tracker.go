// Package portfolio applies order intents to cash and positions and produces
// the per-step snapshots. Fills are modeled at the intent's reference price
// with no slippage or commission; equity is re-derived from cash and marks at
// every snapshot rather than patched incrementally, so the identity
// equity == cash + sum(position value) holds by construction.
package portfolio

import (
	"time"

	"github.com/oakmont-labs/trendline/internal/logger"
	"github.com/oakmont-labs/trendline/internal/types"
	"github.com/oakmont-labs/trendline/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Tracker owns the mutable portfolio state of a run.
type Tracker struct {
	cash      decimal.Decimal
	positions map[string]types.Position
	marks     map[string]float64
	log       *logger.Logger
}

// NewTracker creates a tracker seeded with the initial cash balance.
func NewTracker(initialCash float64, log *logger.Logger) (*Tracker, error) {
	if initialCash <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "initial cash must be positive, got %.2f", initialCash)
	}

	return &Tracker{
		cash:      decimal.NewFromFloat(initialCash),
		positions: make(map[string]types.Position),
		marks:     make(map[string]float64),
		log:       log,
	}, nil
}

// Mark records the latest price for a symbol. Marks feed equity valuation
// and are updated for every bar, held or not.
func (t *Tracker) Mark(symbol string, price float64) {
	t.marks[symbol] = price
}

// Cash returns the current cash balance.
func (t *Tracker) Cash() float64 {
	value, _ := t.cash.Float64()

	return value
}

// Position returns the open position for a symbol, if any.
func (t *Tracker) Position(symbol string) (types.Position, bool) {
	pos, ok := t.positions[symbol]

	return pos, ok
}

// Apply executes an intent as an immediate fill at the intent price and
// returns the remaining position for the symbol. A fill that would drive
// cash negative is an error and leaves the portfolio untouched.
func (t *Tracker) Apply(intent types.OrderIntent) (types.Position, error) {
	if err := intent.Validate(); err != nil {
		return types.Position{}, err
	}

	quantity := decimal.NewFromFloat(intent.Quantity)
	price := decimal.NewFromFloat(intent.Price)
	notional := quantity.Mul(price)

	cash := t.cash
	if intent.Side == types.PurchaseTypeBuy {
		cash = cash.Sub(notional)
	} else {
		cash = cash.Add(notional)
	}

	if cash.IsNegative() {
		return types.Position{}, errors.Newf(errors.ErrCodeNegativeCash,
			"fill %s %s %.0f@%.2f would drive cash to %s", intent.Side, intent.Symbol, intent.Quantity, intent.Price, cash)
	}

	delta := intent.Quantity
	if intent.Side == types.PurchaseTypeSell {
		delta = -delta
	}

	pos, held := t.positions[intent.Symbol]
	newQuantity := pos.Quantity + delta

	t.cash = cash
	t.marks[intent.Symbol] = intent.Price

	if newQuantity == 0 {
		delete(t.positions, intent.Symbol)

		t.log.Info("position closed",
			zap.String("symbol", intent.Symbol),
			zap.Float64("quantity", intent.Quantity),
			zap.Float64("price", intent.Price),
			zap.String("reason", intent.Reason.Reason),
		)

		return types.Position{}, nil
	}

	if !held {
		pos = types.Position{
			Symbol:   intent.Symbol,
			OpenedAt: intent.Timestamp,
		}
	}

	// Increasing the position in its current direction re-weights the average
	// entry price and counts as a stacked entry. Partial reductions keep the
	// average unchanged.
	increasing := !held || ((pos.Quantity > 0) == (newQuantity > 0) && absFloat(newQuantity) > absFloat(pos.Quantity))

	if increasing {
		prevNotional := decimal.NewFromFloat(pos.Quantity).Mul(decimal.NewFromFloat(pos.AvgEntryPrice)).Abs()
		addNotional := notional
		avg := prevNotional.Add(addNotional).Div(decimal.NewFromFloat(absFloat(newQuantity)))
		pos.AvgEntryPrice, _ = avg.Float64()
		pos.EntryCount++
	}

	pos.Quantity = newQuantity
	t.positions[intent.Symbol] = pos

	t.log.Info("fill applied",
		zap.String("symbol", intent.Symbol),
		zap.String("side", string(intent.Side)),
		zap.Float64("quantity", intent.Quantity),
		zap.Float64("price", intent.Price),
		zap.Float64("remaining", pos.Quantity),
	)

	return pos, nil
}

// Snapshot derives the immutable portfolio view at the given time. Equity is
// computed from scratch as cash plus the sum of position values at the
// current marks.
func (t *Tracker) Snapshot(at time.Time) types.Snapshot {
	positions := make(map[string]types.Position, len(t.positions))
	marks := make(map[string]float64, len(t.marks))

	equity := t.cash
	for symbol, pos := range t.positions {
		positions[symbol] = pos
		equity = equity.Add(decimal.NewFromFloat(pos.MarketValue(t.marks[symbol])))
	}

	for symbol, price := range t.marks {
		marks[symbol] = price
	}

	equityValue, _ := equity.Float64()
	cashValue, _ := t.cash.Float64()

	return types.Snapshot{
		Timestamp: at,
		Cash:      cashValue,
		Positions: positions,
		Marks:     marks,
		Equity:    equityValue,
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}

	return v
}
