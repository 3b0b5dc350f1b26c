package risk

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/oakmont-labs/trendline/internal/types"
	"github.com/oakmont-labs/trendline/pkg/errors"
)

// defaultRules is the policy order: forced exits override everything, then
// protective stops and targets, then strategy exits, then entry sizing.
// Stops deciding before entries guarantees a stop breach is acted on before
// any new entry for the same symbol in the same step.
func defaultRules() []Rule {
	return []Rule{
		{Name: "forced_exit", Apply: (*Manager).applyForcedExit},
		{Name: "protective_stop", Apply: (*Manager).applyProtectiveStop},
		{Name: "exit_signal", Apply: (*Manager).applyExitSignal},
		{Name: "entry", Apply: (*Manager).applyEntry},
	}
}

// applyForcedExit emits a full close when the universe selector flagged the
// symbol while a position is open, regardless of any signal.
func (m *Manager) applyForcedExit(ctx *evalContext) (Decision, bool, error) {
	if !ctx.in.ForcedExit || !ctx.hasPosition {
		return Decision{}, false, nil
	}

	intent := m.closeIntent(ctx, types.Reason{
		Reason:  types.OrderReasonForcedExit,
		Message: fmt.Sprintf("%s no longer eligible", ctx.in.State.Symbol),
	})

	return Decision{Intent: optional.Some(intent)}, true, nil
}

// applyProtectiveStop closes an open position whose price breached the
// stored stop or the take-profit target. It is independent of the signal
// detector and takes precedence over new entries for the symbol.
func (m *Manager) applyProtectiveStop(ctx *evalContext) (Decision, bool, error) {
	if !ctx.hasPosition {
		return Decision{}, false, nil
	}

	symbol := ctx.in.State.Symbol
	close := ctx.in.State.Close

	st, hasStop := m.stops[symbol]

	long := ctx.position.Quantity > 0

	if hasStop && st.stop > 0 {
		breached := (long && close < st.stop) || (!long && close > st.stop)
		if breached {
			reason := types.OrderReasonStopLoss
			if st.trailingActive {
				reason = types.OrderReasonTrailingStop
			}

			intent := m.closeIntent(ctx, types.Reason{
				Reason:  reason,
				Message: fmt.Sprintf("close %.2f breached stop %.2f", close, st.stop),
			})

			return Decision{Intent: optional.Some(intent)}, true, nil
		}
	}

	if m.limits.TakeProfitPct.IsSome() {
		pct := m.limits.TakeProfitPct.Unwrap()
		entry := ctx.position.AvgEntryPrice

		hit := (long && close >= entry*(1+pct)) || (!long && close <= entry*(1-pct))
		if entry > 0 && hit {
			intent := m.closeIntent(ctx, types.Reason{
				Reason:  types.OrderReasonTakeProfit,
				Message: fmt.Sprintf("close %.2f reached target from entry %.2f", close, entry),
			})

			return Decision{Intent: optional.Some(intent)}, true, nil
		}
	}

	return Decision{}, false, nil
}

// applyExitSignal converts a detector exit signal into a full close intent.
func (m *Manager) applyExitSignal(ctx *evalContext) (Decision, bool, error) {
	if ctx.in.Signal.IsNone() {
		return Decision{}, false, nil
	}

	sig := ctx.in.Signal.Unwrap()
	if !sig.IsExit() {
		return Decision{}, false, nil
	}

	if !ctx.hasPosition {
		return rejection(ctx, types.RejectReasonNoPosition, "exit signal with no open position"), true, nil
	}

	intent := m.closeIntent(ctx, types.Reason{
		Reason:  types.OrderReasonStrategy,
		Message: sig.Reason,
	})

	return Decision{Intent: optional.Some(intent)}, true, nil
}

// applyEntry sizes an entry signal against the risk budget and applies the
// portfolio caps. Insufficient cash or a breached cap is a soft rejection;
// a zero stop distance is a SizingError.
func (m *Manager) applyEntry(ctx *evalContext) (Decision, bool, error) {
	if ctx.in.Signal.IsNone() {
		return Decision{}, false, nil
	}

	sig := ctx.in.Signal.Unwrap()
	if !sig.IsEntry() {
		return Decision{}, false, nil
	}

	symbol := ctx.in.State.Symbol
	price := ctx.in.State.Close
	snapshot := ctx.in.Snapshot
	long := sig.Type == types.SignalTypeEntryLong

	sma, ok := ctx.in.State.Value(types.IndicatorTypeSMA)
	if !ok || sma <= 0 {
		return rejection(ctx, types.RejectReasonZeroQuantity, "no moving average to size against"), true, nil
	}

	// Cap checks come before sizing so a capped symbol never consumes the
	// risk budget computation.
	if ctx.hasPosition {
		if ctx.position.EntryCount >= m.limits.MaxEntriesPerSymbol {
			return rejection(ctx, types.RejectReasonMaxEntriesPerSymbol,
				fmt.Sprintf("%d entries already stacked", ctx.position.EntryCount)), true, nil
		}
	} else if snapshot.OpenPositionCount() >= m.limits.MaxPositions {
		return rejection(ctx, types.RejectReasonMaxPositions,
			fmt.Sprintf("%d positions already open", snapshot.OpenPositionCount())), true, nil
	}

	var stopPrice, stopDistance float64

	if long {
		stopPrice = sma * (1 - m.limits.StopLossPct)
		stopDistance = price - stopPrice
	} else {
		stopPrice = sma * (1 + m.limits.StopLossPct)
		stopDistance = stopPrice - price
	}

	if stopDistance <= 0 {
		return Decision{}, false, errors.NewSizingErrorf(symbol,
			"stop distance %.4f is not positive for %s at price %.2f", stopDistance, symbol, price)
	}

	riskBudget := snapshot.Equity * m.limits.RiskPerTrade
	quantity := math.Floor(riskBudget / stopDistance)

	if quantity < 1 {
		return rejection(ctx, types.RejectReasonZeroQuantity,
			fmt.Sprintf("risk budget %.2f sizes to zero shares", riskBudget)), true, nil
	}

	// Clip to available cash, leaving the configured buffer.
	affordable := math.Floor(snapshot.Cash * m.limits.CashBuffer / price)
	if affordable < 1 {
		return rejection(ctx, types.RejectReasonInsufficientBuyingPower,
			fmt.Sprintf("rejected: insufficient buying power (cash %.2f, price %.2f)", snapshot.Cash, price)), true, nil
	}

	if quantity > affordable {
		quantity = affordable
	}

	// Scale down to fit under the aggregate exposure cap; reject when not
	// even one share fits.
	maxExposure := m.limits.MaxAggregateExposure * snapshot.Equity
	headroom := maxExposure - snapshot.AggregateExposure()

	if quantity*price > headroom {
		quantity = math.Floor(headroom / price)
		if quantity < 1 {
			return rejection(ctx, types.RejectReasonMaxExposure,
				fmt.Sprintf("aggregate exposure %.2f leaves no headroom under cap %.2f",
					snapshot.AggregateExposure(), maxExposure)), true, nil
		}
	}

	side := types.PurchaseTypeBuy
	positionType := types.PositionTypeLong

	if !long {
		side = types.PurchaseTypeSell
		positionType = types.PositionTypeShort
	}

	intent := types.OrderIntent{
		ID:           uuid.New().String(),
		Symbol:       symbol,
		Side:         side,
		PositionType: positionType,
		Quantity:     quantity,
		Price:        price,
		Timestamp:    ctx.in.State.Time,
		Reason: types.Reason{
			Reason:  types.OrderReasonStrategy,
			Message: sig.Reason,
		},
	}

	return Decision{Intent: optional.Some(intent)}, true, nil
}

// closeIntent builds a full-close intent for the open position.
func (m *Manager) closeIntent(ctx *evalContext, reason types.Reason) types.OrderIntent {
	side := types.PurchaseTypeSell
	positionType := types.PositionTypeLong
	quantity := ctx.position.Quantity

	if ctx.position.Quantity < 0 {
		side = types.PurchaseTypeBuy
		positionType = types.PositionTypeShort
		quantity = -quantity
	}

	return types.OrderIntent{
		ID:           uuid.New().String(),
		Symbol:       ctx.in.State.Symbol,
		Side:         side,
		PositionType: positionType,
		Quantity:     quantity,
		Price:        ctx.in.State.Close,
		Timestamp:    ctx.in.State.Time,
		Reason:       reason,
	}
}
