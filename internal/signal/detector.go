// Package signal turns indicator state into entry and exit signals. The
// detector is a pure function of the current indicator view and the queried
// position; it holds no state across calls, so every transition can be
// replayed deterministically.
package signal

import (
	"fmt"

	"github.com/moznion/go-optional"
	"github.com/oakmont-labs/trendline/internal/indicator"
	"github.com/oakmont-labs/trendline/internal/types"
)

// Params are the detection thresholds, expressed as fractions of the moving
// average. A cross fires when the close settles within CrossThreshold above
// the average; a retest fires on a pullback into [RetestMin, RetestMax].
type Params struct {
	CrossThreshold       float64
	RetestMin            float64
	RetestMax            float64
	RequirePositiveSlope bool
	// AllowPyramiding permits retest entries while a position is already open
	AllowPyramiding bool
	ShortingEnabled bool
}

// Detector evaluates the per-symbol state machine {FLAT, LONG} (and SHORT
// when enabled). Exit conditions are evaluated before entry conditions so a
// same-bar reversal can never mask an exit.
type Detector struct {
	params Params
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(params Params) *Detector {
	return &Detector{params: params}
}

// Detect returns at most one signal for the symbol at this bar. The current
// position is threaded in explicitly; hasPosition distinguishes FLAT from a
// held position.
func (d *Detector) Detect(state indicator.State, position types.Position, hasPosition bool) optional.Option[types.Signal] {
	if state.WarmingUp {
		return optional.None[types.Signal]()
	}

	sma, ok := state.Value(types.IndicatorTypeSMA)
	if !ok || sma <= 0 {
		return optional.None[types.Signal]()
	}

	distance := (state.Close - sma) / sma

	if hasPosition && position.Quantity != 0 {
		return d.detectHeld(state, position, sma, distance)
	}

	return d.detectFlat(state, distance)
}

// detectHeld handles the LONG and SHORT states. Exits come first.
func (d *Detector) detectHeld(state indicator.State, position types.Position, sma, distance float64) optional.Option[types.Signal] {
	if position.Quantity > 0 {
		if state.Close < sma {
			return optional.Some(types.Signal{
				Time:     state.Time,
				Type:     types.SignalTypeExitLong,
				Symbol:   state.Symbol,
				Strength: -distance,
				Reason:   fmt.Sprintf("close %.2f below sma %.2f", state.Close, sma),
			})
		}

		if d.params.AllowPyramiding && d.inRetestBand(distance) && d.slopeConfirmed(state) {
			return optional.Some(d.entry(state, types.SignalTypeEntryLong, types.EntryPatternRetest, distance))
		}

		return optional.None[types.Signal]()
	}

	// SHORT state: the exit mirror of the long side.
	if state.Close > sma {
		return optional.Some(types.Signal{
			Time:     state.Time,
			Type:     types.SignalTypeExitShort,
			Symbol:   state.Symbol,
			Strength: distance,
			Reason:   fmt.Sprintf("close %.2f above sma %.2f", state.Close, sma),
		})
	}

	return optional.None[types.Signal]()
}

// detectFlat handles the FLAT state.
func (d *Detector) detectFlat(state indicator.State, distance float64) optional.Option[types.Signal] {
	if !d.slopeConfirmed(state) {
		return optional.None[types.Signal]()
	}

	if distance > 0 && distance <= d.params.CrossThreshold {
		return optional.Some(d.entry(state, types.SignalTypeEntryLong, types.EntryPatternCross, distance))
	}

	if d.inRetestBand(distance) {
		return optional.Some(d.entry(state, types.SignalTypeEntryLong, types.EntryPatternRetest, distance))
	}

	if d.params.ShortingEnabled {
		if distance < 0 && -distance <= d.params.CrossThreshold {
			return optional.Some(d.entry(state, types.SignalTypeEntryShort, types.EntryPatternCross, distance))
		}

		if -distance >= d.params.RetestMin && -distance <= d.params.RetestMax {
			return optional.Some(d.entry(state, types.SignalTypeEntryShort, types.EntryPatternRetest, distance))
		}
	}

	return optional.None[types.Signal]()
}

func (d *Detector) inRetestBand(distance float64) bool {
	return distance >= d.params.RetestMin && distance <= d.params.RetestMax
}

func (d *Detector) slopeConfirmed(state indicator.State) bool {
	if !d.params.RequirePositiveSlope {
		return true
	}

	slope, ok := state.Value(types.IndicatorTypeSMASlope)

	return ok && slope > 0
}

func (d *Detector) entry(state indicator.State, kind types.SignalType, pattern types.EntryPattern, distance float64) types.Signal {
	strength := distance
	if strength < 0 {
		strength = -strength
	}

	return types.Signal{
		Time:     state.Time,
		Type:     kind,
		Symbol:   state.Symbol,
		Pattern:  pattern,
		Strength: strength,
		Reason:   fmt.Sprintf("%s entry, %.2f%% from sma", pattern, distance*100),
	}
}
