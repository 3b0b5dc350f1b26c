// Package indicator maintains rolling technical indicators per symbol from an
// incoming stream of daily bars. The engine owns all indicator state; every
// other component receives read-only State values.
package indicator

import (
	"math"
	"time"

	"github.com/oakmont-labs/trendline/internal/types"
	"github.com/oakmont-labs/trendline/pkg/errors"
)

// State is the read-only indicator view for one symbol after an update.
// Values are only present once the backing window has filled; while
// WarmingUp is true no value in the map is actionable.
type State struct {
	Symbol string
	Time   time.Time
	// Close is the close of the bar that produced this state
	Close float64
	// PrevClose is the close of the previous bar, zero on the first bar
	PrevClose float64
	// WarmingUp is true until the lookback window holds a full period
	WarmingUp bool
	// Values maps indicator name to its current value. Absent keys are not
	// yet computable.
	Values map[types.IndicatorType]float64
}

// Value returns the named indicator value if it is computable.
func (s State) Value(name types.IndicatorType) (float64, bool) {
	v, ok := s.Values[name]

	return v, ok
}

type symbolState struct {
	lastTime   time.Time
	closes     *Window
	smaHistory *Window
	prevClose  float64
	trSeed     *Window
	atr        float64
	atrReady   bool
	barCount   int
}

// Engine computes a simple moving average, Wilder's average true range and
// the moving average slope for every symbol it is fed. Bars must arrive in
// strictly increasing timestamp order per symbol.
type Engine struct {
	lookback      int
	atrPeriod     int
	slopeLookback int
	symbols       map[string]*symbolState
}

// NewEngine creates an indicator engine. lookback is the moving average
// period, atrPeriod the true range smoothing period and slopeLookback the
// number of bars the slope comparison spans.
func NewEngine(lookback, atrPeriod, slopeLookback int) (*Engine, error) {
	if lookback <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "lookback must be positive, got %d", lookback)
	}

	if atrPeriod <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "atr period must be positive, got %d", atrPeriod)
	}

	if slopeLookback <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "slope lookback must be positive, got %d", slopeLookback)
	}

	return &Engine{
		lookback:      lookback,
		atrPeriod:     atrPeriod,
		slopeLookback: slopeLookback,
		symbols:       make(map[string]*symbolState),
	}, nil
}

// Update folds one bar into the symbol's indicator state and returns the
// resulting read-only view. A malformed bar returns a DataError; a bar whose
// timestamp is not strictly after the previous one returns a SequenceError.
func (e *Engine) Update(bar types.Bar) (State, error) {
	if err := bar.Validate(); err != nil {
		return State{}, err
	}

	st, ok := e.symbols[bar.Symbol]
	if !ok {
		st = e.newSymbolState()
		e.symbols[bar.Symbol] = st
	}

	if !st.lastTime.IsZero() && !bar.Time.After(st.lastTime) {
		return State{}, errors.NewSequenceError(bar.Symbol, st.lastTime, bar.Time)
	}

	prevClose := st.prevClose

	// True range needs the previous close; the first bar seeds it with the
	// plain high-low range.
	tr := bar.High - bar.Low
	if st.barCount > 0 {
		tr = math.Max(tr, math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
	}

	e.updateATR(st, tr)

	st.closes.Push(bar.Close)
	if st.closes.Full() {
		st.smaHistory.Push(st.closes.Mean())
	}

	st.lastTime = bar.Time
	st.prevClose = bar.Close
	st.barCount++

	return e.stateFor(bar, st, prevClose), nil
}

// State returns the current read-only view for a symbol without updating it.
func (e *Engine) State(symbol string) (State, bool) {
	st, ok := e.symbols[symbol]
	if !ok {
		return State{}, false
	}

	bar := types.Bar{Symbol: symbol, Time: st.lastTime, Close: st.prevClose}

	view := e.stateFor(bar, st, st.prevClose)
	view.PrevClose = st.prevClose

	return view, true
}

// BarCount returns the number of bars observed for a symbol.
func (e *Engine) BarCount(symbol string) int {
	st, ok := e.symbols[symbol]
	if !ok {
		return 0
	}

	return st.barCount
}

// Remove drops all state for a symbol, e.g. when it leaves the universe for good.
func (e *Engine) Remove(symbol string) {
	delete(e.symbols, symbol)
}

func (e *Engine) newSymbolState() *symbolState {
	closes, _ := NewWindow(e.lookback)
	smaHistory, _ := NewWindow(e.slopeLookback + 1)
	trSeed, _ := NewWindow(e.atrPeriod)

	return &symbolState{
		lastTime:   time.Time{},
		closes:     closes,
		smaHistory: smaHistory,
		prevClose:  0,
		trSeed:     trSeed,
		atr:        0,
		atrReady:   false,
		barCount:   0,
	}
}

// updateATR applies Wilder smoothing: the first full period seeds the
// average with a plain mean, afterwards atr = (atr*(n-1) + tr) / n.
func (e *Engine) updateATR(st *symbolState, tr float64) {
	if !st.atrReady {
		st.trSeed.Push(tr)
		if st.trSeed.Full() {
			st.atr = st.trSeed.Mean()
			st.atrReady = true
		}

		return
	}

	n := float64(e.atrPeriod)
	st.atr = (st.atr*(n-1) + tr) / n
}

func (e *Engine) stateFor(bar types.Bar, st *symbolState, prevClose float64) State {
	values := make(map[types.IndicatorType]float64)

	if st.closes.Full() {
		values[types.IndicatorTypeSMA] = st.closes.Mean()
	}

	if st.atrReady {
		values[types.IndicatorTypeATR] = st.atr
	}

	if st.smaHistory.Full() {
		values[types.IndicatorTypeSMASlope] = st.closes.Mean() - st.smaHistory.Oldest()
	}

	return State{
		Symbol:    bar.Symbol,
		Time:      bar.Time,
		Close:     bar.Close,
		PrevClose: prevClose,
		WarmingUp: !st.closes.Full(),
		Values:    values,
	}
}
