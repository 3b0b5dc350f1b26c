// Package risk sizes positions and enforces portfolio-level constraints.
// Policy is expressed as an explicit priority-ordered list of rules, applied
// in order: forced exit, protective stop/target, strategy exit, entry
// sizing with caps. The first rule that decides wins, which makes the
// precedence between stops and same-bar entries testable in isolation.
package risk

import (
	"github.com/moznion/go-optional"
	"github.com/oakmont-labs/trendline/internal/indicator"
	"github.com/oakmont-labs/trendline/internal/logger"
	"github.com/oakmont-labs/trendline/internal/types"
	"go.uber.org/zap"
)

// Limits are the portfolio risk constraints, threaded in from configuration
// and immutable for the lifetime of a run.
type Limits struct {
	// RiskPerTrade is the fraction of equity risked between entry and stop
	RiskPerTrade float64
	// MaxPositions is the maximum number of concurrently open positions
	MaxPositions int
	// MaxAggregateExposure caps total absolute position value as a fraction of equity
	MaxAggregateExposure float64
	// MaxEntriesPerSymbol caps pyramiding into a single symbol
	MaxEntriesPerSymbol int
	// StopLossPct places the protective stop this fraction below the moving average
	StopLossPct float64
	// TakeProfitPct optionally closes a position this fraction above average entry
	TakeProfitPct optional.Option[float64]
	// TrailingProfitThreshold is the unrealized gain that activates the trailing stop
	TrailingProfitThreshold float64
	// TrailingATRMultiplier is the trailing distance in ATR multiples
	TrailingATRMultiplier float64
	// CashBuffer is the fraction of available cash an entry may consume
	CashBuffer float64
}

// Input is everything the manager needs to evaluate one symbol in one step.
type Input struct {
	// Signal is the detector's output for this symbol, if any
	Signal optional.Option[types.Signal]
	// State is the read-only indicator view for this symbol
	State indicator.State
	// Snapshot is the current portfolio snapshot
	Snapshot types.Snapshot
	// ForcedExit is set when the universe selector flagged the symbol
	ForcedExit bool
}

// Decision is the outcome of an evaluation: at most one intent or one soft
// rejection. Both may be empty when nothing is actionable.
type Decision struct {
	Intent    optional.Option[types.OrderIntent]
	Rejection optional.Option[types.Rejection]
	// Rule names the rule that decided, empty when none did
	Rule string
}

// Rule is one step of the ordered policy. Apply returns the outcome and
// whether the rule decided; an undecided rule defers to the next one.
type Rule struct {
	Name  string
	Apply func(m *Manager, ctx *evalContext) (Decision, bool, error)
}

type evalContext struct {
	in          Input
	position    types.Position
	hasPosition bool
}

// stopState is the manager's per-symbol protective stop book. The static
// stop ratchets with the moving average and never loosens; the trailing stop
// activates once the profit threshold is reached.
type stopState struct {
	stop            float64
	highWater       float64
	lowWater        float64
	trailingActive  bool
	entryReferenced float64
}

// Manager applies the ordered risk policy.
type Manager struct {
	limits Limits
	rules  []Rule
	stops  map[string]*stopState
	log    *logger.Logger
}

// NewManager creates a risk manager with the default rule order.
func NewManager(limits Limits, log *logger.Logger) *Manager {
	if limits.CashBuffer <= 0 || limits.CashBuffer > 1 {
		limits.CashBuffer = 0.95
	}

	return &Manager{
		limits: limits,
		rules:  defaultRules(),
		stops:  make(map[string]*stopState),
		log:    log,
	}
}

// Rules returns the names of the policy rules in evaluation order.
func (m *Manager) Rules() []string {
	names := make([]string, 0, len(m.rules))
	for _, r := range m.rules {
		names = append(names, r.Name)
	}

	return names
}

// Evaluate runs the ordered policy for one symbol. A SizingError is returned
// for degenerate computations; the caller drops the intent and continues.
func (m *Manager) Evaluate(in Input) (Decision, error) {
	position, hasPosition := in.Snapshot.Position(in.State.Symbol)

	ctx := &evalContext{
		in:          in,
		position:    position,
		hasPosition: hasPosition && position.Quantity != 0,
	}

	if ctx.hasPosition {
		m.ratchetStops(ctx)
	}

	for _, rule := range m.rules {
		decision, decided, err := rule.Apply(m, ctx)
		if err != nil {
			return Decision{}, err
		}

		if decided {
			decision.Rule = rule.Name

			return decision, nil
		}
	}

	return Decision{}, nil
}

// OnFill records the consequences of an applied fill in the stop book. It
// must be called for every intent the portfolio tracker accepts.
func (m *Manager) OnFill(intent types.OrderIntent, state indicator.State, remaining types.Position) {
	if remaining.Quantity == 0 {
		delete(m.stops, intent.Symbol)

		return
	}

	sma, ok := state.Value(types.IndicatorTypeSMA)
	if !ok {
		return
	}

	st, exists := m.stops[intent.Symbol]
	if !exists {
		st = &stopState{}
		m.stops[intent.Symbol] = st
	}

	// A scale-in never loosens an already ratcheted or trailing stop and
	// never disarms the trailing state; watermarks only ever tighten too.
	if remaining.Quantity > 0 {
		if candidate := sma * (1 - m.limits.StopLossPct); candidate > st.stop {
			st.stop = candidate
		}

		if intent.Price > st.highWater {
			st.highWater = intent.Price
		}
	} else {
		if candidate := sma * (1 + m.limits.StopLossPct); st.stop == 0 || candidate < st.stop {
			st.stop = candidate
		}

		if st.lowWater == 0 || intent.Price < st.lowWater {
			st.lowWater = intent.Price
		}
	}

	st.entryReferenced = remaining.AvgEntryPrice

	m.log.Debug("stop set",
		zap.String("symbol", intent.Symbol),
		zap.Float64("stop", st.stop),
	)
}

// StopPrice exposes the current protective stop for a symbol, if any.
func (m *Manager) StopPrice(symbol string) (float64, bool) {
	st, ok := m.stops[symbol]
	if !ok {
		return 0, false
	}

	return st.stop, true
}

// ratchetStops tightens the protective stop as the moving average advances
// and maintains the trailing stop watermarks. Stops only ever tighten.
func (m *Manager) ratchetStops(ctx *evalContext) {
	symbol := ctx.in.State.Symbol

	st, ok := m.stops[symbol]
	if !ok {
		return
	}

	sma, hasSMA := ctx.in.State.Value(types.IndicatorTypeSMA)
	atr, hasATR := ctx.in.State.Value(types.IndicatorTypeATR)
	close := ctx.in.State.Close
	entry := ctx.position.AvgEntryPrice

	if ctx.position.Quantity > 0 {
		if hasSMA {
			if candidate := sma * (1 - m.limits.StopLossPct); candidate > st.stop {
				st.stop = candidate
			}
		}

		if close > st.highWater {
			st.highWater = close
		}

		if !st.trailingActive && entry > 0 && close >= entry*(1+m.limits.TrailingProfitThreshold) {
			st.trailingActive = true
		}

		if st.trailingActive && hasATR {
			if trail := st.highWater - m.limits.TrailingATRMultiplier*atr; trail > st.stop {
				st.stop = trail
			}
		}

		return
	}

	// Short side: the stop sits above price and only moves down.
	if hasSMA {
		if candidate := sma * (1 + m.limits.StopLossPct); st.stop == 0 || candidate < st.stop {
			st.stop = candidate
		}
	}

	if st.lowWater == 0 || close < st.lowWater {
		st.lowWater = close
	}

	if !st.trailingActive && entry > 0 && close <= entry*(1-m.limits.TrailingProfitThreshold) {
		st.trailingActive = true
	}

	if st.trailingActive && hasATR {
		if trail := st.lowWater + m.limits.TrailingATRMultiplier*atr; trail < st.stop {
			st.stop = trail
		}
	}
}

func rejection(ctx *evalContext, reason, message string) Decision {
	return Decision{
		Intent: optional.None[types.OrderIntent](),
		Rejection: optional.Some(types.Rejection{
			Symbol:    ctx.in.State.Symbol,
			Timestamp: ctx.in.State.Time,
			Reason:    types.Reason{Reason: reason, Message: message},
		}),
	}
}
