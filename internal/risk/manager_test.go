package risk

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/oakmont-labs/trendline/internal/indicator"
	"github.com/oakmont-labs/trendline/internal/logger"
	"github.com/oakmont-labs/trendline/internal/types"
	"github.com/oakmont-labs/trendline/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type ManagerTestSuite struct {
	suite.Suite
	manager *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func testLimits() Limits {
	return Limits{
		RiskPerTrade:            0.01,
		MaxPositions:            2,
		MaxAggregateExposure:    1.0,
		MaxEntriesPerSymbol:     2,
		StopLossPct:             0.015,
		TakeProfitPct:           optional.None[float64](),
		TrailingProfitThreshold: 0.15,
		TrailingATRMultiplier:   2.0,
		CashBuffer:              0.95,
	}
}

func (suite *ManagerTestSuite) SetupTest() {
	suite.manager = NewManager(testLimits(), logger.NewNopLogger())
}

func riskState(symbol string, close, sma float64) indicator.State {
	return indicator.State{
		Symbol:    symbol,
		Time:      time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC),
		Close:     close,
		WarmingUp: false,
		Values: map[types.IndicatorType]float64{
			types.IndicatorTypeSMA: sma,
			types.IndicatorTypeATR: 1.0,
		},
	}
}

func flatSnapshot(cash float64) types.Snapshot {
	return types.Snapshot{
		Timestamp: time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC),
		Cash:      cash,
		Positions: map[string]types.Position{},
		Marks:     map[string]float64{},
		Equity:    cash,
	}
}

func entrySignal(symbol string, at time.Time) optional.Option[types.Signal] {
	return optional.Some(types.Signal{
		Time:    at,
		Type:    types.SignalTypeEntryLong,
		Symbol:  symbol,
		Pattern: types.EntryPatternCross,
		Reason:  "cross entry",
	})
}

func (suite *ManagerTestSuite) TestRuleOrder() {
	suite.Equal([]string{"forced_exit", "protective_stop", "exit_signal", "entry"}, suite.manager.Rules())
}

func (suite *ManagerTestSuite) TestEntrySizingFormula() {
	state := riskState("AAPL", 101, 100)
	snapshot := flatSnapshot(100_000)

	decision, err := suite.manager.Evaluate(Input{
		Signal:   entrySignal("AAPL", state.Time),
		State:    state,
		Snapshot: snapshot,
	})
	suite.Require().NoError(err)
	suite.Require().True(decision.Intent.IsSome())
	suite.Equal("entry", decision.Rule)

	intent := decision.Intent.Unwrap()

	// risk budget = 100000 * 0.01 = 1000; stop = 100*(1-0.015) = 98.5;
	// distance = 101 - 98.5 = 2.5; qty = floor(1000/2.5) = 400.
	// 400 * 101 = 40400 fits in 95% of cash.
	suite.Equal(types.PurchaseTypeBuy, intent.Side)
	suite.InDelta(400.0, intent.Quantity, 1e-9)
	suite.InDelta(101.0, intent.Price, 1e-9)
	suite.NoError(intent.Validate())
}

func (suite *ManagerTestSuite) TestEntryClippedToCash() {
	state := riskState("AAPL", 101, 100)
	// Equity high but cash low: clip to floor(1000*0.95/101) = 9
	snapshot := flatSnapshot(1000)
	snapshot.Equity = 100_000

	decision, err := suite.manager.Evaluate(Input{
		Signal:   entrySignal("AAPL", state.Time),
		State:    state,
		Snapshot: snapshot,
	})
	suite.Require().NoError(err)
	suite.Require().True(decision.Intent.IsSome())
	suite.InDelta(9.0, decision.Intent.Unwrap().Quantity, 1e-9)
}

func (suite *ManagerTestSuite) TestEntryRejectedInsufficientCash() {
	state := riskState("AAPL", 101, 100)
	snapshot := flatSnapshot(50)
	snapshot.Equity = 100_000

	decision, err := suite.manager.Evaluate(Input{
		Signal:   entrySignal("AAPL", state.Time),
		State:    state,
		Snapshot: snapshot,
	})
	suite.Require().NoError(err)
	suite.True(decision.Intent.IsNone())
	suite.Require().True(decision.Rejection.IsSome())
	suite.Equal(types.RejectReasonInsufficientBuyingPower, decision.Rejection.Unwrap().Reason.Reason)
}

func (suite *ManagerTestSuite) TestEntryRejectedZeroQuantity() {
	state := riskState("AAPL", 101, 100)
	// Tiny equity: risk budget sizes to zero shares.
	snapshot := flatSnapshot(100)

	decision, err := suite.manager.Evaluate(Input{
		Signal:   entrySignal("AAPL", state.Time),
		State:    state,
		Snapshot: snapshot,
	})
	suite.Require().NoError(err)
	suite.Require().True(decision.Rejection.IsSome())
	suite.Equal(types.RejectReasonZeroQuantity, decision.Rejection.Unwrap().Reason.Reason)
}

func (suite *ManagerTestSuite) TestZeroStopDistanceIsSizingError() {
	limits := testLimits()
	limits.StopLossPct = 0
	manager := NewManager(limits, logger.NewNopLogger())

	// Close exactly on the SMA: stop distance is zero.
	state := riskState("AAPL", 100, 100)

	_, err := manager.Evaluate(Input{
		Signal:   entrySignal("AAPL", state.Time),
		State:    state,
		Snapshot: flatSnapshot(100_000),
	})
	suite.Error(err)
	suite.True(errors.IsSizingError(err))
}

func (suite *ManagerTestSuite) TestMaxPositionsCap() {
	state := riskState("NVDA", 101, 100)
	snapshot := flatSnapshot(100_000)
	snapshot.Positions = map[string]types.Position{
		"AAPL": {Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100},
		"MSFT": {Symbol: "MSFT", Quantity: 10, AvgEntryPrice: 50},
	}
	snapshot.Marks = map[string]float64{"AAPL": 100, "MSFT": 50}

	decision, err := suite.manager.Evaluate(Input{
		Signal:   entrySignal("NVDA", state.Time),
		State:    state,
		Snapshot: snapshot,
	})
	suite.Require().NoError(err)
	suite.Require().True(decision.Rejection.IsSome())
	suite.Equal(types.RejectReasonMaxPositions, decision.Rejection.Unwrap().Reason.Reason)
}

func (suite *ManagerTestSuite) TestMaxEntriesPerSymbolCap() {
	state := riskState("AAPL", 103.5, 100)
	snapshot := flatSnapshot(100_000)
	snapshot.Positions = map[string]types.Position{
		"AAPL": {Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 100, EntryCount: 2},
	}
	snapshot.Marks = map[string]float64{"AAPL": 103.5}

	decision, err := suite.manager.Evaluate(Input{
		Signal:   entrySignal("AAPL", state.Time),
		State:    state,
		Snapshot: snapshot,
	})
	suite.Require().NoError(err)
	suite.Require().True(decision.Rejection.IsSome())
	suite.Equal(types.RejectReasonMaxEntriesPerSymbol, decision.Rejection.Unwrap().Reason.Reason)
}

func (suite *ManagerTestSuite) TestExposureCapScalesDown() {
	limits := testLimits()
	limits.MaxAggregateExposure = 0.5
	manager := NewManager(limits, logger.NewNopLogger())

	state := riskState("AAPL", 100, 100.0/1.005) // ~0.5% above sma
	snapshot := flatSnapshot(100_000)

	decision, err := manager.Evaluate(Input{
		Signal:   entrySignal("AAPL", state.Time),
		State:    state,
		Snapshot: snapshot,
	})
	suite.Require().NoError(err)
	suite.Require().True(decision.Intent.IsSome())

	// Headroom = 0.5 * 100000 = 50000; at price 100 at most 500 shares.
	suite.LessOrEqual(decision.Intent.Unwrap().Quantity*100, 50_000.0)
}

func (suite *ManagerTestSuite) TestExposureCapRejectsWhenNoHeadroom() {
	limits := testLimits()
	limits.MaxAggregateExposure = 0.2
	manager := NewManager(limits, logger.NewNopLogger())

	state := riskState("NVDA", 101, 100)
	snapshot := flatSnapshot(100_000)
	snapshot.Positions = map[string]types.Position{
		"AAPL": {Symbol: "AAPL", Quantity: 200, AvgEntryPrice: 100},
	}
	snapshot.Marks = map[string]float64{"AAPL": 100}

	decision, err := manager.Evaluate(Input{
		Signal:   entrySignal("NVDA", state.Time),
		State:    state,
		Snapshot: snapshot,
	})
	suite.Require().NoError(err)
	suite.Require().True(decision.Rejection.IsSome())
	suite.Equal(types.RejectReasonMaxExposure, decision.Rejection.Unwrap().Reason.Reason)
}

func (suite *ManagerTestSuite) TestForcedExitOverridesEntrySignal() {
	state := riskState("AAPL", 101, 100)
	snapshot := flatSnapshot(50_000)
	snapshot.Positions = map[string]types.Position{
		"AAPL": {Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 95},
	}
	snapshot.Marks = map[string]float64{"AAPL": 101}

	decision, err := suite.manager.Evaluate(Input{
		Signal:     entrySignal("AAPL", state.Time),
		State:      state,
		Snapshot:   snapshot,
		ForcedExit: true,
	})
	suite.Require().NoError(err)
	suite.Equal("forced_exit", decision.Rule)
	suite.Require().True(decision.Intent.IsSome())

	intent := decision.Intent.Unwrap()
	suite.Equal(types.PurchaseTypeSell, intent.Side)
	suite.InDelta(100.0, intent.Quantity, 1e-9)
	suite.Equal(types.OrderReasonForcedExit, intent.Reason.Reason)
}

func (suite *ManagerTestSuite) TestStopBreachPrecedesEntry() {
	entryState := riskState("AAPL", 101, 100)
	snapshot := flatSnapshot(50_000)
	position := types.Position{Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 101, EntryCount: 1}
	snapshot.Positions = map[string]types.Position{"AAPL": position}
	snapshot.Marks = map[string]float64{"AAPL": 101}

	suite.manager.OnFill(types.OrderIntent{Symbol: "AAPL", Price: 101}, entryState, position)

	stop, ok := suite.manager.StopPrice("AAPL")
	suite.Require().True(ok)
	suite.InDelta(98.5, stop, 1e-9)

	// Price gaps below the stop while an entry signal is also present: the
	// stop decides, before the entry rule is ever reached.
	dropState := riskState("AAPL", 98, 100)

	decision, err := suite.manager.Evaluate(Input{
		Signal:   entrySignal("AAPL", dropState.Time),
		State:    dropState,
		Snapshot: snapshot,
	})
	suite.Require().NoError(err)
	suite.Equal("protective_stop", decision.Rule)
	suite.Require().True(decision.Intent.IsSome())
	suite.Equal(types.OrderReasonStopLoss, decision.Intent.Unwrap().Reason.Reason)
}

func (suite *ManagerTestSuite) TestStopRatchetsUpNeverDown() {
	state := riskState("AAPL", 101, 100)
	position := types.Position{Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 101, EntryCount: 1}

	suite.manager.OnFill(types.OrderIntent{Symbol: "AAPL", Price: 101}, state, position)

	snapshot := flatSnapshot(50_000)
	snapshot.Positions = map[string]types.Position{"AAPL": position}
	snapshot.Marks = map[string]float64{"AAPL": 101}

	// SMA rises: stop follows up.
	_, err := suite.manager.Evaluate(Input{State: riskState("AAPL", 103, 102), Snapshot: snapshot})
	suite.Require().NoError(err)

	stop, _ := suite.manager.StopPrice("AAPL")
	suite.InDelta(102*(1-0.015), stop, 1e-9)

	// SMA falls back: stop must not loosen.
	_, err = suite.manager.Evaluate(Input{State: riskState("AAPL", 103, 100), Snapshot: snapshot})
	suite.Require().NoError(err)

	after, _ := suite.manager.StopPrice("AAPL")
	suite.InDelta(stop, after, 1e-9)
}

func (suite *ManagerTestSuite) TestTrailingStopAfterProfitThreshold() {
	state := riskState("AAPL", 101, 100)
	position := types.Position{Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 100, EntryCount: 1}

	suite.manager.OnFill(types.OrderIntent{Symbol: "AAPL", Price: 100}, state, position)

	snapshot := flatSnapshot(50_000)
	snapshot.Positions = map[string]types.Position{"AAPL": position}
	snapshot.Marks = map[string]float64{"AAPL": 101}

	// +16% unrealized: trailing activates, trail = 116 - 2*1.0 = 114.
	_, err := suite.manager.Evaluate(Input{State: riskState("AAPL", 116, 110), Snapshot: snapshot})
	suite.Require().NoError(err)

	stop, _ := suite.manager.StopPrice("AAPL")
	suite.InDelta(114.0, stop, 1e-9)

	// Pullback through the trail: trailing stop fires.
	decision, err := suite.manager.Evaluate(Input{State: riskState("AAPL", 113, 110), Snapshot: snapshot})
	suite.Require().NoError(err)
	suite.Require().True(decision.Intent.IsSome())
	suite.Equal(types.OrderReasonTrailingStop, decision.Intent.Unwrap().Reason.Reason)
}

func (suite *ManagerTestSuite) TestScaleInKeepsTightenedStop() {
	state := riskState("AAPL", 101, 100)
	position := types.Position{Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 100, EntryCount: 1}

	suite.manager.OnFill(types.OrderIntent{Symbol: "AAPL", Price: 100}, state, position)

	snapshot := flatSnapshot(50_000)
	snapshot.Positions = map[string]types.Position{"AAPL": position}
	snapshot.Marks = map[string]float64{"AAPL": 101}

	// Trailing arms at +16% and ratchets the stop to 116 - 2*1.0 = 114.
	_, err := suite.manager.Evaluate(Input{State: riskState("AAPL", 116, 110), Snapshot: snapshot})
	suite.Require().NoError(err)

	stop, _ := suite.manager.StopPrice("AAPL")
	suite.InDelta(114.0, stop, 1e-9)

	// A pyramid fill against a lower moving average must not loosen the
	// stop or disarm the trailing state.
	stacked := types.Position{Symbol: "AAPL", Quantity: 200, AvgEntryPrice: 108, EntryCount: 2}
	suite.manager.OnFill(types.OrderIntent{Symbol: "AAPL", Price: 116}, riskState("AAPL", 116, 104), stacked)

	after, _ := suite.manager.StopPrice("AAPL")
	suite.InDelta(114.0, after, 1e-9)

	// The trailing stop still fires on the next pullback through it.
	snapshot.Positions = map[string]types.Position{"AAPL": stacked}

	decision, err := suite.manager.Evaluate(Input{State: riskState("AAPL", 113, 104), Snapshot: snapshot})
	suite.Require().NoError(err)
	suite.Require().True(decision.Intent.IsSome())
	suite.Equal(types.OrderReasonTrailingStop, decision.Intent.Unwrap().Reason.Reason)
}

func (suite *ManagerTestSuite) TestTakeProfitTarget() {
	limits := testLimits()
	limits.TakeProfitPct = optional.Some(0.10)
	manager := NewManager(limits, logger.NewNopLogger())

	snapshot := flatSnapshot(50_000)
	position := types.Position{Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 100, EntryCount: 1}
	snapshot.Positions = map[string]types.Position{"AAPL": position}
	snapshot.Marks = map[string]float64{"AAPL": 111}

	decision, err := manager.Evaluate(Input{State: riskState("AAPL", 111, 105), Snapshot: snapshot})
	suite.Require().NoError(err)
	suite.Require().True(decision.Intent.IsSome())
	suite.Equal(types.OrderReasonTakeProfit, decision.Intent.Unwrap().Reason.Reason)
}

func (suite *ManagerTestSuite) TestExitSignalClosesPosition() {
	snapshot := flatSnapshot(50_000)
	position := types.Position{Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 100, EntryCount: 1}
	snapshot.Positions = map[string]types.Position{"AAPL": position}
	snapshot.Marks = map[string]float64{"AAPL": 99}

	exit := optional.Some(types.Signal{
		Time:   time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC),
		Type:   types.SignalTypeExitLong,
		Symbol: "AAPL",
		Reason: "close below sma",
	})

	// No stop recorded: the exit signal rule decides.
	decision, err := suite.manager.Evaluate(Input{
		Signal:   exit,
		State:    riskState("AAPL", 99, 100),
		Snapshot: snapshot,
	})
	suite.Require().NoError(err)
	suite.Equal("exit_signal", decision.Rule)
	suite.Require().True(decision.Intent.IsSome())
	suite.Equal(types.OrderReasonStrategy, decision.Intent.Unwrap().Reason.Reason)
}

func (suite *ManagerTestSuite) TestOnFillCloseClearsStop() {
	state := riskState("AAPL", 101, 100)
	position := types.Position{Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 101, EntryCount: 1}

	suite.manager.OnFill(types.OrderIntent{Symbol: "AAPL", Price: 101}, state, position)
	_, ok := suite.manager.StopPrice("AAPL")
	suite.True(ok)

	suite.manager.OnFill(types.OrderIntent{Symbol: "AAPL", Price: 101}, state, types.Position{})
	_, ok = suite.manager.StopPrice("AAPL")
	suite.False(ok)
}

func (suite *ManagerTestSuite) TestNoSignalNoPositionNoDecision() {
	decision, err := suite.manager.Evaluate(Input{
		State:    riskState("AAPL", 101, 100),
		Snapshot: flatSnapshot(100_000),
	})
	suite.Require().NoError(err)
	suite.True(decision.Intent.IsNone())
	suite.True(decision.Rejection.IsNone())
	suite.Empty(decision.Rule)
}
