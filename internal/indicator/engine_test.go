package indicator

import (
	"testing"
	"time"

	"github.com/oakmont-labs/trendline/internal/types"
	"github.com/oakmont-labs/trendline/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type EngineTestSuite struct {
	suite.Suite
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (suite *EngineTestSuite) SetupTest() {
	engine, err := NewEngine(150, 14, 5)
	suite.Require().NoError(err)
	suite.engine = engine
}

func barAt(symbol string, day int, close float64) types.Bar {
	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

	return types.Bar{
		Symbol: symbol,
		Time:   base.AddDate(0, 0, day),
		Open:   close,
		High:   close + 0.5,
		Low:    close - 0.5,
		Close:  close,
		Volume: 1_000_000,
	}
}

func (suite *EngineTestSuite) TestNewEngineInvalidPeriods() {
	for _, tc := range [][3]int{{0, 14, 5}, {150, 0, 5}, {150, 14, 0}} {
		_, err := NewEngine(tc[0], tc[1], tc[2])
		suite.Error(err)
		suite.True(errors.HasCode(err, errors.ErrCodeInvalidPeriod))
	}
}

func (suite *EngineTestSuite) TestWarmingUpUntilLookbackFills() {
	for day := 0; day < 149; day++ {
		state, err := suite.engine.Update(barAt("AAPL", day, 100+float64(day)*0.01))
		suite.Require().NoError(err)
		suite.True(state.WarmingUp, "bar %d should still be warming up", day+1)

		_, hasSMA := state.Value(types.IndicatorTypeSMA)
		suite.False(hasSMA)
	}

	state, err := suite.engine.Update(barAt("AAPL", 149, 101.49))
	suite.Require().NoError(err)
	suite.False(state.WarmingUp)

	_, hasSMA := state.Value(types.IndicatorTypeSMA)
	suite.True(hasSMA)
}

// The O(1) incremental moving average must equal a naive recomputation over
// the last N closes at every step.
func (suite *EngineTestSuite) TestSMAMatchesNaiveRecomputation() {
	engine, err := NewEngine(20, 14, 5)
	suite.Require().NoError(err)

	var closes []float64

	price := 50.0
	for day := 0; day < 200; day++ {
		price += 0.13
		if day%11 == 0 {
			price -= 0.9
		}

		closes = append(closes, price)

		state, err := engine.Update(barAt("MSFT", day, price))
		suite.Require().NoError(err)

		if len(closes) < 20 {
			continue
		}

		sum := 0.0
		for _, c := range closes[len(closes)-20:] {
			sum += c
		}

		sma, ok := state.Value(types.IndicatorTypeSMA)
		suite.Require().True(ok)
		suite.InDelta(sum/20.0, sma, 1e-9)
	}
}

func (suite *EngineTestSuite) TestOutOfOrderBarFails() {
	_, err := suite.engine.Update(barAt("AAPL", 5, 100))
	suite.Require().NoError(err)

	_, err = suite.engine.Update(barAt("AAPL", 3, 100))
	suite.Error(err)
	suite.True(errors.IsSequenceError(err))
}

func (suite *EngineTestSuite) TestDuplicateBarFails() {
	_, err := suite.engine.Update(barAt("AAPL", 5, 100))
	suite.Require().NoError(err)

	_, err = suite.engine.Update(barAt("AAPL", 5, 101))
	suite.Error(err)
	suite.True(errors.IsSequenceError(err))
}

func (suite *EngineTestSuite) TestSequencePerSymbolIndependent() {
	_, err := suite.engine.Update(barAt("AAPL", 5, 100))
	suite.Require().NoError(err)

	// A different symbol may start earlier in the timeline.
	_, err = suite.engine.Update(barAt("MSFT", 3, 50))
	suite.NoError(err)
}

func (suite *EngineTestSuite) TestMalformedBarFails() {
	bar := barAt("AAPL", 0, 100)
	bar.High = 10 // below low

	_, err := suite.engine.Update(bar)
	suite.Error(err)
	suite.True(errors.IsDataError(err))
}

func (suite *EngineTestSuite) TestATRConstantRange() {
	engine, err := NewEngine(10, 14, 5)
	suite.Require().NoError(err)

	// Flat closes with a constant high-low range of 1.0: ATR converges to 1.0.
	var state State
	for day := 0; day < 50; day++ {
		state, err = engine.Update(barAt("NVDA", day, 100))
		suite.Require().NoError(err)
	}

	atr, ok := state.Value(types.IndicatorTypeATR)
	suite.Require().True(ok)
	suite.InDelta(1.0, atr, 1e-9)
}

func (suite *EngineTestSuite) TestSlopePositiveOnRisingSeries() {
	engine, err := NewEngine(10, 14, 5)
	suite.Require().NoError(err)

	var state State
	for day := 0; day < 40; day++ {
		var uErr error
		state, uErr = engine.Update(barAt("NVDA", day, 100+float64(day)))
		suite.Require().NoError(uErr)
	}

	slope, ok := state.Value(types.IndicatorTypeSMASlope)
	suite.Require().True(ok)
	suite.Positive(slope)
}

func (suite *EngineTestSuite) TestStateAccessor() {
	_, ok := suite.engine.State("AAPL")
	suite.False(ok)

	_, err := suite.engine.Update(barAt("AAPL", 0, 100))
	suite.Require().NoError(err)

	state, ok := suite.engine.State("AAPL")
	suite.True(ok)
	suite.Equal("AAPL", state.Symbol)
	suite.Equal(1, suite.engine.BarCount("AAPL"))

	suite.engine.Remove("AAPL")
	suite.Equal(0, suite.engine.BarCount("AAPL"))
}
