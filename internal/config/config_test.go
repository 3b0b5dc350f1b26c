package config

import (
	"strings"
	"testing"

	"github.com/oakmont-labs/trendline/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

const minimalYAML = `
data:
  paths:
    - testdata/bars.csv
engine:
  initial_capital: 100000
`

func (suite *ConfigTestSuite) TestParseMinimalUsesDefaults() {
	cfg, err := Parse([]byte(minimalYAML))
	suite.Require().NoError(err)

	suite.Equal([]string{"testdata/bars.csv"}, cfg.Data.Paths)
	suite.InDelta(100_000.0, cfg.Engine.InitialCapital, 1e-9)

	suite.Equal(150, cfg.Strategy.SMAPeriod)
	suite.Equal(14, cfg.Strategy.ATRPeriod)
	suite.Equal(5, cfg.Strategy.SlopeLookback)
	suite.InDelta(0.01, cfg.Strategy.CrossThreshold, 1e-9)
	suite.InDelta(0.03, cfg.Strategy.RetestMin, 1e-9)
	suite.InDelta(0.04, cfg.Strategy.RetestMax, 1e-9)
	suite.False(cfg.Strategy.RequirePositiveSlope)
	suite.True(cfg.Strategy.AllowPyramiding)
	suite.True(cfg.Strategy.BenchmarkSymbol.IsNone())

	suite.InDelta(0.01, cfg.Risk.RiskPerTrade, 1e-9)
	suite.Equal(2, cfg.Risk.MaxPositions)
	suite.True(cfg.Risk.TakeProfitPct.IsNone())
	suite.InDelta(0.95, cfg.Risk.CashBuffer, 1e-9)
}

func (suite *ConfigTestSuite) TestParseOverridesAndOptionals() {
	yamlDoc := minimalYAML + `
strategy:
  sma_period: 50
  atr_period: 14
  slope_lookback: 5
  cross_threshold: 0.02
  retest_min: 0.03
  retest_max: 0.05
  require_positive_slope: true
  benchmark_symbol: SPY
risk:
  risk_per_trade: 0.02
  max_positions: 3
  max_entries_per_symbol: 2
  max_aggregate_exposure: 1.0
  stop_loss_pct: 0.02
  take_profit_pct: 0.25
  trailing_profit_threshold: 0.15
  trailing_atr_multiplier: 2.0
  cash_buffer: 0.9
data:
  paths:
    - testdata/bars.csv
  start_time: 2016-01-01T00:00:00Z
  end_time: 2017-01-01T00:00:00Z
`

	cfg, err := Parse([]byte(yamlDoc))
	suite.Require().NoError(err)

	suite.Equal(50, cfg.Strategy.SMAPeriod)
	suite.True(cfg.Strategy.RequirePositiveSlope)
	suite.Require().True(cfg.Strategy.BenchmarkSymbol.IsSome())
	suite.Equal("SPY", cfg.Strategy.BenchmarkSymbol.Unwrap())

	suite.Require().True(cfg.Risk.TakeProfitPct.IsSome())
	suite.InDelta(0.25, cfg.Risk.TakeProfitPct.Unwrap(), 1e-9)

	suite.Require().True(cfg.Data.StartTime.IsSome())
	suite.Equal(2016, cfg.Data.StartTime.Unwrap().Year())
}

func (suite *ConfigTestSuite) TestPartialSectionKeepsDefaults() {
	// A section that names only some keys overrides those keys and nothing
	// else; the remaining defaults must survive validation.
	cfg, err := Parse([]byte(minimalYAML + `
strategy:
  sma_period: 100
risk:
  max_positions: 3
`))
	suite.Require().NoError(err)

	suite.Equal(100, cfg.Strategy.SMAPeriod)
	suite.Equal(14, cfg.Strategy.ATRPeriod)
	suite.Equal(5, cfg.Strategy.SlopeLookback)
	suite.InDelta(0.01, cfg.Strategy.CrossThreshold, 1e-9)
	suite.InDelta(0.03, cfg.Strategy.RetestMin, 1e-9)
	suite.InDelta(0.04, cfg.Strategy.RetestMax, 1e-9)
	suite.True(cfg.Strategy.AllowPyramiding)

	suite.Equal(3, cfg.Risk.MaxPositions)
	suite.InDelta(0.01, cfg.Risk.RiskPerTrade, 1e-9)
	suite.InDelta(0.015, cfg.Risk.StopLossPct, 1e-9)
	suite.InDelta(0.95, cfg.Risk.CashBuffer, 1e-9)
}

func (suite *ConfigTestSuite) TestParseRejectsMissingCapital() {
	_, err := Parse([]byte(`
data:
  paths:
    - testdata/bars.csv
`))
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestParseRejectsMissingPaths() {
	_, err := Parse([]byte(`
engine:
  initial_capital: 100000
`))
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestParseRejectsInvertedRetestBand() {
	yamlDoc := minimalYAML + `
strategy:
  sma_period: 150
  atr_period: 14
  slope_lookback: 5
  cross_threshold: 0.01
  retest_min: 0.04
  retest_max: 0.03
`

	_, err := Parse([]byte(yamlDoc))
	suite.Error(err)
}

func (suite *ConfigTestSuite) TestParseRejectsMalformedYAML() {
	_, err := Parse([]byte("data: ["))
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestMappings() {
	cfg, err := Parse([]byte(minimalYAML))
	suite.Require().NoError(err)

	params := cfg.SignalParams()
	suite.InDelta(0.01, params.CrossThreshold, 1e-9)

	limits := cfg.RiskLimits()
	suite.Equal(2, limits.MaxPositions)
	suite.InDelta(0.015, limits.StopLossPct, 1e-9)

	// Warmup floor is raised to the SMA period.
	rules := cfg.UniverseRules()
	suite.Equal(150, rules.MinWarmupBars)
	suite.Equal(20, rules.VolumeWindow)
}

func (suite *ConfigTestSuite) TestGenerateSchemaJSON() {
	schema, err := GenerateSchemaJSON()
	suite.Require().NoError(err)

	suite.True(strings.Contains(schema, "trendline-config"))
	suite.True(strings.Contains(schema, "initial_capital"))
	suite.True(strings.Contains(schema, "cross_threshold"))
	suite.True(strings.Contains(schema, "take_profit_pct"))
}
