// Package config defines the YAML run configuration and its JSON schema.
// Optional fields use optional.Option with custom unmarshaling so an absent
// key and an explicit value stay distinguishable.
package config

import (
	"encoding/json"
	"os"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/oakmont-labs/trendline/internal/risk"
	"github.com/oakmont-labs/trendline/internal/signal"
	"github.com/oakmont-labs/trendline/internal/universe"
	"github.com/oakmont-labs/trendline/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config is the complete run configuration.
type Config struct {
	Data     DataConfig     `yaml:"data" json:"data" jsonschema:"title=Data,description=Input bar files and replay range"`
	Engine   EngineConfig   `yaml:"engine" json:"engine" jsonschema:"title=Engine,description=Capital and output settings"`
	Strategy StrategyConfig `yaml:"strategy" json:"strategy" jsonschema:"title=Strategy,description=Indicator periods and entry thresholds"`
	Risk     RiskConfig     `yaml:"risk" json:"risk" jsonschema:"title=Risk,description=Position sizing and portfolio caps"`
	Universe UniverseConfig `yaml:"universe" json:"universe" jsonschema:"title=Universe,description=Symbol eligibility rules"`
}

// DataConfig locates the input bars and bounds the replay window.
type DataConfig struct {
	Paths     []string                   `yaml:"paths" json:"paths" validate:"required,min=1" jsonschema:"title=Paths,description=CSV or parquet bar files"`
	StartTime optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional replay start"`
	EndTime   optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional replay end"`
}

// EngineConfig holds capital and output settings.
type EngineConfig struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital" validate:"required,gt=0" jsonschema:"title=Initial Capital,description=Starting cash in USD,minimum=0"`
	ResultFolder   string  `yaml:"result_folder" json:"result_folder" jsonschema:"title=Result Folder,description=Folder for parquet journal exports"`
}

// StrategyConfig holds the indicator periods and entry thresholds.
type StrategyConfig struct {
	SMAPeriod     int `yaml:"sma_period" json:"sma_period" validate:"required,gt=1" jsonschema:"title=SMA Period,description=Rolling mean lookback in bars,default=150"`
	ATRPeriod     int `yaml:"atr_period" json:"atr_period" validate:"required,gt=0" jsonschema:"title=ATR Period,description=Average true range lookback,default=14"`
	SlopeLookback int `yaml:"slope_lookback" json:"slope_lookback" validate:"required,gt=0" jsonschema:"title=Slope Lookback,description=Bars between SMA slope reference points,default=5"`

	CrossThreshold float64 `yaml:"cross_threshold" json:"cross_threshold" validate:"required,gt=0" jsonschema:"title=Cross Threshold,description=Max fraction above the SMA for a cross entry,default=0.01"`
	RetestMin      float64 `yaml:"retest_min" json:"retest_min" validate:"required,gt=0" jsonschema:"title=Retest Min,description=Lower bound of the retest band,default=0.03"`
	RetestMax      float64 `yaml:"retest_max" json:"retest_max" validate:"required,gtfield=RetestMin" jsonschema:"title=Retest Max,description=Upper bound of the retest band,default=0.04"`

	RequirePositiveSlope bool `yaml:"require_positive_slope" json:"require_positive_slope" jsonschema:"title=Require Positive Slope,description=Gate entries on a rising SMA"`
	AllowPyramiding      bool `yaml:"allow_pyramiding" json:"allow_pyramiding" jsonschema:"title=Allow Pyramiding,description=Permit retest add-ons to an open position,default=true"`
	ShortingEnabled      bool `yaml:"shorting_enabled" json:"shorting_enabled" jsonschema:"title=Shorting Enabled,description=Mirror entries below the SMA"`

	// BenchmarkSymbol gates entries on the benchmark trading above its own
	// SMA. Exits are never gated.
	BenchmarkSymbol optional.Option[string] `yaml:"benchmark_symbol" json:"benchmark_symbol" jsonschema:"title=Benchmark Symbol,description=Optional market filter symbol such as SPY"`
}

// RiskConfig holds the sizing parameters and portfolio caps.
type RiskConfig struct {
	RiskPerTrade            float64                  `yaml:"risk_per_trade" json:"risk_per_trade" validate:"required,gt=0,lte=1" jsonschema:"title=Risk Per Trade,description=Fraction of equity risked per entry,default=0.01"`
	MaxPositions            int                      `yaml:"max_positions" json:"max_positions" validate:"required,gt=0" jsonschema:"title=Max Positions,description=Concurrent open position cap,default=2"`
	MaxEntriesPerSymbol     int                      `yaml:"max_entries_per_symbol" json:"max_entries_per_symbol" validate:"required,gt=0" jsonschema:"title=Max Entries Per Symbol,description=Stacked entry cap per symbol,default=2"`
	MaxAggregateExposure    float64                  `yaml:"max_aggregate_exposure" json:"max_aggregate_exposure" validate:"required,gt=0" jsonschema:"title=Max Aggregate Exposure,description=Total absolute exposure as a fraction of equity,default=1.0"`
	StopLossPct             float64                  `yaml:"stop_loss_pct" json:"stop_loss_pct" validate:"required,gt=0,lt=1" jsonschema:"title=Stop Loss Pct,description=Stop distance below the SMA,default=0.015"`
	TakeProfitPct           optional.Option[float64] `yaml:"take_profit_pct" json:"take_profit_pct" jsonschema:"title=Take Profit Pct,description=Optional profit target from average entry"`
	TrailingProfitThreshold float64                  `yaml:"trailing_profit_threshold" json:"trailing_profit_threshold" validate:"required,gt=0" jsonschema:"title=Trailing Profit Threshold,description=Unrealized gain that arms the trailing stop,default=0.15"`
	TrailingATRMultiplier   float64                  `yaml:"trailing_atr_multiplier" json:"trailing_atr_multiplier" validate:"required,gt=0" jsonschema:"title=Trailing ATR Multiplier,description=Trailing distance in ATR multiples,default=2.0"`
	CashBuffer              float64                  `yaml:"cash_buffer" json:"cash_buffer" validate:"required,gt=0,lte=1" jsonschema:"title=Cash Buffer,description=Fraction of cash an entry may consume,default=0.95"`
}

// UniverseConfig holds the symbol eligibility rules.
type UniverseConfig struct {
	MinPrice      float64 `yaml:"min_price" json:"min_price" jsonschema:"title=Min Price,description=Minimum last close for eligibility"`
	MinAvgVolume  float64 `yaml:"min_avg_volume" json:"min_avg_volume" jsonschema:"title=Min Avg Volume,description=Minimum average volume over the volume window"`
	VolumeWindow  int     `yaml:"volume_window" json:"volume_window" validate:"required,gt=0" jsonschema:"title=Volume Window,description=Bars in the rolling volume average,default=20"`
	MinWarmupBars int     `yaml:"min_warmup_bars" json:"min_warmup_bars" jsonschema:"title=Min Warmup Bars,description=Bars observed before a symbol is tradable"`
}

// UnmarshalYAML implements custom unmarshaling for DataConfig. The decode
// struct is seeded from the current values so a partial section only
// overrides the keys it names.
func (c *DataConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain struct {
		Paths     []string   `yaml:"paths"`
		StartTime *time.Time `yaml:"start_time"`
		EndTime   *time.Time `yaml:"end_time"`
	}

	p := plain{Paths: c.Paths}
	if err := unmarshal(&p); err != nil {
		return err
	}

	c.Paths = p.Paths
	if p.StartTime != nil {
		c.StartTime = optional.Some(*p.StartTime)
	}

	if p.EndTime != nil {
		c.EndTime = optional.Some(*p.EndTime)
	}

	return nil
}

// UnmarshalYAML implements custom unmarshaling for StrategyConfig.
func (c *StrategyConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain struct {
		SMAPeriod            int     `yaml:"sma_period"`
		ATRPeriod            int     `yaml:"atr_period"`
		SlopeLookback        int     `yaml:"slope_lookback"`
		CrossThreshold       float64 `yaml:"cross_threshold"`
		RetestMin            float64 `yaml:"retest_min"`
		RetestMax            float64 `yaml:"retest_max"`
		RequirePositiveSlope bool    `yaml:"require_positive_slope"`
		AllowPyramiding      bool    `yaml:"allow_pyramiding"`
		ShortingEnabled      bool    `yaml:"shorting_enabled"`
		BenchmarkSymbol      *string `yaml:"benchmark_symbol"`
	}

	p := plain{
		SMAPeriod:            c.SMAPeriod,
		ATRPeriod:            c.ATRPeriod,
		SlopeLookback:        c.SlopeLookback,
		CrossThreshold:       c.CrossThreshold,
		RetestMin:            c.RetestMin,
		RetestMax:            c.RetestMax,
		RequirePositiveSlope: c.RequirePositiveSlope,
		AllowPyramiding:      c.AllowPyramiding,
		ShortingEnabled:      c.ShortingEnabled,
	}
	if err := unmarshal(&p); err != nil {
		return err
	}

	c.SMAPeriod = p.SMAPeriod
	c.ATRPeriod = p.ATRPeriod
	c.SlopeLookback = p.SlopeLookback
	c.CrossThreshold = p.CrossThreshold
	c.RetestMin = p.RetestMin
	c.RetestMax = p.RetestMax
	c.RequirePositiveSlope = p.RequirePositiveSlope
	c.AllowPyramiding = p.AllowPyramiding
	c.ShortingEnabled = p.ShortingEnabled

	if p.BenchmarkSymbol != nil {
		c.BenchmarkSymbol = optional.Some(*p.BenchmarkSymbol)
	}

	return nil
}

// UnmarshalYAML implements custom unmarshaling for RiskConfig.
func (c *RiskConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain struct {
		RiskPerTrade            float64  `yaml:"risk_per_trade"`
		MaxPositions            int      `yaml:"max_positions"`
		MaxEntriesPerSymbol     int      `yaml:"max_entries_per_symbol"`
		MaxAggregateExposure    float64  `yaml:"max_aggregate_exposure"`
		StopLossPct             float64  `yaml:"stop_loss_pct"`
		TakeProfitPct           *float64 `yaml:"take_profit_pct"`
		TrailingProfitThreshold float64  `yaml:"trailing_profit_threshold"`
		TrailingATRMultiplier   float64  `yaml:"trailing_atr_multiplier"`
		CashBuffer              float64  `yaml:"cash_buffer"`
	}

	p := plain{
		RiskPerTrade:            c.RiskPerTrade,
		MaxPositions:            c.MaxPositions,
		MaxEntriesPerSymbol:     c.MaxEntriesPerSymbol,
		MaxAggregateExposure:    c.MaxAggregateExposure,
		StopLossPct:             c.StopLossPct,
		TrailingProfitThreshold: c.TrailingProfitThreshold,
		TrailingATRMultiplier:   c.TrailingATRMultiplier,
		CashBuffer:              c.CashBuffer,
	}
	if err := unmarshal(&p); err != nil {
		return err
	}

	c.RiskPerTrade = p.RiskPerTrade
	c.MaxPositions = p.MaxPositions
	c.MaxEntriesPerSymbol = p.MaxEntriesPerSymbol
	c.MaxAggregateExposure = p.MaxAggregateExposure
	c.StopLossPct = p.StopLossPct
	c.TrailingProfitThreshold = p.TrailingProfitThreshold
	c.TrailingATRMultiplier = p.TrailingATRMultiplier
	c.CashBuffer = p.CashBuffer

	if p.TakeProfitPct != nil {
		c.TakeProfitPct = optional.Some(*p.TakeProfitPct)
	}

	return nil
}

// Default returns the configuration with every tunable at its stock value.
// Data paths and initial capital have no sensible default and stay zero.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			ResultFolder: "results",
		},
		Strategy: StrategyConfig{
			SMAPeriod:       150,
			ATRPeriod:       14,
			SlopeLookback:   5,
			CrossThreshold:  0.01,
			RetestMin:       0.03,
			RetestMax:       0.04,
			AllowPyramiding: true,
		},
		Risk: RiskConfig{
			RiskPerTrade:            0.01,
			MaxPositions:            2,
			MaxEntriesPerSymbol:     2,
			MaxAggregateExposure:    1.0,
			StopLossPct:             0.015,
			TrailingProfitThreshold: 0.15,
			TrailingATRMultiplier:   2.0,
			CashBuffer:              0.95,
		},
		Universe: UniverseConfig{
			VolumeWindow: 20,
		},
	}
}

// Parse unmarshals a YAML document over the defaults and validates it.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config %s", path)
	}

	return Parse(data)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	return nil
}

// SignalParams maps the strategy section onto the detector parameters.
func (c *Config) SignalParams() signal.Params {
	return signal.Params{
		CrossThreshold:       c.Strategy.CrossThreshold,
		RetestMin:            c.Strategy.RetestMin,
		RetestMax:            c.Strategy.RetestMax,
		RequirePositiveSlope: c.Strategy.RequirePositiveSlope,
		AllowPyramiding:      c.Strategy.AllowPyramiding,
		ShortingEnabled:      c.Strategy.ShortingEnabled,
	}
}

// RiskLimits maps the risk section onto the manager limits.
func (c *Config) RiskLimits() risk.Limits {
	return risk.Limits{
		RiskPerTrade:            c.Risk.RiskPerTrade,
		MaxPositions:            c.Risk.MaxPositions,
		MaxAggregateExposure:    c.Risk.MaxAggregateExposure,
		MaxEntriesPerSymbol:     c.Risk.MaxEntriesPerSymbol,
		StopLossPct:             c.Risk.StopLossPct,
		TakeProfitPct:           c.Risk.TakeProfitPct,
		TrailingProfitThreshold: c.Risk.TrailingProfitThreshold,
		TrailingATRMultiplier:   c.Risk.TrailingATRMultiplier,
		CashBuffer:              c.Risk.CashBuffer,
	}
}

// UniverseRules maps the universe section onto the selector rules. The
// warmup floor is raised to the SMA lookback so signals and eligibility
// become available together.
func (c *Config) UniverseRules() universe.Rules {
	minWarmup := c.Universe.MinWarmupBars
	if minWarmup < c.Strategy.SMAPeriod {
		minWarmup = c.Strategy.SMAPeriod
	}

	return universe.Rules{
		MinPrice:      c.Universe.MinPrice,
		MinAvgVolume:  c.Universe.MinAvgVolume,
		VolumeWindow:  c.Universe.VolumeWindow,
		MinWarmupBars: minWarmup,
	}
}

// GenerateSchema generates the JSON schema for the run configuration.
func GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			switch t.String() {
			case "optional.Option[time.Time]":
				return &jsonschema.Schema{Type: "string", Format: "date-time"}
			case "optional.Option[float64]":
				return &jsonschema.Schema{Type: "number"}
			case "optional.Option[string]":
				return &jsonschema.Schema{Type: "string"}
			}

			return nil
		},
	}

	schema := reflector.Reflect(&Config{})
	schema.Title = "trendline-config"
	schema.Description = "Configuration schema for a trendline backtest run"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON renders the JSON schema as an indented document.
func GenerateSchemaJSON() (string, error) {
	data, err := json.MarshalIndent(GenerateSchema(), "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to marshal schema", err)
	}

	return string(data), nil
}
