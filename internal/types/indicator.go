package types

type IndicatorType string

const (
	IndicatorTypeSMA      IndicatorType = "sma"
	IndicatorTypeATR      IndicatorType = "atr"
	IndicatorTypeSMASlope IndicatorType = "sma_slope"
)
