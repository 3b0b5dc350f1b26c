package types

import (
	"time"

	"github.com/oakmont-labs/trendline/pkg/errors"
)

// Bar is one OHLCV observation for a symbol at a timestamp. Bars are
// immutable once emitted and unique per (symbol, timestamp).
type Bar struct {
	Symbol string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Time   time.Time `yaml:"time" json:"time" csv:"time"`
	Open   float64   `yaml:"open" json:"open" csv:"open"`
	High   float64   `yaml:"high" json:"high" csv:"high"`
	Low    float64   `yaml:"low" json:"low" csv:"low"`
	Close  float64   `yaml:"close" json:"close" csv:"close"`
	Volume float64   `yaml:"volume" json:"volume" csv:"volume"`
}

// Validate checks the bar for malformed fields. A malformed bar is fatal
// to the run, so this returns a DataError rather than a soft rejection.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return errors.NewDataErrorf("", "bar at %s has no symbol", b.Time.Format(time.RFC3339))
	}

	if b.Time.IsZero() {
		return errors.NewDataErrorf(b.Symbol, "bar for %s has zero timestamp", b.Symbol)
	}

	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return errors.NewDataErrorf(b.Symbol, "bar for %s at %s has non-positive price",
			b.Symbol, b.Time.Format(time.RFC3339))
	}

	if b.High < b.Low {
		return errors.NewDataErrorf(b.Symbol, "bar for %s at %s has high %.4f below low %.4f",
			b.Symbol, b.Time.Format(time.RFC3339), b.High, b.Low)
	}

	if b.Volume < 0 {
		return errors.NewDataErrorf(b.Symbol, "bar for %s at %s has negative volume",
			b.Symbol, b.Time.Format(time.RFC3339))
	}

	return nil
}
