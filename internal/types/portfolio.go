package types

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Position represents the current holding of one symbol. Quantity is signed:
// positive for long, negative for short. A position is removed from the
// snapshot when its quantity returns to zero.
type Position struct {
	Symbol string `yaml:"symbol" json:"symbol" csv:"symbol"`
	// Quantity is the signed number of shares held
	Quantity float64 `yaml:"quantity" json:"quantity" csv:"quantity"`
	// AvgEntryPrice is the volume weighted average entry price
	AvgEntryPrice float64 `yaml:"avg_entry_price" json:"avg_entry_price" csv:"avg_entry_price"`
	// OpenedAt is the time of the fill that opened the position
	OpenedAt time.Time `yaml:"opened_at" json:"opened_at" csv:"opened_at"`
	// EntryCount is the number of entry fills stacked into this position
	EntryCount int `yaml:"entry_count" json:"entry_count" csv:"entry_count"`
}

// Type returns the position type implied by the quantity sign.
func (p Position) Type() PositionType {
	if p.Quantity < 0 {
		return PositionTypeShort
	}

	return PositionTypeLong
}

// MarketValue returns the signed market value of the position at the given price.
func (p Position) MarketValue(price float64) float64 {
	value, _ := decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(price)).Float64()

	return value
}

// Exposure returns the absolute market value of the position at the given price.
func (p Position) Exposure(price float64) float64 {
	value := p.MarketValue(price)
	if value < 0 {
		return -value
	}

	return value
}

// UnrealizedPnL returns the profit or loss of the position marked at the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	entry := decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(p.AvgEntryPrice))
	mark := decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(price))
	pnl, _ := mark.Sub(entry).Float64()

	return pnl
}

// Snapshot is the portfolio state after one bar step. It is immutable once
// created and appended to the history owned by the orchestrator.
type Snapshot struct {
	Timestamp time.Time `yaml:"timestamp" json:"timestamp" csv:"timestamp"`
	// Cash is the available cash balance
	Cash float64 `yaml:"cash" json:"cash" csv:"cash"`
	// Positions maps symbol to the open position
	Positions map[string]Position `yaml:"positions" json:"positions"`
	// Marks maps symbol to the last known price used for equity
	Marks map[string]float64 `yaml:"marks" json:"marks"`
	// Equity is cash plus the sum of position market values. It is
	// re-derived from scratch at every step, never incrementally patched.
	Equity float64 `yaml:"equity" json:"equity" csv:"equity"`
}

// Position returns the open position for a symbol, if any.
func (s Snapshot) Position(symbol string) (Position, bool) {
	pos, ok := s.Positions[symbol]

	return pos, ok
}

// OpenPositionCount returns the number of open positions.
func (s Snapshot) OpenPositionCount() int {
	return len(s.Positions)
}

// AggregateExposure returns the sum of absolute position market values at
// the snapshot's marks.
func (s Snapshot) AggregateExposure() float64 {
	total := decimal.Zero
	for symbol, pos := range s.Positions {
		mark := s.Marks[symbol]
		total = total.Add(decimal.NewFromFloat(pos.Exposure(mark)))
	}

	value, _ := total.Float64()

	return value
}

// Symbols returns the symbols with open positions in ascending order.
func (s Snapshot) Symbols() []string {
	symbols := make([]string, 0, len(s.Positions))
	for symbol := range s.Positions {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	return symbols
}
