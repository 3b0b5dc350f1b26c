// Package universe filters the tradable symbol set per period using
// liquidity and eligibility rules. Selection is deterministic for a given
// timestamp and candidate set so that backtests are reproducible.
package universe

import (
	"sort"
	"time"

	"github.com/oakmont-labs/trendline/internal/indicator"
	"github.com/oakmont-labs/trendline/internal/types"
	"github.com/oakmont-labs/trendline/pkg/errors"
)

// Rules are the static eligibility rules applied each period.
type Rules struct {
	// MinPrice is the minimum last close for a symbol to be tradable
	MinPrice float64
	// MinAvgVolume is the minimum average volume over VolumeWindow bars
	MinAvgVolume float64
	// VolumeWindow is the number of bars the volume average spans
	VolumeWindow int
	// MinWarmupBars is the number of bars a symbol must have produced
	// before it becomes tradable, normally the indicator lookback
	MinWarmupBars int
}

// Result is the outcome of one eligibility pass.
type Result struct {
	// Eligible is the set of tradable symbols
	Eligible map[string]bool
	// ForcedExits lists symbols with an open position that lost
	// eligibility this period, in ascending symbol order. They are
	// surfaced to the risk manager, never silently dropped.
	ForcedExits []string
}

// IsEligible reports whether the symbol is in the eligible set.
func (r Result) IsEligible(symbol string) bool {
	return r.Eligible[symbol]
}

type symbolStats struct {
	lastClose float64
	volumes   *indicator.Window
	barCount  int
}

// Selector owns per-symbol liquidity statistics and applies the rules.
type Selector struct {
	rules   Rules
	symbols map[string]*symbolStats
}

// NewSelector creates a universe selector with the given rules.
func NewSelector(rules Rules) (*Selector, error) {
	if rules.VolumeWindow <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "volume window must be positive, got %d", rules.VolumeWindow)
	}

	return &Selector{
		rules:   rules,
		symbols: make(map[string]*symbolStats),
	}, nil
}

// Observe folds one bar into the selector's liquidity statistics.
func (s *Selector) Observe(bar types.Bar) {
	stats, ok := s.symbols[bar.Symbol]
	if !ok {
		volumes, _ := indicator.NewWindow(s.rules.VolumeWindow)
		stats = &symbolStats{
			lastClose: 0,
			volumes:   volumes,
			barCount:  0,
		}
		s.symbols[bar.Symbol] = stats
	}

	stats.lastClose = bar.Close
	stats.volumes.Push(bar.Volume)
	stats.barCount++
}

// Eligible applies the rules to the candidate set as of the given timestamp.
// Open positions whose symbol fails the rules are flagged for forced exit.
func (s *Selector) Eligible(asOf time.Time, candidates []string, positions map[string]types.Position) Result {
	_ = asOf // rules are static; the timestamp exists for reproducibility of the contract

	eligible := make(map[string]bool, len(candidates))

	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.Strings(sorted)

	for _, symbol := range sorted {
		if s.passes(symbol) {
			eligible[symbol] = true
		}
	}

	var forced []string

	for symbol := range positions {
		if !eligible[symbol] {
			forced = append(forced, symbol)
		}
	}

	sort.Strings(forced)

	return Result{
		Eligible:    eligible,
		ForcedExits: forced,
	}
}

func (s *Selector) passes(symbol string) bool {
	stats, ok := s.symbols[symbol]
	if !ok {
		return false
	}

	if stats.barCount < s.rules.MinWarmupBars {
		return false
	}

	if stats.lastClose < s.rules.MinPrice {
		return false
	}

	if !stats.volumes.Full() || stats.volumes.Mean() < s.rules.MinAvgVolume {
		return false
	}

	return true
}
