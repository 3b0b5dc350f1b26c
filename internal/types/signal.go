package types

import "time"

type SignalType string

const (
	// SignalTypeEntryLong tells the risk manager to open or extend a long position
	SignalTypeEntryLong SignalType = "entry_long"
	// SignalTypeExitLong tells the risk manager to close a long position
	SignalTypeExitLong SignalType = "exit_long"
	// SignalTypeEntryShort tells the risk manager to open or extend a short position
	SignalTypeEntryShort SignalType = "entry_short"
	// SignalTypeExitShort tells the risk manager to close a short position
	SignalTypeExitShort SignalType = "exit_short"
)

// EntryPattern names the setup that produced an entry signal.
type EntryPattern string

const (
	// EntryPatternCross is a close crossing the moving average and settling within the cross threshold
	EntryPatternCross EntryPattern = "cross"
	// EntryPatternRetest is a pullback into the retest band above the moving average
	EntryPatternRetest EntryPattern = "retest"
)

// Signal is an ephemeral trading signal. It is produced and consumed within
// a single bar step and never persisted.
type Signal struct {
	// Time is the time of the bar that produced the signal
	Time time.Time
	// Type is the type of the signal
	Type SignalType
	// Symbol is the symbol of the signal
	Symbol string
	// Pattern is the entry setup that fired, empty for exits
	Pattern EntryPattern
	// Strength is an optional confidence scalar. For entries this is the
	// distance between close and the moving average, as a fraction of the
	// moving average.
	Strength float64
	// Reason is a human readable description of why the signal fired
	Reason string
}

// IsEntry reports whether the signal opens or extends a position.
func (s Signal) IsEntry() bool {
	return s.Type == SignalTypeEntryLong || s.Type == SignalTypeEntryShort
}

// IsExit reports whether the signal closes a position.
func (s Signal) IsExit() bool {
	return s.Type == SignalTypeExitLong || s.Type == SignalTypeExitShort
}
