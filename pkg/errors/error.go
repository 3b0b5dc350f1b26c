// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown and general errors
//   - Validation errors (100-199): Invalid parameters, configuration, intents
//   - Data/Resource errors (200-299): Bar stream ordering and data loading errors
//   - Indicator errors (300-399): Rolling-window indicator errors
//   - Sizing/Risk errors (400-499): Degenerate position-sizing computations
//   - Trading errors (500-599): Fill application and position errors
//   - Backtest errors (600-699): Engine setup and journal errors
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeInvalidParameter, "invalid parameter value")
//
//	// Create a formatted error
//	err := errors.Newf(errors.ErrCodeDataNotFound, "no bars loaded for symbol %s", symbol)
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeQueryFailed, "failed to execute query", originalErr)
//
//	// Check error code
//	if errors.HasCode(err, errors.ErrCodeDataNotFound) { ... }
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode from an error if it's an *Error type.
// Returns ErrCodeUnknown if the error is not an *Error type.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// SequenceError represents a violation of the strict per-symbol bar ordering:
// a bar arrived with a timestamp not after the previously observed one.
// Sequence errors are fatal; the backtest aborts rather than reorder input.
type SequenceError struct {
	Symbol   string
	Previous time.Time
	Got      time.Time
}

// NewSequenceError creates a new SequenceError.
func NewSequenceError(symbol string, previous, got time.Time) *SequenceError {
	return &SequenceError{
		Symbol:   symbol,
		Previous: previous,
		Got:      got,
	}
}

// Error implements the error interface.
func (e *SequenceError) Error() string {
	return fmt.Sprintf("bar out of sequence for %s: got %s, previous %s",
		e.Symbol, e.Got.Format(time.RFC3339), e.Previous.Format(time.RFC3339))
}

// IsSequenceError checks if an error is a SequenceError.
// It uses errors.As to check the error chain.
func IsSequenceError(err error) bool {
	var seqErr *SequenceError

	return errors.As(err, &seqErr)
}

// DataError represents a malformed bar (non-positive prices, inverted
// high/low, missing symbol). Data errors are fatal.
type DataError struct {
	Symbol  string
	Message string
}

// NewDataErrorf creates a new DataError with a formatted message.
func NewDataErrorf(symbol, format string, args ...any) *DataError {
	return &DataError{
		Symbol:  symbol,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *DataError) Error() string {
	return e.Message
}

// IsDataError checks if an error is a DataError.
func IsDataError(err error) bool {
	var dataErr *DataError

	return errors.As(err, &dataErr)
}

// SizingError represents a degenerate position-sizing computation, such as
// a zero distance between entry price and stop price. The offending intent
// is dropped and the run continues.
type SizingError struct {
	Symbol  string
	Message string
}

// NewSizingErrorf creates a new SizingError with a formatted message.
func NewSizingErrorf(symbol, format string, args ...any) *SizingError {
	return &SizingError{
		Symbol:  symbol,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *SizingError) Error() string {
	return e.Message
}

// IsSizingError checks if an error is a SizingError.
func IsSizingError(err error) bool {
	var sizingErr *SizingError

	return errors.As(err, &sizingErr)
}
