package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrderIntent   ErrorCode = 102
	ErrCodeInvalidBar           ErrorCode = 103
	ErrCodeInvalidPeriod        ErrorCode = 104

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound          ErrorCode = 200
	ErrCodeDataSourceUnavailable ErrorCode = 201
	ErrCodeQueryFailed           ErrorCode = 202
	ErrCodeOutOfOrderBar         ErrorCode = 203
	ErrCodeDuplicateBar          ErrorCode = 204
	ErrCodeMalformedBar          ErrorCode = 205

	// Indicator errors (300-399)
	ErrCodeIndicatorNotFound    ErrorCode = 300
	ErrCodeIndicatorWarmingUp   ErrorCode = 301
	ErrCodeIndicatorCalculation ErrorCode = 302

	// Sizing/Risk errors (400-499)
	ErrCodeZeroStopDistance ErrorCode = 400
	ErrCodeDegenerateSizing ErrorCode = 401

	// Trading errors (500-599)
	ErrCodeFillFailed       ErrorCode = 500
	ErrCodePositionNotFound ErrorCode = 501
	ErrCodeNegativeCash     ErrorCode = 502

	// Backtest errors (600-699)
	ErrCodeBacktestInitFailed  ErrorCode = 600
	ErrCodeBacktestConfigError ErrorCode = 601
	ErrCodeNoData              ErrorCode = 602
	ErrCodeJournalFailed       ErrorCode = 603
)
