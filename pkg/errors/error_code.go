package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter   ErrorCode = 100
	ErrCodeConfigInvalid      ErrorCode = 101
	ErrCodeInvalidType        ErrorCode = 102
	ErrCodeInvalidPeriod      ErrorCode = 103
	ErrCodeMissingParameter   ErrorCode = 104
	ErrCodeInvalidTimeframe   ErrorCode = 105
	ErrCodeMalformedSignal    ErrorCode = 106
	ErrCodeMalformedMarketMsg ErrorCode = 107

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound    ErrorCode = 200
	ErrCodeDataIncomplete  ErrorCode = 201
	ErrCodeQueryFailed     ErrorCode = 202
	ErrCodeStoreTransient  ErrorCode = 203
	ErrCodeSymbolNotFound  ErrorCode = 204
	ErrCodeSymbolDisabled  ErrorCode = 205
	ErrCodeHistoricalFetch ErrorCode = 206

	// Bus errors (300-399)
	ErrCodeBusTransient   ErrorCode = 300
	ErrCodeUpstreamClosed ErrorCode = 301
	ErrCodeMalformedEntry ErrorCode = 302

	// Indicator errors (400-499)
	ErrCodeIndicatorNotFound      ErrorCode = 400
	ErrCodeIndicatorAlreadyExists ErrorCode = 401
	ErrCodeIndicatorCalculation   ErrorCode = 402
	ErrCodeIndicatorMissing       ErrorCode = 403

	// Signal and strategy errors (500-599)
	ErrCodeDuplicateSignal   ErrorCode = 500
	ErrCodeUnknownPhrase     ErrorCode = 501
	ErrCodeAdmissionRejected ErrorCode = 502
	ErrCodeFilterRejected    ErrorCode = 503
	ErrCodeStrategyNotFound  ErrorCode = 504
	ErrCodeEvaluatorNotFound ErrorCode = 505

	// Position errors (600-699)
	ErrCodePositionNotFound ErrorCode = 600
	ErrCodeDomainFault      ErrorCode = 601
	ErrCodePriceUnavailable ErrorCode = 602
	ErrCodePositionConflict ErrorCode = 603
)
