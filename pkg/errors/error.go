// Package errors provides coded errors shared by every pipeline stage.
//
// Codes are grouped by the stage that raises them:
//   - General (1-99)
//   - Validation and configuration (100-199): bad parameters, malformed signals or feed messages
//   - Data and store (200-299): missing rows, incomplete windows, transient store failures
//   - Bus (300-399): broker failures and closed upstream feeds
//   - Indicator (400-499): calculator lookup and calculation failures
//   - Signal and strategy (500-599): duplicates, admission and filter rejections
//   - Position (600-699): follower faults
//
// Usage:
//
//	err := errors.Newf(errors.ErrCodeSymbolNotFound, "symbol %s is not tracked", symbol)
//	err := errors.Wrap(errors.ErrCodeStoreTransient, "failed to upsert bar", cause)
//
//	if errors.IsRetryable(err) { ... back off and retry ... }
package errors

import (
	"errors"
	"fmt"
)

// Error is a structured error with a code, a message and an optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps cause with a new Error carrying code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf wraps cause with a new Error carrying code and a formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is is a convenience wrapper around the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience wrapper around the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode returns the code of the first *Error in err's chain, or ErrCodeUnknown.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode reports whether the first *Error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// HasAnyCode reports whether any *Error in err's chain carries code.
func HasAnyCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}

		if e.Code == code {
			return true
		}

		err = e.Cause
	}

	return false
}

// IsRetryable reports whether the caller should back off and try again.
// Broker, store and upstream feed failures are retryable. Everything else,
// including DataIncomplete, is terminal for the current event.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch GetCode(err) {
	case ErrCodeBusTransient, ErrCodeStoreTransient, ErrCodeUpstreamClosed, ErrCodeHistoricalFetch:
		return true
	default:
		return false
	}
}

// InsufficientDataError is returned when a window or an indicator frame does
// not hold enough bars for a calculation.
type InsufficientDataError struct {
	Required int    // Minimum data points required
	Actual   int    // Actual data points available
	Symbol   string // Optional: symbol context
	Message  string
}

// NewInsufficientDataError creates a new InsufficientDataError.
func NewInsufficientDataError(required, actual int, symbol, message string) *InsufficientDataError {
	return &InsufficientDataError{
		Required: required,
		Actual:   actual,
		Symbol:   symbol,
		Message:  message,
	}
}

// NewInsufficientDataErrorf creates a new InsufficientDataError with a formatted message.
func NewInsufficientDataErrorf(required, actual int, symbol, format string, args ...any) *InsufficientDataError {
	return &InsufficientDataError{
		Required: required,
		Actual:   actual,
		Symbol:   symbol,
		Message:  fmt.Sprintf(format, args...),
	}
}

func (e *InsufficientDataError) Error() string {
	return e.Message
}

// IsInsufficientDataError checks err's chain for an InsufficientDataError.
func IsInsufficientDataError(err error) bool {
	var insufficientErr *InsufficientDataError

	return errors.As(err, &insufficientErr)
}

// IsDataIncomplete reports whether err means "not enough data yet". Callers
// skip the event instead of retrying.
func IsDataIncomplete(err error) bool {
	return IsInsufficientDataError(err) || HasCode(err, ErrCodeDataIncomplete)
}
