// internal/core/errors.go
package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Predefined errors
var (
	// Rule and strategy errors
	ErrParse      = &Error{Code: "PARSE_ERROR", Message: "malformed rule tree"}
	ErrEvaluation = &Error{Code: "EVALUATION_ERROR", Message: "non-numeric operand reached a comparison"}

	// Data errors
	ErrData   = &Error{Code: "DATA_ERROR", Message: "insufficient or missing bars"}
	ErrNoData = &Error{Code: "NO_DATA", Message: "no data available"}

	// Optimization errors
	ErrTrial       = &Error{Code: "TRIAL_ERROR", Message: "optimization trial failed"}
	ErrJobFatal    = &Error{Code: "JOB_FATAL", Message: "job failed permanently"}
	ErrJobNotFound = &Error{Code: "JOB_NOT_FOUND", Message: "job not found"}
	ErrJobConflict = &Error{Code: "JOB_CONFLICT", Message: "job state conflict"}

	// Broker errors
	ErrBroker       = &Error{Code: "BROKER_ERROR", Message: "broker request failed"}
	ErrMarketClosed = &Error{Code: "MARKET_CLOSED", Message: "market is closed"}

	// Strategy errors
	ErrStrategyNotFound = &Error{Code: "STRATEGY_NOT_FOUND", Message: "strategy not found"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
