// internal/core/errors.go
package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
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
	// Data errors
	ErrNoData           = &Error{Code: "NO_DATA", Message: "no data available"}
	ErrInsufficientData = &Error{Code: "INSUFFICIENT_DATA", Message: "insufficient data for analysis"}
	ErrInvalidCandle    = &Error{Code: "INVALID_CANDLE", Message: "malformed candle"}

	// Strategy errors
	ErrStrategyNotFound = &Error{Code: "STRATEGY_NOT_FOUND", Message: "strategy not found"}

	// Portfolio errors
	ErrPositionExists    = &Error{Code: "POSITION_EXISTS", Message: "position already open for symbol"}
	ErrPositionNotFound  = &Error{Code: "POSITION_NOT_FOUND", Message: "no open position for symbol"}
	ErrInsufficientFunds = &Error{Code: "INSUFFICIENT_FUNDS", Message: "insufficient cash"}

	// Execution errors
	ErrOrderFailed   = &Error{Code: "ORDER_FAILED", Message: "order failed"}
	ErrEngineStopped = &Error{Code: "ENGINE_STOPPED", Message: "engine stopped"}

	// Advisor errors
	ErrAdvisorFailed = &Error{Code: "ADVISOR_FAILED", Message: "advisory request failed"}

	// API errors
	ErrJobNotFound  = &Error{Code: "JOB_NOT_FOUND", Message: "job not found"}
	ErrUnauthorized = &Error{Code: "UNAUTHORIZED", Message: "missing or invalid API key"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
