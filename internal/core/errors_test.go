// internal/core/errors_test.go
package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{Code: "TEST_ERROR", Message: "test message"}
	if err.Error() != "[TEST_ERROR] test message" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
}

func TestError_ErrorWithCause(t *testing.T) {
	err := WrapError(ErrOrderFailed, errors.New("exchange down"))
	want := "[ORDER_FAILED] order failed: exchange down"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{Code: "WRAP", Message: "wrapped", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should return cause")
	}
}

func TestError_Is(t *testing.T) {
	if !errors.Is(ErrInsufficientData, ErrInsufficientData) {
		t.Error("same error should match")
	}
	wrapped := fmt.Errorf("backtest: %w", WrapError(ErrInsufficientData, errors.New("12 candles")))
	if !errors.Is(wrapped, ErrInsufficientData) {
		t.Error("wrapped error should match by code")
	}
	if errors.Is(wrapped, ErrConfigInvalid) {
		t.Error("different codes should not match")
	}
}

func TestWrapError(t *testing.T) {
	cause := errors.New("original")
	wrapped := WrapError(ErrConfigInvalid, cause)
	if wrapped.Cause != cause {
		t.Error("cause not set")
	}
	if wrapped.Code != ErrConfigInvalid.Code {
		t.Error("code not preserved")
	}
}
