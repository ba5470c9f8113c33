package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{Code: "PARSE_ERROR", Message: "malformed rule tree"}
	if got := err.Error(); got != "[PARSE_ERROR] malformed rule tree" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := WrapError(ErrData, fmt.Errorf("only 3 bars"))
	if got := wrapped.Error(); got != "[DATA_ERROR] insufficient or missing bars: only 3 bars" {
		t.Errorf("Error() = %q", got)
	}
}

func TestError_Is(t *testing.T) {
	wrapped := WrapError(ErrParse, errors.New("bad constant"))
	if !errors.Is(wrapped, ErrParse) {
		t.Error("wrapped error should match its base by code")
	}
	if errors.Is(wrapped, ErrData) {
		t.Error("wrapped error should not match a different code")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	wrapped := WrapError(ErrBroker, cause)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}
}
