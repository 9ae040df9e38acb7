package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Normalized device errors. Callers branch on these with errors.Is; the
// original driver error stays available through Unwrap for diagnostics.
var (
	ErrInvalidRange = errors.New("INVALID_RANGE")
	ErrBusy         = errors.New("BUSY")
	ErrUnavailable  = errors.New("UNAVAILABLE")
	ErrInternal     = errors.New("INTERNAL")
)

// errorTokens maps substrings of driver/OS error messages to normalized
// codes. Matching is case-insensitive and deterministic: range tokens are
// checked first, then busy, then unavailable; anything unmatched is INTERNAL.
var errorTokens = struct {
	rang        []string
	busy        []string
	unavailable []string
}{
	rang: []string{
		"OUT OF RANGE",
		"INVALID WINDOW",
		"FREQUENCY",
	},
	busy: []string{
		"RESOURCE BUSY",
		"PORT BUSY",
		"DEVICE OR RESOURCE BUSY",
		"IN USE",
	},
	unavailable: []string{
		"NO SUCH FILE",
		"NOT FOUND",
		"PERMISSION DENIED",
		"ACCESS DENIED",
		"PORT HAS BEEN CLOSED",
		"SERIAL PORT NOT FOUND",
		"EOF",
		"CLOSED",
		"INPUT/OUTPUT ERROR",
	},
}

// DeviceError wraps a driver error with its normalized code.
type DeviceError struct {
	Code     error // normalized sentinel
	Original error // driver/OS error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%v (device: %v)", e.Code, e.Original)
}

func (e *DeviceError) Unwrap() error {
	return e.Code
}

// NormalizeError maps a driver error to a normalized device error. Already
// normalized errors and nil pass through unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, sentinel := range []error{ErrInvalidRange, ErrBusy, ErrUnavailable, ErrInternal} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	msg := strings.ToUpper(err.Error())
	code := ErrInternal
	switch {
	case matchAny(msg, errorTokens.rang):
		code = ErrInvalidRange
	case matchAny(msg, errorTokens.busy):
		code = ErrBusy
	case matchAny(msg, errorTokens.unavailable):
		code = ErrUnavailable
	}

	return &DeviceError{Code: code, Original: err}
}

func matchAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
