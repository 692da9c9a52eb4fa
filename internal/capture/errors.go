package capture

import (
	"errors"
	"fmt"
)

// ErrorCode classifies capture failures.
type ErrorCode string

// ErrorCode constants for capture errors.
const (
	ErrDeviceOpen            ErrorCode = "DEVICE_OPEN"
	ErrUnsupportedCapability ErrorCode = "UNSUPPORTED_CAPABILITY"
	ErrIO                    ErrorCode = "IO"
	ErrFormatNegotiation     ErrorCode = "FORMAT_NEGOTIATION"
	ErrBufferAllocation      ErrorCode = "BUFFER_ALLOCATION"
	ErrMapping               ErrorCode = "MAPPING"
	ErrDequeue               ErrorCode = "DEQUEUE"
	ErrEnqueue               ErrorCode = "ENQUEUE"
	ErrStreamToggle          ErrorCode = "STREAM_TOGGLE"
	ErrInvalidState          ErrorCode = "INVALID_STATE"
	ErrControl               ErrorCode = "CONTROL"
)

// ErrUnknownControl is the cause of an ErrControl error naming a control
// the device does not have.
var ErrUnknownControl = errors.New("unknown control")

// Error is returned by every operation of this package.
type Error struct {
	Code   ErrorCode `json:"code"`
	Op     string    `json:"op"`
	Device string    `json:"device,omitempty"`
	Cause  error     `json:"-"`
}

func newError(code ErrorCode, op, device string, cause error) *Error {
	return &Error{Code: code, Op: op, Device: device, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Op)
	if e.Device != "" {
		msg += " " + e.Device
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HasCode checks if the error matches a specific code.
func (e *Error) HasCode(code ErrorCode) bool {
	return e.Code == code
}

// IsCode reports whether any *Error in err's tree carries code. Joined
// errors are searched in full, not only up to the first *Error.
func IsCode(err error, code ErrorCode) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *Error:
		if e.HasCode(code) {
			return true
		}
		return IsCode(e.Cause, code)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if IsCode(inner, code) {
				return true
			}
		}
		return false
	default:
		return IsCode(errors.Unwrap(err), code)
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
