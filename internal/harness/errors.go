package harness

import (
	"errors"
	"fmt"
	"strings"
)

// Error is a harness-level failure: misuse of the harness itself rather than
// a failing assertion, which is always reported in the TAP stream instead.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Tests names the units affected, in queue order.
	Tests []string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes harness errors.
type ErrorCode string

const (
	// ErrCodePending indicates units were registered but never drained.
	ErrCodePending ErrorCode = "PENDING"

	// ErrCodeIncomplete indicates a run stopped before its queue drained.
	ErrCodeIncomplete ErrorCode = "INCOMPLETE"

	// ErrCodeAlreadyRun indicates Run was called on a harness that already ran.
	ErrCodeAlreadyRun ErrorCode = "ALREADY_RUN"

	// ErrCodeLate indicates a unit asserted or commented after the run
	// finished, when the stream was already closed by its footer.
	ErrCodeLate ErrorCode = "LATE"
)

// Sentinels for errors.Is matching on the code alone.
var (
	ErrPending    = &Error{Code: ErrCodePending}
	ErrIncomplete = &Error{Code: ErrCodeIncomplete}
	ErrAlreadyRun = &Error{Code: ErrCodeAlreadyRun}
	ErrLate       = &Error{Code: ErrCodeLate}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if len(e.Tests) > 0 {
		fmt.Fprintf(&b, " (tests: %s)", strings.Join(e.Tests, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// IsPending reports whether err is a pending-units error.
func IsPending(err error) bool {
	return errors.Is(err, ErrPending)
}

// IsIncomplete reports whether err is an incomplete-run error.
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncomplete)
}

// TimeoutError is the cause attached to a unit's context when its deadline
// passes. Descendants aborted by it report it in their failure.
type TimeoutError struct {
	Test    string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("test %q timed out after %s", e.Test, e.Timeout)
}
