package gateway

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the request's time budget cannot fit
	// another attempt.
	ErrTimeout = errors.New("model request exceeded its time budget")

	// ErrMalformedReply is returned when a response cannot be decoded.
	ErrMalformedReply = errors.New("malformed model reply")
)

// TransientError marks a provider failure worth retrying: rate limiting,
// deadline exceeded or service unavailable.
type TransientError struct {
	Code string
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient model error (%s): %v", e.Code, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// BlockedError is a non-retriable policy failure: a safety block or a
// permission denial.
type BlockedError struct {
	Reason string
	Err    error
}

func (e *BlockedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model response blocked (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("model response blocked (%s)", e.Reason)
}

func (e *BlockedError) Unwrap() error { return e.Err }

// RetryExhaustedError wraps the last transient error after every attempt
// has been used.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("model call failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// IsRetriable reports whether err is a transient provider failure.
func IsRetriable(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsBlocked reports whether err is a non-retriable policy block.
func IsBlocked(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}
