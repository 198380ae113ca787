package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransientError marks a venue failure worth retrying: network faults,
// timeouts, 5xx responses and rate limiting.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a venue failure that must surface immediately:
// 4xx validation and authentication failures.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable broker error
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Permanent wraps err as a non-retryable broker error
func Permanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

// IsRetryable reports whether a failure should be retried
func IsRetryable(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}

	// Unclassified network faults are retryable
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ClassifyHTTPStatus converts an HTTP failure status into the error taxonomy
func ClassifyHTTPStatus(op string, status int, body string) error {
	err := fmt.Errorf("HTTP %d: %s", status, body)
	if status == http.StatusTooManyRequests || status >= 500 {
		return Transient(op, err)
	}
	return Permanent(op, err)
}
