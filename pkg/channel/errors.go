package channel

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the channel manager.
var (
	// ErrNotConnected is returned when an operation requires an open
	// connection and none exists.
	ErrNotConnected = errors.New("channel: not connected")

	// ErrAlreadyConnected is returned when Connect is called on an
	// already-open channel.
	ErrAlreadyConnected = errors.New("channel: already connected")

	// ErrClosed is returned when the channel has been closed.
	ErrClosed = errors.New("channel: closed")
)

// ConnectionError represents a failure to establish or maintain the
// duplex connection.
type ConnectionError struct {
	Endpoint  string
	Reason    string
	Cause     error
	Retryable bool
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("channel: connection to %s failed: %s: %v", e.Endpoint, e.Reason, e.Cause)
	}
	return fmt.Sprintf("channel: connection to %s failed: %s", e.Endpoint, e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a ConnectionError.
func NewConnectionError(endpoint, reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{
		Endpoint:  endpoint,
		Reason:    reason,
		Cause:     cause,
		Retryable: retryable,
	}
}

// IsRetryable reports whether err indicates a transient failure worth
// retrying.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Retryable
	}
	return false
}
