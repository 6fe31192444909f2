package fdfs

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnection is the kind of every socket connect failure or unreachable pool.
	// you can check for this error with errors.Is
	ErrConnection = errors.New("fdfs: connection error")

	// ErrProtocol is the kind of every non-zero response status or malformed/truncated frame.
	ErrProtocol = errors.New("fdfs: protocol error")

	// ErrTimeout is returned when a pool could not hand out a session in time.
	ErrTimeout = errors.New("fdfs: timeout")

	// ErrConfig is returned for invalid or missing initialization data.
	ErrConfig = errors.New("fdfs: config error")

	// ErrInvalidArgument is returned when a command parameter does not fit its wire field.
	ErrInvalidArgument = errors.New("fdfs: invalid argument")

	// ErrSessionClosed is returned when opening a session whose socket is already gone.
	ErrSessionClosed = errors.New("session is already closed")

	// ErrPoolClosed is returned when a pool shutdown has been triggered.
	ErrPoolClosed = errors.New("pool closed")

	// ErrPoolDisabled is returned when a pool tripped its circuit breaker during acquisition.
	ErrPoolDisabled = errors.New("pool disabled after repeated connect failures")

	// ErrAllTrackersUnreachable is returned when no tracker pool yielded a session.
	ErrAllTrackersUnreachable = errors.New("all trackers unreachable")
)

// ConnectionError wraps a failure to reach an endpoint.
type ConnectionError struct {
	Endpoint Endpoint
	Op       string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Endpoint.IsZero() {
		return fmt.Sprintf("fdfs: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("fdfs: %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is reports ErrConnection as the kind of this error.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// ProtocolError describes a response the client could not accept.
// Status is the response status code when the peer answered with a failure, zero otherwise.
type ProtocolError struct {
	Endpoint Endpoint
	Command  byte
	Status   byte
	Reason   string
	Err      error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("fdfs: protocol error from %s (cmd %d)", e.Endpoint, e.Command)
	if e.Status != 0 {
		msg += fmt.Sprintf(", status %d", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is reports ErrProtocol as the kind of this error.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// TimeoutError is returned when GetSession ran out of time.
type TimeoutError struct {
	Endpoint Endpoint
	Waited   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("fdfs: no session for %s within %s", e.Endpoint, e.Waited)
}

// Is reports ErrTimeout as the kind of this error.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Timeout satisfies the net.Error style timeout check.
func (e *TimeoutError) Timeout() bool { return true }

func configError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func argumentError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
