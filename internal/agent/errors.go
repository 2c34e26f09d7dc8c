// ABOUTME: Error taxonomy for the agent supervisor.
// ABOUTME: Sentinels for control-surface preconditions and typed asynchronous failures.

package agent

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Start when a handle already exists.
var ErrAlreadyRunning = errors.New("a bot is already running")

// ErrNotRunning is returned by Stop when no handle exists.
var ErrNotRunning = errors.New("no bot is currently running")

// ConnectionError wraps a network, protocol, or driver failure of a session.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "connection error"
	}
	return fmt.Sprintf("connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// KickedError records a server-initiated removal.
type KickedError struct {
	Reason string
}

func (e *KickedError) Error() string {
	if e.Reason == "" {
		return "kicked from the server"
	}
	return "kicked from the server: " + e.Reason
}

// causeOf converts a terminal event into the error that describes it.
// Ended sessions have no error.
func causeOf(ev Event) error {
	switch ev.Type {
	case EventKicked:
		return &KickedError{Reason: ev.Reason}
	case EventErrored:
		var connErr *ConnectionError
		if errors.As(ev.Err, &connErr) {
			return connErr
		}
		return &ConnectionError{Err: ev.Err}
	default:
		return nil
	}
}
