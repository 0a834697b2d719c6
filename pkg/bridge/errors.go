package bridge

import (
	"errors"
	"fmt"
)

// ErrBinaryNotFound is returned by Start when the configured bridge binary
// does not exist. No spawn is attempted.
var ErrBinaryNotFound = errors.New("bridge binary not found")

// ErrReadyTimeout is returned by Start when the process is still alive but
// never printed the ready signal within the handshake window.
var ErrReadyTimeout = errors.New("timed out waiting for bridge ready signal")

// StartError wraps a spawn failure.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return fmt.Sprintf("failed to start bridge: %v", e.Err) }
func (e *StartError) Unwrap() error { return e.Err }

// UnexpectedExitError reports that the bridge exited before signalling ready.
type UnexpectedExitError struct {
	Code int
}

func (e *UnexpectedExitError) Error() string {
	return fmt.Sprintf("bridge exited before ready (exit code %d)", e.Code)
}
