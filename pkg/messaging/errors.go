package messaging

import (
	"errors"
	"fmt"
)

// ErrNotConnected rejects read/write operations issued while the provider is
// not connected. Checked before any RPC is made.
var ErrNotConnected = errors.New("not connected")

// ErrNotLoggedIn rejects read/write operations issued without a paired
// session. Checked before any RPC is made.
var ErrNotLoggedIn = errors.New("not logged in")

// PairingError is a human-readable pairing failure.
type PairingError struct {
	Reason string
	Err    error
}

func (e *PairingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pairing failed: %s: %v", e.Reason, e.Err)
	}
	return "pairing failed: " + e.Reason
}
func (e *PairingError) Unwrap() error { return e.Err }

// SendError reports a failed outbound operation. A send that returns this
// was not delivered.
type SendError struct {
	ChatID string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.ChatID, e.Err)
}
func (e *SendError) Unwrap() error { return e.Err }
