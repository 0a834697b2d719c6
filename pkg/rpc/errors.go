package rpc

import (
	"errors"
	"fmt"
)

// ErrTransportNotReady is returned for calls issued before the connection
// loop has a live connection.
var ErrTransportNotReady = errors.New("transport not ready")

// ErrShuttingDown is returned for calls issued after BeginGracefulShutdown.
var ErrShuttingDown = errors.New("transport shutting down")

// ErrClientClosed is returned when the transport terminated without a more
// specific failure.
var ErrClientClosed = errors.New("rpc client closed")

// ConnectError wraps a dial failure.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to bridge at %s: %v", e.Address, e.Err)
}
func (e *ConnectError) Unwrap() error { return e.Err }

// RPCError is a bridge-reported per-call failure. It never tears down the
// transport.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
