package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacklight/wabridge/pkg/logger"
)

// TransportState is the connection-level state machine. It is mutated only by
// the connection loop and VerifyConnection, and read from many goroutines.
type TransportState int

const (
	StateIdle TransportState = iota
	StateConnecting
	StateReady
	StateFailed
)

func (s TransportState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "?"
	}
}

const (
	dialTimeout   = 10 * time.Second
	drainTimeout  = 3 * time.Second
	streamDataBuf = 16
)

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// StreamItem is one element of a server-pushed stream. Err is set at most
// once, as the terminal element before the channel closes.
type StreamItem struct {
	Data json.RawMessage
	Err  error
}

// Client is the RPC transport to the bridge: line-delimited JSON-RPC 2.0 over
// a loopback TCP connection. It does not dial eagerly; RunConnections owns
// the connection for its whole lifetime.
type Client struct {
	address string

	stateMu     sync.Mutex
	state       TransportState
	stateReason string

	writeMu sync.Mutex
	conn    net.Conn

	pendMu   sync.Mutex
	pending  map[int64]chan rpcResult
	streams  map[string]*stream
	draining bool

	inflight sync.WaitGroup
	nextID   int64

	closeOnce sync.Once
	closed    chan struct{}
	closeMu   sync.RWMutex
	closeErr  error
}

// NewClient creates a transport client for the given loopback address.
func NewClient(address string) *Client {
	return &Client{
		address: address,
		state:   StateIdle,
		pending: make(map[int64]chan rpcResult),
		streams: make(map[string]*stream),
		closed:  make(chan struct{}),
	}
}

// State returns the current transport state and failure reason, if any.
func (c *Client) State() (TransportState, string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state, c.stateReason
}

// IsReady reports whether the transport has verified connectivity.
func (c *Client) IsReady() bool {
	state, _ := c.State()
	return state == StateReady
}

func (c *Client) setState(state TransportState, reason string) {
	c.stateMu.Lock()
	c.state = state
	c.stateReason = reason
	c.stateMu.Unlock()
}

// RunConnections runs the transport's connection loop until ctx is cancelled
// or the connection fails fatally. The bridge's RPC listener is guaranteed up
// before its ready signal is printed, so a single dial suffices — there is no
// retry or backoff.
func (c *Client) RunConnections(ctx context.Context) error {
	c.setState(StateConnecting, "")

	conn, err := net.DialTimeout("tcp", c.address, dialTimeout)
	if err != nil {
		cerr := &ConnectError{Address: c.address, Err: err}
		c.setState(StateFailed, cerr.Error())
		c.closeWithError(cerr)
		return cerr
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	logger.DebugCF("rpc", "Connected to bridge", map[string]interface{}{
		"address": c.address,
	})

	go c.readLoop(conn)

	select {
	case <-ctx.Done():
		c.closeWithError(nil)
		return nil
	case <-c.closed:
		c.closeMu.RLock()
		err := c.closeErr
		c.closeMu.RUnlock()
		if err != nil {
			c.setState(StateFailed, err.Error())
		}
		return err
	}
}

// VerifyConnection issues one real unary call to confirm reachability and
// sets the transport state to ready on success. On failure the state is left
// for the connection loop to settle.
func (c *Client) VerifyConnection(ctx context.Context) (*ConnectionStatus, error) {
	status, err := c.GetConnectionStatus(ctx)
	if err != nil {
		return nil, err
	}
	c.setState(StateReady, "")
	return status, nil
}

// BeginGracefulShutdown rejects new calls and waits (bounded) for in-flight
// calls to finish. The owning provider kills the subprocess afterwards.
func (c *Client) BeginGracefulShutdown() {
	c.pendMu.Lock()
	c.draining = true
	c.pendMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		logger.WarnC("rpc", "Graceful shutdown drain timed out")
	}
}

// Close tears the transport down immediately.
func (c *Client) Close() {
	c.closeWithError(nil)
}

// call performs one unary round-trip, decoding the result into out when
// non-nil.
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	c.pendMu.Lock()
	if c.draining {
		c.pendMu.Unlock()
		return ErrShuttingDown
	}
	c.pendMu.Unlock()

	select {
	case <-c.closed:
		return c.terminalError()
	default:
	}

	c.writeMu.Lock()
	connected := c.conn != nil
	c.writeMu.Unlock()
	if !connected {
		return ErrTransportNotReady
	}

	c.inflight.Add(1)
	defer c.inflight.Done()

	id := atomic.AddInt64(&c.nextID, 1)
	respCh := make(chan rpcResult, 1)

	c.pendMu.Lock()
	c.pending[id] = respCh
	c.pendMu.Unlock()

	if err := c.writeMessage(requestMessage(id, method, params)); err != nil {
		c.removePending(id)
		return err
	}

	select {
	case <-ctx.Done():
		c.removePending(id)
		return ctx.Err()
	case <-c.closed:
		c.removePending(id)
		return c.terminalError()
	case resp := <-respCh:
		if resp.err != nil {
			return resp.err
		}
		if out == nil {
			return nil
		}
		if len(resp.result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

// notify sends a request without an id; no response is expected.
func (c *Client) notify(method string, params interface{}) error {
	return c.writeMessage(requestMessage(0, method, params))
}

func requestMessage(id int64, method string, params interface{}) map[string]interface{} {
	msg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
	}
	if id != 0 {
		msg["id"] = id
	}
	if params != nil {
		msg["params"] = params
	}
	return msg
}

func (c *Client) writeMessage(msg interface{}) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return ErrTransportNotReady
	}
	if _, err := c.conn.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("write to bridge: %w", err)
	}
	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	decoder := json.NewDecoder(bufio.NewReader(conn))

	for {
		var msg rpcMessage
		if err := decoder.Decode(&msg); err != nil {
			c.closeWithError(fmt.Errorf("bridge connection lost: %w", err))
			return
		}

		if msg.ID != nil {
			c.routeResponse(*msg.ID, &msg)
			continue
		}

		switch msg.Method {
		case "Stream.Data":
			var params streamDataParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				logger.WarnCF("rpc", "Invalid stream data from bridge", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			c.routeStreamData(params.StreamID, params.Payload)

		case "Stream.End":
			var params streamEndParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				continue
			}
			c.endStream(params.StreamID, nil)

		case "Stream.Error":
			var params streamEndParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				continue
			}
			c.endStream(params.StreamID, &RPCError{Message: params.Message})

		default:
			// Unknown notification from a newer bridge; ignore.
		}
	}
}

func (c *Client) routeResponse(id int64, msg *rpcMessage) {
	c.pendMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendMu.Unlock()
	if !ok {
		return
	}

	if msg.Error != nil {
		ch <- rpcResult{err: &RPCError{Code: msg.Error.Code, Message: msg.Error.Message}}
		return
	}
	ch <- rpcResult{result: msg.Result}
}

func (c *Client) removePending(id int64) {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	delete(c.pending, id)
}

func (c *Client) terminalError() error {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrClientClosed
}

func (c *Client) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closeErr = err
		c.closeMu.Unlock()
		close(c.closed)

		c.writeMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.writeMu.Unlock()

		terminal := err
		if terminal == nil {
			terminal = ErrClientClosed
		}

		c.pendMu.Lock()
		for id, ch := range c.pending {
			delete(c.pending, id)
			ch <- rpcResult{err: terminal}
		}
		streams := make([]*stream, 0, len(c.streams))
		for id, st := range c.streams {
			delete(c.streams, id)
			streams = append(streams, st)
		}
		c.pendMu.Unlock()

		for _, st := range streams {
			st.terminate(err)
		}
	})
}
