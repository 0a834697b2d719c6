package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/stacklight/wabridge/pkg/logger"
)

// stream is the client-side end of a server-pushed sequence. Delivery and
// teardown both take mu, so the channel is never closed while a send is in
// flight.
type stream struct {
	ch   chan StreamItem
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// deliver hands a pushed element to the consumer without blocking. Returns
// whether it was accepted and whether the stream is already torn down.
func (st *stream) deliver(item StreamItem) (delivered, closed bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return false, true
	}
	select {
	case st.ch <- item:
		return true, false
	default:
		return false, false
	}
}

// terminate closes the stream at most once. A non-nil err becomes the final
// element when the buffer has room for it.
func (st *stream) terminate(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	if err != nil {
		select {
		case st.ch <- StreamItem{Err: err}:
		default:
		}
	}
	close(st.ch)
	close(st.done)
}

// openStream establishes a server-pushed stream. The client chooses the
// stream id and registers the consumer channel before sending the request, so
// no pushed element can arrive unrouted. Cancelling ctx stops the producer
// and closes the channel without error; a bridge-side error is delivered as
// the terminal StreamItem.
func (c *Client) openStream(ctx context.Context, method string, types []string) (<-chan StreamItem, error) {
	id := fmt.Sprintf("s%d", atomic.AddInt64(&c.nextID, 1))
	st := &stream{
		ch:   make(chan StreamItem, streamDataBuf),
		done: make(chan struct{}),
	}

	c.pendMu.Lock()
	if c.draining {
		c.pendMu.Unlock()
		return nil, ErrShuttingDown
	}
	select {
	case <-c.closed:
		c.pendMu.Unlock()
		return nil, c.terminalError()
	default:
	}
	c.streams[id] = st
	c.pendMu.Unlock()

	if err := c.call(ctx, method, openStreamRequest{StreamID: id, Types: types}, nil); err != nil {
		c.dropStream(id)
		return nil, err
	}

	go c.watchStreamCancel(ctx, id, st)

	return st.ch, nil
}

// watchStreamCancel propagates consumer cancellation to the bridge so no
// orphaned producer keeps running.
func (c *Client) watchStreamCancel(ctx context.Context, id string, st *stream) {
	select {
	case <-st.done:
	case <-c.closed:
	case <-ctx.Done():
		if st := c.dropStream(id); st != nil {
			_ = c.notify("Stream.Cancel", streamEndParams{StreamID: id})
			st.terminate(nil)
		}
	}
}

// dropStream unregisters a stream and returns it, or nil when already gone.
func (c *Client) dropStream(id string) *stream {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	st, ok := c.streams[id]
	if !ok {
		return nil
	}
	delete(c.streams, id)
	return st
}

// routeStreamData delivers a pushed payload to its consumer. Elements racing
// a teardown are dropped silently; consumers that stop reading without
// cancelling are skipped rather than stalling the read loop.
func (c *Client) routeStreamData(id string, payload json.RawMessage) {
	c.pendMu.Lock()
	st, ok := c.streams[id]
	c.pendMu.Unlock()
	if !ok {
		return
	}

	delivered, closed := st.deliver(StreamItem{Data: payload})
	if !delivered && !closed {
		logger.WarnCF("rpc", "Dropping stream element for slow consumer", map[string]interface{}{
			"stream": id,
		})
	}
}

// endStream terminates a stream: err (if any) is delivered as the final
// element, then the channel closes.
func (c *Client) endStream(id string, err error) {
	if st := c.dropStream(id); st != nil {
		st.terminate(err)
	}
}
