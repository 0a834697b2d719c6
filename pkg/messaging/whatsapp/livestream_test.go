package whatsapp

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklight/wabridge/pkg/config"
	"github.com/stacklight/wabridge/pkg/messaging"
	"github.com/stacklight/wabridge/pkg/rpc"
)

// liveBridge is a line-delimited JSON-RPC peer for driving the provider over
// a real transport rather than the fake.
type liveBridge struct {
	t  *testing.T
	ln net.Listener

	mu   sync.Mutex
	conn net.Conn

	streamIDs chan string
	cancels   chan string
}

func newLiveBridge(t *testing.T) *liveBridge {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &liveBridge{
		t:         t,
		ln:        ln,
		streamIDs: make(chan string, 4),
		cancels:   make(chan string, 4),
	}
	t.Cleanup(func() { ln.Close() })

	go b.serve()
	return b
}

func (b *liveBridge) serve() {
	conn, err := b.ln.Accept()
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg struct {
			ID     *int64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}

		switch msg.Method {
		case "GetConnectionStatus":
			b.reply(msg.ID, map[string]interface{}{"status": "connected", "logged_in": true})
		case "StreamEvents":
			var req struct {
				StreamID string `json:"stream_id"`
			}
			_ = json.Unmarshal(msg.Params, &req)
			b.reply(msg.ID, map[string]interface{}{})
			b.streamIDs <- req.StreamID
		case "Stream.Cancel":
			var req struct {
				StreamID string `json:"stream_id"`
			}
			_ = json.Unmarshal(msg.Params, &req)
			b.cancels <- req.StreamID
		}
	}
}

func (b *liveBridge) write(msg interface{}) {
	body, err := json.Marshal(msg)
	require.NoError(b.t, err)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_, _ = b.conn.Write(append(body, '\n'))
	}
}

func (b *liveBridge) reply(id *int64, result interface{}) {
	b.write(map[string]interface{}{"jsonrpc": "2.0", "id": id, "result": result})
}

func (b *liveBridge) pushEvent(streamID string, evt rpc.Event) {
	payload, err := json.Marshal(evt)
	require.NoError(b.t, err)
	b.write(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "Stream.Data",
		"params": map[string]interface{}{
			"stream_id": streamID,
			"payload":   json.RawMessage(payload),
		},
	})
}

func TestSubscribeEventsReplacementOverLiveTransport(t *testing.T) {
	b := newLiveBridge(t)

	p := &Provider{
		name: "whatsapp",
		cfg:  config.BridgeConfig{RPCAddress: b.ln.Addr().String()},
		sup:  newFakeSupervisor(),
		newTransport: func(address string) transport {
			return rpc.NewClient(address)
		},
		status: messaging.ConnectionStatus{State: messaging.StateDisconnected},
	}
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	// The transport dials in the background; the first subscription attempt
	// may land before the socket is up.
	var first <-chan messaging.Event
	require.Eventually(t, func() bool {
		ch, err := p.SubscribeEvents(context.Background(), nil)
		if err != nil {
			return false
		}
		first = ch
		return true
	}, 2*time.Second, 10*time.Millisecond)
	firstID := <-b.streamIDs

	// Keep the first stream's id hot while the replacement happens.
	stop := make(chan struct{})
	var flood sync.WaitGroup
	flood.Add(1)
	go func() {
		defer flood.Done()
		for {
			select {
			case <-stop:
				return
			default:
				b.pushEvent(firstID, rpc.Event{
					Type:    "message_received",
					Message: &rpc.Message{ID: "old", ChatID: "1@s.whatsapp.net"},
				})
			}
		}
	}()

	second, err := p.SubscribeEvents(context.Background(), nil)
	require.NoError(t, err)
	close(stop)
	flood.Wait()

	// The replacement only returns once the old consumer is drained and
	// closed, so nothing pushed afterwards can reach it.
	for evt := range first {
		require.NotNil(t, evt.Message)
		assert.Equal(t, "old", evt.Message.ID)
	}

	select {
	case id := <-b.cancels:
		assert.Equal(t, firstID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never saw the first stream cancelled")
	}

	secondID := <-b.streamIDs
	require.NotEqual(t, firstID, secondID)

	b.pushEvent(secondID, rpc.Event{
		Type:    "message_received",
		Message: &rpc.Message{ID: "new", ChatID: "1@s.whatsapp.net"},
	})
	select {
	case evt := <-second:
		require.NotNil(t, evt.Message)
		assert.Equal(t, "new", evt.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("second subscription received nothing")
	}
}
