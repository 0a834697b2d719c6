package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stacklight/wabridge/pkg/bus"
	"github.com/stacklight/wabridge/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsOutBuffer  = 256
)

// Origin checks are moot on a token-authenticated loopback listener.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSession is one connected dashboard page. Outbound traffic goes through
// out so the broadcast path never blocks on a single slow socket.
type wsSession struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte
}

// Hub fans bus events out to every connected dashboard session.
type Hub struct {
	msgBus *bus.Bus

	mu       sync.RWMutex
	sessions map[*wsSession]struct{}

	attach chan *wsSession
	detach chan *wsSession
}

func NewHub(msgBus *bus.Bus) *Hub {
	return &Hub{
		msgBus:   msgBus,
		sessions: make(map[*wsSession]struct{}),
		attach:   make(chan *wsSession),
		detach:   make(chan *wsSession),
	}
}

// Run owns the session set until ctx is cancelled, at which point every
// session is closed.
func (h *Hub) Run(ctx context.Context) {
	events := h.msgBus.Subscribe()
	defer h.msgBus.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.sessions {
				close(s.out)
				delete(h.sessions, s)
			}
			h.mu.Unlock()
			return

		case s := <-h.attach:
			h.mu.Lock()
			h.sessions[s] = struct{}{}
			n := len(h.sessions)
			h.mu.Unlock()
			logger.DebugCF("dashboard", "WebSocket session opened", map[string]interface{}{
				"sessions": n,
			})

		case s := <-h.detach:
			h.mu.Lock()
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				close(s.out)
			}
			n := len(h.sessions)
			h.mu.Unlock()
			logger.DebugCF("dashboard", "WebSocket session closed", map[string]interface{}{
				"sessions": n,
			})

		case event, ok := <-events:
			if !ok {
				return
			}
			h.broadcast(event)
		}
	}
}

func (h *Hub) broadcast(event bus.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		select {
		case s.out <- data:
		default:
			// Backlogged session; its pumps will tear it down.
		}
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("dashboard", "WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s := &wsSession{hub: h, conn: conn, out: make(chan []byte, wsOutBuffer)}
	h.attach <- s

	go s.writeLoop()
	go s.readLoop()
}

// readLoop discards inbound frames; the dashboard socket is one-way. Its job
// is answering pings and noticing the peer going away.
func (s *wsSession) readLoop() {
	defer func() {
		s.hub.detach <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *wsSession) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
