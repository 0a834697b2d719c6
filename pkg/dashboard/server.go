package dashboard

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/stacklight/wabridge/pkg/bus"
	"github.com/stacklight/wabridge/pkg/config"
	"github.com/stacklight/wabridge/pkg/logger"
	"github.com/stacklight/wabridge/pkg/messaging"
	"github.com/stacklight/wabridge/pkg/storage"
)

// Server is the local status dashboard. It exposes provider state, recent
// archived traffic and the active pairing QR over HTTP, and streams live bus
// events over a WebSocket.
type Server struct {
	config    config.DashboardConfig
	token     string
	registry  *messaging.Registry
	archive   storage.Archive
	msgBus    *bus.Bus
	hub       *Hub
	httpSrv   *http.Server
	startTime time.Time

	qrMu   sync.RWMutex
	lastQR map[string]string // provider -> current QR payload
}

// NewServer wires the dashboard against the provider registry and event bus.
// archive may be nil when message archival is disabled.
func NewServer(cfg config.DashboardConfig, token string, registry *messaging.Registry, archive storage.Archive, msgBus *bus.Bus) *Server {
	return &Server{
		config:   cfg,
		token:    token,
		registry: registry,
		archive:  archive,
		msgBus:   msgBus,
		lastQR:   make(map[string]string),
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()

	s.hub = NewHub(s.msgBus)
	go s.hub.Run(ctx)
	go s.watchPairing(ctx)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/status", s.authMiddleware(s.handleStatus))
	mux.HandleFunc("/api/v1/providers", s.authMiddleware(s.handleProviders))
	mux.HandleFunc("/api/v1/messages", s.authMiddleware(s.handleMessages))
	mux.HandleFunc("/api/v1/send", s.authMiddleware(s.handleSend))
	mux.HandleFunc("/api/v1/pair/qr.svg", s.authMiddleware(s.handlePairQR))

	// WebSocket (auth via query param)
	mux.HandleFunc("/ws", s.handleWebSocket)

	frontendSub, err := fs.Sub(frontendFS, "frontend")
	if err != nil {
		return fmt.Errorf("failed to create frontend sub-filesystem: %w", err)
	}
	mux.Handle("/", http.FileServer(http.FS(frontendSub)))

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.corsMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		logger.InfoCF("dashboard", "Dashboard server started", map[string]interface{}{
			"address": addr,
		})
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("dashboard", "Dashboard server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

func (s *Server) Stop() {
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(ctx)
		logger.InfoC("dashboard", "Dashboard server stopped")
	}
}

// watchPairing mirrors the current QR payload per provider so the SVG
// endpoint can serve it. Terminal pairing events clear the cached code.
func (s *Server) watchPairing(ctx context.Context) {
	events := s.msgBus.Subscribe()
	defer s.msgBus.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Kind != bus.KindPairingQR || evt.Pairing == nil {
				continue
			}
			s.qrMu.Lock()
			if evt.Pairing.Kind == messaging.PairingQRCode {
				s.lastQR[evt.Provider] = evt.Pairing.Code
			} else {
				delete(s.lastQR, evt.Provider)
			}
			s.qrMu.Unlock()
		}
	}
}

// authMiddleware wraps a handler with bearer token authentication.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.extractToken(r) != s.token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// extractToken gets the bearer token from Authorization header.
func (s *Server) extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Fallback: query parameter (for WebSocket)
	return r.URL.Query().Get("token")
}

// corsMiddleware adds CORS headers for same-origin requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
