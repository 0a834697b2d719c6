package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"version":   "0.1.0",
		"uptime":    time.Since(s.startTime).String(),
		"providers": s.providerStatus(),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, s.providerStatus())
}

func (s *Server) providerStatus() map[string]interface{} {
	out := make(map[string]interface{})
	for _, name := range s.registry.Names() {
		p, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		status := p.Status()
		out[name] = map[string]interface{}{
			"state":     string(status.State),
			"reason":    status.Reason,
			"logged_in": p.IsLoggedIn(),
		}
	}
	return out
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if s.archive == nil {
		http.Error(w, `{"error":"message archive disabled"}`, http.StatusNotFound)
		return
	}

	provider := r.URL.Query().Get("provider")
	if provider == "" {
		provider = "whatsapp"
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	msgs, err := s.archive.RecentMessages(ctx, provider, limit)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, msgs)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Provider string `json:"provider"`
		ChatID   string `json:"chat_id"`
		Text     string `json:"text"`
		QuotedID string `json:"quoted_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if body.Provider == "" {
		body.Provider = "whatsapp"
	}
	if body.ChatID == "" || body.Text == "" {
		http.Error(w, `{"error":"chat_id and text are required"}`, http.StatusBadRequest)
		return
	}

	p, ok := s.registry.Get(body.Provider)
	if !ok {
		http.Error(w, `{"error":"unknown provider"}`, http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	msg, err := p.SendMessage(ctx, body.ChatID, body.Text, body.QuotedID)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, msg)
}

// handlePairQR renders the currently displayed pairing QR as an SVG. Returns
// 404 when no pairing flow is active.
func (s *Server) handlePairQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	provider := r.URL.Query().Get("provider")
	if provider == "" {
		provider = "whatsapp"
	}

	s.qrMu.RLock()
	code, ok := s.lastQR[provider]
	s.qrMu.RUnlock()
	if !ok {
		http.Error(w, `{"error":"no active pairing"}`, http.StatusNotFound)
		return
	}

	svg, err := generateQRSVG(code, 256)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(svg))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Auth via query param for WebSocket
	if r.URL.Query().Get("token") != s.token {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	s.hub.handleWebSocket(w, r)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
