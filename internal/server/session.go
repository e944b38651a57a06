package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Session controls the capture session. Starting a session always begins
// with an idle debouncer.
type Session interface {
	Start() error
	Stop()
	IsRunning() bool
}

// SessionHandler serves /api/session, /api/session/start and /api/session/stop.
type SessionHandler struct {
	session Session
}

// NewSessionHandler creates a SessionHandler for session.
func NewSessionHandler(session Session) *SessionHandler {
	return &SessionHandler{session: session}
}

type sessionResponse struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// ServeHTTP implements the http.Handler interface.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/session"), "/")

	switch action {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
	case "start":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := h.session.Start(); err != nil {
			writeSession(w, http.StatusServiceUnavailable, sessionResponse{Running: h.session.IsRunning(), Error: err.Error()})
			return
		}
	case "stop":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.session.Stop()
	default:
		http.NotFound(w, r)
		return
	}

	writeSession(w, http.StatusOK, sessionResponse{Running: h.session.IsRunning()})
}

func writeSession(w http.ResponseWriter, status int, resp sessionResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
