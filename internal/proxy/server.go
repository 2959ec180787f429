// ABOUTME: Agent-facing HTTP surface of the forwarding proxy: POST /call and GET /health.
// ABOUTME: Holds no session state; each inbound call is forwarded independently.

package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// CallRequest is the JSON body agents send to POST /call. It mirrors the
// internal wire shape so forwarding is a straight passthrough.
type CallRequest struct {
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args,omitempty"`
	SessionID string          `json:"session_id"`
}

// Server terminates the agent-facing protocol and forwards through a
// Forwarder. Every inbound call runs on its own goroutine (net/http), so a
// blocking tool never holds up other agents.
type Server struct {
	forwarder *Forwarder
	logger    *slog.Logger
}

// NewServer wraps a Forwarder with the agent-facing HTTP surface.
func NewServer(f *Forwarder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		forwarder: f,
		logger:    logger.With("component", "proxy"),
	}
}

// RegisterRoutes registers the proxy's endpoints on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /call", s.handleCall)
	mux.HandleFunc("GET /health", s.handleHealth)
}

// handleCall forwards one tool call and relays the backend response verbatim.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}
	if req.Tool == "" || req.SessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "tool and session_id are required")
		return
	}

	s.logger.Debug("forwarding tool call",
		"tool", req.Tool,
		"session_id", req.SessionID,
		"blocking", IsBlocking(req.Tool),
	)

	body, status := s.forwarder.Forward(r.Context(), req.Tool, req.Args, req.SessionID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// handleHealth reports proxy liveness. The proxy is healthy even when the
// backend is down; absorbing backend restarts is its whole job.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
