// ABOUTME: Backend HTTP dispatcher mapping (tool, args, session_id) to handler functions.
// ABOUTME: Auto-vivifies sessions, converts handler faults to structured error responses.

package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/2389/coven-operator/internal/session"
	"github.com/2389/coven-operator/internal/store"
)

// ErrUnknownTool indicates the requested tool has no registered handler.
var ErrUnknownTool = errors.New("unknown tool")

// Request is the JSON body for POST /handle.
type Request struct {
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args,omitempty"`
	SessionID string          `json:"session_id"`
}

// ErrorResponse is the structured error body for failed calls.
type ErrorResponse struct {
	Error string `json:"error"`
	Tool  string `json:"tool,omitempty"`
}

// HandlerFunc handles one tool call. The session is already vivified; ctx is
// the inbound request context, cancelled when the agent's connection drops.
type HandlerFunc func(r *http.Request, s *session.Session, args json.RawMessage) (any, error)

// Dispatcher serves the proxy-facing HTTP endpoint. Every inbound request
// runs on its own goroutine (net/http), so a blocked present_choices call
// never starves other sessions' calls.
type Dispatcher struct {
	manager  *session.Manager
	store    *store.Store // optional; nil disables label persistence
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

// New creates a Dispatcher with the static tool table. st may be nil.
func New(manager *session.Manager, st *store.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		manager: manager,
		store:   st,
		logger:  logger.With("component", "dispatch"),
	}
	d.handlers = map[string]HandlerFunc{
		"present_choices":  d.handlePresentChoices,
		"speak":            d.handleSpeak,
		"register_session": d.handleRegisterSession,
		"status":           d.handleStatus,
		"list_sessions":    d.handleListSessions,
		"close_session":    d.handleCloseSession,
	}
	return d
}

// RegisterRoutes registers the dispatcher's endpoints on mux.
func (d *Dispatcher) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /handle", d.handleToolCall)
	mux.HandleFunc("GET /health", d.handleHealth)
}

// handleToolCall handles POST /handle. Malformed bodies are protocol faults
// (400, no retry upstream); handler faults become structured 500 bodies so
// one misbehaving tool never takes down the shared listener.
func (d *Dispatcher) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("malformed request body: %v", err)})
		return
	}
	if req.Tool == "" || req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "tool and session_id are required", Tool: req.Tool})
		return
	}

	handler, ok := d.handlers[req.Tool]
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("%v: %s", ErrUnknownTool, req.Tool),
			Tool:  req.Tool,
		})
		return
	}

	s, created := d.manager.GetOrCreate(req.SessionID)
	if created {
		d.logger.Info("session auto-created on first contact", "session_id", req.SessionID, "tool", req.Tool)
	}
	s.Touch(req.Tool)
	if d.store != nil {
		// Best-effort; a missing registry row is a no-op.
		if err := d.store.Touch(r.Context(), req.SessionID); err != nil {
			d.logger.Debug("failed to touch session registry row", "session_id", req.SessionID, "error", err)
		}
	}

	result, err := d.invoke(handler, r, s, req.Args)
	if err != nil {
		d.logger.Error("tool handler failed",
			"tool", req.Tool,
			"session_id", req.SessionID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: fmt.Sprintf("%T: %v", err, err),
			Tool:  req.Tool,
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// invoke runs a handler, converting panics into errors at the boundary.
func (d *Dispatcher) invoke(handler HandlerFunc, r *http.Request, s *session.Session, args json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(r, s, args)
}

// handleHealth handles GET /health.
func (d *Dispatcher) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": d.manager.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
