// ABOUTME: Operator-facing endpoints: the human-side resolution path of the UI contract.
// ABOUTME: The UI collaborator resolves each presented item exactly once through these.

package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/2389/coven-operator/internal/session"
)

// ResolveRequest is the JSON body for POST /sessions/{id}/resolve. ItemID
// should be the id returned by GET /sessions/{id}/front; when set, the answer
// lands on exactly that item even if something else has since front-inserted.
type ResolveRequest struct {
	ItemID   string `json:"item_id,omitempty"`
	Selected string `json:"selected"`
	Note     string `json:"note,omitempty"`
}

// RegisterOperatorRoutes registers the human-side endpoints on mux. These
// are consumed by the terminal UI collaborator (and usable with curl when
// running headless).
func (d *Dispatcher) RegisterOperatorRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /sessions", d.handleSessions)
	mux.HandleFunc("GET /sessions/{id}/front", d.handleFront)
	mux.HandleFunc("POST /sessions/{id}/resolve", d.handleResolve)
	mux.HandleFunc("POST /sessions/{id}/focus", d.handleFocus)
	mux.HandleFunc("DELETE /sessions/{id}", d.handleRemove)
}

// handleSessions returns every live session's snapshot in tab order.
func (d *Dispatcher) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := d.manager.List()
	out := make([]session.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": out,
		"focused":  d.manager.Focused(),
	})
}

// handleFront returns the item currently awaiting the human, if any.
func (d *Dispatcher) handleFront(w http.ResponseWriter, r *http.Request) {
	s, ok := d.manager.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no such session"})
		return
	}

	item := s.Peek()
	if item == nil {
		writeJSON(w, http.StatusOK, map[string]any{"empty": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":  item.ID,
		"kind":     item.Kind.String(),
		"preamble": item.Preamble,
		"text":     item.Text,
		"choices":  item.Choices,
	})
}

// handleResolve resolves an inbox item with the operator's answer, waking
// every caller piggybacked on it. With an item_id the answer is pinned to
// that item; without one the current front item is resolved.
func (d *Dispatcher) handleResolve(w http.ResponseWriter, r *http.Request) {
	s, ok := d.manager.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no such session"})
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("malformed request body: %v", err)})
		return
	}
	if req.Selected == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "selected is required"})
		return
	}

	res := &session.Result{Selected: req.Selected, Note: req.Note}
	var item *session.Item
	if req.ItemID != "" {
		item = s.ResolveByID(req.ItemID, res)
	} else {
		item = s.ResolveFront(res)
	}
	if item == nil {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "nothing pending"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": item.ID})
}

// handleFocus moves UI focus to the session.
func (d *Dispatcher) handleFocus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !d.manager.Focus(id) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no such session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"focused": id})
}

// handleRemove closes a session from the operator side; pending items are
// force-resolved with _cancelled.
func (d *Dispatcher) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := d.manager.Get(id); !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no such session"})
		return
	}
	next := d.manager.Remove(id)
	if d.store != nil {
		if err := d.store.Delete(r.Context(), id); err != nil {
			d.logger.Warn("failed to delete session registration", "session_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed": id, "next_focused": next})
}
