// ABOUTME: Tool handlers: present_choices, speak, register_session, and telemetry tools.
// ABOUTME: Blocking tools wait on inbox item completion; the request context is the owner signal.

package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/2389/coven-operator/internal/session"
	"github.com/2389/coven-operator/internal/store"
)

// PresentChoicesArgs is the args schema for the present_choices tool.
type PresentChoicesArgs struct {
	Preamble string           `json:"preamble"`
	Choices  []session.Choice `json:"choices"`
	Priority int              `json:"priority,omitempty"`
}

// handlePresentChoices enqueues a choices item (piggybacking on a live
// duplicate) and blocks until the human resolves it or the caller vanishes.
func (d *Dispatcher) handlePresentChoices(r *http.Request, s *session.Session, args json.RawMessage) (any, error) {
	var in PresentChoicesArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid args: %w", err)
	}
	if in.Preamble == "" {
		return nil, fmt.Errorf("preamble is required")
	}
	if len(in.Choices) == 0 {
		return nil, fmt.Errorf("at least one choice is required")
	}
	seen := make(map[string]bool, len(in.Choices))
	for _, c := range in.Choices {
		if c.Label == "" {
			return nil, fmt.Errorf("choice label is required")
		}
		if seen[c.Label] {
			return nil, fmt.Errorf("duplicate choice label: %q", c.Label)
		}
		seen[c.Label] = true
	}

	// The request context doubles as the owner-liveness signal: if the
	// agent's connection resets before anyone answers, the drain loop
	// force-resolves the item with _restart instead of wedging the queue.
	item := session.NewChoicesItem(r.Context(), in.Preamble, in.Choices, in.Priority)
	item, enqueued := s.DedupEnqueue(item)
	if !enqueued {
		d.logger.Debug("retried call piggybacked", "session_id", s.ID, "item_id", item.ID)
	}

	res, err := item.Wait(r.Context())
	if err != nil {
		// Caller is gone; Peek will sweep the item with _restart.
		return nil, fmt.Errorf("caller cancelled: %w", err)
	}
	return res, nil
}

// SpeakArgs is the args schema for the speak tool.
type SpeakArgs struct {
	Text     string `json:"text"`
	Blocking bool   `json:"blocking,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// SpeakResponse is the non-blocking speak acknowledgement.
type SpeakResponse struct {
	Queued bool   `json:"queued"`
	ItemID string `json:"item_id"`
}

// handleSpeak enqueues a speech item. Priority >= 1 front-inserts it ahead
// of queued normal items. Blocking callers wait until the drain loop plays
// and resolves it; non-blocking callers get an immediate ack.
func (d *Dispatcher) handleSpeak(r *http.Request, s *session.Session, args json.RawMessage) (any, error) {
	var in SpeakArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid args: %w", err)
	}
	if in.Text == "" {
		return nil, fmt.Errorf("text is required")
	}

	var item *session.Item
	if in.Blocking {
		item = session.NewSpeechItem(r.Context(), in.Text, in.Priority)
	} else {
		// Fire-and-forget speech must not be swept as dead-owner work
		// the moment this request returns.
		item = session.NewSpeechItem(nil, in.Text, in.Priority)
	}
	item, _ = s.DedupEnqueue(item)

	if !in.Blocking {
		return SpeakResponse{Queued: true, ItemID: item.ID}, nil
	}

	res, err := item.Wait(r.Context())
	if err != nil {
		return nil, fmt.Errorf("caller cancelled: %w", err)
	}
	return res, nil
}

// RegisterSessionArgs is the args schema for the register_session handshake.
type RegisterSessionArgs struct {
	Name        string `json:"name,omitempty"`
	CWD         string `json:"cwd,omitempty"`
	Hostname    string `json:"hostname,omitempty"`
	TmuxSession string `json:"tmux_session,omitempty"`
	TmuxPane    string `json:"tmux_pane,omitempty"`
}

// handleRegisterSession attaches metadata from the agent's first handshake
// and persists the label row so a UI restart can re-attach display names.
func (d *Dispatcher) handleRegisterSession(r *http.Request, s *session.Session, args json.RawMessage) (any, error) {
	var in RegisterSessionArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("invalid args: %w", err)
		}
	}

	s.Register(session.Meta{
		Name:        in.Name,
		CWD:         in.CWD,
		Hostname:    in.Hostname,
		TmuxSession: in.TmuxSession,
		TmuxPane:    in.TmuxPane,
	})

	if d.store != nil {
		err := d.store.Upsert(r.Context(), &store.RegisteredSession{
			SessionID:   s.ID,
			Name:        in.Name,
			CWD:         in.CWD,
			Hostname:    in.Hostname,
			TmuxSession: in.TmuxSession,
			TmuxPane:    in.TmuxPane,
		})
		if err != nil {
			// Persistence is best-effort; the concurrency core never
			// depends on it.
			d.logger.Warn("failed to persist session registration", "session_id", s.ID, "error", err)
		}
	}

	return map[string]any{"registered": true, "session_id": s.ID}, nil
}

// handleStatus returns the calling session's telemetry snapshot.
func (d *Dispatcher) handleStatus(_ *http.Request, s *session.Session, _ json.RawMessage) (any, error) {
	return s.Snapshot(), nil
}

// handleListSessions returns every live session's snapshot in tab order.
func (d *Dispatcher) handleListSessions(_ *http.Request, _ *session.Session, _ json.RawMessage) (any, error) {
	sessions := d.manager.List()
	out := make([]session.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return map[string]any{"sessions": out, "focused": d.manager.Focused()}, nil
}

// handleCloseSession removes the calling session; every pending item is
// force-resolved with _cancelled so nothing stays blocked on it.
func (d *Dispatcher) handleCloseSession(r *http.Request, s *session.Session, _ json.RawMessage) (any, error) {
	next := d.manager.Remove(s.ID)
	if d.store != nil {
		if err := d.store.Delete(r.Context(), s.ID); err != nil {
			d.logger.Warn("failed to delete session registration", "session_id", s.ID, "error", err)
		}
	}
	return map[string]any{"closed": true, "next_focused": next}, nil
}
