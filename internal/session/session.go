// ABOUTME: Session owns one agent's ordered inbox plus registration metadata and telemetry.
// ABOUTME: Provides enqueue/dedup/peek/resolve operations with FIFO-per-session ordering.

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultHistoryCap bounds the inbox_done audit history per session.
	DefaultHistoryCap = 50

	// activityLogCap bounds the per-session activity ring consumed by
	// health-monitoring collaborators.
	activityLogCap = 100
)

// Meta is the registration metadata attached by the agent's first
// register_session call. Set once; later registrations only refresh Name.
type Meta struct {
	Name        string `json:"name,omitempty"`
	CWD         string `json:"cwd,omitempty"`
	Hostname    string `json:"hostname,omitempty"`
	TmuxSession string `json:"tmux_session,omitempty"`
	TmuxPane    string `json:"tmux_pane,omitempty"`
}

// ActivityEntry is one telemetry record in the session's bounded activity log.
type ActivityEntry struct {
	Tool string    `json:"tool"`
	At   time.Time `json:"at"`
}

// SpeechEntry records a speech item the drain loop played (or attempted to).
type SpeechEntry struct {
	Text     string    `json:"text"`
	Priority int       `json:"priority"`
	At       time.Time `json:"at"`
}

// Session is one agent's logical connection: an ordered inbox of pending
// work, a capped history of resolved work, and registration/telemetry state.
//
// The inbox is guarded by the session's own mutex; the Manager's registry
// lock is never held while resolving items.
type Session struct {
	ID string

	mu         sync.Mutex
	inbox      []*Item
	inboxDone  []*Item
	historyCap int
	active     bool
	registered bool
	meta       Meta

	lastToolCall  string
	toolCallCount int
	activityLog   []ActivityEntry
	speechLog     []SpeechEntry
	lastActivity  time.Time

	// drainKick wakes the drain loop (and anyone waiting for "my turn")
	// without waiting out the poll interval. Buffered so kicks never block.
	drainKick chan struct{}

	clock  clock.Clock
	logger *slog.Logger
}

// New creates a session. clk may be nil, in which case the wall clock is used.
func New(id string, clk clock.Clock, logger *slog.Logger) *Session {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:           id,
		historyCap:   DefaultHistoryCap,
		drainKick:    make(chan struct{}, 1),
		lastActivity: clk.Now(),
		clock:        clk,
		logger:       logger.With("component", "session", "session_id", id),
	}
}

// SetHistoryCap overrides the inbox_done bound. Values < 1 are ignored.
func (s *Session) SetHistoryCap(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyCap = n
}

// Enqueue appends an item to the inbox: back of the queue for normal
// priority, front for priority >= 1 (urgent speech). Never blocks.
func (s *Session) Enqueue(item *Item) {
	s.mu.Lock()
	if item.Priority >= 1 {
		s.inbox = append([]*Item{item}, s.inbox...)
	} else {
		s.inbox = append(s.inbox, item)
	}
	s.mu.Unlock()

	s.Kick()
}

// DedupEnqueue enqueues item unless a live, not-done item with identical
// content already exists. If a duplicate exists it is returned with false:
// the caller must wait on the existing item's completion signal (piggyback)
// instead of presenting the same question to the human twice. Done items
// never match; a genuinely new identical question is enqueued fresh.
func (s *Session) DedupEnqueue(item *Item) (*Item, bool) {
	key := item.DedupKey()

	s.mu.Lock()
	for _, existing := range s.inbox {
		if existing.Done() {
			continue
		}
		if existing.DedupKey() == key {
			s.mu.Unlock()
			s.logger.Debug("duplicate call piggybacked on live item",
				"item_id", existing.ID,
				"kind", existing.Kind.String(),
			)
			return existing, false
		}
	}
	if item.Priority >= 1 {
		s.inbox = append([]*Item{item}, s.inbox...)
	} else {
		s.inbox = append(s.inbox, item)
	}
	s.mu.Unlock()

	s.Kick()
	return item, true
}

// Peek returns the front live item, keeping the queue honest on the way:
// done items are swept into the capped history (dropping _restart results),
// and items whose owner vanished are force-resolved with _restart and
// skipped so a dead peer can never wedge the human-facing queue.
func (s *Session) Peek() *Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.inbox) > 0 {
		front := s.inbox[0]

		if front.Done() {
			s.inbox = s.inbox[1:]
			s.archiveLocked(front)
			continue
		}

		if !front.OwnerAlive() {
			s.inbox = s.inbox[1:]
			front.Resolve(&Result{Selected: SelectedRestart})
			s.logger.Info("dropped inbox item with dead owner",
				"item_id", front.ID,
				"kind", front.Kind.String(),
			)
			continue
		}

		return front
	}
	return nil
}

// archiveLocked moves a resolved item into inbox_done, applying the cap and
// the _restart drop rule. Must be called with mu held.
func (s *Session) archiveLocked(item *Item) {
	if res := item.Result(); res != nil && res.Selected == SelectedRestart {
		return
	}
	s.inboxDone = append(s.inboxDone, item)
	if excess := len(s.inboxDone) - s.historyCap; excess > 0 {
		s.inboxDone = s.inboxDone[excess:]
	}
}

// ResolveFront resolves the current front live item and kicks the drain loop
// so the next item is picked up immediately. Returns the resolved item, or
// nil if the inbox had no live item.
func (s *Session) ResolveFront(res *Result) *Item {
	item := s.Peek()
	if item == nil {
		return nil
	}
	s.ResolveItem(item, res)
	return item
}

// ResolveItem resolves a specific item and kicks the drain loop. Resolution
// is idempotent; piggybacked waiters all observe the same result.
func (s *Session) ResolveItem(item *Item, res *Result) {
	if item.Resolve(res) {
		s.logger.Debug("inbox item resolved",
			"item_id", item.ID,
			"kind", item.Kind.String(),
			"selected", res.Selected,
		)
	}
	s.Kick()
}

// ResolveByID resolves the live inbox item with the given id and kicks the
// drain loop. Returns nil if no live item has that id (already resolved,
// swept, or never existed), so a stale answer can never land on a different
// item that moved to the front in the meantime.
func (s *Session) ResolveByID(id string, res *Result) *Item {
	s.mu.Lock()
	var target *Item
	for _, item := range s.inbox {
		if item.ID == id && !item.Done() {
			target = item
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return nil
	}
	s.ResolveItem(target, res)
	return target
}

// ForceClear resolves every live item with the given sentinel so no caller
// anywhere stays blocked on this session. Used on session removal and
// process shutdown.
func (s *Session) ForceClear(selected string) {
	s.mu.Lock()
	live := make([]*Item, len(s.inbox))
	copy(live, s.inbox)
	s.inbox = nil
	s.mu.Unlock()

	for _, item := range live {
		if item.Resolve(&Result{Selected: selected}) {
			s.mu.Lock()
			s.archiveLocked(item)
			s.mu.Unlock()
		}
	}
	if len(live) > 0 {
		s.logger.Info("force-cleared live inbox items", "count", len(live), "selected", selected)
	}
	s.Kick()
}

// Kick wakes the drain loop. Non-blocking; a pending kick is enough.
func (s *Session) Kick() {
	select {
	case s.drainKick <- struct{}{}:
	default:
	}
}

// kickCh exposes the wake channel to the drain loop.
func (s *Session) kickCh() <-chan struct{} {
	return s.drainKick
}

// Touch records one tool call against the session's telemetry.
func (s *Session) Touch(tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastToolCall = tool
	s.toolCallCount++
	s.lastActivity = s.clock.Now()
	s.activityLog = append(s.activityLog, ActivityEntry{Tool: tool, At: s.lastActivity})
	if excess := len(s.activityLog) - activityLogCap; excess > 0 {
		s.activityLog = s.activityLog[excess:]
	}
}

// Register attaches metadata from the agent's handshake. The first call
// wins for everything except Name, which later calls may refresh.
func (s *Session) Register(meta Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		if meta.Name != "" {
			s.meta.Name = meta.Name
		}
		return
	}
	s.meta = meta
	s.registered = true
}

// Meta returns the registration metadata and whether the session registered.
func (s *Session) Meta() (Meta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta, s.registered
}

// recordSpeech appends to the bounded speech log.
func (s *Session) recordSpeech(item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.speechLog = append(s.speechLog, SpeechEntry{
		Text:     item.Text,
		Priority: item.Priority,
		At:       s.clock.Now(),
	})
	if excess := len(s.speechLog) - activityLogCap; excess > 0 {
		s.speechLog = s.speechLog[excess:]
	}
}

// SpeechLog returns a copy of the played-speech history.
func (s *Session) SpeechLog() []SpeechEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SpeechEntry, len(s.speechLog))
	copy(out, s.speechLog)
	return out
}

// setActive flips the "a choices item is surfaced to the human" flag.
func (s *Session) setActive(v bool) {
	s.mu.Lock()
	s.active = v
	s.mu.Unlock()
}

// Active reports whether a choices item is currently presented.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// PendingChoices counts live, unresolved choices items.
func (s *Session) PendingChoices() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, item := range s.inbox {
		if item.Kind == KindChoices && !item.Done() {
			n++
		}
	}
	return n
}

// Pending counts all live, unresolved items.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, item := range s.inbox {
		if !item.Done() {
			n++
		}
	}
	return n
}

// HistoryLen returns the current inbox_done length.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inboxDone)
}

// History returns a copy of the done-item slice, oldest first.
func (s *Session) History() []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Item, len(s.inboxDone))
	copy(out, s.inboxDone)
	return out
}

// LastActivity returns the time of the most recent tool call (or creation).
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Snapshot is the telemetry view returned by the status tools.
type Snapshot struct {
	SessionID     string `json:"session_id"`
	Name          string `json:"name,omitempty"`
	CWD           string `json:"cwd,omitempty"`
	Hostname      string `json:"hostname,omitempty"`
	Registered    bool   `json:"registered"`
	Active        bool   `json:"active"`
	Pending       int    `json:"pending"`
	PendingChoice int    `json:"pending_choices"`
	HistoryLen    int    `json:"history_len"`
	LastToolCall  string `json:"last_tool_call,omitempty"`
	ToolCallCount int    `json:"tool_call_count"`
	LastActivity  string `json:"last_activity"`
}

// Snapshot assembles the current telemetry view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, pendingChoices := 0, 0
	for _, item := range s.inbox {
		if item.Done() {
			continue
		}
		pending++
		if item.Kind == KindChoices {
			pendingChoices++
		}
	}

	return Snapshot{
		SessionID:     s.ID,
		Name:          s.meta.Name,
		CWD:           s.meta.CWD,
		Hostname:      s.meta.Hostname,
		Registered:    s.registered,
		Active:        s.active,
		Pending:       pending,
		PendingChoice: pendingChoices,
		HistoryLen:    len(s.inboxDone),
		LastToolCall:  s.lastToolCall,
		ToolCallCount: s.toolCallCount,
		LastActivity:  s.lastActivity.Format(time.RFC3339),
	}
}
