// ABOUTME: Process-wide registry of sessions with focus/tab navigation and stale eviction.
// ABOUTME: One coarse mutex guards registry mutations; item resolution happens outside it.

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
)

// Manager owns every live session, keyed by protocol session id, and the
// explicit tab order the UI navigates. Sessions are auto-vivified on first
// contact and destroyed by explicit close or stale cleanup.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
	focused  string

	hooks     DrainHooks
	onCreated func(*Session)

	historyCap int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	clock  clock.Clock
	logger *slog.Logger
}

// ManagerOption customizes a Manager at construction.
type ManagerOption func(*Manager)

// WithClock injects a clock (tests use clock.NewMock).
func WithClock(clk clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = clk }
}

// WithHistoryCap sets the inbox_done cap applied to every created session.
func WithHistoryCap(n int) ManagerOption {
	return func(m *Manager) { m.historyCap = n }
}

// WithOnSessionCreated registers the side-effect hook fired exactly once per
// session, by the creating call only. The UI collaborator uses it to open tabs.
func WithOnSessionCreated(fn func(*Session)) ManagerOption {
	return func(m *Manager) { m.onCreated = fn }
}

// NewManager creates a Manager. hooks drive each session's drain loop; a nil
// hooks disables drain goroutines (useful for registry-only tests).
func NewManager(hooks DrainHooks, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:   make(map[string]*Session),
		hooks:      hooks,
		historyCap: DefaultHistoryCap,
		ctx:        ctx,
		cancel:     cancel,
		clock:      clock.New(),
		logger:     logger.With("component", "sessions"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the session for id, creating it on first contact.
// created is true only for the call that actually created it; only that call
// fires the on-created hook and starts the drain goroutine.
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, false
	}

	s := New(id, m.clock, m.logger)
	s.SetHistoryCap(m.historyCap)
	m.sessions[id] = s
	m.order = append(m.order, id)
	if m.focused == "" {
		m.focused = id
	}
	total := len(m.sessions)

	if m.hooks != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			s.Drain(m.ctx, m.hooks)
		}()
	}
	m.mu.Unlock()

	m.logger.Info("session created", "session_id", id, "total_sessions", total)
	if m.onCreated != nil {
		m.onCreated(s)
	}
	return s, true
}

// Get returns the session for id without creating it.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove deletes the session and force-resolves every pending item with
// _cancelled so no caller anywhere stays blocked on it. Returns the id now
// focused (possibly ""). Resolution happens outside the registry lock.
func (m *Manager) Remove(id string) string {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		focused := m.focused
		m.mu.Unlock()
		return focused
	}

	delete(m.sessions, id)
	idx := lo.IndexOf(m.order, id)
	if idx >= 0 {
		m.order = append(m.order[:idx], m.order[idx+1:]...)
	}
	if m.focused == id {
		m.focused = ""
		if len(m.order) > 0 {
			if idx >= len(m.order) {
				idx = len(m.order) - 1
			}
			m.focused = m.order[idx]
		}
	}
	focused := m.focused
	total := len(m.sessions)
	m.mu.Unlock()

	s.ForceClear(SelectedCancelled)
	m.logger.Info("session removed", "session_id", id, "total_sessions", total)
	return focused
}

// Focus makes id the focused session if it exists.
func (m *Manager) Focus(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	m.focused = id
	return true
}

// Focused returns the currently focused session id ("" when empty).
func (m *Manager) Focused() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}

// NextTab moves focus to the next session in tab order, wrapping.
func (m *Manager) NextTab() string {
	return m.step(1)
}

// PrevTab moves focus to the previous session in tab order, wrapping.
func (m *Manager) PrevTab() string {
	return m.step(-1)
}

func (m *Manager) step(delta int) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.order)
	if n == 0 {
		return ""
	}
	idx := lo.IndexOf(m.order, m.focused)
	if idx < 0 {
		idx = 0
	} else {
		idx = ((idx+delta)%n + n) % n
	}
	m.focused = m.order[idx]
	return m.focused
}

// NextWithChoices moves focus to the next session (in tab order, wrapping)
// that has a pending choices item. Focus is unchanged if none does.
func (m *Manager) NextWithChoices() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.order)
	if n == 0 {
		return ""
	}
	start := lo.IndexOf(m.order, m.focused)
	for i := 1; i <= n; i++ {
		id := m.order[((start+i)%n+n)%n]
		if s, ok := m.sessions[id]; ok && s.PendingChoices() > 0 {
			m.focused = id
			return id
		}
	}
	return m.focused
}

// List returns every session in tab order.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		if s, ok := m.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CleanupStale evicts sessions that are unfocused, have zero pending inbox
// items, and have been inactive past timeout. Sessions with any pending item
// are never evicted regardless of age. Returns the removed ids.
func (m *Manager) CleanupStale(timeout time.Duration) []string {
	now := m.clock.Now()

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if id == m.focused {
			continue
		}
		if s.Pending() > 0 {
			continue
		}
		if now.Sub(s.LastActivity()) > timeout {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.Remove(id)
		m.logger.Info("evicted stale session", "session_id", id, "timeout", timeout)
	}
	return stale
}

// RunCleanup evicts stale sessions every interval until ctx is cancelled.
func (m *Manager) RunCleanup(ctx context.Context, interval, timeout time.Duration) {
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupStale(timeout)
		}
	}
}

// Close force-clears every session and stops all drain goroutines. Safe to
// call once at process shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.order = nil
	m.focused = ""
	m.mu.Unlock()

	for _, s := range all {
		s.ForceClear(SelectedCancelled)
	}
	m.cancel()
	m.wg.Wait()
}
