// ABOUTME: Tests for the session registry: auto-vivify, removal, focus/tab order, stale cleanup.
// ABOUTME: Uses a mock clock so inactivity eviction is tested without real waiting.

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	m := NewManager(nil, nil, opts...)
	t.Cleanup(m.Close)
	return m
}

func TestManager_GetOrCreate_AutoVivify(t *testing.T) {
	m := newTestManager(t)

	s, created := m.GetOrCreate("sess-1")
	require.True(t, created)
	require.NotNil(t, s)
	assert.Equal(t, "sess-1", s.ID)

	again, created := m.GetOrCreate("sess-1")
	assert.False(t, created)
	assert.Same(t, s, again)
	assert.Equal(t, 1, m.Len())
}

func TestManager_GetOrCreate_HookFiresOnceForCreator(t *testing.T) {
	var mu sync.Mutex
	var createdIDs []string

	m := newTestManager(t, WithOnSessionCreated(func(s *Session) {
		mu.Lock()
		createdIDs = append(createdIDs, s.ID)
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.GetOrCreate("sess-1")
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"sess-1"}, createdIDs, "only the creating call fires the hook")
}

func TestManager_FirstSessionGetsFocus(t *testing.T) {
	m := newTestManager(t)

	m.GetOrCreate("a")
	m.GetOrCreate("b")

	assert.Equal(t, "a", m.Focused())
}

func TestManager_Remove_ResolvesAllPendingWithCancelled(t *testing.T) {
	m := newTestManager(t)

	s, _ := m.GetOrCreate("sess-1")
	items := []*Item{
		NewChoicesItem(nil, "A?", []Choice{{Label: "ok"}}, 0),
		NewSpeechItem(nil, "hello", 0),
		NewChoicesItem(nil, "B?", []Choice{{Label: "ok"}}, 0),
	}
	for _, item := range items {
		s.Enqueue(item)
	}

	m.Remove("sess-1")

	// No InboxItem anywhere in the session is left undone.
	for _, item := range items {
		require.True(t, item.Done())
		assert.Equal(t, SelectedCancelled, item.Result().Selected)
	}
	_, ok := m.Get("sess-1")
	assert.False(t, ok)
}

func TestManager_Remove_ReturnsNextFocus(t *testing.T) {
	m := newTestManager(t)

	m.GetOrCreate("a")
	m.GetOrCreate("b")
	m.GetOrCreate("c")
	m.Focus("b")

	next := m.Remove("b")
	assert.Equal(t, "c", next)
	assert.Equal(t, "c", m.Focused())

	// Removing an unfocused session leaves focus alone.
	next = m.Remove("a")
	assert.Equal(t, "c", next)
}

func TestManager_Remove_Unknown(t *testing.T) {
	m := newTestManager(t)
	m.GetOrCreate("a")

	assert.Equal(t, "a", m.Remove("ghost"))
	assert.Equal(t, 1, m.Len())
}

func TestManager_TabNavigation_Wraps(t *testing.T) {
	m := newTestManager(t)

	m.GetOrCreate("a")
	m.GetOrCreate("b")
	m.GetOrCreate("c")

	assert.Equal(t, "b", m.NextTab())
	assert.Equal(t, "c", m.NextTab())
	assert.Equal(t, "a", m.NextTab(), "next wraps to the front")

	assert.Equal(t, "c", m.PrevTab(), "prev wraps to the back")
	assert.Equal(t, "b", m.PrevTab())
}

func TestManager_TabNavigation_Empty(t *testing.T) {
	m := newTestManager(t)

	assert.Equal(t, "", m.NextTab())
	assert.Equal(t, "", m.PrevTab())
	assert.Equal(t, "", m.NextWithChoices())
}

func TestManager_NextWithChoices(t *testing.T) {
	m := newTestManager(t)

	m.GetOrCreate("a")
	b, _ := m.GetOrCreate("b")
	c, _ := m.GetOrCreate("c")

	c.Enqueue(NewChoicesItem(nil, "C?", []Choice{{Label: "ok"}}, 0))

	assert.Equal(t, "c", m.NextWithChoices())
	assert.Equal(t, "c", m.Focused())

	// From c, wrap the whole order; only c qualifies so focus stays.
	assert.Equal(t, "c", m.NextWithChoices())

	b.Enqueue(NewChoicesItem(nil, "B?", []Choice{{Label: "ok"}}, 0))
	assert.Equal(t, "b", m.NextWithChoices())
}

func TestManager_CleanupStale(t *testing.T) {
	mock := clock.NewMock()
	m := newTestManager(t, WithClock(mock))

	m.GetOrCreate("focused")
	m.GetOrCreate("idle")
	busy, _ := m.GetOrCreate("busy")
	busy.Enqueue(NewChoicesItem(nil, "Q?", []Choice{{Label: "ok"}}, 0))

	m.Focus("focused")
	mock.Add(time.Hour)

	removed := m.CleanupStale(30 * time.Minute)

	assert.Equal(t, []string{"idle"}, removed)
	_, ok := m.Get("focused")
	assert.True(t, ok, "focused sessions are never evicted")
	_, ok = m.Get("busy")
	assert.True(t, ok, "sessions with pending items are never evicted regardless of age")
}

func TestManager_CleanupStale_RecentActivityKeeps(t *testing.T) {
	mock := clock.NewMock()
	m := newTestManager(t, WithClock(mock))

	m.GetOrCreate("focused")
	idle, _ := m.GetOrCreate("idle")
	m.Focus("focused")

	mock.Add(20 * time.Minute)
	idle.Touch("status")
	mock.Add(20 * time.Minute)

	removed := m.CleanupStale(30 * time.Minute)
	assert.Empty(t, removed)
}

func TestManager_HistoryCapAppliesToCreatedSessions(t *testing.T) {
	m := newTestManager(t, WithHistoryCap(2))

	s, _ := m.GetOrCreate("sess-1")
	for i := 0; i < 4; i++ {
		item := NewChoicesItem(nil, "Q?", nil, 0)
		s.Enqueue(item)
		s.ResolveItem(item, &Result{Selected: "ok"})
		s.Peek()
	}

	assert.Equal(t, 2, s.HistoryLen())
}

func TestManager_Close_ClearsEverySession(t *testing.T) {
	m := NewManager(nil, nil)

	s, _ := m.GetOrCreate("sess-1")
	item := NewChoicesItem(nil, "Q?", []Choice{{Label: "ok"}}, 0)
	s.Enqueue(item)

	m.Close()

	require.True(t, item.Done())
	assert.Equal(t, SelectedCancelled, item.Result().Selected)
	assert.Equal(t, 0, m.Len())
}
