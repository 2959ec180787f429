// ABOUTME: Tests for the drain loop: speech auto-play, single presentation, ordering.
// ABOUTME: Uses recording hooks to observe what the loop surfaces and in what order.

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHooks captures drain activity for assertions.
type recordingHooks struct {
	mu        sync.Mutex
	played    []string
	presented []*Item
	playErr   error
}

func (h *recordingHooks) PlaySpeech(_ context.Context, _ *Session, item *Item) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.played = append(h.played, item.Text)
	return h.playErr
}

func (h *recordingHooks) PresentChoices(_ *Session, item *Item) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.presented = append(h.presented, item)
}

func (h *recordingHooks) playedTexts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.played))
	copy(out, h.played)
	return out
}

func (h *recordingHooks) presentedItems() []*Item {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Item, len(h.presented))
	copy(out, h.presented)
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDrain_SpeechAutoResolved(t *testing.T) {
	s := newTestSession(t)
	hooks := &recordingHooks{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Drain(ctx, hooks)

	item := NewSpeechItem(nil, "build finished", 0)
	s.Enqueue(item)

	waitFor(t, item.Done, "speech item never resolved")
	assert.Equal(t, SelectedSpoken, item.Result().Selected)
	assert.Equal(t, []string{"build finished"}, hooks.playedTexts())
	assert.Len(t, s.SpeechLog(), 1)
}

func TestDrain_SpeechPlaybackFailureStillResolves(t *testing.T) {
	s := newTestSession(t)
	hooks := &recordingHooks{playErr: errors.New("audio device gone")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Drain(ctx, hooks)

	item := NewSpeechItem(nil, "anyone there?", 0)
	s.Enqueue(item)

	waitFor(t, item.Done, "failed playback must not block drain progress")
	assert.Equal(t, SelectedSpoken, item.Result().Selected)
}

func TestDrain_ChoicesPresentedExactlyOnce(t *testing.T) {
	s := newTestSession(t)
	hooks := &recordingHooks{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Drain(ctx, hooks)

	item := NewChoicesItem(nil, "Proceed?", []Choice{{Label: "yes"}, {Label: "no"}}, 0)
	s.Enqueue(item)

	waitFor(t, func() bool { return len(hooks.presentedItems()) == 1 }, "choices never presented")
	assert.True(t, s.Active())

	// Kick the loop a few times; the item must not be presented again.
	s.Kick()
	s.Kick()
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, hooks.presentedItems(), 1)

	s.ResolveItem(item, &Result{Selected: "yes"})
	waitFor(t, func() bool { return !s.Active() }, "active flag never cleared")
}

func TestDrain_OneActiveItemAtATime(t *testing.T) {
	s := newTestSession(t)
	hooks := &recordingHooks{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Drain(ctx, hooks)

	first := NewChoicesItem(nil, "First?", []Choice{{Label: "ok"}}, 0)
	second := NewChoicesItem(nil, "Second?", []Choice{{Label: "ok"}}, 0)
	s.Enqueue(first)
	s.Enqueue(second)

	waitFor(t, func() bool { return len(hooks.presentedItems()) == 1 }, "first item never presented")

	// The second item must stay unpresented while the first is live.
	time.Sleep(50 * time.Millisecond)
	require.Len(t, hooks.presentedItems(), 1)
	assert.Same(t, first, hooks.presentedItems()[0])

	s.ResolveItem(first, &Result{Selected: "ok"})

	waitFor(t, func() bool { return len(hooks.presentedItems()) == 2 }, "second item never presented")
	assert.Same(t, second, hooks.presentedItems()[1])
}

func TestDrain_UrgentSpeechPlaysBeforeQueuedChoices(t *testing.T) {
	s := newTestSession(t)
	hooks := &recordingHooks{}

	// Queue before the drain starts so ordering is deterministic.
	choice := NewChoicesItem(nil, "Deploy?", []Choice{{Label: "ok"}}, 0)
	urgent := NewSpeechItem(nil, "disk almost full", 1)
	s.Enqueue(choice)
	s.Enqueue(urgent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Drain(ctx, hooks)

	waitFor(t, urgent.Done, "urgent speech never played")
	assert.Equal(t, []string{"disk almost full"}, hooks.playedTexts())
	assert.False(t, choice.Done())
}

func TestDrain_DeadOwnerNeverPresented(t *testing.T) {
	s := newTestSession(t)
	hooks := &recordingHooks{}

	ownerCtx, ownerCancel := context.WithCancel(context.Background())
	orphan := NewChoicesItem(ownerCtx, "Orphan?", []Choice{{Label: "ok"}}, 0)
	s.Enqueue(orphan)
	ownerCancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Drain(ctx, hooks)

	waitFor(t, orphan.Done, "orphan never swept")
	assert.Equal(t, SelectedRestart, orphan.Result().Selected)
	assert.Empty(t, hooks.presentedItems(), "dead-owner item must never reach the human")
}
