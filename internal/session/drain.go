// ABOUTME: Background drain loop advancing a session's inbox to the next actionable item.
// ABOUTME: Speech items are auto-played and resolved; choices items wait for the human.

package session

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// drainPollInterval bounds how long the drain loop sleeps without a kick, so
// a missed signal can only ever delay progress, never stall it.
const drainPollInterval = 500 * time.Millisecond

// DrainHooks is the contract the drain loop needs from its collaborators.
// PlaySpeech is the audio subsystem; PresentChoices is the interactive UI.
// Both are called from the session's drain goroutine, once per item.
type DrainHooks interface {
	// PlaySpeech plays text aloud. Errors are logged and do not block
	// drain progress; the item resolves regardless.
	PlaySpeech(ctx context.Context, s *Session, item *Item) error

	// PresentChoices surfaces a question to the human. It must not block;
	// the human-side collaborator later resolves the item exactly once
	// (ResolveFront or ResolveItem).
	PresentChoices(s *Session, item *Item)
}

// Drain runs the session's drain loop until ctx is cancelled. It repeatedly
// peeks the inbox: speech items are claimed, played, and resolved here;
// choices items are surfaced once and left at the front until the human
// resolves them. At most one item is ever being presented per session.
func (s *Session) Drain(ctx context.Context, hooks DrainHooks) {
	timer := s.clock.Timer(drainPollInterval)
	defer timer.Stop()

	for {
		item := s.Peek()
		if item == nil {
			if !s.waitKick(ctx, timer) {
				return
			}
			continue
		}

		switch item.Kind {
		case KindSpeech:
			if !item.BeginProcessing() {
				// Another pass already owns it; wait for resolution.
				if !s.waitItem(ctx, item, timer) {
					return
				}
				continue
			}
			if err := hooks.PlaySpeech(ctx, s, item); err != nil {
				s.logger.Warn("speech playback failed", "item_id", item.ID, "error", err)
			}
			s.recordSpeech(item)
			s.ResolveItem(item, &Result{Selected: SelectedSpoken})

		case KindChoices:
			if item.BeginProcessing() {
				s.setActive(true)
				s.logger.Debug("presenting choices item",
					"item_id", item.ID,
					"choices", len(item.Choices),
				)
				hooks.PresentChoices(s, item)
			}
			if !s.waitItem(ctx, item, timer) {
				return
			}
			if item.Done() {
				s.setActive(false)
			}
		}
	}
}

// waitKick blocks until a kick, the poll interval, or ctx cancellation.
// Returns false only when ctx is done.
func (s *Session) waitKick(ctx context.Context, timer *clock.Timer) bool {
	timer.Reset(drainPollInterval)
	select {
	case <-ctx.Done():
		return false
	case <-s.kickCh():
		return true
	case <-timer.C:
		return true
	}
}

// waitItem blocks until the item resolves, a kick arrives, the poll interval
// elapses, or ctx is cancelled. Returns false only when ctx is done.
func (s *Session) waitItem(ctx context.Context, item *Item, timer *clock.Timer) bool {
	timer.Reset(drainPollInterval)
	select {
	case <-ctx.Done():
		return false
	case <-item.Resolved():
		return true
	case <-s.kickCh():
		return true
	case <-timer.C:
		return true
	}
}
