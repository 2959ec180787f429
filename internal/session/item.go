// ABOUTME: InboxItem value object: one pending unit of work awaiting human resolution.
// ABOUTME: Carries a one-shot completion channel and the owner context for liveness checks.

package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what sort of work an inbox item represents.
type Kind int

const (
	// KindChoices is a question presented to the human with a fixed option list.
	KindChoices Kind = iota
	// KindSpeech is a text-to-speech request, auto-played by the drain loop.
	KindSpeech
)

// String returns the kind name used in logs and status payloads.
func (k Kind) String() string {
	switch k {
	case KindChoices:
		return "choices"
	case KindSpeech:
		return "speech"
	default:
		return "unknown"
	}
}

// Sentinel Selected values used when an item is resolved by the system
// rather than by the human operator.
const (
	// SelectedRestart marks a mid-flight abort (owner vanished). Items
	// resolved this way are dropped from history entirely.
	SelectedRestart = "_restart"

	// SelectedCancelled marks items force-resolved when their session is
	// removed. These stay in history; the operator closed something real.
	SelectedCancelled = "_cancelled"

	// SelectedSpoken marks speech items auto-resolved by the drain loop.
	SelectedSpoken = "spoken"
)

// Choice is one option presented to the human.
type Choice struct {
	Label   string `json:"label"`
	Summary string `json:"summary,omitempty"`
}

// Result is the resolution payload delivered to every caller waiting on an item.
type Result struct {
	Selected string `json:"selected"`
	Note     string `json:"note,omitempty"`
}

// Item is one pending unit of work in a session's inbox.
//
// Exported fields are set once at construction and never mutated afterwards;
// resolution state is guarded by mu and signalled through the done channel,
// which is closed exactly once.
type Item struct {
	ID        string
	Kind      Kind
	Preamble  string
	Text      string
	Choices   []Choice
	Priority  int
	CreatedAt time.Time

	// owner is the context of the call that enqueued this item. When the
	// calling agent's connection drops, net/http cancels it; the drain
	// side treats that as "owner thread died".
	owner context.Context

	mu         sync.Mutex
	result     *Result
	done       bool
	doneCh     chan struct{}
	processing bool
}

// NewChoicesItem builds a pending question. owner is the enqueuing call's
// context; pass nil for items with no liveness to track (tests, system items).
func NewChoicesItem(owner context.Context, preamble string, choices []Choice, priority int) *Item {
	return &Item{
		ID:        uuid.New().String(),
		Kind:      KindChoices,
		Preamble:  preamble,
		Choices:   choices,
		Priority:  priority,
		CreatedAt: time.Now(),
		owner:     owner,
		doneCh:    make(chan struct{}),
	}
}

// NewSpeechItem builds a pending speech request. Priority >= 1 makes the
// session front-insert it ahead of queued normal items.
func NewSpeechItem(owner context.Context, text string, priority int) *Item {
	return &Item{
		ID:        uuid.New().String(),
		Kind:      KindSpeech,
		Text:      text,
		Priority:  priority,
		CreatedAt: time.Now(),
		owner:     owner,
		doneCh:    make(chan struct{}),
	}
}

// Resolve records the result and signals every waiter. Only the first call
// has any effect; it returns false if the item was already resolved.
func (it *Item) Resolve(res *Result) bool {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.done {
		return false
	}
	if res == nil {
		res = &Result{}
	}
	it.result = res
	it.done = true
	close(it.doneCh)
	return true
}

// Done reports whether the item has been resolved.
func (it *Item) Done() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.done
}

// Result returns the resolution payload, or nil if the item is still live.
func (it *Item) Result() *Result {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.result
}

// Resolved exposes the completion channel. It is closed exactly once, when
// the item resolves; duplicate (piggybacked) callers all wait on it.
func (it *Item) Resolved() <-chan struct{} {
	return it.doneCh
}

// Wait blocks until the item resolves or ctx is cancelled.
func (it *Item) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-it.doneCh:
		return it.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OwnerAlive reports whether the call that enqueued this item is still
// waiting for it. Items with no owner context are always considered alive.
func (it *Item) OwnerAlive() bool {
	if it.owner == nil {
		return true
	}
	return it.owner.Err() == nil
}

// BeginProcessing claims the item for a drain worker. Returns false if some
// other worker already claimed it; guards against double-presentation when
// more than one drain pass observes the same front item.
func (it *Item) BeginProcessing() bool {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.processing || it.done {
		return false
	}
	it.processing = true
	return true
}

// Processing reports whether a drain worker has claimed the item.
func (it *Item) Processing() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.processing
}

// DedupKey is the content identity used to piggyback retried calls onto an
// already-live item. It is purely textual: kind, preamble/text, and the
// choices as given. Two semantically different calls that render identical
// text will collide; callers that need distinct items must vary the text.
func (it *Item) DedupKey() string {
	var b strings.Builder
	b.WriteString(it.Kind.String())
	b.WriteByte('\x1f')
	b.WriteString(it.Preamble)
	b.WriteByte('\x1f')
	b.WriteString(it.Text)
	for _, c := range it.Choices {
		b.WriteByte('\x1e')
		b.WriteString(c.Label)
		b.WriteByte('\x1f')
		b.WriteString(c.Summary)
	}
	return b.String()
}
