// ABOUTME: Default drain hooks for headless operation: speech and choices go to the log.
// ABOUTME: The terminal UI and TTS subprocess collaborators replace these when attached.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fatih/color"

	"github.com/2389/coven-operator/internal/session"
)

// operatorHooks is the headless DrainHooks implementation. Speech items are
// printed and resolved; choices items are announced so an operator watching
// the log can resolve them through the UI collaborator or the HTTP surface.
type operatorHooks struct {
	logger *slog.Logger
}

func (h *operatorHooks) PlaySpeech(_ context.Context, s *session.Session, item *session.Item) error {
	speaker := color.New(color.FgMagenta, color.Bold)
	speaker.Printf("[%s] ", s.ID)
	fmt.Println(item.Text)
	return nil
}

func (h *operatorHooks) PresentChoices(s *session.Session, item *session.Item) {
	h.logger.Info("choices awaiting operator",
		"session_id", s.ID,
		"item_id", item.ID,
		"preamble", item.Preamble,
		"choices", len(item.Choices),
	)
}
