// ABOUTME: slog.Handler middleware that keeps the last N warn/error records in memory.
// ABOUTME: The forwarding proxy appends this tail to final-failure diagnostics.

package logtail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// DefaultCapacity is the default number of retained records.
const DefaultCapacity = 20

// Buffer is a bounded ring of recent warn+ log lines.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

// NewBuffer creates a ring retaining the last capacity lines.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{cap: capacity}
}

// Append adds a line, evicting the oldest when full.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, line)
	if excess := len(b.lines) - b.cap; excess > 0 {
		b.lines = b.lines[excess:]
	}
}

// Tail returns a copy of the retained lines, oldest first.
func (b *Buffer) Tail() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Handler tees warn+ records into a Buffer while delegating everything to
// the wrapped handler.
type Handler struct {
	next  slog.Handler
	buf   *Buffer
	attrs []slog.Attr
}

// NewHandler wraps next, capturing warn+ records into buf.
func NewHandler(next slog.Handler, buf *Buffer) *Handler {
	return &Handler{next: next, buf: buf}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		var b strings.Builder
		b.WriteString(r.Time.Format("15:04:05"))
		b.WriteByte(' ')
		b.WriteString(r.Level.String())
		b.WriteByte(' ')
		b.WriteString(r.Message)
		for _, a := range h.attrs {
			fmt.Fprintf(&b, " %s=%s", a.Key, a.Value.String())
		}
		r.Attrs(func(a slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%s", a.Key, a.Value.String())
			return true
		})
		h.buf.Append(b.String())
	}
	return h.next.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &Handler{
		next:  h.next.WithAttrs(attrs),
		buf:   h.buf,
		attrs: newAttrs,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		next:  h.next.WithGroup(name),
		buf:   h.buf,
		attrs: h.attrs,
	}
}
