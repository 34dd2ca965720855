// Package consumer reduces the ordered stream of provider turn events into
// the transcript entries exposed to the rest of the application.
package consumer

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"live-transcription-bridge/internal/protocol"
)

// Entry is the durable-within-session transcript unit. Entries are only
// created from finalized turns; the visible transcript never contains text
// that could later be retracted.
type Entry struct {
	ID        string    `json:"id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithEntryFunc registers a callback invoked for every new entry, in order.
func WithEntryFunc(fn func(Entry)) Option {
	return func(c *Consumer) { c.onEntry = fn }
}

// WithErrorFunc registers a callback for session-level errors.
func WithErrorFunc(fn func(error)) Option {
	return func(c *Consumer) { c.onError = fn }
}

// withClock overrides the display clock, for tests.
func withClock(now func() time.Time) Option {
	return func(c *Consumer) { c.now = now }
}

// Consumer converts turn events into an ordered entry list. It is not safe
// for concurrent use; events arrive from a single read loop, one at a time.
type Consumer struct {
	begun   bool
	entries []Entry
	onEntry func(Entry)
	onError func(error)
	now     func() time.Time
}

// New creates an empty consumer.
func New(opts ...Option) *Consumer {
	c := &Consumer{now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Consume processes one provider event. Interim turns, empty finalized
// turns, termination summaries, and unknown event types produce no entry.
// Error payloads surface through the error callback, never as transcript
// content.
func (c *Consumer) Consume(ev *protocol.Event) {
	if ev == nil {
		return
	}
	if ev.Error != "" {
		if c.onError != nil {
			c.onError(fmt.Errorf("session error: %s", ev.Error))
		}
		return
	}

	switch ev.Type {
	case protocol.TypeBegin:
		c.begun = true
	case protocol.TypeTurn:
		c.consumeTurn(ev)
	case protocol.TypeTermination:
		// Session summary; nothing to display.
	default:
		// Providers send heterogeneous message shapes; unknown types are no-ops.
	}
}

func (c *Consumer) consumeTurn(ev *protocol.Event) {
	if !ev.EndOfTurn {
		return
	}
	text := strings.TrimSpace(ev.Transcript)
	if text == "" {
		return
	}

	// Display time is the consumer's local wall clock, not provider time.
	entry := Entry{
		ID:        uuid.NewString(),
		Speaker:   speakerLabel(ev),
		Text:      text,
		Timestamp: c.now(),
	}
	c.entries = append(c.entries, entry)
	if c.onEntry != nil {
		c.onEntry(entry)
	}
}

// Begun reports whether a begin-of-session confirmation was seen. Used only
// for connection-status signaling.
func (c *Consumer) Begun() bool {
	return c.begun
}

// Entries returns a copy of the entry list in arrival order.
func (c *Consumer) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// speakerLabel derives a display label from the detected language or the
// first word-level speaker annotation, falling back to a generic placeholder.
func speakerLabel(ev *protocol.Event) string {
	for _, w := range ev.Words {
		if w.Speaker != "" {
			return "Speaker " + w.Speaker
		}
	}
	if ev.LanguageCode != "" {
		return fmt.Sprintf("Speaker (%s)", ev.LanguageCode)
	}
	return "Speaker"
}
