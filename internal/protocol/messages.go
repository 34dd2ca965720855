// Package protocol defines the message shapes exchanged with the
// speech-recognition provider and relayed to bridge clients.
package protocol

import (
	"encoding/json"
	"strings"
)

// Provider event type tags.
const (
	TypeBegin       = "Begin"
	TypeTurn        = "Turn"
	TypeTermination = "Termination"
)

// Word is a word-level annotation attached to a turn.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
	Speaker    string  `json:"speaker,omitempty"`
}

// Event is a single message received from the provider. The zero value of
// optional fields means the provider omitted them. Raw preserves the exact
// bytes received so the bridge can forward messages verbatim.
type Event struct {
	Type         string  `json:"type"`
	ID           string  `json:"id,omitempty"`
	Transcript   string  `json:"transcript,omitempty"`
	EndOfTurn    bool    `json:"end_of_turn,omitempty"`
	LanguageCode string  `json:"language_code,omitempty"`
	Words        []Word  `json:"words,omitempty"`
	AudioSeconds float64 `json:"audio_duration_seconds,omitempty"`
	Error        string  `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Parse decodes a provider text frame. The returned event keeps a copy of
// the original bytes in Raw. Unknown type tags parse successfully; callers
// treat them as no-ops rather than failing the session.
func Parse(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	ev.Raw = append(json.RawMessage(nil), data...)
	return &ev, nil
}

// IsFinalTurn reports whether the event is a finalized turn carrying text
// that will not be retracted.
func (e *Event) IsFinalTurn() bool {
	return e.Type == TypeTurn && e.EndOfTurn && strings.TrimSpace(e.Transcript) != ""
}

// clientMessage is the bridge→client control envelope.
type clientMessage struct {
	Type  string `json:"type,omitempty"`
	Error string `json:"error,omitempty"`
}

// ConnectedMessage is sent to the client once the provider side is ready.
func ConnectedMessage() []byte {
	b, _ := json.Marshal(clientMessage{Type: "connected"})
	return b
}

// ErrorMessage wraps a fatal session error for delivery to the client.
func ErrorMessage(msg string) []byte {
	b, _ := json.Marshal(clientMessage{Error: msg})
	return b
}

// TerminateMessage is the session termination signal sent to the provider.
func TerminateMessage() []byte {
	b, _ := json.Marshal(clientMessage{Type: "Terminate"})
	return b
}
