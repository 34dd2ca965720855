// Package models defines the event payloads published downstream.
package models

// EntryEvent is the finalized transcript entry published per end-of-turn.
type EntryEvent struct {
	EventType    string `json:"eventType"`
	SessionID    string `json:"sessionId"`
	EntryID      string `json:"entryId"`
	Speaker      string `json:"speaker"`
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// SessionEvent records a session lifecycle transition.
type SessionEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
	Frames    uint64 `json:"frames"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Event type tags for the published payloads.
const (
	EventTypeEntry          = "meeting.transcript.entry"
	EventTypeSessionStarted = "meeting.transcript.session.started"
	EventTypeSessionClosed  = "meeting.transcript.session.closed"
	EventTypeSessionFailed  = "meeting.transcript.session.failed"
)
