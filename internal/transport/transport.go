// Package transport defines the interface for speech-recognition provider
// transports. Exactly one implementation is active per deployment, selected
// by configuration.
package transport

import (
	"context"

	"live-transcription-bridge/internal/protocol"
)

// Callback receives provider events for one session. Implementations are
// invoked from the transport's read loop, one event at a time, in the order
// the provider delivered them.
type Callback interface {
	// OnBegin is called when the provider confirms the session started.
	OnBegin(ev *protocol.Event)

	// OnEvent is called for every other provider message, including types
	// the transport does not recognize (forwarded as no-ops downstream).
	OnEvent(ev *protocol.Event)

	// OnError is called once when the transport fails fatally.
	OnError(err error)

	// OnClose is called when the provider connection closed without a
	// prior fatal error.
	OnClose()
}

// Transport is a single-session connection to a recognition provider.
type Transport interface {
	// Start opens the provider connection and begins delivering events to cb.
	Start(ctx context.Context, cb Callback) error

	// SendAudio forwards one PCM frame. Fire-and-forget; no per-frame ack.
	SendAudio(ctx context.Context, pcm []byte) error

	// SendTermination signals end of session to the provider. Best-effort.
	SendTermination(ctx context.Context) error

	// Close tears down the connection and releases resources. Idempotent.
	Close() error
}

// Factory creates one transport per client connection.
type Factory func(ctx context.Context) (Transport, error)
