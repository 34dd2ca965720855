// Package mock provides a provider transport for local development and
// tests without provider credentials. It simulates realistic recognition
// behavior: a begin confirmation, finalized turns after enough audio, and a
// termination summary on shutdown.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"live-transcription-bridge/internal/protocol"
	"live-transcription-bridge/internal/transport"
)

// SimulatedTurn is one scripted finalized utterance.
type SimulatedTurn struct {
	Transcript   string
	LanguageCode string
}

// DefaultTurns provides sample utterances for simulation.
var DefaultTurns = []SimulatedTurn{
	{Transcript: "Good morning everyone, let's get started.", LanguageCode: "en"},
	{Transcript: "Can you share the latest numbers?", LanguageCode: "en"},
	{Transcript: "We shipped the release on Tuesday.", LanguageCode: "en"},
	{Transcript: "Let's follow up after the meeting.", LanguageCode: "en"},
}

// FramesPerTurn is how many audio frames trigger the next simulated turn.
const FramesPerTurn = 25

// Transport implements transport.Transport with scripted responses. All
// callbacks run on a single dispatch goroutine, so the client observes
// begin, turns, termination, and close in exactly the order they were
// produced.
type Transport struct {
	turns []SimulatedTurn

	mu       sync.Mutex
	cb       transport.Callback
	queue    chan func()
	frames   int
	turnIdx  int
	closed   bool
	started  time.Time
	audioLen int
}

// New creates a mock transport cycling through the default turns.
func New() *Transport {
	return &Transport{turns: DefaultTurns}
}

// NewScripted creates a mock transport with a fixed script.
func NewScripted(turns []SimulatedTurn) *Transport {
	return &Transport{turns: turns}
}

// Start confirms the session after a short delay, like a real provider would.
func (t *Transport) Start(ctx context.Context, cb transport.Callback) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("mock transport closed")
	}
	t.cb = cb
	t.started = time.Now()
	t.queue = make(chan func(), 64)
	queue := t.queue
	t.mu.Unlock()

	go func() {
		for fn := range queue {
			fn()
		}
	}()

	t.enqueue(func() {
		time.Sleep(10 * time.Millisecond)
		if !t.isClosed() {
			cb.OnBegin(t.event(&protocol.Event{Type: protocol.TypeBegin, ID: uuid.NewString()}))
		}
	})
	return nil
}

// SendAudio counts frames and emits the next scripted turn once enough audio
// arrived, mimicking silence-based end-of-utterance detection.
func (t *Transport) SendAudio(_ context.Context, pcm []byte) error {
	t.mu.Lock()
	if t.closed || t.cb == nil {
		t.mu.Unlock()
		return nil
	}

	t.frames++
	t.audioLen += len(pcm)
	if t.frames%FramesPerTurn != 0 || t.turnIdx >= len(t.turns) {
		t.mu.Unlock()
		return nil
	}

	turn := t.turns[t.turnIdx]
	t.turnIdx++
	cb := t.cb
	t.mu.Unlock()

	t.enqueue(func() {
		cb.OnEvent(t.event(&protocol.Event{
			Type:         protocol.TypeTurn,
			Transcript:   turn.Transcript,
			EndOfTurn:    true,
			LanguageCode: turn.LanguageCode,
		}))
	})
	return nil
}

// SendTermination emits the termination summary.
func (t *Transport) SendTermination(_ context.Context) error {
	t.mu.Lock()
	cb := t.cb
	closed := t.closed
	seconds := time.Since(t.started).Seconds()
	t.mu.Unlock()

	if closed || cb == nil {
		return nil
	}
	t.enqueue(func() {
		cb.OnEvent(t.event(&protocol.Event{
			Type:         protocol.TypeTermination,
			AudioSeconds: seconds,
		}))
	})
	return nil
}

// Close ends the simulated session: OnClose is delivered after every event
// already queued, then the dispatcher stops. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cb := t.cb
	queue := t.queue
	t.mu.Unlock()

	if queue != nil {
		if cb != nil {
			queue <- func() { cb.OnClose() }
		}
		close(queue)
	}
	return nil
}

// enqueue hands a callback to the dispatch goroutine. After Close the queue
// no longer accepts work; late events are absorbed.
func (t *Transport) enqueue(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.queue == nil {
		return
	}
	t.queue <- fn
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// event fills Raw so the bridge can forward mock events verbatim like real
// provider frames.
func (t *Transport) event(ev *protocol.Event) *protocol.Event {
	raw, _ := json.Marshal(ev)
	ev.Raw = raw
	return ev
}
