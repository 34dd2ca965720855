// Package realtime implements the default provider transport: a WebSocket
// connection streaming PCM one way and turn events the other.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"live-transcription-bridge/internal/protocol"
	"live-transcription-bridge/internal/transport"
)

// Config holds the provider connection parameters. They are passed as query
// parameters at handshake time and fixed for the session.
type Config struct {
	URL    string
	APIKey string

	SampleRateHz       int
	Encoding           string // pcm_s16le
	SpeechModel        string
	LanguageDetection  bool
	FormatTurns        bool
	FillerWordRemoval  bool
	EndOfTurnSilenceMs int
	DialTimeout        time.Duration
}

// DefaultConfig returns the documented parameter set for the bridge:
// 16kHz s16le PCM, multilingual model, formatted turns, no interim results.
func DefaultConfig() Config {
	return Config{
		SampleRateHz:       16000,
		Encoding:           "pcm_s16le",
		SpeechModel:        "universal-streaming-multilingual",
		LanguageDetection:  true,
		FormatTurns:        true,
		FillerWordRemoval:  true,
		EndOfTurnSilenceMs: 700,
		DialTimeout:        15 * time.Second,
	}
}

// Transport implements transport.Transport over a provider WebSocket.
type Transport struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	started bool
}

// New creates an unconnected realtime transport.
func New(cfg Config, log zerolog.Logger) *Transport {
	return &Transport{cfg: cfg, log: log.With().Str("transport", "realtime").Logger()}
}

// Start dials the provider and launches the read loop. Interim results are
// always requested off; turn segmentation is governed by the provider's
// end-of-utterance silence threshold.
func (t *Transport) Start(ctx context.Context, cb transport.Callback) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("realtime transport already started")
	}
	t.started = true
	t.mu.Unlock()

	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse provider url: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(t.cfg.SampleRateHz))
	q.Set("encoding", t.cfg.Encoding)
	q.Set("speech_model", t.cfg.SpeechModel)
	q.Set("language_detection", strconv.FormatBool(t.cfg.LanguageDetection))
	q.Set("format_turns", strconv.FormatBool(t.cfg.FormatTurns))
	q.Set("filter_profanity", "false")
	q.Set("disfluencies", strconv.FormatBool(!t.cfg.FillerWordRemoval))
	q.Set("end_of_turn_silence_ms", strconv.Itoa(t.cfg.EndOfTurnSilenceMs))
	q.Set("interim_results", "false")
	u.RawQuery = q.Encode()

	header := http.Header{}
	if t.cfg.APIKey != "" {
		header.Set("Authorization", t.cfg.APIKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("provider handshake rejected (%d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("provider dial: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return fmt.Errorf("realtime transport closed during dial")
	}
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn, cb)
	return nil
}

// readLoop delivers provider messages to the callback in arrival order.
// Malformed frames are logged and dropped; they never end the session.
func (t *Transport) readLoop(conn *websocket.Conn, cb transport.Callback) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if t.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cb.OnClose()
			} else {
				cb.OnError(fmt.Errorf("provider read: %w", err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		ev, err := protocol.Parse(data)
		if err != nil {
			t.log.Warn().Err(err).Msg("dropping malformed provider message")
			continue
		}

		if ev.Error != "" {
			cb.OnError(fmt.Errorf("provider error: %s", ev.Error))
			return
		}

		switch ev.Type {
		case protocol.TypeBegin:
			cb.OnBegin(ev)
		default:
			cb.OnEvent(ev)
		}
	}
}

// SendAudio forwards one binary PCM frame verbatim.
func (t *Transport) SendAudio(_ context.Context, pcm []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.conn == nil {
		return fmt.Errorf("realtime transport not connected")
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// SendTermination signals session termination. Best-effort: errors from a
// dead socket are returned but the caller proceeds with teardown regardless.
func (t *Transport) SendTermination(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.conn == nil {
		return nil
	}
	return t.conn.WriteMessage(websocket.TextMessage, protocol.TerminateMessage())
}

// Close tears down the socket. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
