package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"live-transcription-bridge/internal/events"
	"live-transcription-bridge/internal/protocol"
	"live-transcription-bridge/internal/transport"
	"live-transcription-bridge/internal/transport/realtime"
)

// fakeProvider is a provider-side WebSocket endpoint under test control.
type fakeProvider struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	connCh   chan *websocket.Conn

	mu     sync.Mutex
	binary [][]byte
	texts  []string
	closed bool
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{connCh: make(chan *websocket.Conn, 1)}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := p.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("provider upgrade: %v", err)
			return
		}
		p.connCh <- conn
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				p.mu.Lock()
				p.closed = true
				p.mu.Unlock()
				return
			}
			p.mu.Lock()
			switch msgType {
			case websocket.BinaryMessage:
				p.binary = append(p.binary, append([]byte(nil), data...))
			case websocket.TextMessage:
				p.texts = append(p.texts, string(data))
			}
			p.mu.Unlock()
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *fakeProvider) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-p.connCh:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("provider connection never arrived")
		return nil
	}
}

func (p *fakeProvider) binaryFrames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.binary))
	copy(out, p.binary)
	return out
}

func (p *fakeProvider) textMessages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

func (p *fakeProvider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// newTestBridge wires a bridge to the fake provider through the realtime
// transport, exactly as deployed.
func newTestBridge(t *testing.T, provider *fakeProvider, connectTimeout time.Duration) *httptest.Server {
	t.Helper()
	cfg := realtime.DefaultConfig()
	cfg.URL = provider.url()
	cfg.DialTimeout = 2 * time.Second

	factory := func(ctx context.Context) (transport.Transport, error) {
		return realtime.New(cfg, zerolog.Nop()), nil
	}
	b := New(Config{ConnectTimeout: connectTimeout}, factory, events.New(&events.Config{Enabled: false}))

	srv := httptest.NewServer(http.HandlerFunc(b.HandleStream))
	t.Cleanup(srv.Close)
	return srv
}

func dialClient(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) (map[string]any, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m, true
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBridge_DropsFramesBeforeReadiness_ThenPassesThrough(t *testing.T) {
	provider := newFakeProvider(t)
	srv := newTestBridge(t, provider, 5*time.Second)
	client := dialClient(t, srv)

	providerConn := provider.waitConn(t)

	// Scenario A: 10 frames of 640 bytes before the Begin confirmation.
	pre := bytes.Repeat([]byte{0x42}, 640)
	for i := 0; i < 10; i++ {
		require.NoError(t, client.WriteMessage(websocket.BinaryMessage, pre))
	}
	// Give the read loop time to drain them; none may reach the provider.
	time.Sleep(100 * time.Millisecond)
	require.Empty(t, provider.binaryFrames(), "frames sent pre-readiness must be dropped")

	// Provider confirms the session.
	require.NoError(t, providerConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"Begin","id":"prov-1"}`)))

	msg, ok := readText(t, client)
	require.True(t, ok)
	require.Equal(t, "connected", msg["type"])
	msg, ok = readText(t, client)
	require.True(t, ok)
	require.Equal(t, "Begin", msg["type"])

	// P5: post-readiness frames arrive byte-for-byte identical, in order.
	var want [][]byte
	for i := 0; i < 5; i++ {
		frame := bytes.Repeat([]byte{byte(i + 1)}, 640)
		want = append(want, frame)
		require.NoError(t, client.WriteMessage(websocket.BinaryMessage, frame))
	}
	waitFor(t, "forwarded frames", func() bool { return len(provider.binaryFrames()) == 5 })
	got := provider.binaryFrames()
	for i := range want {
		require.True(t, bytes.Equal(want[i], got[i]), "frame %d corrupted or reordered", i)
	}

	// Finalized turn is forwarded verbatim.
	turn := `{"type":"Turn","transcript":"hello world","end_of_turn":true}`
	require.NoError(t, providerConn.WriteMessage(websocket.TextMessage, []byte(turn)))

	msg, ok = readText(t, client)
	require.True(t, ok)
	require.Equal(t, "Turn", msg["type"])
	require.Equal(t, "hello world", msg["transcript"])
}

func TestBridge_SingleErrorSurfacing(t *testing.T) {
	provider := newFakeProvider(t)
	srv := newTestBridge(t, provider, 5*time.Second)
	client := dialClient(t, srv)

	providerConn := provider.waitConn(t)
	require.NoError(t, providerConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Begin"}`)))

	// connected + Begin
	_, ok := readText(t, client)
	require.True(t, ok)
	_, ok = readText(t, client)
	require.True(t, ok)

	// Provider reports a fatal error while streaming.
	require.NoError(t, providerConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"error":"quota exceeded"}`)))
	providerConn.Close()

	// P6: exactly one error-typed message, then the connection closes.
	errCount := 0
	for {
		msg, ok := readText(t, client)
		if !ok {
			break
		}
		if _, isErr := msg["error"]; isErr {
			errCount++
		}
	}
	require.Equal(t, 1, errCount, "client must see exactly one error message")
}

func TestBridge_ClientCloseTerminatesProvider(t *testing.T) {
	provider := newFakeProvider(t)
	srv := newTestBridge(t, provider, 5*time.Second)
	client := dialClient(t, srv)

	providerConn := provider.waitConn(t)
	require.NoError(t, providerConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Begin"}`)))
	_, ok := readText(t, client)
	require.True(t, ok)

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, make([]byte, 640)))
	waitFor(t, "first frame", func() bool { return len(provider.binaryFrames()) == 1 })

	// Scenario C: client goes away mid-stream.
	client.Close()

	waitFor(t, "termination signal", func() bool {
		for _, txt := range provider.textMessages() {
			if strings.Contains(txt, "Terminate") {
				return true
			}
		}
		return false
	})
	waitFor(t, "provider close", provider.isClosed)

	frames := len(provider.binaryFrames())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, frames, len(provider.binaryFrames()), "no frames may be forwarded after teardown")
}

// stallingTransport confirms the session synchronously, then parks the first
// SendAudio until Close releases it with an error, pinning a frame inside the
// send while teardown runs.
type stallingTransport struct {
	mu sync.Mutex
	cb transport.Callback

	entered     chan struct{}
	release     chan struct{}
	enterOnce   sync.Once
	releaseOnce sync.Once
}

func newStallingTransport() *stallingTransport {
	return &stallingTransport{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *stallingTransport) Start(_ context.Context, cb transport.Callback) error {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
	ev := &protocol.Event{Type: protocol.TypeBegin, ID: "stub-session"}
	ev.Raw, _ = json.Marshal(ev)
	cb.OnBegin(ev)
	return nil
}

func (s *stallingTransport) SendAudio(context.Context, []byte) error {
	s.enterOnce.Do(func() { close(s.entered) })
	<-s.release
	return fmt.Errorf("provider connection closed")
}

func (s *stallingTransport) SendTermination(context.Context) error { return nil }

func (s *stallingTransport) Close() error {
	s.releaseOnce.Do(func() { close(s.release) })
	return nil
}

func (s *stallingTransport) callback() transport.Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb
}

func TestBridge_SendRacingTeardownIsDropNotError(t *testing.T) {
	st := newStallingTransport()
	factory := func(ctx context.Context) (transport.Transport, error) { return st, nil }
	b := New(Config{ConnectTimeout: 5 * time.Second}, factory, events.New(&events.Config{Enabled: false}))

	srv := httptest.NewServer(http.HandlerFunc(b.HandleStream))
	t.Cleanup(srv.Close)
	client := dialClient(t, srv)

	// connected + Begin
	_, ok := readText(t, client)
	require.True(t, ok)
	_, ok = readText(t, client)
	require.True(t, ok)

	// A frame passes the forwarding gate and blocks inside the provider send.
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, make([]byte, 640)))
	<-st.entered

	// Clean provider close starts teardown, which closes the transport and
	// releases the parked send with an error.
	st.callback().OnClose()

	// The failed send must not surface an error for a cleanly closed session.
	errCount := 0
	for {
		msg, ok := readText(t, client)
		if !ok {
			break
		}
		if _, isErr := msg["error"]; isErr {
			errCount++
		}
	}
	require.Zero(t, errCount, "racing send must be a silent drop")
}

func TestBridge_ConnectTimeoutFailsSession(t *testing.T) {
	provider := newFakeProvider(t)
	// Provider accepts the socket but never sends Begin.
	srv := newTestBridge(t, provider, 150*time.Millisecond)
	client := dialClient(t, srv)
	provider.waitConn(t)

	errCount := 0
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msg, ok := readText(t, client)
		if !ok {
			break
		}
		if _, isErr := msg["error"]; isErr {
			errCount++
		}
	}
	require.Equal(t, 1, errCount, "timeout must surface exactly one error")
}

func TestBridge_ProviderAbruptCloseWhileConnecting(t *testing.T) {
	provider := newFakeProvider(t)
	srv := newTestBridge(t, provider, 5*time.Second)
	client := dialClient(t, srv)

	providerConn := provider.waitConn(t)
	providerConn.Close()

	// The session must reach a terminal state and close the client socket;
	// the client sees at most one error message and then EOF.
	errCount := 0
	for {
		msg, ok := readText(t, client)
		if !ok {
			break
		}
		if _, isErr := msg["error"]; isErr {
			errCount++
		}
	}
	require.LessOrEqual(t, errCount, 1)
}
