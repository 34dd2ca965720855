// Package bridge implements the per-client transcription proxy: one
// inbound client WebSocket, one outbound provider transport, audio frames
// relayed one way and turn events the other.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"live-transcription-bridge/internal/consumer"
	"live-transcription-bridge/internal/events"
	"live-transcription-bridge/internal/models"
	"live-transcription-bridge/internal/observability/logging"
	"live-transcription-bridge/internal/observability/metrics"
	"live-transcription-bridge/internal/protocol"
	"live-transcription-bridge/internal/session"
	"live-transcription-bridge/internal/transport"
)

// Config bounds bridge behavior.
type Config struct {
	// ConnectTimeout bounds the time from client connect to the provider's
	// begin confirmation. Sessions that do not reach streaming in time fail.
	ConnectTimeout time.Duration
}

// Bridge accepts client WebSocket connections and proxies each to its own
// provider transport. Sessions are fully independent; no state is shared
// across clients.
type Bridge struct {
	cfg          Config
	newTransport transport.Factory
	publisher    *events.Publisher
	metrics      *metrics.Metrics
	upgrader     websocket.Upgrader
}

// New creates a bridge. The factory is invoked once per client connection.
func New(cfg Config, factory transport.Factory, publisher *events.Publisher) *Bridge {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &Bridge{
		cfg:          cfg,
		newTransport: factory,
		publisher:    publisher,
		metrics:      metrics.DefaultMetrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// The browser client connects cross-origin from the app domain.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleStream upgrades the request and runs one session to completion.
func (b *Bridge) HandleStream(w http.ResponseWriter, r *http.Request) {
	clientConn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := logging.WithComponent("bridge")
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := session.New(uuid.NewString())
	log := logging.WithSession(sess.ID())

	b.metrics.RecordSessionStart()
	start := time.Now()

	s := &streamSession{
		bridge: b,
		sess:   sess,
		client: clientConn,
		log:    log,
	}
	s.run(r.Context())

	failReason := ""
	if err := sess.Err(); err != nil {
		failReason = "provider"
	}
	b.metrics.RecordSessionEnd(failReason, time.Since(start))
	log.Info().
		Str("state", sess.State().String()).
		Uint64("frames", sess.Frames()).
		Dur("duration", time.Since(start)).
		Msg("session ended")
}

// streamSession is the per-connection state: the session state machine, the
// two transport handles, and the write lock for the client socket. The pair
// of handles is owned exclusively by this session's goroutines and mutated
// only through the lifecycle transitions.
type streamSession struct {
	bridge *Bridge
	sess   *session.Session
	client *websocket.Conn
	log    zerolog.Logger

	provider transport.Transport
	reduce   *consumer.Consumer

	writeMu  sync.Mutex
	teardown sync.Once
}

func (s *streamSession) run(ctx context.Context) {
	if err := s.sess.Connect(); err != nil {
		s.fail(err)
		return
	}
	s.publishSession(models.EventTypeSessionStarted)

	provider, err := s.bridge.newTransport(ctx)
	if err != nil {
		s.fail(fmt.Errorf("create provider transport: %w", err))
		return
	}
	s.provider = provider

	// Server-side entry reduction feeds the downstream event stream; the
	// client keeps its own consumer for display.
	s.reduce = consumer.New(consumer.WithEntryFunc(s.publishEntry))

	if err := provider.Start(ctx, s); err != nil {
		s.fail(fmt.Errorf("provider connect: %w", err))
		return
	}

	// A session that never reaches streaming must still reach a terminal
	// state; the caller re-initiates explicitly, there is no retry here.
	connectTimer := time.AfterFunc(s.bridge.cfg.ConnectTimeout, func() {
		if s.sess.State() == session.StateConnecting {
			s.fail(fmt.Errorf("provider did not reach streaming within %s", s.bridge.cfg.ConnectTimeout))
		}
	})
	defer connectTimer.Stop()

	s.clientReadLoop(ctx)
}

// clientReadLoop forwards binary frames from the client to the provider.
// Frames arriving before readiness or after teardown begins are silently
// dropped; there is no queuing.
func (s *streamSession) clientReadLoop(ctx context.Context) {
	for {
		msgType, data, err := s.client.ReadMessage()
		if err != nil {
			// Client went away: terminate the provider side, best-effort.
			s.close()
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		if !s.sess.CanForward() {
			s.bridge.metrics.RecordFrameDropped(dropReason(s.sess.State()))
			continue
		}

		if err := s.provider.SendAudio(ctx, data); err != nil {
			// Teardown may close the provider between the gate check and the
			// send; a frame lost to that race is a drop, not a session failure.
			if !s.sess.CanForward() {
				s.bridge.metrics.RecordFrameDropped(dropReason(s.sess.State()))
				continue
			}
			s.fail(fmt.Errorf("forward audio: %w", err))
			return
		}
		s.sess.RecordFrame()
		s.bridge.metrics.RecordFrameForwarded(len(data))
	}
}

func dropReason(st session.State) string {
	if st == session.StateConnecting {
		return "pre_readiness"
	}
	return "teardown"
}

// --- transport.Callback implementation ---

// OnBegin marks the session streaming and notifies the client.
func (s *streamSession) OnBegin(ev *protocol.Event) {
	if err := s.sess.MarkStreaming(); err != nil {
		s.log.Warn().Err(err).Msg("begin confirmation in unexpected state")
		return
	}
	s.bridge.metrics.RecordTurnEvent(ev.Type)
	s.reduce.Consume(ev)

	s.writeClient(protocol.ConnectedMessage())
	s.writeClient(ev.Raw)
	s.log.Info().Str("providerSession", ev.ID).Msg("session streaming")
}

// OnEvent forwards a provider message to the client verbatim.
func (s *streamSession) OnEvent(ev *protocol.Event) {
	s.bridge.metrics.RecordTurnEvent(ev.Type)
	s.reduce.Consume(ev)
	s.writeClient(ev.Raw)
}

// OnError surfaces exactly one error to the client, then tears down. When
// the other half already failed the session this is a no-op, so the client
// never sees cascading reports.
func (s *streamSession) OnError(err error) {
	s.fail(err)
}

// OnClose handles the provider closing without error.
func (s *streamSession) OnClose() {
	s.close()
}

// fail records the first fatal error, sends the single client-visible error
// message, and tears down.
func (s *streamSession) fail(err error) {
	if s.sess.Fail(err) {
		s.bridge.metrics.ProviderErrors.Inc()
		s.log.Error().Err(err).Msg("session failed")
		s.writeClient(protocol.ErrorMessage(err.Error()))
	}
	s.close()
}

// close runs the teardown sequence exactly once. Every step is best-effort:
// a dead provider socket must not keep the client socket open, and vice
// versa.
func (s *streamSession) close() {
	s.teardown.Do(func() {
		if !s.sess.BeginTeardown() {
			return
		}

		// 1. stop accepting audio - implied by BeginTeardown (CanForward is
		//    now false).
		// 2. signal termination to the provider if still open.
		if s.provider != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.provider.SendTermination(ctx); err != nil {
				s.log.Debug().Err(err).Msg("termination signal failed")
			}
			cancel()
			// 3. close provider transport.
			if err := s.provider.Close(); err != nil {
				s.log.Debug().Err(err).Msg("provider close failed")
			}
		}
		// 4. close client transport.
		if err := s.client.Close(); err != nil {
			s.log.Debug().Err(err).Msg("client close failed")
		}
		// 5. capture resources live client-side; on the bridge the last step
		//    is flushing the lifecycle event downstream.
		s.sess.FinishTeardown()

		if s.sess.Err() != nil {
			s.publishSession(models.EventTypeSessionFailed)
		} else {
			s.publishSession(models.EventTypeSessionClosed)
		}
	})
}

// writeClient serializes writes to the client socket; gorilla connections
// allow only one concurrent writer.
func (s *streamSession) writeClient(payload []byte) {
	if len(payload) == 0 {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.client.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.log.Debug().Err(err).Msg("client write failed")
	}
}

func (s *streamSession) publishEntry(e consumer.Entry) {
	s.bridge.metrics.EntriesProduced.Inc()
	ev := models.EntryEvent{
		EventType: models.EventTypeEntry,
		SessionID: s.sess.ID(),
		EntryID:   e.ID,
		Speaker:   e.Speaker,
		Text:      e.Text,
		Timestamp: e.Timestamp.UnixMilli(),
	}
	if err := s.bridge.publisher.PublishEntry(context.Background(), s.sess.ID(), ev); err != nil {
		s.log.Warn().Err(err).Msg("entry publish failed")
	}
}

func (s *streamSession) publishSession(eventType string) {
	ev := models.SessionEvent{
		EventType: eventType,
		SessionID: s.sess.ID(),
		State:     s.sess.State().String(),
		Frames:    s.sess.Frames(),
		Timestamp: time.Now().UnixMilli(),
	}
	if err := s.sess.Err(); err != nil {
		ev.Error = err.Error()
	}
	if err := s.bridge.publisher.PublishSession(context.Background(), s.sess.ID(), ev); err != nil {
		s.log.Warn().Err(err).Msg("session publish failed")
	}
}
