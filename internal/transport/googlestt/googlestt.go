// Package googlestt provides an alternate provider transport backed by
// Google Cloud Speech-to-Text streaming recognition. It adapts the gRPC
// result stream onto the same turn-event callback as the realtime transport.
package googlestt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"live-transcription-bridge/internal/protocol"
	"live-transcription-bridge/internal/transport"
)

// Config holds the recognition parameters.
type Config struct {
	SampleRateHz int
	LanguageCode string
	Model        string
}

// DefaultConfig matches the bridge's fixed audio contract.
func DefaultConfig() Config {
	return Config{
		SampleRateHz: 16000,
		LanguageCode: "en-US",
		Model:        "latest_long",
	}
}

// Transport implements transport.Transport using Google Cloud Speech.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
type Transport struct {
	cfg    Config
	client *speech.Client

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	closed bool
}

// New creates the client. The streaming session opens in Start.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &Transport{cfg: cfg, client: c}, nil
}

// Start opens the recognize stream, sends the streaming config, and begins
// the listen loop. Interim results are disabled; only finalized results are
// surfaced, as single-speaker diarized turns.
func (t *Transport) Start(ctx context.Context, cb transport.Callback) error {
	stream, err := t.client.StreamingRecognize(ctx)
	if err != nil {
		return fmt.Errorf("streaming recognize: %w", err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            int32(t.cfg.SampleRateHz),
					LanguageCode:               t.cfg.LanguageCode,
					Model:                      t.cfg.Model,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: false,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send streaming config: %w", err)
	}

	t.mu.Lock()
	t.stream = stream
	t.mu.Unlock()

	// Google has no begin confirmation; a successful config send is readiness.
	begin := &protocol.Event{Type: protocol.TypeBegin, ID: uuid.NewString()}
	begin.Raw, _ = json.Marshal(begin)
	cb.OnBegin(begin)

	go t.listen(stream, cb)
	return nil
}

// listen receives recognition responses and reshapes finalized results into
// turn events, preserving arrival order.
func (t *Transport) listen(stream speechpb.Speech_StreamingRecognizeClient, cb transport.Callback) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF || t.isClosed() || status.Code(err) == codes.Canceled {
				cb.OnClose()
			} else {
				cb.OnError(fmt.Errorf("speech recv: %w", err))
			}
			return
		}

		for _, r := range resp.Results {
			if !r.IsFinal || len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			ev := &protocol.Event{
				Type:         protocol.TypeTurn,
				Transcript:   alt.Transcript,
				EndOfTurn:    true,
				LanguageCode: r.LanguageCode,
			}
			for _, w := range alt.Words {
				ev.Words = append(ev.Words, protocol.Word{
					Text:       w.Word,
					Start:      w.StartTime.AsDuration().Seconds(),
					End:        w.EndTime.AsDuration().Seconds(),
					Confidence: float64(alt.Confidence),
				})
			}
			ev.Raw, _ = json.Marshal(ev)
			cb.OnEvent(ev)
		}
	}
}

// SendAudio forwards one PCM frame as audio content.
func (t *Transport) SendAudio(_ context.Context, pcm []byte) error {
	t.mu.Lock()
	stream := t.stream
	closed := t.closed
	t.mu.Unlock()
	if closed || stream == nil {
		return fmt.Errorf("googlestt transport not connected")
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: pcm,
		},
	})
}

// SendTermination half-closes the send side so Google flushes pending
// results before ending the stream.
func (t *Transport) SendTermination(_ context.Context) error {
	t.mu.Lock()
	stream := t.stream
	t.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.CloseSend()
}

// Close releases the client. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.client.Close()
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
