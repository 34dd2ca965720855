// Package batch implements the non-streaming fallback transport for
// environments without realtime support: audio is accumulated, periodically
// uploaded as a complete WAV file, submitted for asynchronous transcription,
// and polled for completion. Latency is several seconds and there is no
// provider-side turn segmentation; each completed upload yields one
// finalized turn.
package batch

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"live-transcription-bridge/internal/protocol"
	"live-transcription-bridge/internal/transport"
)

// Config holds the batch provider endpoints and cadence.
type Config struct {
	UploadURL     string
	APIKey        string
	SampleRateHz  int
	FlushInterval time.Duration
	PollInterval  time.Duration
	PollTimeout   time.Duration
}

// DefaultConfig returns the default batch cadence.
func DefaultConfig() Config {
	return Config{
		SampleRateHz:  16000,
		FlushInterval: 15 * time.Second,
		PollInterval:  2 * time.Second,
		PollTimeout:   2 * time.Minute,
	}
}

type submitResponse struct {
	ID string `json:"id"`
}

type pollResponse struct {
	Status string `json:"status"` // queued | processing | completed | error
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// Transport implements transport.Transport over upload-and-poll HTTP.
type Transport struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger

	mu     sync.Mutex
	cb     transport.Callback
	buf    bytes.Buffer
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a batch transport.
func New(cfg Config, log zerolog.Logger) *Transport {
	return &Transport{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
		log:    log.With().Str("transport", "batch").Logger(),
	}
}

// Start confirms the session immediately (there is no handshake to wait on)
// and begins the periodic flush loop.
func (t *Transport) Start(ctx context.Context, cb transport.Callback) error {
	loopCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		return fmt.Errorf("batch transport closed")
	}
	t.cb = cb
	t.cancel = cancel
	t.mu.Unlock()

	ev := &protocol.Event{Type: protocol.TypeBegin, ID: uuid.NewString()}
	ev.Raw, _ = json.Marshal(ev)
	cb.OnBegin(ev)

	t.wg.Add(1)
	go t.flushLoop(loopCtx)
	return nil
}

// SendAudio accumulates PCM until the next flush.
func (t *Transport) SendAudio(_ context.Context, pcm []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("batch transport closed")
	}
	t.buf.Write(pcm)
	return nil
}

// SendTermination flushes whatever audio remains. The flush runs under its
// own deadline sized for the upload-and-poll round trip; the caller's
// teardown budget is far shorter than a batch job, and honoring it would
// drop the final chunk of every short session.
func (t *Transport) SendTermination(_ context.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.PollTimeout)
	defer cancel()
	t.flush(ctx)
	return nil
}

// Close stops the flush loop. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	cb := t.cb
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	if cb != nil {
		cb.OnClose()
	}
	return nil
}

func (t *Transport) flushLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.flush(ctx)
		}
	}
}

// flush takes the accumulated audio, uploads it, and polls for the result.
// An empty buffer is a no-op. Upload or poll failures drop the chunk; the
// session keeps running on the next interval.
func (t *Transport) flush(ctx context.Context) {
	t.mu.Lock()
	if t.buf.Len() == 0 {
		t.mu.Unlock()
		return
	}
	pcm := make([]byte, t.buf.Len())
	copy(pcm, t.buf.Bytes())
	t.buf.Reset()
	cb := t.cb
	t.mu.Unlock()

	text, err := t.transcribe(ctx, pcm)
	if err != nil {
		t.log.Warn().Err(err).Int("bytes", len(pcm)).Msg("batch chunk dropped")
		return
	}
	if text == "" || cb == nil {
		return
	}

	ev := &protocol.Event{
		Type:       protocol.TypeTurn,
		Transcript: text,
		EndOfTurn:  true,
	}
	ev.Raw, _ = json.Marshal(ev)
	cb.OnEvent(ev)
}

func (t *Transport) transcribe(ctx context.Context, pcm []byte) (string, error) {
	id, err := t.submit(ctx, pcm)
	if err != nil {
		return "", err
	}
	return t.poll(ctx, id)
}

// submit uploads the chunk as a complete WAV file and returns the job id.
func (t *Transport) submit(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(wavHeader(t.cfg.SampleRateHz, len(pcm))); err != nil {
		return "", err
	}
	if _, err := fw.Write(pcm); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.UploadURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("batch submit http %d: %s", resp.StatusCode, b)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", err
	}
	if sr.ID == "" {
		return "", fmt.Errorf("batch submit returned no job id")
	}
	return sr.ID, nil
}

// poll waits for the job to complete, bounded by PollTimeout.
func (t *Transport) poll(ctx context.Context, id string) (string, error) {
	deadline := time.Now().Add(t.cfg.PollTimeout)

	for {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("batch poll timeout for job %s", id)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.UploadURL+"/"+id, nil)
		if err != nil {
			return "", err
		}
		if t.cfg.APIKey != "" {
			req.Header.Set("Authorization", t.cfg.APIKey)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return "", err
		}
		var pr pollResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&pr)
		resp.Body.Close()
		if decodeErr != nil {
			return "", decodeErr
		}

		switch pr.Status {
		case "completed":
			return pr.Text, nil
		case "error":
			return "", fmt.Errorf("batch job %s failed: %s", id, pr.Error)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.cfg.PollInterval):
		}
	}
}

// wavHeader builds a 44-byte PCM WAV header for mono 16-bit audio.
func wavHeader(sampleRate, dataLen int) []byte {
	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], 1) // mono
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(h[32:34], 2)
	binary.LittleEndian.PutUint16(h[34:36], 16)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}
