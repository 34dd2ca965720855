package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
)

// sliceReader serves a fixed sample sequence in ReadSamples-sized blocks.
type sliceReader struct {
	samples []float32
	pos     int
}

func (r *sliceReader) ReadSamples(dst []float32) (int, error) {
	if r.pos >= len(r.samples) {
		return 0, io.EOF
	}
	n := copy(dst, r.samples[r.pos:])
	r.pos += n
	if r.pos >= len(r.samples) {
		return n, io.EOF
	}
	return n, nil
}

// trackStub wraps sliceReader with close tracking for producer tests.
type trackStub struct {
	sliceReader
	mu     sync.Mutex
	closed int
}

func (t *trackStub) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *trackStub) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%100) / 200
	}
	return out
}

func collectFrames(t *testing.T, src FrameSource) [][]byte {
	t.Helper()
	var frames [][]byte
	if err := src.Run(context.Background(), func(f []byte) {
		frames = append(frames, f)
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return frames
}

func TestMixer_MicOnlyWhenSystemAbsent(t *testing.T) {
	mic := &sliceReader{samples: []float32{0.1, 0.2, 0.3}}
	m, err := NewMixer(mic, nil)
	if err != nil {
		t.Fatalf("NewMixer: %v", err)
	}

	dst := make([]float32, 8)
	n, _ := m.ReadSamples(dst)
	if n != 3 {
		t.Fatalf("expected 3 samples, got %d", n)
	}
	if dst[0] != 0.1 || dst[1] != 0.2 || dst[2] != 0.3 {
		t.Errorf("mic-only mix altered samples: %v", dst[:3])
	}
}

func TestMixer_SumsAndClamps(t *testing.T) {
	mic := &sliceReader{samples: []float32{0.5, 0.9, -0.9}}
	sys := &sliceReader{samples: []float32{0.25, 0.9, -0.9}}

	m, err := NewMixer(mic, sys)
	if err != nil {
		t.Fatalf("NewMixer: %v", err)
	}

	dst := make([]float32, 3)
	if _, err := m.ReadSamples(dst); err != nil && err != io.EOF {
		t.Fatalf("ReadSamples: %v", err)
	}
	if dst[0] != 0.75 {
		t.Errorf("expected 0.75, got %v", dst[0])
	}
	if dst[1] != 1 {
		t.Errorf("expected clamp to 1, got %v", dst[1])
	}
	if dst[2] != -1 {
		t.Errorf("expected clamp to -1, got %v", dst[2])
	}
}

func TestMixer_SystemTrackEndingIsNotFatal(t *testing.T) {
	mic := &sliceReader{samples: ramp(100)}
	sys := &sliceReader{samples: []float32{0.1}} // ends almost immediately

	m, err := NewMixer(mic, sys)
	if err != nil {
		t.Fatalf("NewMixer: %v", err)
	}

	total := 0
	dst := make([]float32, 32)
	for {
		n, err := m.ReadSamples(dst)
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadSamples: %v", err)
		}
	}
	if total != 100 {
		t.Errorf("expected all 100 mic samples, got %d", total)
	}
}

func TestMixer_NilMicIsPermissionError(t *testing.T) {
	if _, err := NewMixer(nil, nil); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestFrameSource_BothStrategiesProduceIdenticalPCM(t *testing.T) {
	samples := ramp(BufferedBlockSize + StreamBlockSize/2)

	stream := NewFrameSource(&sliceReader{samples: samples}, Capabilities{LowLatency: true})
	buffered := NewFrameSource(&sliceReader{samples: samples}, Capabilities{LowLatency: false})

	join := func(frames [][]byte) []byte {
		var b bytes.Buffer
		for _, f := range frames {
			b.Write(f)
		}
		return b.Bytes()
	}

	streamBytes := join(collectFrames(t, stream))
	bufferedBytes := join(collectFrames(t, buffered))

	if !bytes.Equal(streamBytes, bufferedBytes) {
		t.Error("stream and buffered strategies produced different PCM byte streams")
	}
	if len(streamBytes) != len(samples)*2 {
		t.Errorf("expected %d bytes, got %d", len(samples)*2, len(streamBytes))
	}
}

func TestFrameSource_BlockSizes(t *testing.T) {
	samples := ramp(StreamBlockSize * 3)

	frames := collectFrames(t, NewFrameSource(&sliceReader{samples: samples}, Capabilities{LowLatency: true}))
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if len(f) != StreamBlockSize*2 {
			t.Errorf("frame %d: %d bytes, want %d", i, len(f), StreamBlockSize*2)
		}
	}
}

func TestFrameSource_CloseStopsRun(t *testing.T) {
	src := newBlockSource(&sliceReader{samples: ramp(1 << 20)}, StreamBlockSize)

	done := make(chan error, 1)
	go func() {
		done <- src.Run(context.Background(), func(f []byte) {})
	}()

	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected Run error: %v", err)
	}
	// Close again is a no-op.
	if err := src.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestProducer_ReleasesEverythingOnce(t *testing.T) {
	mic := &trackStub{sliceReader: sliceReader{samples: ramp(StreamBlockSize)}}
	sys := &trackStub{sliceReader: sliceReader{samples: ramp(StreamBlockSize)}}

	p, err := NewProducer(mic, sys, Capabilities{LowLatency: true})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}

	if err := p.Run(context.Background(), func(f []byte) {}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Explicit stop after natural end: still one release per resource.
	_ = p.Close()
	_ = p.Close()

	if mic.closeCount() != 1 {
		t.Errorf("mic closed %d times, want 1", mic.closeCount())
	}
	if sys.closeCount() != 1 {
		t.Errorf("system track closed %d times, want 1", sys.closeCount())
	}
}
