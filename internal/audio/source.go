package audio

import (
	"context"
	"io"
	"sync"
)

// Block sizes for the two processing strategies. Both produce byte-identical
// PCM framing downstream; only latency differs.
const (
	// StreamBlockSize is 20ms at 16kHz - the low-latency worklet-style path.
	StreamBlockSize = 320
	// BufferedBlockSize is 256ms at 16kHz - the fallback buffered-callback path.
	BufferedBlockSize = 4096
)

// EmitFunc receives one encoded PCM frame. Ownership of the slice passes to
// the callee; the source never reuses it.
type EmitFunc func(frame []byte)

// FrameSource reads mixed samples in fixed-size blocks and emits encoded
// frames until the input ends, the context is cancelled, or Close is called.
type FrameSource interface {
	// Run blocks, emitting frames in production order. It returns nil when
	// the input stream ends and the context error on cancellation.
	Run(ctx context.Context, emit EmitFunc) error

	// Close releases the source. Safe to call multiple times and
	// concurrently with Run.
	Close() error
}

// Capabilities describes what the capture environment supports.
type Capabilities struct {
	// LowLatency is true when the worklet-style small-block path is available.
	LowLatency bool
}

// NewFrameSource selects the processing strategy for the environment:
// the low-latency streaming source when available, the buffered fallback
// otherwise.
func NewFrameSource(reader SampleReader, caps Capabilities) FrameSource {
	if caps.LowLatency {
		return newBlockSource(reader, StreamBlockSize)
	}
	return newBlockSource(reader, BufferedBlockSize)
}

// blockSource implements both strategies; they differ only in block size.
type blockSource struct {
	reader    SampleReader
	blockSize int

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

func newBlockSource(reader SampleReader, blockSize int) *blockSource {
	return &blockSource{reader: reader, blockSize: blockSize}
}

func (s *blockSource) Run(ctx context.Context, emit EmitFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	block := make([]float32, s.blockSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := s.reader.ReadSamples(block)
		if n > 0 {
			emit(Encode(block[:n]))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *blockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
