package audio

import "errors"

// Capture failure kinds, surfaced once at session start and never retried.
var (
	// ErrPermissionDenied - the user denied microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrCaptureCancelled - the user cancelled the system-audio share prompt.
	ErrCaptureCancelled = errors.New("system audio capture cancelled")
	// ErrGraphInit - the audio processing graph could not be constructed.
	ErrGraphInit = errors.New("audio graph initialization failed")
)

// SampleReader provides float32 sample blocks from one capture stream.
// ReadSamples fills dst and returns the number of samples written; io.EOF
// signals the stream ended.
type SampleReader interface {
	ReadSamples(dst []float32) (int, error)
}

// Mixer sums a microphone stream and an optional system-audio stream into
// one mono bus at SampleRate. A nil system reader means the user shared no
// audio track; the mixer proceeds with microphone-only input.
type Mixer struct {
	mic    SampleReader
	system SampleReader

	sysBuf []float32
	sysEOF bool
}

// NewMixer creates a mixer over the two capture streams. mic must be
// non-nil; system may be nil.
func NewMixer(mic, system SampleReader) (*Mixer, error) {
	if mic == nil {
		return nil, ErrPermissionDenied
	}
	return &Mixer{mic: mic, system: system}, nil
}

// ReadSamples fills dst with mixed samples. The microphone stream drives the
// block size; system audio is summed in sample-by-sample and the result is
// clamped to [-1, 1]. Returns io.EOF once the microphone stream ends.
func (m *Mixer) ReadSamples(dst []float32) (int, error) {
	n, err := m.mic.ReadSamples(dst)
	if n == 0 && err != nil {
		return 0, err
	}

	if m.system != nil && !m.sysEOF {
		if cap(m.sysBuf) < n {
			m.sysBuf = make([]float32, n)
		}
		buf := m.sysBuf[:n]
		sn, serr := m.system.ReadSamples(buf)
		for i := 0; i < sn; i++ {
			v := dst[i] + buf[i]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			dst[i] = v
		}
		if serr != nil {
			// System track ending is not fatal; keep the mic path alive.
			m.sysEOF = true
		}
	}

	return n, err
}
