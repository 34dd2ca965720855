package audio

import (
	"context"
	"io"
	"sync"
)

// CaptureTrack is one live capture stream plus the OS resource behind it.
// Closing the track releases the underlying device.
type CaptureTrack interface {
	SampleReader
	io.Closer
}

// Producer owns the capture resources for one session: the microphone
// track, the optional system-audio track, and the frame source mixing them.
// All three are released exactly once, on every exit path.
type Producer struct {
	mic    CaptureTrack
	system CaptureTrack
	source FrameSource

	closeOnce sync.Once
	closeErr  error
}

// NewProducer assembles the capture pipeline. mic is required; system may be
// nil when the user declined to share audio. Construction failures release
// nothing because nothing was acquired here - the caller owns the tracks
// until NewProducer returns successfully.
func NewProducer(mic, system CaptureTrack, caps Capabilities) (*Producer, error) {
	var sys SampleReader
	if system != nil {
		sys = system
	}
	mixer, err := NewMixer(mic, sys)
	if err != nil {
		return nil, err
	}
	return &Producer{
		mic:    mic,
		system: system,
		source: NewFrameSource(mixer, caps),
	}, nil
}

// Run produces encoded frames until the input ends or ctx is cancelled,
// then releases all held resources regardless of how it exited.
func (p *Producer) Run(ctx context.Context, emit EmitFunc) error {
	defer p.Close()
	return p.source.Run(ctx, emit)
}

// Close releases the frame source and both capture tracks. Idempotent;
// each release step is best-effort and the first error is reported.
func (p *Producer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.source.Close()
		if err := p.mic.Close(); err != nil && p.closeErr == nil {
			p.closeErr = err
		}
		if p.system != nil {
			if err := p.system.Close(); err != nil && p.closeErr == nil {
				p.closeErr = err
			}
		}
	})
	return p.closeErr
}
