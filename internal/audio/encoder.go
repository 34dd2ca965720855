// Package audio handles capture-side audio mixing, frame production, and
// PCM encoding. It converts float32 sample blocks from two capture streams
// into the signed 16-bit little-endian mono frames the bridge forwards.
package audio

import (
	"encoding/binary"
	"math"
)

// SampleRate is the fixed sample rate of the mixed capture bus.
const SampleRate = 16000

// BytesPerSample is the size of one encoded PCM sample.
const BytesPerSample = 2

const maxInt16 = 32767

// Encode converts float32 samples in [-1, 1] to signed 16-bit little-endian
// PCM. Out-of-range samples are clamped before scaling; scaled values round
// to the nearest integer, keeping the quantization error within half a step.
// Output length is always 2x the input length.
func Encode(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * maxInt16))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Decode is the inverse of Encode, used for round-trip verification.
// Trailing odd bytes are ignored.
func Decode(pcm []byte) []float32 {
	n := len(pcm) / BytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / maxInt16
	}
	return out
}
