package audio

import (
	"encoding/base64"
	"encoding/binary"
)

const (
	// SampleRate is the PCM sample rate required at the transport boundary.
	// The capture device is asked for this rate; resampling from a different
	// native rate is the runtime's job, not ours.
	SampleRate = 16000

	// FrameSize is the number of samples delivered per capture callback.
	FrameSize = 4096

	bytesPerSample = 2
)

// EncodePCM converts floating-point samples in [-1, 1] to signed 16-bit
// little-endian PCM with saturation clamping. Out-of-range input pins to the
// nearest bound instead of wrapping.
func EncodePCM(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}

		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(v))
	}
	return out
}

// EncodeChunk serializes one frame of samples for transport as text.
func EncodeChunk(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM(samples))
}

// DecodeChunk reverses EncodeChunk, returning raw little-endian PCM bytes.
// The coordinator uses this before feeding the remote transcriber.
func DecodeChunk(audioData string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(audioData)
}
