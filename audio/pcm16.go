// Package audio provides PCM16 utilities for the realtime voice sessions:
// sample encoding, base64 framing, a capture chunker and a playback queue.
// All wire audio is 16-bit little-endian PCM, the format both realtime
// vendors speak.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"

	schemas "github.com/keyloom/keyloom/schemas"
)

// EncodePCM16 serializes samples as little-endian bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16 parses little-endian bytes back into samples. The byte count
// must be even.
func DecodePCM16(data []byte) ([]int16, *schemas.Error) {
	if len(data)%2 != 0 {
		return nil, schemas.NewError(schemas.ErrCodeDecode, "pcm16 payload has an odd byte count")
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// PCM16ToBase64 encodes samples the way realtime vendors expect them on
// the wire: little-endian bytes, standard base64.
func PCM16ToBase64(samples []int16) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// PCM16FromBase64 reverses PCM16ToBase64.
func PCM16FromBase64(encoded string) ([]int16, *schemas.Error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, schemas.NewOperationError(schemas.ErrCodeDecode, "invalid base64 audio payload", err)
	}
	return DecodePCM16(data)
}

// Float32ToPCM16 converts normalized [-1, 1] samples to int16, clamping
// out-of-range values.
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7FFF)
		}
	}
	return out
}

// PCM16ToFloat32 converts int16 samples to normalized [-1, 1) floats.
func PCM16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// Level reports the RMS level of a chunk in [0, 1]. Empty chunks are 0.
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
