package audio

import (
	"io"

	"github.com/hajimehoshi/go-mp3"

	schemas "github.com/keyloom/keyloom/schemas"
)

// DecodeMP3 decodes an MP3 stream into mono PCM16 samples and reports the
// source sample rate. The decoder output is 16-bit stereo; the channels are
// averaged down to mono so the result can feed a Playback queue directly.
func DecodeMP3(r io.Reader) ([]int16, int, *schemas.Error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, schemas.NewOperationError(schemas.ErrCodeDecode, "invalid mp3 stream", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, schemas.NewOperationError(schemas.ErrCodeDecode, "failed to decode mp3 stream", err)
	}

	stereo, decErr := DecodePCM16(raw)
	if decErr != nil {
		return nil, 0, decErr
	}

	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		left := int32(stereo[i*2])
		right := int32(stereo[i*2+1])
		mono[i] = int16((left + right) / 2)
	}
	return mono, decoder.SampleRate(), nil
}
