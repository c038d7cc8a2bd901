package audio

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmAt(t *testing.T, data []byte, i int) int16 {
	t.Helper()
	require.Less(t, i*2+1, len(data))
	return int16(binary.LittleEndian.Uint16(data[i*2:]))
}

func TestEncodePCMScalesAndClamps(t *testing.T) {
	data := EncodePCM([]float32{0, 1, -1, 0.5, -0.5, 1.7, -2.3})

	assert.Equal(t, int16(0), pcmAt(t, data, 0))
	assert.Equal(t, int16(0x7FFF), pcmAt(t, data, 1))
	assert.Equal(t, int16(-0x8000), pcmAt(t, data, 2))
	assert.Equal(t, int16(0x3FFF), pcmAt(t, data, 3))
	assert.Equal(t, int16(-0x4000), pcmAt(t, data, 4))

	// Out-of-range samples saturate instead of wrapping.
	assert.Equal(t, int16(0x7FFF), pcmAt(t, data, 5))
	assert.Equal(t, int16(-0x8000), pcmAt(t, data, 6))
}

func TestEncodePCMIsLittleEndian(t *testing.T) {
	data := EncodePCM([]float32{1})
	assert.Equal(t, []byte{0xFF, 0x7F}, data)
}

func TestEncodeDecodeChunk(t *testing.T) {
	chunk := EncodeChunk([]float32{0, 1})

	_, err := base64.StdEncoding.DecodeString(chunk)
	require.NoError(t, err)

	raw, err := DecodeChunk(chunk)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0xFF, 0x7F}, raw)
}
