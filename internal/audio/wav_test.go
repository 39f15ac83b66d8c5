package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmFromSamples(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestEncodeWAV_Header(t *testing.T) {
	format := Format{SampleRate: 16000, Channels: 1}
	pcm := pcmFromSamples(0, 1000, -1000, 32767, -32768)

	data, err := EncodeWAV(pcm, format)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(data), 44+len(pcm))
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(data[24:28]))
}

func TestEncodeDecodeWAV_Samples(t *testing.T) {
	format := Format{SampleRate: 8000, Channels: 2}
	samples := []int16{1, -1, 200, -200, 32000, -32000}

	data, err := EncodeWAV(pcmFromSamples(samples...), format)
	require.NoError(t, err)

	decoded, got, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, format, got)
	assert.Equal(t, samples, decoded)
}

func TestEncodeWAV_InvalidFormat(t *testing.T) {
	_, err := EncodeWAV(nil, Format{})
	require.Error(t, err)
}

func TestDecodeWAV_Garbage(t *testing.T) {
	_, _, err := DecodeWAV([]byte("definitely not audio"))
	require.Error(t, err)
}

func TestFormat_Duration(t *testing.T) {
	format := Format{SampleRate: 16000, Channels: 1}
	assert.Equal(t, 32000, format.BytesPerSecond())
	assert.Equal(t, 3*time.Second, format.Duration(96000))
	assert.Equal(t, time.Duration(0), Format{}.Duration(100))
}
