package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

// EncodeWAV wraps s16le PCM in a WAV container.
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid pcm format %+v", format)
	}

	// The encoder patches chunk sizes on Close, so it needs a seekable sink.
	f, err := os.CreateTemp("", "dyslexiview-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create wav temp file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	enc := wav.NewEncoder(f, format.SampleRate, bitDepth, format.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
		Data:           make([]int, len(pcm)/2),
		SourceBitDepth: bitDepth,
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}

	data, err := os.ReadFile(f.Name())
	if err != nil {
		return nil, fmt.Errorf("read wav temp file: %w", err)
	}
	return data, nil
}

// DecodeWAV returns the samples of a WAV file scaled to 16 bits.
func DecodeWAV(data []byte) ([]int16, Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, errors.New("not a valid wav file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("decode wav: %w", err)
	}

	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	depth := int(dec.BitDepth)

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case depth == 8:
			samples[i] = int16((v - 128) << 8)
		case depth > bitDepth:
			samples[i] = int16(v >> (depth - bitDepth))
		default:
			samples[i] = int16(v)
		}
	}
	return samples, format, nil
}
