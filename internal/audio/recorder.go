package audio

import (
	"context"
	"errors"
	"time"
)

// ErrMicrophoneUnavailable is returned when the input device cannot be opened,
// whether because access was refused or no matching source exists.
var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// BytesPerSecond returns the PCM byte rate for f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns how long n bytes of PCM in format f play for.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Device describes one capture source.
type Device struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	State       string `json:"state,omitempty"`
	Available   bool   `json:"available"`
	Muted       bool   `json:"muted"`
	Default     bool   `json:"default"`
}

// Stream is an open microphone. Chunks is closed after Stop has flushed
// every buffered chunk.
type Stream interface {
	Chunks() <-chan []byte
	Format() Format
	Device() Device
	Stop() error
}

// Microphone opens capture streams. Each Open call acquires the device.
type Microphone interface {
	Open(ctx context.Context) (Stream, error)
}

// MicrophoneFunc adapts a function to Microphone.
type MicrophoneFunc func(ctx context.Context) (Stream, error)

func (f MicrophoneFunc) Open(ctx context.Context) (Stream, error) {
	return f(ctx)
}

// Clip is one finalized recording ready for upload.
type Clip struct {
	Data        []byte
	Filename    string
	ContentType string
	Format      Format
	Duration    time.Duration
}
