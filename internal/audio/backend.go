package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/dyslexiview/dyslexiview/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePulse    BackendType = "pulse"
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeAuto     BackendType = "auto"
)

// AudioBackend defines the interface for audio backend implementations
type AudioBackend interface {
	// Create a microphone bound to the configured input
	NewMicrophone(cfg *config.Config) Microphone

	// List available capture sources
	ListSources(ctx context.Context) ([]Device, error)

	// Get the backend type
	GetType() BackendType
}

// NewMicrophone creates a microphone using the appropriate backend based on configuration
func NewMicrophone(cfg *config.Config) Microphone {
	return NewBackend(cfg).NewMicrophone(cfg)
}

// NewBackend returns the backend selected by cfg.Audio.Backend.
func NewBackend(cfg *config.Config) AudioBackend {
	switch determineBackend(cfg, exec.LookPath) {
	case BackendTypePipeWire:
		return &PipeWireBackend{}
	default:
		return &PulseBackend{}
	}
}

// determineBackend resolves "auto": PulseAudio protocol first (served by
// pipewire-pulse on PipeWire systems), pw-record only when asked for.
func determineBackend(cfg *config.Config, lookPath func(string) (string, error)) BackendType {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "pipewire":
		if _, err := lookPath("pw-record"); err != nil {
			slog.Warn("pw-record not found, falling back to pulse backend", "error", err)
			return BackendTypePulse
		}
		return BackendTypePipeWire
	case "pulse":
		return BackendTypePulse
	}
	return BackendTypePulse
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	return availableBackends(exec.LookPath)
}

func availableBackends(lookPath func(string) (string, error)) []BackendType {
	backends := []BackendType{BackendTypePulse}
	if _, err := lookPath("pw-record"); err == nil {
		backends = append(backends, BackendTypePipeWire)
	}
	return backends
}

func formatFromConfig(cfg *config.Config) Format {
	return Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
}
