package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/dyslexiview/dyslexiview/internal/config"
)

const (
	appName = "dyslexiview"

	chunkDuration = 20 // ms per emitted chunk
)

// PulseBackend captures through the PulseAudio protocol.
type PulseBackend struct{}

func (p *PulseBackend) NewMicrophone(cfg *config.Config) Microphone {
	return &PulseMicrophone{Input: cfg.Audio.Input, Format: formatFromConfig(cfg)}
}

func (p *PulseBackend) ListSources(ctx context.Context) ([]Device, error) {
	return ListPulseDevices(ctx)
}

func (p *PulseBackend) GetType() BackendType {
	return BackendTypePulse
}

// NewPulseClient connects to the session's Pulse server.
func NewPulseClient(iconName string) (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(appName),
		pulse.ClientApplicationIconName(iconName),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListPulseDevices returns available Pulse input sources with default/availability metadata.
func ListPulseDevices(_ context.Context) ([]Device, error) {
	client, err := NewPulseClient("audio-input-microphone")
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// selectDevice picks the source matching input, or the default source.
func selectDevice(devices []Device, input string) (Device, error) {
	if len(devices) == 0 {
		return Device{}, errors.New("no audio input devices found")
	}

	input = strings.TrimSpace(strings.ToLower(input))
	var chosen *Device
	for i := range devices {
		dev := &devices[i]
		if input == "" || input == "default" {
			if dev.Default {
				chosen = dev
				break
			}
			continue
		}
		if deviceMatches(*dev, input) {
			chosen = dev
			break
		}
	}

	if chosen == nil {
		if input == "" || input == "default" {
			return Device{}, errors.New("default audio source is unavailable")
		}
		return Device{}, fmt.Errorf("audio.input %q did not match any device", input)
	}
	if !chosen.Available {
		return Device{}, fmt.Errorf("audio input %q is not available", chosen.ID)
	}
	if chosen.Muted {
		return Device{}, fmt.Errorf("audio input %q is muted", chosen.ID)
	}
	return *chosen, nil
}

func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// PulseMicrophone opens record streams on the selected Pulse source.
type PulseMicrophone struct {
	Input  string
	Format Format
}

func (m *PulseMicrophone) Open(ctx context.Context) (Stream, error) {
	devices, err := ListPulseDevices(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	device, err := selectDevice(devices, m.Input)
	if err != nil {
		return nil, unavailable(err)
	}
	capture, err := startPulseCapture(device, m.Format)
	if err != nil {
		return nil, unavailable(err)
	}
	return capture, nil
}

// pulseCapture streams fixed-size PCM chunks from one Pulse source.
type pulseCapture struct {
	device    Device
	format    Format
	chunkSize int

	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte
	stopCh chan struct{}

	mu       sync.Mutex
	pending  []byte
	stopped  bool
	inflight sync.WaitGroup
}

func startPulseCapture(selected Device, format Format) (*pulseCapture, error) {
	client, err := NewPulseClient("audio-input-microphone")
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	c := &pulseCapture{
		device:    selected,
		format:    format,
		chunkSize: format.BytesPerSecond() * chunkDuration / 1000,
		client:    client,
		chunks:    make(chan []byte, 256),
		stopCh:    make(chan struct{}),
	}

	layout := pulse.RecordMono
	if format.Channels == 2 {
		layout = pulse.RecordStereo
	}

	writer := pulse.NewWriter(writerFunc(c.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		layout,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(c.chunkSize)),
		pulse.RecordMediaName("dyslexiview recording"),
	)
	if err != nil {
		_ = c.Stop()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	c.stream = stream
	stream.Start()
	return c, nil
}

func (c *pulseCapture) Chunks() <-chan []byte { return c.chunks }
func (c *pulseCapture) Format() Format         { return c.format }
func (c *pulseCapture) Device() Device         { return c.device }

// Stop halts the stream, flushes residual PCM, and closes Chunks exactly once.
func (c *pulseCapture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(pending) > 0 {
		select {
		case c.chunks <- pending:
		default:
		}
	}

	close(c.chunks)
	return nil
}

func (c *pulseCapture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as stopped so Stop's Wait cannot race it.
	c.inflight.Add(1)

	c.pending = append(c.pending, buffer...)
	var ready [][]byte
	for len(c.pending) >= c.chunkSize {
		chunk := make([]byte, c.chunkSize)
		copy(chunk, c.pending[:c.chunkSize])
		c.pending = c.pending[c.chunkSize:]
		ready = append(ready, chunk)
	}
	c.mu.Unlock()
	defer c.inflight.Done()

	for _, chunk := range ready {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		case c.chunks <- chunk:
		}
	}
	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
