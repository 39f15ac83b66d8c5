package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jfreymuth/pulse"

	"github.com/dyslexiview/dyslexiview/internal/audio"
)

// PulsePlayer decodes WAV assets and streams them to the default Pulse sink.
type PulsePlayer struct {
	downloader Downloader
}

// NewPulsePlayer checks that a Pulse server is reachable.
func NewPulsePlayer(downloader Downloader) (*PulsePlayer, error) {
	client, err := audio.NewPulseClient("audio-speakers")
	if err != nil {
		return nil, err
	}
	client.Close()
	return &PulsePlayer{downloader: downloader}, nil
}

func (p *PulsePlayer) Name() string {
	return "pulse"
}

func (p *PulsePlayer) Open(ctx context.Context, url string) (Handle, error) {
	data, err := p.downloader.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	samples, format, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}

	var layout pulse.PlaybackOption
	switch format.Channels {
	case 1:
		layout = pulse.PlaybackMono
	case 2:
		layout = pulse.PlaybackStereo
	default:
		return nil, fmt.Errorf("unsupported channel count %d", format.Channels)
	}

	client, err := audio.NewPulseClient("audio-speakers")
	if err != nil {
		return nil, err
	}

	h := &pulseHandle{
		client:  client,
		samples: newSampleCursor(samples),
		done:    make(chan struct{}),
		ended:   make(chan struct{}),
		closing: make(chan struct{}),
	}
	stream, err := client.NewPlayback(
		pulse.Int16Reader(h.read),
		layout,
		pulse.PlaybackSampleRate(format.SampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackMediaName(url),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create pulse playback stream: %w", err)
	}
	h.stream = stream
	return h, nil
}

// sampleCursor hands out PCM from a position that Rewind can reset.
type sampleCursor struct {
	mu      sync.Mutex
	samples []int16
	pos     int
}

func newSampleCursor(samples []int16) *sampleCursor {
	return &sampleCursor{samples: samples}
}

// fill copies the next samples into buf and reports whether the end was hit.
func (c *sampleCursor) fill(buf []int16) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := copy(buf, c.samples[c.pos:])
	c.pos += n
	return n, c.pos >= len(c.samples)
}

func (c *sampleCursor) rewind() {
	c.mu.Lock()
	c.pos = 0
	c.mu.Unlock()
}

type pulseHandle struct {
	client  *pulse.Client
	stream  *pulse.PlaybackStream
	samples *sampleCursor

	mu      sync.Mutex
	started bool
	closed  bool

	ended     chan struct{}
	endedOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

func (h *pulseHandle) read(buf []int16) (int, error) {
	n, end := h.samples.fill(buf)
	if end {
		h.endedOnce.Do(func() { close(h.ended) })
		return n, pulse.EndOfData
	}
	return n, nil
}

func (h *pulseHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("playback handle closed")
	}
	if h.started {
		h.stream.Resume()
		return nil
	}
	h.started = true
	h.stream.Start()
	go h.finish()
	return nil
}

// finish waits for the reader to run out, lets the server play the tail and
// then reports natural completion.
func (h *pulseHandle) finish() {
	select {
	case <-h.ended:
	case <-h.closing:
		return
	}
	h.stream.Drain()

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return
	}
	if err := h.stream.Error(); err != nil {
		slog.Warn("Pulse playback stream failed", "error", err)
	}
	close(h.done)
}

func (h *pulseHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || !h.started {
		return nil
	}
	h.stream.Pause()
	return nil
}

func (h *pulseHandle) Rewind() error {
	h.samples.rewind()
	return nil
}

func (h *pulseHandle) Done() <-chan struct{} {
	return h.done
}

func (h *pulseHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.closing)
	h.mu.Unlock()

	h.stream.Close()
	h.client.Close()
	return nil
}
