// Package capture owns the microphone for one recording at a time: it
// collects PCM while recording, counts elapsed seconds and hands the
// finished WAV clip to a sink on stop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyslexiview/dyslexiview/internal/audio"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusStarting  Status = "STARTING"
	StatusRecording Status = "RECORDING"
	StatusStopping  Status = "STOPPING"
)

const (
	// ClipFilename and ClipContentType label every finished clip.
	ClipFilename    = "recording.wav"
	ClipContentType = "audio/wav"

	defaultTickInterval = time.Second
)

// ErrEmptyRecording is returned by Stop when no audio was captured.
var ErrEmptyRecording = errors.New("recording captured no audio")

// Sink receives finished clips. The upload client satisfies it.
type Sink interface {
	Submit(ctx context.Context, clip *audio.Clip) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, clip *audio.Clip) error

func (f SinkFunc) Submit(ctx context.Context, clip *audio.Clip) error {
	return f(ctx, clip)
}

// Option configures a Session.
type Option func(*Session)

// WithTickInterval overrides the one-second elapsed counter period.
func WithTickInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithTickHandler registers fn to receive the elapsed count after each tick.
func WithTickHandler(fn func(elapsed int)) Option {
	return func(s *Session) {
		s.onTick = fn
	}
}

// Session records from one microphone. The zero value is not usable; use New.
type Session struct {
	mic          audio.Microphone
	sink         Sink
	tickInterval time.Duration
	onTick       func(int)

	mu      sync.Mutex
	status  Status
	current *take

	elapsed atomic.Int64
}

// take is the live state of a single recording: its stream, its capture
// buffer and the goroutines feeding them.
type take struct {
	stream  audio.Stream
	format  audio.Format
	started time.Time

	pcm       []byte
	collected chan struct{}

	stopTick chan struct{}
	tickDone chan struct{}
}

// New returns an idle session. sink may be nil, in which case Stop only
// returns the clip.
func New(mic audio.Microphone, sink Sink, opts ...Option) *Session {
	s := &Session{
		mic:          mic,
		sink:         sink,
		tickInterval: defaultTickInterval,
		status:       StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the microphone and begins recording. It is a no-op while a
// recording is already running or starting. On microphone failure the error
// wraps audio.ErrMicrophoneUnavailable and the session stays idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusIdle {
		slog.Debug("Start ignored, session busy", "status", s.status)
		s.mu.Unlock()
		return nil
	}
	s.status = StatusStarting
	s.mu.Unlock()

	stream, err := s.mic.Open(ctx)
	if err != nil {
		s.setStatus(StatusIdle)
		if !errors.Is(err, audio.ErrMicrophoneUnavailable) {
			err = fmt.Errorf("%w: %v", audio.ErrMicrophoneUnavailable, err)
		}
		slog.Error("Microphone access failed", "error", err)
		return err
	}

	t := &take{
		stream:    stream,
		format:    stream.Format(),
		started:   time.Now(),
		collected: make(chan struct{}),
		stopTick:  make(chan struct{}),
		tickDone:  make(chan struct{}),
	}
	s.elapsed.Store(0)

	go t.collect()
	go s.tick(t)

	s.mu.Lock()
	s.current = t
	s.status = StatusRecording
	s.mu.Unlock()

	device := stream.Device()
	slog.Info("Recording started",
		"device", device.Description,
		"sample_rate", t.format.SampleRate,
		"channels", t.format.Channels)
	return nil
}

// Stop finalizes the recording and passes the clip to the sink. Without a
// running recording it returns (nil, nil) and nothing is uploaded. The clip
// is returned even when the sink fails.
func (s *Session) Stop(ctx context.Context) (*audio.Clip, error) {
	s.mu.Lock()
	if s.status != StatusRecording {
		slog.Debug("Stop ignored, not recording", "status", s.status)
		s.mu.Unlock()
		return nil, nil
	}
	t := s.current
	s.current = nil
	s.status = StatusStopping
	s.mu.Unlock()

	close(t.stopTick)
	<-t.tickDone
	s.elapsed.Store(0)

	if err := t.stream.Stop(); err != nil {
		slog.Warn("Microphone stream did not stop cleanly", "error", err)
	}
	// The stream closes its chunk channel once flushed, so after this the
	// buffer is complete.
	<-t.collected

	clip, err := t.clip()
	s.setStatus(StatusIdle)
	if err != nil {
		slog.Error("Failed to finalize recording", "error", err)
		return nil, err
	}

	slog.Info("Recording stopped",
		"duration", clip.Duration.Round(time.Millisecond),
		"bytes", len(clip.Data))

	if s.sink == nil {
		return clip, nil
	}
	if err := s.sink.Submit(ctx, clip); err != nil {
		return clip, fmt.Errorf("upload recording: %w", err)
	}
	return clip, nil
}

// Status reports the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Recording reports whether audio is being captured.
func (s *Session) Recording() bool {
	return s.Status() == StatusRecording
}

// StartedAt returns when the current recording began, or the zero time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return time.Time{}
	}
	return s.current.started
}

// Elapsed returns the ticks counted for the current recording, or 0 when idle.
func (s *Session) Elapsed() int {
	return int(s.elapsed.Load())
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Session) tick(t *take) {
	defer close(t.tickDone)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopTick:
			return
		case <-ticker.C:
			n := int(s.elapsed.Add(1))
			if s.onTick != nil {
				s.onTick(n)
			}
		}
	}
}

func (t *take) collect() {
	defer close(t.collected)
	for chunk := range t.stream.Chunks() {
		t.pcm = append(t.pcm, chunk...)
	}
}

func (t *take) clip() (*audio.Clip, error) {
	if len(t.pcm) == 0 {
		return nil, ErrEmptyRecording
	}
	data, err := audio.EncodeWAV(t.pcm, t.format)
	if err != nil {
		return nil, err
	}
	return &audio.Clip{
		Data:        data,
		Filename:    ClipFilename,
		ContentType: ClipContentType,
		Format:      t.format,
		Duration:    t.format.Duration(len(t.pcm)),
	}, nil
}

// FormatElapsed renders seconds as m:ss, so 75 becomes "1:15".
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
