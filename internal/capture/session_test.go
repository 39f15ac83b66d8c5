package capture_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyslexiview/dyslexiview/internal/api"
	"github.com/dyslexiview/dyslexiview/internal/audio"
	"github.com/dyslexiview/dyslexiview/internal/capture"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1}

type fakeStream struct {
	chunks   chan []byte
	stopOnce sync.Once
	stopped  atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{chunks: make(chan []byte, 1024)}
}

func (f *fakeStream) Chunks() <-chan []byte { return f.chunks }
func (f *fakeStream) Format() audio.Format  { return testFormat }
func (f *fakeStream) Device() audio.Device  { return audio.Device{ID: "fake", Description: "Fake mic"} }

func (f *fakeStream) Stop() error {
	f.stopOnce.Do(func() {
		f.stopped.Store(true)
		close(f.chunks)
	})
	return nil
}

// emit queues d worth of silence in 100ms chunks.
func (f *fakeStream) emit(d time.Duration) {
	chunk := testFormat.BytesPerSecond() / 10
	for n := 0; n < int(d/(100*time.Millisecond)); n++ {
		f.chunks <- make([]byte, chunk)
	}
}

type fakeMic struct {
	opens  atomic.Int32
	stream *fakeStream
	err    error
}

func (m *fakeMic) Open(ctx context.Context) (audio.Stream, error) {
	m.opens.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type recordingSink struct {
	mu    sync.Mutex
	clips []*audio.Clip
	err   error
}

func (r *recordingSink) Submit(ctx context.Context, clip *audio.Clip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clips = append(r.clips, clip)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clips)
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "0:00"},
		{5, "0:05"},
		{59, "0:59"},
		{60, "1:00"},
		{75, "1:15"},
		{600, "10:00"},
		{-3, "0:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, capture.FormatElapsed(tt.seconds), "seconds=%d", tt.seconds)
	}
}

func TestSession_DoubleStartKeepsOneSession(t *testing.T) {
	mic := &fakeMic{stream: newFakeStream()}
	sink := &recordingSink{}
	s := capture.New(mic, sink)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))

	assert.EqualValues(t, 1, mic.opens.Load())
	assert.Equal(t, capture.StatusRecording, s.Status())

	mic.stream.emit(time.Second)
	clip, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, clip)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, capture.StatusIdle, s.Status())
}

func TestSession_StopWithoutStartIsNoop(t *testing.T) {
	mic := &fakeMic{stream: newFakeStream()}
	sink := &recordingSink{}
	s := capture.New(mic, sink)

	clip, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, clip)
	assert.Zero(t, sink.count())
	assert.Zero(t, mic.opens.Load())
}

func TestSession_MicrophoneDenied(t *testing.T) {
	mic := &fakeMic{err: errors.New("access denied")}
	sink := &recordingSink{}
	s := capture.New(mic, sink)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, audio.ErrMicrophoneUnavailable)
	assert.Contains(t, err.Error(), "access denied")
	assert.Equal(t, capture.StatusIdle, s.Status())
	assert.False(t, s.Recording())

	clip, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, clip)
	assert.Zero(t, sink.count())
}

func TestSession_StopReleasesMicrophoneAndBuildsClip(t *testing.T) {
	stream := newFakeStream()
	s := capture.New(&fakeMic{stream: stream}, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.StartedAt().IsZero())
	stream.emit(500 * time.Millisecond)

	clip, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.True(t, stream.stopped.Load())
	assert.True(t, s.StartedAt().IsZero())

	assert.Equal(t, "recording.wav", clip.Filename)
	assert.Equal(t, "audio/wav", clip.ContentType)
	assert.Equal(t, 500*time.Millisecond, clip.Duration)

	samples, format, err := audio.DecodeWAV(clip.Data)
	require.NoError(t, err)
	assert.Equal(t, testFormat, format)
	assert.Len(t, samples, testFormat.SampleRate/2)
}

func TestSession_EmptyRecording(t *testing.T) {
	sink := &recordingSink{}
	s := capture.New(&fakeMic{stream: newFakeStream()}, sink)

	require.NoError(t, s.Start(context.Background()))
	clip, err := s.Stop(context.Background())
	assert.ErrorIs(t, err, capture.ErrEmptyRecording)
	assert.Nil(t, clip)
	assert.Zero(t, sink.count())
	assert.Equal(t, capture.StatusIdle, s.Status())
}

func TestSession_SinkFailureReturnsClip(t *testing.T) {
	stream := newFakeStream()
	sink := &recordingSink{err: errors.New("offline")}
	s := capture.New(&fakeMic{stream: stream}, sink)

	require.NoError(t, s.Start(context.Background()))
	stream.emit(200 * time.Millisecond)

	clip, err := s.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
	assert.NotNil(t, clip)
	assert.Equal(t, capture.StatusIdle, s.Status())
}

func TestSession_ElapsedTicks(t *testing.T) {
	stream := newFakeStream()
	ticks := make(chan int, 16)
	s := capture.New(&fakeMic{stream: stream}, nil,
		capture.WithTickInterval(10*time.Millisecond),
		capture.WithTickHandler(func(n int) {
			select {
			case ticks <- n:
			default:
			}
		}))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 1, <-ticks)
	assert.Equal(t, 2, <-ticks)

	stream.emit(100 * time.Millisecond)
	_, err := s.Stop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, s.Elapsed())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, s.Elapsed())
	assert.Equal(t, "0:00", capture.FormatElapsed(s.Elapsed()))
}

func TestSession_RecordAgainAfterStop(t *testing.T) {
	mic := &fakeMic{stream: newFakeStream()}
	s := capture.New(mic, nil)

	require.NoError(t, s.Start(context.Background()))
	mic.stream.emit(100 * time.Millisecond)
	_, err := s.Stop(context.Background())
	require.NoError(t, err)

	mic.stream = newFakeStream()
	require.NoError(t, s.Start(context.Background()))
	assert.EqualValues(t, 2, mic.opens.Load())
	mic.stream.emit(100 * time.Millisecond)
	_, err = s.Stop(context.Background())
	require.NoError(t, err)
}

// Records three seconds, stops, and checks the service receives the WAV
// and the completion handler gets the exact response body.
func TestSession_EndToEndUpload(t *testing.T) {
	const reply = `{"success":true,"recording":{"id":12,"filename":"rec_12.wav","enhanced":false}}`

	var gotFilename, gotContentType string
	var gotSize int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/recordings" {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotFilename = header.Filename
		gotContentType = header.Header.Get("Content-Type")
		gotSize = len(data)
		_, _ = w.Write([]byte(reply))
	}))
	defer ts.Close()

	var payloads []string
	uploader := api.NewUploader(api.NewWithBaseURL(ts.URL, nil), func(resp api.UploadResponse) {
		payloads = append(payloads, string(resp.Payload))
	})

	stream := newFakeStream()
	s := capture.New(&fakeMic{stream: stream}, uploader)

	require.NoError(t, s.Start(context.Background()))
	stream.emit(3 * time.Second)
	clip, err := s.Stop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "recording.wav", gotFilename)
	assert.Equal(t, "audio/wav", gotContentType)
	assert.Equal(t, len(clip.Data), gotSize)
	assert.Equal(t, 3*time.Second, clip.Duration)
	assert.Equal(t, []string{reply}, payloads)
}
