package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyslexiview/dyslexiview/internal/audio"
	"github.com/dyslexiview/dyslexiview/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Server.Timeout = 5 * time.Second
	return NewWithBaseURL(ts.URL, cfg)
}

func testClip() *audio.Clip {
	return &audio.Clip{
		Data:        []byte("RIFF....WAVEfmt fake"),
		Filename:    AudioFilename,
		ContentType: AudioContentType,
	}
}

func TestSubmitRecording_MultipartShape(t *testing.T) {
	var gotFilename, gotContentType, gotRequestID string
	var gotBody []byte

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/recordings", r.URL.Path)
		gotRequestID = r.Header.Get("X-Request-ID")

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		file, header, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		gotFilename = header.Filename
		gotContentType = header.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(file)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "id": 7}`))
	}))

	resp, err := client.SubmitRecording(context.Background(), testClip())
	require.NoError(t, err)

	assert.Equal(t, "recording.wav", gotFilename)
	assert.Equal(t, "audio/wav", gotContentType)
	assert.Equal(t, testClip().Data, gotBody)
	assert.NotEmpty(t, gotRequestID)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"success": true, "id": 7}`, string(resp.Payload))
}

func TestSubmitRecording_ApplicationFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "error": "disk full"}`))
	}))

	_, err := client.SubmitRecording(context.Background(), testClip())
	require.Error(t, err)

	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "disk full", se.Message)
}

func TestSubmitRecording_HTTPErrorWithoutJSON(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := client.SubmitRecording(context.Background(), testClip())
	require.Error(t, err)
	assert.False(t, IsServiceError(err))
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestSubmitRecording_EmptyClip(t *testing.T) {
	client := NewWithBaseURL("http://127.0.0.1:1", nil)
	_, err := client.SubmitRecording(context.Background(), &audio.Clip{})
	require.Error(t, err)
}

func TestUploader_CompletionCalledOnceWithPayload(t *testing.T) {
	body := `{"success":true,"recording":{"id":3,"filename":"rec_3.wav"}}`
	var posts atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		_, _ = w.Write([]byte(body))
	}))

	var calls []UploadResponse
	uploader := NewUploader(client, func(resp UploadResponse) {
		calls = append(calls, resp)
	})

	require.NoError(t, uploader.Submit(context.Background(), testClip()))

	require.Len(t, calls, 1)
	assert.Equal(t, body, string(calls[0].Payload))
	assert.EqualValues(t, 1, posts.Load())

	fields, err := calls[0].Fields()
	require.NoError(t, err)
	assert.Equal(t, true, fields["success"])
}

func TestUploader_FailureSkipsCompletion(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"bad audio"}`))
	}))

	called := false
	uploader := NewUploader(client, func(UploadResponse) { called = true })

	err := uploader.Submit(context.Background(), testClip())
	require.Error(t, err)
	assert.True(t, IsServiceError(err))
	assert.False(t, called)
	assert.False(t, uploader.InFlight())
}

func TestUploader_NetworkFailureNoRetry(t *testing.T) {
	var posts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
	}))
	url := ts.URL
	ts.Close()

	uploader := NewUploader(NewWithBaseURL(url, nil), nil)
	err := uploader.Submit(context.Background(), testClip())
	require.Error(t, err)
	assert.False(t, IsServiceError(err))
	assert.EqualValues(t, 0, posts.Load())
}

func TestUploader_RejectsConcurrentUpload(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(entered) })
		<-release
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	uploader := NewUploader(client, nil)

	done := make(chan error, 1)
	go func() { done <- uploader.Submit(context.Background(), testClip()) }()

	<-entered
	assert.True(t, uploader.InFlight())
	assert.ErrorIs(t, uploader.Submit(context.Background(), testClip()), ErrUploadInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, uploader.InFlight())
}

func TestListRecordings(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/recordings", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"id": 1, "filename": "rec_1.wav", "timestamp": 1700000000.75, "enhanced": true},
			{"id": "b2", "filename": "rec_2.wav", "timestamp": 1700000100, "enhanced": false}
		]`))
	}))

	recs, err := client.ListRecordings(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, Recording{ID: "1", Filename: "rec_1.wav", Timestamp: 1700000000, Enhanced: true}, recs[0])
	assert.Equal(t, "b2", recs[1].ID)
	assert.Equal(t, time.Unix(1700000100, 0), recs[1].Time())
}

func TestListRecordings_Failures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		_, err := client.ListRecordings(context.Background())
		require.Error(t, err)
	})

	t.Run("decode", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"not": "a list"}`))
		}))
		_, err := client.ListRecordings(context.Background())
		require.Error(t, err)
	})

	t.Run("null is empty", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`null`))
		}))
		recs, err := client.ListRecordings(context.Background())
		require.NoError(t, err)
		assert.Empty(t, recs)
		assert.NotNil(t, recs)
	})
}

func TestRecordingJSONRoundTrip(t *testing.T) {
	rec := Recording{ID: "9", Filename: "x.wav", Timestamp: 42, Enhanced: true}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"9","filename":"x.wav","timestamp":42,"enhanced":true}`, string(data))
}

func TestAudioURL(t *testing.T) {
	client := NewWithBaseURL("http://localhost:5000/", nil)

	assert.Equal(t, "http://localhost:5000/api/recordings/rec_1.wav", client.AudioURL("rec_1.wav", false))
	assert.Equal(t, "http://localhost:5000/api/recordings/rec_1_enhanced.wav", client.AudioURL("rec_1.wav", true))
	assert.Equal(t, "http://localhost:5000/api/recordings/my%20take.wav", client.AudioURL("my take.wav", false))
}

func TestEnhancedFilename(t *testing.T) {
	assert.Equal(t, "a_enhanced.wav", EnhancedFilename("a.wav"))
	assert.Equal(t, "a.b_enhanced.mp3", EnhancedFilename("a.b.mp3"))
	assert.Equal(t, "noext_enhanced", EnhancedFilename("noext"))
}

func TestDownload(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/recordings/a.wav" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFDATA"))
	}))

	data, err := client.Download(context.Background(), client.AudioURL("a.wav", false))
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFDATA"), data)

	_, err = client.Download(context.Background(), client.AudioURL("a.wav", true))
	require.Error(t, err)
}
