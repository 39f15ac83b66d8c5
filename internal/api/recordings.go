package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dyslexiview/dyslexiview/internal/audio"
)

const (
	// AudioField and AudioFilename are the multipart names the service expects.
	AudioField       = "audio"
	AudioFilename    = "recording.wav"
	AudioContentType = "audio/wav"
)

// ErrUploadInFlight rejects a second upload while one is pending.
var ErrUploadInFlight = errors.New("an upload is already in flight")

// Recording is one stored recording as listed by the service.
type Recording struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Timestamp int64  `json:"timestamp"`
	Enhanced  bool   `json:"enhanced"`
}

// Time converts the unix-seconds timestamp.
func (r Recording) Time() time.Time {
	return time.Unix(r.Timestamp, 0)
}

// UnmarshalJSON accepts numeric or string ids and fractional timestamps.
func (r *Recording) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        json.RawMessage `json:"id"`
		Filename  string          `json:"filename"`
		Timestamp json.Number     `json:"timestamp"`
		Enhanced  bool            `json:"enhanced"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.ID = ""
	if id := bytes.TrimSpace(raw.ID); len(id) > 0 && !bytes.Equal(id, []byte("null")) {
		if id[0] == '"' {
			if err := json.Unmarshal(id, &r.ID); err != nil {
				return fmt.Errorf("recording id: %w", err)
			}
		} else {
			r.ID = string(id)
		}
	}
	r.Filename = raw.Filename
	r.Enhanced = raw.Enhanced
	r.Timestamp = 0
	if raw.Timestamp != "" {
		ts, err := strconv.ParseFloat(raw.Timestamp.String(), 64)
		if err != nil {
			return fmt.Errorf("recording %s: bad timestamp %q", r.ID, raw.Timestamp)
		}
		r.Timestamp = int64(ts)
	}
	return nil
}

// UploadResponse is a successful upload reply. Payload holds the response
// body exactly as the service sent it.
type UploadResponse struct {
	Success bool
	Payload json.RawMessage
}

// Fields decodes Payload into a generic map.
func (u UploadResponse) Fields() (map[string]any, error) {
	var out map[string]any
	err := json.Unmarshal(u.Payload, &out)
	return out, err
}

// SubmitRecording posts clip to the recordings collection. A success=false
// reply is returned as a *ServiceError.
func (c *Client) SubmitRecording(ctx context.Context, clip *audio.Clip) (*UploadResponse, error) {
	if clip == nil || len(clip.Data) == 0 {
		return nil, errors.New("submit recording: empty clip")
	}

	filename := clip.Filename
	if filename == "" {
		filename = AudioFilename
	}
	contentType := clip.ContentType
	if contentType == "" {
		contentType = AudioContentType
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartField(AudioField, filename, contentType, bytes.NewReader(clip.Data)).
		Post(recordingsPath)
	if err != nil {
		return nil, fmt.Errorf("submit recording: %w", err)
	}

	env, err := decodeEnvelope("submit recording", resp)
	if err != nil {
		return nil, err
	}

	payload := make(json.RawMessage, len(resp.Body()))
	copy(payload, resp.Body())
	return &UploadResponse{Success: env.Success, Payload: payload}, nil
}

// ListRecordings fetches the full recordings list.
func (c *Client) ListRecordings(ctx context.Context) ([]Recording, error) {
	var recordings []Recording
	resp, err := c.http.R().
		SetContext(ctx).
		Get(recordingsPath)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list recordings: unexpected status %s", resp.Status())
	}
	if err := json.Unmarshal(resp.Body(), &recordings); err != nil {
		return nil, fmt.Errorf("list recordings: decode response: %w", err)
	}
	if recordings == nil {
		recordings = []Recording{}
	}
	return recordings, nil
}

// Download fetches an audio asset by absolute URL.
func (c *Client) Download(ctx context.Context, assetURL string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "audio/*").
		Get(assetURL)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", assetURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download %s: unexpected status %s", assetURL, resp.Status())
	}
	return resp.Body(), nil
}

// Uploader submits finished clips one at a time and reports successes to
// its completion callback. Failures are logged and returned, never retried.
type Uploader struct {
	client     *Client
	onComplete func(UploadResponse)
	inflight   atomic.Bool
}

// NewUploader returns an uploader; onComplete may be nil.
func NewUploader(client *Client, onComplete func(UploadResponse)) *Uploader {
	return &Uploader{client: client, onComplete: onComplete}
}

// Submit uploads clip. The completion callback runs exactly once per
// successful upload, with the service's payload.
func (u *Uploader) Submit(ctx context.Context, clip *audio.Clip) error {
	if !u.inflight.CompareAndSwap(false, true) {
		slog.Warn("Upload rejected, another upload is pending")
		return ErrUploadInFlight
	}
	defer u.inflight.Store(false)

	size := 0
	if clip != nil {
		size = len(clip.Data)
	}
	slog.Info("Uploading recording", "bytes", size)

	resp, err := u.client.SubmitRecording(ctx, clip)
	if err != nil {
		if IsServiceError(err) {
			slog.Error("Error saving recording", "error", err)
		} else {
			slog.Error("Network error while uploading recording", "error", err)
		}
		return err
	}

	slog.Info("Recording uploaded", "bytes", size)
	if u.onComplete != nil {
		u.onComplete(*resp)
	}
	return nil
}

// InFlight reports whether an upload is pending.
func (u *Uploader) InFlight() bool {
	return u.inflight.Load()
}
