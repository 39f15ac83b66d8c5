// Package api talks to the dyslexiview HTTP service: recording uploads, the
// recordings catalog, audio assets and image text extraction.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/dyslexiview/dyslexiview/internal/config"
)

const (
	recordingsPath = "/api/recordings"
	extractPath    = "/"

	requestIDHeader = "X-Request-ID"
	enhancedSuffix  = "_enhanced"
)

// ServiceError is an application-level failure: the service answered but
// reported success=false.
type ServiceError struct {
	Op      string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: service reported failure", e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// IsServiceError reports whether err carries a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// Client is a thin wrapper around a resty client bound to the service base URL.
type Client struct {
	http    *resty.Client
	baseURL string
}

// New builds a client from the server section of cfg.
func New(cfg *config.Config) *Client {
	return NewWithBaseURL(cfg.Server.BaseURL, cfg)
}

// NewWithBaseURL builds a client for baseURL, taking timeouts from cfg.
func NewWithBaseURL(baseURL string, cfg *config.Config) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	rc := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetLogger(slogLogger{}).
		SetRetryCount(0)
	if cfg != nil && cfg.Server.Timeout > 0 {
		rc.SetTimeout(cfg.Server.Timeout)
	}

	rc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if r.Header.Get(requestIDHeader) == "" {
			r.SetHeader(requestIDHeader, uuid.NewString())
		}
		return nil
	})
	rc.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		slog.Debug("Service response",
			"method", resp.Request.Method,
			"url", resp.Request.URL,
			"status", resp.StatusCode(),
			"request_id", resp.Request.Header.Get(requestIDHeader),
			"duration", resp.Time())
		return nil
	})

	return &Client{http: rc, baseURL: baseURL}
}

// BaseURL returns the service root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AudioURL resolves the asset URL for filename, or for its enhanced variant.
func (c *Client) AudioURL(filename string, enhanced bool) string {
	if enhanced {
		filename = EnhancedFilename(filename)
	}
	return c.baseURL + recordingsPath + "/" + url.PathEscape(filename)
}

// EnhancedFilename inserts the enhanced suffix before the extension:
// "take.wav" becomes "take_enhanced.wav".
func EnhancedFilename(filename string) string {
	ext := path.Ext(filename)
	return strings.TrimSuffix(filename, ext) + enhancedSuffix + ext
}

// statusEnvelope is the success/error pair every POST endpoint returns.
type statusEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// decodeEnvelope interprets a POST response body, turning success=false into
// a ServiceError.
func decodeEnvelope(op string, resp *resty.Response) (statusEnvelope, error) {
	var env statusEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		if resp.IsError() {
			return env, fmt.Errorf("%s: unexpected status %s", op, resp.Status())
		}
		return env, fmt.Errorf("%s: decode response: %w", op, err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" && resp.IsError() {
			msg = resp.Status()
		}
		return env, &ServiceError{Op: op, Message: msg}
	}
	return env, nil
}

// slogLogger routes resty's own diagnostics through slog.
type slogLogger struct{}

func (slogLogger) Errorf(format string, v ...interface{}) {
	slog.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (slogLogger) Warnf(format string, v ...interface{}) {
	slog.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (slogLogger) Debugf(format string, v ...interface{}) {
	slog.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}
