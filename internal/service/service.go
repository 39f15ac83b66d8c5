package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dyslexiview/dyslexiview/internal/api"
	"github.com/dyslexiview/dyslexiview/internal/audio"
	"github.com/dyslexiview/dyslexiview/internal/capture"
	"github.com/dyslexiview/dyslexiview/internal/catalog"
	"github.com/dyslexiview/dyslexiview/internal/config"
	"github.com/dyslexiview/dyslexiview/internal/playback"
)

var (
	// ErrRecordingNotFound is returned when an id is not in the catalog.
	ErrRecordingNotFound = errors.New("recording not found")
	// ErrNoEnhancedVersion is returned when asking for an enhanced variant
	// the service has not produced.
	ErrNoEnhancedVersion = errors.New("recording has no enhanced version")
)

// Service is the client-side surface shared by the CLI and the control server.
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (*UploadResult, error)
	GetRecordingStatus() RecordingState

	// Catalog operations
	StartCatalog(ctx context.Context)
	StopCatalog()
	RefreshRecordings(ctx context.Context) error
	ListRecordings() []RecordingInfo
	OnRecordingsUpdate(fn func([]RecordingInfo))

	// Playback operations
	Play(ctx context.Context, id string, enhanced bool) error
	StopPlayback() error
	NowPlaying() (playback.NowPlaying, bool)
	OnPlaybackEnd(fn func(playback.NowPlaying))

	// Extraction operations
	Extract(ctx context.Context, filename string, image io.Reader) (*api.ExtractResult, error)
	LastExtract() *api.ExtractResult
	AssetURL(path string) string

	GetConfig() *config.Config
	GetLastError() string
	Close() error
}

// RecordingState is a snapshot of the capture session.
type RecordingState struct {
	Status         capture.Status  `json:"status"`
	Elapsed        int             `json:"elapsed"`
	ElapsedDisplay string          `json:"elapsed_display"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	Uploading      bool            `json:"uploading"`
	LastUpload     json.RawMessage `json:"last_upload,omitempty"`
}

// UploadResult describes a finished and uploaded recording.
type UploadResult struct {
	Duration  time.Duration   `json:"duration"`
	Bytes     int             `json:"bytes"`
	SizeHuman string          `json:"size_human"`
	Payload   json.RawMessage `json:"payload"`
}

// RecordingInfo is a catalog entry with its asset URLs resolved.
type RecordingInfo struct {
	api.Recording
	TimeHuman   string `json:"time_human"`
	AudioURL    string `json:"audio_url"`
	EnhancedURL string `json:"enhanced_url,omitempty"`
}

// Option customizes the collaborators New wires up.
type Option func(*options)

type options struct {
	mic          audio.Microphone
	player       playback.Player
	feed         catalog.Feed
	tickHandler  func(int)
	tickInterval time.Duration
	onUpload     func(api.UploadResponse)
}

// WithMicrophone replaces the configured audio backend.
func WithMicrophone(mic audio.Microphone) Option {
	return func(o *options) { o.mic = mic }
}

// WithPlayer replaces the configured playback.player.
func WithPlayer(p playback.Player) Option {
	return func(o *options) { o.player = p }
}

// WithFeed forces a push feed regardless of catalog.mode.
func WithFeed(feed catalog.Feed) Option {
	return func(o *options) { o.feed = feed }
}

// WithTickHandler receives the elapsed seconds while recording.
func WithTickHandler(fn func(elapsed int)) Option {
	return func(o *options) { o.tickHandler = fn }
}

// WithTickInterval shortens the elapsed counter period, mostly for tests.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) { o.tickInterval = d }
}

// WithUploadHandler is called with every successful upload response.
func WithUploadHandler(fn func(api.UploadResponse)) Option {
	return func(o *options) { o.onUpload = fn }
}

// DyslexiviewService is the main service implementation
type DyslexiviewService struct {
	cfg      *config.Config
	client   *api.Client
	uploader *api.Uploader
	session  *capture.Session
	catalog  *catalog.Catalog

	playerMu sync.Mutex
	player   playback.Player
	playback *playback.Controller
	onEnd    func(playback.NowPlaying)

	stateMu     sync.RWMutex
	lastUpload  json.RawMessage
	lastExtract *api.ExtractResult
	onUpload    func(api.UploadResponse)

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New wires the api client, capture session, catalog and playback
// controller for cfg.
func New(cfg *config.Config, opts ...Option) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	s := &DyslexiviewService{
		cfg:      cfg,
		client:   api.New(cfg),
		player:   o.player,
		onUpload: o.onUpload,
	}
	s.uploader = api.NewUploader(s.client, s.uploadCompleted)

	mic := o.mic
	if mic == nil {
		mic = audio.NewMicrophone(cfg)
	}
	var sessionOpts []capture.Option
	if o.tickHandler != nil {
		sessionOpts = append(sessionOpts, capture.WithTickHandler(o.tickHandler))
	}
	if o.tickInterval > 0 {
		sessionOpts = append(sessionOpts, capture.WithTickInterval(o.tickInterval))
	}
	s.session = capture.New(mic, s.uploader, sessionOpts...)

	catalogOpts := []catalog.Option{catalog.WithInterval(cfg.Catalog.PollInterval)}
	feed := o.feed
	if feed == nil && cfg.Catalog.Mode == "push" {
		wsFeed, err := catalog.NewWebSocketFeed(cfg.Server.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("recordings feed: %w", err)
		}
		feed = wsFeed
	}
	if feed != nil {
		catalogOpts = append(catalogOpts, catalog.WithFeed(feed))
	}
	s.catalog = catalog.New(s.client, catalogOpts...)

	return s, nil
}

// StartRecording opens the microphone and begins a recording
func (s *DyslexiviewService) StartRecording(ctx context.Context) error {
	slog.Debug("Service.StartRecording called")
	s.clearLastError()
	if err := s.session.Start(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	return nil
}

// StopRecording finalizes the recording, uploads it and refreshes the
// catalog. It returns (nil, nil) when nothing was recording.
func (s *DyslexiviewService) StopRecording(ctx context.Context) (*UploadResult, error) {
	clip, err := s.session.Stop(ctx)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to save recording: %v", err))
		return nil, err
	}
	if clip == nil {
		return nil, nil
	}
	s.clearLastError()

	if err := s.catalog.Refresh(ctx); err != nil {
		slog.Debug("Catalog refresh after upload failed", "error", err)
	}

	s.stateMu.RLock()
	payload := s.lastUpload
	s.stateMu.RUnlock()

	return &UploadResult{
		Duration:  clip.Duration,
		Bytes:     len(clip.Data),
		SizeHuman: formatBytes(int64(len(clip.Data))),
		Payload:   payload,
	}, nil
}

func (s *DyslexiviewService) uploadCompleted(resp api.UploadResponse) {
	s.stateMu.Lock()
	s.lastUpload = resp.Payload
	onUpload := s.onUpload
	s.stateMu.Unlock()

	slog.Info("Recording saved", "response", string(resp.Payload))
	if onUpload != nil {
		onUpload(resp)
	}
}

// GetRecordingStatus returns the current recording state
func (s *DyslexiviewService) GetRecordingStatus() RecordingState {
	elapsed := s.session.Elapsed()
	state := RecordingState{
		Status:         s.session.Status(),
		Elapsed:        elapsed,
		ElapsedDisplay: capture.FormatElapsed(elapsed),
		Uploading:      s.uploader.InFlight(),
	}
	if started := s.session.StartedAt(); !started.IsZero() {
		state.StartedAt = &started
	}

	s.stateMu.RLock()
	state.LastUpload = s.lastUpload
	s.stateMu.RUnlock()
	return state
}

// StartCatalog begins keeping the recordings list fresh
func (s *DyslexiviewService) StartCatalog(ctx context.Context) {
	s.catalog.Start(ctx)
}

// StopCatalog cancels the catalog refresh loop
func (s *DyslexiviewService) StopCatalog() {
	s.catalog.Stop()
}

// RefreshRecordings fetches the recordings list once
func (s *DyslexiviewService) RefreshRecordings(ctx context.Context) error {
	if err := s.catalog.Refresh(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to fetch recordings: %v", err))
		return err
	}
	return nil
}

// ListRecordings returns the most recent catalog snapshot
func (s *DyslexiviewService) ListRecordings() []RecordingInfo {
	return s.describe(s.catalog.Recordings())
}

// OnRecordingsUpdate registers fn for every catalog replacement
func (s *DyslexiviewService) OnRecordingsUpdate(fn func([]RecordingInfo)) {
	s.catalog.OnUpdate(func(recs []api.Recording) {
		fn(s.describe(recs))
	})
}

func (s *DyslexiviewService) describe(recs []api.Recording) []RecordingInfo {
	infos := make([]RecordingInfo, 0, len(recs))
	for _, rec := range recs {
		info := RecordingInfo{
			Recording: rec,
			TimeHuman: rec.Time().Format("2006-01-02 15:04:05"),
			AudioURL:  s.client.AudioURL(rec.Filename, false),
		}
		if rec.Enhanced {
			info.EnhancedURL = s.client.AudioURL(rec.Filename, true)
		}
		infos = append(infos, info)
	}
	return infos
}

// Play plays the recording with the given id, fetching the catalog first
// if the id is unknown.
func (s *DyslexiviewService) Play(ctx context.Context, id string, enhanced bool) error {
	rec, ok := s.catalog.Find(id)
	if !ok {
		if err := s.catalog.Refresh(ctx); err != nil {
			s.setLastError(fmt.Sprintf("Failed to fetch recordings: %v", err))
			return err
		}
		rec, ok = s.catalog.Find(id)
	}
	if !ok {
		err := fmt.Errorf("%w: %s", ErrRecordingNotFound, id)
		s.setLastError(err.Error())
		return err
	}
	if enhanced && !rec.Enhanced {
		err := fmt.Errorf("%w: %s", ErrNoEnhancedVersion, id)
		s.setLastError(err.Error())
		return err
	}

	ctrl, err := s.controller()
	if err != nil {
		s.setLastError(fmt.Sprintf("Playback unavailable: %v", err))
		return err
	}
	if err := ctrl.Play(ctx, rec, enhanced); err != nil {
		s.setLastError(fmt.Sprintf("Failed to play recording: %v", err))
		return err
	}
	s.clearLastError()
	return nil
}

// StopPlayback stops whatever is playing
func (s *DyslexiviewService) StopPlayback() error {
	s.playerMu.Lock()
	ctrl := s.playback
	s.playerMu.Unlock()
	if ctrl == nil {
		return playback.ErrNothingPlaying
	}
	return ctrl.Stop()
}

// NowPlaying reports the live playback item
func (s *DyslexiviewService) NowPlaying() (playback.NowPlaying, bool) {
	s.playerMu.Lock()
	ctrl := s.playback
	s.playerMu.Unlock()
	if ctrl == nil {
		return playback.NowPlaying{}, false
	}
	return ctrl.Current()
}

// OnPlaybackEnd registers fn for items that finish on their own
func (s *DyslexiviewService) OnPlaybackEnd(fn func(playback.NowPlaying)) {
	s.playerMu.Lock()
	defer s.playerMu.Unlock()
	s.onEnd = fn
	if s.playback != nil {
		s.playback.OnEnd(fn)
	}
}

// controller builds the playback controller on first use so commands that
// never play audio do not need a player.
func (s *DyslexiviewService) controller() (*playback.Controller, error) {
	s.playerMu.Lock()
	defer s.playerMu.Unlock()
	if s.playback != nil {
		return s.playback, nil
	}
	if s.player == nil {
		p, err := playback.NewPlayer(s.cfg, s.client)
		if err != nil {
			return nil, err
		}
		s.player = p
	}
	s.playback = playback.NewController(s.player, s.client)
	if s.onEnd != nil {
		s.playback.OnEnd(s.onEnd)
	}
	return s.playback, nil
}

// Extract sends an image for text extraction. The previous result is
// cleared before the request, so a failure leaves none.
func (s *DyslexiviewService) Extract(ctx context.Context, filename string, image io.Reader) (*api.ExtractResult, error) {
	s.stateMu.Lock()
	s.lastExtract = nil
	s.stateMu.Unlock()

	result, err := s.client.Extract(ctx, filename, image)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to process image: %v", err))
		return nil, err
	}
	s.clearLastError()

	s.stateMu.Lock()
	s.lastExtract = result
	s.stateMu.Unlock()
	return result, nil
}

// LastExtract returns the most recent successful extraction, or nil
func (s *DyslexiviewService) LastExtract() *api.ExtractResult {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastExtract
}

// AssetURL resolves a service-relative asset path returned by Extract
func (s *DyslexiviewService) AssetURL(path string) string {
	return s.client.AssetURL(path)
}

// GetConfig returns the current configuration
func (s *DyslexiviewService) GetConfig() *config.Config {
	return s.cfg
}

// Close finishes any running recording, stops the catalog and playback
func (s *DyslexiviewService) Close() error {
	var errs []error
	if s.session.Recording() {
		slog.Info("Finalizing recording before shutdown")
		timeout := s.cfg.Server.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if _, err := s.StopRecording(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	s.catalog.Stop()

	s.playerMu.Lock()
	ctrl := s.playback
	s.playerMu.Unlock()
	if ctrl != nil {
		if err := ctrl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetLastError returns the last error message (thread-safe)
func (s *DyslexiviewService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *DyslexiviewService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *DyslexiviewService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
