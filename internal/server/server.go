package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dyslexiview/dyslexiview/internal/api"
	"github.com/dyslexiview/dyslexiview/internal/audio"
	"github.com/dyslexiview/dyslexiview/internal/capture"
	"github.com/dyslexiview/dyslexiview/internal/config"
	"github.com/dyslexiview/dyslexiview/internal/playback"
	"github.com/dyslexiview/dyslexiview/internal/service"
)

const maxImageUpload = 32 << 20

// Server exposes the service over a local JSON API and a small web page
type Server struct {
	service    service.Service
	cfg        *config.Config
	configFile string
	port       string
	sources    func(ctx context.Context) ([]audio.Device, error)
	available  func() []audio.BackendType
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status     string                 `json:"status"`
	Message    string                 `json:"message,omitempty"`
	Recording  service.RecordingState `json:"recording"`
	NowPlaying *playback.NowPlaying   `json:"now_playing,omitempty"`
	LastError  string                 `json:"last_error,omitempty"`
	Config     *ResolvedConfigInfo    `json:"resolved_config"`
}

// ResolvedConfigInfo contains configuration information for the UI
type ResolvedConfigInfo struct {
	ActiveProfile string `json:"active_profile"`
	BaseURL       string `json:"base_url"`
	Backend       string `json:"backend"`
	Input         string `json:"input"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	CatalogMode   string `json:"catalog_mode"`
	PollInterval  string `json:"poll_interval"`
	Player        string `json:"player"`
}

// RecordingsResponse represents the JSON response for recordings endpoint
type RecordingsResponse struct {
	Recordings []service.RecordingInfo `json:"recordings"`
	TotalCount int                     `json:"total_count"`
}

// PlayRequest selects a recording to play
type PlayRequest struct {
	ID       string `json:"id"`
	Enhanced bool   `json:"enhanced"`
}

// ExtractResponse carries extraction output with playable URLs
type ExtractResponse struct {
	Success          bool   `json:"success"`
	OriginalText     string `json:"original_text"`
	OriginalSoundURL string `json:"original_sound_url,omitempty"`
	SummarizedText   string `json:"summarized_text"`
	SummarySoundURL  string `json:"summary_sound_url,omitempty"`
}

// SourcesResponse represents the JSON response for sources endpoint
type SourcesResponse struct {
	Backend           string              `json:"backend"`
	AvailableBackends []audio.BackendType `json:"available_backends"`
	Sources           []audio.Device      `json:"sources"`
}

// New creates a new web server instance around svc
func New(svc service.Service, configFile string, port string) *Server {
	cfg := svc.GetConfig()
	backend := audio.NewBackend(cfg)
	return &Server{
		service:    svc,
		cfg:        cfg,
		configFile: configFile,
		port:       port,
		sources:    backend.ListSources,
		available:  audio.GetAvailableBackends,
	}
}

// Handler returns the routes served by Start
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/record/start", s.handleStartRecording)
	mux.HandleFunc("/record/stop", s.handleStopRecording)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.HandleFunc("/api/recordings", s.handleRecordings)
	mux.HandleFunc("/api/play", s.handlePlay)
	mux.HandleFunc("/api/play/stop", s.handleStopPlayback)
	mux.HandleFunc("/api/extract", s.handleExtract)
	return mux
}

// Start serves until ctx is cancelled, keeping the catalog fresh meanwhile
func (s *Server) Start(ctx context.Context) error {
	s.service.StartCatalog(ctx)
	defer s.service.StopCatalog()

	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting dyslexiview control server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port),
		"service", s.cfg.Server.BaseURL)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down control server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleIndex serves the web UI
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

// handleStartRecording opens the microphone and starts a recording
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.StartRecording(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, audio.ErrMicrophoneUnavailable) {
			status = http.StatusServiceUnavailable
		}
		s.sendErrorResponse(w, status,
			fmt.Sprintf("Failed to start recording: %v", err),
			"operation", "start_recording")
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": "Recording started",
		"status":  s.service.GetRecordingStatus().Status,
	})
}

// handleStopRecording stops the current recording and uploads it
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	result, err := s.service.StopRecording(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, capture.ErrEmptyRecording) {
			status = http.StatusUnprocessableEntity
		}
		s.sendErrorResponse(w, status,
			fmt.Sprintf("Failed to save recording: %v", err),
			"operation", "stop_recording")
		return
	}

	response := map[string]interface{}{
		"success": true,
		"message": "Not recording",
	}
	if result != nil {
		response["message"] = "Recording saved"
		response["upload"] = result
	}
	writeJSON(w, response)
}

// handleStatus returns the current status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	state := s.service.GetRecordingStatus()
	response := StatusResponse{
		Status:    string(state.Status),
		Message:   s.generateStatusMessage(state),
		Recording: state,
		LastError: s.service.GetLastError(),
		Config:    s.getResolvedConfigInfo(),
	}
	if now, ok := s.service.NowPlaying(); ok {
		response.NowPlaying = &now
	}
	writeJSON(w, response)
}

// handleRecordings returns the catalog snapshot; ?refresh=1 fetches first
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		if err := s.service.RefreshRecordings(r.Context()); err != nil {
			slog.Warn("Refresh failed, serving cached recordings", "error", err)
		}
	}

	recs := s.service.ListRecordings()
	writeJSON(w, RecordingsResponse{Recordings: recs, TotalCount: len(recs)})
}

// handlePlay starts playback of a recording by id
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var req PlayRequest
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "play")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "play")
			return
		}
		req.ID = r.FormValue("id")
		req.Enhanced, _ = strconv.ParseBool(r.FormValue("enhanced"))
	}

	if req.ID == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Recording id is required", "operation", "play")
		return
	}

	if err := s.service.Play(r.Context(), req.ID, req.Enhanced); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrRecordingNotFound):
			status = http.StatusNotFound
		case errors.Is(err, service.ErrNoEnhancedVersion), errors.Is(err, playback.ErrPlaybackStopped):
			status = http.StatusConflict
		}
		s.sendErrorResponse(w, status, err.Error(), "operation", "play", "id", req.ID)
		return
	}

	response := map[string]interface{}{
		"success": true,
		"message": "Playing",
	}
	if now, ok := s.service.NowPlaying(); ok {
		response["now_playing"] = now
	}
	writeJSON(w, response)
}

// handleStopPlayback stops the current playback
func (s *Server) handleStopPlayback(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.StopPlayback(); err != nil && !errors.Is(err, playback.ErrNothingPlaying) {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "stop_playback")
		return
	}
	writeJSON(w, map[string]interface{}{"success": true, "message": "Playback stopped"})
}

// handleExtract forwards an uploaded image to the service for extraction
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := r.ParseMultipartForm(maxImageUpload); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse upload", "operation", "extract")
		return
	}
	file, header, err := r.FormFile(api.ImageField)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "No image part", "operation", "extract")
		return
	}
	defer file.Close()

	result, err := s.service.Extract(r.Context(), header.Filename, file)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadGateway, err.Error(), "operation", "extract", "file", header.Filename)
		return
	}

	writeJSON(w, ExtractResponse{
		Success:          true,
		OriginalText:     result.OriginalText,
		OriginalSoundURL: s.service.AssetURL(result.OriginalSound),
		SummarizedText:   result.SummarizedText,
		SummarySoundURL:  s.service.AssetURL(result.SummarySound),
	})
}

// handleSources lists capture devices for the configured backend
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	devices, err := s.sources(r.Context())
	if err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable,
			fmt.Sprintf("Failed to list sources: %v", err), "operation", "sources")
		return
	}
	if devices == nil {
		devices = []audio.Device{}
	}
	writeJSON(w, SourcesResponse{
		Backend:           s.cfg.Audio.Backend,
		AvailableBackends: s.available(),
		Sources:           devices,
	})
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	profiles, err := config.ListProfiles(s.configFile)
	if err != nil {
		profiles = []string{}
	}
	writeJSON(w, map[string]interface{}{
		"profiles":       profiles,
		"active_profile": s.cfg.Profile,
	})
}

func (s *Server) getResolvedConfigInfo() *ResolvedConfigInfo {
	return &ResolvedConfigInfo{
		ActiveProfile: s.cfg.Profile,
		BaseURL:       s.cfg.Server.BaseURL,
		Backend:       s.cfg.Audio.Backend,
		Input:         s.cfg.Audio.Input,
		SampleRate:    s.cfg.Audio.SampleRate,
		Channels:      s.cfg.Audio.Channels,
		CatalogMode:   s.cfg.Catalog.Mode,
		PollInterval:  s.cfg.Catalog.PollInterval.String(),
		Player:        s.cfg.Playback.Player,
	}
}

// generateStatusMessage creates appropriate status messages based on current state
func (s *Server) generateStatusMessage(state service.RecordingState) string {
	switch state.Status {
	case capture.StatusStarting:
		return "Waiting for microphone access"
	case capture.StatusRecording:
		return fmt.Sprintf("Recording %s", state.ElapsedDisplay)
	case capture.StatusStopping:
		return "Saving recording"
	default:
		if state.Uploading {
			return "Uploading recording"
		}
		return ""
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
