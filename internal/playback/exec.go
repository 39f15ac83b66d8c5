package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"strings"
	"sync"
	"time"
)

// Downloader fetches an audio asset. *api.Client satisfies it.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// preferredPlayers lists external players in order of preference.
var preferredPlayers = []string{"vlc", "mpv", "ffplay", "aplay"}

// ExecPlayer downloads the asset to a temporary file and plays it with an
// external command-line player.
type ExecPlayer struct {
	downloader Downloader
	command    string
}

// NewExecPlayer picks the first installed player from vlc, mpv, ffplay and
// aplay.
func NewExecPlayer(downloader Downloader) (*ExecPlayer, error) {
	command, err := findAudioPlayer(exec.LookPath)
	if err != nil {
		return nil, err
	}
	return &ExecPlayer{downloader: downloader, command: command}, nil
}

func (p *ExecPlayer) Name() string {
	return p.command
}

func (p *ExecPlayer) Open(ctx context.Context, url string) (Handle, error) {
	data, err := p.downloader.Download(ctx, url)
	if err != nil {
		return nil, err
	}

	ext := path.Ext(url)
	if ext == "" {
		ext = ".wav"
	}
	if p.command == "aplay" && ext != ".wav" {
		return nil, fmt.Errorf("aplay requires WAV audio, got %s", ext)
	}

	f, err := os.CreateTemp("", "dyslexiview-play-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create playback file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write playback file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("write playback file: %w", err)
	}

	return &execHandle{
		command: p.command,
		file:    f.Name(),
		done:    make(chan struct{}),
	}, nil
}

func findAudioPlayer(lookPath func(string) (string, error)) (string, error) {
	for _, player := range preferredPlayers {
		if _, err := lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(preferredPlayers, ", "))
}

func playerArgs(command, file string) []string {
	switch command {
	case "vlc":
		return []string{"--intf", "dummy", "--play-and-exit", file}
	case "mpv":
		return []string{"--no-video", "--really-quiet", file}
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "error", file}
	default:
		return []string{file}
	}
}

// execHandle runs one player process at a time. External players cannot be
// paused from outside, so Pause ends the process and the next Play starts
// again from the beginning.
type execHandle struct {
	command string
	file    string

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	stopped bool
	closed  bool

	done     chan struct{}
	doneOnce sync.Once
}

func (h *execHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("playback handle closed")
	}
	if h.cmd != nil {
		return nil
	}

	cmd := exec.Command(h.command, playerArgs(h.command, h.file)...)
	slog.Debug("Starting audio player", "command", h.command, "file", h.file)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", h.command, err)
	}

	exited := make(chan struct{})
	h.cmd = cmd
	h.exited = exited
	h.stopped = false
	go h.wait(cmd, exited)
	return nil
}

func (h *execHandle) wait(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()

	h.mu.Lock()
	natural := !h.stopped && h.cmd == cmd
	if h.cmd == cmd {
		h.cmd = nil
	}
	h.mu.Unlock()
	close(exited)

	if !natural {
		return
	}
	if err != nil {
		slog.Warn("Audio player exited with error", "command", h.command, "error", err)
	}
	h.doneOnce.Do(func() { close(h.done) })
}

// Pause interrupts the player and waits up to five seconds before killing it.
func (h *execHandle) Pause() error {
	h.mu.Lock()
	cmd, exited := h.cmd, h.exited
	if cmd == nil {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to interrupt audio player, killing", "error", err)
		_ = cmd.Process.Kill()
	}
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		slog.Warn("Audio player did not exit within timeout, force killing")
		_ = cmd.Process.Kill()
		<-exited
	}
	return nil
}

// Rewind is implicit: every Play after Pause restarts the file.
func (h *execHandle) Rewind() error {
	return nil
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}

func (h *execHandle) Close() error {
	if err := h.Pause(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := os.Remove(h.file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove playback file: %w", err)
	}
	return nil
}
