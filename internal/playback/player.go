package playback

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dyslexiview/dyslexiview/internal/config"
)

// NewPlayer builds the player named by playback.player. "auto" prefers a
// Pulse server and falls back to an external command.
func NewPlayer(cfg *config.Config, downloader Downloader) (Player, error) {
	switch strings.ToLower(cfg.Playback.Player) {
	case "pulse":
		return NewPulsePlayer(downloader)
	case "exec":
		return NewExecPlayer(downloader)
	case "", "auto":
		p, err := NewPulsePlayer(downloader)
		if err == nil {
			return p, nil
		}
		slog.Debug("Pulse playback unavailable, trying external players", "error", err)
		return NewExecPlayer(downloader)
	default:
		return nil, fmt.Errorf("unsupported player: %s", cfg.Playback.Player)
	}
}
