// Package playback plays recordings one at a time. Starting a new item
// pauses, rewinds and releases whatever was playing before.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dyslexiview/dyslexiview/internal/api"
)

var (
	// ErrNothingPlaying is returned by Stop when no handle is live.
	ErrNothingPlaying = errors.New("nothing is playing")
	// ErrPlaybackStopped is returned by Play when Stop or a newer Play ran
	// while the audio was still loading.
	ErrPlaybackStopped = errors.New("playback stopped while loading")
)

// Handle is one loaded audio item. Done is closed when playback reaches the
// end on its own, never when it is paused or closed.
type Handle interface {
	Play() error
	Pause() error
	Rewind() error
	Done() <-chan struct{}
	Close() error
}

// Player loads the audio at url into a Handle.
type Player interface {
	Open(ctx context.Context, url string) (Handle, error)
	Name() string
}

// URLResolver maps a recording filename to its asset URL. *api.Client
// satisfies it.
type URLResolver interface {
	AudioURL(filename string, enhanced bool) string
}

// NowPlaying describes the live handle.
type NowPlaying struct {
	Recording api.Recording `json:"recording"`
	Enhanced  bool          `json:"enhanced"`
	URL       string        `json:"url"`
	StartedAt time.Time     `json:"started_at"`
}

type active struct {
	info     NowPlaying
	handle   Handle
	released chan struct{}
}

// Controller owns the single live playback handle.
type Controller struct {
	player Player
	urls   URLResolver

	// playMu orders concurrent Play calls; mu guards the fields below and is
	// never held while audio loads.
	playMu  sync.Mutex
	mu      sync.Mutex
	current *active
	gen     uint64
	onEnd   func(NowPlaying)
}

// NewController returns an idle controller.
func NewController(player Player, urls URLResolver) *Controller {
	return &Controller{player: player, urls: urls}
}

// OnEnd registers fn to run when an item finishes on its own.
func (c *Controller) OnEnd(fn func(NowPlaying)) {
	c.mu.Lock()
	c.onEnd = fn
	c.mu.Unlock()
}

// Play starts rec, or its enhanced variant. A live handle is paused and
// rewound before the new one loads.
func (c *Controller) Play(ctx context.Context, rec api.Recording, enhanced bool) error {
	url := c.urls.AudioURL(rec.Filename, enhanced)

	c.playMu.Lock()
	defer c.playMu.Unlock()

	c.mu.Lock()
	if c.current != nil {
		c.releaseLocked(c.current)
		c.current = nil
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	handle, err := c.player.Open(ctx, url)
	if err != nil {
		slog.Error("Failed to load audio", "url", url, "error", err)
		return fmt.Errorf("load %s: %w", rec.Filename, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		_ = handle.Close()
		slog.Debug("Playback stopped before audio loaded", "id", rec.ID)
		return fmt.Errorf("play %s: %w", rec.Filename, ErrPlaybackStopped)
	}
	if err := handle.Play(); err != nil {
		_ = handle.Close()
		slog.Error("Failed to start playback", "url", url, "error", err)
		return fmt.Errorf("play %s: %w", rec.Filename, err)
	}

	cur := &active{
		info: NowPlaying{
			Recording: rec,
			Enhanced:  enhanced,
			URL:       url,
			StartedAt: time.Now(),
		},
		handle:   handle,
		released: make(chan struct{}),
	}
	c.current = cur
	slog.Info("Playing recording", "id", rec.ID, "url", url, "player", c.player.Name())

	go c.watch(cur)
	return nil
}

// Current returns the live item, if any.
func (c *Controller) Current() (NowPlaying, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return NowPlaying{}, false
	}
	return c.current.info, true
}

// Stop pauses, rewinds and releases the live handle. A Play still loading
// its audio is abandoned.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.current == nil {
		return ErrNothingPlaying
	}
	c.releaseLocked(c.current)
	c.current = nil
	return nil
}

// Close releases the live handle, if any.
func (c *Controller) Close() error {
	if err := c.Stop(); err != nil && !errors.Is(err, ErrNothingPlaying) {
		return err
	}
	return nil
}

func (c *Controller) releaseLocked(cur *active) {
	slog.Debug("Stopping previous playback", "id", cur.info.Recording.ID)
	if err := cur.handle.Pause(); err != nil {
		slog.Warn("Failed to pause playback", "error", err)
	}
	if err := cur.handle.Rewind(); err != nil {
		slog.Warn("Failed to rewind playback", "error", err)
	}
	if err := cur.handle.Close(); err != nil {
		slog.Warn("Failed to release playback", "error", err)
	}
	close(cur.released)
}

// watch clears the reference when cur ends on its own. It returns as soon
// as cur is released, since a paused or closed handle never reports an end.
func (c *Controller) watch(cur *active) {
	select {
	case <-cur.handle.Done():
	case <-cur.released:
		return
	}

	c.mu.Lock()
	if c.current != cur {
		c.mu.Unlock()
		return
	}
	c.current = nil
	onEnd := c.onEnd
	c.mu.Unlock()

	if err := cur.handle.Close(); err != nil {
		slog.Debug("Failed to release finished playback", "error", err)
	}
	slog.Info("Playback completed", "id", cur.info.Recording.ID)
	if onEnd != nil {
		onEnd(cur.info)
	}
}
