// Package catalog keeps a live copy of the recordings the service stores.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dyslexiview/dyslexiview/internal/api"
)

// DefaultInterval is the refresh period when none is configured.
const DefaultInterval = 5 * time.Second

// Fetcher lists every stored recording. *api.Client satisfies it.
type Fetcher interface {
	ListRecordings(ctx context.Context) ([]api.Recording, error)
}

// Feed pushes full recording lists as the service publishes them. Subscribe
// blocks until ctx ends or the subscription drops.
type Feed interface {
	Subscribe(ctx context.Context, update func([]api.Recording)) error
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithInterval sets the polling period.
func WithInterval(d time.Duration) Option {
	return func(c *Catalog) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithFeed subscribes to push updates, polling only when the feed fails.
func WithFeed(feed Feed) Option {
	return func(c *Catalog) {
		c.feed = feed
	}
}

// Catalog holds the most recent recordings list. Every successful fetch
// replaces the list wholesale; failures keep the previous one.
type Catalog struct {
	fetcher  Fetcher
	feed     Feed
	interval time.Duration

	mu         sync.RWMutex
	recordings []api.Recording
	updatedAt  time.Time
	lastErr    error
	observers  []func([]api.Recording)

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped catalog with an empty list.
func New(fetcher Fetcher, opts ...Option) *Catalog {
	c := &Catalog{
		fetcher:    fetcher,
		interval:   DefaultInterval,
		recordings: []api.Recording{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnUpdate registers fn to receive each replacement list.
func (c *Catalog) OnUpdate(fn func([]api.Recording)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Start fetches the list immediately and keeps it fresh until Stop or until
// ctx is cancelled. Calling Start on a running catalog does nothing.
func (c *Catalog) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	_ = c.refresh(runCtx)
	go c.run(runCtx, c.done)
}

// Stop cancels the refresh loop and waits for it to exit. Results of a fetch
// still in flight are discarded.
func (c *Catalog) Stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the refresh loop is active.
func (c *Catalog) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.cancel != nil
}

// Refresh fetches the list once, outside the regular schedule.
func (c *Catalog) Refresh(ctx context.Context) error {
	return c.refresh(ctx)
}

// Recordings returns a copy of the current list.
func (c *Catalog) Recordings() []api.Recording {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]api.Recording, len(c.recordings))
	copy(out, c.recordings)
	return out
}

// Find looks a recording up by id in the current list.
func (c *Catalog) Find(id string) (api.Recording, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rec := range c.recordings {
		if rec.ID == id {
			return rec, true
		}
	}
	return api.Recording{}, false
}

// UpdatedAt returns when the list was last replaced.
func (c *Catalog) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

// LastError returns the error of the most recent fetch, or nil.
func (c *Catalog) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Catalog) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	if c.feed != nil {
		slog.Debug("Subscribing to recordings feed")
		err := c.feed.Subscribe(ctx, func(recs []api.Recording) {
			if ctx.Err() == nil {
				c.replace(recs)
			}
		})
		if ctx.Err() != nil {
			return
		}
		slog.Warn("Recordings feed unavailable, falling back to polling",
			"error", err, "interval", c.interval)
		_ = c.refresh(ctx)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.refresh(ctx)
		}
	}
}

func (c *Catalog) refresh(ctx context.Context) error {
	recs, err := c.fetcher.ListRecordings(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		slog.Error("Error fetching recordings", "error", err)
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	c.replace(recs)
	return nil
}

func (c *Catalog) replace(recs []api.Recording) {
	list := make([]api.Recording, len(recs))
	copy(list, recs)

	c.mu.Lock()
	c.recordings = list
	c.updatedAt = time.Now()
	c.lastErr = nil
	observers := append([]func([]api.Recording){}, c.observers...)
	c.mu.Unlock()

	slog.Debug("Recordings updated", "count", len(list))
	for _, fn := range observers {
		out := make([]api.Recording, len(list))
		copy(out, list)
		fn(out)
	}
}
