package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyslexiview/dyslexiview/internal/api"
)

// scriptedFetcher replays results in order and repeats the last one.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	recs []api.Recording
	err  error
}

func (f *scriptedFetcher) ListRecordings(ctx context.Context) ([]api.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i].recs, f.results[i].err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var (
	listA = []api.Recording{{ID: "1", Filename: "rec_1.wav", Timestamp: 100}}
	listB = []api.Recording{
		{ID: "2", Filename: "rec_2.wav", Timestamp: 200, Enhanced: true},
		{ID: "3", Filename: "rec_3.wav", Timestamp: 300},
	}
)

func TestCatalog_StartFetchesImmediately(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{recs: listA}}}
	c := New(f, WithInterval(time.Hour))

	c.Start(context.Background())
	defer c.Stop()

	assert.Equal(t, listA, c.Recordings())
	assert.Equal(t, 1, f.callCount())
	assert.False(t, c.UpdatedAt().IsZero())
	assert.True(t, c.Running())
}

func TestCatalog_PollReplacesWholeList(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{recs: listA}, {recs: listB}}}
	c := New(f, WithInterval(10*time.Millisecond))

	c.Start(context.Background())
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return len(c.Recordings()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, listB, c.Recordings())

	_, found := c.Find("1")
	assert.False(t, found, "entries from the previous list must not survive a replacement")
	rec, found := c.Find("2")
	assert.True(t, found)
	assert.True(t, rec.Enhanced)
}

func TestCatalog_FailureKeepsPreviousList(t *testing.T) {
	boom := errors.New("connection refused")
	f := &scriptedFetcher{results: []fetchResult{{recs: listA}, {err: boom}}}
	c := New(f, WithInterval(10*time.Millisecond))

	c.Start(context.Background())
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return f.callCount() >= 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, listA, c.Recordings())
	assert.ErrorIs(t, c.LastError(), boom)
}

func TestCatalog_InitialFailureLeavesEmptyList(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{err: errors.New("down")}}}
	c := New(f, WithInterval(time.Hour))

	c.Start(context.Background())
	defer c.Stop()

	recs := c.Recordings()
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
	assert.Error(t, c.LastError())
}

func TestCatalog_StopCancelsInterval(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{recs: listA}}}
	c := New(f, WithInterval(5*time.Millisecond))

	c.Start(context.Background())
	assert.Eventually(t, func() bool { return f.callCount() >= 2 }, time.Second, time.Millisecond)

	c.Stop()
	assert.False(t, c.Running())
	calls := f.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, f.callCount())

	// Stopping twice is harmless.
	c.Stop()
}

func TestCatalog_StartTwiceRunsOneLoop(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{recs: listA}}}
	c := New(f, WithInterval(time.Hour))

	c.Start(context.Background())
	c.Start(context.Background())
	defer c.Stop()

	assert.Equal(t, 1, f.callCount())
}

func TestCatalog_ObserversSeeEachReplacement(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{recs: listA}, {recs: listB}}}
	c := New(f, WithInterval(time.Hour))

	var mu sync.Mutex
	var seen [][]api.Recording
	c.OnUpdate(func(recs []api.Recording) {
		mu.Lock()
		seen = append(seen, recs)
		mu.Unlock()
	})

	c.Start(context.Background())
	defer c.Stop()
	require.NoError(t, c.Refresh(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, listA, seen[0])
	assert.Equal(t, listB, seen[1])
}

func TestCatalog_RecordingsReturnsCopy(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{recs: listB}}}
	c := New(f)
	require.NoError(t, c.Refresh(context.Background()))

	recs := c.Recordings()
	recs[0].Filename = "mutated.wav"
	assert.Equal(t, "rec_2.wav", c.Recordings()[0].Filename)
}

type failingFeed struct {
	calls int
}

func (f *failingFeed) Subscribe(ctx context.Context, update func([]api.Recording)) error {
	f.calls++
	return errors.New("dial tcp: connection refused")
}

func TestCatalog_FeedFailureFallsBackToPolling(t *testing.T) {
	feed := &failingFeed{}
	f := &scriptedFetcher{results: []fetchResult{{recs: listA}, {recs: listA}, {recs: listB}}}
	c := New(f, WithInterval(10*time.Millisecond), WithFeed(feed))

	c.Start(context.Background())
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return len(c.Recordings()) == 2
	}, time.Second, 5*time.Millisecond)
}

type channelFeed struct {
	lists chan []api.Recording
}

func (f *channelFeed) Subscribe(ctx context.Context, update func([]api.Recording)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case recs := <-f.lists:
			update(recs)
		}
	}
}

func TestCatalog_FeedPushReplacesList(t *testing.T) {
	feed := &channelFeed{lists: make(chan []api.Recording)}
	f := &scriptedFetcher{results: []fetchResult{{recs: listA}}}
	c := New(f, WithInterval(time.Millisecond), WithFeed(feed))

	c.Start(context.Background())
	feed.lists <- listB

	assert.Eventually(t, func() bool {
		return len(c.Recordings()) == 2
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	// With a live feed the poller never runs.
	assert.Equal(t, 1, f.callCount())
}
