package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grainery.core/internal/core/domain"
)

type stubFetcher struct {
	mu      sync.Mutex
	fetches map[domain.Locator]int
	payload func(loc domain.Locator) []byte
	err     error
	block   chan struct{} // when set, Fetch waits on it
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{fetches: make(map[domain.Locator]int)}
}

func (s *stubFetcher) Fetch(ctx context.Context, loc domain.Locator) ([]byte, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.fetches[loc]++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.payload != nil {
		return s.payload(loc), nil
	}
	return []byte("payload:" + string(loc)), nil
}

func (s *stubFetcher) fetchCount(loc domain.Locator) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[loc]
}

type stubReader struct {
	readable map[domain.Locator][]byte
	err      error
}

func (s *stubReader) CanRead(loc domain.Locator) bool {
	return strings.HasPrefix(string(loc), "file://")
}

func (s *stubReader) Read(ctx context.Context, loc domain.Locator) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if b, ok := s.readable[loc]; ok {
		return b, nil
	}
	return nil, errors.New("no such file")
}

func TestResolveHitAndMissAccounting(t *testing.T) {
	fetcher := newStubFetcher()
	c := New(Options{MaxEntries: 8, MaxBytes: 1 << 20, TTL: time.Minute}, nil, fetcher)

	first, err := c.Resolve(context.Background(), "frame-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload:frame-1"), first)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits, "a successful read counts as a hit even when it filled the entry")
	assert.Equal(t, uint64(1), stats.Misses)

	second, err := c.Resolve(context.Background(), "frame-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stats = c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses, "the second read is answered from cache")
	assert.Equal(t, 1, fetcher.fetchCount("frame-1"))
	assert.Equal(t, 1, stats.CurrentCount)
}

func TestEvictionOnEntryBound(t *testing.T) {
	fetcher := newStubFetcher()
	c := New(Options{MaxEntries: 2, MaxBytes: 1 << 20, TTL: time.Minute}, nil, fetcher)

	ctx := context.Background()
	for _, loc := range []domain.Locator{"a", "b", "c"} {
		_, err := c.Resolve(ctx, loc)
		require.NoError(t, err)
	}

	stats := c.Stats()
	assert.Equal(t, 2, stats.CurrentCount)
	assert.Equal(t, uint64(1), stats.Evictions)

	// "a" was least recently used and must be gone.
	_, err := c.Resolve(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.fetchCount("a"))
	assert.Equal(t, 1, fetcher.fetchCount("b"))
}

func TestEvictionOnByteBudget(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.payload = func(domain.Locator) []byte { return make([]byte, 10) }
	c := New(Options{MaxEntries: 100, MaxBytes: 25, TTL: time.Minute}, nil, fetcher)

	ctx := context.Background()
	for _, loc := range []domain.Locator{"a", "b", "c"} {
		_, err := c.Resolve(ctx, loc)
		require.NoError(t, err)
	}

	// Three 10-byte payloads exceed the 25-byte budget: the oldest goes.
	stats := c.Stats()
	assert.Equal(t, 2, stats.CurrentCount)
	assert.Equal(t, int64(20), stats.CurrentBytes)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, []domain.Locator{"c", "b"}, c.ResidentLocators())
}

func TestRecencyProtectsHotEntries(t *testing.T) {
	fetcher := newStubFetcher()
	c := New(Options{MaxEntries: 2, MaxBytes: 1 << 20, TTL: time.Minute}, nil, fetcher)

	ctx := context.Background()
	_, _ = c.Resolve(ctx, "a")
	_, _ = c.Resolve(ctx, "b")
	_, _ = c.Resolve(ctx, "a") // touch "a" so "b" becomes the LRU victim
	_, _ = c.Resolve(ctx, "c")

	assert.Equal(t, 1, fetcher.fetchCount("a"))
	_, _ = c.Resolve(ctx, "b")
	assert.Equal(t, 2, fetcher.fetchCount("b"), "b was evicted, not a")
}

func TestOversizedPayloadBypassesCache(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.payload = func(domain.Locator) []byte { return make([]byte, 60) }
	c := New(Options{MaxEntries: 8, MaxBytes: 100, TTL: time.Minute}, nil, fetcher)

	ctx := context.Background()
	payload, err := c.Resolve(ctx, "huge")
	require.NoError(t, err)
	assert.Len(t, payload, 60)

	// Larger than half the budget: served but never stored.
	stats := c.Stats()
	assert.Equal(t, 0, stats.CurrentCount)
	assert.Equal(t, int64(0), stats.CurrentBytes)

	_, err = c.Resolve(ctx, "huge")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.fetchCount("huge"))
}

func TestTTLExpiry(t *testing.T) {
	now := time.Now()
	fetcher := newStubFetcher()
	c := New(Options{
		MaxEntries: 8, MaxBytes: 1 << 20, TTL: time.Minute,
		Now: func() time.Time { return now },
	}, nil, fetcher)

	ctx := context.Background()
	_, err := c.Resolve(ctx, "frame-1")
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	_, _ = c.Resolve(ctx, "frame-1")
	assert.Equal(t, 1, fetcher.fetchCount("frame-1"), "still fresh")

	now = now.Add(2 * time.Second)
	_, _ = c.Resolve(ctx, "frame-1")
	assert.Equal(t, 2, fetcher.fetchCount("frame-1"), "expired entries resolve again")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions, "expiry counts as an eviction")
}

func TestSweepRemovesExpired(t *testing.T) {
	now := time.Now()
	c := New(Options{
		MaxEntries: 8, MaxBytes: 1 << 20, TTL: time.Minute,
		Now: func() time.Time { return now },
	}, nil, newStubFetcher())

	ctx := context.Background()
	_, _ = c.Resolve(ctx, "old")
	now = now.Add(30 * time.Second)
	_, _ = c.Resolve(ctx, "new")

	now = now.Add(45 * time.Second) // "old" is 75s old, "new" 45s
	c.Sweep()

	assert.Equal(t, []domain.Locator{"new"}, c.ResidentLocators())
}

func TestConcurrentResolvesCoalesce(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.block = make(chan struct{})
	c := New(Options{MaxEntries: 8, MaxBytes: 1 << 20, TTL: time.Minute}, nil, fetcher)

	ctx := context.Background()
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Resolve(ctx, "frame-1"); err != nil {
				failures.Add(1)
			}
		}()
	}

	time.Sleep(10 * time.Millisecond) // let the goroutines pile up
	close(fetcher.block)
	wg.Wait()

	require.Equal(t, int32(0), failures.Load())
	assert.Equal(t, 1, fetcher.fetchCount("frame-1"), "overlapping resolves share one fetch")
}

func TestLocalReadPreferredWithFetchFallback(t *testing.T) {
	reader := &stubReader{readable: map[domain.Locator][]byte{
		"file:///photos/a.dng": []byte("from-disk"),
	}}
	fetcher := newStubFetcher()
	c := New(Options{MaxEntries: 8, MaxBytes: 1 << 20, TTL: time.Minute}, reader, fetcher)

	ctx := context.Background()
	payload, err := c.Resolve(ctx, "file:///photos/a.dng")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-disk"), payload)
	assert.Equal(t, 0, fetcher.fetchCount("file:///photos/a.dng"))

	// Readable scheme but missing on disk: falls through to the fetcher.
	payload, err = c.Resolve(ctx, "file:///photos/missing.dng")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload:file:///photos/missing.dng"), payload)
}

func TestResolveFailureSurfacesResourceUnavailable(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.err = errors.New("504 gateway timeout")
	c := New(Options{MaxEntries: 8, MaxBytes: 1 << 20, TTL: time.Minute}, nil, fetcher)

	_, err := c.Resolve(context.Background(), "frame-1")
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)

	// Failures are never cached.
	stats := c.Stats()
	assert.Equal(t, 0, stats.CurrentCount)

	fetcher.err = nil
	_, err = c.Resolve(context.Background(), "frame-1")
	assert.NoError(t, err)
}

func TestInvalidateAndClear(t *testing.T) {
	fetcher := newStubFetcher()
	c := New(Options{MaxEntries: 8, MaxBytes: 1 << 20, TTL: time.Minute}, nil, fetcher)

	ctx := context.Background()
	_, _ = c.Resolve(ctx, "a")
	_, _ = c.Resolve(ctx, "b")

	c.Invalidate("a")
	assert.Equal(t, []domain.Locator{"b"}, c.ResidentLocators())

	c.Clear()
	stats := c.Stats()
	assert.Equal(t, 0, stats.CurrentCount)
	assert.Equal(t, int64(0), stats.CurrentBytes)
	assert.Equal(t, uint64(2), stats.Misses, "counters survive a clear")
}

func TestWarmSkipsResident(t *testing.T) {
	fetcher := newStubFetcher()
	c := New(Options{MaxEntries: 8, MaxBytes: 1 << 20, TTL: time.Minute, WarmConcurrency: 2}, nil, fetcher)

	ctx := context.Background()
	_, _ = c.Resolve(ctx, "resident")

	c.Warm(ctx, []domain.Locator{"resident", "cold-1", "cold-2"})

	require.Eventually(t, func() bool {
		return c.Stats().CurrentCount == 3
	}, time.Second, time.Millisecond)

	assert.Equal(t, 1, fetcher.fetchCount("resident"), "resident locators are not re-fetched")
	assert.Equal(t, 1, fetcher.fetchCount("cold-1"))
	assert.Equal(t, 1, fetcher.fetchCount("cold-2"))
}

func TestDefaultOptions(t *testing.T) {
	c := New(Options{}, nil, newStubFetcher())
	assert.Equal(t, 256, c.opts.MaxEntries)
	assert.Equal(t, int64(512*1024*1024), c.opts.MaxBytes)
	assert.Equal(t, 15*time.Minute, c.opts.TTL)
	assert.Equal(t, 4, c.opts.WarmConcurrency)
}

func TestResolveManyDistinctLocators(t *testing.T) {
	fetcher := newStubFetcher()
	c := New(Options{MaxEntries: 4, MaxBytes: 1 << 20, TTL: time.Minute}, nil, fetcher)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		loc := domain.Locator(fmt.Sprintf("frame-%d", i))
		payload, err := c.Resolve(ctx, loc)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload:"+string(loc)), payload)
	}

	stats := c.Stats()
	assert.Equal(t, 4, stats.CurrentCount)
	assert.Equal(t, uint64(16), stats.Evictions)
}
