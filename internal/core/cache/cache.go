// Package cache provides a bounded, expiring cache over file-like resources
// reachable by local filesystem access or network fetch.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"grainery.core/internal/core/domain"
	"grainery.core/internal/core/logger"
	"grainery.core/internal/core/ports"
)

type Options struct {
	MaxEntries      int
	MaxBytes        int64
	TTL             time.Duration
	WarmConcurrency int

	// Now is overridable for tests. Defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	loc         domain.Locator
	payload     []byte
	size        int64
	insertedAt  time.Time
	lastAccess  time.Time
	accessCount int64
}

// Cache resolves locators through a local reader when possible, a network
// fetcher otherwise, and keeps successful payloads under an entry-count
// bound, a byte budget, and a TTL. Overlapping resolves for the same
// locator coalesce into a single underlying fetch.
type Cache struct {
	opts    Options
	reader  ports.LocalReader    // optional
	fetcher ports.ResourceFetcher // optional
	now     func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[domain.Locator]*list.Element
	lru     *list.List // front = most recently accessed
	bytes   int64

	hits      uint64
	misses    uint64
	evictions uint64
}

func New(opts Options, reader ports.LocalReader, fetcher ports.ResourceFetcher) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 256
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 512 * 1024 * 1024
	}
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.WarmConcurrency <= 0 {
		opts.WarmConcurrency = 4
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		opts:    opts,
		reader:  reader,
		fetcher: fetcher,
		now:     now,
		entries: make(map[domain.Locator]*list.Element),
		lru:     list.New(),
	}
}

// Resolve returns the bytes for loc: cache hit within TTL first, then local
// read, then network fetch. Every successful resolution is cached, except
// payloads larger than half the byte budget.
func (c *Cache) Resolve(ctx context.Context, loc domain.Locator) ([]byte, error) {
	if payload, ok := c.lookup(loc); ok {
		c.countHit()
		return payload, nil
	}

	v, err, _ := c.group.Do(string(loc), func() (any, error) {
		// Another flight may have filled the entry while we queued.
		if payload, ok := c.lookup(loc); ok {
			return payload, nil
		}

		payload, err := c.resolveUnderlying(ctx, loc)
		if err != nil {
			return nil, err
		}
		c.countMiss()
		c.insert(loc, payload)
		return payload, nil
	})
	if err != nil {
		return nil, err
	}

	c.countHit()
	return v.([]byte), nil
}

func (c *Cache) resolveUnderlying(ctx context.Context, loc domain.Locator) ([]byte, error) {
	if c.reader != nil && c.reader.CanRead(loc) {
		payload, err := c.reader.Read(ctx, loc)
		if err == nil {
			return payload, nil
		}
		logger.Debug("local read failed, falling back to fetch", "locator", loc, "error", err)
	}
	if c.fetcher == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrResourceUnavailable, loc)
	}
	payload, err := c.fetcher.Fetch(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrResourceUnavailable, loc, err)
	}
	return payload, nil
}

// lookup returns the payload when resident and unexpired, touching the
// entry. Expired entries are removed on the way.
func (c *Cache) lookup(loc domain.Locator) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[loc]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	now := c.now()
	if now.Sub(e.insertedAt) >= c.opts.TTL {
		c.removeLocked(el)
		c.evictions++
		return nil, false
	}
	e.lastAccess = now
	e.accessCount++
	c.lru.MoveToFront(el)
	return e.payload, true
}

func (c *Cache) insert(loc domain.Locator, payload []byte) {
	size := int64(len(payload))
	// One oversized payload must not flush the whole cache.
	if size > c.opts.MaxBytes/2 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[loc]; ok {
		c.removeLocked(el)
	}

	now := c.now()
	el := c.lru.PushFront(&entry{
		loc:         loc,
		payload:     payload,
		size:        size,
		insertedAt:  now,
		lastAccess:  now,
		accessCount: 1,
	})
	c.entries[loc] = el
	c.bytes += size

	for len(c.entries) > c.opts.MaxEntries || c.bytes > c.opts.MaxBytes {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.entries, e.loc)
	c.bytes -= e.size
}

// Invalidate drops a single entry.
func (c *Cache) Invalidate(loc domain.Locator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[loc]; ok {
		c.removeLocked(el)
	}
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[domain.Locator]*list.Element)
	c.lru.Init()
	c.bytes = 0
}

// Sweep removes every expired entry.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if e := el.Value.(*entry); now.Sub(e.insertedAt) >= c.opts.TTL {
			c.removeLocked(el)
			c.evictions++
		}
		el = prev
	}
}

// StartSweeper runs periodic sweeps until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

func (c *Cache) Stats() domain.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CacheStats{
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		CurrentCount: len(c.entries),
		CurrentBytes: c.bytes,
	}
}

// ResidentLocators snapshots the resident keys, most recent first. Used to
// persist the warm-start index.
func (c *Cache) ResidentLocators() []domain.Locator {
	c.mu.Lock()
	defer c.mu.Unlock()
	locs := make([]domain.Locator, 0, len(c.entries))
	for el := c.lru.Front(); el != nil; el = el.Next() {
		locs = append(locs, el.Value.(*entry).loc)
	}
	return locs
}

// Warm resolves locators in the background with bounded concurrency,
// skipping anything already resident. Best-effort: failures are logged and
// the caller is never blocked.
func (c *Cache) Warm(ctx context.Context, locators []domain.Locator) {
	sem := semaphore.NewWeighted(int64(c.opts.WarmConcurrency))
	go func() {
		var wg sync.WaitGroup
		for _, loc := range locators {
			if c.resident(loc) {
				continue
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			wg.Add(1)
			go func(loc domain.Locator) {
				defer sem.Release(1)
				defer wg.Done()
				if _, err := c.Resolve(ctx, loc); err != nil {
					logger.Debug("warm resolve failed", "locator", loc, "error", err)
				}
			}(loc)
		}
		wg.Wait()
	}()
}

// resident peeks without touching access order or counters.
func (c *Cache) resident(loc domain.Locator) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[loc]
	if !ok {
		return false
	}
	return c.now().Sub(el.Value.(*entry).insertedAt) < c.opts.TTL
}

func (c *Cache) countHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) countMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}
