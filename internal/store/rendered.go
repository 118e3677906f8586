package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
)

// RenderedCache holds color-mapped PNG bytes. It is a presentation
// cache, but its invalidation is driven by the same keys as the
// thumbnail store, so it lives here.
type RenderedCache struct {
	cache *bigcache.BigCache
}

// NewRenderedCache creates the rendered-image byte cache with a hard
// size ceiling in megabytes.
func NewRenderedCache(sizeMB int, ttl time.Duration) (*RenderedCache, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	cfg := bigcache.Config{
		Shards:             256,
		LifeWindow:         ttl,
		CleanWindow:        ttl / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024,
		HardMaxCacheSize:   sizeMB,
		Verbose:            false,
	}
	cache, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("rendered cache: %w", err)
	}
	return &RenderedCache{cache: cache}, nil
}

// Get returns the PNG for a rendered key.
func (c *RenderedCache) Get(key RenderedKey) ([]byte, bool) {
	data, err := c.cache.Get(key.String())
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores the PNG for a rendered key.
func (c *RenderedCache) Set(key RenderedKey, png []byte) {
	if err := c.cache.Set(key.String(), png); err != nil {
		// Entry larger than the cache allows; serving uncached is fine.
		return
	}
}

// InvalidateAll drops every rendered image.
func (c *RenderedCache) InvalidateAll() {
	c.cache.Reset() //nolint:errcheck // Reset only fails on a closed cache.
}

// InvalidatePaths removes rendered images for the given header paths.
// Keys embed the header path as their first segment.
func (c *RenderedCache) InvalidatePaths(paths []string) {
	prefixes := make([]string, len(paths))
	for i, p := range paths {
		prefixes[i] = p + "|"
	}
	it := c.cache.Iterator()
	var doomed []string
	for it.SetNext() {
		entry, err := it.Value()
		if err != nil {
			continue
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(entry.Key(), prefix) {
				doomed = append(doomed, entry.Key())
				break
			}
		}
	}
	for _, key := range doomed {
		c.cache.Delete(key) //nolint:errcheck // already-evicted keys are fine
	}
}

// Len returns the entry count.
func (c *RenderedCache) Len() int {
	return c.cache.Len()
}

// Close releases the cache.
func (c *RenderedCache) Close() error {
	return c.cache.Close()
}
