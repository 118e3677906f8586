package store

import (
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sxmview/server/internal/grid"
)

// The three grid tiers share the same discipline: a bounded LRU whose
// lookup+promote and insert+evict run as one critical section (inside
// the lru package's lock), with the compute function always invoked
// OUTSIDE any lock. Concurrent misses may compute twice; the jobs are
// idempotent, so the second insert is harmless.

// RawStore caches decoded channel grids.
type RawStore struct {
	cache *lru.Cache[RawKey, *grid.Grid]
}

// NewRawStore creates a raw store with a fixed entry capacity.
func NewRawStore(capacity int) (*RawStore, error) {
	cache, err := lru.New[RawKey, *grid.Grid](capacity)
	if err != nil {
		return nil, fmt.Errorf("raw store: %w", err)
	}
	return &RawStore{cache: cache}, nil
}

// GetOrDecode returns the cached grid for key, or invokes decode and
// caches its result. Nothing is cached when decode fails. hit reports
// whether the value came from cache.
func (s *RawStore) GetOrDecode(key RawKey, decode func() (*grid.Grid, error)) (g *grid.Grid, hit bool, err error) {
	if g, ok := s.cache.Get(key); ok {
		return g, true, nil
	}
	g, err = decode()
	if err != nil {
		return nil, false, err
	}
	s.cache.Add(key, g)
	return g, false, nil
}

// InvalidateAll drops every entry.
func (s *RawStore) InvalidateAll() {
	s.cache.Purge()
}

// InvalidatePaths removes exactly the entries whose payload path
// matches one of the given paths. Matching is exact-key, never
// best-effort: entries for other files survive untouched.
func (s *RawStore) InvalidatePaths(paths []string) {
	exact := pathSet(paths)
	for _, key := range s.cache.Keys() {
		if exact[key.BinPath] {
			s.cache.Remove(key)
		}
	}
}

// InvalidateDirs removes entries whose payload lives directly in one
// of the given directories (path-prefix scope, used when a folder's
// backing files change wholesale).
func (s *RawStore) InvalidateDirs(dirs []string) {
	set := pathSet(dirs)
	for _, key := range s.cache.Keys() {
		if set[filepath.Dir(key.BinPath)] {
			s.cache.Remove(key)
		}
	}
}

// Len returns the current entry count.
func (s *RawStore) Len() int {
	return s.cache.Len()
}

// ProcessedStore caches unit-normalized, filtered grids. It has its
// own capacity and lock, never shared with the raw store.
type ProcessedStore struct {
	cache *lru.Cache[ProcessedKey, *grid.Grid]
}

// NewProcessedStore creates a processed store with a fixed capacity.
func NewProcessedStore(capacity int) (*ProcessedStore, error) {
	cache, err := lru.New[ProcessedKey, *grid.Grid](capacity)
	if err != nil {
		return nil, fmt.Errorf("processed store: %w", err)
	}
	return &ProcessedStore{cache: cache}, nil
}

// GetOrProcess returns the cached grid for key, or invokes process and
// caches its result.
func (s *ProcessedStore) GetOrProcess(key ProcessedKey, process func() (*grid.Grid, error)) (g *grid.Grid, hit bool, err error) {
	if g, ok := s.cache.Get(key); ok {
		return g, true, nil
	}
	g, err = process()
	if err != nil {
		return nil, false, err
	}
	s.cache.Add(key, g)
	return g, false, nil
}

// InvalidateAll drops every entry.
func (s *ProcessedStore) InvalidateAll() {
	s.cache.Purge()
}

// InvalidatePaths removes entries whose underlying payload path
// matches exactly, same rule as the raw store.
func (s *ProcessedStore) InvalidatePaths(paths []string) {
	exact := pathSet(paths)
	for _, key := range s.cache.Keys() {
		if exact[key.Raw.BinPath] {
			s.cache.Remove(key)
		}
	}
}

// InvalidateDirs removes entries whose payload lives directly in one
// of the given directories.
func (s *ProcessedStore) InvalidateDirs(dirs []string) {
	set := pathSet(dirs)
	for _, key := range s.cache.Keys() {
		if set[filepath.Dir(key.Raw.BinPath)] {
			s.cache.Remove(key)
		}
	}
}

// Len returns the current entry count.
func (s *ProcessedStore) Len() int {
	return s.cache.Len()
}

// ThumbStore caches downsampled thumbnail grids, optionally backed by
// a compressed disk tier consulted between a memory miss and a
// recompute.
type ThumbStore struct {
	cache *lru.Cache[ThumbKey, *grid.Grid]
	disk  *DiskCache
}

// NewThumbStore creates a thumbnail store with a fixed capacity and an
// optional disk tier (nil to disable).
func NewThumbStore(capacity int, disk *DiskCache) (*ThumbStore, error) {
	cache, err := lru.New[ThumbKey, *grid.Grid](capacity)
	if err != nil {
		return nil, fmt.Errorf("thumbnail store: %w", err)
	}
	return &ThumbStore{cache: cache, disk: disk}, nil
}

// GetOrDownsample returns the cached thumbnail for key, consulting the
// disk tier on a memory miss before invoking compute. Fresh results
// are written through to the disk tier.
func (s *ThumbStore) GetOrDownsample(key ThumbKey, compute func() (*grid.Grid, error)) (g *grid.Grid, hit bool, err error) {
	if g, ok := s.cache.Get(key); ok {
		return g, true, nil
	}
	if s.disk != nil {
		if g, ok := s.disk.Get(key); ok {
			s.cache.Add(key, g)
			return g, true, nil
		}
	}
	g, err = compute()
	if err != nil {
		return nil, false, err
	}
	s.cache.Add(key, g)
	if s.disk != nil {
		s.disk.Put(key, g)
	}
	return g, false, nil
}

// InvalidateAll drops every in-memory entry. Disk entries are keyed by
// modification time and filter signature, so superseded files become
// unreachable rather than needing deletion.
func (s *ThumbStore) InvalidateAll() {
	s.cache.Purge()
}

// InvalidatePaths removes entries for the given header paths.
func (s *ThumbStore) InvalidatePaths(paths []string) {
	exact := pathSet(paths)
	for _, key := range s.cache.Keys() {
		if exact[key.HeaderPath] {
			s.cache.Remove(key)
		}
	}
}

// InvalidateDirs removes entries whose header lives directly in one of
// the given directories.
func (s *ThumbStore) InvalidateDirs(dirs []string) {
	set := pathSet(dirs)
	for _, key := range s.cache.Keys() {
		if set[filepath.Dir(key.HeaderPath)] {
			s.cache.Remove(key)
		}
	}
}

// Len returns the current in-memory entry count.
func (s *ThumbStore) Len() int {
	return s.cache.Len()
}

func pathSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[filepath.Clean(p)] = true
	}
	return set
}
