package store

import (
	"fmt"
	"time"
)

// Config sizes the cache tiers. Every capacity must be positive; a
// misconfigured store fails at construction time, not at request time.
type Config struct {
	RawEntries       int
	ProcessedEntries int
	ThumbEntries     int
	RenderedSizeMB   int
	RenderedTTL      time.Duration
	DiskDir          string // empty disables the disk tier
}

// Manager bundles the four cache tiers and applies invalidation across
// them. Each tier keeps its own lock; nothing is shared.
type Manager struct {
	Raw       *RawStore
	Processed *ProcessedStore
	Thumbs    *ThumbStore
	Rendered  *RenderedCache
}

// NewManager builds all tiers, validating capacities up front.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.RawEntries <= 0 {
		return nil, fmt.Errorf("raw cache capacity must be positive, got %d", cfg.RawEntries)
	}
	if cfg.ProcessedEntries <= 0 {
		return nil, fmt.Errorf("processed cache capacity must be positive, got %d", cfg.ProcessedEntries)
	}
	if cfg.ThumbEntries <= 0 {
		return nil, fmt.Errorf("thumbnail cache capacity must be positive, got %d", cfg.ThumbEntries)
	}
	if cfg.RenderedSizeMB <= 0 {
		return nil, fmt.Errorf("rendered cache size must be positive, got %d MB", cfg.RenderedSizeMB)
	}

	raw, err := NewRawStore(cfg.RawEntries)
	if err != nil {
		return nil, err
	}
	processed, err := NewProcessedStore(cfg.ProcessedEntries)
	if err != nil {
		return nil, err
	}
	var disk *DiskCache
	if cfg.DiskDir != "" {
		disk, err = NewDiskCache(cfg.DiskDir)
		if err != nil {
			return nil, fmt.Errorf("disk cache: %w", err)
		}
	}
	thumbs, err := NewThumbStore(cfg.ThumbEntries, disk)
	if err != nil {
		return nil, err
	}
	rendered, err := NewRenderedCache(cfg.RenderedSizeMB, cfg.RenderedTTL)
	if err != nil {
		return nil, err
	}
	return &Manager{Raw: raw, Processed: processed, Thumbs: thumbs, Rendered: rendered}, nil
}

// InvalidateAll clears every tier. Triggered by folder reload.
func (m *Manager) InvalidateAll() {
	m.Raw.InvalidateAll()
	m.Processed.InvalidateAll()
	m.Thumbs.InvalidateAll()
	m.Rendered.InvalidateAll()
}

// Scope names the entries to drop in a scoped invalidation:
// HeaderPaths match thumbnail/rendered keys, BinPaths match
// raw/processed keys exactly, and Dirs drop by parent-directory
// containment when a folder's backing files change wholesale.
type Scope struct {
	HeaderPaths []string
	BinPaths    []string
	Dirs        []string
}

// Invalidate applies a scoped invalidation. Eviction is exact-key
// matching: entries for unrelated files always survive.
func (m *Manager) Invalidate(scope Scope) {
	if len(scope.BinPaths) > 0 {
		m.Raw.InvalidatePaths(scope.BinPaths)
		m.Processed.InvalidatePaths(scope.BinPaths)
	}
	if len(scope.HeaderPaths) > 0 {
		m.Thumbs.InvalidatePaths(scope.HeaderPaths)
		m.Rendered.InvalidatePaths(scope.HeaderPaths)
	}
	if len(scope.Dirs) > 0 {
		m.Raw.InvalidateDirs(scope.Dirs)
		m.Processed.InvalidateDirs(scope.Dirs)
		m.Thumbs.InvalidateDirs(scope.Dirs)
	}
}

// Stats returns per-tier entry counts.
func (m *Manager) Stats() map[string]int {
	return map[string]int{
		"raw_entries":       m.Raw.Len(),
		"processed_entries": m.Processed.Len(),
		"thumb_entries":     m.Thumbs.Len(),
		"rendered_entries":  m.Rendered.Len(),
	}
}

// Close releases resources held by the tiers.
func (m *Manager) Close() error {
	return m.Rendered.Close()
}
