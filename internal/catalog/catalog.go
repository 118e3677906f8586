package catalog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ParseFunc produces the (Header, channels) pair for one header file.
// The catalog does not care where the pair comes from: a text parser,
// a persistent header cache, or a test fixture.
type ParseFunc func(path string) (Header, []ChannelDescriptor, error)

// LoadStats reports the outcome of a folder load.
type LoadStats struct {
	Loaded int `json:"loaded"`
	Failed int `json:"failed"`
}

// Catalog is the dataset catalog for the currently loaded folder.
// Contents are replaced wholesale on every load; there is no partial
// mutation.
type Catalog struct {
	mu     sync.RWMutex
	folder string
	files  []*ScanFile
	byPath map[string]*ScanFile
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{byPath: make(map[string]*ScanFile)}
}

// LoadFolder parses every *.txt header in dir via parse, replacing the
// catalog contents. A file that fails to parse is skipped and counted;
// it never aborts the rest of the load. Headers without a parsable
// Date/Time fall back to the header file's modification time.
func (c *Catalog) LoadFolder(dir string, parse ParseFunc) (LoadStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return LoadStats{}, fmt.Errorf("read folder %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".txt") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	files := make([]*ScanFile, 0, len(names))
	byPath := make(map[string]*ScanFile, len(names))
	stats := LoadStats{}
	for _, name := range names {
		path := filepath.Join(dir, name)
		header, channels, err := parse(path)
		if err != nil {
			log.Printf("[Catalog] skipping %s: %v", name, err)
			stats.Failed++
			continue
		}
		if header.AcquiredAt.IsZero() {
			if info, err := os.Stat(path); err == nil {
				header.AcquiredAt = info.ModTime()
			}
		}
		sf := &ScanFile{Path: path, Header: header, Channels: channels}
		files = append(files, sf)
		byPath[path] = sf
		stats.Loaded++
	}

	c.mu.Lock()
	c.folder = dir
	c.files = files
	c.byPath = byPath
	c.mu.Unlock()

	log.Printf("[Catalog] loaded %d scan(s) from %s (%d failed)", stats.Loaded, dir, stats.Failed)
	return stats, nil
}

// Folder returns the currently loaded folder path.
func (c *Catalog) Folder() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.folder
}

// Files returns the loaded scans in name order.
func (c *Catalog) Files() []*ScanFile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*ScanFile, len(c.files))
	copy(out, c.files)
	return out
}

// Lookup returns the scan for a header path.
func (c *Catalog) Lookup(path string) (*ScanFile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sf, ok := c.byPath[path]
	return sf, ok
}

// Channel returns the descriptor at the given ordinal of a scan.
func (c *Catalog) Channel(path string, index int) (*ScanFile, ChannelDescriptor, error) {
	sf, ok := c.Lookup(path)
	if !ok {
		return nil, ChannelDescriptor{}, fmt.Errorf("unknown scan %s", path)
	}
	if index < 0 || index >= len(sf.Channels) {
		return nil, ChannelDescriptor{}, fmt.Errorf("channel index %d out of range for %s (%d channels)", index, path, len(sf.Channels))
	}
	return sf, sf.Channels[index], nil
}

// BinPath resolves a channel's binary payload path relative to its
// header's folder.
func BinPath(headerPath string, ch ChannelDescriptor) string {
	return filepath.Join(filepath.Dir(headerPath), ch.FileName)
}

// TimeIndexEntry pairs a scan path with its acquisition timestamp for
// temporal assignment.
type TimeIndexEntry struct {
	Path string
	Time time.Time
}

// TimeIndex returns (path, timestamp) pairs for every loaded scan.
func (c *Catalog) TimeIndex() []TimeIndexEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TimeIndexEntry, 0, len(c.files))
	for _, sf := range c.files {
		out = append(out, TimeIndexEntry{Path: sf.Path, Time: sf.Header.AcquiredAt})
	}
	return out
}

// ChannelLabels returns display labels for the channels of the first
// loaded scan, "index: caption" style.
func (c *Catalog) ChannelLabels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.files) == 0 {
		return nil
	}
	first := c.files[0]
	labels := make([]string, len(first.Channels))
	for i, ch := range first.Channels {
		name := ch.Caption
		if name == "" {
			name = ch.FileName
		}
		if name == "" {
			name = fmt.Sprintf("chan%d", i)
		}
		labels[i] = fmt.Sprintf("%d: %s", i, name)
	}
	return labels
}

// Extent returns the physical extent (0, rangeX, rangeY, 0) of a scan
// for probing, matching the top-left origin of the pixel raster.
func (c *Catalog) Extent(path string) (*[4]float64, bool) {
	sf, ok := c.Lookup(path)
	if !ok {
		return nil, false
	}
	h := sf.Header
	if h.ScanRangeX <= 0 || h.ScanRangeY <= 0 {
		return nil, false
	}
	return &[4]float64{0, h.ScanRangeX, h.ScanRangeY, 0}, true
}
