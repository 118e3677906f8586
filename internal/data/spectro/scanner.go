package spectro

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Scanner scans a spectroscopy folder, caching parse results per file
// keyed by modification time so unchanged files are not re-parsed on
// rescan. Parse failures skip the file; the scan continues.
type Scanner struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	modTime time.Time
	records []Record
}

// NewScanner returns an empty scanner.
func NewScanner() *Scanner {
	return &Scanner{cache: make(map[string]cacheEntry)}
}

var spectroExts = map[string]bool{".dat": true, ".txt": true}

// Scan parses every spectroscopy file in folder and returns the
// records sorted by (time, path); records without a timestamp sort
// first. Cache entries for files no longer present are dropped.
func (s *Scanner) Scan(folder string) []Record {
	entries, err := os.ReadDir(folder)
	if err != nil {
		log.Printf("[Spectro] cannot read folder %s: %v", folder, err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	var records []Record
	failed := 0
	for _, entry := range entries {
		if entry.IsDir() || !spectroExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		path := filepath.Join(folder, entry.Name())
		seen[path] = true

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if cached, ok := s.cache[path]; ok && cached.modTime.Equal(info.ModTime()) {
			records = append(records, cached.records...)
			continue
		}
		recs, err := ParseFile(path)
		if err != nil {
			log.Printf("[Spectro] skipping %s: %v", entry.Name(), err)
			failed++
			continue
		}
		s.cache[path] = cacheEntry{modTime: info.ModTime(), records: recs}
		records = append(records, recs...)
	}
	for path := range s.cache {
		if !seen[path] {
			delete(s.cache, path)
		}
	}
	if failed > 0 {
		log.Printf("[Spectro] %d file(s) failed to parse", failed)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Time.Equal(records[j].Time) {
			return records[i].Time.Before(records[j].Time)
		}
		return records[i].Path < records[j].Path
	})
	return records
}
