// Package headercache provides persistent storage for parsed scan
// headers using SQLite, so reopening a large folder skips re-parsing
// unchanged header files.
package headercache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/sxmview/server/internal/catalog"
)

// Entry is one cached parse result.
type Entry struct {
	Header   catalog.Header              `json:"header"`
	Channels []catalog.ChannelDescriptor `json:"channels"`
}

// Store is the SQLite-backed header cache. Entries are keyed by
// (path, mtime): a rewritten header file misses and gets re-parsed.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (creating if needed) the cache database.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS headers (
		path TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		entry_json TEXT NOT NULL,
		PRIMARY KEY (path, mtime)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Lookup returns the cached entry for (path, mtime), or ok=false on a
// miss.
func (s *Store) Lookup(path string, mtime int64) (Entry, bool, error) {
	row := s.db.QueryRow(`
		SELECT entry_json FROM headers WHERE path = ? AND mtime = ?
	`, path, mtime)

	var entryJSON string
	err := row.Scan(&entryJSON)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var e Entry
	if err := json.Unmarshal([]byte(entryJSON), &e); err != nil {
		return Entry{}, false, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return e, true, nil
}

// Put stores a parse result, replacing any previous version of the
// same path and dropping entries for older mtimes.
func (s *Store) Put(path string, mtime int64, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryJSON, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM headers WHERE path = ? AND mtime != ?", path, mtime); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO headers (path, mtime, entry_json) VALUES (?, ?, ?)
	`, path, mtime, string(entryJSON)); err != nil {
		return err
	}
	return tx.Commit()
}

// Prune deletes entries whose path is not in keep, for folders that
// shed files between sessions.
func (s *Store) Prune(keep []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keepSet := make(map[string]struct{}, len(keep))
	for _, p := range keep {
		keepSet[p] = struct{}{}
	}

	rows, err := s.db.Query("SELECT DISTINCT path FROM headers")
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		if _, ok := keepSet[p]; !ok {
			stale = append(stale, p)
		}
	}
	rows.Close()

	var deleted int64
	for _, p := range stale {
		res, err := s.db.Exec("DELETE FROM headers WHERE path = ?", p)
		if err != nil {
			return deleted, err
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return deleted, nil
}

// CachingParse wraps a header parse function with the store: cache hits
// skip parsing entirely, misses parse and write through. Cache errors
// are non-fatal and fall back to plain parsing.
func (s *Store) CachingParse(parse catalog.ParseFunc) catalog.ParseFunc {
	return func(path string) (catalog.Header, []catalog.ChannelDescriptor, error) {
		info, err := os.Stat(path)
		if err != nil {
			return catalog.Header{}, nil, err
		}
		mtime := info.ModTime().UnixNano()

		if e, ok, err := s.Lookup(path, mtime); err == nil && ok {
			return e.Header, e.Channels, nil
		}

		h, channels, err := parse(path)
		if err != nil {
			return h, channels, err
		}
		if putErr := s.Put(path, mtime, Entry{Header: h, Channels: channels}); putErr != nil {
			// Cache write failure must not fail the load.
			return h, channels, nil
		}
		return h, channels, nil
	}
}
