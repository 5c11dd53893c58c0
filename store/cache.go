package store

import (
	"database/sql"
	"fmt"

	"github.com/redshiftplayer/redshift-sync/logging"
)

// CacheStore provides CRUD on cache_entries.
type CacheStore struct {
	db *sql.DB
}

// NewCacheStore creates a CacheStore backed by the given database.
func NewCacheStore(db *sql.DB) *CacheStore {
	return &CacheStore{db: db}
}

// Upsert inserts or replaces the entry for its path. Created timestamp is
// preserved across updates.
func (s *CacheStore) Upsert(e CacheEntry) error {
	now := nowFunc().UnixNano()
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (file_path, file_size, mtime_ns, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			file_size  = excluded.file_size,
			mtime_ns   = excluded.mtime_ns,
			metadata   = excluded.metadata,
			updated_at = excluded.updated_at
	`, e.Path, e.Size, e.MtimeNS, e.Metadata, now, now)
	if err != nil {
		logging.Sub("cachestore").Error("upsert failed", "path", e.Path, "err", err)
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Get retrieves the entry for the absolute path, or nil when absent.
func (s *CacheStore) Get(path string) (*CacheEntry, error) {
	e := &CacheEntry{}
	err := s.db.QueryRow(`
		SELECT file_path, file_size, mtime_ns, metadata, created_at, updated_at
		FROM cache_entries WHERE file_path = ?
	`, path).Scan(&e.Path, &e.Size, &e.MtimeNS, &e.Metadata, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return e, nil
}

// All returns every cached entry keyed by path.
func (s *CacheStore) All() (map[string]CacheEntry, error) {
	rows, err := s.db.Query(`
		SELECT file_path, file_size, mtime_ns, metadata, created_at, updated_at
		FROM cache_entries
	`)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]CacheEntry)
	for rows.Next() {
		var e CacheEntry
		if err := rows.Scan(&e.Path, &e.Size, &e.MtimeNS, &e.Metadata, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		out[e.Path] = e
	}
	return out, rows.Err()
}

// Delete removes the entry for the given path.
func (s *CacheStore) Delete(path string) error {
	if _, err := s.db.Exec("DELETE FROM cache_entries WHERE file_path = ?", path); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Prune deletes every cached path not present in the keep set and returns
// how many rows were removed.
func (s *CacheStore) Prune(keep map[string]struct{}) (int, error) {
	all, err := s.All()
	if err != nil {
		return 0, err
	}
	removed := 0
	for path := range all {
		if _, ok := keep[path]; ok {
			continue
		}
		if err := s.Delete(path); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		logging.Sub("cachestore").Info("pruned stale cache rows", "removed", removed)
	}
	return removed, nil
}

// Count returns the number of cached entries.
func (s *CacheStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cache_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
