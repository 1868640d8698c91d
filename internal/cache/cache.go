// Package cache is the content-addressed artifact cache: task outputs are
// stored as gzip tars keyed by a digest of the task's command and input
// content, with a SQLite index for stats and eviction.
package cache

// #region imports
import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/config"
)

// #endregion

// #region schema
const indexSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key          TEXT PRIMARY KEY,
	task_id      TEXT NOT NULL,
	size_bytes   INTEGER NOT NULL,
	created_at   TEXT NOT NULL,
	last_used_at TEXT NOT NULL,
	hits         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_lru ON cache_entries(last_used_at);
`

// #endregion schema

// #region types

// Cache stores artifacts under dir/objects and indexes them in SQLite.
type Cache struct {
	dir      string
	db       *sql.DB
	maxEntry int64
}

// Stats are index-wide counters, all computed from real rows.
type Stats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
	TotalHits  int64 `json:"total_hits"`
}

// #endregion types

// #region constructor

// New opens the cache rooted at cfg.Dir, sharing the given database for
// its index.
func New(db *sql.DB, cfg config.CacheConfig) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(cfg.Dir, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		return nil, fmt.Errorf("cache index schema: %w", err)
	}
	return &Cache{dir: cfg.Dir, db: db, maxEntry: cfg.MaxEntrySize}, nil
}

// #endregion constructor

// #region paths

func (c *Cache) objectPath(key string) string {
	// objects/ab/abcdef... fan-out so one directory never holds everything
	return filepath.Join(c.dir, "objects", key[:2], key)
}

// #endregion paths

// #region lookup

// Lookup restores the artifact for key into taskDir. Returns false with no
// error on a miss. A hit bumps the entry's hit counter and LRU stamp.
func (c *Cache) Lookup(key, taskDir string) (bool, error) {
	var exists int
	err := c.db.QueryRow(`SELECT 1 FROM cache_entries WHERE key = ?`, key).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache lookup: %w", err)
	}

	f, err := os.Open(c.objectPath(key))
	if err != nil {
		// Index row without an object: self-heal by dropping the row.
		_, _ = c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
		return false, nil
	}
	defer f.Close()

	if err := extractArtifact(f, taskDir); err != nil {
		return false, fmt.Errorf("restore %s: %w", key[:8], err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := c.db.Exec(
		`UPDATE cache_entries SET hits = hits + 1, last_used_at = ? WHERE key = ?`, now, key,
	); err != nil {
		return true, fmt.Errorf("bump hit: %w", err)
	}
	return true, nil
}

// #endregion lookup

// #region store

// Store packs the files matched by outputGlobs (relative to taskDir) and
// admits or rejects the artifact per the admission policy. The returned
// decision carries the reason either way.
func (c *Cache) Store(key, taskID, taskDir string, outputGlobs []string, taskSucceeded bool) (AdmitDecision, error) {
	files, err := expandGlobs(taskDir, outputGlobs)
	if err != nil {
		return AdmitDecision{Reason: "glob error"}, err
	}

	// Pack to a temp file first; admission needs the real artifact size.
	tmp, err := os.CreateTemp(c.dir, "pack-*")
	if err != nil {
		return AdmitDecision{Reason: "temp file"}, fmt.Errorf("cache temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, packErr := writeArtifact(tmp, taskDir, files)
	closeErr := tmp.Close()
	if packErr != nil {
		return AdmitDecision{Reason: "pack error"}, fmt.Errorf("pack artifact: %w", packErr)
	}
	if closeErr != nil {
		return AdmitDecision{Reason: "pack error"}, fmt.Errorf("close artifact: %w", closeErr)
	}

	decision := EvaluateAdmission(AdmitInput{
		TaskSucceeded: taskSucceeded,
		OutputFiles:   len(files),
		ArtifactBytes: size,
		MaxEntryBytes: c.maxEntry,
	})
	if !decision.Admit {
		return decision, nil
	}

	dst := c.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return decision, fmt.Errorf("object dir: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return decision, fmt.Errorf("place object: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := c.db.Exec(
		`INSERT INTO cache_entries (key, task_id, size_bytes, created_at, last_used_at, hits)
		 VALUES (?, ?, ?, ?, ?, 0)
		 ON CONFLICT(key) DO UPDATE SET size_bytes = excluded.size_bytes, last_used_at = excluded.last_used_at`,
		key, taskID, size, now, now,
	); err != nil {
		return decision, fmt.Errorf("index insert: %w", err)
	}
	return decision, nil
}

// #endregion store

// #region stats

// Stats computes entry count, byte total and accumulated hits.
func (c *Cache) Stats() (Stats, error) {
	var s Stats
	err := c.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0), COALESCE(SUM(hits), 0) FROM cache_entries`,
	).Scan(&s.Entries, &s.TotalBytes, &s.TotalHits)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	return s, nil
}

// #endregion stats

// #region gc

// GC evicts entries older than maxAge, then least-recently-used entries
// until the byte total fits maxTotal. Returns entries removed and bytes freed.
func (c *Cache) GC(maxAge time.Duration, maxTotal int64) (int, int64, error) {
	removed := 0
	var freed int64

	if maxAge > 0 {
		cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339Nano)
		n, b, err := c.evict(`SELECT key, size_bytes FROM cache_entries WHERE last_used_at < ?`, cutoff)
		if err != nil {
			return removed, freed, err
		}
		removed += n
		freed += b
	}

	if maxTotal > 0 {
		stats, err := c.Stats()
		if err != nil {
			return removed, freed, err
		}
		for stats.TotalBytes > maxTotal {
			n, b, err := c.evict(`SELECT key, size_bytes FROM cache_entries ORDER BY last_used_at ASC LIMIT 1`)
			if err != nil {
				return removed, freed, err
			}
			if n == 0 {
				break
			}
			removed += n
			freed += b
			stats.TotalBytes -= b
		}
	}
	return removed, freed, nil
}

// Clear drops every entry and object.
func (c *Cache) Clear() (int, error) {
	stats, err := c.Stats()
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(filepath.Join(c.dir, "objects")); err != nil {
		return 0, fmt.Errorf("clear objects: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(c.dir, "objects"), 0o755); err != nil {
		return 0, fmt.Errorf("recreate objects: %w", err)
	}
	if _, err := c.db.Exec(`DELETE FROM cache_entries`); err != nil {
		return 0, fmt.Errorf("clear index: %w", err)
	}
	return stats.Entries, nil
}

func (c *Cache) evict(query string, args ...interface{}) (int, int64, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("evict query: %w", err)
	}
	type victim struct {
		key  string
		size int64
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.key, &v.size); err != nil {
			rows.Close()
			return 0, 0, err
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	var freed int64
	for _, v := range victims {
		if err := os.Remove(c.objectPath(v.key)); err != nil && !os.IsNotExist(err) {
			return 0, freed, fmt.Errorf("remove object: %w", err)
		}
		if _, err := c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, v.key); err != nil {
			return 0, freed, fmt.Errorf("remove entry: %w", err)
		}
		freed += v.size
	}
	return len(victims), freed, nil
}

// #endregion gc
