package report

// #region imports
import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// #endregion

// #region writer

const indexFile = "index.jsonl"

// Writer persists reports under a directory, one JSON file per run plus a
// JSONL index for cheap listing.
type Writer struct {
	dir string
	now func() time.Time
}

// Option adjusts a Writer.
type Option func(*Writer)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// #endregion writer

// #region index-entry

// IndexEntry is one line of index.jsonl.
type IndexEntry struct {
	RunID     string    `json:"run_id"`
	Project   string    `json:"project"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Failed    int       `json:"failed"`
	CacheHits int       `json:"cache_hits"`
	Path      string    `json:"path"`
}

// #endregion index-entry

// #region write

// Write stores the report and appends it to the index. Returns the report
// file path.
func (w *Writer) Write(r Report) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("reports dir: %w", err)
	}

	ts := r.StartedAt
	if ts.IsZero() {
		ts = w.now()
	}
	name := fmt.Sprintf("%s_%s_%s.json",
		sanitize(r.Project),
		ts.UTC().Format("20060102T150405Z"),
		shortID(r.RunID),
	)
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	entry := IndexEntry{
		RunID:     r.RunID,
		Project:   r.Project,
		Status:    r.Status,
		StartedAt: r.StartedAt,
		Failed:    r.Totals.Failed,
		CacheHits: r.Totals.CacheHits,
		Path:      name,
	}
	if err := w.appendIndex(entry); err != nil {
		return path, err
	}
	return path, nil
}

func (w *Writer) appendIndex(entry IndexEntry) error {
	f, err := os.OpenFile(filepath.Join(w.dir, indexFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal index entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append index: %w", err)
	}
	return nil
}

// #endregion write

// #region read

// List reads the index, newest first.
func (w *Writer) List() ([]IndexEntry, error) {
	f, err := os.Open(filepath.Join(w.dir, indexFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	var entries []IndexEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e IndexEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// A corrupt line loses one entry, not the whole index.
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.After(entries[j].StartedAt)
	})
	return entries, nil
}

// Load reads a report back by run ID (full or 8-char prefix).
func (w *Writer) Load(runID string) (Report, error) {
	entries, err := w.List()
	if err != nil {
		return Report{}, err
	}
	for _, e := range entries {
		if e.RunID == runID || shortID(e.RunID) == runID {
			data, err := os.ReadFile(filepath.Join(w.dir, e.Path))
			if err != nil {
				return Report{}, fmt.Errorf("read report: %w", err)
			}
			var r Report
			if err := json.Unmarshal(data, &r); err != nil {
				return Report{}, fmt.Errorf("parse report: %w", err)
			}
			return r, nil
		}
	}
	return Report{}, fmt.Errorf("report for run %s: not found", runID)
}

// #endregion read

// #region helpers

func sanitize(name string) string {
	if name == "" {
		return "project"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
