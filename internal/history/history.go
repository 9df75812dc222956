// Package history keeps a small on-disk log of recent downloads, one
// JSON object per line, newest last. The log is bounded and rewritten
// atomically on every append, so a crash never leaves a half-written
// line and the file never grows past its cap.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/den22den22/ytmg/internal/fsstore"
)

// SchemaVersion is stamped on every record. Older records are upgraded
// on read; records from a future schema are skipped, not destroyed.
const SchemaVersion = 3

// DefaultMaxEntries matches how many recent downloads are worth
// re-offering in chat.
const DefaultMaxEntries = 5

type Record struct {
	Schema       int       `json:"schema"`
	VideoID      string    `json:"videoId"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Album        string    `json:"album,omitempty"`
	URL          string    `json:"url,omitempty"`
	Duration     int       `json:"duration,omitempty"` // seconds, 0 when unknown
	DownloadedAt time.Time `json:"downloadedAt"`
}

// Store is the bounded recent-downloads log. All methods are safe for
// concurrent use. A disabled store accepts appends and returns nothing.
type Store struct {
	logger  *slog.Logger
	path    string
	max     int
	enabled bool

	mu sync.Mutex
}

func NewStore(logger *slog.Logger, path string, maxEntries int, enabled bool) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		logger:  logger,
		path:    path,
		max:     maxEntries,
		enabled: enabled,
	}
}

func (s *Store) Enabled() bool { return s.enabled }

// Append records a download, dropping the oldest entries past the cap.
func (s *Store) Append(rec Record) error {
	if !s.enabled {
		return nil
	}
	if strings.TrimSpace(rec.VideoID) == "" && strings.TrimSpace(rec.Title) == "" {
		return fmt.Errorf("history: empty record")
	}
	rec.Schema = SchemaVersion
	if rec.DownloadedAt.IsZero() {
		rec.DownloadedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		// A corrupt log is not worth blocking new downloads over; start
		// fresh and say so.
		s.logger.Warn("history_load_error", "path", s.path, "error", err)
		records = nil
	}
	records = append(records, rec)
	if len(records) > s.max {
		records = records[len(records)-s.max:]
	}
	return s.write(records)
}

// Recent returns up to limit records, most recent first. limit <= 0
// means all retained entries.
func (s *Store) Recent(limit int) ([]Record, error) {
	if !s.enabled {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	// Stored oldest-first; reverse for display.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *Store) load() ([]Record, error) {
	lines, err := fsstore.ReadLines(s.path)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			s.logger.Warn("history_bad_line", "path", s.path, "error", err)
			continue
		}
		if rec.Schema > SchemaVersion {
			s.logger.Warn("history_future_schema", "path", s.path, "schema", rec.Schema)
			continue
		}
		upgrade(&rec)
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) write(records []Record) error {
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("history: encode record: %w", err)
		}
		lines = append(lines, string(data))
	}
	return fsstore.WriteLinesAtomic(s.path, lines, fsstore.Options{})
}

// upgrade fills defaults for records written by older schemas.
func upgrade(rec *Record) {
	if rec.Schema == 0 {
		rec.Schema = 1
	}
	if rec.Schema < 2 && rec.URL == "" && rec.VideoID != "" {
		rec.URL = "https://music.youtube.com/watch?v=" + rec.VideoID
	}
	// Schema 3 added album and duration. Pre-3 records keep the zero
	// values, which render as unknown.
	rec.Schema = SchemaVersion
	if rec.Artist == "" {
		rec.Artist = "Unknown"
	}
}
