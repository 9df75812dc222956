package history

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newStore(t *testing.T, max int, enabled bool) *Store {
	t.Helper()
	return NewStore(nil, filepath.Join(t.TempDir(), "recent.jsonl"), max, enabled)
}

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()
	s := newStore(t, 0, true)
	for i := 1; i <= 3; i++ {
		err := s.Append(Record{
			VideoID: fmt.Sprintf("vid%d", i),
			Title:   fmt.Sprintf("Track %d", i),
			Artist:  "Artist",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	// Most recent first.
	if got[0].VideoID != "vid3" || got[2].VideoID != "vid1" {
		t.Fatalf("order = [%s %s %s]", got[0].VideoID, got[1].VideoID, got[2].VideoID)
	}
	if got[0].Schema != SchemaVersion {
		t.Errorf("Schema = %d, want %d", got[0].Schema, SchemaVersion)
	}
	if got[0].DownloadedAt.IsZero() {
		t.Error("DownloadedAt should be stamped")
	}
}

func TestAppendTrimsOldest(t *testing.T) {
	t.Parallel()
	s := newStore(t, 10, true)
	for i := 1; i <= 15; i++ {
		if err := s.Append(Record{VideoID: fmt.Sprintf("vid%d", i), Title: "t"}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d records, want 10", len(got))
	}
	if got[0].VideoID != "vid15" || got[9].VideoID != "vid6" {
		t.Fatalf("kept range [%s..%s], want vid15..vid6", got[0].VideoID, got[9].VideoID)
	}
}

func TestRecentLimit(t *testing.T) {
	t.Parallel()
	s := newStore(t, 0, true)
	for i := 1; i <= 5; i++ {
		if err := s.Append(Record{VideoID: fmt.Sprintf("vid%d", i), Title: "t"}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].VideoID != "vid5" {
		t.Fatalf("Recent(2) = %+v", got)
	}
}

func TestDisabledStoreIsInert(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "recent.jsonl")
	s := NewStore(nil, path, 0, false)
	if err := s.Append(Record{VideoID: "vid1", Title: "t"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Recent(0)
	if err != nil || got != nil {
		t.Fatalf("Recent on disabled store = (%v, %v)", got, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("disabled store should not create the file")
	}
}

func TestAppendRejectsEmptyRecord(t *testing.T) {
	t.Parallel()
	s := newStore(t, 0, true)
	if err := s.Append(Record{}); err == nil {
		t.Fatal("empty record should be rejected")
	}
}

func TestOldSchemaUpgradedOnRead(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "recent.jsonl")
	lines := `{"videoId":"oldvid","title":"Old Track"}` + "\n" +
		`{"schema":99,"videoId":"future","title":"Future"}` + "\n"
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(nil, path, 0, true)
	got, err := s.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1 (future schema skipped)", len(got))
	}
	rec := got[0]
	if rec.Schema != SchemaVersion {
		t.Errorf("Schema = %d, want %d", rec.Schema, SchemaVersion)
	}
	if rec.URL != "https://music.youtube.com/watch?v=oldvid" {
		t.Errorf("URL = %q, want derived watch link", rec.URL)
	}
	if rec.Artist != "Unknown" {
		t.Errorf("Artist = %q, want Unknown default", rec.Artist)
	}
	// Pre-3 records never carried these; the zero values mean unknown.
	if rec.Album != "" || rec.Duration != 0 {
		t.Errorf("Album = %q, Duration = %d, want zero values", rec.Album, rec.Duration)
	}
}

func TestAlbumAndDurationRoundTrip(t *testing.T) {
	t.Parallel()
	s := newStore(t, 0, true)
	err := s.Append(Record{
		VideoID:  "vid0000000a",
		Title:    "One More Time",
		Artist:   "Daft Punk",
		Album:    "Discovery",
		URL:      "https://music.youtube.com/watch?v=vid0000000a",
		Duration: 320,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].Album != "Discovery" {
		t.Errorf("Album = %q, want Discovery", got[0].Album)
	}
	if got[0].Duration != 320 {
		t.Errorf("Duration = %d, want 320", got[0].Duration)
	}
}

func TestCorruptLineSkipped(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "recent.jsonl")
	lines := `{"schema":2,"videoId":"good","title":"Good"}` + "\n" +
		"{broken json\n"
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(nil, path, 0, true)
	got, err := s.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].VideoID != "good" {
		t.Fatalf("got %+v, want only the good record", got)
	}
}

func TestTimestampsSurviveRoundTrip(t *testing.T) {
	t.Parallel()
	s := newStore(t, 0, true)
	when := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Append(Record{VideoID: "vid1", Title: "t", DownloadedAt: when}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if !got[0].DownloadedAt.Equal(when) {
		t.Fatalf("DownloadedAt = %v, want %v", got[0].DownloadedAt, when)
	}
}
