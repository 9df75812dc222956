package ytdlp

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestBuildArgs(t *testing.T) {
	t.Parallel()
	args := buildArgs(Options{
		URL:         "https://music.youtube.com/watch?v=abc",
		OutputDir:   "/tmp/dl",
		AudioFormat: "m4a",
		NoPlaylist:  true,
	})
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-J", "--no-simulate", "-x",
		"--audio-format m4a",
		"--no-playlist",
		"-o " + filepath.Join("/tmp/dl", "%(id)s - %(title)s.%(ext)s"),
		"-- https://music.youtube.com/watch?v=abc",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if strings.Contains(joined, "--cookies") {
		t.Error("cookies flag set without a cookies file")
	}
}

func TestDecodeInfo(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"id": "abc12345678",
		"title": "Get Lucky",
		"artist": "Daft Punk",
		"ext": "webm",
		"duration": 248.4,
		"requested_downloads": [{"filepath": "/tmp/dl/abc - Get Lucky.m4a", "ext": "m4a"}]
	}`)
	info, err := decodeInfo(raw)
	if err != nil {
		t.Fatal(err)
	}
	if info.ReportedPath() != "/tmp/dl/abc - Get Lucky.m4a" {
		t.Errorf("ReportedPath = %q", info.ReportedPath())
	}
	if info.ReportedExt() != "m4a" {
		t.Errorf("ReportedExt = %q, want requested_downloads ext over top-level", info.ReportedExt())
	}
	if info.DurationSeconds() != 248 {
		t.Errorf("DurationSeconds = %d", info.DurationSeconds())
	}
	if info.BestArtist() != "Daft Punk" {
		t.Errorf("BestArtist = %q", info.BestArtist())
	}
}

func TestDecodeInfoRejectsEmptyAndBroken(t *testing.T) {
	t.Parallel()
	if _, err := decodeInfo(nil); err == nil {
		t.Error("empty stdout should fail")
	}
	if _, err := decodeInfo([]byte("{not json")); err == nil {
		t.Error("broken json should fail")
	}
	if _, err := decodeInfo([]byte(`{"title":"no id"}`)); err == nil {
		t.Error("metadata without id should fail")
	}
}

func TestBestArtistFallbackChain(t *testing.T) {
	t.Parallel()
	info := &Info{Creator: "Creator Name", Uploader: "Uploader Name"}
	if got := info.BestArtist(); got != "Creator Name" {
		t.Errorf("BestArtist = %q", got)
	}
	info = &Info{Uploader: "Uploader Name"}
	if got := info.BestArtist(); got != "Uploader Name" {
		t.Errorf("BestArtist = %q", got)
	}
	if got := (&Info{}).BestArtist(); got != "" {
		t.Errorf("BestArtist on empty info = %q", got)
	}
}

// TestExecRunnerStubBinary drives ExecRunner with a shell stub standing in
// for yt-dlp.
func TestExecRunnerStubBinary(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	dir := t.TempDir()
	stub := filepath.Join(dir, "yt-dlp-stub")
	script := "#!/bin/sh\n" +
		`echo '{"id":"abc12345678","title":"Stub Track","ext":"m4a"}'` + "\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	r := NewExecRunner(nil, stub)
	res, err := r.Download(context.Background(), Options{URL: "https://example.invalid/watch?v=abc"})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Info.ID != "abc12345678" || res.Info.Title != "Stub Track" {
		t.Fatalf("info = %+v", res.Info)
	}
}

func TestExecRunnerFailureWrapsStderr(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	dir := t.TempDir()
	stub := filepath.Join(dir, "yt-dlp-stub")
	script := "#!/bin/sh\necho 'ERROR: video unavailable' >&2\nexit 1\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	r := NewExecRunner(nil, stub)
	_, err := r.Download(context.Background(), Options{URL: "https://example.invalid/x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "video unavailable") {
		t.Fatalf("error does not carry stderr: %v", err)
	}
}
