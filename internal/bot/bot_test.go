package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/den22den22/ytmg/internal/clearlog"
	"github.com/den22den22/ytmg/internal/history"
	"github.com/den22den22/ytmg/internal/musicapi"
	"github.com/den22den22/ytmg/internal/pipeline"
	"github.com/den22den22/ytmg/internal/progress"
	"github.com/den22den22/ytmg/internal/retryutil"
	"github.com/den22den22/ytmg/internal/telegram"
	"github.com/den22den22/ytmg/internal/ytdlp"
)

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in       string
		wantName string
		wantArgs int
	}{
		{"search daft punk", "search", 2},
		{"SEARCH x", "search", 1},
		{"help", "help", 0},
		{"   ", "", 0},
	}
	for _, tc := range cases {
		name, args := splitCommand(tc.in)
		if name != tc.wantName || len(args) != tc.wantArgs {
			t.Errorf("splitCommand(%q) = (%q, %d args)", tc.in, name, len(args))
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	flags, rest := parseFlags([]string{"daft", "punk", "-t", "albums", "-n", "5", "-txt"})
	if flags["t"] != "albums" || flags["n"] != "5" {
		t.Fatalf("flags = %v", flags)
	}
	if flags["txt"] != "1" {
		t.Fatalf("bare flag txt = %q", flags["txt"])
	}
	if len(rest) != 2 || rest[0] != "daft" || rest[1] != "punk" {
		t.Fatalf("rest = %v", rest)
	}
}

func TestParseFlagsValueFlagBeforeAnotherFlag(t *testing.T) {
	t.Parallel()
	flags, rest := parseFlags([]string{"-t", "-txt", "query"})
	if flags["t"] != "1" {
		t.Fatalf("t should be bare when followed by a flag, got %q", flags["t"])
	}
	if flags["txt"] != "1" || len(rest) != 1 {
		t.Fatalf("flags = %v rest = %v", flags, rest)
	}
}

func TestParseOnOff(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"on", "ON", "true", "1", "yes"} {
		v, err := parseOnOff(s)
		if err != nil || !v {
			t.Errorf("parseOnOff(%q) = (%v, %v)", s, v, err)
		}
	}
	for _, s := range []string{"off", "false", "0", "no"} {
		v, err := parseOnOff(s)
		if err != nil || v {
			t.Errorf("parseOnOff(%q) = (%v, %v)", s, v, err)
		}
	}
	if _, err := parseOnOff("maybe"); err == nil {
		t.Error("parseOnOff(maybe) should fail")
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	cases := map[int]string{
		0:    "",
		7:    "0:07",
		205:  "3:25",
		3765: "1:02:45",
	}
	for in, want := range cases {
		if got := formatDuration(in); got != want {
			t.Errorf("formatDuration(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatTrackList(t *testing.T) {
	t.Parallel()
	got := formatTrackList("Results", []musicapi.Track{
		{VideoID: "vid0000000a", Title: "One", Artists: []musicapi.Artist{{Name: "A"}}, Duration: 61},
		{VideoID: "vid0000000b", Title: "Two", Artists: []musicapi.Artist{{Name: "B - Topic"}}},
	})
	for _, want := range []string{
		"Results:",
		"1. A - One (1:01)",
		"2. B - Two",
		"https://music.youtube.com/watch?v=vid0000000a",
	} {
		if !contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestFormatEntityAlbum(t *testing.T) {
	t.Parallel()
	got := formatEntity(&musicapi.Entity{
		Kind:       musicapi.KindAlbum,
		Title:      "Discovery",
		Artists:    []musicapi.Artist{{Name: "Daft Punk"}},
		Year:       "2001",
		TrackCount: 2,
		Tracks: []musicapi.Track{
			{Title: "One More Time", Duration: 320},
			{Title: "Aerodynamic", Duration: 207},
		},
	})
	for _, want := range []string{"Album: Discovery", "By: Daft Punk", "Year: 2001", "Tracks: 2", "1. One More Time (5:20)"} {
		if !contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	s, err := loadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Get(); !got.ProgressMessages || !got.AutoClear || got.AudioFormat != "m4a" {
		t.Fatalf("defaults = %+v", got)
	}

	if _, err := s.Update(func(st *Settings) { st.AutoClear = false }); err != nil {
		t.Fatal(err)
	}

	reloaded, err := loadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	got := reloaded.Get()
	if got.AutoClear {
		t.Error("AutoClear change did not persist")
	}
	if !got.ProgressMessages || got.AudioFormat != "m4a" {
		t.Errorf("other fields lost: %+v", got)
	}
}

// tgServer fakes the chat API well enough for full command dispatch.
type tgServer struct {
	mu    sync.Mutex
	sent  []string
	calls []string
}

func (s *tgServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := filepath.Base(r.URL.Path)
		s.mu.Lock()
		s.calls = append(s.calls, method)
		id := int64(len(s.calls))
		s.mu.Unlock()

		switch method {
		case "sendMessage":
			var body struct {
				Text string `json:"text"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			s.mu.Lock()
			s.sent = append(s.sent, body.Text)
			s.mu.Unlock()
			fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d}}`, id)
		case "getMe":
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"username":"ytmg_bot"}}`)
		default:
			fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d}}`, id)
		}
	})
}

func (s *tgServer) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *tgServer) methodCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *tgServer) called(method string) int {
	n := 0
	for _, m := range s.methodCalls() {
		if m == method {
			n++
		}
	}
	return n
}

func newTestBot(t *testing.T, srv *httptest.Server) (*Bot, *clearlog.Registry) {
	t.Helper()
	dir := t.TempDir()
	api := telegram.NewAPI(srv.Client(), srv.URL, "test-token")
	music := musicapi.NewHandle(nil, srv.Client(), srv.URL, "")
	if err := music.Authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}
	clears := clearlog.NewRegistry(nil, 0)
	b, err := New(Config{
		OwnerID:      99,
		SettingsPath: filepath.Join(dir, "settings.yaml"),
	}, Dependencies{
		API:          api,
		Music:        music,
		Clears:       clears,
		Pipeline:     pipeline.New(nil, nil, nil, nil, pipeline.Options{Dir: dir}),
		History:      history.NewStore(nil, filepath.Join(dir, "recent.jsonl"), 0, true),
		RetryBase:    retryutil.Policy{MaxAttempts: 1},
		ProgressOpts: progress.Options{Enabled: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	return b, clears
}

func TestHandleCommandHelpRepliesAndRecords(t *testing.T) {
	t.Parallel()
	ts := &tgServer{}
	srv := httptest.NewServer(ts.handler())
	defer srv.Close()

	b, clears := newTestBot(t, srv)
	b.handleCommand(context.Background(), job{chatID: 5, messageID: 77, text: ",help"})

	sent := ts.sentTexts()
	if len(sent) == 0 || !contains(sent[0], "Commands:") {
		t.Fatalf("help reply = %v", sent)
	}
	// The command message and the reply are both logged for auto-clear.
	if got := clears.Len(5); got != 2 {
		t.Fatalf("clearlog Len = %d, want 2", got)
	}
}

func TestHandleCommandAutoClearsPreviousResponses(t *testing.T) {
	t.Parallel()
	ts := &tgServer{}
	srv := httptest.NewServer(ts.handler())
	defer srv.Close()

	b, clears := newTestBot(t, srv)
	// Responses left over from earlier commands.
	clears.Record(5, 11)
	clears.Record(5, 12)

	b.handleCommand(context.Background(), job{chatID: 5, messageID: 77, text: ",help"})

	if got := ts.called("deleteMessages"); got != 1 {
		t.Fatalf("deleteMessages calls = %d, want 1 (previous responses cleared before dispatch)", got)
	}
	// Only the new command message and its reply remain logged.
	if got := clears.Len(5); got != 2 {
		t.Fatalf("clearlog Len = %d, want 2", got)
	}
}

func TestHandleCommandAutoClearOffKeepsLog(t *testing.T) {
	t.Parallel()
	ts := &tgServer{}
	srv := httptest.NewServer(ts.handler())
	defer srv.Close()

	b, clears := newTestBot(t, srv)
	if _, err := b.settings.Update(func(st *Settings) { st.AutoClear = false }); err != nil {
		t.Fatal(err)
	}
	clears.Record(5, 11)

	b.handleCommand(context.Background(), job{chatID: 5, messageID: 77, text: ",help"})

	if got := ts.called("deleteMessages"); got != 0 {
		t.Fatalf("deleteMessages calls = %d, want 0 with autoclear off", got)
	}
	if got := clears.Len(5); got != 1 {
		t.Fatalf("clearlog Len = %d, want 1", got)
	}
}

func TestHandleCommandUnknown(t *testing.T) {
	t.Parallel()
	ts := &tgServer{}
	srv := httptest.NewServer(ts.handler())
	defer srv.Close()

	b, _ := newTestBot(t, srv)
	b.handleCommand(context.Background(), job{chatID: 5, messageID: 1, text: ",bogus"})

	sent := ts.sentTexts()
	if len(sent) != 1 || !contains(sent[0], "Unknown command") {
		t.Fatalf("reply = %v", sent)
	}
}

// stubRunner fakes yt-dlp by writing one output file per requested URL.
type stubRunner struct {
	dir string
}

func (r *stubRunner) Download(_ context.Context, opts ytdlp.Options) (*ytdlp.Result, error) {
	id := opts.URL[strings.LastIndex(opts.URL, "=")+1:]
	path := filepath.Join(r.dir, id+" - Track.m4a")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		return nil, err
	}
	return &ytdlp.Result{Info: &ytdlp.Info{
		ID:                 id,
		Title:              "Track " + id,
		Duration:           120,
		RequestedDownloads: []ytdlp.RequestedDownload{{Filepath: path, Ext: "m4a"}},
	}}, nil
}

func TestDeliverTracksAlbumSendsAllAndRecordsHistory(t *testing.T) {
	t.Parallel()
	ts := &tgServer{}
	srv := httptest.NewServer(ts.handler())
	defer srv.Close()

	b, clears := newTestBot(t, srv)
	dir := t.TempDir()
	b.pipe = pipeline.New(nil, &stubRunner{dir: dir}, pipeline.NopTagger{}, nil, pipeline.Options{Dir: dir})

	entity := &musicapi.Entity{
		Kind:  musicapi.KindAlbum,
		Title: "Discovery",
		Year:  "2001",
		Tracks: []musicapi.Track{
			{VideoID: "vidaaaaaaaa", Title: "One", Artists: []musicapi.Artist{{Name: "Daft Punk"}}, Album: "Discovery"},
			{VideoID: "vidbbbbbbbb", Title: "Two", Artists: []musicapi.Artist{{Name: "Daft Punk"}}, Album: "Discovery"},
		},
	}
	err := b.deliverTracks(context.Background(), 5, true, entity, map[string]string{}, progress.InertTask())
	if err != nil {
		t.Fatal(err)
	}

	if got := ts.called("sendAudio"); got != 2 {
		t.Fatalf("sendAudio calls = %d, want 2", got)
	}
	recs, err := b.hist.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("history records = %d, want 2", len(recs))
	}
	if recs[0].Album != "Discovery" || recs[0].Duration != 120 {
		t.Fatalf("history record = %+v, want album and duration set", recs[0])
	}
	// Both audio messages and the summary reply are logged for auto-clear.
	if got := clears.Len(5); got != 3 {
		t.Fatalf("clearlog Len = %d, want 3", got)
	}
}

func TestHandleCommandConfigToggle(t *testing.T) {
	t.Parallel()
	ts := &tgServer{}
	srv := httptest.NewServer(ts.handler())
	defer srv.Close()

	b, clears := newTestBot(t, srv)
	b.handleCommand(context.Background(), job{chatID: 5, messageID: 1, text: ",config autoclear off"})

	if b.settings.Get().AutoClear {
		t.Fatal("autoclear should be off")
	}
	// config is not auto-cleared, and with autoclear off nothing records.
	b.handleCommand(context.Background(), job{chatID: 5, messageID: 2, text: ",help"})
	if got := clears.Len(5); got != 0 {
		t.Fatalf("clearlog Len = %d, want 0 with autoclear off", got)
	}
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
