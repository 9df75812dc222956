// Package ytdlp shells out to the yt-dlp binary and returns the metadata
// JSON it prints for the finished download. The reported file path is a
// hint, not a guarantee: postprocessors change the extension after the
// path is printed, so callers must resolve the real output themselves.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const DefaultBinary = "yt-dlp"

// Options configures one download invocation.
type Options struct {
	URL            string
	OutputDir      string
	OutputTemplate string // defaults to "%(id)s - %(title)s.%(ext)s"
	AudioFormat    string // preferred codec for -x, e.g. "m4a"
	CookiesFile    string
	EmbedMetadata  bool
	NoPlaylist     bool
	ExtraArgs      []string
}

// RequestedDownload mirrors one entry of the info JSON's
// requested_downloads list, the most reliable source for the final path.
type RequestedDownload struct {
	Filepath string `json:"filepath"`
	Ext      string `json:"ext"`
}

// Info is the subset of yt-dlp's metadata JSON the pipeline consumes.
type Info struct {
	ID                 string              `json:"id"`
	Title              string              `json:"title"`
	Artist             string              `json:"artist"`
	Creator            string              `json:"creator"`
	Uploader           string              `json:"uploader"`
	Album              string              `json:"album"`
	Ext                string              `json:"ext"`
	Filepath           string              `json:"filepath"`
	Filename           string              `json:"_filename"`
	Duration           float64             `json:"duration"`
	Thumbnail          string              `json:"thumbnail"`
	RequestedDownloads []RequestedDownload `json:"requested_downloads"`
}

// BestArtist picks the most specific credit the extractor produced.
func (i *Info) BestArtist() string {
	for _, s := range []string{i.Artist, i.Creator, i.Uploader} {
		if v := strings.TrimSpace(s); v != "" {
			return v
		}
	}
	return ""
}

// ReportedPath returns the path the info JSON claims the file landed at,
// preferring requested_downloads over the legacy top-level fields.
func (i *Info) ReportedPath() string {
	for _, rd := range i.RequestedDownloads {
		if rd.Filepath != "" {
			return rd.Filepath
		}
	}
	if i.Filepath != "" {
		return i.Filepath
	}
	return i.Filename
}

// ReportedExt is the container extension the postprocessor chain settled
// on, without the dot.
func (i *Info) ReportedExt() string {
	for _, rd := range i.RequestedDownloads {
		if rd.Ext != "" {
			return rd.Ext
		}
	}
	return i.Ext
}

type Result struct {
	Info    *Info
	RawJSON []byte
	Stderr  string
}

// Runner abstracts the binary so the pipeline is testable without network
// or a yt-dlp install.
type Runner interface {
	Download(ctx context.Context, opts Options) (*Result, error)
}

// ExecRunner invokes the real binary.
type ExecRunner struct {
	Binary string
	Logger *slog.Logger
}

func NewExecRunner(logger *slog.Logger, binary string) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	return &ExecRunner{Binary: binary, Logger: logger}
}

func buildArgs(opts Options) []string {
	template := opts.OutputTemplate
	if template == "" {
		template = "%(id)s - %(title)s.%(ext)s"
	}
	if opts.OutputDir != "" {
		template = filepath.Join(opts.OutputDir, template)
	}
	args := []string{
		"-J", "--no-simulate",
		"--no-progress",
		"--no-warnings",
		"-x",
		"-o", template,
	}
	if opts.AudioFormat != "" {
		args = append(args, "--audio-format", opts.AudioFormat)
	}
	if opts.EmbedMetadata {
		args = append(args, "--embed-metadata")
	}
	if opts.NoPlaylist {
		args = append(args, "--no-playlist")
	}
	if opts.CookiesFile != "" {
		args = append(args, "--cookies", opts.CookiesFile)
	}
	args = append(args, opts.ExtraArgs...)
	args = append(args, "--", opts.URL)
	return args
}

func (r *ExecRunner) Download(ctx context.Context, opts Options) (*Result, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("ytdlp: empty url")
	}
	args := buildArgs(opts)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	r.Logger.Info("ytdlp_start", "url", opts.URL, "audio_format", opts.AudioFormat)
	err := cmd.Run()
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		tail := lastLines(stderr.String(), 5)
		r.Logger.Warn("ytdlp_error",
			"url", opts.URL,
			"elapsed", elapsed.String(),
			"stderr", tail)
		return nil, errors.Wrapf(err, "ytdlp: %s", tail)
	}

	info, err := decodeInfo(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	r.Logger.Info("ytdlp_done",
		"url", opts.URL,
		"id", info.ID,
		"ext", info.ReportedExt(),
		"elapsed", elapsed.String())
	return &Result{
		Info:    info,
		RawJSON: stdout.Bytes(),
		Stderr:  stderr.String(),
	}, nil
}

func decodeInfo(raw []byte) (*Info, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("ytdlp: no metadata on stdout")
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, errors.Wrap(err, "ytdlp: decode metadata")
	}
	if info.ID == "" {
		return nil, errors.New("ytdlp: metadata has no id")
	}
	return &info, nil
}

// DurationSeconds returns the track length to whole seconds.
func (i *Info) DurationSeconds() int {
	if i.Duration <= 0 {
		return 0
	}
	return int(i.Duration + 0.5)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
