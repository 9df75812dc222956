package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Metadata is the tag set written onto a finished file.
type Metadata struct {
	Title  string
	Artist string
	Album  string
	Year   string
	Track  int
}

// Tagger writes tags (and optionally embedded artwork) onto an audio
// file in place.
type Tagger interface {
	Tag(ctx context.Context, path string, meta Metadata, artworkPath string) error
}

// FFmpegTagger shells out to ffmpeg. The file is rewritten next to the
// original with a stream copy and renamed over it.
type FFmpegTagger struct {
	Binary string
	Logger *slog.Logger
}

func NewFFmpegTagger(logger *slog.Logger, binary string) *FFmpegTagger {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpegTagger{Binary: binary, Logger: logger}
}

func (t *FFmpegTagger) Tag(ctx context.Context, path string, meta Metadata, artworkPath string) error {
	ext := filepath.Ext(path)
	tmp := strings.TrimSuffix(path, ext) + ".tagged" + ext

	args := []string{"-y", "-loglevel", "error", "-i", path}
	if artworkPath != "" {
		args = append(args, "-i", artworkPath,
			"-map", "0:a", "-map", "1:v",
			"-disposition:v", "attached_pic")
	} else {
		args = append(args, "-map", "0:a")
	}
	args = append(args, "-c", "copy")
	for key, value := range map[string]string{
		"title":  meta.Title,
		"artist": meta.Artist,
		"album":  meta.Album,
		"date":   meta.Year,
	} {
		if value != "" {
			args = append(args, "-metadata", fmt.Sprintf("%s=%s", key, value))
		}
	}
	if meta.Track > 0 {
		args = append(args, "-metadata", fmt.Sprintf("track=%d", meta.Track))
	}
	args = append(args, tmp)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.Binary, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "ffmpeg tag: %s", strings.TrimSpace(stderr.String()))
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "ffmpeg tag: replace original")
	}
	t.Logger.Debug("pipeline_tagged", "path", path, "title", meta.Title)
	return nil
}

// NopTagger leaves files untouched; used when ffmpeg is unavailable.
type NopTagger struct{}

func (NopTagger) Tag(context.Context, string, Metadata, string) error { return nil }
