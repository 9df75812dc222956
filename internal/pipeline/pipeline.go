// Package pipeline turns a resolved track into a tagged audio file on
// disk: run the downloader, locate the real output, fetch and embed cover
// art, write tags, and clean up whatever the attempt scattered. Every
// attempt ends in exactly one of two states, a usable file or an error
// with all temporaries removed.
package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/den22den22/ytmg/internal/ytdlp"
)

// Request describes one track to download. Metadata fields override what
// the downloader's extractor reports, since the catalog knows better.
type Request struct {
	URL          string
	SourceID     string
	Title        string
	Artist       string
	Album        string
	Year         string
	TrackNumber  int
	ThumbnailURL string
	// AudioFormat overrides the orchestrator's preferred codec for this
	// request only.
	AudioFormat string
}

// Item is a finished download. ThumbPath, when set, is a cropped cover
// image the caller may upload; Cleanup releases it.
type Item struct {
	Path      string
	SourceID  string
	Title     string
	Artist    string
	Album     string
	Duration  int
	ThumbPath string
	// Warnings carry non-fatal defects, e.g. metadata the catalog and the
	// extractor both failed to provide.
	Warnings []string
}

// Cleanup removes the item's temp artwork. Safe to call twice.
func (it *Item) Cleanup() {
	if it.ThumbPath != "" {
		_ = os.Remove(it.ThumbPath)
		it.ThumbPath = ""
	}
}

type Options struct {
	Dir         string
	AudioFormat string // preferred codec, e.g. "m4a"
	CookiesFile string
	// ScanWindow pads the fallback scan's modification-time cutoff so
	// slightly skewed filesystem clocks do not hide a fresh file.
	ScanWindow time.Duration
	// Parallelism bounds concurrent track downloads in DownloadAll.
	Parallelism int
}

type Orchestrator struct {
	logger *slog.Logger
	runner ytdlp.Runner
	tagger Tagger
	http   *http.Client
	opts   Options
}

func New(logger *slog.Logger, runner ytdlp.Runner, tagger Tagger, httpClient *http.Client, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if tagger == nil {
		tagger = NopTagger{}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.ScanWindow <= 0 {
		opts.ScanWindow = 5 * time.Second
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 2
	}
	return &Orchestrator{
		logger: logger,
		runner: runner,
		tagger: tagger,
		http:   httpClient,
		opts:   opts,
	}
}

// Download runs the full pipeline for one track.
func (o *Orchestrator) Download(ctx context.Context, req Request) (*Item, error) {
	if req.URL == "" {
		return nil, errors.New("pipeline: empty url")
	}
	start := time.Now().Add(-o.opts.ScanWindow)
	o.logger.Info("pipeline_start", "url", req.URL, "source_id", req.SourceID)

	result, err := o.runner.Download(ctx, ytdlp.Options{
		URL:         req.URL,
		OutputDir:   o.opts.Dir,
		AudioFormat: firstNonEmpty(req.AudioFormat, o.opts.AudioFormat),
		CookiesFile: o.opts.CookiesFile,
		NoPlaylist:  true,
	})
	if err != nil {
		removeSourceTransients(o.opts.Dir, req.SourceID)
		return nil, err
	}

	path, err := resolveOutput(o.opts.Dir, result.Info, req.SourceID, start)
	if err != nil {
		removeSourceTransients(o.opts.Dir, firstNonEmpty(req.SourceID, result.Info.ID))
		o.logger.Warn("pipeline_resolve_error",
			"url", req.URL,
			"reported_path", result.Info.ReportedPath(),
			"error", err)
		return nil, err
	}

	item := &Item{
		Path:     path,
		SourceID: firstNonEmpty(req.SourceID, result.Info.ID),
		Title:    firstNonEmpty(req.Title, result.Info.Title),
		Artist:   firstNonEmpty(req.Artist, result.Info.BestArtist()),
		Album:    firstNonEmpty(req.Album, result.Info.Album),
		Duration: result.Info.DurationSeconds(),
	}
	if item.Title == "" || item.Artist == "" {
		item.Warnings = append(item.Warnings, "metadata incomplete")
	}

	thumbURL := firstNonEmpty(req.ThumbnailURL, result.Info.Thumbnail)
	if thumbURL != "" {
		thumb, err := fetchArtwork(ctx, o.http, o.opts.Dir, thumbURL)
		if err != nil {
			// Artwork is decoration; the track still ships without it.
			o.logger.Warn("pipeline_artwork_error", "url", thumbURL, "error", err)
		} else {
			item.ThumbPath = thumb
		}
	}

	meta := Metadata{
		Title:  item.Title,
		Artist: item.Artist,
		Album:  item.Album,
		Year:   req.Year,
		Track:  req.TrackNumber,
	}
	if err := o.tagger.Tag(ctx, path, meta, item.ThumbPath); err != nil {
		o.logger.Warn("pipeline_tag_error", "path", path, "error", err)
	}

	o.logger.Info("pipeline_done",
		"path", path,
		"title", item.Title,
		"elapsed", time.Since(start).Round(time.Millisecond).String())
	return item, nil
}

// DownloadAll fetches a track list with bounded parallelism. The first
// error cancels outstanding work; finished items are returned either way
// so the caller can deliver or clean up partial results.
func (o *Orchestrator) DownloadAll(ctx context.Context, reqs []Request) ([]*Item, error) {
	items := make([]*Item, len(reqs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Parallelism)
	for i, req := range reqs {
		g.Go(func() error {
			item, err := o.Download(gctx, req)
			if err != nil {
				return errors.Wrapf(err, "track %d/%d", i+1, len(reqs))
			}
			mu.Lock()
			items[i] = item
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	done := items[:0]
	for _, item := range items {
		if item != nil {
			done = append(done, item)
		}
	}
	return done, err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
