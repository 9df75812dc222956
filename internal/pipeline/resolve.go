package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/den22den22/ytmg/internal/ytdlp"
)

var (
	// ErrDownloadIncomplete means no usable output file could be found for
	// a download the runner reported as finished.
	ErrDownloadIncomplete = errors.New("pipeline: download produced no output file")
	// ErrAmbiguousOutput means the fallback scan matched more than one
	// candidate. Picking one could ship the wrong audio, so this fails.
	ErrAmbiguousOutput = errors.New("pipeline: multiple candidate output files")
)

// transientSuffixes are in-flight artifacts the resolver and sweeper must
// never treat as output.
var transientSuffixes = []string{".part", ".ytdl", ".temp", ".tmp"}

func isTransient(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range transientSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return strings.HasPrefix(filepath.Base(lower), tempThumbPrefix)
}

// resolveOutput locates the finished audio file. The metadata JSON's path
// is tried first, then the same path with the postprocessor's reported
// extension swapped in, and as a last resort the download directory is
// scanned for files naming the source ID that changed after the download
// started. The scan fails closed on more than one match.
func resolveOutput(dir string, info *ytdlp.Info, sourceID string, since time.Time) (string, error) {
	reported := info.ReportedPath()
	if reported != "" {
		if fileExists(reported) {
			return reported, nil
		}
		if ext := info.ReportedExt(); ext != "" {
			swapped := strings.TrimSuffix(reported, filepath.Ext(reported)) + "." + ext
			if fileExists(swapped) {
				return swapped, nil
			}
		}
	}

	if sourceID == "" {
		sourceID = info.ID
	}
	return scanForOutput(dir, sourceID, since)
}

func scanForOutput(dir, sourceID string, since time.Time) (string, error) {
	if sourceID == "" {
		return "", ErrDownloadIncomplete
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrap(err, "pipeline: scan download dir")
	}

	var matches []string
	for _, entry := range entries {
		if entry.IsDir() || isTransient(entry.Name()) {
			continue
		}
		if !strings.Contains(entry.Name(), sourceID) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if fi.Size() == 0 || fi.ModTime().Before(since) {
			continue
		}
		matches = append(matches, filepath.Join(dir, entry.Name()))
	}

	switch len(matches) {
	case 0:
		return "", errors.Wrapf(ErrDownloadIncomplete, "source %s in %s", sourceID, dir)
	case 1:
		return matches[0], nil
	default:
		return "", errors.Wrapf(ErrAmbiguousOutput, "source %s matched %d files", sourceID, len(matches))
	}
}

// fileExists confirms a finished output: a regular file with content.
// Zero-byte files are truncated or still-materializing writes and must
// not be confirmed.
func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

// removeSourceTransients deletes partial artifacts a failed attempt left
// for one source, without touching other in-flight downloads.
func removeSourceTransients(dir, sourceID string) {
	if sourceID == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isTransient(entry.Name()) {
			continue
		}
		if strings.Contains(entry.Name(), sourceID) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}

// SweepStale removes leftover transient artifacts (partial downloads,
// resume journals, orphaned thumbnails) older than maxAge. Returns how
// many files were removed.
func SweepStale(dir string, maxAge time.Duration) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isTransient(entry.Name()) {
			continue
		}
		fi, err := entry.Info()
		if err != nil || fi.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(dir, entry.Name())) == nil {
			removed++
		}
	}
	return removed
}
