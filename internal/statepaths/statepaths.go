// Package statepaths resolves the on-disk locations the bot reads and
// writes, all rooted under a single configurable data directory.
package statepaths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	RecentFilename   = "recent.jsonl"
	SettingsFilename = "settings.yaml"
	AuthFilename     = "music_auth.json"
)

// DataDir returns the root state directory (config key `data_dir`,
// default ~/.ytmg).
func DataDir() string {
	dir := strings.TrimSpace(viper.GetString("data_dir"))
	if dir == "" {
		dir = "~/.ytmg"
	}
	return expandHome(dir)
}

// DownloadDir is where yt-dlp writes audio and where temp artifacts for
// in-flight operations live (config key `download.dir`).
func DownloadDir() string {
	dir := strings.TrimSpace(viper.GetString("download.dir"))
	if dir == "" {
		return filepath.Join(DataDir(), "downloads")
	}
	return expandHome(dir)
}

func RecentPath() string {
	return filepath.Join(DataDir(), RecentFilename)
}

func SettingsPath() string {
	return filepath.Join(DataDir(), SettingsFilename)
}

// MusicAuthPath is the metadata-service headers file (config key
// `music.auth_file`); empty value falls back to the data dir.
func MusicAuthPath() string {
	p := strings.TrimSpace(viper.GetString("music.auth_file"))
	if p == "" {
		return filepath.Join(DataDir(), AuthFilename)
	}
	return expandHome(p)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil && home != "" {
			if path == "~" {
				return home
			}
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
