package bot

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/den22den22/ytmg/internal/fsstore"
)

// Settings are the owner-tweakable toggles, persisted as YAML so a
// restart keeps them.
type Settings struct {
	ProgressMessages bool   `yaml:"progress_messages"`
	AutoClear        bool   `yaml:"auto_clear"`
	RecentEnabled    bool   `yaml:"recent_enabled"`
	AudioFormat      string `yaml:"audio_format"`
}

func defaultSettings() Settings {
	return Settings{
		ProgressMessages: true,
		AutoClear:        true,
		RecentEnabled:    true,
		AudioFormat:      "m4a",
	}
}

// settingsStore guards the live settings and writes changes through to
// disk.
type settingsStore struct {
	mu   sync.RWMutex
	path string
	cur  Settings
}

func loadSettings(path string) (*settingsStore, error) {
	s := &settingsStore{path: path, cur: defaultSettings()}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	if len(data) > 0 {
		var loaded Settings
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("settings: decode %s: %w", path, err)
		}
		if loaded.AudioFormat == "" {
			loaded.AudioFormat = defaultSettings().AudioFormat
		}
		s.cur = loaded
	}
	return s, nil
}

func (s *settingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *settingsStore) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur
	fn(&next)
	data, err := yaml.Marshal(next)
	if err != nil {
		return s.cur, fmt.Errorf("settings: encode: %w", err)
	}
	if err := fsstore.WriteAtomic(s.path, data, fsstore.Options{}); err != nil {
		return s.cur, err
	}
	s.cur = next
	return next, nil
}

// settingToggles maps config command keys to their fields.
var settingToggles = map[string]func(*Settings, bool){
	"progress": func(s *Settings, v bool) { s.ProgressMessages = v },
	"autoclear": func(s *Settings, v bool) {
		s.AutoClear = v
	},
	"recent": func(s *Settings, v bool) { s.RecentEnabled = v },
}

func settingKeys() []string {
	keys := make([]string, 0, len(settingToggles))
	for k := range settingToggles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s Settings) describe() string {
	onOff := func(v bool) string {
		if v {
			return "on"
		}
		return "off"
	}
	var b strings.Builder
	b.WriteString("Settings:\n")
	fmt.Fprintf(&b, "  progress: %s\n", onOff(s.ProgressMessages))
	fmt.Fprintf(&b, "  autoclear: %s\n", onOff(s.AutoClear))
	fmt.Fprintf(&b, "  recent: %s\n", onOff(s.RecentEnabled))
	fmt.Fprintf(&b, "  audio format: %s", s.AudioFormat)
	return b.String()
}
