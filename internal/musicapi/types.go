package musicapi

import (
	"fmt"
	"regexp"
	"strings"
)

// EntityKind mirrors the service's search filters and browse types.
type EntityKind string

const (
	KindSong     EntityKind = "songs"
	KindVideo    EntityKind = "videos"
	KindAlbum    EntityKind = "albums"
	KindPlaylist EntityKind = "playlists"
	KindArtist   EntityKind = "artists"
)

// ParseKind accepts a kind name or a short alias.
func ParseKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "song", "songs", "s":
		return KindSong, nil
	case "video", "videos", "v":
		return KindVideo, nil
	case "album", "albums", "a":
		return KindAlbum, nil
	case "playlist", "playlists", "p":
		return KindPlaylist, nil
	case "artist", "artists":
		return KindArtist, nil
	default:
		return "", fmt.Errorf("unknown search type %q (songs, videos, albums, playlists, artists)", s)
	}
}

// Artist is one credited performer.
type Artist struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// Track is one search result or album/playlist row.
type Track struct {
	VideoID    string   `json:"videoId"`
	Title      string   `json:"title"`
	Artists    []Artist `json:"artists,omitempty"`
	Album      string   `json:"album,omitempty"`
	Duration   int      `json:"duration,omitempty"`
	Thumbnail  string   `json:"thumbnail,omitempty"`
	LyricsID   string   `json:"lyricsId,omitempty"`
	ResultKind EntityKind
}

// Entity is a browsable album, playlist, or artist with its track listing.
type Entity struct {
	Kind        EntityKind `json:"kind"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Artists     []Artist   `json:"artists,omitempty"`
	Year        string     `json:"year,omitempty"`
	Description string     `json:"description,omitempty"`
	TrackCount  int        `json:"trackCount,omitempty"`
	Thumbnail   string     `json:"thumbnail,omitempty"`
	Tracks      []Track    `json:"tracks,omitempty"`
}

// Lyrics is the text body plus its attribution.
type Lyrics struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// URL returns the canonical watch link for a track.
func (t Track) URL() string {
	if t.VideoID == "" {
		return ""
	}
	return "https://music.youtube.com/watch?v=" + t.VideoID
}

var topicSuffix = regexp.MustCompile(`\s*-\s*Topic$`)

// FormatArtists joins artist names, stripping the service's auto-channel
// " - Topic" suffix.
func FormatArtists(artists []Artist) string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		name := strings.TrimSpace(topicSuffix.ReplaceAllString(a.Name, ""))
		if name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "Unknown"
	}
	return strings.Join(names, ", ")
}

var (
	videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	urlIDPatterns  = []*regexp.Regexp{
		regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`(?:music\.youtube\.com/watch\?v=)([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`(?:music\.youtube\.com/playlist\?list=|youtube\.com/playlist\?list=)([A-Za-z0-9_-]+)`),
		regexp.MustCompile(`(?:music\.youtube\.com/browse/|youtube\.com/channel/)([A-Za-z0-9_-]+)`),
	}
	browsePrefixes = []string{"PL", "VL", "OLAK5uy_", "MPRE", "MPLA", "RDAM", "UC"}
)

// ExtractEntityID pulls a video, playlist, album, or artist identifier out
// of a link, or returns the input when it already looks like an ID.
func ExtractEntityID(linkOrID string) string {
	linkOrID = strings.TrimSpace(linkOrID)
	if linkOrID == "" {
		return ""
	}
	if videoIDPattern.MatchString(linkOrID) {
		return linkOrID
	}
	for _, prefix := range browsePrefixes {
		if strings.HasPrefix(linkOrID, prefix) {
			return linkOrID
		}
	}
	for _, pattern := range urlIDPatterns {
		if m := pattern.FindStringSubmatch(linkOrID); m != nil {
			return m[1]
		}
	}
	return ""
}

// KindForID guesses the entity kind from an identifier's shape.
func KindForID(id string) EntityKind {
	switch {
	case strings.HasPrefix(id, "MPRE"), strings.HasPrefix(id, "MPLA"), strings.HasPrefix(id, "OLAK5uy_"), strings.HasPrefix(id, "RDAM"):
		return KindAlbum
	case strings.HasPrefix(id, "UC"):
		return KindArtist
	case strings.HasPrefix(id, "PL"), strings.HasPrefix(id, "VL"):
		return KindPlaylist
	default:
		return KindSong
	}
}
