package bot

import (
	"fmt"
	"strings"

	"github.com/den22den22/ytmg/internal/musicapi"
)

func formatDuration(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func formatTrackList(heading string, tracks []musicapi.Track) string {
	var b strings.Builder
	b.WriteString(heading)
	b.WriteString(":\n")
	for i, track := range tracks {
		fmt.Fprintf(&b, "%d. %s - %s", i+1, musicapi.FormatArtists(track.Artists), track.Title)
		if d := formatDuration(track.Duration); d != "" {
			b.WriteString(" (" + d + ")")
		}
		if url := track.URL(); url != "" {
			b.WriteString("\n   " + url)
		}
		if i < len(tracks)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatEntity(e *musicapi.Entity) string {
	var b strings.Builder
	switch e.Kind {
	case musicapi.KindArtist:
		b.WriteString("Artist: " + e.Title)
		if e.Description != "" {
			b.WriteString("\n" + clip(e.Description, 600))
		}
	case musicapi.KindAlbum:
		b.WriteString("Album: " + e.Title)
		if len(e.Artists) > 0 {
			b.WriteString("\nBy: " + musicapi.FormatArtists(e.Artists))
		}
		if e.Year != "" {
			b.WriteString("\nYear: " + e.Year)
		}
	case musicapi.KindPlaylist:
		b.WriteString("Playlist: " + e.Title)
	default:
		b.WriteString(e.Title)
	}
	if e.TrackCount > 0 {
		fmt.Fprintf(&b, "\nTracks: %d", e.TrackCount)
	}

	max := 15
	for i, track := range e.Tracks {
		if i == max {
			fmt.Fprintf(&b, "\n... and %d more", len(e.Tracks)-max)
			break
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, track.Title)
		if d := formatDuration(track.Duration); d != "" {
			b.WriteString(" (" + d + ")")
		}
	}
	return b.String()
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
