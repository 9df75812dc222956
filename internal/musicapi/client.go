// Package musicapi is a client for the YouTube Music internal web API
// ("innertube"): search, entity browsing, lyrics, and the authenticated
// library surfaces the bot exposes. Responses are deeply nested renderer
// trees, so parsing walks the decoded JSON generically and extracts the
// handful of fields the bot needs, tolerating missing branches.
package musicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://music.youtube.com/youtubei/v1"
	clientName     = "WEB_REMIX"
	clientVersion  = "1.20250301.01.00"
)

// searchParams maps entity kinds to the service's opaque filter params.
var searchParams = map[EntityKind]string{
	KindSong:     "EgWKAQIIAWoKEAkQBRAKEAMQBA%3D%3D",
	KindVideo:    "EgWKAQIQAWoKEAkQChAFEAMQBA%3D%3D",
	KindAlbum:    "EgWKAQIYAWoKEAkQChAFEAMQBA%3D%3D",
	KindPlaylist: "EgWKAQIoAWoKEAkQChAFEAMQBA%3D%3D",
	KindArtist:   "EgWKAQIgAWoKEAkQChAFEAMQBA%3D%3D",
}

type Client struct {
	http          *http.Client
	baseURL       string
	headers       http.Header
	authenticated bool
}

// NewClient builds a client. Extra headers (cookie, authorization) come
// from the auth file; nil headers produce an anonymous client.
func NewClient(httpClient *http.Client, baseURL string, headers http.Header, authenticated bool) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http:          httpClient,
		baseURL:       strings.TrimRight(baseURL, "/"),
		headers:       headers,
		authenticated: authenticated,
	}
}

// Authenticated reports whether this client carries account credentials.
func (c *Client) Authenticated() bool { return c.authenticated }

func (c *Client) do(ctx context.Context, endpoint string, body map[string]any) (map[string]any, error) {
	payload := map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    clientName,
				"clientVersion": clientVersion,
				"hl":            "en",
			},
		},
	}
	for k, v := range body {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("musicapi %s: encode: %w", endpoint, err)
	}

	url := fmt.Sprintf("%s/%s?alt=json", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Origin", "https://music.youtube.com")
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(raw)), 200),
		}
	}
	if readErr != nil {
		// A truncated body is a network failure, not a bad response.
		return nil, fmt.Errorf("musicapi %s: read response: %w", endpoint, readErr)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("musicapi %s: decode: %w", endpoint, err)
	}
	return out, nil
}

// Search runs a filtered search and returns up to limit tracks or entity
// rows.
func (c *Client) Search(ctx context.Context, query string, kind EntityKind, limit int) ([]Track, error) {
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{"query": query}
	if params, ok := searchParams[kind]; ok {
		body["params"] = params
	}
	root, err := c.do(ctx, "search", body)
	if err != nil {
		return nil, err
	}

	items := collectMaps(root, "musicResponsiveListItemRenderer")
	tracks := make([]Track, 0, limit)
	for _, item := range items {
		track := parseListItem(item)
		if track.VideoID == "" && track.Title == "" {
			continue
		}
		track.ResultKind = kind
		tracks = append(tracks, track)
		if len(tracks) >= limit {
			break
		}
	}
	return tracks, nil
}

// GetEntity browses an album, playlist, or artist; song IDs are resolved
// through the queue endpoint.
func (c *Client) GetEntity(ctx context.Context, kind EntityKind, id string) (*Entity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("musicapi: empty entity id")
	}
	if kind == "" {
		kind = KindForID(id)
	}
	if kind == KindSong || kind == KindVideo {
		track, err := c.GetSong(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Entity{
			Kind:      kind,
			ID:        id,
			Title:     track.Title,
			Artists:   track.Artists,
			Thumbnail: track.Thumbnail,
			Tracks:    []Track{*track},
		}, nil
	}

	browseID := id
	if kind == KindPlaylist && !strings.HasPrefix(id, "VL") {
		browseID = "VL" + id
	}
	root, err := c.do(ctx, "browse", map[string]any{"browseId": browseID})
	if err != nil {
		return nil, err
	}

	entity := &Entity{Kind: kind, ID: id}
	if header := firstMap(root, "musicDetailHeaderRenderer"); header != nil {
		entity.Title = runsText(header, "title")
		entity.Year, entity.Artists = parseHeaderSubtitle(header)
		entity.Thumbnail = largestThumbnail(header)
	} else if header := firstMap(root, "musicImmersiveHeaderRenderer"); header != nil {
		entity.Title = runsText(header, "title")
		entity.Description = runsText(header, "description")
		entity.Thumbnail = largestThumbnail(header)
	} else if header := firstMap(root, "musicResponsiveHeaderRenderer"); header != nil {
		entity.Title = runsText(header, "title")
		entity.Thumbnail = largestThumbnail(header)
	}
	if entity.Title == "" {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}

	for _, item := range collectMaps(root, "musicResponsiveListItemRenderer") {
		track := parseListItem(item)
		if track.VideoID == "" {
			continue
		}
		if track.Album == "" && kind == KindAlbum {
			track.Album = entity.Title
		}
		entity.Tracks = append(entity.Tracks, track)
	}
	entity.TrackCount = len(entity.Tracks)
	return entity, nil
}

// GetSong resolves one video ID through the queue endpoint.
func (c *Client) GetSong(ctx context.Context, videoID string) (*Track, error) {
	root, err := c.do(ctx, "music/get_queue", map[string]any{
		"videoIds": []string{videoID},
	})
	if err != nil {
		return nil, err
	}
	items := collectMaps(root, "playlistPanelVideoRenderer")
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: song %s", ErrNotFound, videoID)
	}
	track := parsePanelItem(items[0])
	if track.VideoID == "" {
		track.VideoID = videoID
	}
	return &track, nil
}

// Lyrics fetches lyrics for a track: the watch page names a lyrics browse
// ID, which resolves to the text body.
func (c *Client) Lyrics(ctx context.Context, videoID string) (*Lyrics, error) {
	root, err := c.do(ctx, "next", map[string]any{"videoId": videoID})
	if err != nil {
		return nil, err
	}
	browseID := ""
	for _, tab := range collectMaps(root, "tabRenderer") {
		endpoint := firstMap(tab, "browseEndpoint")
		if endpoint == nil {
			continue
		}
		if id, _ := endpoint["browseId"].(string); strings.HasPrefix(id, "MPLYt") {
			browseID = id
			break
		}
	}
	if browseID == "" {
		return nil, fmt.Errorf("%w: lyrics for %s", ErrNotFound, videoID)
	}

	body, err := c.do(ctx, "browse", map[string]any{"browseId": browseID})
	if err != nil {
		return nil, err
	}
	shelf := firstMap(body, "musicDescriptionShelfRenderer")
	if shelf == nil {
		return nil, fmt.Errorf("%w: lyrics body for %s", ErrNotFound, videoID)
	}
	text := runsText(shelf, "description")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: lyrics body for %s", ErrNotFound, videoID)
	}
	return &Lyrics{
		Text:   text,
		Source: runsText(shelf, "footer"),
	}, nil
}

// History returns the account's recently played tracks. Requires an
// authenticated session.
func (c *Client) History(ctx context.Context) ([]Track, error) {
	return c.browseTracks(ctx, "FEmusic_history", 0)
}

// LikedSongs returns the account's liked-songs playlist.
func (c *Client) LikedSongs(ctx context.Context, limit int) ([]Track, error) {
	return c.browseTracks(ctx, "VLLM", limit)
}

// Home returns the personalized home feed rows flattened to tracks.
func (c *Client) Home(ctx context.Context, limit int) ([]Track, error) {
	return c.browseTracks(ctx, "FEmusic_home", limit)
}

func (c *Client) browseTracks(ctx context.Context, browseID string, limit int) ([]Track, error) {
	if !c.authenticated {
		return nil, fmt.Errorf("%w: browse %s", ErrAuthRequired, browseID)
	}
	root, err := c.do(ctx, "browse", map[string]any{"browseId": browseID})
	if err != nil {
		return nil, err
	}
	var tracks []Track
	for _, item := range collectMaps(root, "musicResponsiveListItemRenderer") {
		track := parseListItem(item)
		if track.VideoID == "" {
			continue
		}
		tracks = append(tracks, track)
		if limit > 0 && len(tracks) >= limit {
			break
		}
	}
	return tracks, nil
}

// --- renderer walking ---

// collectMaps walks the decoded response depth-first and gathers every
// object stored under the given renderer key, in document order.
func collectMaps(node any, key string) []map[string]any {
	var out []map[string]any
	var walk func(any)
	walk = func(n any) {
		switch v := n.(type) {
		case map[string]any:
			if child, ok := v[key].(map[string]any); ok {
				out = append(out, child)
			}
			for _, cv := range v {
				walk(cv)
			}
		case []any:
			for _, cv := range v {
				walk(cv)
			}
		}
	}
	walk(node)
	return out
}

func firstMap(node any, key string) map[string]any {
	found := collectMaps(node, key)
	if len(found) == 0 {
		return nil
	}
	return found[0]
}

// runsText joins the `runs[].text` fragments under m[field].
func runsText(m map[string]any, field string) string {
	obj, ok := m[field].(map[string]any)
	if !ok {
		return ""
	}
	runs, ok := obj["runs"].([]any)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, r := range runs {
		rm, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := rm["text"].(string); ok {
			b.WriteString(text)
		}
	}
	return b.String()
}

func largestThumbnail(m map[string]any) string {
	best := ""
	bestW := 0.0
	var walk func(any)
	walk = func(n any) {
		switch v := n.(type) {
		case map[string]any:
			url, hasURL := v["url"].(string)
			w, hasW := v["width"].(float64)
			if hasURL && hasW && w > bestW {
				best, bestW = url, w
			}
			for _, cv := range v {
				walk(cv)
			}
		case []any:
			for _, cv := range v {
				walk(cv)
			}
		}
	}
	walk(m)
	return best
}

// parseListItem maps a musicResponsiveListItemRenderer to a Track. The
// flex columns are positional: title, artists, album.
func parseListItem(item map[string]any) Track {
	var track Track
	if endpoint := firstMap(item, "watchEndpoint"); endpoint != nil {
		track.VideoID, _ = endpoint["videoId"].(string)
	}
	cols, _ := item["flexColumns"].([]any)
	for i, col := range cols {
		cm, ok := col.(map[string]any)
		if !ok {
			continue
		}
		renderer := firstMap(cm, "musicResponsiveListItemFlexColumnRenderer")
		if renderer == nil {
			continue
		}
		text := runsText(renderer, "text")
		switch i {
		case 0:
			track.Title = text
		case 1:
			track.Artists = parseArtistRuns(renderer)
			if d := extractDuration(text); d > 0 {
				track.Duration = d
			}
		case 2:
			track.Album = text
		}
	}
	if fixed, ok := item["fixedColumns"].([]any); ok && len(fixed) > 0 {
		if cm, ok := fixed[0].(map[string]any); ok {
			if renderer := firstMap(cm, "musicResponsiveListItemFixedColumnRenderer"); renderer != nil {
				if d := ParseDuration(runsText(renderer, "text")); d > 0 {
					track.Duration = d
				}
			}
		}
	}
	track.Thumbnail = largestThumbnail(item)
	return track
}

func parsePanelItem(item map[string]any) Track {
	var track Track
	if endpoint := firstMap(item, "watchEndpoint"); endpoint != nil {
		track.VideoID, _ = endpoint["videoId"].(string)
	}
	track.Title = runsText(item, "title")
	if sub := runsText(item, "longBylineText"); sub != "" {
		for _, part := range strings.Split(sub, "•") {
			part = strings.TrimSpace(part)
			if part == "" || ParseDuration(part) > 0 {
				continue
			}
			track.Artists = append(track.Artists, Artist{Name: part})
			break
		}
	}
	if d := ParseDuration(runsText(item, "lengthText")); d > 0 {
		track.Duration = d
	}
	track.Thumbnail = largestThumbnail(item)
	return track
}

func parseArtistRuns(renderer map[string]any) []Artist {
	obj, ok := renderer["text"].(map[string]any)
	if !ok {
		return nil
	}
	runs, ok := obj["runs"].([]any)
	if !ok {
		return nil
	}
	var artists []Artist
	for _, r := range runs {
		rm, ok := r.(map[string]any)
		if !ok {
			continue
		}
		text, _ := rm["text"].(string)
		text = strings.TrimSpace(text)
		if text == "" || text == "•" || text == "," || text == "&" {
			continue
		}
		if ParseDuration(text) > 0 {
			continue
		}
		artist := Artist{Name: text}
		if endpoint := firstMap(rm, "browseEndpoint"); endpoint != nil {
			artist.ID, _ = endpoint["browseId"].(string)
		}
		artists = append(artists, artist)
	}
	return artists
}

// parseHeaderSubtitle pulls the release year and artist credits out of a
// detail header's subtitle runs ("Album • Artist • 2021").
func parseHeaderSubtitle(header map[string]any) (string, []Artist) {
	obj, ok := header["subtitle"].(map[string]any)
	if !ok {
		return "", nil
	}
	runs, ok := obj["runs"].([]any)
	if !ok {
		return "", nil
	}
	year := ""
	var artists []Artist
	for _, r := range runs {
		rm, ok := r.(map[string]any)
		if !ok {
			continue
		}
		text, _ := rm["text"].(string)
		text = strings.TrimSpace(text)
		if len(text) == 4 {
			if _, err := strconv.Atoi(text); err == nil {
				year = text
				continue
			}
		}
		if endpoint := firstMap(rm, "browseEndpoint"); endpoint != nil {
			id, _ := endpoint["browseId"].(string)
			if strings.HasPrefix(id, "UC") {
				artists = append(artists, Artist{Name: text, ID: id})
			}
		}
	}
	return year, artists
}

// ParseDuration converts "3:25" or "1:02:45" to seconds; 0 if it is not a
// clock string.
func ParseDuration(s string) int {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

func extractDuration(s string) int {
	for _, part := range strings.Split(s, "•") {
		if d := ParseDuration(part); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
