package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/den22den22/ytmg/internal/fsstore"
	"github.com/den22den22/ytmg/internal/history"
	"github.com/den22den22/ytmg/internal/musicapi"
	"github.com/den22den22/ytmg/internal/pipeline"
	"github.com/den22den22/ytmg/internal/progress"
	"github.com/den22den22/ytmg/internal/retryutil"
	"github.com/den22den22/ytmg/internal/telegram"
)

// autoCleared names the commands whose request and response messages are
// logged for bulk deletion.
var autoCleared = map[string]bool{
	"search": true, "see": true, "download": true, "dl": true,
	"last": true, "help": true, "rec": true, "alast": true,
	"likes": true, "text": true, "lyrics": true, "clear": true,
}

func splitCommand(s string) (string, []string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func (b *Bot) handleCommand(ctx context.Context, j job) {
	name, args := splitCommand(strings.TrimPrefix(j.text, b.cfg.Prefix))
	if name == "" {
		return
	}
	b.logger.Info("command_received", "chat_id", j.chatID, "command", name)

	if autoCleared[name] && b.settings.Get().AutoClear {
		if n, err := b.clears.Clear(ctx, b.api, j.chatID); err != nil {
			b.logger.Warn("auto_clear_partial", "chat_id", j.chatID, "deleted", n, "error", err)
		} else if n > 0 {
			b.logger.Debug("auto_clear", "chat_id", j.chatID, "deleted", n)
		}
		b.clears.Record(j.chatID, j.messageID)
	}
	record := autoCleared[name]

	_ = b.api.SendChatAction(ctx, j.chatID, "typing")

	var err error
	switch name {
	case "help":
		err = b.cmdHelp(ctx, j.chatID, record)
	case "clear":
		err = b.cmdClear(ctx, j.chatID)
	case "search":
		err = b.cmdSearch(ctx, j.chatID, record, args)
	case "see":
		err = b.cmdSee(ctx, j.chatID, record, args)
	case "download", "dl":
		err = b.cmdDownload(ctx, j.chatID, record, args)
	case "last":
		err = b.cmdLast(ctx, j.chatID, record)
	case "lyrics":
		err = b.cmdLyrics(ctx, j.chatID, record, args, false)
	case "text":
		err = b.cmdLyrics(ctx, j.chatID, record, args, true)
	case "rec":
		err = b.cmdLibrary(ctx, j.chatID, record, "recommendations", args)
	case "alast":
		err = b.cmdLibrary(ctx, j.chatID, record, "listening history", args)
	case "likes":
		err = b.cmdLibrary(ctx, j.chatID, record, "liked songs", args)
	case "config":
		err = b.cmdConfig(ctx, j.chatID, args)
	default:
		err = b.reply(ctx, j.chatID, record, fmt.Sprintf("Unknown command %q. Try %shelp.", name, b.cfg.Prefix))
	}
	if err != nil {
		b.logger.Warn("command_error", "chat_id", j.chatID, "command", name, "error", err)
		_ = b.reply(ctx, j.chatID, record, userMessage(err))
	}
}

// reply sends text with the transport retry policy and optionally logs
// the sent message for auto-clear.
func (b *Bot) reply(ctx context.Context, chatID int64, record bool, text string) error {
	ids, err := retryutil.Do(ctx, b.logger, "telegram_send_message", b.tgPolicy,
		func(ctx context.Context) ([]int64, error) {
			return b.api.SendMessageChunked(ctx, chatID, text)
		})
	if err != nil {
		return err
	}
	if record {
		for _, id := range ids {
			b.recordForClear(chatID, id)
		}
	}
	return nil
}

// musicDo runs one metadata-service call under the retry policy. The
// client is re-read from the session handle on every attempt so a
// mid-call re-authentication takes effect.
func musicDo[T any](ctx context.Context, b *Bot, name string, op func(context.Context, *musicapi.Client) (T, error)) (T, error) {
	return retryutil.Do(ctx, b.logger, name, b.musicPolicy,
		func(ctx context.Context) (T, error) {
			return op(ctx, b.music.Client())
		})
}

func (b *Bot) cmdHelp(ctx context.Context, chatID int64, record bool) error {
	p := b.cfg.Prefix
	text := strings.Join([]string{
		"Commands:",
		p + "search <query> [-t kind | -a | -p | -e | -v] [-n N]  find songs (or albums/playlists/artists/videos)",
		p + "see <link|id>  show details for a track, album, playlist, or artist",
		p + "download <link|id> [-s query] [-a] [-f ext] [-txt]  download and send audio (alias: " + p + "dl)",
		p + "last  recently downloaded tracks",
		p + "lyrics <link|id>  lyrics in chat",
		p + "text <link|id>  lyrics as a text file",
		p + "rec  personal recommendations",
		p + "alast  listening history",
		p + "likes [-n N]  liked songs",
		p + "clear  delete the bot's previous messages here",
		p + "config [key on|off]  show or change settings",
	}, "\n")
	return b.reply(ctx, chatID, record, text)
}

func (b *Bot) cmdClear(ctx context.Context, chatID int64) error {
	n, err := b.clears.Clear(ctx, b.api, chatID)
	if err != nil {
		b.logger.Warn("clear_partial", "chat_id", chatID, "error", err)
	}
	if n == 0 {
		return b.reply(ctx, chatID, true, "Nothing to clear.")
	}
	return b.reply(ctx, chatID, true, fmt.Sprintf("Cleared %d messages.", n))
}

func (b *Bot) cmdSearch(ctx context.Context, chatID int64, record bool, args []string) error {
	flags, rest := parseFlags(args)
	query := strings.Join(rest, " ")
	if query == "" {
		return b.reply(ctx, chatID, record, "Usage: "+b.cfg.Prefix+"search <query> [-t type] [-n N]")
	}
	kind := musicapi.KindSong
	switch {
	case flags["t"] != "" && flags["t"] != "1":
		k, err := musicapi.ParseKind(flags["t"])
		if err != nil {
			return b.reply(ctx, chatID, record, err.Error())
		}
		kind = k
	case flags["a"] != "":
		kind = musicapi.KindAlbum
	case flags["p"] != "":
		kind = musicapi.KindPlaylist
	case flags["e"] != "":
		kind = musicapi.KindArtist
	case flags["v"] != "":
		kind = musicapi.KindVideo
	}
	limit := 10
	if n := flags["n"]; n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 && v <= 25 {
			limit = v
		}
	}

	tracks, err := musicDo(ctx, b, "music_search",
		func(ctx context.Context, c *musicapi.Client) ([]musicapi.Track, error) {
			return c.Search(ctx, query, kind, limit)
		})
	if err != nil {
		return err
	}
	if len(tracks) == 0 {
		return b.reply(ctx, chatID, record, "No results for "+strconv.Quote(query)+".")
	}
	return b.reply(ctx, chatID, record, formatTrackList("Results for "+strconv.Quote(query), tracks))
}

func (b *Bot) cmdSee(ctx context.Context, chatID int64, record bool, args []string) error {
	_, rest := parseFlags(args)
	if len(rest) == 0 {
		return b.reply(ctx, chatID, record, "Usage: "+b.cfg.Prefix+"see <link|id>")
	}
	id := musicapi.ExtractEntityID(rest[0])
	if id == "" {
		return b.reply(ctx, chatID, record, "Could not recognize a link or ID in "+strconv.Quote(rest[0])+".")
	}

	entity, err := musicDo(ctx, b, "music_get_entity",
		func(ctx context.Context, c *musicapi.Client) (*musicapi.Entity, error) {
			return c.GetEntity(ctx, "", id)
		})
	if err != nil {
		return err
	}
	return b.reply(ctx, chatID, record, formatEntity(entity))
}

func (b *Bot) cmdDownload(ctx context.Context, chatID int64, record bool, args []string) error {
	flags, rest := parseFlags(args)
	if flags["f"] == "1" {
		// bare -f with no extension
		delete(flags, "f")
	}
	if len(rest) == 0 {
		return b.reply(ctx, chatID, record, "Usage: "+b.cfg.Prefix+"download <link|id> [-s query] [-a] [-f ext] [-txt]")
	}

	var id string
	if flags["s"] != "" {
		// Search-first: the arguments are a query, download the top hit.
		query := strings.Join(rest, " ")
		tracks, err := musicDo(ctx, b, "music_search",
			func(ctx context.Context, c *musicapi.Client) ([]musicapi.Track, error) {
				return c.Search(ctx, query, musicapi.KindSong, 1)
			})
		if err != nil {
			return err
		}
		if len(tracks) == 0 {
			return b.reply(ctx, chatID, record, "No results for "+strconv.Quote(query)+".")
		}
		id = tracks[0].VideoID
	} else {
		id = musicapi.ExtractEntityID(rest[0])
		if id == "" {
			return b.reply(ctx, chatID, record, "Could not recognize a link or ID in "+strconv.Quote(rest[0])+".")
		}
	}

	kind := musicapi.EntityKind("")
	if flags["a"] != "" {
		kind = musicapi.KindAlbum
	}
	entity, err := musicDo(ctx, b, "music_get_entity",
		func(ctx context.Context, c *musicapi.Client) (*musicapi.Entity, error) {
			return c.GetEntity(ctx, kind, id)
		})
	if err != nil {
		return err
	}
	if len(entity.Tracks) == 0 {
		return b.reply(ctx, chatID, record, "Nothing downloadable in "+strconv.Quote(entity.Title)+".")
	}

	task := progress.InertTask()
	if b.settings.Get().ProgressMessages {
		task = b.reporter.Begin(ctx, chatID, progressLabel(entity, 0, len(entity.Tracks)))
	}
	return b.deliverTracks(ctx, chatID, record, entity, flags, task)
}

// deliverTracks downloads an entity's tracks and sends them. A single
// track goes straight through the pipeline; larger sets are fetched with
// bounded parallelism before delivery.
func (b *Bot) deliverTracks(ctx context.Context, chatID int64, record bool, entity *musicapi.Entity, flags map[string]string, task *progress.Task) error {
	if len(entity.Tracks) == 1 {
		if err := b.downloadOne(ctx, chatID, record, entity, entity.Tracks[0], 1, flags); err != nil {
			b.logger.Warn("download_track_error",
				"chat_id", chatID,
				"video_id", entity.Tracks[0].VideoID,
				"error", err)
			return b.finishTask(ctx, chatID, record, task, "Download failed: "+userMessage(err))
		}
		return b.finishTask(ctx, chatID, record, task, "Done: 1/1 tracks sent.")
	}

	// Multi-track: fetch with bounded parallelism, then deliver in order.
	reqs := make([]pipeline.Request, len(entity.Tracks))
	for i, track := range entity.Tracks {
		reqs[i] = b.trackRequest(entity, track, i+1, flags)
	}
	items, err := b.pipe.DownloadAll(ctx, reqs)
	if err != nil {
		b.logger.Warn("download_batch_error", "chat_id", chatID, "error", err)
	}
	sent := 0
	for i, item := range items {
		task.Update(ctx, fmt.Sprintf("Sending %s: %d/%d", entity.Title, i+1, len(items)))
		if err := b.sendItem(ctx, chatID, record, item, flags); err != nil {
			b.logger.Warn("download_track_error",
				"chat_id", chatID,
				"video_id", item.SourceID,
				"error", err)
			continue
		}
		sent++
	}
	summary := fmt.Sprintf("Done: %d/%d tracks sent.", sent, len(entity.Tracks))
	if sent < len(entity.Tracks) {
		summary = fmt.Sprintf("Done with errors: %d/%d tracks sent.", sent, len(entity.Tracks))
	}
	return b.finishTask(ctx, chatID, record, task, summary)
}

// finishTask closes the status message, or sends the text as a plain
// reply when status messages are off or the initial send failed.
func (b *Bot) finishTask(ctx context.Context, chatID int64, record bool, task *progress.Task, text string) error {
	if task.MessageID() == 0 {
		return b.reply(ctx, chatID, record, text)
	}
	task.Finish(ctx, text)
	return nil
}

func (b *Bot) trackRequest(entity *musicapi.Entity, track musicapi.Track, trackNo int, flags map[string]string) pipeline.Request {
	req := pipeline.Request{
		URL:          track.URL(),
		SourceID:     track.VideoID,
		Title:        track.Title,
		Artist:       musicapi.FormatArtists(track.Artists),
		Album:        track.Album,
		Year:         entity.Year,
		ThumbnailURL: track.Thumbnail,
		AudioFormat:  flags["f"],
	}
	if entity.Kind == musicapi.KindAlbum {
		req.TrackNumber = trackNo
	}
	return req
}

func (b *Bot) downloadOne(ctx context.Context, chatID int64, record bool, entity *musicapi.Entity, track musicapi.Track, trackNo int, flags map[string]string) error {
	item, err := b.pipe.Download(ctx, b.trackRequest(entity, track, trackNo, flags))
	if err != nil {
		return err
	}
	return b.sendItem(ctx, chatID, record, item, flags)
}

// sendItem delivers one finished download: audio upload, optional lyrics
// file, auto-clear bookkeeping, and the recent-downloads entry.
func (b *Bot) sendItem(ctx context.Context, chatID int64, record bool, item *pipeline.Item, flags map[string]string) error {
	defer item.Cleanup()
	for _, warn := range item.Warnings {
		b.logger.Warn("download_warning", "video_id", item.SourceID, "warning", warn)
	}

	msgID, err := retryutil.Do(ctx, b.logger, "telegram_send_audio", b.tgPolicy,
		func(ctx context.Context) (int64, error) {
			return b.api.SendAudio(ctx, chatID, telegram.AudioUpload{
				Path:      item.Path,
				Title:     item.Title,
				Performer: item.Artist,
				Duration:  item.Duration,
				ThumbPath: item.ThumbPath,
			})
		})
	if err != nil {
		return err
	}
	if record {
		b.recordForClear(chatID, msgID)
	}

	if flags["txt"] != "" && item.SourceID != "" {
		if err := b.cmdLyrics(ctx, chatID, record, []string{item.SourceID}, true); err != nil {
			b.logger.Warn("download_lyrics_error", "video_id", item.SourceID, "error", err)
		}
	}

	if b.settings.Get().RecentEnabled {
		if err := b.hist.Append(history.Record{
			VideoID:  item.SourceID,
			Title:    item.Title,
			Artist:   item.Artist,
			Album:    item.Album,
			URL:      (musicapi.Track{VideoID: item.SourceID}).URL(),
			Duration: item.Duration,
		}); err != nil {
			b.logger.Warn("history_append_error", "video_id", item.SourceID, "error", err)
		}
	}
	return nil
}

func (b *Bot) cmdLast(ctx context.Context, chatID int64, record bool) error {
	if !b.settings.Get().RecentEnabled || !b.hist.Enabled() {
		return b.reply(ctx, chatID, record, "Recent-downloads tracking is off.")
	}
	records, err := b.hist.Recent(0)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return b.reply(ctx, chatID, record, "No downloads yet.")
	}
	var lines []string
	lines = append(lines, "Recent downloads:")
	for i, rec := range records {
		line := fmt.Sprintf("%d. %s - %s", i+1, rec.Artist, rec.Title)
		if rec.Duration > 0 {
			line += " (" + formatDuration(rec.Duration) + ")"
		}
		lines = append(lines, line+"\n   "+rec.URL)
	}
	return b.reply(ctx, chatID, record, strings.Join(lines, "\n"))
}

func (b *Bot) cmdLyrics(ctx context.Context, chatID int64, record bool, args []string, asFile bool) error {
	_, rest := parseFlags(args)
	if len(rest) == 0 {
		return b.reply(ctx, chatID, record, "Usage: "+b.cfg.Prefix+"lyrics <link|id>")
	}
	id := musicapi.ExtractEntityID(rest[0])
	if id == "" || musicapi.KindForID(id) != musicapi.KindSong {
		return b.reply(ctx, chatID, record, "Lyrics need a track link or video ID.")
	}

	lyrics, err := musicDo(ctx, b, "music_lyrics",
		func(ctx context.Context, c *musicapi.Client) (*musicapi.Lyrics, error) {
			return c.Lyrics(ctx, id)
		})
	if err != nil {
		return err
	}

	if !asFile {
		text := lyrics.Text
		if lyrics.Source != "" {
			text += "\n\n" + lyrics.Source
		}
		return b.reply(ctx, chatID, record, text)
	}

	path := filepath.Join(os.TempDir(), "lyrics_"+id+".txt")
	if err := fsstore.WriteAtomic(path, []byte(lyrics.Text+"\n"), fsstore.Options{}); err != nil {
		return err
	}
	defer func() { _ = os.Remove(path) }()

	msgID, err := retryutil.Do(ctx, b.logger, "telegram_send_document", b.tgPolicy,
		func(ctx context.Context) (int64, error) {
			return b.api.SendDocument(ctx, chatID, telegram.DocumentUpload{
				Path:    path,
				Caption: lyrics.Source,
			})
		})
	if err != nil {
		return err
	}
	if record {
		b.recordForClear(chatID, msgID)
	}
	return nil
}

func (b *Bot) cmdLibrary(ctx context.Context, chatID int64, record bool, surface string, args []string) error {
	flags, _ := parseFlags(args)
	limit := 10
	if n := flags["n"]; n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 && v <= 25 {
			limit = v
		}
	}

	tracks, err := musicDo(ctx, b, "music_library",
		func(ctx context.Context, c *musicapi.Client) ([]musicapi.Track, error) {
			switch surface {
			case "recommendations":
				return c.Home(ctx, limit)
			case "listening history":
				return c.History(ctx)
			default:
				return c.LikedSongs(ctx, limit)
			}
		})
	if err != nil {
		if errors.Is(err, musicapi.ErrAuthRequired) {
			return b.reply(ctx, chatID, record,
				"This needs an authenticated music session; check the auth file.")
		}
		return err
	}
	if len(tracks) == 0 {
		return b.reply(ctx, chatID, record, "Nothing in "+surface+".")
	}
	if len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return b.reply(ctx, chatID, record, formatTrackList(strings.ToUpper(surface[:1])+surface[1:], tracks))
}

func (b *Bot) cmdConfig(ctx context.Context, chatID int64, args []string) error {
	if len(args) == 0 {
		return b.reply(ctx, chatID, false, b.settings.Get().describe())
	}
	if len(args) != 2 {
		return b.reply(ctx, chatID, false,
			"Usage: "+b.cfg.Prefix+"config <"+strings.Join(settingKeys(), "|")+"> <on|off>")
	}
	key := strings.ToLower(args[0])
	toggle, ok := settingToggles[key]
	if !ok {
		return b.reply(ctx, chatID, false,
			"Unknown setting "+strconv.Quote(key)+". Known: "+strings.Join(settingKeys(), ", ")+".")
	}
	value, err := parseOnOff(args[1])
	if err != nil {
		return b.reply(ctx, chatID, false, err.Error())
	}

	next, err := b.settings.Update(func(s *Settings) { toggle(s, value) })
	if err != nil {
		return err
	}
	b.logger.Info("setting_changed", "chat_id", chatID, "key", key, "value", value)
	return b.reply(ctx, chatID, false, next.describe())
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}

// parseFlags splits "-k value" pairs and bare "-flag" markers from the
// positional arguments. A flag followed by another flag or nothing is a
// bare marker with value "1".
func parseFlags(args []string) (map[string]string, []string) {
	flags := make(map[string]string)
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			rest = append(rest, arg)
			continue
		}
		key := strings.ToLower(strings.TrimLeft(arg, "-"))
		if key == "" {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && wantsValue(key) {
			flags[key] = args[i+1]
			i++
		} else {
			flags[key] = "1"
		}
	}
	return flags, rest
}

// valueFlags take an argument; everything else is a bare marker.
var valueFlags = map[string]bool{"t": true, "n": true, "f": true}

func wantsValue(key string) bool { return valueFlags[key] }

// userMessage converts internal errors into something worth showing in
// chat.
func userMessage(err error) string {
	switch {
	case errors.Is(err, retryutil.ErrAuthFailed):
		return "Music session expired and could not be restored."
	case errors.Is(err, retryutil.ErrRetriesExhausted):
		return "The service kept failing; try again in a minute."
	case errors.Is(err, musicapi.ErrNotFound):
		return "Not found."
	case errors.Is(err, pipeline.ErrAmbiguousOutput):
		return "Download finished but the output file could not be identified safely."
	case errors.Is(err, pipeline.ErrDownloadIncomplete):
		return "Download did not produce a playable file."
	case errors.Is(err, context.DeadlineExceeded):
		return "That took too long and was cancelled."
	default:
		return "Error: " + err.Error()
	}
}

func progressLabel(entity *musicapi.Entity, done, total int) string {
	if total <= 1 {
		return "Downloading " + entity.Title + "..."
	}
	return fmt.Sprintf("Downloading %s: %d/%d", entity.Title, done, total)
}
