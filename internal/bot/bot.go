// Package bot wires the chat transport, metadata service, download
// pipeline, and state stores into the command loop the owner talks to.
package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/den22den22/ytmg/internal/clearlog"
	"github.com/den22den22/ytmg/internal/history"
	"github.com/den22den22/ytmg/internal/musicapi"
	"github.com/den22den22/ytmg/internal/pipeline"
	"github.com/den22den22/ytmg/internal/progress"
	"github.com/den22den22/ytmg/internal/retryutil"
	"github.com/den22den22/ytmg/internal/telegram"
	"github.com/den22den22/ytmg/internal/worker"
)

const (
	defaultPrefix      = ","
	defaultTaskTimeout = 10 * time.Minute
	defaultConcurrency = 2
	pollTimeout        = 50 * time.Second
)

type Config struct {
	OwnerID       int64
	Prefix        string
	TaskTimeout   time.Duration
	MaxConcurrent int
	SettingsPath  string
}

func (c Config) normalized() Config {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultPrefix
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaultTaskTimeout
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultConcurrency
	}
	return c
}

type job struct {
	chatID    int64
	messageID int64
	text      string
}

type chatWorker struct {
	jobs chan job
}

type Bot struct {
	logger   *slog.Logger
	cfg      Config
	api      *telegram.API
	music    *musicapi.Handle
	reporter *progress.Reporter
	clears   *clearlog.Registry
	pipe     *pipeline.Orchestrator
	hist     *history.Store
	settings *settingsStore

	tgPolicy    retryutil.Policy
	musicPolicy retryutil.Policy

	mu         sync.Mutex
	workers    map[int64]*chatWorker
	sem        chan struct{}
	workersCtx context.Context
}

type Dependencies struct {
	Logger       *slog.Logger
	API          *telegram.API
	Music        *musicapi.Handle
	Clears       *clearlog.Registry
	Pipeline     *pipeline.Orchestrator
	History      *history.Store
	RetryBase    retryutil.Policy
	ProgressOpts progress.Options
}

func New(cfg Config, d Dependencies) (*Bot, error) {
	cfg = cfg.normalized()
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settings, err := loadSettings(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}

	b := &Bot{
		logger:   logger,
		cfg:      cfg,
		api:      d.API,
		music:    d.Music,
		clears:   d.Clears,
		pipe:     d.Pipeline,
		hist:     d.History,
		settings: settings,
		workers:  make(map[int64]*chatWorker),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
	}

	b.tgPolicy = d.RetryBase
	b.musicPolicy = d.RetryBase
	b.musicPolicy.Reauth = d.Music.Reauth

	opts := d.ProgressOpts
	opts.OnMessage = b.recordForClear
	b.reporter = progress.New(logger, d.API, opts)
	return b, nil
}

// recordForClear logs a bot message for bulk deletion when auto-clear is
// on.
func (b *Bot) recordForClear(chatID, messageID int64) {
	if b.settings.Get().AutoClear {
		b.clears.Record(chatID, messageID)
	}
}

// Run polls for updates until ctx ends. Messages from anyone but the
// owner are dropped before parsing.
func (b *Bot) Run(ctx context.Context) error {
	me, err := retryutil.Do(ctx, b.logger, "telegram_get_me", b.tgPolicy,
		func(ctx context.Context) (*telegram.User, error) {
			return b.api.GetMe(ctx)
		})
	if err != nil {
		return err
	}
	b.logger.Info("bot_started",
		"username", me.Username,
		"owner_id", b.cfg.OwnerID,
		"prefix", b.cfg.Prefix)

	b.mu.Lock()
	b.workersCtx = ctx
	b.mu.Unlock()

	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates, next, err := b.api.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("telegram_get_updates_error", "error", err)
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		offset = next
		for _, upd := range updates {
			b.dispatch(ctx, upd)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, upd telegram.Update) {
	msg := upd.Message
	if msg == nil {
		msg = upd.EditedMessage
	}
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.From.ID != b.cfg.OwnerID {
		b.logger.Debug("message_ignored",
			"chat_id", msg.Chat.ID,
			"from_id", msg.From.ID)
		return
	}
	text := strings.TrimSpace(telegram.MessageText(msg))
	if !strings.HasPrefix(text, b.cfg.Prefix) {
		return
	}

	w := b.workerFor(msg.Chat.ID)
	j := job{chatID: msg.Chat.ID, messageID: msg.MessageID, text: text}
	if err := worker.Enqueue(ctx, b.workersCtx, w.jobs, j); err != nil {
		b.logger.Warn("job_enqueue_error", "chat_id", msg.Chat.ID, "error", err)
	}
}

func (b *Bot) workerFor(chatID int64) *chatWorker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.workers[chatID]; ok {
		return w
	}
	w := &chatWorker{jobs: make(chan job, 16)}
	b.workers[chatID] = w
	worker.Start(worker.StartOptions[job]{
		Ctx:  b.workersCtx,
		Sem:  b.sem,
		Jobs: w.jobs,
		Handle: func(workerCtx context.Context, j job) {
			runCtx, cancel := context.WithTimeout(workerCtx, b.cfg.TaskTimeout)
			defer cancel()
			b.handleCommand(runCtx, j)
		},
	})
	return w
}
