// Package progress maintains a single status message per long-running
// task, editing it in place instead of flooding the chat. Edits are rate
// limited per task; intermediate updates that arrive too fast are dropped,
// the terminal update always goes through.
package progress

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinEditInterval spaces intermediate edits far enough apart that
// the chat API does not rate limit the bot.
const DefaultMinEditInterval = 1500 * time.Millisecond

// Sender is the subset of the chat API a reporter needs.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, disablePreview bool) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
}

type Options struct {
	// Enabled gates the whole reporter; when false Begin returns an inert
	// task and the operation runs without status messages.
	Enabled bool
	// MinEditInterval is the minimum spacing between intermediate edits.
	MinEditInterval time.Duration
	// OnMessage is called with every status message the reporter creates,
	// so the caller can record it for later cleanup.
	OnMessage func(chatID, messageID int64)
}

type Reporter struct {
	logger *slog.Logger
	sender Sender
	opts   Options
}

func New(logger *slog.Logger, sender Sender, opts Options) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinEditInterval <= 0 {
		opts.MinEditInterval = DefaultMinEditInterval
	}
	return &Reporter{logger: logger, sender: sender, opts: opts}
}

// Task is the live status message for one operation. All methods are safe
// for concurrent use; an inert task (reporting disabled or the initial
// send failed) accepts every call and does nothing.
type Task struct {
	r         *Reporter
	chatID    int64
	messageID int64
	limiter   *rate.Limiter

	mu       sync.Mutex
	lastText string
	done     bool
}

// InertTask returns a task that accepts every call and does nothing,
// for callers that decided against status messages for one operation.
func InertTask() *Task { return &Task{} }

// Begin posts the initial status message. A send failure degrades the
// task to inert rather than failing the operation: status text is
// best-effort, the work it describes is not.
func (r *Reporter) Begin(ctx context.Context, chatID int64, text string) *Task {
	task := &Task{
		r:       r,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(r.opts.MinEditInterval), 1),
	}
	if !r.opts.Enabled || r.sender == nil {
		return task
	}
	messageID, err := r.sender.SendMessage(ctx, chatID, text, true)
	if err != nil {
		r.logger.Warn("progress_begin_error", "chat_id", chatID, "error", err)
		return task
	}
	task.messageID = messageID
	task.lastText = strings.TrimSpace(text)
	// The initial send consumes the first throttle slot.
	task.limiter.Allow()
	if r.opts.OnMessage != nil {
		r.opts.OnMessage(chatID, messageID)
	}
	return task
}

// Update rewrites the status text. Calls inside the throttle window, with
// unchanged text, or after Finish are dropped.
func (t *Task) Update(ctx context.Context, text string) {
	if t.messageID == 0 {
		return
	}
	t.mu.Lock()
	if t.done || strings.TrimSpace(text) == t.lastText {
		t.mu.Unlock()
		return
	}
	if !t.limiter.Allow() {
		t.mu.Unlock()
		return
	}
	t.lastText = strings.TrimSpace(text)
	t.mu.Unlock()

	t.edit(ctx, text)
}

// Finish writes the final status text, bypassing the throttle, and
// retires the task. Further calls do nothing.
func (t *Task) Finish(ctx context.Context, text string) {
	if t.messageID == 0 {
		return
	}
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	skip := strings.TrimSpace(text) == t.lastText
	t.lastText = strings.TrimSpace(text)
	t.mu.Unlock()

	if !skip {
		t.edit(ctx, text)
	}
}

// MessageID returns the status message's ID, or 0 for an inert task.
func (t *Task) MessageID() int64 { return t.messageID }

func (t *Task) edit(ctx context.Context, text string) {
	if err := t.r.sender.EditMessageText(ctx, t.chatID, t.messageID, text); err != nil {
		t.r.logger.Warn("progress_edit_error",
			"chat_id", t.chatID,
			"message_id", t.messageID,
			"error", err)
	}
}
