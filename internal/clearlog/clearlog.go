// Package clearlog tracks the bot's own messages per conversation so a
// later clear command can delete them in bulk. The log is bounded: once a
// conversation reaches its cap, the oldest entries fall off and stay in
// the chat forever, which beats unbounded growth for a log that exists
// only for cleanup.
package clearlog

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultMaxPerChat bounds how many message IDs one conversation retains.
const DefaultMaxPerChat = 200

// deleteChunkSize is the chat API's per-call limit for bulk deletion.
const deleteChunkSize = 100

// Deleter is the subset of the chat API Clear needs.
type Deleter interface {
	DeleteMessages(ctx context.Context, chatID int64, messageIDs []int64) error
}

type chatLog struct {
	mu  sync.Mutex
	ids []int64
}

// Registry is the per-conversation deletion log. Each conversation locks
// independently, so recording in one chat never blocks a clear in another.
type Registry struct {
	logger     *slog.Logger
	maxPerChat int

	mu    sync.Mutex
	chats map[int64]*chatLog
}

func NewRegistry(logger *slog.Logger, maxPerChat int) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPerChat <= 0 {
		maxPerChat = DefaultMaxPerChat
	}
	return &Registry{
		logger:     logger,
		maxPerChat: maxPerChat,
		chats:      make(map[int64]*chatLog),
	}
}

func (r *Registry) chat(chatID int64) *chatLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[chatID]
	if !ok {
		c = &chatLog{}
		r.chats[chatID] = c
	}
	return c
}

// Record remembers a message for later deletion. Duplicate IDs are
// ignored; when the cap is exceeded the oldest entries are dropped.
func (r *Registry) Record(chatID, messageID int64) {
	if messageID == 0 {
		return
	}
	c := r.chat(chatID)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.ids {
		if id == messageID {
			return
		}
	}
	c.ids = append(c.ids, messageID)
	if overflow := len(c.ids) - r.maxPerChat; overflow > 0 {
		c.ids = append(c.ids[:0], c.ids[overflow:]...)
	}
}

// Len reports how many messages a conversation has logged.
func (r *Registry) Len(chatID int64) int {
	c := r.chat(chatID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Clear deletes every logged message for the conversation in chunks of
// the API's bulk limit. The log is emptied regardless of delete errors:
// messages that are already gone or too old to delete would otherwise
// wedge the log permanently. Returns how many IDs were handed to the
// deleter and the last delete error, if any.
func (r *Registry) Clear(ctx context.Context, d Deleter, chatID int64) (int, error) {
	c := r.chat(chatID)
	c.mu.Lock()
	ids := c.ids
	c.ids = nil
	c.mu.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}

	var lastErr error
	for start := 0; start < len(ids); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := d.DeleteMessages(ctx, chatID, ids[start:end]); err != nil {
			lastErr = err
			r.logger.Warn("clearlog_delete_error",
				"chat_id", chatID,
				"count", end-start,
				"error", err)
		}
	}
	r.logger.Info("clearlog_cleared", "chat_id", chatID, "count", len(ids))
	return len(ids), lastErr
}
