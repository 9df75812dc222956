// Package telegram is a minimal Bot API client covering exactly the
// surface the bot needs: long polling, message send/edit/delete, chat
// actions, and audio/document uploads.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type API struct {
	http    *http.Client
	baseURL string
	token   string
}

func NewAPI(httpClient *http.Client, baseURL, token string) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.telegram.org"
	}
	return &API{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

func (a *API) call(ctx context.Context, method string, payload any, out any) error {
	url := fmt.Sprintf("%s/bot%s/%s", a.baseURL, a.token, method)

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("telegram %s: encode: %w", method, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return a.decode(method, resp.StatusCode, raw, out)
}

func (a *API) decode(method string, status int, raw []byte, out any) error {
	var envelope apiResponse
	decodeErr := json.Unmarshal(raw, &envelope)

	if status < 200 || status >= 300 || (decodeErr == nil && !envelope.OK) {
		apiErr := &APIError{Method: method, StatusCode: status}
		if decodeErr == nil {
			apiErr.Description = envelope.Description
			if envelope.Parameters != nil {
				apiErr.RetryAfterSecs = envelope.Parameters.RetryAfter
			}
		} else {
			apiErr.Description = strings.TrimSpace(string(raw))
		}
		if apiErr.StatusCode >= 200 && apiErr.StatusCode < 300 {
			// ok=false with 2xx should never happen, but keep it an error.
			apiErr.StatusCode = http.StatusBadRequest
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("telegram %s: decode: %w", method, decodeErr)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (a *API) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := a.call(ctx, "getMe", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

func (a *API) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	payload := map[string]any{"timeout": secs}
	if offset > 0 {
		payload["offset"] = offset
	}
	var updates []Update
	if err := a.call(reqCtx, "getUpdates", payload, &updates); err != nil {
		return nil, offset, err
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	ReplyToMessageID      int64  `json:"reply_to_message_id,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

// SendMessage sends text and returns the new message id. Telegram Markdown
// is picky, so richer formatting is tried first with a plain-text fallback.
func (a *API) SendMessage(ctx context.Context, chatID int64, text string, disablePreview bool) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "(empty)"
	}
	if id, err := a.sendMessageWithParseMode(ctx, chatID, text, disablePreview, "Markdown"); err == nil {
		return id, nil
	} else if IsRateLimited(err) {
		return 0, err
	}
	return a.sendMessageWithParseMode(ctx, chatID, text, disablePreview, "")
}

func (a *API) sendMessageWithParseMode(ctx context.Context, chatID int64, text string, disablePreview bool, parseMode string) (int64, error) {
	var msg Message
	err := a.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: disablePreview,
	}, &msg)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// SendMessageChunked splits text on line boundaries so every part stays
// under the platform's message length limit.
func (a *API) SendMessageChunked(ctx context.Context, chatID int64, text string) ([]int64, error) {
	const maxLen = 4096
	var ids []int64
	flush := func(part string) error {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil
		}
		id, err := a.SendMessage(ctx, chatID, part, true)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	}

	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		needed := len(line)
		if b.Len() > 0 {
			needed++
		}
		if b.Len()+needed > maxLen {
			if err := flush(b.String()); err != nil {
				return ids, err
			}
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if err := flush(b.String()); err != nil {
		return ids, err
	}
	return ids, nil
}

type editMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

// EditMessageText replaces a message's text. An unchanged-text response is
// treated as success.
func (a *API) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	err := a.call(ctx, "editMessageText", editMessageRequest{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	}, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified") {
			return nil
		}
		return err
	}
	return nil
}

type deleteMessagesRequest struct {
	ChatID     int64   `json:"chat_id"`
	MessageIDs []int64 `json:"message_ids"`
}

// DeleteMessages removes up to 100 messages in one call.
func (a *API) DeleteMessages(ctx context.Context, chatID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if len(messageIDs) > 100 {
		messageIDs = messageIDs[:100]
	}
	return a.call(ctx, "deleteMessages", deleteMessagesRequest{
		ChatID:     chatID,
		MessageIDs: messageIDs,
	}, nil)
}

func (a *API) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return a.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

func (a *API) SendChatAction(ctx context.Context, chatID int64, action string) error {
	if strings.TrimSpace(action) == "" {
		action = "typing"
	}
	return a.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	}, nil)
}

// SendAudio uploads a finished track with its metadata and optional square
// cover thumbnail.
func (a *API) SendAudio(ctx context.Context, chatID int64, upload AudioUpload) (int64, error) {
	fields := map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
	}
	if upload.Title != "" {
		fields["title"] = upload.Title
	}
	if upload.Performer != "" {
		fields["performer"] = upload.Performer
	}
	if upload.Duration > 0 {
		fields["duration"] = strconv.Itoa(upload.Duration)
	}
	if upload.Caption != "" {
		fields["caption"] = upload.Caption
	}
	files := map[string]string{"audio": upload.Path}
	if upload.ThumbPath != "" {
		files["thumbnail"] = upload.ThumbPath
	}

	var msg Message
	if err := a.upload(ctx, "sendAudio", fields, files, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (a *API) SendDocument(ctx context.Context, chatID int64, upload DocumentUpload) (int64, error) {
	fields := map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
	}
	if upload.Caption != "" {
		fields["caption"] = upload.Caption
	}
	var msg Message
	if err := a.upload(ctx, "sendDocument", fields, map[string]string{"document": upload.Path}, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (a *API) upload(ctx context.Context, method string, fields map[string]string, files map[string]string, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return fmt.Errorf("telegram %s: field %s: %w", method, key, err)
		}
	}
	for key, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("telegram %s: open %s: %w", method, path, err)
		}
		part, err := w.CreateFormFile(key, filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("telegram %s: attach %s: %w", method, path, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("telegram %s: finalize form: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", a.baseURL, a.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return a.decode(method, resp.StatusCode, raw, out)
}

// MessageText returns a message's text or caption, trimmed.
func MessageText(msg *Message) string {
	if msg == nil {
		return ""
	}
	if strings.TrimSpace(msg.Text) != "" {
		return strings.TrimSpace(msg.Text)
	}
	return strings.TrimSpace(msg.Caption)
}
