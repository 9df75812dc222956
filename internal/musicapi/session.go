package musicapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/den22den22/ytmg/internal/fsstore"
)

// Handle is a swappable session: callers always read the current client
// through it, and a re-authentication replaces the client underneath them
// without coordination. The zero Handle is not usable; build it with
// NewHandle and call Authenticate once at startup.
type Handle struct {
	current atomic.Pointer[Client]

	logger   *slog.Logger
	http     *http.Client
	baseURL  string
	authFile string
}

func NewHandle(logger *slog.Logger, httpClient *http.Client, baseURL, authFile string) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Handle{
		logger:   logger,
		http:     httpClient,
		baseURL:  baseURL,
		authFile: authFile,
	}
}

// Client returns the current session client. Never nil after a successful
// Authenticate.
func (h *Handle) Client() *Client {
	return h.current.Load()
}

// Authenticate builds a fresh session. If the auth file exists and its
// headers pass a library probe the session is authenticated; otherwise it
// degrades to an anonymous client so public surfaces keep working.
func (h *Handle) Authenticate(ctx context.Context) error {
	client, err := h.buildAuthenticated(ctx)
	if err != nil {
		h.logger.Warn("music_auth_degraded", "error", err)
		client = NewClient(h.http, h.baseURL, nil, false)
	} else {
		h.logger.Info("music_auth_ok", "auth_file", h.authFile)
	}
	h.current.Store(client)
	return nil
}

// Reauth discards the current session and authenticates again. Unlike
// Authenticate it fails when credentials cannot be restored, so a caller
// that needed an authenticated call does not silently continue anonymous.
func (h *Handle) Reauth(ctx context.Context) error {
	client, err := h.buildAuthenticated(ctx)
	if err != nil {
		anon := NewClient(h.http, h.baseURL, nil, false)
		h.current.Store(anon)
		h.logger.Warn("music_reauth_failed", "error", err)
		return fmt.Errorf("musicapi: reauth: %w", err)
	}
	h.current.Store(client)
	h.logger.Info("music_reauth_ok")
	return nil
}

func (h *Handle) buildAuthenticated(ctx context.Context) (*Client, error) {
	if strings.TrimSpace(h.authFile) == "" {
		return nil, fmt.Errorf("no auth file configured")
	}
	var raw map[string]string
	found, err := fsstore.ReadJSON(h.authFile, &raw)
	if err != nil {
		return nil, fmt.Errorf("read auth file: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("auth file %s not found", h.authFile)
	}

	headers := http.Header{}
	for k, v := range raw {
		headers.Set(k, v)
	}
	if headers.Get("Cookie") == "" && headers.Get("Authorization") == "" {
		return nil, fmt.Errorf("auth file %s has no cookie or authorization header", h.authFile)
	}

	client := NewClient(h.http, h.baseURL, headers, true)

	// Probe a library surface so a stale cookie is found at startup, not
	// mid-command.
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := client.History(probeCtx); err != nil {
		return nil, fmt.Errorf("auth probe: %w", err)
	}
	return client, nil
}
