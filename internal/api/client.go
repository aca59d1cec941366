// Package api is the REST client for the SmartSales notification backend.
// It covers the history, mark-read, push-subscription and login endpoints;
// the realtime channel lives in internal/transport.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smartsales365/pulse/internal/event"
)

// ErrUnauthorized is returned for 401/403 responses. Callers must stop
// automatic retries on it: hammering a rejected credential only produces a
// retry storm against the backend.
var ErrUnauthorized = errors.New("authentication rejected")

// TokenSource supplies the current bearer credential. It is re-read before
// every request and every reconnect attempt so a token rotated mid-session
// takes effect without restarting the client.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource for a fixed credential.
type StaticToken string

func (s StaticToken) Token() string { return string(s) }

// Client talks to the notification backend.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	log     *zap.Logger
}

// New creates a client for the backend at baseURL.
func New(baseURL string, tokens TokenSource, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// HistoryPage is the backend's notification history response.
type HistoryPage struct {
	Events      []event.Event
	UnreadCount int
	Dropped     int // items skipped for having no usable id
}

type historyResponse struct {
	Notifications []event.WireEvent `json:"notifications"`
	UnreadCount   int               `json:"unread_count"`
}

// History fetches the current recent/unread event set. Each call returns the
// full current page; nothing here depends on the backend supporting
// incremental fetch. unreadOnly maps to the ?leida=false filter.
func (c *Client) History(ctx context.Context, unreadOnly bool) (*HistoryPage, error) {
	path := "/api/notificaciones/historial/"
	if unreadOnly {
		path += "?leida=false"
	}

	var resp historyResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}

	events, dropped := event.DecodeBatch(resp.Notifications)
	if dropped > 0 {
		c.log.Warn("history items without usable ids dropped", zap.Int("dropped", dropped))
	}
	return &HistoryPage{Events: events, UnreadCount: resp.UnreadCount, Dropped: dropped}, nil
}

// MarkRead marks a single notification read on the backend. Only call this
// when the backend advertises per-item read persistence; older revisions only
// support MarkAllRead.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/api/notificaciones/admin/%d/", id)
	if err := c.do(ctx, http.MethodPatch, path, map[string]bool{"leida": true}, nil); err != nil {
		return fmt.Errorf("marking notification %d read: %w", id, err)
	}
	return nil
}

// MarkAllRead marks every notification read on the backend.
func (c *Client) MarkAllRead(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/notificaciones/historial/marcar_todas_leidas/", struct{}{}, nil); err != nil {
		return fmt.Errorf("marking all read: %w", err)
	}
	return nil
}

// VapidPublicKey fetches the server's web-push application key.
func (c *Client) VapidPublicKey(ctx context.Context) (string, error) {
	var resp struct {
		PublicKey string `json:"public_key"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/notificaciones/vapid-public-key/", nil, &resp); err != nil {
		return "", fmt.Errorf("fetching VAPID key: %w", err)
	}
	return resp.PublicKey, nil
}

// Subscription is a web-push subscription as registered with the backend.
type Subscription struct {
	Endpoint  string `json:"endpoint"`
	P256dh    string `json:"p256dh"`
	Auth      string `json:"auth"`
	UserAgent string `json:"user_agent,omitempty"`
}

// CreateSubscription registers a push subscription with the backend.
func (c *Client) CreateSubscription(ctx context.Context, sub Subscription) error {
	if err := c.do(ctx, http.MethodPost, "/api/notificaciones/subscriptions/", sub, nil); err != nil {
		return fmt.Errorf("registering push subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a push subscription from the backend.
func (c *Client) DeleteSubscription(ctx context.Context, endpoint string) error {
	path := "/api/notificaciones/subscriptions/" + url.PathEscape(endpoint) + "/"
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("removing push subscription: %w", err)
	}
	return nil
}

// Emit creates a notification on the dev backend and returns it as stored.
// The production backend has no such endpoint; its notifications come from
// order and stock signals.
func (c *Client) Emit(ctx context.Context, e event.Event) (event.Event, error) {
	var resp event.WireEvent
	if err := c.do(ctx, http.MethodPost, "/api/notificaciones/emitir/", event.Wire(e), &resp); err != nil {
		return event.Event{}, fmt.Errorf("emitting notification: %w", err)
	}
	return resp.Event()
}

// Login exchanges credentials for a token. Used against the dev backend;
// the production dashboard brings its own session.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body := map[string]string{"username": username, "password": password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login/", body, &resp); err != nil {
		return "", fmt.Errorf("logging in: %w", err)
	}
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Token "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, ErrUnauthorized)
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
