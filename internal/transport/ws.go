package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/smartsales365/pulse/internal/api"
	"github.com/smartsales365/pulse/internal/event"
)

// Conn is the realtime channel as the selector consumes it. The production
// implementation wraps a gorilla websocket; tests substitute scripted fakes.
type Conn interface {
	// Read blocks until the next frame arrives or the channel fails.
	Read() (event.WireMessage, error)
	Close() error
}

// DialFunc opens a realtime channel. The token is passed separately so the
// selector can re-read it from the TokenSource on every attempt.
type DialFunc func(ctx context.Context, wsURL, token string) (Conn, error)

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read() (event.WireMessage, error) {
	var msg event.WireMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		return event.WireMessage{}, err
	}
	return msg, nil
}

func (c *wsConn) Close() error {
	// Best-effort clean shutdown; the server tolerates an abrupt close.
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// dialWebsocket is the production DialFunc. The backend authenticates the
// channel by token query parameter.
func dialWebsocket(ctx context.Context, wsURL, token string) (Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parsing websocket url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("websocket handshake: status %d: %w", resp.StatusCode, api.ErrUnauthorized)
		}
		return nil, fmt.Errorf("websocket handshake: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

// WebsocketURL derives the realtime endpoint from the REST base URL.
func WebsocketURL(baseURL string) string {
	u := baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimRight(u, "/") + "/ws/admin/notifications/"
}
