package devserver

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// hub fans realtime frames out to every connected admin websocket. Slow
// clients are dropped rather than allowed to stall the broadcast.
type hub struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(log *zap.Logger) *hub {
	return &hub{
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// add registers a connection and starts its write pump. The returned function
// detaches it again.
func (h *hub) add(conn *websocket.Conn) func() {
	c := &client{conn: conn, send: make(chan []byte, 16)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return func() {}
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("websocket client connected", zap.Int("clients", n))

	go func() {
		for msg := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	return func() { h.remove(c) }
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast queues one frame on every connected client. A client whose
// buffer is full is detached.
func (h *hub) broadcast(frame []byte) {
	h.mu.Lock()
	var stalled []*client
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stalled {
		h.log.Warn("dropping stalled websocket client")
		h.remove(c)
	}
}

// close detaches every client and rejects later adds.
func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}
