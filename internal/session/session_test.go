package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/smartsales365/pulse/internal/api"
	"github.com/smartsales365/pulse/internal/config"
	"github.com/smartsales365/pulse/internal/event"
	"github.com/smartsales365/pulse/internal/transport"
)

// scriptConn replays a fixed sequence of realtime frames, then blocks until
// closed.
type scriptConn struct {
	frames chan event.WireMessage
	done   chan struct{}
	once   sync.Once
}

func newScriptConn(frames ...event.WireMessage) *scriptConn {
	c := &scriptConn{
		frames: make(chan event.WireMessage, len(frames)),
		done:   make(chan struct{}),
	}
	for _, f := range frames {
		c.frames <- f
	}
	return c
}

func (c *scriptConn) Read() (event.WireMessage, error) {
	select {
	case msg := <-c.frames:
		return msg, nil
	case <-c.done:
		return event.WireMessage{}, errors.New("connection closed")
	}
}

func (c *scriptConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type backendCalls struct {
	markRead    atomic.Int64
	markAllRead atomic.Int64
}

// backend serves a fixed history page and counts mark-read traffic.
func backend(t *testing.T, events []event.Event, unread int, calls *backendCalls) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/notificaciones/historial/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"notifications": event.EncodeBatch(events),
			"unread_count":  unread,
		})
	})
	mux.HandleFunc("PATCH /api/notificaciones/admin/{id}/", func(w http.ResponseWriter, r *http.Request) {
		calls.markRead.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/notificaciones/historial/marcar_todas_leidas/", func(w http.ResponseWriter, r *http.Request) {
		calls.markAllRead.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testConfig(serverURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.ServerURL = serverURL
	cfg.Token = "tok"
	// Keep toasts alive for the duration of assertions.
	cfg.Toasts.TTL = time.Minute
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func ev(id int64, title string) event.Event {
	return event.Event{ID: id, Kind: event.KindPurchase, Title: title, CreatedAt: time.Now()}
}

func TestRealtimeDeliveryWithHistoryOverlap(t *testing.T) {
	// History has events 1 and 2. The websocket then replays 2 (already
	// known) and delivers 3 (new). The duplicate must not produce a second
	// item or toast; 3 must produce exactly one of each.
	var calls backendCalls
	server := backend(t, []event.Event{ev(2, "two"), ev(1, "one")}, 2, &calls)

	conn := newScriptConn(
		event.WireMessage{Type: event.MsgNotification, WireEvent: event.Wire(ev(2, "two"))},
		event.WireMessage{Type: event.MsgNotification, WireEvent: event.Wire(ev(3, "three"))},
	)
	dial := func(ctx context.Context, wsURL, token string) (transport.Conn, error) {
		return conn, nil
	}

	s := New(testConfig(server.URL), api.StaticToken("tok"), zap.NewNop(),
		WithDialFunc(dial))
	defer s.Close()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "event 3", func() bool { return s.feed.Len() == 3 })

	items := s.Items()
	if items[0].ID != 3 || items[1].ID != 2 || items[2].ID != 1 {
		t.Errorf("items = %v, want newest first [3 2 1]", ids(items))
	}
	if got := s.UnreadCount(); got != 3 {
		t.Errorf("UnreadCount = %d, want 3", got)
	}

	// One toast per distinct delivery: 1 and 2 from history, 3 from the
	// websocket. The replayed 2 adds nothing.
	toasts := s.Toasts()
	if len(toasts) != 3 {
		t.Errorf("toasts = %v, want 3 (no duplicate for replayed event)", ids(toasts))
	}

	waitFor(t, "realtime state", func() bool {
		return s.ConnectionState() == transport.StateRealtime
	})
}

func TestCloseTearsDownEverything(t *testing.T) {
	var calls backendCalls
	server := backend(t, []event.Event{ev(1, "one")}, 1, &calls)

	conn := newScriptConn()
	s := New(testConfig(server.URL), api.StaticToken("tok"), zap.NewNop(),
		WithDialFunc(func(ctx context.Context, wsURL, token string) (transport.Conn, error) {
			return conn, nil
		}))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "initial history", func() bool { return s.feed.Len() == 1 })

	s.Close()

	if got := len(s.Items()); got != 0 {
		t.Errorf("items after Close = %d, want 0", got)
	}
	if got := len(s.Toasts()); got != 0 {
		t.Errorf("toasts after Close = %d, want 0", got)
	}
	if got := s.ConnectionState(); got != transport.StateDisconnected {
		t.Errorf("state after Close = %s, want disconnected", got)
	}
	if err := s.Refresh(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Refresh after Close = %v, want ErrClosed", err)
	}
	if err := s.MarkAsRead(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("MarkAsRead after Close = %v, want ErrClosed", err)
	}

	// Idempotent.
	s.Close()
}

func TestMarkAsReadIsLocalOnlyByDefault(t *testing.T) {
	var calls backendCalls
	server := backend(t, []event.Event{ev(1, "one"), ev(2, "two")}, 2, &calls)

	s := New(testConfig(server.URL), api.StaticToken("tok"), zap.NewNop())
	defer s.Close()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := s.MarkAsRead(context.Background(), 1); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if got := s.UnreadCount(); got != 1 {
		t.Errorf("UnreadCount = %d, want 1", got)
	}
	if got := calls.markRead.Load(); got != 0 {
		t.Errorf("backend mark-read called %d times, want 0 without the capability", got)
	}
}

func TestMarkAsReadCallsBackendWhenCapable(t *testing.T) {
	var calls backendCalls
	server := backend(t, []event.Event{ev(1, "one")}, 1, &calls)

	cfg := testConfig(server.URL)
	cfg.Capabilities.PerItemMarkRead = true
	s := New(cfg, api.StaticToken("tok"), zap.NewNop())
	defer s.Close()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := s.MarkAsRead(context.Background(), 1); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if got := calls.markRead.Load(); got != 1 {
		t.Errorf("backend mark-read called %d times, want 1", got)
	}

	// Already read: local no-op, no second backend call.
	if err := s.MarkAsRead(context.Background(), 1); err != nil {
		t.Fatalf("MarkAsRead again: %v", err)
	}
	if got := calls.markRead.Load(); got != 1 {
		t.Errorf("backend mark-read called %d times after no-op, want 1", got)
	}
}

func TestMarkAllAsRead(t *testing.T) {
	var calls backendCalls
	server := backend(t, []event.Event{ev(1, "one"), ev(2, "two"), ev(3, "three")}, 3, &calls)

	s := New(testConfig(server.URL), api.StaticToken("tok"), zap.NewNop())
	defer s.Close()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := s.MarkAllAsRead(context.Background()); err != nil {
		t.Fatalf("MarkAllAsRead: %v", err)
	}
	if got := s.UnreadCount(); got != 0 {
		t.Errorf("UnreadCount = %d, want 0", got)
	}
	if got := calls.markAllRead.Load(); got != 1 {
		t.Errorf("backend mark-all-read called %d times, want 1", got)
	}
}

func TestActivate(t *testing.T) {
	var calls backendCalls
	item := ev(1, "one")
	item.ActionURL = "/admin/orders/42"
	server := backend(t, []event.Event{item}, 1, &calls)

	s := New(testConfig(server.URL), api.StaticToken("tok"), zap.NewNop())
	defer s.Close()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := len(s.Toasts()); got != 1 {
		t.Fatalf("toasts = %d, want 1", got)
	}

	url, err := s.Activate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if url != "/admin/orders/42" {
		t.Errorf("action URL = %q", url)
	}
	if got := s.UnreadCount(); got != 0 {
		t.Errorf("UnreadCount = %d, want 0 after activation", got)
	}
	if got := len(s.Toasts()); got != 0 {
		t.Errorf("toasts = %d, want 0 after activation", got)
	}

	// Unknown id: nothing to do.
	url, err = s.Activate(context.Background(), 99)
	if err != nil || url != "" {
		t.Errorf("Activate(99) = (%q, %v), want empty no-op", url, err)
	}
}

func TestStartWithoutToken(t *testing.T) {
	s := New(testConfig("http://backend.invalid"), api.StaticToken(""), zap.NewNop())
	if err := s.Start(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("Start = %v, want ErrNoToken", err)
	}
}

func TestAuthRejectionStopsDelivery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	dial := func(ctx context.Context, wsURL, token string) (transport.Conn, error) {
		return nil, api.ErrUnauthorized
	}
	s := New(testConfig(server.URL), api.StaticToken("revoked"), zap.NewNop(),
		WithDialFunc(dial))
	defer s.Close()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "failed state", func() bool {
		return s.ConnectionState() == transport.StateFailed
	})
	waitFor(t, "terminal error", func() bool {
		return errors.Is(s.Err(), api.ErrUnauthorized)
	})
}

func TestChangeCallbackFires(t *testing.T) {
	var calls backendCalls
	server := backend(t, []event.Event{ev(1, "one")}, 1, &calls)

	var changes atomic.Int64
	s := New(testConfig(server.URL), api.StaticToken("tok"), zap.NewNop(),
		WithChangeFunc(func() { changes.Add(1) }))
	defer s.Close()

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if changes.Load() == 0 {
		t.Error("no change notification after a delivery")
	}
}

func ids(events []event.Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}
