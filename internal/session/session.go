// Package session wires the notification pipeline together for one
// authenticated session: transport selector in, event reconciler in the
// middle, delivery sink out. A Session is the explicit, injectable
// replacement for the module-level connection globals the original dashboard
// kept alive across remounts; it is created when a token is available and
// torn down on logout.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/smartsales365/pulse/internal/api"
	"github.com/smartsales365/pulse/internal/config"
	"github.com/smartsales365/pulse/internal/event"
	"github.com/smartsales365/pulse/internal/feed"
	"github.com/smartsales365/pulse/internal/sink"
	"github.com/smartsales365/pulse/internal/transport"
)

// ErrClosed is returned by operations on a torn-down session.
var ErrClosed = errors.New("session closed")

// ErrNoToken is returned by Start when the token source yields nothing.
var ErrNoToken = errors.New("no auth token available")

// Session is the notification client. All methods are safe for concurrent
// use; canonical state is owned by the feed and mutated only through it.
type Session struct {
	cfg    *config.Config
	tokens api.TokenSource
	client *api.Client
	feed   *feed.Feed
	sink   *sink.Sink
	log    *zap.Logger

	notifier sink.Notifier
	dial     transport.DialFunc
	onChange func()

	mu       sync.Mutex
	selector *transport.Selector
	cancel   context.CancelFunc
	done     chan struct{}
	lastErr  error
	closed   bool
	started  bool
}

// Option configures a Session.
type Option func(*Session)

// WithNotifier sets the OS-level notification capability.
func WithNotifier(n sink.Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

// WithDialFunc overrides the websocket dialer (tests).
func WithDialFunc(dial transport.DialFunc) Option {
	return func(s *Session) { s.dial = dial }
}

// WithChangeFunc registers a callback fired whenever observable state
// (items, unread count, toasts, connection state) may have changed. UI
// bindings hang off this.
func WithChangeFunc(fn func()) Option {
	return func(s *Session) { s.onChange = fn }
}

// New creates a session. Start begins delivery.
func New(cfg *config.Config, tokens api.TokenSource, log *zap.Logger, opts ...Option) *Session {
	s := &Session{
		cfg:    cfg,
		tokens: tokens,
		client: api.New(cfg.ServerURL, tokens, log),
		feed:   feed.New(),
		log:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sink = sink.New(s.notifier, log,
		sink.WithToastTTL(cfg.Toasts.TTL),
		sink.WithMaxDesktop(cfg.Toasts.MaxDesktop),
		sink.WithChangeFunc(s.changed))
	return s
}

// Start loads the initial history and brings up the delivery channel. It
// returns once the pipeline is running; delivery happens in the background
// until Close.
func (s *Session) Start() error {
	if s.tokens.Token() == "" {
		return ErrNoToken
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true

	tcfg := transport.Config{
		PollInterval:        s.cfg.PollInterval,
		MaxRealtimeFailures: s.cfg.Realtime.MaxFailures,
		InitialBackoff:      s.cfg.Realtime.InitialBackoff,
		MaxBackoff:          s.cfg.Realtime.MaxBackoff,
		BackoffFactor:       s.cfg.Realtime.BackoffFactor,
		RealtimeDisabled:    s.cfg.Realtime.Disabled,
	}
	selOpts := []transport.Option{
		transport.WithStateFunc(func(transport.State) { s.changed() }),
	}
	if s.dial != nil {
		selOpts = append(selOpts, transport.WithDialFunc(s.dial))
	}
	s.selector = transport.NewSelector(tcfg, s.client, s.tokens, s.log, selOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	sel := s.selector
	s.mu.Unlock()

	go s.run(ctx, sel)
	return nil
}

// run is the single consumer of the selector's batches. Reconciliation and
// delivery happen here, one batch at a time, so two overlapping deliveries
// can never interleave their state updates.
func (s *Session) run(ctx context.Context, sel *transport.Selector) {
	defer close(s.done)

	// Initial load: the realtime channel only pushes new events, so the
	// backlog comes from history either way.
	if err := s.refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("initial history load failed", zap.Error(err))
	}

	runErr := make(chan error, 1)
	go func() { runErr <- sel.Run(ctx) }()

	for batch := range sel.Batches() {
		s.apply(batch)
	}

	if err := <-runErr; err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		if errors.Is(err, api.ErrUnauthorized) {
			s.log.Error("credential rejected, delivery stopped", zap.Error(err))
		} else {
			s.log.Error("delivery stopped", zap.Error(err))
		}
		s.changed()
	}
}

// apply folds one raw batch into canonical state and hands the delta to the
// sink.
func (s *Session) apply(batch transport.Batch) {
	delta := s.feed.Reconcile(batch.Events)
	if len(delta) > 0 {
		s.sink.Deliver(delta)
	}

	if batch.ServerUnread != nil && *batch.ServerUnread != s.feed.UnreadCount() {
		// The server's counter is a hint; ours is derived from items and
		// wins. Log the disagreement for debugging.
		s.log.Debug("server unread count differs from derived count",
			zap.Int("server", *batch.ServerUnread),
			zap.Int("derived", s.feed.UnreadCount()))
	}

	if len(delta) > 0 {
		s.changed()
	}
}

// Close tears the session down: the delivery channel, every timer, and the
// canonical state. Idempotent. No callback scheduled before Close mutates
// state after it returns.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.sink.Close()
	s.feed.Clear()
	s.changed()
}

// Items returns the reconciled notification list, newest first.
func (s *Session) Items() []event.Event { return s.feed.Items() }

// UnreadCount returns the derived unread count.
func (s *Session) UnreadCount() int { return s.feed.UnreadCount() }

// Toasts returns the currently visible transient alerts.
func (s *Session) Toasts() []event.Event { return s.sink.Toasts() }

// ConnectionState reports the delivery channel state for a status indicator.
func (s *Session) ConnectionState() transport.State {
	s.mu.Lock()
	sel := s.selector
	closed := s.closed
	s.mu.Unlock()

	if sel == nil || closed {
		return transport.StateDisconnected
	}
	return sel.State()
}

// Err returns the error that stopped delivery, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Refresh forces an immediate history fetch and reconciliation, regardless
// of the poll schedule.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()
	return s.refresh(ctx)
}

func (s *Session) refresh(ctx context.Context) error {
	page, err := s.client.History(ctx, false)
	if err != nil {
		return err
	}
	count := page.UnreadCount
	s.apply(transport.Batch{Events: page.Events, ServerUnread: &count})
	return nil
}

// MarkAsRead marks one notification read. The local state changes
// unconditionally; the backend is only told when it advertises per-item
// read persistence, and a backend failure never rolls the local state back.
func (s *Session) MarkAsRead(ctx context.Context, id int64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	if !s.feed.MarkRead(id) {
		return nil
	}
	s.changed()

	if !s.cfg.Capabilities.PerItemMarkRead {
		return nil
	}
	if err := s.client.MarkRead(ctx, id); err != nil {
		s.log.Warn("backend mark-read failed, kept local state",
			zap.Int64("id", id), zap.Error(err))
	}
	return nil
}

// MarkAllAsRead marks everything read locally and on the backend.
func (s *Session) MarkAllAsRead(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	s.feed.MarkAllRead()
	s.changed()

	if err := s.client.MarkAllRead(ctx); err != nil {
		s.log.Warn("backend mark-all-read failed, kept local state", zap.Error(err))
	}
	return nil
}

// Activate handles a click on a delivered event: mark it read, drop its
// toast, and return the deep link to navigate to (empty when none).
func (s *Session) Activate(ctx context.Context, id int64) (string, error) {
	e, ok := s.feed.Get(id)
	if !ok {
		return "", nil
	}
	if err := s.MarkAsRead(ctx, id); err != nil {
		return "", err
	}
	s.sink.Dismiss(id)
	return e.ActionURL, nil
}

// Dismiss removes a toast without marking the event read.
func (s *Session) Dismiss(id int64) { s.sink.Dismiss(id) }

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
