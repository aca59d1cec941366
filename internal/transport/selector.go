// Package transport maintains exactly one active delivery channel for admin
// notifications: a realtime websocket when the backend supports it, periodic
// polling when it does not. Raw event batches are emitted on a channel; the
// selector never touches canonical state itself.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/smartsales365/pulse/internal/api"
	"github.com/smartsales365/pulse/internal/event"
)

// Batch is one raw delivery from whichever channel is active. ServerUnread
// carries the backend's own unread counter when it sent one; it is a hint,
// never a substitute for the reconciler's derived count.
type Batch struct {
	Events       []event.Event
	ServerUnread *int
}

// Config tunes the selector's fallback policy.
type Config struct {
	// PollInterval is the pull cadence once downgraded. Keep it well under
	// the point where events go stale, well over the backend's rate limit.
	PollInterval time.Duration

	// MaxRealtimeFailures is how many consecutive realtime failures are
	// tolerated before downgrading to polling for the rest of the session.
	MaxRealtimeFailures int

	// Reconnect backoff bounds for the realtime channel.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	// RealtimeDisabled skips the websocket entirely and goes straight to
	// polling.
	RealtimeDisabled bool
}

// DefaultConfig returns the production fallback policy.
func DefaultConfig() Config {
	return Config{
		PollInterval:        30 * time.Second,
		MaxRealtimeFailures: 3,
		InitialBackoff:      time.Second,
		MaxBackoff:          10 * time.Second,
		BackoffFactor:       1.3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxRealtimeFailures <= 0 {
		c.MaxRealtimeFailures = d.MaxRealtimeFailures
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	return c
}

// Selector owns the delivery channel lifecycle. It is the only component
// that opens network resources; everything downstream consumes the batches
// it emits.
type Selector struct {
	cfg    Config
	client *api.Client
	tokens api.TokenSource
	dial   DialFunc
	log    *zap.Logger

	batches chan Batch

	mu      sync.Mutex
	state   State
	onState func(State)
}

// Option configures a Selector.
type Option func(*Selector)

// WithDialFunc substitutes the websocket dialer. Tests use this to script
// handshake failures without a network.
func WithDialFunc(dial DialFunc) Option {
	return func(s *Selector) { s.dial = dial }
}

// WithStateFunc registers a callback invoked on every state change.
func WithStateFunc(fn func(State)) Option {
	return func(s *Selector) { s.onState = fn }
}

// NewSelector creates a selector. Run starts it.
func NewSelector(cfg Config, client *api.Client, tokens api.TokenSource, log *zap.Logger, opts ...Option) *Selector {
	s := &Selector{
		cfg:     cfg.withDefaults(),
		client:  client,
		tokens:  tokens,
		dial:    dialWebsocket,
		log:     log,
		batches: make(chan Batch, 8),
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Batches is the stream of raw deliveries. It is closed when Run returns.
func (s *Selector) Batches() <-chan Batch { return s.batches }

// State returns the current channel state.
func (s *Selector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the channel state machine until ctx is cancelled or the
// credential is rejected. On return every timer and connection is torn down
// and the batch channel is closed; nothing fires afterwards.
func (s *Selector) Run(ctx context.Context) error {
	defer close(s.batches)
	defer func() {
		// A rejected credential stays visible as Failed; everything else
		// tears down to Disconnected.
		if s.State() != StateFailed {
			s.setState(StateDisconnected)
		}
	}()

	if !s.cfg.RealtimeDisabled {
		err := s.realtimeLoop(ctx)
		switch {
		case err == nil:
			// Downgraded: realtime assumed unsupported by the far end for
			// the rest of the session.
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, api.ErrUnauthorized):
			s.setState(StateFailed)
			return err
		default:
			return err
		}
		s.log.Info("realtime channel unavailable, downgrading to polling",
			zap.Int("failures", s.cfg.MaxRealtimeFailures))
	}

	err := s.pollLoop(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, api.ErrUnauthorized):
		s.setState(StateFailed)
		return err
	default:
		return err
	}
}

// realtimeLoop dials and reads the websocket until the consecutive failure
// budget is spent. A nil return means "downgrade to polling".
func (s *Selector) realtimeLoop(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	bo.MaxInterval = s.cfg.MaxBackoff
	bo.Multiplier = s.cfg.BackoffFactor
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // retry budget is counted in failures, not time
	bo.Reset()

	failures := 0
	for {
		s.setState(StateConnecting)

		conn, err := s.dial(ctx, WebsocketURL(s.client.BaseURL()), s.tokens.Token())
		if err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			if errors.Is(err, api.ErrUnauthorized) {
				return err
			}
			failures++
			s.log.Warn("realtime handshake failed",
				zap.Int("attempt", failures), zap.Error(err))
			if failures >= s.cfg.MaxRealtimeFailures {
				return nil
			}
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return context.Canceled
			}
			continue
		}

		s.setState(StateRealtime)
		bo.Reset()
		failures = 0
		s.log.Info("realtime channel connected")

		err = s.readConn(ctx, conn)
		if ctx.Err() != nil {
			return context.Canceled
		}
		if errors.Is(err, api.ErrUnauthorized) {
			return err
		}

		// Unexpected close: counts toward the downgrade budget, then retry.
		failures++
		s.log.Warn("realtime channel closed", zap.Int("attempt", failures), zap.Error(err))
		if failures >= s.cfg.MaxRealtimeFailures {
			return nil
		}
		s.setState(StateConnecting)
		if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
			return context.Canceled
		}
	}
}

// readConn pumps frames from one websocket connection until it fails or ctx
// is cancelled. Always returns with the connection closed.
func (s *Selector) readConn(ctx context.Context, conn Conn) error {
	frames := make(chan event.WireMessage)
	readErr := make(chan error, 1)

	go func() {
		for {
			msg, err := conn.Read()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case err := <-readErr:
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
				// The server revoked the credential mid-session.
				return api.ErrUnauthorized
			}
			return err
		case msg := <-frames:
			s.emit(ctx, msg)
		}
	}
}

// emit converts one realtime frame into a batch. Frames that decode to
// nothing useful are logged and dropped; a malformed frame never kills the
// channel.
func (s *Selector) emit(ctx context.Context, msg event.WireMessage) {
	var batch Batch
	switch msg.Type {
	case event.MsgNotification:
		e, err := msg.WireEvent.Event()
		if err != nil {
			s.log.Warn("dropping realtime frame", zap.Error(err))
			return
		}
		batch.Events = []event.Event{e}
	case event.MsgUnreadCount:
		count := msg.Count
		batch.ServerUnread = &count
	default:
		s.log.Debug("ignoring realtime frame", zap.String("type", msg.Type))
		return
	}

	select {
	case s.batches <- batch:
	case <-ctx.Done():
	}
}

// pollLoop pulls the full current set on a fixed interval. The first pull
// happens immediately so a downgrade does not leave a silent gap.
func (s *Selector) pollLoop(ctx context.Context) error {
	s.setState(StatePolling)

	if err := s.pollOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			if err := s.pollOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// pollOnce fetches the current set and emits it. Transient failures are
// logged and absorbed; only auth rejection propagates.
func (s *Selector) pollOnce(ctx context.Context) error {
	page, err := s.client.History(ctx, false)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		if errors.Is(err, api.ErrUnauthorized) {
			return err
		}
		s.log.Warn("poll failed, will retry next interval", zap.Error(err))
		return nil
	}

	count := page.UnreadCount
	select {
	case s.batches <- Batch{Events: page.Events, ServerUnread: &count}:
	case <-ctx.Done():
		return context.Canceled
	}
	return nil
}

func (s *Selector) setState(next State) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	fn := s.onState
	s.mu.Unlock()

	if fn != nil {
		fn(next)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
