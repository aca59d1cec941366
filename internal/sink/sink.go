// Package sink turns reconciled notification deltas into user-visible
// effects: transient toasts and OS-level notifications. Each event gets its
// effects at most once; the reconciler guarantees an event appears in at most
// one delta per session.
package sink

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smartsales365/pulse/internal/event"
)

const (
	// DefaultToastTTL is how long a toast stays up before auto-dismissing.
	DefaultToastTTL = 6 * time.Second

	// DefaultMaxDesktop caps OS notifications per delta so a large backlog
	// (first poll after coming back online) does not flood the user.
	DefaultMaxDesktop = 3
)

// Notifier raises OS-level notifications. Granted is checked before every
// Show; requesting permission is a separate, user-triggered flow that never
// runs on the delivery path.
type Notifier interface {
	Granted() bool
	Show(e event.Event) error
}

// Sink delivers deltas. Toast state is owned here; badge/list state lives in
// the feed and is read through the session.
type Sink struct {
	notifier Notifier
	log      *zap.Logger
	ttl      time.Duration
	maxOS    int
	onChange func()

	mu     sync.Mutex
	toasts []*toast
	closed bool
}

type toast struct {
	ev    event.Event
	timer *time.Timer
}

// Option configures a Sink.
type Option func(*Sink)

// WithToastTTL overrides the toast auto-dismiss duration.
func WithToastTTL(ttl time.Duration) Option {
	return func(s *Sink) { s.ttl = ttl }
}

// WithMaxDesktop overrides the per-delta OS notification cap.
func WithMaxDesktop(n int) Option {
	return func(s *Sink) { s.maxOS = n }
}

// WithChangeFunc registers a callback invoked after every toast change, for
// UI bindings.
func WithChangeFunc(fn func()) Option {
	return func(s *Sink) { s.onChange = fn }
}

// New creates a sink. notifier may be nil when no OS notification capability
// exists.
func New(notifier Notifier, log *zap.Logger, opts ...Option) *Sink {
	s := &Sink{
		notifier: notifier,
		log:      log,
		ttl:      DefaultToastTTL,
		maxOS:    DefaultMaxDesktop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver performs the side effects for one delta. A failed OS notification
// is logged and swallowed; it never aborts the sibling deliveries or the
// toasts.
func (s *Sink) Deliver(delta []event.Event) {
	if len(delta) == 0 {
		return
	}

	shown := 0
	for _, e := range delta {
		s.addToast(e)

		if s.notifier == nil || !s.notifier.Granted() || shown >= s.maxOS {
			continue
		}
		if err := s.notifier.Show(e); err != nil {
			s.log.Warn("desktop notification failed",
				zap.Int64("id", e.ID), zap.Error(err))
			continue
		}
		shown++
	}
	s.changed()
}

func (s *Sink) addToast(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	t := &toast{ev: e}
	// Each toast dismisses on its own timer, independent of its siblings.
	t.timer = time.AfterFunc(s.ttl, func() { s.expire(e.ID) })
	s.toasts = append(s.toasts, t)
}

// Dismiss removes a toast before it expires and cancels its pending
// auto-dismiss. Dismissing an unknown id is a no-op.
func (s *Sink) Dismiss(id int64) bool {
	s.mu.Lock()
	removed := s.removeLocked(id, true)
	s.mu.Unlock()

	if removed {
		s.changed()
	}
	return removed
}

func (s *Sink) expire(id int64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	removed := s.removeLocked(id, false)
	s.mu.Unlock()

	if removed {
		s.changed()
	}
}

func (s *Sink) removeLocked(id int64, stopTimer bool) bool {
	for i, t := range s.toasts {
		if t.ev.ID != id {
			continue
		}
		if stopTimer {
			t.timer.Stop()
		}
		s.toasts = append(s.toasts[:i], s.toasts[i+1:]...)
		return true
	}
	return false
}

// Toasts returns the currently visible toasts, oldest first.
func (s *Sink) Toasts() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]event.Event, len(s.toasts))
	for i, t := range s.toasts {
		out[i] = t.ev
	}
	return out
}

// Close cancels every pending auto-dismiss timer and drops the toasts.
// Timers already fired are ignored by the liveness check in expire.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, t := range s.toasts {
		t.timer.Stop()
	}
	s.toasts = nil
}

func (s *Sink) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
