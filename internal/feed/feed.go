// Package feed holds the canonical notification state for one authenticated
// session and reconciles raw event batches into it.
//
// The feed is the single writer of that state. Transports hand it batches,
// the delivery sink acts on the deltas it returns, and neither touches the
// items, the seen-id set, or the unread count directly. That discipline is
// what keeps the unread count from drifting when a poll result and a realtime
// push land on top of each other.
package feed

import (
	"sort"
	"sync"

	"github.com/smartsales365/pulse/internal/event"
)

// Feed is the de-duplicated, newest-first notification list.
type Feed struct {
	mu     sync.Mutex
	items  []event.Event
	seen   map[int64]struct{}
	unread int
}

// New returns an empty feed.
func New() *Feed {
	return &Feed{seen: make(map[int64]struct{})}
}

// Reconcile folds a raw batch into the feed and returns only the newly
// admitted events, in ascending id order. Events whose id was already seen
// are dropped; feeding the same batch twice leaves the feed unchanged and
// returns an empty delta. The whole fold is atomic relative to other feed
// operations.
func (f *Feed) Reconcile(batch []event.Event) []event.Event {
	if len(batch) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	delta := make([]event.Event, 0, len(batch))
	for _, e := range batch {
		if _, ok := f.seen[e.ID]; ok {
			continue
		}
		f.seen[e.ID] = struct{}{}
		delta = append(delta, e)
	}
	if len(delta) == 0 {
		return nil
	}

	// Ids are a monotonic proxy for arrival order; sorting makes downstream
	// processing deterministic regardless of delivery order.
	sort.Slice(delta, func(i, j int) bool { return delta[i].ID < delta[j].ID })

	// Prepend the batch newest-first so the overall list stays newest-first.
	merged := make([]event.Event, 0, len(delta)+len(f.items))
	for i := len(delta) - 1; i >= 0; i-- {
		merged = append(merged, delta[i])
	}
	f.items = append(merged, f.items...)

	f.recountLocked()
	return delta
}

// MarkRead sets read on the given item and reports whether it was present.
// Marking an unknown id is a no-op, not an error.
func (f *Feed) MarkRead(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Read = true
			f.recountLocked()
			return true
		}
	}
	return false
}

// MarkAllRead sets read on every item.
func (f *Feed) MarkAllRead() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.items {
		f.items[i].Read = true
	}
	f.unread = 0
}

// Get returns the item with the given id.
func (f *Feed) Get(id int64) (event.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range f.items {
		if e.ID == id {
			return e, true
		}
	}
	return event.Event{}, false
}

// Items returns a copy of the list, newest first.
func (f *Feed) Items() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]event.Event, len(f.items))
	copy(out, f.items)
	return out
}

// UnreadCount returns the number of unread items.
func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

// Len returns the number of items.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Clear empties the feed. Called on logout; a fresh session re-fetches
// history rather than trusting anything left over.
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items = nil
	f.seen = make(map[int64]struct{})
	f.unread = 0
}

// recountLocked recomputes the unread count from scratch. Incremental
// adjustment is deliberately avoided: ad-hoc increments from racing update
// paths are how the count drifted negative in earlier revisions.
func (f *Feed) recountLocked() {
	n := 0
	for i := range f.items {
		if !f.items[i].Read {
			n++
		}
	}
	f.unread = n
}
