// Package event defines the admin notification model and its wire codecs.
package event

import "time"

// Event is a single admin-facing notification. IDs are assigned by the
// backend and increase monotonically within a session, so they double as an
// arrival-order proxy.
type Event struct {
	ID        int64
	Kind      Kind
	Title     string
	Body      string
	CreatedAt time.Time // zero value means the backend sent no usable timestamp
	ActionURL string
	Read      bool
}

// UnknownTime is what TimeLabel returns when the backend timestamp was
// missing or unparsable.
const UnknownTime = "unknown time"

// TimeKnown reports whether the event carries a usable creation timestamp.
func (e Event) TimeKnown() bool {
	return !e.CreatedAt.IsZero()
}

// TimeLabel formats the creation time for display, degrading to the
// UnknownTime sentinel instead of rendering a zero timestamp.
func (e Event) TimeLabel() string {
	if !e.TimeKnown() {
		return UnknownTime
	}
	return e.CreatedAt.Local().Format("15:04")
}
