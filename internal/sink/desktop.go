package sink

import (
	"sync/atomic"

	"github.com/gen2brain/beeep"

	"github.com/smartsales365/pulse/internal/event"
)

// Desktop raises native OS notifications through beeep. Permission is a
// plain flag flipped by an explicit user action (the watch command's
// --notify, the settings panel in a UI); delivery never prompts.
type Desktop struct {
	granted atomic.Bool
	appIcon string
}

// NewDesktop creates a desktop notifier. granted is the initial permission
// state.
func NewDesktop(granted bool, appIcon string) *Desktop {
	d := &Desktop{appIcon: appIcon}
	d.granted.Store(granted)
	return d
}

// SetGranted flips the permission flag.
func (d *Desktop) SetGranted(v bool) { d.granted.Store(v) }

// Granted reports whether OS notifications may be shown.
func (d *Desktop) Granted() bool { return d.granted.Load() }

// Show raises one OS notification for the event.
func (d *Desktop) Show(e event.Event) error {
	title := e.Kind.Display().Label
	if e.Title != "" {
		title = e.Title
	}
	return beeep.Notify(title, e.Body, d.appIcon)
}
