package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Realtime frame types delivered over the admin websocket.
const (
	MsgNotification = "notification"
	MsgUnreadCount  = "unread_count"
)

// FlexID accepts a JSON number or a numeric string. Several backend
// revisions disagreed on which one the id field is.
type FlexID int64

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parsing event id %q: %w", data, err)
	}
	*f = FlexID(n)
	return nil
}

// WireEvent is a notification as the backend serialises it, both in history
// responses and inside realtime frames.
type WireEvent struct {
	ID      FlexID `json:"id,omitempty"`
	Tipo    string `json:"tipo,omitempty"`
	Titulo  string `json:"titulo,omitempty"`
	Mensaje string `json:"mensaje,omitempty"`
	URL     string `json:"url,omitempty"`
	Creada  string `json:"creada,omitempty"`
	Leida   *bool  `json:"leida,omitempty"`
}

// WireMessage is a single realtime frame. For MsgNotification frames the
// embedded WireEvent fields are set; for MsgUnreadCount only Count is.
type WireMessage struct {
	Type string `json:"type"`
	WireEvent
	Count int `json:"count,omitempty"`
}

// creadaFormats are the timestamp layouts observed across backend revisions.
var creadaFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.DateTime,
	"2006-01-02T15:04:05",
}

// ParseCreada parses a backend timestamp, returning the zero time for
// anything unparsable. A bad timestamp never rejects the event it rides on.
func ParseCreada(s string) time.Time {
	for _, layout := range creadaFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Event converts the wire form to the domain model. Unknown tipo values
// degrade to KindSystem and a malformed creada degrades to the unknown-time
// sentinel; only a missing id is fatal, since the canonical set is keyed on it.
func (w WireEvent) Event() (Event, error) {
	if w.ID == 0 {
		return Event{}, fmt.Errorf("event %q has no id", w.Titulo)
	}
	e := Event{
		ID:        int64(w.ID),
		Kind:      ParseKind(w.Tipo),
		Title:     w.Titulo,
		Body:      w.Mensaje,
		CreatedAt: ParseCreada(w.Creada),
		ActionURL: w.URL,
	}
	if w.Leida != nil {
		e.Read = *w.Leida
	}
	return e, nil
}

// Wire converts a domain event back to its wire form. Used by the dev
// backend when serving history and broadcasting frames.
func Wire(e Event) WireEvent {
	w := WireEvent{
		ID:      FlexID(e.ID),
		Tipo:    e.Kind.WireName(),
		Titulo:  e.Title,
		Mensaje: e.Body,
		URL:     e.ActionURL,
		Leida:   &e.Read,
	}
	if e.TimeKnown() {
		w.Creada = e.CreatedAt.UTC().Format(time.RFC3339)
	}
	return w
}

// DecodeBatch converts wire events to domain events, dropping items with no
// usable id. It returns the decoded events and the number of dropped items.
func DecodeBatch(wires []WireEvent) ([]Event, int) {
	events := make([]Event, 0, len(wires))
	dropped := 0
	for _, w := range wires {
		e, err := w.Event()
		if err != nil {
			dropped++
			continue
		}
		events = append(events, e)
	}
	return events, dropped
}

// EncodeBatch is the inverse of DecodeBatch.
func EncodeBatch(events []Event) []WireEvent {
	wires := make([]WireEvent, len(events))
	for i, e := range events {
		wires[i] = Wire(e)
	}
	return wires
}

// MarshalFrame serialises a realtime notification frame for one event.
func MarshalFrame(e Event) ([]byte, error) {
	return json.Marshal(WireMessage{Type: MsgNotification, WireEvent: Wire(e)})
}

// MarshalCountFrame serialises an unread_count frame.
func MarshalCountFrame(count int) ([]byte, error) {
	return json.Marshal(WireMessage{Type: MsgUnreadCount, Count: count})
}
