package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		tipo string
		want Kind
	}{
		{"nueva_compra", KindPurchase},
		{"nuevo_pago", KindPayment},
		{"stock_bajo", KindLowStock},
		{"sistema", KindSystem},
		{"error", KindError},
		{"promo_flash", KindSystem}, // unknown degrades, never fails
		{"", KindSystem},
	}
	for _, tt := range tests {
		if got := ParseKind(tt.tipo); got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.tipo, got, tt.want)
		}
	}
}

func TestKindDisplayTotal(t *testing.T) {
	seen := map[string]Kind{}
	for _, k := range Kinds() {
		d := k.Display()
		if d.Label == "" || d.Icon == "" || d.Sound == "" {
			t.Errorf("kind %q has incomplete display config: %+v", k, d)
		}
		if prev, ok := seen[d.Label]; ok {
			t.Errorf("kinds %q and %q share display label %q", prev, k, d.Label)
		}
		seen[d.Label] = k
	}
}

func TestKindWireRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		if got := ParseKind(k.WireName()); got != k {
			t.Errorf("ParseKind(WireName(%q)) = %q", k, got)
		}
	}
}

func TestFlexIDAcceptsNumberAndString(t *testing.T) {
	for _, raw := range []string{`{"id": 42}`, `{"id": "42"}`} {
		var w WireEvent
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if w.ID != 42 {
			t.Errorf("id from %s = %d, want 42", raw, w.ID)
		}
	}

	var w WireEvent
	if err := json.Unmarshal([]byte(`{"id": "abc"}`), &w); err == nil {
		t.Error("expected error for non-numeric string id")
	}
}

func TestWireEventDecode(t *testing.T) {
	raw := `{"id": 7, "tipo": "nueva_compra", "titulo": "Nueva compra",
		"mensaje": "Pedido #118 por $54.90", "url": "/admin/orders/118",
		"creada": "2025-11-02T09:30:00Z", "leida": false}`

	var w WireEvent
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	e, err := w.Event()
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if e.ID != 7 {
		t.Errorf("ID = %d, want 7", e.ID)
	}
	if e.Kind != KindPurchase {
		t.Errorf("Kind = %q, want %q", e.Kind, KindPurchase)
	}
	if e.ActionURL != "/admin/orders/118" {
		t.Errorf("ActionURL = %q", e.ActionURL)
	}
	if !e.TimeKnown() {
		t.Error("expected known creation time")
	}
	want := time.Date(2025, 11, 2, 9, 30, 0, 0, time.UTC)
	if !e.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, want)
	}
	if e.Read {
		t.Error("expected Read = false")
	}
}

func TestMalformedCreadaDegrades(t *testing.T) {
	w := WireEvent{ID: 3, Tipo: "sistema", Titulo: "Backup", Creada: "ayer por la tarde"}
	e, err := w.Event()
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if e.TimeKnown() {
		t.Error("expected unknown time for malformed creada")
	}
	if got := e.TimeLabel(); got != UnknownTime {
		t.Errorf("TimeLabel = %q, want %q", got, UnknownTime)
	}
}

func TestParseCreadaFormats(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"2025-11-02T09:30:00Z", true},
		{"2025-11-02T09:30:00.123456Z", true},
		{"2025-11-02 09:30:00", true},
		{"2025-11-02T09:30:00", true},
		{"", false},
		{"not-a-date", false},
	}
	for _, tt := range tests {
		got := ParseCreada(tt.in)
		if got.IsZero() == tt.want {
			t.Errorf("ParseCreada(%q).IsZero() = %v, want %v", tt.in, got.IsZero(), !tt.want)
		}
	}
}

func TestDecodeBatchDropsOnlyUnkeyedItems(t *testing.T) {
	wires := []WireEvent{
		{ID: 1, Tipo: "nueva_compra", Titulo: "a"},
		{Tipo: "sistema", Titulo: "no id"},
		{ID: 2, Tipo: "tipo_desconocido", Titulo: "b", Creada: "garbage"},
	}
	events, dropped := DecodeBatch(wires)
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[1].Kind != KindSystem || events[1].TimeKnown() {
		t.Errorf("malformed metadata should degrade, got %+v", events[1])
	}
}

func TestFrameRoundTrip(t *testing.T) {
	e := Event{ID: 9, Kind: KindPayment, Title: "Pago", Body: "Pago #12 confirmado",
		CreatedAt: time.Date(2025, 11, 2, 10, 0, 0, 0, time.UTC)}

	data, err := MarshalFrame(e)
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}
	var msg WireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if msg.Type != MsgNotification {
		t.Errorf("Type = %q, want %q", msg.Type, MsgNotification)
	}
	got, err := msg.WireEvent.Event()
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if got.ID != e.ID || got.Kind != e.Kind || !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	data, err = MarshalCountFrame(4)
	if err != nil {
		t.Fatalf("MarshalCountFrame: %v", err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal count frame: %v", err)
	}
	if msg.Type != MsgUnreadCount || msg.Count != 4 {
		t.Errorf("count frame = %+v", msg)
	}
}
