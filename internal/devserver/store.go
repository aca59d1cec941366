package devserver

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/smartsales365/pulse/internal/event"
)

// Store persists the dev backend's notifications and push subscriptions in a
// local sqlite database, so emitted events survive server restarts.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	tipo    TEXT NOT NULL,
	titulo  TEXT NOT NULL,
	mensaje TEXT NOT NULL,
	url     TEXT NOT NULL DEFAULT '',
	creada  TEXT NOT NULL,
	leida   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS subscriptions (
	id         TEXT PRIMARY KEY,
	endpoint   TEXT NOT NULL UNIQUE,
	p256dh     TEXT NOT NULL,
	auth       TEXT NOT NULL,
	user_agent TEXT NOT NULL DEFAULT '',
	created    TEXT NOT NULL
);
`

// OpenStore opens (creating if necessary) the database at path. Pass
// ":memory:" for an ephemeral store.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating db directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening db %s: %w", path, err)
	}
	// modernc sqlite serialises writes; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Insert stores a new notification and returns it with the assigned id and
// timestamp.
func (s *Store) Insert(ctx context.Context, e event.Event) (event.Event, error) {
	if !e.TimeKnown() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (tipo, titulo, mensaje, url, creada, leida)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Kind.WireName(), e.Title, e.Body, e.ActionURL,
		e.CreatedAt.UTC().Format(time.RFC3339), boolInt(e.Read))
	if err != nil {
		return event.Event{}, fmt.Errorf("inserting notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return event.Event{}, fmt.Errorf("reading inserted id: %w", err)
	}
	e.ID = id
	return e, nil
}

// List returns notifications newest first, optionally only unread ones.
func (s *Store) List(ctx context.Context, unreadOnly bool) ([]event.Event, error) {
	query := `SELECT id, tipo, titulo, mensaje, url, creada, leida
	          FROM notifications`
	if unreadOnly {
		query += ` WHERE leida = 0`
	}
	query += ` ORDER BY id DESC LIMIT 100`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.Event
		var tipo, creada string
		var leida int
		if err := rows.Scan(&e.ID, &tipo, &e.Title, &e.Body, &e.ActionURL, &creada, &leida); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		e.Kind = event.ParseKind(tipo)
		e.CreatedAt = event.ParseCreada(creada)
		e.Read = leida != 0
		events = append(events, e)
	}
	return events, rows.Err()
}

// UnreadCount returns the number of unread notifications.
func (s *Store) UnreadCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE leida = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}

// MarkRead marks one notification read. Reports whether it existed.
func (s *Store) MarkRead(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET leida = 1 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("marking %d read: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkAllRead marks every notification read.
func (s *Store) MarkAllRead(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE notifications SET leida = 1`); err != nil {
		return fmt.Errorf("marking all read: %w", err)
	}
	return nil
}

// StoredSubscription is a registered web-push subscription.
type StoredSubscription struct {
	ID        string
	Endpoint  string
	P256dh    string
	Auth      string
	UserAgent string
}

// UpsertSubscription registers a push subscription, replacing any earlier
// registration for the same endpoint.
func (s *Store) UpsertSubscription(ctx context.Context, sub StoredSubscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, endpoint, p256dh, auth, user_agent, created)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET p256dh = excluded.p256dh, auth = excluded.auth`,
		sub.ID, sub.Endpoint, sub.P256dh, sub.Auth, sub.UserAgent,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("storing subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes the registration for an endpoint. Reports
// whether one existed.
func (s *Store) DeleteSubscription(ctx context.Context, endpoint string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return false, fmt.Errorf("deleting subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Subscriptions lists all registered push subscriptions.
func (s *Store) Subscriptions(ctx context.Context) ([]StoredSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, endpoint, p256dh, auth, user_agent FROM subscriptions ORDER BY created`)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []StoredSubscription
	for rows.Next() {
		var sub StoredSubscription
		if err := rows.Scan(&sub.ID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.UserAgent); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
