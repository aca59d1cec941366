// Package push manages the backend side of web-push subscriptions. The
// platform push capability itself (service worker, key pair, permission UI)
// is delegated: callers hand in a Subscriber and this package only sequences
// the VAPID-key fetch, the subscribe call, and backend registration.
package push

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/smartsales365/pulse/internal/api"
)

// Subscriber is the delegated push capability.
type Subscriber interface {
	// Subscribe creates a push subscription keyed to the application server.
	Subscribe(ctx context.Context, applicationServerKey []byte) (api.Subscription, error)
	// Current returns the existing subscription, or nil when there is none.
	Current(ctx context.Context) (*api.Subscription, error)
	// Unsubscribe cancels the local subscription.
	Unsubscribe(ctx context.Context) error
}

// Manager pairs a push capability with the backend registration endpoints.
type Manager struct {
	client *api.Client
	sub    Subscriber
	log    *zap.Logger
}

// NewManager creates a manager. sub may be nil on platforms without push
// support; every operation then reports ErrUnsupported.
func NewManager(client *api.Client, sub Subscriber, log *zap.Logger) *Manager {
	return &Manager{client: client, sub: sub, log: log}
}

// ErrUnsupported is returned when no push capability is available.
var ErrUnsupported = fmt.Errorf("push notifications unsupported on this platform")

// Supported reports whether a push capability was provided.
func (m *Manager) Supported() bool { return m.sub != nil }

// Enable subscribes to push delivery: fetch the server's VAPID key, create a
// subscription with the capability, register it with the backend.
func (m *Manager) Enable(ctx context.Context) (*api.Subscription, error) {
	if m.sub == nil {
		return nil, ErrUnsupported
	}

	key, err := m.client.VapidPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := DecodeVapidKey(key)
	if err != nil {
		return nil, fmt.Errorf("decoding VAPID key: %w", err)
	}

	sub, err := m.sub.Subscribe(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("creating push subscription: %w", err)
	}

	if err := m.client.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	m.log.Info("push subscription registered", zap.String("endpoint", sub.Endpoint))
	return &sub, nil
}

// Disable unsubscribes locally and removes the registration from the
// backend. A backend removal failure is logged but does not keep the local
// subscription alive.
func (m *Manager) Disable(ctx context.Context) error {
	if m.sub == nil {
		return ErrUnsupported
	}

	cur, err := m.sub.Current(ctx)
	if err != nil {
		return fmt.Errorf("reading current subscription: %w", err)
	}
	if cur == nil {
		return nil
	}

	if err := m.client.DeleteSubscription(ctx, cur.Endpoint); err != nil {
		m.log.Warn("backend subscription removal failed", zap.Error(err))
	}
	if err := m.sub.Unsubscribe(ctx); err != nil {
		return fmt.Errorf("cancelling push subscription: %w", err)
	}
	m.log.Info("push subscription removed", zap.String("endpoint", cur.Endpoint))
	return nil
}

// Subscribed reports whether a local subscription exists.
func (m *Manager) Subscribed(ctx context.Context) bool {
	if m.sub == nil {
		return false
	}
	cur, err := m.sub.Current(ctx)
	return err == nil && cur != nil
}

// DecodeVapidKey decodes a base64url-encoded (padded or not) application
// server key.
func DecodeVapidKey(key string) ([]byte, error) {
	key = strings.TrimRight(key, "=")
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		// Some backends hand out standard base64.
		raw, err = base64.RawStdEncoding.DecodeString(key)
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty key")
	}
	return raw, nil
}
