// Package events publishes session lifecycle notifications.
package events

import (
	"context"
	"time"
)

// Event types emitted by the session service.
const (
	TypeLogin         = "hostauth.session.login"
	TypeRefreshed     = "hostauth.session.refreshed"
	TypeLogout        = "hostauth.session.logout"
	TypeReuseDetected = "hostauth.session.reuse_detected"
	TypeRevokedAll    = "hostauth.session.revoked_all"
)

// Event is a single notification. Subject is the account id; Data must be
// JSON-encodable and never carries token values.
type Event struct {
	Type    string
	Subject string
	Time    time.Time
	Data    map[string]any
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
