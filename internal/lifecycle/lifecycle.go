// Package lifecycle publishes session lifecycle events for consumers outside
// the broker, such as presence dashboards and audit trails.
package lifecycle

import (
	"context"
	"time"
)

type EventType string

const (
	EventConnected    EventType = "session.connected"
	EventDisconnected EventType = "session.disconnected"
	EventEvicted      EventType = "session.evicted"
)

type Event struct {
	Type             EventType `json:"type"`
	ConnectionHandle string    `json:"connectionHandle"`
	IdentityId       string    `json:"identityId"`
	IdentityKind     string    `json:"identityKind"`
	TenantId         string    `json:"tenantId,omitempty"`
	Platform         string    `json:"platform,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Event) error {
	return nil
}

func (NopPublisher) Close() error {
	return nil
}
