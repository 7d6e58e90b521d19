package registry

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrUnknownField      = errors.New("unknown session field")
)

// Field names a session attribute that live sessions can be counted by.
type Field string

const (
	FieldTenant        Field = "tenantId"
	FieldSourceAddress Field = "sourceAddress"
	FieldDeviceId      Field = "deviceId"
	FieldPlatform      Field = "platform"
	FieldIdentityKind  Field = "identityKind"
)

func (f Field) Valid() bool {
	switch f {
	case FieldTenant, FieldSourceAddress, FieldDeviceId, FieldPlatform, FieldIdentityKind:
		return true
	}

	return false
}

// Registry is the durable record of every live or recently live session.
// "Active" in method names means not disconnected and not expired.
type Registry interface {
	// Upsert creates or replaces the session keyed by its connection handle.
	// A disconnected handle cannot be revived.
	Upsert(ctx context.Context, session *Session) error

	// FindByHandle returns the session, disconnected or not, until it expires.
	FindByHandle(ctx context.Context, handle string) (*Session, error)

	CountActiveByIdentity(ctx context.Context, identityId string) (int64, error)
	CountActiveByField(ctx context.Context, field Field, value string) (int64, error)

	ListActiveInRoom(ctx context.Context, room string) ([]*Session, error)
	ListActiveForIdentity(ctx context.Context, identityId string) ([]*Session, error)
	ListActiveForTenant(ctx context.Context, tenantId string) ([]*Session, error)

	// RoomCounts returns the number of active sessions per room among the
	// sessions of a tenant.
	RoomCounts(ctx context.Context, tenantId string) (map[string]int64, error)

	// MarkDisconnected is a no-op for an already disconnected session.
	MarkDisconnected(ctx context.Context, handle string) error

	// RefreshActivity bumps lastActivity and reactivates an idle session.
	RefreshActivity(ctx context.Context, handle string) error

	AddRooms(ctx context.Context, handle string, rooms ...string) error
	RemoveRoom(ctx context.Context, handle string, room string) error

	// MarkIdle moves active sessions without activity since the cutoff to idle.
	MarkIdle(ctx context.Context, inactiveSince time.Time) (int64, error)
}

const (
	DefaultSessionTTL      = 24 * time.Hour
	DefaultDisconnectGrace = 5 * time.Minute
)

type Options struct {
	// SessionTTL is how long a live session survives without activity
	// before the store purges it.
	SessionTTL time.Duration
	// DisconnectGrace is how long a disconnected session is kept so that
	// in-flight broadcasts referencing it fail gracefully.
	DisconnectGrace time.Duration
	Now             func() time.Time
}

func (o Options) Normalize() Options {
	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultSessionTTL
	}
	if o.DisconnectGrace <= 0 {
		o.DisconnectGrace = DefaultDisconnectGrace
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	return o
}
