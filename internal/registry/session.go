package registry

import (
	"slices"
	"time"

	"github.com/goevery/broker/internal/identity"
)

type Status string

const (
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusDisconnected Status = "disconnected"
)

// disconnected is terminal; idle -> active is the only backwards edge.
var transitions = map[Status][]Status{
	StatusActive:       {StatusIdle, StatusDisconnected},
	StatusIdle:         {StatusActive, StatusDisconnected},
	StatusDisconnected: {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

func (s Status) IsLive() bool {
	return s == StatusActive || s == StatusIdle
}

// Session is the registry record of one connection handle.
type Session struct {
	ConnectionHandle string        `json:"connectionHandle"`
	IdentityId       string        `json:"identityId"`
	IdentityKind     identity.Kind `json:"identityKind"`
	TenantId         string        `json:"tenantId,omitempty"`
	Role             string        `json:"role"`
	Rooms            []string      `json:"rooms"`
	Status           Status        `json:"status"`
	Platform         string        `json:"platform,omitempty"`
	DeviceId         string        `json:"deviceId,omitempty"`
	SourceAddress    string        `json:"sourceAddress,omitempty"`
	LastActivity     time.Time     `json:"lastActivity"`
	ConnectedAt      time.Time     `json:"connectedAt"`
	DisconnectedAt   *time.Time    `json:"disconnectedAt,omitempty"`
	ExpiresAt        time.Time     `json:"expiresAt"`
}

func (s *Session) IsLive() bool {
	return s.Status.IsLive()
}

func (s *Session) HasRoom(room string) bool {
	return slices.Contains(s.Rooms, room)
}

func (s *Session) Identity() (identity.Identity, error) {
	return identity.New(s.IdentityKind, s.IdentityId, s.TenantId)
}

func (s *Session) Clone() *Session {
	clone := *s
	clone.Rooms = slices.Clone(s.Rooms)
	if s.DisconnectedAt != nil {
		disconnectedAt := *s.DisconnectedAt
		clone.DisconnectedAt = &disconnectedAt
	}

	return &clone
}
