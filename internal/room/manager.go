package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/goevery/broker/internal/identity"
	"github.com/goevery/broker/internal/ierr"
	"github.com/goevery/broker/internal/registry"
	"go.uber.org/zap"
)

// AllTenants is the tenant segment of the role room of a super admin that
// has no tenant selected.
const AllTenants = "all"

var ErrConnectionNotFound = errors.New("connection not found, please reconnect")

type Failure struct {
	Room   string `json:"room"`
	Reason string `json:"reason"`
}

type BatchResult struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

type Stats struct {
	TenantId    string           `json:"tenantId"`
	Connections int              `json:"connections"`
	Rooms       map[string]int64 `json:"rooms"`
}

type Manager struct {
	logger     *zap.Logger
	registry   registry.Registry
	authorizer *Authorizer
}

func NewManager(
	logger *zap.Logger,
	registry registry.Registry,
	authorizer *Authorizer,
) *Manager {
	return &Manager{
		logger,
		registry,
		authorizer,
	}
}

// DefaultRooms returns the rooms every session of the identity joins at
// connect time: its tenant's branch room, its own user room and its role room.
func DefaultRooms(subject identity.Identity) []string {
	tenantId := subject.TenantID()

	if tenantId == "" {
		return []string{
			User(subject.ID()),
			Role(subject.Role(), AllTenants),
		}
	}

	return []string{
		Branch(tenantId),
		User(subject.ID()),
		Role(subject.Role(), tenantId),
	}
}

func (m *Manager) AssignDefaultRooms(ctx context.Context, handle string, subject identity.Identity) ([]string, error) {
	rooms := DefaultRooms(subject)

	err := m.registry.AddRooms(ctx, handle, rooms...)
	if err != nil {
		return nil, m.mapRegistryError(err)
	}

	return rooms, nil
}

// Subscribe adds the room to the session after re-checking authorization.
// Subscribing to a room the session already holds is a no-op.
func (m *Manager) Subscribe(ctx context.Context, handle string, name string) error {
	room, err := Parse(name)
	if err != nil {
		return err
	}

	session, err := m.liveSession(ctx, handle)
	if err != nil {
		return err
	}

	subject, err := session.Identity()
	if err != nil {
		return err
	}

	err = m.authorizer.Authorize(ctx, subject, room)
	if err != nil {
		return err
	}

	if session.HasRoom(name) {
		return nil
	}

	err = m.registry.AddRooms(ctx, handle, name)
	if err != nil {
		return m.mapRegistryError(err)
	}

	m.logger.Debug("subscribed to room",
		zap.String("handle", handle),
		zap.String("room", name))

	return nil
}

// Unsubscribe removes the room from the session. Leaving a room the session
// is not in is a no-op.
func (m *Manager) Unsubscribe(ctx context.Context, handle string, name string) error {
	_, err := Parse(name)
	if err != nil {
		return err
	}

	err = m.registry.RemoveRoom(ctx, handle, name)
	if err != nil {
		return m.mapRegistryError(err)
	}

	return nil
}

// SubscribeMany subscribes to each room independently; one failure does not
// stop the others.
func (m *Manager) SubscribeMany(ctx context.Context, handle string, names []string) BatchResult {
	result := BatchResult{
		Succeeded: []string{},
		Failed:    []Failure{},
	}

	for _, name := range names {
		err := m.Subscribe(ctx, handle, name)
		if err != nil {
			result.Failed = append(result.Failed, Failure{
				Room:   name,
				Reason: failureReason(err),
			})

			continue
		}

		result.Succeeded = append(result.Succeeded, name)
	}

	return result
}

func (m *Manager) RoomsOf(ctx context.Context, handle string) ([]string, error) {
	session, err := m.liveSession(ctx, handle)
	if err != nil {
		return nil, err
	}

	return session.Rooms, nil
}

func (m *Manager) ConnectionsIn(ctx context.Context, name string) ([]string, error) {
	sessions, err := m.registry.ListActiveInRoom(ctx, name)
	if err != nil {
		return nil, err
	}

	handles := make([]string, len(sessions))
	for i, session := range sessions {
		handles[i] = session.ConnectionHandle
	}

	return handles, nil
}

func (m *Manager) CountIn(ctx context.Context, name string) (int, error) {
	sessions, err := m.registry.ListActiveInRoom(ctx, name)
	if err != nil {
		return 0, err
	}

	return len(sessions), nil
}

func (m *Manager) Stats(ctx context.Context, tenantId string) (Stats, error) {
	connections, err := m.registry.CountActiveByField(ctx, registry.FieldTenant, tenantId)
	if err != nil {
		return Stats{}, err
	}

	rooms, err := m.registry.RoomCounts(ctx, tenantId)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		TenantId:    tenantId,
		Connections: int(connections),
		Rooms:       rooms,
	}, nil
}

func (m *Manager) liveSession(ctx context.Context, handle string) (*registry.Session, error) {
	session, err := m.registry.FindByHandle(ctx, handle)
	if err != nil {
		return nil, m.mapRegistryError(err)
	}

	if !session.IsLive() {
		return nil, ierr.New(ierr.ErrorCodeNotFound, ErrConnectionNotFound)
	}

	return session, nil
}

func (m *Manager) mapRegistryError(err error) error {
	if errors.Is(err, registry.ErrNotFound) {
		return ierr.New(ierr.ErrorCodeNotFound, ErrConnectionNotFound)
	}

	return fmt.Errorf("registry: %w", err)
}

func failureReason(err error) string {
	var ierror ierr.Error
	if errors.As(err, &ierror) {
		return ierror.Message
	}

	return "internal error"
}
