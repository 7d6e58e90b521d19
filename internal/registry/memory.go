package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InMemoryRegistry keeps sessions in process memory. Expiry is applied lazily
// on access, standing in for the TTL purge of a persistent store.
type InMemoryRegistry struct {
	logger  *zap.Logger
	options Options
	mu      sync.RWMutex

	sessions       map[string]*Session
	sessionsByRoom map[string]map[string]struct{}
}

func NewInMemoryRegistry(
	logger *zap.Logger,
	options Options,
) *InMemoryRegistry {
	return &InMemoryRegistry{
		logger:         logger,
		options:        options.Normalize(),
		sessions:       make(map[string]*Session),
		sessionsByRoom: make(map[string]map[string]struct{}),
	}
}

func (r *InMemoryRegistry) Upsert(ctx context.Context, session *Session) error {
	if !session.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, session.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.options.Now()

	existing, ok := r.lookupLocked(session.ConnectionHandle, now)
	if ok && existing.Status == StatusDisconnected && session.Status != StatusDisconnected {
		return fmt.Errorf("%w: %s is disconnected", ErrInvalidTransition, session.ConnectionHandle)
	}

	stored := session.Clone()
	stored.Rooms = dedupe(stored.Rooms)
	if stored.Status.IsLive() {
		stored.ExpiresAt = now.Add(r.options.SessionTTL)
	}

	if previous, ok := r.sessions[stored.ConnectionHandle]; ok {
		r.unindexLocked(previous)
	}

	r.sessions[stored.ConnectionHandle] = stored
	r.indexLocked(stored)

	return nil
}

func (r *InMemoryRegistry) FindByHandle(ctx context.Context, handle string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.lookupLocked(handle, r.options.Now())
	if !ok {
		return nil, ErrNotFound
	}

	return session.Clone(), nil
}

func (r *InMemoryRegistry) CountActiveByIdentity(ctx context.Context, identityId string) (int64, error) {
	sessions, err := r.ListActiveForIdentity(ctx, identityId)

	return int64(len(sessions)), err
}

func (r *InMemoryRegistry) CountActiveByField(ctx context.Context, field Field, value string) (int64, error) {
	if !field.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	sessions := r.listLive(func(s *Session) bool {
		return fieldValue(s, field) == value
	})

	return int64(len(sessions)), nil
}

func (r *InMemoryRegistry) ListActiveInRoom(ctx context.Context, room string) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.options.Now()
	handles := r.sessionsByRoom[room]

	sessions := make([]*Session, 0, len(handles))
	for handle := range handles {
		session, ok := r.lookupLocked(handle, now)
		if ok && session.IsLive() {
			sessions = append(sessions, session.Clone())
		}
	}

	return sessions, nil
}

func (r *InMemoryRegistry) ListActiveForIdentity(ctx context.Context, identityId string) ([]*Session, error) {
	return r.listLive(func(s *Session) bool {
		return s.IdentityId == identityId
	}), nil
}

func (r *InMemoryRegistry) ListActiveForTenant(ctx context.Context, tenantId string) ([]*Session, error) {
	return r.listLive(func(s *Session) bool {
		return s.TenantId == tenantId
	}), nil
}

func (r *InMemoryRegistry) RoomCounts(ctx context.Context, tenantId string) (map[string]int64, error) {
	sessions, err := r.ListActiveForTenant(ctx, tenantId)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for _, session := range sessions {
		for _, room := range session.Rooms {
			counts[room]++
		}
	}

	return counts, nil
}

func (r *InMemoryRegistry) MarkDisconnected(ctx context.Context, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.options.Now()

	session, ok := r.lookupLocked(handle, now)
	if !ok {
		return ErrNotFound
	}

	if session.Status == StatusDisconnected {
		return nil
	}

	session.Status = StatusDisconnected
	session.DisconnectedAt = &now
	session.ExpiresAt = now.Add(r.options.DisconnectGrace)

	return nil
}

func (r *InMemoryRegistry) RefreshActivity(ctx context.Context, handle string) error {
	return r.updateLive(handle, func(session *Session, now time.Time) {
		session.Status = StatusActive
		session.LastActivity = now
		session.ExpiresAt = now.Add(r.options.SessionTTL)
	})
}

func (r *InMemoryRegistry) AddRooms(ctx context.Context, handle string, rooms ...string) error {
	return r.updateLive(handle, func(session *Session, now time.Time) {
		for _, room := range rooms {
			if session.HasRoom(room) {
				continue
			}

			session.Rooms = append(session.Rooms, room)
			r.indexRoomLocked(room, handle)
		}
	})
}

func (r *InMemoryRegistry) RemoveRoom(ctx context.Context, handle string, room string) error {
	return r.updateLive(handle, func(session *Session, now time.Time) {
		index := slices.Index(session.Rooms, room)
		if index < 0 {
			return
		}

		session.Rooms = slices.Delete(session.Rooms, index, index+1)
		r.unindexRoomLocked(room, handle)
	})
}

func (r *InMemoryRegistry) MarkIdle(ctx context.Context, inactiveSince time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.options.Now()

	var count int64
	for handle := range r.sessions {
		session, ok := r.lookupLocked(handle, now)
		if !ok || session.Status != StatusActive {
			continue
		}

		if session.LastActivity.Before(inactiveSince) {
			session.Status = StatusIdle
			count++
		}
	}

	return count, nil
}

func (r *InMemoryRegistry) updateLive(handle string, update func(session *Session, now time.Time)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.options.Now()

	session, ok := r.lookupLocked(handle, now)
	if !ok || !session.IsLive() {
		return ErrNotFound
	}

	update(session, now)

	return nil
}

func (r *InMemoryRegistry) listLive(match func(s *Session) bool) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.options.Now()

	var sessions []*Session
	for handle := range r.sessions {
		session, ok := r.lookupLocked(handle, now)
		if ok && session.IsLive() && match(session) {
			sessions = append(sessions, session.Clone())
		}
	}

	return sessions
}

// lookupLocked hides expired sessions. It must be called with the lock held;
// expired entries stay in the maps until Purge runs.
func (r *InMemoryRegistry) lookupLocked(handle string, now time.Time) (*Session, bool) {
	session, ok := r.sessions[handle]
	if !ok || !now.Before(session.ExpiresAt) {
		return nil, false
	}

	return session, true
}

// Purge drops expired sessions and returns how many were removed.
func (r *InMemoryRegistry) Purge(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.options.Now()

	purged := 0
	for handle, session := range r.sessions {
		if now.Before(session.ExpiresAt) {
			continue
		}

		r.unindexLocked(session)
		delete(r.sessions, handle)
		purged++
	}

	if purged > 0 {
		r.logger.Debug("purged expired sessions", zap.Int("count", purged))
	}

	return purged
}

func (r *InMemoryRegistry) indexLocked(session *Session) {
	for _, room := range session.Rooms {
		r.indexRoomLocked(room, session.ConnectionHandle)
	}
}

func (r *InMemoryRegistry) unindexLocked(session *Session) {
	for _, room := range session.Rooms {
		r.unindexRoomLocked(room, session.ConnectionHandle)
	}
}

func (r *InMemoryRegistry) indexRoomLocked(room string, handle string) {
	if _, ok := r.sessionsByRoom[room]; !ok {
		r.sessionsByRoom[room] = make(map[string]struct{})
	}

	r.sessionsByRoom[room][handle] = struct{}{}
}

func (r *InMemoryRegistry) unindexRoomLocked(room string, handle string) {
	roomSessions, ok := r.sessionsByRoom[room]
	if !ok {
		return
	}

	delete(roomSessions, handle)
	if len(roomSessions) == 0 {
		delete(r.sessionsByRoom, room)
	}
}

func fieldValue(session *Session, field Field) string {
	switch field {
	case FieldTenant:
		return session.TenantId
	case FieldSourceAddress:
		return session.SourceAddress
	case FieldDeviceId:
		return session.DeviceId
	case FieldPlatform:
		return session.Platform
	case FieldIdentityKind:
		return string(session.IdentityKind)
	}

	return ""
}

func dedupe(rooms []string) []string {
	unique := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if !slices.Contains(unique, room) {
			unique = append(unique, room)
		}
	}

	return unique
}
