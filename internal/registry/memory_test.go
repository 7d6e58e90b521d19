package registry

import (
	"context"
	"testing"
	"time"

	"github.com/goevery/broker/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestRegistry() (*InMemoryRegistry, *testClock) {
	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	registry := NewInMemoryRegistry(zap.NewNop(), Options{Now: clock.Now})

	return registry, clock
}

func newSession(handle string, identityId string, tenantId string, rooms ...string) *Session {
	return &Session{
		ConnectionHandle: handle,
		IdentityId:       identityId,
		IdentityKind:     identity.KindManager,
		TenantId:         tenantId,
		Role:             "manager",
		Rooms:            rooms,
		Status:           StatusActive,
		Platform:         "web",
		SourceAddress:    "10.0.0.1",
	}
}

func TestInMemoryRegistry_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert is keyed by handle", func(t *testing.T) {
		registry, clock := newTestRegistry()

		require.NoError(t, registry.Upsert(ctx, newSession("h1", "m-1", "b1", "branch:b1")))
		require.NoError(t, registry.Upsert(ctx, newSession("h1", "m-1", "b1", "branch:b1", "branch:b1")))

		session, err := registry.FindByHandle(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, []string{"branch:b1"}, session.Rooms)
		assert.Equal(t, clock.now.Add(DefaultSessionTTL), session.ExpiresAt)

		count, err := registry.CountActiveByIdentity(ctx, "m-1")
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
	})

	t.Run("replacing rooms updates the room index", func(t *testing.T) {
		registry, _ := newTestRegistry()

		require.NoError(t, registry.Upsert(ctx, newSession("h1", "m-1", "b1", "branch:b1")))
		require.NoError(t, registry.Upsert(ctx, newSession("h1", "m-1", "b1", "user:m-1")))

		sessions, err := registry.ListActiveInRoom(ctx, "branch:b1")
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})

	t.Run("disconnected handle cannot be revived", func(t *testing.T) {
		registry, _ := newTestRegistry()

		require.NoError(t, registry.Upsert(ctx, newSession("h1", "m-1", "b1")))
		require.NoError(t, registry.MarkDisconnected(ctx, "h1"))

		err := registry.Upsert(ctx, newSession("h1", "m-1", "b1"))
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestInMemoryRegistry_MarkDisconnected(t *testing.T) {
	ctx := context.Background()
	registry, clock := newTestRegistry()

	require.NoError(t, registry.Upsert(ctx, newSession("h1", "m-1", "b1", "branch:b1")))
	require.NoError(t, registry.MarkDisconnected(ctx, "h1"))

	session, err := registry.FindByHandle(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, session.Status)
	assert.Equal(t, clock.now, *session.DisconnectedAt)
	assert.Equal(t, clock.now.Add(DefaultDisconnectGrace), session.ExpiresAt)

	t.Run("idempotent", func(t *testing.T) {
		clock.Advance(time.Minute)

		require.NoError(t, registry.MarkDisconnected(ctx, "h1"))

		session, err := registry.FindByHandle(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, clock.now.Add(-time.Minute), *session.DisconnectedAt)
	})

	t.Run("disconnected sessions leave rooms", func(t *testing.T) {
		sessions, err := registry.ListActiveInRoom(ctx, "branch:b1")
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})

	t.Run("purged after the grace window", func(t *testing.T) {
		clock.Advance(DefaultDisconnectGrace)

		_, err := registry.FindByHandle(ctx, "h1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 1, registry.Purge(ctx))
	})

	t.Run("unknown handle", func(t *testing.T) {
		assert.ErrorIs(t, registry.MarkDisconnected(ctx, "missing"), ErrNotFound)
	})
}

func TestInMemoryRegistry_Rooms(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry()

	require.NoError(t, registry.Upsert(ctx, newSession("h1", "m-1", "b1")))
	require.NoError(t, registry.Upsert(ctx, newSession("h2", "m-2", "b1")))

	require.NoError(t, registry.AddRooms(ctx, "h1", "order:o1", "order:o1"))
	require.NoError(t, registry.AddRooms(ctx, "h2", "order:o1"))

	sessions, err := registry.ListActiveInRoom(ctx, "order:o1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	session, err := registry.FindByHandle(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, []string{"order:o1"}, session.Rooms)

	require.NoError(t, registry.RemoveRoom(ctx, "h1", "order:o1"))
	require.NoError(t, registry.RemoveRoom(ctx, "h1", "order:o1"))

	sessions, err = registry.ListActiveInRoom(ctx, "order:o1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "h2", sessions[0].ConnectionHandle)

	counts, err := registry.RoomCounts(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"order:o1": 1}, counts)

	assert.ErrorIs(t, registry.AddRooms(ctx, "missing", "order:o1"), ErrNotFound)
}

func TestInMemoryRegistry_CountActiveByField(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry()

	require.NoError(t, registry.Upsert(ctx, newSession("h1", "m-1", "b1")))
	require.NoError(t, registry.Upsert(ctx, newSession("h2", "m-2", "b1")))
	require.NoError(t, registry.Upsert(ctx, newSession("h3", "m-3", "b2")))
	require.NoError(t, registry.MarkDisconnected(ctx, "h2"))

	count, err := registry.CountActiveByField(ctx, FieldSourceAddress, "10.0.0.1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	count, err = registry.CountActiveByField(ctx, FieldTenant, "b1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	_, err = registry.CountActiveByField(ctx, Field("rooms"), "x")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestInMemoryRegistry_IdleSweep(t *testing.T) {
	ctx := context.Background()
	registry, clock := newTestRegistry()

	require.NoError(t, registry.Upsert(ctx, newSession("h1", "m-1", "b1")))
	require.NoError(t, registry.RefreshActivity(ctx, "h1"))
	require.NoError(t, registry.Upsert(ctx, newSession("h2", "m-2", "b1")))

	clock.Advance(10 * time.Minute)
	require.NoError(t, registry.RefreshActivity(ctx, "h2"))

	count, err := registry.MarkIdle(ctx, clock.now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	session, err := registry.FindByHandle(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, session.Status)

	t.Run("activity reactivates an idle session", func(t *testing.T) {
		require.NoError(t, registry.RefreshActivity(ctx, "h1"))

		session, err := registry.FindByHandle(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, session.Status)
		assert.Equal(t, clock.now, session.LastActivity)
	})

	t.Run("disconnected sessions are not refreshed", func(t *testing.T) {
		require.NoError(t, registry.MarkDisconnected(ctx, "h2"))

		assert.ErrorIs(t, registry.RefreshActivity(ctx, "h2"), ErrNotFound)
	})
}
