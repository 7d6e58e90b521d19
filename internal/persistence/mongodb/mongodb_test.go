package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/goevery/broker/internal/identity"
	"github.com/goevery/broker/internal/ratelimit"
	"github.com/goevery/broker/internal/registry"
	"github.com/goevery/broker/internal/room"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

func TestIdCandidates(t *testing.T) {
	objectId := bson.NewObjectID()

	candidates := idCandidates(objectId.Hex())["$in"].(bson.A)
	assert.Equal(t, bson.A{objectId.Hex(), objectId}, candidates)

	candidates = idCandidates("m-1")["$in"].(bson.A)
	assert.Equal(t, bson.A{"m-1"}, candidates)
}

func TestStringOf(t *testing.T) {
	objectId := bson.NewObjectID()

	assert.Equal(t, "b1", stringOf("b1"))
	assert.Equal(t, objectId.Hex(), stringOf(objectId))
	assert.Equal(t, "", stringOf(nil))
	assert.Equal(t, "42", stringOf(int32(42)))
}

func TestSessionDocument(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	session := &registry.Session{
		ConnectionHandle: "h1",
		IdentityId:       "m-1",
		IdentityKind:     identity.KindManager,
		TenantId:         "b1",
		Role:             "manager",
		Status:           registry.StatusIdle,
		Platform:         "ios",
		LastActivity:     now,
		ConnectedAt:      now,
		ExpiresAt:        now.Add(time.Hour),
	}

	document := fromSession(session)
	assert.Equal(t, []string{}, document.Rooms)
	assert.Equal(t, "manager", document.IdentityKind)

	restored := document.toSession()
	assert.Equal(t, identity.KindManager, restored.IdentityKind)
	assert.Equal(t, registry.StatusIdle, restored.Status)
	assert.Equal(t, "ios", restored.Platform)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "b", "a"}))
}

// testDatabase connects to MONGODB_TEST_URI and returns a throwaway database.
func testDatabase(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}

	ctx := context.Background()
	client, err := Connect(ctx, uri)
	require.NoError(t, err)

	database := client.Database("broker_test_" + gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz", 8))
	t.Cleanup(func() {
		_ = database.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	return database
}

func TestSessionRegistry(t *testing.T) {
	database := testDatabase(t)
	ctx := context.Background()

	sessions := NewSessionRegistry(zap.NewNop(), database, registry.Options{})
	require.NoError(t, sessions.Setup(ctx))

	now := time.Now()
	err := sessions.Upsert(ctx, &registry.Session{
		ConnectionHandle: "h1",
		IdentityId:       "m-1",
		IdentityKind:     identity.KindManager,
		TenantId:         "b1",
		Role:             "manager",
		Rooms:            []string{"branch:b1", "user:m-1", "branch:b1"},
		Status:           registry.StatusActive,
		LastActivity:     now.Add(-time.Hour),
		ConnectedAt:      now,
	})
	require.NoError(t, err)

	session, err := sessions.FindByHandle(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, []string{"branch:b1", "user:m-1"}, session.Rooms)

	require.NoError(t, sessions.AddRooms(ctx, "h1", "order:o1", "user:m-1"))
	require.NoError(t, sessions.RemoveRoom(ctx, "h1", "branch:b1"))

	inRoom, err := sessions.ListActiveInRoom(ctx, "order:o1")
	require.NoError(t, err)
	assert.Len(t, inRoom, 1)

	counts, err := sessions.RoomCounts(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"user:m-1": 1, "order:o1": 1}, counts)

	idle, err := sessions.MarkIdle(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), idle)

	count, err := sessions.CountActiveByIdentity(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, sessions.MarkDisconnected(ctx, "h1"))
	require.NoError(t, sessions.MarkDisconnected(ctx, "h1"))
	assert.ErrorIs(t, sessions.MarkDisconnected(ctx, "missing"), registry.ErrNotFound)
	assert.ErrorIs(t, sessions.RefreshActivity(ctx, "h1"), registry.ErrNotFound)

	session, err = sessions.FindByHandle(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusDisconnected, session.Status)
	assert.WithinDuration(t, time.Now().Add(registry.DefaultDisconnectGrace), session.ExpiresAt, 5*time.Second)

	session.Status = registry.StatusActive
	assert.ErrorIs(t, sessions.Upsert(ctx, session), registry.ErrInvalidTransition)
}

func TestIdentityDirectory(t *testing.T) {
	database := testDatabase(t)
	ctx := context.Background()

	managerId := bson.NewObjectID()
	_, err := database.Collection("managers").InsertOne(ctx, bson.M{
		"_id":      managerId,
		"branchId": bson.NewObjectID(),
		"isActive": false,
	})
	require.NoError(t, err)

	_, err = database.Collection("superadmins").InsertOne(ctx, bson.M{
		"_id":              "sa-1",
		"selectedBranchId": "b9",
		"isActive":         true,
	})
	require.NoError(t, err)

	_, err = database.Collection("operators").InsertOne(ctx, bson.M{
		"_id":      "op-legacy",
		"branchId": "b1",
	})
	require.NoError(t, err)

	directory := NewIdentityDirectory(database)

	record, err := directory.FindIdentity(ctx, managerId.Hex(), identity.KindManager)
	require.NoError(t, err)
	assert.False(t, record.IsActive)
	assert.NotEmpty(t, record.TenantID)

	record, err = directory.FindIdentity(ctx, "sa-1", identity.KindTenantSuperAdmin)
	require.NoError(t, err)
	assert.True(t, record.IsActive)
	assert.Equal(t, "b9", record.SelectedTenantID)

	record, err = directory.FindIdentity(ctx, "op-legacy", identity.KindOperator)
	require.NoError(t, err)
	assert.False(t, record.IsActive)

	_, err = directory.FindIdentity(ctx, "sa-1", identity.KindOperator)
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestIsActive(t *testing.T) {
	assert.True(t, isActive(bson.M{"isActive": true}))
	assert.False(t, isActive(bson.M{"isActive": false}))
	assert.False(t, isActive(bson.M{}))
	assert.False(t, isActive(bson.M{"isActive": "yes"}))
}

func TestEntityOwnership(t *testing.T) {
	database := testDatabase(t)
	ctx := context.Background()

	_, err := database.Collection("orders").InsertOne(ctx, bson.M{"_id": "o1", "branchId": "b2"})
	require.NoError(t, err)

	ownership := NewEntityOwnership(database)

	tenantId, err := ownership.OwnerTenantOf(ctx, room.KindOrder, "o1")
	require.NoError(t, err)
	assert.Equal(t, "b2", tenantId)

	_, err = ownership.OwnerTenantOf(ctx, room.KindMachine, "o1")
	assert.ErrorIs(t, err, room.ErrEntityNotFound)
}

func TestCounterStore(t *testing.T) {
	database := testDatabase(t)
	ctx := context.Background()

	store := NewCounterStore(database)
	require.NoError(t, store.Setup(ctx))

	limiter := ratelimit.NewLimiter(store, 3, time.Minute)
	for range 3 {
		decision, err := limiter.Allow(ctx, "m-1")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	decision, err := limiter.Allow(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Positive(t, decision.RetryAfter)

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	window, err := store.Increment(ctx, "m-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), window.Count)
}
