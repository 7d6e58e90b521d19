package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goevery/broker/internal/broadcaster"
	"github.com/goevery/broker/internal/gateway"
	"github.com/goevery/broker/internal/identity"
	"github.com/goevery/broker/internal/registry"
	"github.com/goevery/broker/internal/room"
	"github.com/goevery/broker/internal/telemetry"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_PushToUnknownHandleIsNotLocal(t *testing.T) {
	hub := NewHub(zap.NewNop())

	err := hub.Push(context.Background(), "missing", []byte(`{}`))

	assert.ErrorIs(t, err, ErrNotLocal)
	assert.NotErrorIs(t, err, broadcaster.ErrGone)
	assert.Zero(t, hub.Len())
}

// holdSocket accepts one websocket on a throwaway server and registers it in
// hub under handle. The returned client end reads what the hub pushes.
func holdSocket(t *testing.T, hub *Hub, handle string) *websocket.Conn {
	t.Helper()

	held := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.add(handle, conn)
		close(held)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	select {
	case <-held:
	case <-time.After(time.Second):
		t.Fatal("socket was not registered")
	}

	return conn
}

func TestHub_TwoInstancesShareOneRegistry(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	metrics := telemetry.NewNopMetrics()

	sessions := registry.NewInMemoryRegistry(logger, registry.Options{})
	hubA := NewHub(logger)
	hubB := NewHub(logger)
	broadcasterA := broadcaster.New(logger, sessions, hubA, metrics, broadcaster.Options{})
	broadcasterB := broadcaster.New(logger, sessions, hubB, metrics, broadcaster.Options{})

	now := time.Now()
	require.NoError(t, sessions.Upsert(ctx, &registry.Session{
		ConnectionHandle: "on-b",
		IdentityId:       "m-1",
		IdentityKind:     identity.KindManager,
		TenantId:         "b1",
		Role:             "manager",
		Rooms:            []string{room.Branch("b1")},
		Status:           registry.StatusActive,
		LastActivity:     now,
		ConnectedAt:      now,
	}))
	client := holdSocket(t, hubB, "on-b")

	message := broadcaster.NewMessage("order:updated", map[string]string{"orderId": "o-1"})

	result, err := broadcasterA.BroadcastToTenant(ctx, "b1", message)
	require.NoError(t, err)
	assert.Equal(t, broadcaster.Result{Sent: 0, Failed: 1}, result)

	stored, err := sessions.FindByHandle(ctx, "on-b")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusActive, stored.Status)

	result, err = broadcasterB.BroadcastToTenant(ctx, "b1", message)
	require.NoError(t, err)
	assert.Equal(t, broadcaster.Result{Sent: 1, Failed: 0}, result)

	var received broadcaster.Message
	readJSON(t, client, &received)
	assert.Equal(t, message.Id, received.Id)
}

func TestHub_BroadcastDuringHandshakeKeepsSession(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, nil)

	connected, err := ts.gateway.OnConnect(ctx, gateway.ConnectRequest{
		Token: signToken(t, "m-1", identity.KindManager),
	})
	require.NoError(t, err)

	// The socket is not in the hub until the upgrade completes.
	result, err := ts.broadcaster.BroadcastToTenant(ctx, "b1", broadcaster.NewMessage("order:updated", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	stored, err := ts.registry.FindByHandle(ctx, connected.ConnectionHandle)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusActive, stored.Status)
}

func TestOriginChecker(t *testing.T) {
	request := httptest.NewRequest("GET", "/websocket", nil)
	request.Header.Set("Origin", "https://app.example.com")

	assert.True(t, NewOriginChecker(nil).Check(request))
	assert.True(t, NewOriginChecker([]string{"https://app.example.com"}).Check(request))
	assert.False(t, NewOriginChecker([]string{"https://admin.example.com"}).Check(request))
}

func TestSourceAddress(t *testing.T) {
	request := httptest.NewRequest("GET", "/websocket", nil)
	request.RemoteAddr = "10.1.2.3:5555"

	assert.Equal(t, "10.1.2.3", sourceAddress(request))

	request.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", sourceAddress(request))
}
