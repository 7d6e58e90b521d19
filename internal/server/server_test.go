package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goevery/broker/internal/auth"
	"github.com/goevery/broker/internal/broadcaster"
	"github.com/goevery/broker/internal/gateway"
	"github.com/goevery/broker/internal/handler"
	"github.com/goevery/broker/internal/identity"
	"github.com/goevery/broker/internal/lifecycle"
	"github.com/goevery/broker/internal/ratelimit"
	"github.com/goevery/broker/internal/registry"
	"github.com/goevery/broker/internal/room"
	"github.com/goevery/broker/internal/session"
	"github.com/goevery/broker/internal/telemetry"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret = "test-secret"
	testAPIKey = "test-api-key"
)

type testServer struct {
	server      *httptest.Server
	registry    *registry.InMemoryRegistry
	hub         *Hub
	gateway     *gateway.Gateway
	broadcaster *broadcaster.Broadcaster
}

func newTestServer(t *testing.T, transport broadcaster.Transport) *testServer {
	t.Helper()

	logger := zap.NewNop()
	metrics := telemetry.NewNopMetrics()

	sessions := registry.NewInMemoryRegistry(logger, registry.Options{})
	hub := NewHub(logger)
	if transport == nil {
		transport = hub
	}

	directory := identity.NewMemoryDirectory()
	directory.Put(identity.KindManager, "m-1", identity.Record{IsActive: true, TenantID: "b1"})
	directory.Put(identity.KindOperator, "op-1", identity.Record{IsActive: true, TenantID: "b1"})

	ownership := room.NewMemoryOwnership()
	ownership.Put(room.KindOrder, "o-1", "b1")

	authenticator := auth.NewAuthenticator(testSecret, "", []string{testAPIKey})
	roomManager := room.NewManager(logger, sessions, room.NewAuthorizer(ownership))
	b := broadcaster.New(logger, sessions, transport, metrics, broadcaster.Options{})
	sessionManager := session.NewManager(logger, sessions, b, lifecycle.NopPublisher{}, metrics)

	router := gateway.NewRouter(
		logger,
		handler.NewPingHandler(),
		handler.NewSubscribeHandler(roomManager),
		handler.NewUnsubscribeHandler(roomManager),
		handler.NewSubscribeManyHandler(roomManager),
		handler.NewGetRoomsHandler(roomManager),
		handler.NewEntitySubscribeHandler(room.KindOrder, roomManager),
		handler.NewEntitySubscribeHandler(room.KindMachine, roomManager),
		handler.NewEntitySubscribeHandler(room.KindCustomer, roomManager),
		handler.NewGetStatusHandler(),
	)

	gw := gateway.New(
		logger,
		gateway.Options{SingleSession: true, MaxFrameBytes: 1024},
		authenticator,
		directory,
		sessions,
		roomManager,
		sessionManager,
		b,
		ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 100, time.Minute),
		router,
		lifecycle.NopPublisher{},
		metrics,
	)

	mainRouter := mux.NewRouter()
	NewWebSocketServer(logger, &websocket.Upgrader{}, hub, gw, 1024).Register(mainRouter)
	NewRESTServer(
		logger,
		handler.NewPublishHandler(b),
		handler.NewAdminHandler(sessionManager, roomManager),
		authenticator,
	).Register(mainRouter)

	server := httptest.NewServer(mainRouter)
	t.Cleanup(server.Close)

	return &testServer{
		server:      server,
		registry:    sessions,
		hub:         hub,
		gateway:     gw,
		broadcaster: b,
	}
}

func signToken(t *testing.T, subject string, kind identity.Kind) string {
	t.Helper()

	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{auth.DefaultAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Kind: string(kind),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	return signed
}
