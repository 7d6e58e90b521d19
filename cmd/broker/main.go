package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/goevery/broker/internal/auth"
	"github.com/goevery/broker/internal/broadcaster"
	"github.com/goevery/broker/internal/gateway"
	"github.com/goevery/broker/internal/handler"
	"github.com/goevery/broker/internal/lifecycle"
	"github.com/goevery/broker/internal/persistence"
	"github.com/goevery/broker/internal/persistence/mongodb"
	"github.com/goevery/broker/internal/ratelimit"
	"github.com/goevery/broker/internal/registry"
	"github.com/goevery/broker/internal/room"
	"github.com/goevery/broker/internal/server"
	"github.com/goevery/broker/internal/session"
	"github.com/goevery/broker/internal/telemetry"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/v2/mongo"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

const serviceName = "broker"

type App struct {
	logger          *zap.Logger
	settings        Settings
	mongoClient     *mongo.Client
	meterProvider   *sdkmetric.MeterProvider
	publisher       lifecycle.Publisher
	engines         []persistence.Engine
	registry        registry.Registry
	memoryCounters  *ratelimit.MemoryStore
	hub             *server.Hub
	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer
}

func NewApp(ctx context.Context, logger *zap.Logger, settings Settings) (*App, error) {
	mongoClient, err := mongodb.Connect(ctx, settings.MongoDBURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	database := mongoClient.Database(settings.MongoDBDatabase)

	meterProvider, err := telemetry.NewMeterProvider(ctx, settings.OTLPEndpoint, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to build meter provider: %w", err)
	}
	metrics, err := telemetry.NewMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	var publisher lifecycle.Publisher = lifecycle.NopPublisher{}
	if len(settings.KafkaBrokers) > 0 {
		publisher = lifecycle.NewKafkaPublisher(logger, settings.KafkaBrokers, settings.KafkaTopic)
	}

	sessionRegistry := mongodb.NewSessionRegistry(logger, database, registry.Options{
		SessionTTL:      settings.SessionTTL,
		DisconnectGrace: settings.DisconnectGrace,
	})
	engines := []persistence.Engine{sessionRegistry}

	var counters ratelimit.CounterStore
	var memoryCounters *ratelimit.MemoryStore
	switch settings.RateLimitStore {
	case RateLimitStoreMongoDB:
		counterStore := mongodb.NewCounterStore(database)
		engines = append(engines, counterStore)
		counters = counterStore
	case RateLimitStoreMemory:
		memoryCounters = ratelimit.NewMemoryStore()
		counters = memoryCounters
	default:
		return nil, fmt.Errorf("unknown rate limit store %q", settings.RateLimitStore)
	}

	originChecker := server.NewOriginChecker(settings.AllowedOrigins)
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       originChecker.Check,
		EnableCompression: true,
	}

	authenticator := auth.NewAuthenticator(settings.JWTSecret, settings.JWTAudience, settings.APIKeys)
	directory := mongodb.NewIdentityDirectory(database)
	authorizer := room.NewAuthorizer(mongodb.NewEntityOwnership(database))
	limiter := ratelimit.NewLimiter(counters, settings.RateLimitMessages, settings.RateLimitWindow)

	hub := server.NewHub(logger)
	roomManager := room.NewManager(logger, sessionRegistry, authorizer)
	messageBroadcaster := broadcaster.New(logger, sessionRegistry, hub, metrics, broadcaster.Options{})
	sessionManager := session.NewManager(logger, sessionRegistry, messageBroadcaster, publisher, metrics)

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

	brokerGateway := gateway.New(
		logger,
		gateway.Options{
			MaxFrameBytes:             settings.MaxFrameBytes,
			MaxConnectionsPerIdentity: settings.MaxConnectionsPerIdentity,
			MaxConnectionsPerAddress:  settings.MaxConnectionsPerAddress,
			SingleSession:             settings.SingleSession,
		},
		authenticator,
		directory,
		sessionRegistry,
		roomManager,
		sessionManager,
		messageBroadcaster,
		limiter,
		router,
		publisher,
		metrics,
	)

	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		hub,
		brokerGateway,
		settings.MaxFrameBytes,
	)
	restServer := server.NewRESTServer(
		logger,
		handler.NewPublishHandler(messageBroadcaster),
		handler.NewAdminHandler(sessionManager, roomManager),
		authenticator,
	)

	return &App{
		logger,
		settings,
		mongoClient,
		meterProvider,
		publisher,
		engines,
		sessionRegistry,
		memoryCounters,
		hub,
		websocketServer,
		restServer,
	}, nil
}

func (a *App) setup(ctx context.Context) error {
	err := persistence.Setup(ctx, a.engines...)
	if err != nil {
		return fmt.Errorf("failed to setup persistence: %w", err)
	}

	sweepCtx, sweepCtxCancel := context.WithCancel(ctx)
	defer sweepCtxCancel()

	go a.sweep(sweepCtx)

	a.startHttpServer(ctx)

	return nil
}

// sweep marks sessions idle once they have been silent for IdleAfter and
// drops expired in-memory rate limit windows.
func (a *App) sweep(ctx context.Context) {
	ticker := time.NewTicker(a.settings.IdleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			idled, err := a.registry.MarkIdle(ctx, now.Add(-a.settings.IdleAfter))
			if err != nil && ctx.Err() == nil {
				a.logger.Warn("idle sweep failed", zap.Error(err))
			} else if idled > 0 {
				a.logger.Debug("sessions marked idle", zap.Int64("count", idled))
			}

			if a.memoryCounters != nil {
				a.memoryCounters.Prune()
			}
		}
	}
}

func (a *App) startHttpServer(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)
	a.restServer.Register(router)

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting http server",
		zap.String("address", address))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	a.hub.CloseAll()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http server shutdown failed",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

func (a *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := a.publisher.Close()
	if err != nil {
		a.logger.Warn("failed to close lifecycle publisher", zap.Error(err))
	}

	err = a.meterProvider.Shutdown(ctx)
	if err != nil {
		a.logger.Warn("failed to shutdown meter provider", zap.Error(err))
	}

	err = a.mongoClient.Disconnect(ctx)
	if err != nil {
		a.logger.Warn("failed to disconnect from mongodb", zap.Error(err))
	}
}

func main() {
	ctx := context.Background()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		panic(fmt.Errorf("failed to parse settings from environment: %w", err))
	}

	logger, err := buildZapLogger(settings.LogEncoding)
	if err != nil {
		panic(fmt.Errorf("failed to build logger: %w", err))
	}
	defer logger.Sync()

	app, err := NewApp(ctx, logger, settings)
	if err != nil {
		logger.Fatal("failed to create app", zap.Error(err))
	}
	defer app.close()

	err = app.setup(ctx)
	if err != nil {
		logger.Fatal("failed to setup", zap.Error(err))
	}
}
