// Package gateway runs the three entry points of a broker connection:
// connect, message and disconnect. Each call is a self-contained unit of
// work; everything that must survive between calls lives in the registry.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/goevery/broker/internal/auth"
	"github.com/goevery/broker/internal/broadcaster"
	"github.com/goevery/broker/internal/identity"
	"github.com/goevery/broker/internal/ierr"
	"github.com/goevery/broker/internal/lifecycle"
	"github.com/goevery/broker/internal/ratelimit"
	"github.com/goevery/broker/internal/registry"
	"github.com/goevery/broker/internal/room"
	"github.com/goevery/broker/internal/rpc"
	"github.com/goevery/broker/internal/session"
	"github.com/goevery/broker/internal/telemetry"
	"go.uber.org/zap"
)

const (
	DefaultMaxFrameBytes             = 128 * 1024
	DefaultMaxConnectionsPerIdentity = 10
	DefaultMaxConnectionsPerAddress  = 50

	MessageTypeUserDisconnected = "user:disconnected"

	PlatformWeb = "web"
)

var platforms = []string{PlatformWeb, "ios", "android", "desktop"}

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrTooManyConnections = errors.New("too many connections")
	ErrBadPlatform        = errors.New("unsupported platform")
	ErrOversizeFrame      = errors.New("frame exceeds the maximum size")
	ErrRateLimited        = errors.New("rate limit exceeded")

	// ErrSessionGone is returned by OnMessage when the session no longer
	// exists. The transport should deliver the reply and close.
	ErrSessionGone = room.ErrConnectionNotFound
)

type Options struct {
	MaxFrameBytes             int
	MaxConnectionsPerIdentity int64
	MaxConnectionsPerAddress  int64
	// SingleSession evicts the other sessions of the same identity and kind
	// when a new one connects.
	SingleSession bool
}

func (o Options) normalize() Options {
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if o.MaxConnectionsPerIdentity <= 0 {
		o.MaxConnectionsPerIdentity = DefaultMaxConnectionsPerIdentity
	}
	if o.MaxConnectionsPerAddress <= 0 {
		o.MaxConnectionsPerAddress = DefaultMaxConnectionsPerAddress
	}

	return o
}

type ConnectRequest struct {
	Token         string
	Platform      string
	DeviceId      string
	SourceAddress string
}

type ConnectResponse struct {
	ConnectionHandle string   `json:"connectionHandle"`
	Rooms            []string `json:"rooms"`
}

type RetryHint struct {
	RetryAfter int `json:"retryAfter"`
}

type UserDisconnected struct {
	IdentityId       string `json:"identityId"`
	IdentityKind     string `json:"identityKind"`
	ConnectionHandle string `json:"connectionHandle"`
}

type Gateway struct {
	logger         *zap.Logger
	options        Options
	authenticator  *auth.Authenticator
	directory      identity.Directory
	registry       registry.Registry
	roomManager    *room.Manager
	sessionManager *session.Manager
	broadcaster    *broadcaster.Broadcaster
	limiter        *ratelimit.Limiter
	router         *Router
	publisher      lifecycle.Publisher
	metrics        *telemetry.Metrics
	now            func() time.Time
}

func New(
	logger *zap.Logger,
	options Options,
	authenticator *auth.Authenticator,
	directory identity.Directory,
	registry registry.Registry,
	roomManager *room.Manager,
	sessionManager *session.Manager,
	broadcaster *broadcaster.Broadcaster,
	limiter *ratelimit.Limiter,
	router *Router,
	publisher lifecycle.Publisher,
	metrics *telemetry.Metrics,
) *Gateway {
	return &Gateway{
		logger,
		options.normalize(),
		authenticator,
		directory,
		registry,
		roomManager,
		sessionManager,
		broadcaster,
		limiter,
		router,
		publisher,
		metrics,
		time.Now,
	}
}

// OnConnect authenticates the token, admits the session and subscribes it
// to its default rooms. A rejected connect leaves no live session behind.
func (g *Gateway) OnConnect(ctx context.Context, req ConnectRequest) (ConnectResponse, error) {
	response, err := g.connect(ctx, req)
	if err != nil {
		g.metrics.ConnectionRejected(ctx, string(ierr.CodeOf(err)))

		return ConnectResponse{}, err
	}

	return response, nil
}

func (g *Gateway) connect(ctx context.Context, req ConnectRequest) (ConnectResponse, error) {
	authentication, err := g.authenticator.AuthenticateJWT(req.Token)
	if err != nil {
		return ConnectResponse{}, err
	}

	subject, err := g.resolveIdentity(ctx, authentication)
	if err != nil {
		return ConnectResponse{}, err
	}

	platform, err := normalizePlatform(req.Platform)
	if err != nil {
		return ConnectResponse{}, err
	}

	err = g.checkCeilings(ctx, subject, req.SourceAddress)
	if err != nil {
		return ConnectResponse{}, err
	}

	handle := registry.NewConnectionHandle()

	if g.options.SingleSession {
		result, err := g.sessionManager.EnforceSingleSession(ctx, subject.ID(), subject.Kind(), handle)
		if err != nil {
			return ConnectResponse{}, fmt.Errorf("enforce single session: %w", err)
		}

		if result.Errors > 0 {
			g.logger.Warn("some previous sessions could not be evicted",
				zap.String("identityId", subject.ID()),
				zap.Int("errors", result.Errors))
		}
	}

	now := g.now()
	newSession := &registry.Session{
		ConnectionHandle: handle,
		IdentityId:       subject.ID(),
		IdentityKind:     subject.Kind(),
		TenantId:         subject.TenantID(),
		Role:             subject.Role(),
		Rooms:            []string{},
		Status:           registry.StatusActive,
		Platform:         platform,
		DeviceId:         req.DeviceId,
		SourceAddress:    req.SourceAddress,
		LastActivity:     now,
		ConnectedAt:      now,
	}

	err = g.registry.Upsert(ctx, newSession)
	if err != nil {
		return ConnectResponse{}, fmt.Errorf("upsert session: %w", err)
	}

	rooms, err := g.roomManager.AssignDefaultRooms(ctx, handle, subject)
	if err != nil {
		g.discard(ctx, handle)

		return ConnectResponse{}, err
	}

	g.metrics.ConnectionAccepted(ctx, platform)
	g.publish(ctx, lifecycle.EventConnected, newSession, "")

	g.logger.Info("session connected",
		zap.String("handle", handle),
		zap.String("identityId", subject.ID()),
		zap.String("kind", string(subject.Kind())),
		zap.String("platform", platform))

	return ConnectResponse{
		ConnectionHandle: handle,
		Rooms:            rooms,
	}, nil
}

// discard retires a session whose connect failed after it was stored.
func (g *Gateway) discard(ctx context.Context, handle string) {
	err := g.registry.MarkDisconnected(ctx, handle)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		g.logger.Error("failed to discard half connected session",
			zap.String("handle", handle),
			zap.Error(err))
	}
}

func (g *Gateway) resolveIdentity(ctx context.Context, authentication *auth.Authentication) (identity.Identity, error) {
	record, err := g.directory.FindIdentity(ctx, authentication.Subject, authentication.Kind)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find identity: %w", err)
	}

	if !record.IsActive {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, ErrAccountInactive)
	}

	subject, err := identity.Resolve(authentication.Kind, authentication.Subject, record)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, err)
	}

	return subject, nil
}

func (g *Gateway) checkCeilings(ctx context.Context, subject identity.Identity, sourceAddress string) error {
	count, err := g.registry.CountActiveByIdentity(ctx, subject.ID())
	if err != nil {
		return fmt.Errorf("count sessions by identity: %w", err)
	}

	// with single session on, the sessions counted here are about to be evicted
	if !g.options.SingleSession && count >= g.options.MaxConnectionsPerIdentity {
		return ierr.New(ierr.ErrorCodeResourceExhausted, ErrTooManyConnections)
	}

	if sourceAddress == "" {
		return nil
	}

	count, err = g.registry.CountActiveByField(ctx, registry.FieldSourceAddress, sourceAddress)
	if err != nil {
		return fmt.Errorf("count sessions by address: %w", err)
	}

	if count >= g.options.MaxConnectionsPerAddress {
		return ierr.New(ierr.ErrorCodeResourceExhausted, ErrTooManyConnections)
	}

	return nil
}

// OnMessage handles one inbound frame. The returned response is nil when the
// frame succeeded and asked for no reply. A non-nil error means the session
// is gone and the connection should be closed after the reply is delivered.
func (g *Gateway) OnMessage(ctx context.Context, handle string, frame []byte) (*rpc.Response, error) {
	if len(frame) > g.options.MaxFrameBytes {
		return errorResponse(rpc.Request{}, ierr.New(ierr.ErrorCodeInvalidArgument, ErrOversizeFrame)), nil
	}

	current, err := g.registry.FindByHandle(ctx, handle)
	if errors.Is(err, registry.ErrNotFound) || (err == nil && !current.IsLive()) {
		return errorResponse(rpc.Request{}, ierr.New(ierr.ErrorCodeNotFound, ErrSessionGone)), ErrSessionGone
	}
	if err != nil {
		return g.internalError(rpc.Request{}, fmt.Errorf("find session: %w", err)), nil
	}

	// every frame counts against the limit, malformed ones included; the
	// request id in replies is best effort
	var request rpc.Request
	parseErr := json.Unmarshal(frame, &request)

	decision, err := g.limiter.Allow(ctx, current.IdentityId)
	if err != nil {
		// the counters are an optimization, a failing store lets traffic through
		g.logger.Warn("rate limit check failed", zap.Error(err))
	} else if !decision.Allowed {
		g.metrics.FrameRateLimited(ctx)

		rateLimited := ierr.New(ierr.ErrorCodeResourceExhausted, ErrRateLimited).
			WithData(retryHint(decision.RetryAfter))

		return errorResponse(request, rateLimited), nil
	}

	if parseErr != nil || request.Action == "" {
		return errorResponse(request, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid frame"))), nil
	}

	err = g.registry.RefreshActivity(ctx, handle)
	if errors.Is(err, registry.ErrNotFound) {
		return errorResponse(request, ierr.New(ierr.ErrorCodeNotFound, ErrSessionGone)), ErrSessionGone
	}
	if err != nil {
		return g.internalError(request, fmt.Errorf("refresh activity: %w", err)), nil
	}

	current.Status = registry.StatusActive
	current.LastActivity = g.now()

	g.metrics.FrameReceived(ctx, request.Action)

	return g.router.RouteRequest(registry.WithSession(ctx, current), request), nil
}

// OnDisconnect marks the session disconnected and tells the rest of the
// tenant. Disconnecting an unknown or already disconnected handle succeeds.
func (g *Gateway) OnDisconnect(ctx context.Context, handle string) error {
	current, err := g.registry.FindByHandle(ctx, handle)
	if errors.Is(err, registry.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}

	if !current.IsLive() {
		return nil
	}

	err = g.registry.MarkDisconnected(ctx, handle)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return fmt.Errorf("mark disconnected: %w", err)
	}

	g.metrics.Disconnected(ctx, "client")
	g.publish(ctx, lifecycle.EventDisconnected, current, "client")

	if current.TenantId != "" {
		message := broadcaster.NewMessage(MessageTypeUserDisconnected, UserDisconnected{
			IdentityId:       current.IdentityId,
			IdentityKind:     string(current.IdentityKind),
			ConnectionHandle: handle,
		})

		_, err = g.broadcaster.BroadcastToRoom(ctx, room.Branch(current.TenantId), message)
		if err != nil {
			g.logger.Warn("failed to announce disconnect",
				zap.String("handle", handle),
				zap.Error(err))
		}
	}

	g.logger.Info("session disconnected",
		zap.String("handle", handle),
		zap.String("identityId", current.IdentityId))

	return nil
}

func (g *Gateway) publish(ctx context.Context, eventType lifecycle.EventType, s *registry.Session, reason string) {
	_ = g.publisher.Publish(ctx, lifecycle.Event{
		Type:             eventType,
		ConnectionHandle: s.ConnectionHandle,
		IdentityId:       s.IdentityId,
		IdentityKind:     string(s.IdentityKind),
		TenantId:         s.TenantId,
		Platform:         s.Platform,
		Reason:           reason,
		Timestamp:        g.now().UTC(),
	})
}

func (g *Gateway) internalError(request rpc.Request, err error) *rpc.Response {
	g.logger.Error("error handling frame", zap.Error(err))

	return errorResponse(request, ierr.New(ierr.ErrorCodeInternal, errInternal))
}

// retryHint rounds down so the hint never outlasts the open window.
func retryHint(retryAfter time.Duration) RetryHint {
	return RetryHint{RetryAfter: int(retryAfter / time.Second)}
}

func errorResponse(request rpc.Request, err ierr.Error) *rpc.Response {
	response := request.ReplyWithError(err)

	return &response
}

func normalizePlatform(platform string) (string, error) {
	if platform == "" {
		return PlatformWeb, nil
	}

	if !slices.Contains(platforms, platform) {
		return "", ierr.New(ierr.ErrorCodeInvalidArgument, ErrBadPlatform)
	}

	return platform, nil
}
