package broadcaster

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/goevery/broker/internal/registry"
	"github.com/goevery/broker/internal/room"
	"github.com/goevery/broker/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Delivery string

const (
	Delivered Delivery = "delivered"
	Stale     Delivery = "stale"
	Failed    Delivery = "failed"
)

type Result struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

func (r Result) Add(other Result) Result {
	return Result{
		Sent:   r.Sent + other.Sent,
		Failed: r.Failed + other.Failed,
	}
}

const (
	DefaultPushTimeout = 5 * time.Second
	DefaultConcurrency = 64
)

type Options struct {
	// PushTimeout bounds a single push. A timed out push counts as failed
	// and is not retried within the same fan-out.
	PushTimeout time.Duration
	// Concurrency caps the pushes in flight for one fan-out.
	Concurrency int
}

type Broadcaster struct {
	logger    *zap.Logger
	registry  registry.Registry
	transport Transport
	metrics   *telemetry.Metrics
	options   Options
}

func New(
	logger *zap.Logger,
	registry registry.Registry,
	transport Transport,
	metrics *telemetry.Metrics,
	options Options,
) *Broadcaster {
	if options.PushTimeout <= 0 {
		options.PushTimeout = DefaultPushTimeout
	}
	if options.Concurrency <= 0 {
		options.Concurrency = DefaultConcurrency
	}

	return &Broadcaster{
		logger,
		registry,
		transport,
		metrics,
		options,
	}
}

// SendTo pushes a message to one connection. A gone connection is marked
// disconnected and reported as Stale rather than as an error.
func (b *Broadcaster) SendTo(ctx context.Context, handle string, message Message) (Delivery, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return Failed, err
	}

	return b.push(ctx, handle, payload)
}

// BroadcastToConnections pushes to every handle in parallel. Outcomes are
// independent: a stale or failing handle never affects the others.
func (b *Broadcaster) BroadcastToConnections(ctx context.Context, handles []string, message Message) (Result, error) {
	if len(handles) == 0 {
		return Result{}, nil
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return Result{}, err
	}

	var sent, failed atomic.Int64

	var group errgroup.Group
	group.SetLimit(b.options.Concurrency)

	for _, handle := range handles {
		group.Go(func() error {
			delivery, err := b.push(ctx, handle, payload)
			if delivery == Delivered {
				sent.Add(1)
			} else {
				failed.Add(1)
			}

			if err != nil {
				b.logger.Warn("push failed",
					zap.String("handle", handle),
					zap.String("type", message.Type),
					zap.Error(err))
			}

			return nil
		})
	}

	_ = group.Wait()

	return Result{
		Sent:   int(sent.Load()),
		Failed: int(failed.Load()),
	}, nil
}

func (b *Broadcaster) BroadcastToRoom(ctx context.Context, roomName string, message Message) (Result, error) {
	sessions, err := b.registry.ListActiveInRoom(ctx, roomName)
	if err != nil {
		return Result{}, err
	}

	return b.BroadcastToConnections(ctx, handlesOf(sessions), message)
}

// BroadcastToRooms delivers to each room independently. A connection that is
// in several of the rooms receives the message once per room.
func (b *Broadcaster) BroadcastToRooms(ctx context.Context, roomNames []string, message Message) (Result, error) {
	var total Result
	var errs []error

	for _, roomName := range roomNames {
		result, err := b.BroadcastToRoom(ctx, roomName, message)
		if err != nil {
			b.logger.Error("room broadcast failed",
				zap.String("room", roomName),
				zap.Error(err))

			errs = append(errs, err)

			continue
		}

		total = total.Add(result)
	}

	return total, errors.Join(errs...)
}

func (b *Broadcaster) BroadcastToTenant(ctx context.Context, tenantId string, message Message) (Result, error) {
	return b.BroadcastToRoom(ctx, room.Branch(tenantId), message)
}

// SendToIdentity delivers to every live session of the identity, one per device.
func (b *Broadcaster) SendToIdentity(ctx context.Context, identityId string, message Message) (Result, error) {
	sessions, err := b.registry.ListActiveForIdentity(ctx, identityId)
	if err != nil {
		return Result{}, err
	}

	return b.BroadcastToConnections(ctx, handlesOf(sessions), message)
}

func (b *Broadcaster) BroadcastToRole(ctx context.Context, role string, tenantId string, message Message) (Result, error) {
	return b.BroadcastToRoom(ctx, room.Role(role, tenantId), message)
}

func (b *Broadcaster) push(ctx context.Context, handle string, payload []byte) (Delivery, error) {
	pushCtx, cancel := context.WithTimeout(ctx, b.options.PushTimeout)
	defer cancel()

	err := b.transport.Push(pushCtx, handle, payload)

	switch {
	case err == nil:
		b.metrics.Delivery(ctx, telemetry.OutcomeSent)

		return Delivered, nil
	case errors.Is(err, ErrGone):
		b.metrics.Delivery(ctx, telemetry.OutcomeStale)
		b.reconcileStale(ctx, handle)

		return Stale, nil
	default:
		b.metrics.Delivery(ctx, telemetry.OutcomeFailed)

		return Failed, err
	}
}

func (b *Broadcaster) reconcileStale(ctx context.Context, handle string) {
	err := b.registry.MarkDisconnected(ctx, handle)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		b.logger.Error("failed to mark stale connection disconnected",
			zap.String("handle", handle),
			zap.Error(err))

		return
	}

	b.metrics.Disconnected(ctx, "stale")
	b.logger.Debug("stale connection marked disconnected",
		zap.String("handle", handle))
}

func handlesOf(sessions []*registry.Session) []string {
	handles := make([]string, len(sessions))
	for i, session := range sessions {
		handles[i] = session.ConnectionHandle
	}

	return handles
}
