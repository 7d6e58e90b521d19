// Package session enforces the single-active-session policy and exposes the
// administrative session surface: listing and terminating sessions.
package session

import (
	"context"
	"errors"

	"github.com/goevery/broker/internal/broadcaster"
	"github.com/goevery/broker/internal/identity"
	"github.com/goevery/broker/internal/ierr"
	"github.com/goevery/broker/internal/lifecycle"
	"github.com/goevery/broker/internal/registry"
	"github.com/goevery/broker/internal/telemetry"
	"go.uber.org/zap"
)

const MessageTypeForceLogout = "session:force_logout"

type Reason string

const (
	ReasonNewLogin      Reason = "new_login"
	ReasonAdminLogout   Reason = "admin_logout"
	ReasonAccountAction Reason = "account_action"
)

var ErrSessionNotFound = errors.New("session not found")

type ForceLogout struct {
	Reason           Reason `json:"reason"`
	ConnectionHandle string `json:"connectionHandle"`
}

type Result struct {
	Terminated int `json:"terminated"`
	Kept       int `json:"kept"`
	Errors     int `json:"errors"`
}

type Manager struct {
	logger      *zap.Logger
	registry    registry.Registry
	broadcaster *broadcaster.Broadcaster
	publisher   lifecycle.Publisher
	metrics     *telemetry.Metrics
}

func NewManager(
	logger *zap.Logger,
	registry registry.Registry,
	broadcaster *broadcaster.Broadcaster,
	publisher lifecycle.Publisher,
	metrics *telemetry.Metrics,
) *Manager {
	return &Manager{
		logger,
		registry,
		broadcaster,
		publisher,
		metrics,
	}
}

// EnforceSingleSession terminates every live session of the identity except
// keepHandle. Eviction does not depend on the force-logout push succeeding.
func (m *Manager) EnforceSingleSession(ctx context.Context, identityId string, kind identity.Kind, keepHandle string) (Result, error) {
	sessions, err := m.registry.ListActiveForIdentity(ctx, identityId)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, session := range sessions {
		if session.IdentityKind != kind {
			continue
		}

		if keepHandle != "" && session.ConnectionHandle == keepHandle {
			result.Kept++
			continue
		}

		if m.terminate(ctx, session, ReasonNewLogin) != nil {
			result.Errors++
			continue
		}

		result.Terminated++
	}

	if result.Terminated > 0 || result.Errors > 0 {
		m.logger.Info("enforced single session",
			zap.String("identityId", identityId),
			zap.String("kind", string(kind)),
			zap.Int("terminated", result.Terminated),
			zap.Int("errors", result.Errors))
	}

	return result, nil
}

func (m *Manager) TerminateSession(ctx context.Context, handle string) error {
	session, err := m.registry.FindByHandle(ctx, handle)
	if errors.Is(err, registry.ErrNotFound) || (err == nil && !session.IsLive()) {
		return ierr.New(ierr.ErrorCodeNotFound, ErrSessionNotFound)
	}
	if err != nil {
		return err
	}

	return m.terminate(ctx, session, ReasonAdminLogout)
}

func (m *Manager) TerminateAllSessions(ctx context.Context, identityId string) (Result, error) {
	sessions, err := m.registry.ListActiveForIdentity(ctx, identityId)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, session := range sessions {
		if m.terminate(ctx, session, ReasonAccountAction) != nil {
			result.Errors++
			continue
		}

		result.Terminated++
	}

	return result, nil
}

func (m *Manager) HasMultipleSessions(ctx context.Context, identityId string) (bool, error) {
	count, err := m.registry.CountActiveByIdentity(ctx, identityId)
	if err != nil {
		return false, err
	}

	return count > 1, nil
}

func (m *Manager) ListActiveSessions(ctx context.Context, identityId string) ([]*registry.Session, error) {
	sessions, err := m.registry.ListActiveForIdentity(ctx, identityId)
	if err != nil {
		return nil, err
	}

	if sessions == nil {
		sessions = []*registry.Session{}
	}

	return sessions, nil
}

func (m *Manager) terminate(ctx context.Context, session *registry.Session, reason Reason) error {
	handle := session.ConnectionHandle
	message := broadcaster.NewMessage(MessageTypeForceLogout, ForceLogout{
		Reason:           reason,
		ConnectionHandle: handle,
	})

	_, err := m.broadcaster.SendTo(ctx, handle, message)
	if err != nil {
		m.logger.Warn("force logout push failed, evicting anyway",
			zap.String("handle", handle),
			zap.Error(err))
	}

	err = m.registry.MarkDisconnected(ctx, handle)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		m.logger.Error("failed to mark session disconnected",
			zap.String("handle", handle),
			zap.String("reason", string(reason)),
			zap.Error(err))

		return err
	}

	m.metrics.SessionEvicted(ctx, string(reason))

	_ = m.publisher.Publish(ctx, lifecycle.Event{
		Type:             lifecycle.EventEvicted,
		ConnectionHandle: handle,
		IdentityId:       session.IdentityId,
		IdentityKind:     string(session.IdentityKind),
		TenantId:         session.TenantId,
		Platform:         session.Platform,
		Reason:           string(reason),
	})

	return nil
}
