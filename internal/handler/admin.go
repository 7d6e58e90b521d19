package handler

import (
	"context"
	"errors"

	"github.com/goevery/broker/internal/auth"
	"github.com/goevery/broker/internal/ierr"
	"github.com/goevery/broker/internal/registry"
	"github.com/goevery/broker/internal/room"
	"github.com/goevery/broker/internal/session"
)

type ListSessionsResponse struct {
	Sessions []*registry.Session `json:"sessions"`
	Multiple bool                `json:"multiple"`
}

// AdminHandler serves the operator surface over sessions and rooms. Every
// method requires an admin authentication in the context.
type AdminHandler struct {
	sessionManager *session.Manager
	roomManager    *room.Manager
}

func NewAdminHandler(sessionManager *session.Manager, roomManager *room.Manager) *AdminHandler {
	return &AdminHandler{
		sessionManager,
		roomManager,
	}
}

func (h *AdminHandler) ListSessions(ctx context.Context, identityId string) (ListSessionsResponse, error) {
	err := requireAdmin(ctx)
	if err != nil {
		return ListSessionsResponse{}, err
	}

	sessions, err := h.sessionManager.ListActiveSessions(ctx, identityId)
	if err != nil {
		return ListSessionsResponse{}, err
	}

	return ListSessionsResponse{
		Sessions: sessions,
		Multiple: len(sessions) > 1,
	}, nil
}

func (h *AdminHandler) TerminateSession(ctx context.Context, handle string) error {
	err := requireAdmin(ctx)
	if err != nil {
		return err
	}

	return h.sessionManager.TerminateSession(ctx, handle)
}

func (h *AdminHandler) TerminateAllSessions(ctx context.Context, identityId string) (session.Result, error) {
	err := requireAdmin(ctx)
	if err != nil {
		return session.Result{}, err
	}

	return h.sessionManager.TerminateAllSessions(ctx, identityId)
}

func (h *AdminHandler) RoomStats(ctx context.Context, tenantId string) (room.Stats, error) {
	err := requireAdmin(ctx)
	if err != nil {
		return room.Stats{}, err
	}

	return h.roomManager.Stats(ctx, tenantId)
}

func requireAdmin(ctx context.Context) error {
	authentication, ok := auth.AuthenticationFromContext(ctx)
	if !ok {
		return ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("user not authenticated"))
	}

	if !authentication.IsAdmin {
		return ierr.New(ierr.ErrorCodePermissionDenied, errors.New("admin access required"))
	}

	return nil
}
