package handler

import (
	"context"
	"time"

	"github.com/goevery/broker/internal/registry"
)

type StatusResponse struct {
	ConnectionHandle string          `json:"connectionHandle"`
	IdentityId       string          `json:"identityId"`
	IdentityKind     string          `json:"identityKind"`
	TenantId         string          `json:"tenantId,omitempty"`
	Status           registry.Status `json:"status"`
	Platform         string          `json:"platform,omitempty"`
	Rooms            []string        `json:"rooms"`
	ConnectedAt      time.Time       `json:"connectedAt"`
	LastActivity     time.Time       `json:"lastActivity"`
}

type GetStatusHandlerInterface interface {
	Handle(ctx context.Context) (StatusResponse, error)
}

type GetStatusHandler struct{}

func NewGetStatusHandler() *GetStatusHandler {
	return &GetStatusHandler{}
}

// Handle describes the session as it was loaded for the current frame.
func (h *GetStatusHandler) Handle(ctx context.Context) (StatusResponse, error) {
	session, err := sessionFromContext(ctx)
	if err != nil {
		return StatusResponse{}, err
	}

	rooms := session.Rooms
	if rooms == nil {
		rooms = []string{}
	}

	return StatusResponse{
		ConnectionHandle: session.ConnectionHandle,
		IdentityId:       session.IdentityId,
		IdentityKind:     string(session.IdentityKind),
		TenantId:         session.TenantId,
		Status:           session.Status,
		Platform:         session.Platform,
		Rooms:            rooms,
		ConnectedAt:      session.ConnectedAt,
		LastActivity:     session.LastActivity,
	}, nil
}
