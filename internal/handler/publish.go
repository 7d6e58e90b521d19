package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goevery/broker/internal/auth"
	"github.com/goevery/broker/internal/broadcaster"
	"github.com/goevery/broker/internal/ierr"
	"github.com/goevery/broker/internal/room"
)

// PublishRequest names exactly one target: a room, a list of rooms, a
// tenant, an identity, or a role within a tenant.
type PublishRequest struct {
	Type       string   `json:"type"`
	Data       any      `json:"data"`
	Room       string   `json:"room,omitempty"`
	Rooms      []string `json:"rooms,omitempty"`
	TenantId   string   `json:"tenantId,omitempty"`
	IdentityId string   `json:"identityId,omitempty"`
	Role       string   `json:"role,omitempty"`
}

type PublishResponse struct {
	MessageId string `json:"messageId"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
}

type PublishHandlerInterface interface {
	Handle(ctx context.Context, req PublishRequest) (PublishResponse, error)
}

type PublishHandler struct {
	broadcaster *broadcaster.Broadcaster
}

func NewPublishHandler(broadcaster *broadcaster.Broadcaster) *PublishHandler {
	return &PublishHandler{
		broadcaster,
	}
}

func (h *PublishHandler) Handle(ctx context.Context, req PublishRequest) (PublishResponse, error) {
	authentication, ok := auth.AuthenticationFromContext(ctx)
	if !ok {
		return PublishResponse{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("user not authenticated"))
	}

	if !authentication.IsAdmin {
		return PublishResponse{},
			ierr.New(ierr.ErrorCodePermissionDenied, errors.New("user not authorized to publish messages"))
	}

	err := validatePublishRequest(req)
	if err != nil {
		return PublishResponse{}, err
	}

	message := broadcaster.NewMessage(req.Type, req.Data)

	var result broadcaster.Result
	switch {
	case req.Room != "":
		result, err = h.broadcaster.BroadcastToRoom(ctx, req.Room, message)
	case len(req.Rooms) > 0:
		result, err = h.broadcaster.BroadcastToRooms(ctx, req.Rooms, message)
	case req.IdentityId != "":
		result, err = h.broadcaster.SendToIdentity(ctx, req.IdentityId, message)
	case req.Role != "":
		result, err = h.broadcaster.BroadcastToRole(ctx, req.Role, req.TenantId, message)
	default:
		result, err = h.broadcaster.BroadcastToTenant(ctx, req.TenantId, message)
	}
	if err != nil {
		return PublishResponse{}, err
	}

	return PublishResponse{
		MessageId: message.Id,
		Sent:      result.Sent,
		Failed:    result.Failed,
	}, nil
}

func validatePublishRequest(req PublishRequest) error {
	if strings.TrimSpace(req.Type) == "" {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("type is required"))
	}

	targets := 0
	for _, set := range []bool{
		req.Room != "",
		len(req.Rooms) > 0,
		req.IdentityId != "",
		req.Role != "",
		req.TenantId != "" && req.Role == "",
	} {
		if set {
			targets++
		}
	}

	if targets != 1 {
		return ierr.New(ierr.ErrorCodeInvalidArgument,
			errors.New("exactly one of room, rooms, tenantId, identityId or role is required"))
	}

	if req.Role != "" && req.TenantId == "" {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("role requires tenantId"))
	}

	for _, name := range append([]string{req.Room}, req.Rooms...) {
		if name != "" && !room.IsValidName(name) {
			return ierr.New(ierr.ErrorCodeInvalidArgument, fmt.Errorf("invalid room name %q", name))
		}
	}

	return nil
}
