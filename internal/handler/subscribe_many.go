package handler

import (
	"context"
	"errors"

	"github.com/goevery/broker/internal/ierr"
	"github.com/goevery/broker/internal/room"
)

const maxBatchRooms = 50

type SubscribeManyRequest struct {
	Rooms []string `json:"rooms"`
}

type SubscribeManyHandlerInterface interface {
	Handle(ctx context.Context, req SubscribeManyRequest) (room.BatchResult, error)
}

type SubscribeManyHandler struct {
	roomManager *room.Manager
}

func NewSubscribeManyHandler(roomManager *room.Manager) *SubscribeManyHandler {
	return &SubscribeManyHandler{
		roomManager,
	}
}

func (h *SubscribeManyHandler) Handle(ctx context.Context, req SubscribeManyRequest) (room.BatchResult, error) {
	if len(req.Rooms) == 0 {
		return room.BatchResult{}, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("rooms cannot be empty"))
	}

	if len(req.Rooms) > maxBatchRooms {
		return room.BatchResult{}, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("too many rooms in one batch"))
	}

	session, err := sessionFromContext(ctx)
	if err != nil {
		return room.BatchResult{}, err
	}

	return h.roomManager.SubscribeMany(ctx, session.ConnectionHandle, req.Rooms), nil
}
