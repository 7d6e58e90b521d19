package handler

import (
	"context"

	"github.com/goevery/broker/internal/room"
)

type GetRoomsResponse struct {
	Rooms []string `json:"rooms"`
}

type GetRoomsHandlerInterface interface {
	Handle(ctx context.Context) (GetRoomsResponse, error)
}

type GetRoomsHandler struct {
	roomManager *room.Manager
}

func NewGetRoomsHandler(roomManager *room.Manager) *GetRoomsHandler {
	return &GetRoomsHandler{
		roomManager,
	}
}

func (h *GetRoomsHandler) Handle(ctx context.Context) (GetRoomsResponse, error) {
	session, err := sessionFromContext(ctx)
	if err != nil {
		return GetRoomsResponse{}, err
	}

	rooms, err := h.roomManager.RoomsOf(ctx, session.ConnectionHandle)
	if err != nil {
		return GetRoomsResponse{}, err
	}

	if rooms == nil {
		rooms = []string{}
	}

	return GetRoomsResponse{
		Rooms: rooms,
	}, nil
}
