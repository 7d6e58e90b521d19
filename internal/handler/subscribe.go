package handler

import (
	"context"
	"time"

	"github.com/goevery/broker/internal/room"
)

type SubscribeRequest struct {
	Room string `json:"room"`
}

type SubscribeResponse struct {
	Room      string    `json:"room"`
	Timestamp time.Time `json:"timestamp"`
}

type SubscribeHandlerInterface interface {
	Handle(ctx context.Context, req SubscribeRequest) (SubscribeResponse, error)
}

type SubscribeHandler struct {
	roomManager *room.Manager
}

func NewSubscribeHandler(roomManager *room.Manager) *SubscribeHandler {
	return &SubscribeHandler{
		roomManager,
	}
}

func (h *SubscribeHandler) Handle(ctx context.Context, req SubscribeRequest) (SubscribeResponse, error) {
	session, err := sessionFromContext(ctx)
	if err != nil {
		return SubscribeResponse{}, err
	}

	err = h.roomManager.Subscribe(ctx, session.ConnectionHandle, req.Room)
	if err != nil {
		return SubscribeResponse{}, err
	}

	return SubscribeResponse{
		Room:      req.Room,
		Timestamp: time.Now(),
	}, nil
}
