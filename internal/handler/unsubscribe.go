package handler

import (
	"context"
	"time"

	"github.com/goevery/broker/internal/room"
)

type UnsubscribeRequest struct {
	Room string `json:"room"`
}

type UnsubscribeResponse struct {
	Room      string    `json:"room"`
	Timestamp time.Time `json:"timestamp"`
}

type UnsubscribeHandlerInterface interface {
	Handle(ctx context.Context, req UnsubscribeRequest) (UnsubscribeResponse, error)
}

type UnsubscribeHandler struct {
	roomManager *room.Manager
}

func NewUnsubscribeHandler(roomManager *room.Manager) *UnsubscribeHandler {
	return &UnsubscribeHandler{
		roomManager,
	}
}

func (h *UnsubscribeHandler) Handle(ctx context.Context, req UnsubscribeRequest) (UnsubscribeResponse, error) {
	session, err := sessionFromContext(ctx)
	if err != nil {
		return UnsubscribeResponse{}, err
	}

	err = h.roomManager.Unsubscribe(ctx, session.ConnectionHandle, req.Room)
	if err != nil {
		return UnsubscribeResponse{}, err
	}

	return UnsubscribeResponse{
		Room:      req.Room,
		Timestamp: time.Now(),
	}, nil
}
