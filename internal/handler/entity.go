package handler

import (
	"context"
	"errors"
	"time"

	"github.com/goevery/broker/internal/ierr"
	"github.com/goevery/broker/internal/room"
)

// EntitySubscribeRequest carries the id of the entity to follow. Only the
// field matching the handler kind is read.
type EntitySubscribeRequest struct {
	OrderId    string `json:"orderId,omitempty"`
	MachineId  string `json:"machineId,omitempty"`
	CustomerId string `json:"customerId,omitempty"`
}

func (r EntitySubscribeRequest) idFor(kind room.Kind) string {
	switch kind {
	case room.KindOrder:
		return r.OrderId
	case room.KindMachine:
		return r.MachineId
	case room.KindCustomer:
		return r.CustomerId
	}

	return ""
}

type EntitySubscribeHandlerInterface interface {
	Handle(ctx context.Context, req EntitySubscribeRequest) (SubscribeResponse, error)
}

// EntitySubscribeHandler subscribes the session to the room of one order,
// machine or customer, subject to the ownership check.
type EntitySubscribeHandler struct {
	kind        room.Kind
	roomManager *room.Manager
}

func NewEntitySubscribeHandler(kind room.Kind, roomManager *room.Manager) *EntitySubscribeHandler {
	return &EntitySubscribeHandler{
		kind,
		roomManager,
	}
}

func (h *EntitySubscribeHandler) Handle(ctx context.Context, req EntitySubscribeRequest) (SubscribeResponse, error) {
	entityId := req.idFor(h.kind)
	if entityId == "" {
		return SubscribeResponse{},
			ierr.New(ierr.ErrorCodeInvalidArgument, errors.New(string(h.kind)+"Id is required"))
	}

	session, err := sessionFromContext(ctx)
	if err != nil {
		return SubscribeResponse{}, err
	}

	name := room.Entity(h.kind, entityId)

	err = h.roomManager.Subscribe(ctx, session.ConnectionHandle, name)
	if err != nil {
		return SubscribeResponse{}, err
	}

	return SubscribeResponse{
		Room:      name,
		Timestamp: time.Now(),
	}, nil
}
