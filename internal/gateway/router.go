package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/goevery/broker/internal/handler"
	"github.com/goevery/broker/internal/ierr"
	"github.com/goevery/broker/internal/rpc"
	"go.uber.org/zap"
)

const (
	ActionPing                = "ping"
	ActionSubscribe           = "subscribe"
	ActionUnsubscribe         = "unsubscribe"
	ActionSubscribeMany       = "subscribeMany"
	ActionGetRooms            = "getRooms"
	ActionSubscribeToOrder    = "subscribeToOrder"
	ActionSubscribeToMachine  = "subscribeToMachine"
	ActionSubscribeToCustomer = "subscribeToCustomer"
	ActionGetStatus           = "getStatus"
)

var errInternal = errors.New("internal error")

// Router dispatches an inbound frame to the handler of its action.
type Router struct {
	logger *zap.Logger

	pingHandler                handler.PingHandlerInterface
	subscribeHandler           handler.SubscribeHandlerInterface
	unsubscribeHandler         handler.UnsubscribeHandlerInterface
	subscribeManyHandler       handler.SubscribeManyHandlerInterface
	getRoomsHandler            handler.GetRoomsHandlerInterface
	subscribeToOrderHandler    handler.EntitySubscribeHandlerInterface
	subscribeToMachineHandler  handler.EntitySubscribeHandlerInterface
	subscribeToCustomerHandler handler.EntitySubscribeHandlerInterface
	getStatusHandler           handler.GetStatusHandlerInterface
}

func NewRouter(
	logger *zap.Logger,
	pingHandler handler.PingHandlerInterface,
	subscribeHandler handler.SubscribeHandlerInterface,
	unsubscribeHandler handler.UnsubscribeHandlerInterface,
	subscribeManyHandler handler.SubscribeManyHandlerInterface,
	getRoomsHandler handler.GetRoomsHandlerInterface,
	subscribeToOrderHandler handler.EntitySubscribeHandlerInterface,
	subscribeToMachineHandler handler.EntitySubscribeHandlerInterface,
	subscribeToCustomerHandler handler.EntitySubscribeHandlerInterface,
	getStatusHandler handler.GetStatusHandlerInterface,
) *Router {
	return &Router{
		logger,
		pingHandler,
		subscribeHandler,
		unsubscribeHandler,
		subscribeManyHandler,
		getRoomsHandler,
		subscribeToOrderHandler,
		subscribeToMachineHandler,
		subscribeToCustomerHandler,
		getStatusHandler,
	}
}

func (r *Router) RouteRequest(ctx context.Context, request rpc.Request) *rpc.Response {
	result, err := r.Handle(ctx, request)
	if err != nil {
		response := request.ReplyWithError(r.mapError(err))

		return &response
	}

	if !request.ReplyExpected() {
		return nil
	}

	rawJson, err := json.Marshal(result)
	if err != nil {
		response := request.ReplyWithError(r.mapError(err))

		return &response
	}

	response := request.Reply(rawJson)

	return &response
}

func (r *Router) Handle(ctx context.Context, request rpc.Request) (any, error) {
	switch request.Action {
	case ActionPing:
		return r.pingHandler.Handle(), nil
	case ActionSubscribe:
		var subscribeReq handler.SubscribeRequest
		if err := decodeData(request.Data, &subscribeReq); err != nil {
			return nil, err
		}

		return r.subscribeHandler.Handle(ctx, subscribeReq)
	case ActionUnsubscribe:
		var unsubscribeReq handler.UnsubscribeRequest
		if err := decodeData(request.Data, &unsubscribeReq); err != nil {
			return nil, err
		}

		return r.unsubscribeHandler.Handle(ctx, unsubscribeReq)
	case ActionSubscribeMany:
		var subscribeManyReq handler.SubscribeManyRequest
		if err := decodeData(request.Data, &subscribeManyReq); err != nil {
			return nil, err
		}

		return r.subscribeManyHandler.Handle(ctx, subscribeManyReq)
	case ActionGetRooms:
		return r.getRoomsHandler.Handle(ctx)
	case ActionSubscribeToOrder, ActionSubscribeToMachine, ActionSubscribeToCustomer:
		var entityReq handler.EntitySubscribeRequest
		if err := decodeData(request.Data, &entityReq); err != nil {
			return nil, err
		}

		return r.entityHandler(request.Action).Handle(ctx, entityReq)
	case ActionGetStatus:
		return r.getStatusHandler.Handle(ctx)
	default:
		return nil, ierr.New(ierr.ErrorCodeNotFound, errors.New("action not found: "+request.Action))
	}
}

func (r *Router) entityHandler(action string) handler.EntitySubscribeHandlerInterface {
	switch action {
	case ActionSubscribeToMachine:
		return r.subscribeToMachineHandler
	case ActionSubscribeToCustomer:
		return r.subscribeToCustomerHandler
	}

	return r.subscribeToOrderHandler
}

// mapError passes client facing errors through and hides everything else
// behind a generic internal error. The detail only reaches the log.
func (r *Router) mapError(err error) ierr.Error {
	var handlerErr ierr.Error
	if errors.As(err, &handlerErr) {
		return handlerErr
	}

	r.logger.Error("error in action handler", zap.Error(err))

	return ierr.New(ierr.ErrorCodeInternal, errInternal)
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("missing data"))
	}

	if err := json.Unmarshal(data, v); err != nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid data: "+err.Error()))
	}

	return nil
}
