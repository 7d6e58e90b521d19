package handler

import "time"

type PingResponse struct {
	Pong      bool      `json:"pong"`
	Timestamp time.Time `json:"timestamp"`
}

type PingHandlerInterface interface {
	Handle() PingResponse
}

type PingHandler struct{}

func NewPingHandler() *PingHandler {
	return &PingHandler{}
}

func (h *PingHandler) Handle() PingResponse {
	return PingResponse{
		Pong:      true,
		Timestamp: time.Now(),
	}
}
