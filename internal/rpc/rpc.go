// Package rpc holds the frames exchanged over a broker connection: inbound
// requests naming an action and the responses correlated to them.
package rpc

import (
	"encoding/json"

	"github.com/goevery/broker/internal/ierr"
)

type Request struct {
	Id     string          `json:"id,omitempty"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ReplyExpected reports whether the client asked for a correlated reply.
// Errors are always replied to.
func (r Request) ReplyExpected() bool {
	return r.Id != ""
}

func (r Request) Reply(result json.RawMessage) Response {
	return Response{
		RequestId: r.Id,
		Action:    r.Action,
		Result:    result,
	}
}

func (r Request) ReplyWithError(err ierr.Error) Response {
	return Response{
		RequestId: r.Id,
		Action:    r.Action,
		Error:     &err,
	}
}

type Response struct {
	RequestId string          `json:"requestId,omitempty"`
	Action    string          `json:"action,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ierr.Error     `json:"error,omitempty"`
}

func (r Response) IsFailure() bool {
	return r.Error != nil
}
