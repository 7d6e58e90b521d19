package handler

import (
	"context"
	"errors"

	"github.com/goevery/broker/internal/registry"
)

var errNoSession = errors.New("session not found in context")

func sessionFromContext(ctx context.Context) (*registry.Session, error) {
	session, ok := registry.SessionFromContext(ctx)
	if !ok {
		return nil, errNoSession
	}

	return session, nil
}
