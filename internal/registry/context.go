package registry

import (
	"context"
)

type contextKey string

const (
	sessionKey contextKey = "session"
)

// WithSession adds the session of the current frame to the context
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// SessionFromContext extracts the session of the current frame from the context
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionKey).(*Session)
	return session, ok
}
