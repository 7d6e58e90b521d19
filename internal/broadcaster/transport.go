package broadcaster

import (
	"context"
	"errors"
)

// ErrGone reports that the remote end of a connection handle no longer exists.
var ErrGone = errors.New("connection gone")

// Transport physically delivers a payload to the socket behind a handle.
// Push returns ErrGone, possibly wrapped, when the handle is gone; any other
// error is a failed attempt on a connection that may still be alive.
type Transport interface {
	Push(ctx context.Context, handle string, payload []byte) error
}
