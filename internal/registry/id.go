package registry

import "github.com/google/uuid"

// NewConnectionHandle generates a unique connection handle.
func NewConnectionHandle() string {
	return uuid.NewString()
}
