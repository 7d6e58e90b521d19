package persistence

import (
	"context"
	"fmt"
)

// Engine is a persistent store that owns its collections and indexes.
type Engine interface {
	Setup(ctx context.Context) error
}

// Setup prepares every engine in order and stops at the first failure.
func Setup(ctx context.Context, engines ...Engine) error {
	for _, engine := range engines {
		err := engine.Setup(ctx)
		if err != nil {
			return fmt.Errorf("persistence setup: %w", err)
		}
	}

	return nil
}
