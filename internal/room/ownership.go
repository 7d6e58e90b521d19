package room

import (
	"context"
	"sync"
)

type entityKey struct {
	kind Kind
	id   string
}

// MemoryOwnership is an OwnershipLookup backed by a map.
type MemoryOwnership struct {
	mu     sync.RWMutex
	owners map[entityKey]string
}

func NewMemoryOwnership() *MemoryOwnership {
	return &MemoryOwnership{
		owners: make(map[entityKey]string),
	}
}

func (o *MemoryOwnership) Put(kind Kind, entityId string, tenantId string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.owners[entityKey{kind, entityId}] = tenantId
}

func (o *MemoryOwnership) OwnerTenantOf(ctx context.Context, kind Kind, entityId string) (string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	tenantId, ok := o.owners[entityKey{kind, entityId}]
	if !ok {
		return "", ErrEntityNotFound
	}

	return tenantId, nil
}
