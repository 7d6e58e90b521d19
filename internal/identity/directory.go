package identity

import (
	"context"
	"sync"
)

// Directory resolves the stored record of an identity. Implementations
// return ErrNotFound when no record exists for the id and kind.
type Directory interface {
	FindIdentity(ctx context.Context, id string, kind Kind) (Record, error)
}

type directoryKey struct {
	kind Kind
	id   string
}

// MemoryDirectory is a Directory backed by a map, used in tests and local
// development without a business database.
type MemoryDirectory struct {
	mu      sync.RWMutex
	records map[directoryKey]Record
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		records: make(map[directoryKey]Record),
	}
}

func (d *MemoryDirectory) Put(kind Kind, id string, record Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.records[directoryKey{kind, id}] = record
}

func (d *MemoryDirectory) FindIdentity(ctx context.Context, id string, kind Kind) (Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	record, ok := d.records[directoryKey{kind, id}]
	if !ok {
		return Record{}, ErrNotFound
	}

	return record, nil
}
