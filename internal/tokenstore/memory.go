package tokenstore

import (
	"context"
	"sync"
)

// MemoryStore keeps the pair in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	pair Pair
}

// Compile-time check to ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Access(ctx context.Context) (string, error) {
	return m.get(ctx, func(p Pair) string { return p.Access })
}

func (m *MemoryStore) Refresh(ctx context.Context) (string, error) {
	return m.get(ctx, func(p Pair) string { return p.Refresh })
}

func (m *MemoryStore) get(ctx context.Context, field func(Pair) string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if v := field(m.pair); v != "" {
		return v, nil
	}
	return "", ErrNotFound
}

func (m *MemoryStore) SetPair(ctx context.Context, pair Pair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !pair.complete() {
		return ErrIncompletePair
	}

	m.mu.Lock()
	m.pair = pair
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.pair = Pair{}
	m.mu.Unlock()
	return nil
}
