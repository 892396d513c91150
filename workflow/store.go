package workflow

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Store persists workflow definitions keyed by name.
type Store interface {
	Get(ctx context.Context, name string) (Definition, bool, error)
	Put(ctx context.Context, def Definition) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Definition, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{defs: make(map[string]Definition)}
}

func (s *MemoryStore) Get(ctx context.Context, name string) (Definition, bool, error) {
	if err := ctx.Err(); err != nil {
		return Definition{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[name]
	if !ok {
		return Definition{}, false, nil
	}
	return def.clone(), true, nil
}

func (s *MemoryStore) Put(ctx context.Context, def Definition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.Name] = def.clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.defs, name)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Definition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def.clone())
	}
	sortDefinitions(out)
	return out, nil
}

func sortDefinitions(defs []Definition) {
	slices.SortFunc(defs, func(a, b Definition) int {
		return strings.Compare(a.Name, b.Name)
	})
}

var _ Store = (*MemoryStore)(nil)
