package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for library operations.
var (
	ErrWorkflowExists   = errors.New("workflow: already exists")
	ErrWorkflowNotFound = errors.New("workflow: not found")
	ErrInvalidWorkflow  = errors.New("workflow: invalid definition")
)

// Library manages workflow definitions over a Store.
type Library struct {
	store Store
	now   func() time.Time
}

// NewLibrary creates a library over store.
func NewLibrary(store Store) *Library {
	return &Library{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Add stores a new definition. It fails with ErrWorkflowExists when the name
// is taken.
func (l *Library) Add(ctx context.Context, def Definition) (Definition, error) {
	def.Name = strings.TrimSpace(def.Name)
	if err := def.Validate(); err != nil {
		return Definition{}, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}
	_, found, err := l.store.Get(ctx, def.Name)
	if err != nil {
		return Definition{}, err
	}
	if found {
		return Definition{}, fmt.Errorf("%w: %q", ErrWorkflowExists, def.Name)
	}

	now := l.now()
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := l.store.Put(ctx, def); err != nil {
		return Definition{}, err
	}
	return def.clone(), nil
}

// Get returns the definition stored under name.
func (l *Library) Get(ctx context.Context, name string) (Definition, error) {
	name = strings.TrimSpace(name)
	def, found, err := l.store.Get(ctx, name)
	if err != nil {
		return Definition{}, err
	}
	if !found {
		return Definition{}, fmt.Errorf("%w: %q", ErrWorkflowNotFound, name)
	}
	return def, nil
}

// List returns all definitions sorted by name.
func (l *Library) List(ctx context.Context) ([]Definition, error) {
	defs, err := l.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sortDefinitions(defs)
	return defs, nil
}

// Modify replaces the steps of an existing workflow, or appends to them when
// replace is false.
func (l *Library) Modify(ctx context.Context, name string, steps []Step, replace bool) (Definition, error) {
	def, err := l.Get(ctx, name)
	if err != nil {
		return Definition{}, err
	}
	if len(steps) == 0 {
		return Definition{}, fmt.Errorf("%w: modify %q: no steps given", ErrInvalidWorkflow, def.Name)
	}
	if replace {
		def.Steps = steps
	} else {
		def.Steps = append(def.Steps, steps...)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}
	def.UpdatedAt = l.now()
	if err := l.store.Put(ctx, def); err != nil {
		return Definition{}, err
	}
	return def.clone(), nil
}

// Remove deletes a workflow and returns what was removed.
func (l *Library) Remove(ctx context.Context, name string) (Definition, error) {
	def, err := l.Get(ctx, name)
	if err != nil {
		return Definition{}, err
	}
	if err := l.store.Delete(ctx, def.Name); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Search returns definitions whose name contains query, ignoring case. An
// empty query matches everything.
func (l *Library) Search(ctx context.Context, query string) ([]Definition, error) {
	defs, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return defs, nil
	}
	out := make([]Definition, 0, len(defs))
	for _, def := range defs {
		if strings.Contains(strings.ToLower(def.Name), needle) {
			out = append(out, def)
		}
	}
	return out, nil
}
