package tool

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"
)

// Sentinel errors for registry operations.
var (
	ErrToolExists      = errors.New("tool: already registered")
	ErrToolNotFound    = errors.New("tool: not found")
	ErrToolUnavailable = errors.New("tool: executable unavailable")
)

// Entry is the persisted record mapping a tool id to its executable.
type Entry struct {
	ID   string `json:"id" yaml:"id"`
	Path string `json:"path" yaml:"path"`
	// Interpreter, when set, is prefixed to the command line (e.g. "python3").
	Interpreter string `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	// Secrets maps a parameter name to the environment variable it is passed
	// through instead of the JSON params blob.
	Secrets map[string]string `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	// Managed marks executables placed by the Installer; uninstall deletes them.
	Managed      bool      `json:"managed,omitempty" yaml:"managed,omitempty"`
	Source       string    `json:"source,omitempty" yaml:"source,omitempty"`
	RegisteredAt time.Time `json:"registered_at,omitempty" yaml:"-"`
}

// Command returns the program and leading arguments used to start the tool.
func (e Entry) Command() (string, []string) {
	if interp := strings.TrimSpace(e.Interpreter); interp != "" {
		return interp, []string{e.Path}
	}
	return e.Path, nil
}

func (e Entry) clone() Entry {
	out := e
	if e.Secrets != nil {
		out.Secrets = maps.Clone(e.Secrets)
	}
	return out
}

// Store abstracts persistence of tool entries. Implementations read and write
// whole records; no cross-record transactions are assumed.
type Store interface {
	Get(ctx context.Context, id string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Entry, error)
}

// Registry is the durable tool id -> executable mapping.
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Register persists a new entry. It fails with ErrToolExists when the id is taken.
func (r *Registry) Register(ctx context.Context, entry Entry) error {
	entry.ID = strings.TrimSpace(entry.ID)
	entry.Path = strings.TrimSpace(entry.Path)
	if entry.ID == "" {
		return errors.New("tool: id is required")
	}
	if entry.Path == "" {
		return fmt.Errorf("tool: path is required for %q", entry.ID)
	}

	_, found, err := r.store.Get(ctx, entry.ID)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%w: %q", ErrToolExists, entry.ID)
	}
	if entry.RegisteredAt.IsZero() {
		entry.RegisteredAt = r.now()
	}
	return r.store.Put(ctx, entry.clone())
}

// Unregister removes an entry and returns what was removed.
func (r *Registry) Unregister(ctx context.Context, id string) (Entry, error) {
	entry, err := r.Resolve(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if err := r.store.Delete(ctx, entry.ID); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Resolve returns the entry registered under id.
func (r *Registry) Resolve(ctx context.Context, id string) (Entry, error) {
	entry, found, err := r.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, fmt.Errorf("%w: %q", ErrToolNotFound, id)
	}
	return entry, nil
}

// List returns the id -> executable path mapping.
func (r *Registry) List(ctx context.Context) (map[string]string, error) {
	entries, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		out[entry.ID] = entry.Path
	}
	return out, nil
}

// Entries returns full entries sorted by id.
func (r *Registry) Entries(ctx context.Context) ([]Entry, error) {
	entries, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sortEntries(entries)
	return entries, nil
}

// CheckExecutable verifies that the entry's path exists on disk right now.
func CheckExecutable(entry Entry) error {
	info, err := os.Stat(entry.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s does not exist", ErrToolUnavailable, entry.Path)
		}
		return fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrToolUnavailable, entry.Path)
	}
	return nil
}

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.ID, b.ID)
	})
}

func cloneEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	for i := range in {
		out[i] = in[i].clone()
	}
	return out
}
