package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileStoreVersionV1 = "1"

var errEmptyStorePath = errors.New("tool: file store path is empty")

// fileStoreDocument is keyed by tool id so hand-written orchestrate_tools.json
// files ({"tools": {"name": {"path": "..."}}}) load unchanged.
type fileStoreDocument struct {
	Version string           `json:"version,omitempty"`
	Tools   map[string]Entry `json:"tools"`
}

// FileStore persists tool entries in a single local JSON document. Every write
// replaces the whole file through a temp file and rename.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Get returns an entry by id.
func (s *FileStore) Get(ctx context.Context, id string) (Entry, bool, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	for _, entry := range entries {
		if entry.ID == id {
			return entry, true, nil
		}
	}
	return Entry{}, false, nil
}

// Put inserts or replaces an entry.
func (s *FileStore) Put(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil {
		return errors.New("tool: file store is nil")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("tool: entry id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Tools[entry.ID] = entry.clone()
	return s.save(doc)
}

// Delete removes an entry. Deleting a missing id is a no-op.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil {
		return errors.New("tool: file store is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Tools[id]; !ok {
		return nil
	}
	delete(doc.Tools, id)
	return s.save(doc)
}

// List returns all entries in id order.
func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("tool: file store is nil")
	}

	s.mu.Lock()
	doc, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(doc.Tools))
	for _, entry := range doc.Tools {
		out = append(out, entry.clone())
	}
	sortEntries(out)
	return out, nil
}

func (s *FileStore) load() (fileStoreDocument, error) {
	doc := fileStoreDocument{Tools: map[string]Entry{}}
	if strings.TrimSpace(s.path) == "" {
		return doc, errEmptyStorePath
	}

	// #nosec G304 -- path is configured by the operator.
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("tool: read entries: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("tool: decode entries: %w", err)
	}
	if doc.Tools == nil {
		doc.Tools = map[string]Entry{}
	}
	// The map key is authoritative; hand-written documents omit the id field.
	for id, entry := range doc.Tools {
		entry.ID = id
		doc.Tools[id] = entry
	}
	return doc, nil
}

func (s *FileStore) save(doc fileStoreDocument) error {
	doc.Version = fileStoreVersionV1

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("tool: encode entries: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("tool: create store dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("tool: write temp store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("tool: replace store file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
