package workflow

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

// fileStoreDocument matches orchestrate_workflows.json:
// {"workflows": {"name": {"steps": [...]}}}.
type fileStoreDocument struct {
	Version   string                `json:"version,omitempty"`
	Workflows map[string]Definition `json:"workflows"`
}

// FileStore keeps every definition in one JSON document, rewritten in full on
// each change.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(ctx context.Context, name string) (Definition, bool, error) {
	if err := ctx.Err(); err != nil {
		return Definition{}, false, err
	}
	s.mu.Lock()
	doc, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return Definition{}, false, err
	}
	def, ok := doc.Workflows[name]
	return def, ok, nil
}

func (s *FileStore) Put(ctx context.Context, def Definition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(def.Name) == "" {
		return errors.New("workflow: name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Workflows[def.Name] = def.clone()
	return s.save(doc)
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Workflows[name]; !ok {
		return nil
	}
	delete(doc.Workflows, name)
	return s.save(doc)
}

func (s *FileStore) List(ctx context.Context) ([]Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	doc, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]Definition, 0, len(doc.Workflows))
	for _, def := range doc.Workflows {
		out = append(out, def)
	}
	sortDefinitions(out)
	return out, nil
}

func (s *FileStore) load() (fileStoreDocument, error) {
	doc := fileStoreDocument{Workflows: map[string]Definition{}}
	if strings.TrimSpace(s.path) == "" {
		return doc, errors.New("workflow: file store path is empty")
	}

	// #nosec G304 -- path is configured by the operator.
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("workflow: read definitions: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("workflow: decode definitions: %w", err)
	}
	if doc.Workflows == nil {
		doc.Workflows = map[string]Definition{}
	}
	for name, def := range doc.Workflows {
		def.Name = name
		doc.Workflows[name] = def
	}
	return doc, nil
}

func (s *FileStore) save(doc fileStoreDocument) error {
	doc.Version = fileStoreVersionV1
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("workflow: encode definitions: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("workflow: create store dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("workflow: write temp store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("workflow: replace store file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
