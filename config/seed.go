package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/petal-labs/orchestrate/tool"
	"github.com/petal-labs/orchestrate/workflow"
)

// SeedTools registers declared tools in sorted id order. Ids that are already
// registered are left untouched. It returns the ids it registered.
func SeedTools(ctx context.Context, registry *tool.Registry, decls map[string]ToolDeclaration, logger *slog.Logger) ([]string, error) {
	if registry == nil {
		return nil, errors.New("config: registry is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ids := sortedKeys(decls)
	added := make([]string, 0, len(ids))
	for _, id := range ids {
		decl := decls[id]
		secrets := make(map[string]string, len(decl.Secrets))
		for param, envName := range decl.Secrets {
			secrets[param] = strings.TrimSpace(os.ExpandEnv(envName))
		}
		entry := tool.Entry{
			ID:          id,
			Path:        decl.Path,
			Interpreter: strings.TrimSpace(decl.Interpreter),
			Secrets:     secrets,
		}
		if err := registry.Register(ctx, entry); err != nil {
			if errors.Is(err, tool.ErrToolExists) {
				logger.Debug("declared tool already registered", "tool", id)
				continue
			}
			return added, fmt.Errorf("config: register tool %q: %w", id, err)
		}
		logger.Info("registered declared tool", "tool", id, "path", decl.Path)
		added = append(added, id)
	}
	return added, nil
}

// SeedWorkflows adds declared workflows in sorted name order, skipping names
// that already exist. It returns the names it added.
func SeedWorkflows(ctx context.Context, library *workflow.Library, decls map[string]WorkflowDeclaration, logger *slog.Logger) ([]string, error) {
	if library == nil {
		return nil, errors.New("config: workflow library is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	names := sortedKeys(decls)
	added := make([]string, 0, len(names))
	for _, name := range names {
		decl := decls[name]
		def := workflow.Definition{Name: name, Description: decl.Description, Steps: decl.Steps}
		if _, err := library.Add(ctx, def); err != nil {
			if errors.Is(err, workflow.ErrWorkflowExists) {
				logger.Debug("declared workflow already exists", "workflow", name)
				continue
			}
			return added, fmt.Errorf("config: add workflow %q: %w", name, err)
		}
		logger.Info("added declared workflow", "workflow", name, "steps", len(decl.Steps))
		added = append(added, name)
	}
	return added, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
