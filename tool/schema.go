package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// IntrospectAction is the argument every tool answers with its action schema.
const IntrospectAction = "get_supported_actions"

// ErrSchemaUnavailable means a tool could not be introspected.
var ErrSchemaUnavailable = errors.New("tool: schema unavailable")

// ActionSchema maps action name to its ordered parameter names.
type ActionSchema map[string][]string

// Actions returns action names in sorted order.
func (s ActionSchema) Actions() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Params returns the declared parameters of an action.
func (s ActionSchema) Params(action string) ([]string, bool) {
	params, ok := s[action]
	return params, ok
}

// ParseSchema decodes introspection output. The payload must be a non-empty
// JSON object whose values are arrays of strings.
func ParseSchema(raw []byte) (ActionSchema, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty introspection output", ErrSchemaUnavailable)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: introspection output is not a JSON object: %v", ErrSchemaUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: tool declares no actions", ErrSchemaUnavailable)
	}

	schema := make(ActionSchema, len(fields))
	for action, rawParams := range fields {
		var params []string
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return nil, fmt.Errorf("%w: action %q parameters must be a list of names", ErrSchemaUnavailable, action)
		}
		if params == nil {
			params = []string{}
		}
		schema[action] = params
	}
	return schema, nil
}

// Resolver asks a tool process for its action schema at call time.
type Resolver struct {
	runner  Runner
	timeout time.Duration
}

// NewResolver creates a resolver that introspects through runner.
func NewResolver(runner Runner, timeout time.Duration) *Resolver {
	return &Resolver{runner: runner, timeout: timeout}
}

// Resolve runs the tool's introspection entry point. Every failure is wrapped
// in ErrSchemaUnavailable.
func (r *Resolver) Resolve(ctx context.Context, entry Entry) (ActionSchema, error) {
	command, args := entry.Command()
	out, err := r.runner.Run(ctx, Invocation{
		Command: command,
		Args:    append(args, IntrospectAction),
		Timeout: r.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSchemaUnavailable, entry.ID, err)
	}
	schema, err := ParseSchema(out.Stdout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", entry.ID, err)
	}
	return schema, nil
}

// SchemaCache memoizes schemas for the lifetime of one dispatch or one
// workflow run. It is never shared across runs.
type SchemaCache struct {
	resolver *Resolver

	mu      sync.Mutex
	schemas map[string]ActionSchema
}

// NewSchemaCache creates an empty cache over resolver.
func NewSchemaCache(resolver *Resolver) *SchemaCache {
	return &SchemaCache{
		resolver: resolver,
		schemas:  make(map[string]ActionSchema),
	}
}

// Resolve returns the cached schema for entry or introspects it once.
func (c *SchemaCache) Resolve(ctx context.Context, entry Entry) (ActionSchema, error) {
	key := entry.ID + "\x00" + entry.Path
	c.mu.Lock()
	schema, ok := c.schemas[key]
	c.mu.Unlock()
	if ok {
		return schema, nil
	}

	schema, err := c.resolver.Resolve(ctx, entry)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.schemas[key] = schema
	c.mu.Unlock()
	return schema, nil
}
