package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/petal-labs/orchestrate/tool"
)

// ParamsFlag precedes the JSON parameter blob on a tool command line.
const ParamsFlag = "--params"

// Config configures a Dispatcher.
type Config struct {
	Registry *tool.Registry
	// Runner defaults to an exec-backed runner.
	Runner tool.Runner
	// Timeout bounds every tool process, introspection included.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatcher validates and executes tool calls.
type Dispatcher struct {
	registry *tool.Registry
	runner   tool.Runner
	resolver *tool.Resolver
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("dispatch: registry is nil")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = tool.DefaultTimeout
	}
	runner := cfg.Runner
	if runner == nil {
		runner = tool.NewExecRunner(timeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		runner:   runner,
		resolver: tool.NewResolver(runner, timeout),
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Registry returns the registry calls are resolved against.
func (d *Dispatcher) Registry() *tool.Registry {
	return d.registry
}

// Dispatch runs one call in a fresh session.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	return d.NewSession().Dispatch(ctx, req)
}

// Actions introspects a tool and returns its action schema.
func (d *Dispatcher) Actions(ctx context.Context, toolID string) (tool.ActionSchema, error) {
	session := d.NewSession()
	entry, derr := session.resolveEntry(ctx, toolID)
	if derr != nil {
		return nil, derr
	}
	schema, derr := session.resolveSchema(ctx, entry)
	if derr != nil {
		return nil, derr
	}
	return schema, nil
}

// Session shares one schema cache across several calls, typically the steps
// of a single workflow run. A Session must not outlive that run.
type Session struct {
	d       *Dispatcher
	schemas *tool.SchemaCache

	mu      sync.Mutex
	entries map[string]tool.Entry
}

// NewSession creates a session with an empty schema cache.
func (d *Dispatcher) NewSession() *Session {
	return &Session{
		d:       d,
		schemas: tool.NewSchemaCache(d.resolver),
		entries: make(map[string]tool.Entry),
	}
}

// RedactParams masks the secret parameters of a tool this session has
// resolved. Params for unknown tools are copied unchanged.
func (s *Session) RedactParams(toolID string, params map[string]any) map[string]any {
	s.mu.Lock()
	entry, ok := s.entries[strings.TrimSpace(toolID)]
	s.mu.Unlock()
	if !ok {
		return maps.Clone(params)
	}
	return entry.RedactParams(params)
}

// Dispatch validates req against the tool's schema and executes it.
func (s *Session) Dispatch(ctx context.Context, req Request) Result {
	start := time.Now()
	payload, derr := s.dispatch(ctx, req)
	elapsed := time.Since(start).Milliseconds()

	observation := Observation{
		ToolID:     req.ToolID,
		Action:     req.Action,
		Success:    derr == nil,
		DurationMS: elapsed,
	}
	if derr != nil {
		observation.ErrorCode = derr.Code
		observation.Variant = derr.Variant
		s.d.logger.Warn("dispatch failed",
			"tool", req.ToolID,
			"action", req.Action,
			"code", string(derr.Code),
			"variant", string(derr.Variant),
			"error", derr.Message,
		)
	}
	emitObservation(observation)

	if derr != nil {
		return errorResult(derr, elapsed)
	}
	return successResult(payload, elapsed)
}

func (s *Session) dispatch(ctx context.Context, req Request) (any, *Error) {
	entry, derr := s.resolveEntry(ctx, req.ToolID)
	if derr != nil {
		return nil, derr
	}
	schema, derr := s.resolveSchema(ctx, entry)
	if derr != nil {
		return nil, derr
	}
	if derr := Validate(schema, req.Action, req.Params); derr != nil {
		return nil, derr
	}

	inv, err := s.d.buildInvocation(entry, req.Action, req.Params)
	if err != nil {
		return nil, newError(CodeToolExecutionFailed, "", err).withVariant(VariantStart)
	}

	s.d.logger.Debug("spawning tool", "tool", entry.ID, "action", req.Action, "command", inv.Command)
	out, err := s.d.runner.Run(ctx, inv)
	secrets := slices.Collect(maps.Values(inv.Env))
	if err != nil {
		return nil, executionError(entry.ID, err, secrets)
	}
	return decodePayload(entry.ID, out.Stdout, secrets)
}

func (s *Session) resolveEntry(ctx context.Context, toolID string) (tool.Entry, *Error) {
	id := strings.TrimSpace(toolID)
	if id == "" {
		return tool.Entry{}, newError(CodeToolNotFound, "tool id is required", nil)
	}
	entry, err := s.d.registry.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, tool.ErrToolNotFound) {
			return tool.Entry{}, newError(CodeToolNotFound, fmt.Sprintf("tool %q is not registered", id), err)
		}
		return tool.Entry{}, newError(CodeToolUnavailable, fmt.Sprintf("registry lookup for %q failed: %v", id, err), err)
	}
	if err := tool.CheckExecutable(entry); err != nil {
		return tool.Entry{}, newError(CodeToolUnavailable, fmt.Sprintf("tool %q: %v", id, err), err).
			withDetail("path", entry.Path)
	}
	s.mu.Lock()
	s.entries[entry.ID] = entry
	s.mu.Unlock()
	return entry, nil
}

func (s *Session) resolveSchema(ctx context.Context, entry tool.Entry) (tool.ActionSchema, *Error) {
	schema, err := s.schemas.Resolve(ctx, entry)
	if err != nil {
		derr := newError(CodeSchemaUnavailable, fmt.Sprintf("cannot introspect tool %q: %v", entry.ID, err), err)
		var execErr *tool.ExecError
		if errors.As(err, &execErr) && execErr.Stderr != "" {
			derr.withDetail("stderr", execErr.Stderr)
		}
		return nil, derr
	}
	return schema, nil
}

// Validate checks an action and its parameter names against a schema.
// It never spawns a process.
func Validate(schema tool.ActionSchema, action string, params map[string]any) *Error {
	declared, ok := schema.Params(action)
	if !ok {
		supported := schema.Actions()
		derr := newError(CodeUnknownAction,
			fmt.Sprintf("action %q is not supported; supported actions: %s", action, strings.Join(supported, ", ")), nil)
		derr.Keys = supported
		return derr
	}

	var unexpected []string
	for key := range params {
		if !slices.Contains(declared, key) {
			unexpected = append(unexpected, key)
		}
	}
	if len(unexpected) > 0 {
		slices.Sort(unexpected)
		derr := newError(CodeUnexpectedParameter,
			fmt.Sprintf("action %q does not accept: %s", action, strings.Join(unexpected, ", ")), nil)
		derr.Keys = unexpected
		return derr.withDetail("declared", slices.Clone(declared))
	}

	if len(declared) > 0 && len(params) == 0 {
		derr := newError(CodeMissingParameters,
			fmt.Sprintf("action %q requires parameters: %s", action, strings.Join(declared, ", ")), nil)
		derr.Keys = slices.Clone(declared)
		return derr
	}
	return nil
}

func (d *Dispatcher) buildInvocation(entry tool.Entry, action string, params map[string]any) (tool.Invocation, error) {
	blob := make(map[string]any, len(params))
	var env map[string]string
	for key, value := range params {
		if envName, ok := entry.Secrets[key]; ok && strings.TrimSpace(envName) != "" {
			if env == nil {
				env = make(map[string]string, len(entry.Secrets))
			}
			text, err := envValue(value)
			if err != nil {
				return tool.Invocation{}, fmt.Errorf("encode secret %q: %w", key, err)
			}
			env[envName] = text
			continue
		}
		blob[key] = value
	}

	encoded, err := json.Marshal(blob)
	if err != nil {
		return tool.Invocation{}, fmt.Errorf("encode params: %w", err)
	}

	command, args := entry.Command()
	args = append(args, action, ParamsFlag, string(encoded))
	return tool.Invocation{
		Command: command,
		Args:    args,
		Env:     env,
		Timeout: d.timeout,
	}, nil
}

func envValue(value any) (string, error) {
	if text, ok := value.(string); ok {
		return text, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// executionError classifies a runner failure. Secret values passed to the
// process are masked in any captured stderr.
func executionError(toolID string, err error, secrets []string) *Error {
	var execErr *tool.ExecError
	if !errors.As(err, &execErr) {
		return newError(CodeToolExecutionFailed, fmt.Sprintf("tool %q failed: %v", toolID, err), err).
			withVariant(VariantStart)
	}

	stderr := tool.RedactText(execErr.Stderr, secrets)
	var derr *Error
	switch execErr.Kind {
	case tool.ExecTimeout:
		derr = newError(CodeToolExecutionFailed, fmt.Sprintf("tool %q timed out", toolID), err).withVariant(VariantTimeout)
	case tool.ExecCanceled:
		derr = newError(CodeToolExecutionFailed, fmt.Sprintf("tool %q was canceled", toolID), err).withVariant(VariantCanceled)
	case tool.ExecExit:
		msg := fmt.Sprintf("tool %q exited with code %d", toolID, execErr.ExitCode)
		if stderr != "" {
			msg += ": " + stderr
		}
		derr = newError(CodeToolExecutionFailed, msg, err).withVariant(VariantExit)
		derr.withDetail("exit_code", execErr.ExitCode)
	default:
		derr = newError(CodeToolExecutionFailed, fmt.Sprintf("tool %q could not start: %v", toolID, execErr.Cause), err).
			withVariant(VariantStart)
	}
	if stderr != "" {
		derr.withDetail("stderr", stderr)
	}
	return derr
}

func decodePayload(toolID string, stdout []byte, secrets []string) (any, *Error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, decodeError(toolID, trimmed, secrets, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, decodeError(toolID, trimmed, secrets, errors.New("trailing data after JSON value"))
	}

	if obj, ok := payload.(map[string]any); ok {
		if status, _ := obj["status"].(string); status == "error" {
			msg := tool.RedactText(reportedMessage(obj), secrets)
			derr := newError(CodeToolExecutionFailed, fmt.Sprintf("tool %q reported an error: %s", toolID, msg), nil).
				withVariant(VariantReported)
			return nil, derr.withDetail("output", tool.RedactValue(obj, secrets))
		}
	}
	return payload, nil
}

func decodeError(toolID string, stdout []byte, secrets []string, cause error) *Error {
	derr := newError(CodeToolExecutionFailed, fmt.Sprintf("tool %q produced non-JSON output: %v", toolID, cause), cause).
		withVariant(VariantDecode)
	const maxSnippet = 512
	snippet := tool.RedactText(string(stdout), secrets)
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	return derr.withDetail("stdout", snippet)
}

func reportedMessage(obj map[string]any) string {
	for _, key := range []string{"message", "error"} {
		switch v := obj[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case nil:
		default:
			raw, err := json.Marshal(v)
			if err == nil {
				return string(raw)
			}
		}
	}
	return "unspecified error"
}

func (e *Error) withVariant(variant Variant) *Error {
	e.Variant = variant
	return e
}
