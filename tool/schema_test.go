package tool

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type spyRunner struct {
	mu     sync.Mutex
	calls  []Invocation
	stdout string
	err    error
}

func (s *spyRunner) Run(_ context.Context, inv Invocation) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, inv)
	return Output{Stdout: []byte(s.stdout)}, s.err
}

func (s *spyRunner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestParseSchema(t *testing.T) {
	schema, err := ParseSchema([]byte(`{"send_email":["to","subject","body"],"list_labels":null}`))
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}
	if got := schema.Actions(); len(got) != 2 || got[0] != "list_labels" || got[1] != "send_email" {
		t.Fatalf("Actions() = %v", got)
	}
	params, ok := schema.Params("send_email")
	if !ok || len(params) != 3 || params[0] != "to" {
		t.Fatalf("Params(send_email) = %v, %v", params, ok)
	}
	params, ok = schema.Params("list_labels")
	if !ok || params == nil || len(params) != 0 {
		t.Fatalf("Params(list_labels) = %#v, %v", params, ok)
	}
	if _, ok := schema.Params("missing"); ok {
		t.Fatal("Params(missing) ok = true, want false")
	}
}

func TestParseSchemaRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":      "  \n",
		"not json":   "usage: tool.py ACTION",
		"array":      `["echo"]`,
		"no actions": `{}`,
		"bad params": `{"echo":"text"}`,
		"mixed list": `{"echo":["text",1]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSchema([]byte(raw))
			if !errors.Is(err, ErrSchemaUnavailable) {
				t.Fatalf("ParseSchema() error = %v, want ErrSchemaUnavailable", err)
			}
		})
	}
}

func TestResolverInvokesIntrospection(t *testing.T) {
	spy := &spyRunner{stdout: `{"echo":["text"]}`}
	resolver := NewResolver(spy, 0)

	schema, err := resolver.Resolve(context.Background(), Entry{ID: "echo_tool", Path: "/t/echo.py", Interpreter: "python3"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, ok := schema.Params("echo"); !ok {
		t.Fatalf("schema = %v, want echo action", schema)
	}

	inv := spy.calls[0]
	if inv.Command != "python3" {
		t.Fatalf("Command = %q, want python3", inv.Command)
	}
	if len(inv.Args) != 2 || inv.Args[0] != "/t/echo.py" || inv.Args[1] != IntrospectAction {
		t.Fatalf("Args = %v", inv.Args)
	}
}

func TestResolverWrapsRunnerFailure(t *testing.T) {
	spy := &spyRunner{err: &ExecError{Kind: ExecExit, ExitCode: 1}}
	_, err := NewResolver(spy, 0).Resolve(context.Background(), Entry{ID: "broken", Path: "/t/broken"})
	if !errors.Is(err, ErrSchemaUnavailable) {
		t.Fatalf("Resolve() error = %v, want ErrSchemaUnavailable", err)
	}
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("Resolve() error should wrap *ExecError, got %v", err)
	}
}

func TestSchemaCacheIntrospectsOnce(t *testing.T) {
	spy := &spyRunner{stdout: `{"echo":["text"]}`}
	cache := NewSchemaCache(NewResolver(spy, 0))
	entry := Entry{ID: "echo_tool", Path: "/t/echo"}

	for i := 0; i < 3; i++ {
		if _, err := cache.Resolve(context.Background(), entry); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	if got := spy.count(); got != 1 {
		t.Fatalf("introspection calls = %d, want 1", got)
	}

	if _, err := NewSchemaCache(NewResolver(spy, 0)).Resolve(context.Background(), entry); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := spy.count(); got != 2 {
		t.Fatalf("fresh cache calls = %d, want 2", got)
	}
}

func TestSchemaCacheDoesNotCacheFailures(t *testing.T) {
	spy := &spyRunner{stdout: "not json"}
	cache := NewSchemaCache(NewResolver(spy, 0))
	entry := Entry{ID: "flaky", Path: "/t/flaky"}

	if _, err := cache.Resolve(context.Background(), entry); err == nil {
		t.Fatal("Resolve() error = nil, want non-nil")
	}
	spy.stdout = `{"ping":[]}`
	if _, err := cache.Resolve(context.Background(), entry); err != nil {
		t.Fatalf("Resolve() retry error = %v", err)
	}
	if got := spy.count(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}
