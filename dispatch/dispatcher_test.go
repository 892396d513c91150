package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/orchestrate/tool"
)

type fakeRunner struct {
	mu        sync.Mutex
	schema    string
	schemaErr error
	respond   func(inv tool.Invocation) (tool.Output, error)
	calls     []tool.Invocation
}

func (f *fakeRunner) Run(_ context.Context, inv tool.Invocation) (tool.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()

	if len(inv.Args) > 0 && inv.Args[len(inv.Args)-1] == tool.IntrospectAction {
		return tool.Output{Stdout: []byte(f.schema)}, f.schemaErr
	}
	if f.respond == nil {
		return tool.Output{Stdout: []byte(`{"status":"success"}`)}, nil
	}
	return f.respond(inv)
}

func (f *fakeRunner) introspections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, inv := range f.calls {
		if inv.Args[len(inv.Args)-1] == tool.IntrospectAction {
			n++
		}
	}
	return n
}

func (f *fakeRunner) actionCalls() []tool.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tool.Invocation
	for _, inv := range f.calls {
		if inv.Args[len(inv.Args)-1] != tool.IntrospectAction {
			out = append(out, inv)
		}
	}
	return out
}

func touchTool(t *testing.T, name string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(file, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return file
}

func newTestDispatcher(t *testing.T, runner tool.Runner, entries ...tool.Entry) (*Dispatcher, *tool.Registry) {
	t.Helper()
	reg := tool.NewRegistry(tool.NewMemoryStore())
	for _, entry := range entries {
		if err := reg.Register(context.Background(), entry); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	d, err := New(Config{Registry: reg, Runner: runner, Timeout: time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d, reg
}

func TestDispatchSuccess(t *testing.T) {
	path := touchTool(t, "mailjet_tool.py")
	runner := &fakeRunner{
		schema: `{"send_email":["to","subject","body"]}`,
		respond: func(inv tool.Invocation) (tool.Output, error) {
			return tool.Output{Stdout: []byte(`{"status":"success","message_id":42}`)}, nil
		},
	}
	d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "mailjet_tool", Path: path, Interpreter: "python3"})

	res := d.Dispatch(context.Background(), Request{
		ToolID: "mailjet_tool",
		Action: "send_email",
		Params: map[string]any{"to": "a@b.c", "subject": "hi"},
	})
	if !res.OK() {
		t.Fatalf("Dispatch() = %+v, want success", res)
	}
	payload, ok := res.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T, want map", res.Payload)
	}
	if payload["message_id"] != json.Number("42") {
		t.Fatalf("message_id = %#v, want json.Number(42)", payload["message_id"])
	}

	calls := runner.actionCalls()
	if len(calls) != 1 {
		t.Fatalf("action calls = %d, want 1", len(calls))
	}
	inv := calls[0]
	if inv.Command != "python3" {
		t.Fatalf("Command = %q, want python3", inv.Command)
	}
	if len(inv.Args) != 4 || inv.Args[0] != path || inv.Args[1] != "send_email" || inv.Args[2] != ParamsFlag {
		t.Fatalf("Args = %v", inv.Args)
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(inv.Args[3]), &sent); err != nil {
		t.Fatalf("params blob not JSON: %v", err)
	}
	if sent["to"] != "a@b.c" || sent["subject"] != "hi" {
		t.Fatalf("params blob = %v", sent)
	}
	if inv.Timeout != time.Second {
		t.Fatalf("Timeout = %s, want 1s", inv.Timeout)
	}
}

func TestDispatchUnexpectedParameterNeverSpawns(t *testing.T) {
	runner := &fakeRunner{schema: `{"echo":["text"]}`}
	d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "echo_tool", Path: touchTool(t, "echo")})

	res := d.Dispatch(context.Background(), Request{
		ToolID: "echo_tool",
		Action: "echo",
		Params: map[string]any{"text": "hi", "zeta": 1, "alpha": true},
	})
	if res.OK() {
		t.Fatal("Dispatch() succeeded, want UnexpectedParameter")
	}
	if res.Error.Code != CodeUnexpectedParameter {
		t.Fatalf("Code = %q, want %q", res.Error.Code, CodeUnexpectedParameter)
	}
	if !slices.Equal(res.Error.Keys, []string{"alpha", "zeta"}) {
		t.Fatalf("Keys = %v, want [alpha zeta]", res.Error.Keys)
	}
	if got := len(runner.actionCalls()); got != 0 {
		t.Fatalf("action processes spawned = %d, want 0", got)
	}
}

func TestDispatchSubsetNeverUnexpected(t *testing.T) {
	runner := &fakeRunner{schema: `{"create_record":["base","table","fields"]}`}
	d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "airtable_tool", Path: touchTool(t, "airtable")})

	subsets := []map[string]any{
		{"base": "b"},
		{"base": "b", "table": "t"},
		{"fields": map[string]any{"x": 1}, "table": "t", "base": "b"},
	}
	for _, params := range subsets {
		res := d.Dispatch(context.Background(), Request{ToolID: "airtable_tool", Action: "create_record", Params: params})
		if !res.OK() {
			t.Fatalf("Dispatch(%v) = %+v, want success", params, res.Error)
		}
	}
}

func TestDispatchMissingParameters(t *testing.T) {
	runner := &fakeRunner{schema: `{"echo":["text"],"ping":[]}`}
	d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "echo_tool", Path: touchTool(t, "echo")})

	res := d.Dispatch(context.Background(), Request{ToolID: "echo_tool", Action: "echo"})
	if res.Error == nil || res.Error.Code != CodeMissingParameters {
		t.Fatalf("Dispatch() = %+v, want MissingParameters", res)
	}
	if !slices.Equal(res.Error.Keys, []string{"text"}) {
		t.Fatalf("Keys = %v, want [text]", res.Error.Keys)
	}

	res = d.Dispatch(context.Background(), Request{ToolID: "echo_tool", Action: "ping"})
	if !res.OK() {
		t.Fatalf("Dispatch(ping) = %+v, want success", res.Error)
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	runner := &fakeRunner{schema: `{"echo":["text"],"ping":[]}`}
	d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "echo_tool", Path: touchTool(t, "echo")})

	res := d.Dispatch(context.Background(), Request{ToolID: "echo_tool", Action: "shout"})
	if res.Error == nil || res.Error.Code != CodeUnknownAction {
		t.Fatalf("Dispatch() = %+v, want UnknownAction", res)
	}
	if !slices.Equal(res.Error.Keys, []string{"echo", "ping"}) {
		t.Fatalf("Keys = %v, want supported actions", res.Error.Keys)
	}
	if len(runner.actionCalls()) != 0 {
		t.Fatal("unknown action should not spawn a process")
	}
}

func TestDispatchToolNotFoundLeavesRegistryUnchanged(t *testing.T) {
	runner := &fakeRunner{schema: `{"echo":["text"]}`}
	d, reg := newTestDispatcher(t, runner, tool.Entry{ID: "echo_tool", Path: touchTool(t, "echo")})

	res := d.Dispatch(context.Background(), Request{ToolID: "ghost_tool", Action: "echo", Params: map[string]any{"text": "x"}})
	if res.Status != StatusError {
		t.Fatalf("Status = %q, want error", res.Status)
	}
	if res.Error.Code != CodeToolNotFound {
		t.Fatalf("Code = %q, want ToolNotFound", res.Error.Code)
	}
	if !strings.HasPrefix(res.ErrorMessage, "ToolNotFound") {
		t.Fatalf("ErrorMessage = %q, want ToolNotFound prefix", res.ErrorMessage)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("runner calls = %d, want 0", len(runner.calls))
	}

	listing, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listing) != 1 || listing["echo_tool"] == "" {
		t.Fatalf("registry changed: %v", listing)
	}
}

func TestDispatchToolUnavailable(t *testing.T) {
	runner := &fakeRunner{schema: `{"echo":["text"]}`}
	missing := filepath.Join(t.TempDir(), "gone.py")
	d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "gone_tool", Path: missing})

	res := d.Dispatch(context.Background(), Request{ToolID: "gone_tool", Action: "echo", Params: map[string]any{"text": "x"}})
	if res.Error == nil || res.Error.Code != CodeToolUnavailable {
		t.Fatalf("Dispatch() = %+v, want ToolUnavailable", res)
	}
	if !errors.Is(res.Err(), tool.ErrToolUnavailable) {
		t.Fatalf("error chain should include ErrToolUnavailable: %v", res.Err())
	}
}

func TestDispatchSchemaUnavailable(t *testing.T) {
	cases := map[string]*fakeRunner{
		"malformed": {schema: "Usage: tool.py ACTION"},
		"exit":      {schemaErr: &tool.ExecError{Kind: tool.ExecExit, ExitCode: 1, Stderr: "Traceback"}},
	}
	for name, runner := range cases {
		t.Run(name, func(t *testing.T) {
			d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "broken_tool", Path: touchTool(t, "broken")})
			res := d.Dispatch(context.Background(), Request{ToolID: "broken_tool", Action: "echo"})
			if res.Error == nil || res.Error.Code != CodeSchemaUnavailable {
				t.Fatalf("Dispatch() = %+v, want SchemaUnavailable", res)
			}
			if !errors.Is(res.Err(), tool.ErrSchemaUnavailable) {
				t.Fatalf("error chain should include ErrSchemaUnavailable: %v", res.Err())
			}
		})
	}
}

func TestDispatchExecutionFailureVariants(t *testing.T) {
	cases := []struct {
		name    string
		stdout  string
		err     error
		variant Variant
	}{
		{name: "timeout", err: &tool.ExecError{Kind: tool.ExecTimeout, Cause: context.DeadlineExceeded}, variant: VariantTimeout},
		{name: "canceled", err: &tool.ExecError{Kind: tool.ExecCanceled, Cause: context.Canceled}, variant: VariantCanceled},
		{name: "exit", err: &tool.ExecError{Kind: tool.ExecExit, ExitCode: 2, Stderr: "KeyError: 'to'"}, variant: VariantExit},
		{name: "start", err: &tool.ExecError{Kind: tool.ExecStart, Cause: exec.ErrNotFound}, variant: VariantStart},
		{name: "decode", stdout: "Email sent!", variant: VariantDecode},
		{name: "trailing", stdout: `{"a":1} {"b":2}`, variant: VariantDecode},
		{name: "reported", stdout: `{"status":"error","message":"Invalid JSON format in --params."}`, variant: VariantReported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{
				schema: `{"echo":["text"]}`,
				respond: func(tool.Invocation) (tool.Output, error) {
					return tool.Output{Stdout: []byte(tc.stdout)}, tc.err
				},
			}
			d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "echo_tool", Path: touchTool(t, "echo")})
			res := d.Dispatch(context.Background(), Request{ToolID: "echo_tool", Action: "echo", Params: map[string]any{"text": "x"}})
			if res.Error == nil || res.Error.Code != CodeToolExecutionFailed {
				t.Fatalf("Dispatch() = %+v, want ToolExecutionFailed", res)
			}
			if res.Error.Variant != tc.variant {
				t.Fatalf("Variant = %q, want %q", res.Error.Variant, tc.variant)
			}
		})
	}
}

func TestDispatchExitCarriesStderr(t *testing.T) {
	runner := &fakeRunner{
		schema: `{"echo":["text"]}`,
		respond: func(tool.Invocation) (tool.Output, error) {
			return tool.Output{ExitCode: 2}, &tool.ExecError{Kind: tool.ExecExit, ExitCode: 2, Stderr: "boom"}
		},
	}
	d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "echo_tool", Path: touchTool(t, "echo")})
	res := d.Dispatch(context.Background(), Request{ToolID: "echo_tool", Action: "echo", Params: map[string]any{"text": "x"}})
	if res.Error == nil {
		t.Fatal("Dispatch() succeeded, want failure")
	}
	if res.Error.Details["stderr"] != "boom" || res.Error.Details["exit_code"] != 2 {
		t.Fatalf("Details = %v", res.Error.Details)
	}
}

func TestDispatchEmptyStdoutIsNullPayload(t *testing.T) {
	runner := &fakeRunner{
		schema: `{"delete_file":["path"]}`,
		respond: func(tool.Invocation) (tool.Output, error) {
			return tool.Output{Stdout: []byte("\n")}, nil
		},
	}
	d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "file_tool", Path: touchTool(t, "file")})
	res := d.Dispatch(context.Background(), Request{ToolID: "file_tool", Action: "delete_file", Params: map[string]any{"path": "/tmp/x"}})
	if !res.OK() {
		t.Fatalf("Dispatch() = %+v, want success", res.Error)
	}
	if res.Payload != nil {
		t.Fatalf("Payload = %#v, want nil", res.Payload)
	}
}

func TestDispatchSecretsTravelAsEnv(t *testing.T) {
	runner := &fakeRunner{schema: `{"generate_image":["prompt","api_key"]}`}
	d, _ := newTestDispatcher(t, runner, tool.Entry{
		ID:      "ideogram_tool",
		Path:    touchTool(t, "ideogram"),
		Secrets: map[string]string{"api_key": "IDEOGRAM_API_KEY"},
	})

	res := d.Dispatch(context.Background(), Request{
		ToolID: "ideogram_tool",
		Action: "generate_image",
		Params: map[string]any{"prompt": "a cat", "api_key": "sk-123"},
	})
	if !res.OK() {
		t.Fatalf("Dispatch() = %+v, want success", res.Error)
	}

	inv := runner.actionCalls()[0]
	if inv.Env["IDEOGRAM_API_KEY"] != "sk-123" {
		t.Fatalf("Env = %v, want IDEOGRAM_API_KEY", inv.Env)
	}
	var blob map[string]any
	if err := json.Unmarshal([]byte(inv.Args[len(inv.Args)-1]), &blob); err != nil {
		t.Fatalf("params blob not JSON: %v", err)
	}
	if _, leaked := blob["api_key"]; leaked {
		t.Fatalf("secret leaked into params blob: %v", blob)
	}

	res = d.Dispatch(context.Background(), Request{
		ToolID: "ideogram_tool",
		Action: "generate_image",
		Params: map[string]any{"prompt": "a dog"},
	})
	if !res.OK() {
		t.Fatalf("Dispatch() = %+v, want success", res.Error)
	}
	if env := runner.actionCalls()[1].Env; len(env) != 0 {
		t.Fatalf("second call Env = %v, want none", env)
	}
}

func TestSessionCachesSchema(t *testing.T) {
	runner := &fakeRunner{schema: `{"echo":["text"]}`}
	d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "echo_tool", Path: touchTool(t, "echo")})

	session := d.NewSession()
	for i := 0; i < 3; i++ {
		res := session.Dispatch(context.Background(), Request{ToolID: "echo_tool", Action: "echo", Params: map[string]any{"text": "x"}})
		if !res.OK() {
			t.Fatalf("Dispatch() = %+v", res.Error)
		}
	}
	if got := runner.introspections(); got != 1 {
		t.Fatalf("introspections in one session = %d, want 1", got)
	}

	d.Dispatch(context.Background(), Request{ToolID: "echo_tool", Action: "echo", Params: map[string]any{"text": "x"}})
	d.Dispatch(context.Background(), Request{ToolID: "echo_tool", Action: "echo", Params: map[string]any{"text": "x"}})
	if got := runner.introspections(); got != 3 {
		t.Fatalf("introspections across dispatches = %d, want 3", got)
	}
}

type recordingObserver struct {
	mu           sync.Mutex
	observations []Observation
}

func (r *recordingObserver) ObserveDispatch(o Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observations = append(r.observations, o)
}

func TestDispatchEmitsObservation(t *testing.T) {
	obs := &recordingObserver{}
	SetObserver(obs)
	t.Cleanup(func() { SetObserver(nil) })

	runner := &fakeRunner{schema: `{"echo":["text"]}`}
	d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "echo_tool", Path: touchTool(t, "echo")})
	d.Dispatch(context.Background(), Request{ToolID: "echo_tool", Action: "echo", Params: map[string]any{"text": "x"}})
	d.Dispatch(context.Background(), Request{ToolID: "echo_tool", Action: "nope"})

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.observations) != 2 {
		t.Fatalf("observations = %d, want 2", len(obs.observations))
	}
	if !obs.observations[0].Success {
		t.Fatalf("first observation = %+v, want success", obs.observations[0])
	}
	if obs.observations[1].ErrorCode != CodeUnknownAction {
		t.Fatalf("second observation code = %q, want UnknownAction", obs.observations[1].ErrorCode)
	}
}

func TestActions(t *testing.T) {
	runner := &fakeRunner{schema: `{"echo":["text"],"ping":[]}`}
	d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "echo_tool", Path: touchTool(t, "echo")})

	schema, err := d.Actions(context.Background(), "echo_tool")
	if err != nil {
		t.Fatalf("Actions() error = %v", err)
	}
	if !slices.Equal(schema.Actions(), []string{"echo", "ping"}) {
		t.Fatalf("Actions() = %v", schema.Actions())
	}

	_, err = d.Actions(context.Background(), "ghost")
	if CodeOf(err) != CodeToolNotFound {
		t.Fatalf("Actions(ghost) code = %q, want ToolNotFound", CodeOf(err))
	}
}

func TestSelfTest(t *testing.T) {
	runner := &fakeRunner{schema: `{"send":["to","body"],"ping":[]}`}
	d, _ := newTestDispatcher(t, runner, tool.Entry{ID: "mail_tool", Path: touchTool(t, "mail")})

	results, err := d.SelfTest(context.Background(), "mail_tool")
	if err != nil {
		t.Fatalf("SelfTest() error = %v", err)
	}
	if len(results) != 2 || results[0].Action != "ping" || results[1].Action != "send" {
		t.Fatalf("SelfTest() actions = %+v", results)
	}
	if results[1].Params["to"] != SelfTestValue || results[1].Params["body"] != SelfTestValue {
		t.Fatalf("send params = %v", results[1].Params)
	}
	if got := runner.introspections(); got != 1 {
		t.Fatalf("introspections = %d, want 1", got)
	}
}

func TestDispatchShellToolEndToEnd(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := filepath.Join(t.TempDir(), "echo_tool.sh")
	body := `#!/bin/sh
if [ "$1" = "get_supported_actions" ]; then
  echo '{"echo":["text"]}'
  exit 0
fi
if [ "$1" = "echo" ] && [ "$2" = "--params" ]; then
  printf '%s\n' "$3"
  exit 0
fi
echo "unknown invocation" >&2
exit 7
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	reg := tool.NewRegistry(tool.NewMemoryStore())
	if err := reg.Register(context.Background(), tool.Entry{ID: "echo_tool", Path: script, Interpreter: "sh"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	d, err := New(Config{Registry: reg, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res := d.Dispatch(context.Background(), Request{ToolID: "echo_tool", Action: "echo", Params: map[string]any{"text": "hi"}})
	if !res.OK() {
		t.Fatalf("Dispatch() = %+v", res.Error)
	}
	payload, ok := res.Payload.(map[string]any)
	if !ok || payload["text"] != "hi" {
		t.Fatalf("Payload = %#v, want {text: hi}", res.Payload)
	}
}

func TestDispatchMasksSecretsInStderr(t *testing.T) {
	runner := &fakeRunner{
		schema: `{"generate_image":["prompt","api_key"]}`,
		respond: func(inv tool.Invocation) (tool.Output, error) {
			stderr := "401 for key " + inv.Env["IDEOGRAM_API_KEY"]
			return tool.Output{Stderr: []byte(stderr), ExitCode: 1},
				&tool.ExecError{Kind: tool.ExecExit, ExitCode: 1, Stderr: stderr}
		},
	}
	d, _ := newTestDispatcher(t, runner, tool.Entry{
		ID:      "ideogram_tool",
		Path:    touchTool(t, "ideogram"),
		Secrets: map[string]string{"api_key": "IDEOGRAM_API_KEY"},
	})

	session := d.NewSession()
	params := map[string]any{"prompt": "a cat", "api_key": "sk-live-123"}
	res := session.Dispatch(context.Background(), Request{ToolID: "ideogram_tool", Action: "generate_image", Params: params})
	if res.OK() {
		t.Fatal("Dispatch() succeeded, want exit failure")
	}
	if strings.Contains(res.ErrorMessage, "sk-live-123") {
		t.Fatalf("secret leaked into error message: %q", res.ErrorMessage)
	}
	if stderr, _ := res.Error.Details["stderr"].(string); !strings.Contains(stderr, tool.MaskedSecretValue) {
		t.Fatalf("stderr detail = %q, want masked secret", stderr)
	}

	redacted := session.RedactParams("ideogram_tool", params)
	if redacted["api_key"] != tool.MaskedSecretValue || redacted["prompt"] != "a cat" {
		t.Fatalf("RedactParams() = %v", redacted)
	}
	if unknown := session.RedactParams("other_tool", params); unknown["api_key"] != "sk-live-123" {
		t.Fatalf("RedactParams(unknown) = %v, want unchanged copy", unknown)
	}
}

func TestDispatchMasksSecretsInStdoutDetails(t *testing.T) {
	cases := map[string]struct {
		stdout  string
		variant Variant
		detail  string
	}{
		"reported": {stdout: `{"status":"error","message":"key sk-live-123 revoked"}`, variant: VariantReported, detail: "output"},
		"decode":   {stdout: `not json: sk-live-123`, variant: VariantDecode, detail: "stdout"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			runner := &fakeRunner{
				schema: `{"generate_image":["prompt","api_key"]}`,
				respond: func(tool.Invocation) (tool.Output, error) {
					return tool.Output{Stdout: []byte(tc.stdout)}, nil
				},
			}
			d, _ := newTestDispatcher(t, runner, tool.Entry{
				ID:      "ideogram_tool",
				Path:    touchTool(t, "ideogram"),
				Secrets: map[string]string{"api_key": "IDEOGRAM_API_KEY"},
			})

			res := d.Dispatch(context.Background(), Request{
				ToolID: "ideogram_tool",
				Action: "generate_image",
				Params: map[string]any{"prompt": "a cat", "api_key": "sk-live-123"},
			})
			if res.OK() || res.Error.Variant != tc.variant {
				t.Fatalf("Dispatch() = %+v, want %s failure", res, tc.variant)
			}
			encoded, err := json.Marshal(res)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if strings.Contains(string(encoded), "sk-live-123") {
				t.Fatalf("secret leaked into result: %s", encoded)
			}
			if _, ok := res.Error.Details[tc.detail]; !ok {
				t.Fatalf("details = %v, want %q", res.Error.Details, tc.detail)
			}
			if !strings.Contains(string(encoded), tool.MaskedSecretValue) {
				t.Fatalf("result = %s, want masked secret", encoded)
			}
		})
	}
}
