package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"
)

// DefaultTimeout bounds every tool process when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// waitDelay bounds how long Wait blocks on inherited pipes after the process
// group is killed.
const waitDelay = 2 * time.Second

// ExecErrorKind classifies a failed process invocation.
type ExecErrorKind string

const (
	ExecTimeout  ExecErrorKind = "timeout"
	ExecExit     ExecErrorKind = "exit"
	ExecStart    ExecErrorKind = "start"
	ExecCanceled ExecErrorKind = "canceled"
)

// ExecError is a process-level failure with captured diagnostics.
type ExecError struct {
	Kind     ExecErrorKind
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ExecError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case ExecExit:
		if e.Stderr != "" {
			return fmt.Sprintf("tool: process exited with code %d: %s", e.ExitCode, e.Stderr)
		}
		return fmt.Sprintf("tool: process exited with code %d", e.ExitCode)
	case ExecTimeout:
		return "tool: process timed out"
	case ExecCanceled:
		return "tool: process canceled"
	default:
		if e.Cause != nil {
			return "tool: start process: " + e.Cause.Error()
		}
		return "tool: start process"
	}
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *ExecError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Invocation describes one tool process run.
type Invocation struct {
	Command string
	Args    []string
	// Env is appended to the parent environment for this process only.
	Env     map[string]string
	Timeout time.Duration
}

// Output is what a finished process produced.
type Output struct {
	Stdout     []byte
	Stderr     []byte
	ExitCode   int
	DurationMS int64
}

// Runner starts tool processes. The exec-backed implementation is the only
// production one; tests substitute spies.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Output, error)
}

// ExecRunner runs tools as child processes, one process per call.
type ExecRunner struct {
	// DefaultTimeout applies when the invocation carries none.
	DefaultTimeout time.Duration
}

// NewExecRunner creates a runner with the given default timeout.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{DefaultTimeout: timeout}
}

// Run executes the invocation and waits for it, bounded by its timeout.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Output, error) {
	command := strings.TrimSpace(inv.Command)
	if command == "" {
		return Output{}, &ExecError{Kind: ExecStart, Cause: errors.New("empty command")}
	}

	timeout := inv.Timeout
	if timeout <= 0 && r != nil {
		timeout = r.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 -- command and args come from operator-registered tool entries.
	cmd := exec.CommandContext(execCtx, command, inv.Args...)
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), flattenEnv(inv.Env)...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	out := Output{
		Stdout:     stdout.Bytes(),
		Stderr:     stderr.Bytes(),
		ExitCode:   exitCode(cmd),
		DurationMS: time.Since(start).Milliseconds(),
	}
	return out, classifyRunError(execCtx, runErr, out)
}

func classifyRunError(execCtx context.Context, runErr error, out Output) error {
	if ctxErr := execCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return &ExecError{Kind: ExecTimeout, ExitCode: out.ExitCode, Stderr: trimStderr(out.Stderr), Cause: ctxErr}
		}
		return &ExecError{Kind: ExecCanceled, ExitCode: out.ExitCode, Stderr: trimStderr(out.Stderr), Cause: ctxErr}
	}
	if runErr == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return &ExecError{
			Kind:     ExecExit,
			ExitCode: exitErr.ExitCode(),
			Stderr:   trimStderr(out.Stderr),
			Cause:    runErr,
		}
	}
	return &ExecError{Kind: ExecStart, ExitCode: -1, Cause: runErr}
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

func trimStderr(raw []byte) string {
	return strings.TrimSpace(string(raw))
}

func flattenEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}

var _ Runner = (*ExecRunner)(nil)
