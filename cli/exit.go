package cli

import (
	"fmt"

	"github.com/petal-labs/orchestrate/dispatch"
)

// Exit codes.
const (
	exitSuccess     = 0
	exitRuntime     = 1
	exitValidation  = 2
	exitNotFound    = 3
	exitToolFailure = 4
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// exitCodeFor maps a dispatch error code onto a process exit code.
func exitCodeFor(derr *dispatch.Error) int {
	if derr == nil {
		return exitSuccess
	}
	if derr.Code.IsValidation() {
		return exitValidation
	}
	switch derr.Code {
	case dispatch.CodeToolNotFound, dispatch.CodeWorkflowNotFound:
		return exitNotFound
	case dispatch.CodeToolUnavailable, dispatch.CodeSchemaUnavailable,
		dispatch.CodeToolExecutionFailed, dispatch.CodeWorkflowStepFailed:
		return exitToolFailure
	default:
		return exitRuntime
	}
}

func dispatchExitError(derr *dispatch.Error) *ExitError {
	return &ExitError{Code: exitCodeFor(derr), Message: derr.Error()}
}
