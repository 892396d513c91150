package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies a dispatch or workflow failure class.
type Code string

const (
	CodeToolNotFound        Code = "ToolNotFound"
	CodeToolUnavailable     Code = "ToolUnavailable"
	CodeSchemaUnavailable   Code = "SchemaUnavailable"
	CodeUnknownAction       Code = "UnknownAction"
	CodeUnexpectedParameter Code = "UnexpectedParameter"
	CodeMissingParameters   Code = "MissingParameters"
	CodeToolExecutionFailed Code = "ToolExecutionFailed"
	CodeWorkflowNotFound    Code = "WorkflowNotFound"
	CodeInvalidWorkflow     Code = "InvalidWorkflow"
	CodeWorkflowStepFailed  Code = "WorkflowStepFailed"
)

// IsValidation reports whether the code is raised before any process spawns
// because the request itself is wrong.
func (c Code) IsValidation() bool {
	switch c {
	case CodeUnknownAction, CodeUnexpectedParameter, CodeMissingParameters, CodeInvalidWorkflow:
		return true
	default:
		return false
	}
}

// Variant refines CodeToolExecutionFailed.
type Variant string

const (
	VariantTimeout  Variant = "timeout"
	VariantExit     Variant = "exit"
	VariantStart    Variant = "start"
	VariantCanceled Variant = "canceled"
	VariantDecode   Variant = "decode"
	VariantReported Variant = "reported"
)

// Error is the structured failure carried by a Result.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Variant Variant        `json:"variant,omitempty"`
	Keys    []string       `json:"keys,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(code Code, message string, cause error) *Error {
	msg := strings.TrimSpace(message)
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Message: msg, Cause: cause}
}

func (e *Error) withDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var dispatchErr *Error
	if errors.As(err, &dispatchErr) && dispatchErr != nil {
		return dispatchErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	if dispatchErr, ok := AsError(err); ok {
		return dispatchErr.Code
	}
	return ""
}

// NewWorkflowNotFound builds the error returned when a workflow name is unknown.
func NewWorkflowNotFound(name string, cause error) *Error {
	return newError(CodeWorkflowNotFound, fmt.Sprintf("workflow %q not found", name), cause)
}

// NewInvalidWorkflow reports a definition that cannot run as stored.
func NewInvalidWorkflow(name string, cause error) *Error {
	msg := fmt.Sprintf("workflow %q is invalid", name)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return newError(CodeInvalidWorkflow, msg, cause).withDetail("workflow", name)
}
