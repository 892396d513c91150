package dispatch

// Request names one tool call.
type Request struct {
	ToolID string         `json:"tool_id"`
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Status is the outcome of a call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the single structured outcome of every dispatch.
type Result struct {
	Status       Status `json:"status"`
	Payload      any    `json:"payload"`
	ErrorMessage string `json:"error_message,omitempty"`
	Error        *Error `json:"error,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Err returns the structured error as an error value, or nil on success.
func (r Result) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

func successResult(payload any, durationMS int64) Result {
	return Result{Status: StatusSuccess, Payload: payload, DurationMS: durationMS}
}

func errorResult(err *Error, durationMS int64) Result {
	return Result{
		Status:       StatusError,
		ErrorMessage: err.Error(),
		Error:        err,
		DurationMS:   durationMS,
	}
}
