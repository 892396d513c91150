package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/orchestrate/dispatch"
)

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StepSucceeded StepStatus = "success"
	StepFailed    StepStatus = "error"
	StepSkipped   StepStatus = "skipped"
)

// StepRecord describes what a step did.
type StepRecord struct {
	Index      int             `json:"index"`
	Tool       string          `json:"tool"`
	Action     string          `json:"action,omitempty"`
	Params     map[string]any  `json:"params,omitempty"`
	Status     StepStatus      `json:"status"`
	Error      *dispatch.Error `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// Run is one execution of a workflow. It is discarded once returned.
type Run struct {
	ID         string       `json:"run_id"`
	Workflow   string       `json:"workflow"`
	Input      any          `json:"input"`
	Output     any          `json:"output"`
	Steps      []StepRecord `json:"steps"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// StepError reports the step that aborted a run.
type StepError struct {
	Workflow string
	// Index is zero-based.
	Index int
	Step  Step
	Err   *dispatch.Error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: workflow %q step %d (%s.%s): %v",
		dispatch.CodeWorkflowStepFailed, e.Workflow, e.Index+1, e.Step.Tool, e.Step.Action, e.Err)
}

// Unwrap returns the dispatch error of the failing step.
func (e *StepError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// DispatchError renders the failure as a WorkflowStepFailed dispatch error
// wrapping the step's own error.
func (e *StepError) DispatchError() *dispatch.Error {
	return &dispatch.Error{
		Code:    dispatch.CodeWorkflowStepFailed,
		Message: fmt.Sprintf("step %d (%s.%s) failed: %v", e.Index+1, e.Step.Tool, e.Step.Action, e.Err),
		Details: map[string]any{
			"workflow": e.Workflow,
			"step":     e.Index + 1,
			"tool":     e.Step.Tool,
			"action":   e.Step.Action,
			"cause":    e.Err,
		},
		Cause: e,
	}
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Library    *Library
	Dispatcher *dispatch.Dispatcher
	Logger     *slog.Logger
}

// Engine runs workflows sequentially, one dispatch per step.
type Engine struct {
	library    *Library
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	newID      func() string
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Library == nil {
		return nil, errors.New("workflow: engine library is nil")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("workflow: engine dispatcher is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		library:    cfg.Library,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
		newID:      uuid.NewString,
	}, nil
}

// Run executes the named workflow with input as the initial previous_output.
// On a step failure it returns the partial run together with a *StepError.
func (e *Engine) Run(ctx context.Context, name string, input any) (*Run, error) {
	def, err := e.library.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrWorkflowNotFound) {
			return nil, dispatch.NewWorkflowNotFound(name, err)
		}
		return nil, err
	}
	return e.Execute(ctx, def, input)
}

// Execute runs a definition that is not necessarily stored.
func (e *Engine) Execute(ctx context.Context, def Definition, input any) (*Run, error) {
	if err := def.Validate(); err != nil {
		return nil, dispatch.NewInvalidWorkflow(def.Name, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err))
	}

	run := &Run{
		ID:        e.newID(),
		Workflow:  def.Name,
		Input:     input,
		Steps:     make([]StepRecord, 0, len(def.Steps)),
		StartedAt: time.Now().UTC(),
	}
	logger := e.logger.With("workflow", def.Name, "run_id", run.ID)
	logger.Info("workflow run started", "steps", len(def.Steps))

	observer := currentObserver()
	session := e.dispatcher.NewSession()
	previous := input

	for i, step := range def.Steps {
		record, output, stepErr := e.runStep(ctx, session, def.Name, i, step, previous)
		run.Steps = append(run.Steps, record)
		observer.ObserveStep(StepObservation{
			RunID:      run.ID,
			Workflow:   def.Name,
			Index:      i,
			Tool:       step.Tool,
			Action:     step.Action,
			Skipped:    record.Status == StepSkipped,
			Success:    stepErr == nil,
			ErrorCode:  errorCode(record.Error),
			DurationMS: record.DurationMS,
		})

		if stepErr != nil {
			run.FinishedAt = time.Now().UTC()
			logger.Warn("workflow run aborted",
				"step", i+1,
				"tool", step.Tool,
				"action", step.Action,
				"error", stepErr.Err.Error(),
			)
			observer.ObserveRun(RunObservation{
				RunID:      run.ID,
				Workflow:   def.Name,
				Steps:      len(run.Steps),
				FailedStep: i + 1,
				ErrorCode:  string(stepErr.Err.Code),
				DurationMS: run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
			})
			return run, stepErr
		}
		previous = output
	}

	run.Output = previous
	run.FinishedAt = time.Now().UTC()
	logger.Info("workflow run finished", "duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds())
	observer.ObserveRun(RunObservation{
		RunID:      run.ID,
		Workflow:   def.Name,
		Steps:      len(run.Steps),
		Success:    true,
		DurationMS: run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
	})
	return run, nil
}

func (e *Engine) runStep(ctx context.Context, session *dispatch.Session, workflow string, index int, step Step, previous any) (StepRecord, any, *StepError) {
	record := StepRecord{Index: index, Tool: step.Tool, Action: step.Action}

	if step.Skipped() {
		record.Status = StepSkipped
		return record, previous, nil
	}

	params, err := Substitute(step.Params, previous)
	if err != nil {
		derr := &dispatch.Error{
			Code:    dispatch.CodeToolExecutionFailed,
			Message: fmt.Sprintf("substitute params: %v", err),
			Variant: dispatch.VariantStart,
			Cause:   err,
		}
		record.Status = StepFailed
		record.Error = derr
		return record, nil, &StepError{Workflow: workflow, Index: index, Step: step, Err: derr}
	}
	res := session.Dispatch(ctx, dispatch.Request{ToolID: step.Tool, Action: step.Action, Params: params})
	record.Params = session.RedactParams(step.Tool, params)
	record.DurationMS = res.DurationMS
	if !res.OK() {
		record.Status = StepFailed
		record.Error = res.Error
		return record, nil, &StepError{Workflow: workflow, Index: index, Step: step, Err: res.Error}
	}
	record.Status = StepSucceeded
	return record, res.Payload, nil
}

func errorCode(err *dispatch.Error) string {
	if err == nil {
		return ""
	}
	return string(err.Code)
}
