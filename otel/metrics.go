package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/orchestrate/workflow"
)

// WorkflowObserver translates workflow run and step observations into
// counters, duration histograms and spans.
type WorkflowObserver struct {
	tracer trace.Tracer

	runs          metric.Int64Counter
	runFailures   metric.Int64Counter
	stepExecution metric.Int64Counter
	stepFailures  metric.Int64Counter
	stepDuration  metric.Float64Histogram
	runDuration   metric.Float64Histogram
}

// NewWorkflowObserver creates the instruments on meter. A nil tracer disables spans.
func NewWorkflowObserver(meter metric.Meter, tracer trace.Tracer) (*WorkflowObserver, error) {
	runs, err := meter.Int64Counter("orchestrate.workflow.runs",
		metric.WithDescription("Number of workflow runs"),
	)
	if err != nil {
		return nil, err
	}
	runFailures, err := meter.Int64Counter("orchestrate.workflow.run.failures",
		metric.WithDescription("Number of aborted workflow runs"),
	)
	if err != nil {
		return nil, err
	}
	steps, err := meter.Int64Counter("orchestrate.workflow.steps",
		metric.WithDescription("Number of workflow steps executed"),
	)
	if err != nil {
		return nil, err
	}
	stepFailures, err := meter.Int64Counter("orchestrate.workflow.step.failures",
		metric.WithDescription("Number of failed workflow steps"),
	)
	if err != nil {
		return nil, err
	}
	stepDur, err := meter.Float64Histogram("orchestrate.workflow.step.duration",
		metric.WithDescription("Duration of workflow steps in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	runDur, err := meter.Float64Histogram("orchestrate.workflow.run.duration",
		metric.WithDescription("Duration of workflow runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &WorkflowObserver{
		tracer:        tracer,
		runs:          runs,
		runFailures:   runFailures,
		stepExecution: steps,
		stepFailures:  stepFailures,
		stepDuration:  stepDur,
		runDuration:   runDur,
	}, nil
}

// ObserveStep records one finished step.
func (o *WorkflowObserver) ObserveStep(observation workflow.StepObservation) {
	if o == nil || observation.Skipped {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("workflow", observation.Workflow),
		attribute.String("tool_id", observation.Tool),
		attribute.String("action", observation.Action),
	)
	o.stepExecution.Add(ctx, 1, attrs)
	if !observation.Success {
		o.stepFailures.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("error_code", observation.ErrorCode)))
	}
	o.stepDuration.Record(ctx, millis(observation.DurationMS).Seconds(), attrs)
}

// ObserveRun records one finished run and emits its span.
func (o *WorkflowObserver) ObserveRun(observation workflow.RunObservation) {
	if o == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("workflow", observation.Workflow),
		attribute.Bool("success", observation.Success),
	)
	o.runs.Add(ctx, 1, attrs)
	if !observation.Success {
		o.runFailures.Add(ctx, 1, attrs)
	}
	elapsed := millis(observation.DurationMS)
	o.runDuration.Record(ctx, elapsed.Seconds(), attrs)

	if o.tracer == nil {
		return
	}
	end := time.Now()
	_, span := o.tracer.Start(ctx, "workflow:"+observation.Workflow,
		trace.WithAttributes(
			attribute.String("orchestrate.run_id", observation.RunID),
			attribute.String("orchestrate.workflow", observation.Workflow),
			attribute.Int("orchestrate.steps", observation.Steps),
		),
		trace.WithTimestamp(end.Add(-elapsed)),
	)
	if observation.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetAttributes(attribute.Int("orchestrate.failed_step", observation.FailedStep))
		span.SetStatus(codes.Error, observation.ErrorCode)
	}
	span.End(trace.WithTimestamp(end))
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

var _ workflow.Observer = (*WorkflowObserver)(nil)
