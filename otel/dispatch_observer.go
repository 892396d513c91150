package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/orchestrate/dispatch"
)

// DispatchObserver records dispatch outcomes into OpenTelemetry.
type DispatchObserver struct {
	tracer trace.Tracer

	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewDispatchObserver creates a dispatch observer bound to meter and tracer.
// A nil tracer disables spans.
func NewDispatchObserver(meter metric.Meter, tracer trace.Tracer) (*DispatchObserver, error) {
	calls, err := meter.Int64Counter(
		"orchestrate.dispatch.calls",
		metric.WithDescription("Number of tool dispatches"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		"orchestrate.dispatch.failures",
		metric.WithDescription("Number of failed tool dispatches"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"orchestrate.dispatch.latency",
		metric.WithDescription("Tool dispatch latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &DispatchObserver{
		tracer:   tracer,
		calls:    calls,
		failures: failures,
		latency:  latency,
	}, nil
}

// ObserveDispatch records one dispatch result.
func (o *DispatchObserver) ObserveDispatch(observation dispatch.Observation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_id", observation.ToolID),
		attribute.String("action", observation.Action),
		attribute.Bool("success", observation.Success),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", string(observation.ErrorCode)))
	}
	if observation.Variant != "" {
		attrs = append(attrs, attribute.String("variant", string(observation.Variant)))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.calls.Add(ctx, 1, options)
	if !observation.Success {
		o.failures.Add(ctx, 1, options)
	}
	elapsed := time.Duration(observation.DurationMS) * time.Millisecond
	o.latency.Record(ctx, elapsed.Seconds(), options)

	if o.tracer == nil {
		return
	}
	end := time.Now()
	_, span := o.tracer.Start(ctx, "tool.dispatch",
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(end.Add(-elapsed)),
	)
	if observation.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(observation.ErrorCode))
	}
	span.End(trace.WithTimestamp(end))
}

var _ dispatch.Observer = (*DispatchObserver)(nil)
