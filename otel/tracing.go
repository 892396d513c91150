// Package otel wires OpenTelemetry into orchestrate: observers that turn
// dispatch and workflow observations into metrics and spans, and the
// providers (OTLP/HTTP traces, Prometheus metrics) they report to.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/petal-labs/orchestrate/dispatch"
	"github.com/petal-labs/orchestrate/workflow"
)

const instrumentationName = "github.com/petal-labs/orchestrate"

// Config selects which exporters are enabled.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint enables trace export. Either host:port or a full URL.
	OTLPEndpoint string
	OTLPInsecure bool
	// Prometheus enables the /metrics handler.
	Prometheus bool
}

// Telemetry owns the meter and tracer providers for the process.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        http.Handler
	installed      bool
}

// Setup builds providers from cfg. With nothing enabled it still returns a
// usable Telemetry whose meter aggregates in memory and whose tracer is a no-op.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "orchestrate"
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", name)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.ServiceVersion))
	}
	res := resource.NewSchemaless(attrs...)

	t := &Telemetry{}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.Prometheus {
		registry := promclient.NewRegistry()
		exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("otel: create prometheus exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(exporter))
		t.metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	t.meterProvider = sdkmetric.NewMeterProvider(meterOpts...)

	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		var opts []otlptracehttp.Option
		if strings.Contains(endpoint, "://") {
			opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			_ = t.meterProvider.Shutdown(ctx)
			return nil, fmt.Errorf("otel: create otlp trace exporter: %w", err)
		}
		t.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
	}
	return t, nil
}

// Meter returns the process meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meterProvider.Meter(instrumentationName)
}

// Tracer returns the process tracer, a no-op when trace export is disabled.
func (t *Telemetry) Tracer() trace.Tracer {
	if t.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return t.tracerProvider.Tracer(instrumentationName)
}

// MetricsHandler serves Prometheus metrics, or nil when disabled.
func (t *Telemetry) MetricsHandler() http.Handler {
	return t.metrics
}

// Install registers dispatch and workflow observers backed by this Telemetry.
func (t *Telemetry) Install() error {
	dispatchObserver, err := NewDispatchObserver(t.Meter(), t.Tracer())
	if err != nil {
		return fmt.Errorf("otel: dispatch observer: %w", err)
	}
	workflowObserver, err := NewWorkflowObserver(t.Meter(), t.Tracer())
	if err != nil {
		return fmt.Errorf("otel: workflow observer: %w", err)
	}
	dispatch.SetObserver(dispatchObserver)
	workflow.SetObserver(workflowObserver)
	t.installed = true
	return nil
}

// Shutdown removes installed observers and flushes the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if t.installed {
		dispatch.SetObserver(nil)
		workflow.SetObserver(nil)
		t.installed = false
	}
	var errs []error
	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}
	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
