package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer and meter used across the service.
const InstrumentationName = "github.com/jordanhubbard/testpilot"

// Instruments holds the custom OpenTelemetry metrics
type Instruments struct {
	WorkflowsStarted   metric.Int64Counter
	WorkflowsCompleted metric.Int64Counter
	FilesWritten       metric.Int64Counter
}

// Tracer returns the service tracer from the global provider. Before Init
// (or when export is disabled) it is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// InitTelemetry installs the global meter provider and, when otelEndpoint is
// set, an OTLP trace provider. Meters export through reg so the custom
// instruments are scraped from /metrics alongside the Prometheus metrics.
func InitTelemetry(ctx context.Context, serviceName, otelEndpoint, version string, reg prometheus.Registerer) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	// Create resource with service information
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	meterProvider, err := NewMeterProvider(res, reg)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(meterProvider)

	shutdowns := []func(context.Context) error{meterProvider.Shutdown}
	shutdown := func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(shutdownCtx))
		}
		return errors.Join(errs...)
	}

	if otelEndpoint == "" {
		return shutdown, nil
	}

	// Create OTLP trace exporter
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		_ = meterProvider.Shutdown(ctx)
		return nil, err
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(traceProvider)
	shutdowns = append(shutdowns, traceProvider.Shutdown)

	slog.Info("telemetry initialized", "endpoint", otelEndpoint)

	return shutdown, nil
}

// NewMeterProvider creates a meter provider whose readings are collected by
// reg. A nil reg uses the default Prometheus registerer.
func NewMeterProvider(res *resource.Resource, reg prometheus.Registerer) (*sdkmetric.MeterProvider, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	opts := []sdkmetric.Option{sdkmetric.WithReader(exporter)}
	if res != nil {
		opts = append(opts, sdkmetric.WithResource(res))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

// NewInstruments creates the custom metrics on the global meter provider.
func NewInstruments() (*Instruments, error) {
	return NewInstrumentsFrom(otel.GetMeterProvider())
}

// NewInstrumentsFrom creates the custom metrics on mp.
func NewInstrumentsFrom(mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(InstrumentationName)

	started, err := meter.Int64Counter(
		"testpilot.workflows.started",
		metric.WithDescription("Number of pull request workflows started"),
	)
	if err != nil {
		return nil, err
	}

	completed, err := meter.Int64Counter(
		"testpilot.workflows.completed",
		metric.WithDescription("Number of pull request workflows finished, by result"),
	)
	if err != nil {
		return nil, err
	}

	written, err := meter.Int64Counter(
		"testpilot.files.written",
		metric.WithDescription("Number of generated files written upstream"),
	)
	if err != nil {
		return nil, err
	}

	return &Instruments{
		WorkflowsStarted:   started,
		WorkflowsCompleted: completed,
		FilesWritten:       written,
	}, nil
}

// WorkflowStarted increments the started counter
func (i *Instruments) WorkflowStarted(ctx context.Context) {
	if i == nil {
		return
	}
	i.WorkflowsStarted.Add(ctx, 1)
}

// WorkflowCompleted increments the completed counter for result
func (i *Instruments) WorkflowCompleted(ctx context.Context, result string) {
	if i == nil {
		return
	}
	i.WorkflowsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// FileWritten increments the written counter
func (i *Instruments) FileWritten(ctx context.Context, ok bool) {
	if i == nil {
		return
	}
	i.FilesWritten.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}
