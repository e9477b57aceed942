package tracer

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"medsight/internal/infra/config"
)

const (
	scopeName          = "medsight"
	defaultServiceName = "medsight"
)

// Span names emitted by the pipeline.
const (
	SpanOrchestratorProcess = "orchestrator.process"
	SpanAgentExecute        = "agent.execute"
	SpanLLMChat             = "llm.chat"
)

// Attribute keys set by SetResult.
const (
	AttrResultSuccess    = "result.success"
	AttrResultConfidence = "result.confidence"
)

// Setup installs the global TracerProvider described by cfg and returns its
// shutdown function. Disabled tracing and the "noop" exporter install a
// noop provider.
func Setup(ctx context.Context, cfg config.TracerConfig) (func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }
	if !cfg.Enabled || cfg.Exporter == "noop" || cfg.Exporter == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}
	if cfg.Exporter != "stdout" {
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	tp := NewProvider(exporter, cfg.ServiceName)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// NewProvider builds a sampling-everything provider that batches spans to
// exporter and tags them with serviceName.
func NewProvider(exporter sdktrace.SpanExporter, serviceName string) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(ServiceResource(serviceName)),
	)
}

// ServiceResource identifies the process in exported spans.
func ServiceResource(serviceName string) *resource.Resource {
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	return resource.NewSchemaless(attribute.String("service.name", serviceName))
}

// StartSpan starts a span under the medsight instrumentation scope.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(scopeName).Start(ctx, name, opts...)
}

// SetResult records the outcome of an agent or orchestration step. A
// failure carries msg as the span error.
func SetResult(span trace.Span, success bool, confidence float64, msg string) {
	span.SetAttributes(
		attribute.Bool(AttrResultSuccess, success),
		attribute.Float64(AttrResultConfidence, confidence),
	)
	if success {
		SetOK(span)
		return
	}
	RecordError(span, errors.New(msg))
}

// RecordError records err on the span and sets error status.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK sets the span status to OK.
func SetOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

func StringAttr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func IntAttr(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}
