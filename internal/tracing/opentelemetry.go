package tracing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 5 * time.Second

// TracingManager owns the global OpenTelemetry tracer provider.
type TracingManager struct {
	config         models.TracingConfig
	logger         *logrus.Logger
	tracerProvider *sdktrace.TracerProvider
}

func NewTracingManager(config models.TracingConfig, logger *logrus.Logger) *TracingManager {
	if config.ServiceName == "" {
		config.ServiceName = constants.DefaultServiceName
	}
	if config.Environment == "" {
		config.Environment = constants.DefaultEnvironment
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "dev"
	}
	return &TracingManager{config: config, logger: logger}
}

// Initialize installs the tracer provider. It does nothing when tracing is
// disabled, in which case the global no-op provider stays in place.
func (tm *TracingManager) Initialize(ctx context.Context) error {
	if !tm.config.Enabled {
		tm.logger.Debug("OpenTelemetry tracing is disabled")
		return nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(tm.config.ServiceName),
		semconv.ServiceVersionKey.String(tm.config.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(tm.config.Environment),
	))
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := tm.newExporter(ctx)
	if err != nil {
		return err
	}

	tm.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tm.config.SampleRate))),
	)
	otel.SetTracerProvider(tm.tracerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tm.logger.WithFields(logrus.Fields{
		"service":     tm.config.ServiceName,
		"sample_rate": tm.config.SampleRate,
		"stdout":      tm.config.UseStdout,
	}).Info("OpenTelemetry tracing initialized")
	return nil
}

func (tm *TracingManager) newExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if tm.config.UseStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exporter, nil
	}

	// An empty endpoint falls back to the OTEL_EXPORTER_OTLP_* variables.
	var opts []otlptracehttp.Option
	if endpoint := tm.config.OTLPEndpoint; endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
		if strings.HasPrefix(endpoint, "http://") {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP HTTP exporter: %w", err)
	}
	return exporter, nil
}

// Shutdown flushes pending spans.
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	if tm.tracerProvider == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := tm.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}

// StartSpan starts a span on the service tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return otel.Tracer(constants.DefaultServiceName).Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// StartRequestSpan starts a span for an inbound request and records its
// trace and span IDs in the request info. Without a recording provider the
// span context is invalid, so a locally generated trace ID is used instead.
func StartRequestSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	ctx, span := StartSpan(ctx, name, attribute.String("span.kind", "server"))

	sc := span.SpanContext()
	if sc.IsValid() {
		ctx = WithTraceID(ctx, sc.TraceID().String())
		ctx = WithSpanID(ctx, sc.SpanID().String())
	} else {
		ctx = WithTraceID(ctx, GenerateTraceID())
	}
	return ctx, span
}

func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := oteltrace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	if span := oteltrace.SpanFromContext(ctx); span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if span := oteltrace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err, oteltrace.WithAttributes(attrs...))
		span.SetStatus(codes.Error, err.Error())
	}
}
