package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Options configures the process tracer provider.
type Options struct {
	ServiceName    string
	ServiceVersion string
	// SpanLogger, when set, receives one debug entry per finished span.
	SpanLogger *zerolog.Logger
}

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// Setup installs the global tracer provider. Later calls only attach
// the span logger, so packages and tests can call it freely.
func Setup(opts Options) error {
	providerMu.Lock()
	defer providerMu.Unlock()

	if provider == nil {
		attrs := []attribute.KeyValue{semconv.ServiceName(opts.ServiceName)}
		if opts.ServiceVersion != "" {
			attrs = append(attrs, semconv.ServiceVersion(opts.ServiceVersion))
		}
		res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
		if err != nil {
			return err
		}
		provider = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
	}

	if opts.SpanLogger != nil {
		provider.RegisterSpanProcessor(sdktrace.NewSimpleSpanProcessor(&logExporter{logger: *opts.SpanLogger}))
	}
	return nil
}

// RegisterSpanProcessor attaches a processor to the provider installed by Setup.
func RegisterSpanProcessor(sp sdktrace.SpanProcessor) {
	providerMu.Lock()
	tp := provider
	providerMu.Unlock()
	if tp != nil {
		tp.RegisterSpanProcessor(sp)
	}
}

// Shutdown flushes pending spans.
func Shutdown(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	providerMu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.ForceFlush(ctx)
}

// StartSpan starts a span and records its trace ID in ctx when none is set yet.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if sessionID := GetSessionID(ctx); sessionID != "" {
		span.SetAttributes(attribute.String("coda.session_id", sessionID))
	}

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}
	return ctx, span
}

// logExporter writes finished spans to a zerolog logger.
type logExporter struct {
	logger zerolog.Logger
}

func (e *logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		event := e.logger.Debug().
			Str("span", s.Name()).
			Str("trace_id", s.SpanContext().TraceID().String()).
			Dur("duration", s.EndTime().Sub(s.StartTime()))
		if s.Status().Code == codes.Error {
			event = event.Str("span_error", s.Status().Description)
		}
		for _, attr := range s.Attributes() {
			event = event.Str(string(attr.Key), attr.Value.Emit())
		}
		event.Msg("span finished")
	}
	return nil
}

func (e *logExporter) Shutdown(context.Context) error { return nil }

var _ sdktrace.SpanExporter = (*logExporter)(nil)

// flushTimeout bounds Shutdown when callers have no deadline of their own.
const flushTimeout = 2 * time.Second

// ShutdownWithTimeout is Shutdown bounded by a short default deadline.
func ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	return Shutdown(ctx)
}
