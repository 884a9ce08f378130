package telemetry

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Config struct {
	ServiceName string
	Version     string
	Endpoint    string
	// Insecure allows a plaintext collector. Without it only https:// URLs
	// and scheme-less host:port endpoints, which are dialed over TLS, are used.
	Insecure    bool
	Domain      uint32
}

type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// InitTracer installs the global tracer provider and propagator. An empty
// endpoint installs a no-op provider.
func InitTracer(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}

	target, err := resolveEndpoint(endpoint, cfg.Insecure)
	if err != nil {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, err
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithTimeout(5 * time.Second),
	}
	if target.url {
		opts = append(opts, otlptracehttp.WithEndpointURL(target.endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(target.endpoint))
	}
	if target.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			attribute.Int64("bridge.domain", int64(cfg.Domain)),
		),
	)
	if err != nil {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

type exportTarget struct {
	endpoint string
	url      bool
	insecure bool
}

// resolveEndpoint decides how the exporter dials endpoint. Plaintext is
// used only when allowInsecure is set.
func resolveEndpoint(endpoint string, allowInsecure bool) (exportTarget, error) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return exportTarget{endpoint: endpoint, url: true}, nil
	case strings.HasPrefix(endpoint, "http://"):
		if !allowInsecure {
			return exportTarget{}, fmt.Errorf("tracing endpoint %s is plaintext; use https or set OTEL_EXPORTER_OTLP_INSECURE", endpoint)
		}
		return exportTarget{endpoint: endpoint, url: true, insecure: true}, nil
	case strings.Contains(endpoint, "://"):
		return exportTarget{}, fmt.Errorf("tracing endpoint %s has an unsupported scheme", endpoint)
	default:
		return exportTarget{endpoint: endpoint, insecure: allowInsecure}, nil
	}
}

// ContextWithTraceID continues a trace whose id arrived outside the
// propagation headers, e.g. in a message body.
func ContextWithTraceID(ctx context.Context, traceID string) (context.Context, bool) {
	parsed, err := trace.TraceIDFromHex(traceID)
	if err != nil {
		return ctx, false
	}
	var spanID trace.SpanID
	if _, err := rand.Read(spanID[:]); err != nil {
		return ctx, false
	}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    parsed,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithSpanContext(ctx, spanCtx), true
}

// TraceID returns the hex trace id of ctx, if any.
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return ""
	}
	return spanCtx.TraceID().String()
}
