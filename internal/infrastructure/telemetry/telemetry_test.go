package telemetry

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeadersCarryTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	ctx, ok := ContextWithTraceID(context.Background(), "4bf92f3577b34da6a3ce929d0e0736ae")
	require.True(t, ok)

	headers := []kafka.Header{{Key: "other", Value: []byte("x")}}
	InjectHeaders(ctx, &headers)
	require.Len(t, headers, 2)

	extracted := MessageContext(context.Background(), headers, "")
	spanCtx := trace.SpanContextFromContext(extracted)
	require.True(t, spanCtx.IsValid())
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0736ae", spanCtx.TraceID().String())
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0736ae", TraceID(extracted))
}

func TestMessageContextFallsBackToBodyTraceID(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	ctx := MessageContext(context.Background(), nil, "4bf92f3577b34da6a3ce929d0e0736ae")
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0736ae", TraceID(ctx))

	ctx = MessageContext(context.Background(), nil, "not-a-trace")
	require.Empty(t, TraceID(ctx))
}

func TestHeaderCarrierReplacesExistingKey(t *testing.T) {
	carrier := headerCarrier{headers: []kafka.Header{{Key: "Traceparent", Value: []byte("old")}}}
	carrier.Set("traceparent", "new")
	require.Len(t, carrier.headers, 1)
	require.Equal(t, "new", carrier.Get("TRACEPARENT"))
	require.Equal(t, []string{"Traceparent"}, carrier.Keys())
}

func TestContextWithTraceIDRejectsGarbage(t *testing.T) {
	_, ok := ContextWithTraceID(context.Background(), "zz")
	require.False(t, ok)
	require.Empty(t, TraceID(context.Background()))
}

func TestInitTracerWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{ServiceName: "test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestResolveEndpoint(t *testing.T) {
	target, err := resolveEndpoint("https://collector:4318", false)
	require.NoError(t, err)
	require.Equal(t, exportTarget{endpoint: "https://collector:4318", url: true}, target)

	target, err = resolveEndpoint("collector:4318", false)
	require.NoError(t, err)
	require.False(t, target.insecure, "host:port defaults to TLS")

	target, err = resolveEndpoint("collector:4318", true)
	require.NoError(t, err)
	require.True(t, target.insecure)

	_, err = resolveEndpoint("http://collector:4318", false)
	require.ErrorContains(t, err, "plaintext")

	target, err = resolveEndpoint("http://localhost:4318", true)
	require.NoError(t, err)
	require.Equal(t, exportTarget{endpoint: "http://localhost:4318", url: true, insecure: true}, target)

	_, err = resolveEndpoint("grpc://collector:4317", true)
	require.ErrorContains(t, err, "unsupported scheme")
}

func TestInitTracerRejectsPlaintextEndpoint(t *testing.T) {
	_, err := InitTracer(context.Background(), Config{ServiceName: "test", Endpoint: "http://collector:4318"})
	require.Error(t, err)
}
