package telemetry

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// headerCarrier adapts kafka record headers to the otel propagator. Keys
// match case-insensitively; Set replaces an existing key in place.
type headerCarrier struct {
	headers []kafka.Header
}

func (c headerCarrier) Get(key string) string {
	if i := c.index(key); i >= 0 {
		return string(c.headers[i].Value)
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	if i := c.index(key); i >= 0 {
		c.headers[i].Value = []byte(value)
		return
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(c.headers))
	for i, header := range c.headers {
		keys[i] = header.Key
	}
	return keys
}

func (c headerCarrier) index(key string) int {
	for i, header := range c.headers {
		if strings.EqualFold(header.Key, key) {
			return i
		}
	}
	return -1
}

// InjectHeaders writes the trace context of ctx into headers.
func InjectHeaders(ctx context.Context, headers *[]kafka.Header) {
	carrier := headerCarrier{headers: *headers}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	*headers = carrier.headers
}

// MessageContext continues the trace a record arrived with. Propagation
// headers win; traceID from the message body is the fallback.
func MessageContext(ctx context.Context, headers []kafka.Header, traceID string) context.Context {
	carrier := headerCarrier{headers: headers}
	ctx = otel.GetTextMapPropagator().Extract(ctx, &carrier)
	if trace.SpanContextFromContext(ctx).IsValid() || traceID == "" {
		return ctx
	}
	if withTrace, ok := ContextWithTraceID(ctx, traceID); ok {
		return withTrace
	}
	return ctx
}
