package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nativebridge/internal/infrastructure/telemetry"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes to topics derived from a common prefix. It is shared by the
// transport, the payout outbox and the event publisher.
type Producer struct {
	writer messageWriter
	prefix string
}

type ProducerConfig struct {
	Brokers     []string
	TopicPrefix string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.TopicPrefix) == "" {
		cfg.TopicPrefix = "nativebridge"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{writer: writer, prefix: cfg.TopicPrefix}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// publish writes one record synchronously inside a producer span and injects
// the trace context into the record headers.
func (p *Producer) publish(ctx context.Context, spanName, topic string, key, value []byte, attrs ...attribute.KeyValue) error {
	ctx, span := otel.Tracer("nativebridge/kafka").Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(append(attrs, attribute.String("messaging.destination", topic))...)

	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectHeaders(ctx, &headers)
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("write %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) topicForDomain(domain uint32) string {
	return TopicForDomain(p.prefix, domain)
}

func (p *Producer) topic(name string) string {
	return p.prefix + "-" + name
}

// TopicForDomain is the inbound topic of a bridge domain.
func TopicForDomain(prefix string, domain uint32) string {
	return fmt.Sprintf("%s-%d", prefix, domain)
}

// FundingTopic carries the wallet's reports of value received on chain.
func FundingTopic(prefix string) string {
	return prefix + "-funding"
}
