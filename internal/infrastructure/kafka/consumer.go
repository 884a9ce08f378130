package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nativebridge/internal/application"
	"nativebridge/internal/infrastructure/telemetry"
	"nativebridge/internal/streaming"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InboundHandler settles a delivered message.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg application.Delivery) (application.Settlement, error)
}

// FundingHandler applies value the bridge address received on chain.
type FundingHandler interface {
	ApplyFunding(ctx context.Context, funding application.Funding) (application.FundingResult, error)
}

// ConsumerObserver counts consumer failures.
type ConsumerObserver interface {
	IncKafkaFetchErr()
	IncKafkaDecodeErr()
	IncKafkaApplyErr()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers     []string
	TopicPrefix string
	GroupID     string
	LocalDomain uint32
	// RetryBackoff is the initial delay before a transiently failed message is retried.
	RetryBackoff time.Duration
}

// task is one decoded record ready to apply.
type task struct {
	span  string
	id    common.Hash
	ctx   context.Context
	attrs []attribute.KeyValue
	apply func(ctx context.Context) ([]attribute.KeyValue, error)
}

// Consumer reads one topic and applies each record in order. Offsets are
// committed only once a record is applied or rejected for good.
type Consumer struct {
	reader   messageReader
	observer ConsumerObserver
	backoff  time.Duration
	// decode turns a record into a task; false skips the record.
	decode func(ctx context.Context, message kafka.Message) (task, bool)
}

// NewConsumer consumes the local domain's topic of cross-chain messages.
func NewConsumer(cfg ConsumerConfig, handler InboundHandler, observer ConsumerObserver) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if handler == nil {
		return nil, errors.New("inbound handler is required")
	}
	return newConsumer(newReader(cfg, TopicForDomain(cfg.TopicPrefix, cfg.LocalDomain)), handler, observer, cfg), nil
}

// NewFundingConsumer consumes the <prefix>-funding topic the wallet reports
// received value on.
func NewFundingConsumer(cfg ConsumerConfig, handler FundingHandler, observer ConsumerObserver) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if handler == nil {
		return nil, errors.New("funding handler is required")
	}
	return newFundingConsumer(newReader(cfg, FundingTopic(cfg.TopicPrefix)), handler, observer, cfg), nil
}

func newReader(cfg ConsumerConfig, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

func newConsumer(reader messageReader, handler InboundHandler, observer ConsumerObserver, cfg ConsumerConfig) *Consumer {
	c := baseConsumer(reader, observer, cfg)
	c.decode = func(ctx context.Context, message kafka.Message) (task, bool) {
		envelope, err := streaming.Decode(message.Value)
		if err != nil {
			c.decodeFailed(message, err)
			return task{}, false
		}
		if envelope.Destination != cfg.LocalDomain {
			slog.Warn("message for another domain on local topic",
				"destination", envelope.Destination,
				"message_id", envelope.MessageID.Hex(),
			)
			return task{}, false
		}
		delivery := application.Delivery{
			MessageID: envelope.MessageID,
			Via:       envelope.Via,
			Origin:    envelope.Origin,
			Sender:    envelope.Sender,
			Body:      envelope.Body,
		}
		return task{
			span:  "consumer.handle_inbound",
			id:    envelope.MessageID,
			ctx:   telemetry.MessageContext(ctx, message.Headers, envelope.TraceID),
			attrs: []attribute.KeyValue{attribute.Int64("bridge.origin", int64(envelope.Origin))},
			apply: func(ctx context.Context) ([]attribute.KeyValue, error) {
				settlement, err := handler.HandleInbound(ctx, delivery)
				if err != nil {
					return nil, err
				}
				return []attribute.KeyValue{attribute.Bool("bridge.duplicate", settlement.Duplicate)}, nil
			},
		}, true
	}
	return c
}

func newFundingConsumer(reader messageReader, handler FundingHandler, observer ConsumerObserver, cfg ConsumerConfig) *Consumer {
	c := baseConsumer(reader, observer, cfg)
	c.decode = func(ctx context.Context, message kafka.Message) (task, bool) {
		record, err := streaming.DecodeFunding(message.Value)
		if err != nil {
			c.decodeFailed(message, err)
			return task{}, false
		}
		funding, err := fundingFromRecord(record)
		if err != nil {
			c.decodeFailed(message, err)
			return task{}, false
		}
		return task{
			span:  "consumer.apply_funding",
			id:    record.ID,
			ctx:   telemetry.MessageContext(ctx, message.Headers, record.TraceID),
			attrs: []attribute.KeyValue{attribute.String("funding.kind", record.Kind)},
			apply: func(ctx context.Context) ([]attribute.KeyValue, error) {
				result, err := handler.ApplyFunding(ctx, funding)
				if err != nil {
					return nil, err
				}
				return []attribute.KeyValue{
					attribute.Bool("bridge.duplicate", result.Duplicate),
					attribute.Bool("funding.refunded", result.Refunded),
				}, nil
			},
		}, true
	}
	return c
}

func fundingFromRecord(record streaming.Funding) (application.Funding, error) {
	value, overflow := uint256.FromBig(record.Value.ToInt())
	if overflow {
		return application.Funding{}, errors.New("funding value overflows")
	}
	funding := application.Funding{
		ID:          record.ID,
		Kind:        application.FundingKind(record.Kind),
		From:        record.From,
		Value:       value,
		Destination: record.Destination,
		Recipient:   record.Recipient,
	}
	if record.Amount != nil {
		amount, overflow := uint256.FromBig(record.Amount.ToInt())
		if overflow {
			return application.Funding{}, errors.New("funding amount overflows")
		}
		funding.Amount = amount
	}
	return funding, nil
}

func baseConsumer(reader messageReader, observer ConsumerObserver, cfg ConsumerConfig) *Consumer {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Consumer{reader: reader, observer: observer, backoff: cfg.RetryBackoff}
}

func (c *Consumer) decodeFailed(message kafka.Message, err error) {
	slog.Warn("message decode error", "topic", message.Topic, "offset", message.Offset, "err", err)
	if c.observer != nil {
		c.observer.IncKafkaDecodeErr()
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.observer != nil {
				c.observer.IncKafkaFetchErr()
			}
			slog.Error("kafka fetch error", "err", err)
			if !sleep(ctx, c.backoff) {
				return ctx.Err()
			}
			continue
		}
		if err := c.process(ctx, message); err != nil {
			return err
		}
	}
}

// process applies one record, retrying transient failures in place so that
// ordering is preserved. It returns only when ctx is cancelled.
func (c *Consumer) process(ctx context.Context, message kafka.Message) error {
	work, ok := c.decode(ctx, message)
	if !ok {
		return c.commit(ctx, message)
	}

	delay := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.handle(work, attempt)
		if err == nil {
			return c.commit(ctx, message)
		}
		if c.observer != nil {
			c.observer.IncKafkaApplyErr()
		}
		if permanent(err) {
			slog.Error("record rejected",
				"topic", message.Topic,
				"id", work.id.Hex(),
				"err", err,
			)
			return c.commit(ctx, message)
		}
		slog.Warn("record failed, retrying",
			"topic", message.Topic,
			"id", work.id.Hex(),
			"attempt", attempt,
			"retry_in", delay,
			"err", err,
		)
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func (c *Consumer) handle(work task, attempt int) error {
	ctx, span := otel.Tracer("nativebridge/kafka").Start(work.ctx, work.span, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(append(work.attrs,
		attribute.String("bridge.message_id", work.id.Hex()),
		attribute.Int("attempt", attempt),
	)...)
	attrs, err := work.apply(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attrs...)
	return nil
}

func (c *Consumer) commit(ctx context.Context, message kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, message); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("kafka commit error", "offset", message.Offset, "err", err)
	}
	return nil
}

// permanent reports errors that no retry can fix.
func permanent(err error) bool {
	return errors.Is(err, application.ErrUnauthorized) ||
		errors.Is(err, application.ErrMalformedMessage) ||
		errors.Is(err, application.ErrInvariantViolation)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
