package kafka

import (
	"context"
	"encoding/binary"
	"errors"

	"nativebridge/internal/domain"
	"nativebridge/internal/infrastructure/telemetry"
	"nativebridge/internal/streaming"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
)

type TransportConfig struct {
	LocalDomain uint32
	// Sender identifies this bridge to the counterpart.
	Sender common.Hash
	// Via is the transport identity stamped on every envelope.
	Via common.Address
	Fee *uint256.Int
}

// Transport carries cross-chain messages over kafka: one topic per destination
// domain. Message ids derive from the message itself, so redelivering the same
// transfer yields the same id and the counterpart applies it once.
type Transport struct {
	producer *Producer
	cfg      TransportConfig
}

func NewTransport(producer *Producer, cfg TransportConfig) (*Transport, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	if cfg.LocalDomain == 0 {
		return nil, errors.New("local domain is required")
	}
	cfg.Fee = domain.Clone(cfg.Fee)
	return &Transport{producer: producer, cfg: cfg}, nil
}

func (t *Transport) Quote(context.Context, uint32, common.Hash, []byte) (*uint256.Int, error) {
	return domain.Clone(t.cfg.Fee), nil
}

func (t *Transport) Dispatch(ctx context.Context, destination uint32, recipient common.Hash, body []byte, value *uint256.Int) (common.Hash, error) {
	id := t.messageID(destination, recipient, body)
	payload, err := streaming.Encode(streaming.Envelope{
		Type:        streaming.MessageTypeTransfer,
		MessageID:   id,
		Origin:      t.cfg.LocalDomain,
		Sender:      t.cfg.Sender,
		Via:         t.cfg.Via,
		Destination: destination,
		Recipient:   recipient,
		Body:        body,
		Value:       (*hexutil.Big)(domain.Clone(value).ToBig()),
		TraceID:     telemetry.TraceID(ctx),
	})
	if err != nil {
		return common.Hash{}, err
	}
	err = t.producer.publish(ctx, "transport.dispatch", t.producer.topicForDomain(destination), id.Bytes(), payload,
		attribute.Int64("bridge.destination", int64(destination)),
		attribute.String("bridge.message_id", id.Hex()),
	)
	if err != nil {
		return common.Hash{}, err
	}
	return id, nil
}

// messageID hashes the route and body. Bodies carry the transfer id, which is
// unique per origin.
func (t *Transport) messageID(destination uint32, recipient common.Hash, body []byte) common.Hash {
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], t.cfg.LocalDomain)
	binary.BigEndian.PutUint32(header[4:8], destination)
	return crypto.Keccak256Hash(header[:], t.cfg.Sender.Bytes(), recipient.Bytes(), body)
}
