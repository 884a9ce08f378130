package kafka

import (
	"context"
	"errors"

	"nativebridge/internal/domain"
	"nativebridge/internal/infrastructure/telemetry"
	"nativebridge/internal/streaming"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
)

// PayoutOutbox hands native payouts to the signing wallet through the
// <prefix>-payouts topic. The wallet sends each payout id at most once, so a
// retried operation may publish the same payout again.
type PayoutOutbox struct {
	producer *Producer
}

func NewPayoutOutbox(producer *Producer) (*PayoutOutbox, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	return &PayoutOutbox{producer: producer}, nil
}

func (o *PayoutOutbox) Pay(ctx context.Context, id common.Hash, to common.Address, amount *uint256.Int) error {
	if id == (common.Hash{}) {
		return errors.New("payout id is required")
	}
	payload, err := streaming.EncodePayout(streaming.Payout{
		ID:      id,
		To:      to,
		Amount:  (*hexutil.Big)(amount.ToBig()),
		TraceID: telemetry.TraceID(ctx),
	})
	if err != nil {
		return err
	}
	return o.producer.publish(ctx, "payout.publish", o.producer.topic("payouts"), to.Bytes(), payload,
		attribute.String("payout.id", id.Hex()),
		attribute.String("payout.to", to.Hex()),
		attribute.String("payout.amount", domain.FormatAmount(amount)),
	)
}
