package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
)

type eventRecord struct {
	Type       domain.EventType `json:"type"`
	Account    *common.Address  `json:"account,omitempty"`
	Recipient  *common.Hash     `json:"recipient,omitempty"`
	Chain      uint32           `json:"chain,omitempty"`
	TransferID uint64           `json:"transfer_id,omitempty"`
	MessageID  *common.Hash     `json:"message_id,omitempty"`
	Amount     string           `json:"amount,omitempty"`
	Shares     string           `json:"shares,omitempty"`
	USDAmount  string           `json:"usd_amount,omitempty"`
	Fee        string           `json:"fee,omitempty"`
	Height     uint64           `json:"height,omitempty"`
}

// EventPublisher writes committed engine events to <prefix>-events.
type EventPublisher struct {
	producer *Producer
}

func NewEventPublisher(producer *Producer) (*EventPublisher, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	return &EventPublisher{producer: producer}, nil
}

func (p *EventPublisher) Publish(ctx context.Context, events []domain.Event) error {
	var errs []error
	for _, event := range events {
		payload, err := json.Marshal(toRecord(event))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.producer.publish(ctx, "events.publish", p.producer.topic("events"), []byte(event.Type), payload,
			attribute.String("event.type", string(event.Type)),
		); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func toRecord(event domain.Event) eventRecord {
	record := eventRecord{
		Type:       event.Type,
		Chain:      event.Chain,
		TransferID: event.TransferID,
		Height:     event.Height,
	}
	if event.Account != (common.Address{}) {
		record.Account = &event.Account
	}
	if event.Recipient != (common.Hash{}) {
		record.Recipient = &event.Recipient
	}
	if event.MessageID != (common.Hash{}) {
		record.MessageID = &event.MessageID
	}
	if event.Amount != nil {
		record.Amount = domain.FormatAmount(event.Amount)
	}
	if event.Shares != nil {
		record.Shares = domain.FormatAmount(event.Shares)
	}
	if event.USDAmount != nil {
		record.USDAmount = domain.FormatAmount(event.USDAmount)
	}
	if event.Fee != nil {
		record.Fee = domain.FormatAmount(event.Fee)
	}
	return record
}
