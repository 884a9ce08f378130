package logging

import (
	"context"
	"log/slog"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// EventLogger is an event sink that only writes bridge events to the log.
type EventLogger struct {
	logger *slog.Logger
}

func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{logger: logger}
}

func (l *EventLogger) Publish(ctx context.Context, events []domain.Event) error {
	for _, event := range events {
		l.logger.InfoContext(ctx, "bridge event", eventAttrs(event)...)
	}
	return nil
}

func eventAttrs(event domain.Event) []any {
	attrs := []any{"type", string(event.Type)}
	if event.Account != (common.Address{}) {
		attrs = append(attrs, "account", event.Account.Hex())
	}
	if event.Recipient != (common.Hash{}) {
		attrs = append(attrs, "recipient", event.Recipient.Hex())
	}
	if event.Chain != 0 {
		attrs = append(attrs, "chain", event.Chain)
	}
	if event.TransferID != 0 {
		attrs = append(attrs, "transfer_id", event.TransferID)
	}
	if event.MessageID != (common.Hash{}) {
		attrs = append(attrs, "message_id", event.MessageID.Hex())
	}
	if event.Amount != nil {
		attrs = append(attrs, "amount", domain.FormatAmount(event.Amount))
	}
	if event.Shares != nil {
		attrs = append(attrs, "shares", domain.FormatAmount(event.Shares))
	}
	if event.USDAmount != nil {
		attrs = append(attrs, "usd_amount", domain.FormatAmount(event.USDAmount))
	}
	if event.Fee != nil {
		attrs = append(attrs, "fee", domain.FormatAmount(event.Fee))
	}
	if event.Height != 0 {
		attrs = append(attrs, "height", event.Height)
	}
	return attrs
}
