package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type FundingKind string

const (
	FundingDeposit  FundingKind = "deposit"
	FundingDonation FundingKind = "donation"
	FundingTransfer FundingKind = "transfer"
)

// Funding is native value the bridge has received on chain, reported by the
// wallet that watches the bridge address. ID is the funding transaction hash;
// each ID is applied once.
type Funding struct {
	ID    common.Hash
	Kind  FundingKind
	From  common.Address
	Value *uint256.Int
	// Destination, Recipient and Amount apply to FundingTransfer. A zero
	// Amount bridges the whole Value.
	Destination uint32
	Recipient   common.Hash
	Amount      *uint256.Int
}

type FundingResult struct {
	Duplicate bool
	// Refunded is set when the funding was rejected and its value returned.
	Refunded bool
	Reason   string
	Shares   *uint256.Int
	Receipt  TransferReceipt
}

// ApplyFunding turns received value into a deposit, a donation or an outbound
// transfer, priced on what actually arrived. A funding the engine rejects for
// good is refunded to its sender.
func (c *Controller) ApplyFunding(ctx context.Context, funding Funding) (FundingResult, error) {
	if funding.ID == (common.Hash{}) {
		return FundingResult{}, fmt.Errorf("%w: funding id is required", ErrMalformedMessage)
	}
	if funding.Value == nil || funding.Value.IsZero() {
		return FundingResult{}, fmt.Errorf("%w: funding carries no value", ErrMalformedMessage)
	}
	result, err := c.applyFunding(ctx, funding)
	if err != nil && refundable(err) {
		return c.refundFunding(ctx, funding, err)
	}
	return result, err
}

func (c *Controller) applyFunding(ctx context.Context, funding Funding) (FundingResult, error) {
	var (
		result  FundingResult
		receipt *TransferReceipt
	)
	err := c.execute(ctx, "apply_funding", func(ctx context.Context, u *unitOfWork) error {
		if c.processed(funding.ID) {
			result.Duplicate = true
			return nil
		}
		u.scope = funding.ID

		var err error
		switch funding.Kind {
		case FundingDeposit:
			result.Shares, err = c.deposit(u, funding.From, domain.Clone(funding.Value))
		case FundingDonation:
			err = c.donate(u, funding.From, domain.Clone(funding.Value))
		case FundingTransfer:
			amount := funding.Amount
			if amount == nil || amount.IsZero() {
				amount = domain.Clone(funding.Value)
			}
			receipt, err = c.transferRemote(ctx, u, TransferRequest{
				Sender:      funding.From,
				Destination: funding.Destination,
				Recipient:   funding.Recipient,
				Amount:      amount,
				Value:       domain.Clone(funding.Value),
			})
		default:
			return fmt.Errorf("%w: unknown funding kind %q", ErrMalformedMessage, funding.Kind)
		}
		if err != nil {
			return err
		}
		c.markProcessed(u, funding.ID)
		return nil
	})
	if err != nil {
		return FundingResult{}, err
	}
	if receipt != nil {
		result.Receipt = *receipt
	}
	return result, nil
}

func (c *Controller) refundFunding(ctx context.Context, funding Funding, cause error) (FundingResult, error) {
	result := FundingResult{Refunded: true, Reason: cause.Error()}
	err := c.execute(ctx, "refund_funding", func(ctx context.Context, u *unitOfWork) error {
		if c.processed(funding.ID) {
			result = FundingResult{Duplicate: true}
			return nil
		}
		u.scope = funding.ID
		value := domain.Clone(funding.Value)
		if err := c.fees.Credit(u, value); err != nil {
			return err
		}
		if err := c.fees.Pay(u, funding.From, value); err != nil {
			return err
		}
		c.markProcessed(u, funding.ID)
		return nil
	})
	if err != nil {
		return FundingResult{}, fmt.Errorf("refund after %v: %w", cause, err)
	}
	slog.Warn("funding rejected and refunded",
		"funding", funding.ID.Hex(),
		"kind", funding.Kind,
		"from", funding.From.Hex(),
		"value", domain.FormatAmount(funding.Value),
		"reason", cause,
	)
	return result, nil
}

// refundable reports rejections no retry of the same funding can fix.
func refundable(err error) bool {
	for _, target := range []error{
		ErrZeroAmount, ErrZeroDeposit, ErrInsufficientValue, ErrMalformedMessage,
		ErrUnknownDestination, ErrTransportUnset, ErrCounterpartUnset,
		ErrExposureLimit, ErrDestinationLiquidity,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
