package application

import (
	"context"
	"testing"

	"nativebridge/internal/domain"
	"nativebridge/internal/streaming"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func fundingID(n string) common.Hash {
	return crypto.Keccak256Hash([]byte(n))
}

func TestApplyFundingDepositIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	funding := Funding{ID: fundingID("tx1"), Kind: FundingDeposit, From: alice, Value: amt(1000)}

	result, err := h.c.ApplyFunding(ctx, funding)
	require.NoError(t, err)
	require.Equal(t, amt(1000), result.Shares)

	result, err = h.c.ApplyFunding(ctx, funding)
	require.NoError(t, err)
	require.True(t, result.Duplicate)

	shares, err := h.c.Shares(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, amt(1000), shares)
	state, err := h.c.State(ctx)
	require.NoError(t, err)
	require.Equal(t, amt(1000), state.Balance)
	require.Contains(t, h.store.applied[0].Deliveries, funding.ID)
}

func TestApplyFundingDonation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.c.ApplyFunding(ctx, Funding{ID: fundingID("tx1"), Kind: FundingDeposit, From: alice, Value: amt(1000)})
	require.NoError(t, err)

	_, err = h.c.ApplyFunding(ctx, Funding{ID: fundingID("tx2"), Kind: FundingDonation, From: carol, Value: amt(500)})
	require.NoError(t, err)

	value, err := h.c.WithdrawableValue(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, amt(1500), value)
	require.Len(t, h.events.ofType(domain.EventDonationReceived), 1)
}

func TestApplyFundingTransferBridgesReceivedValue(t *testing.T) {
	ctx := context.Background()
	h := configured(t)
	_, err := h.c.HandleInbound(ctx, delivery(t, 1, 1, ether(2000), 40, carol))
	require.NoError(t, err)

	result, err := h.c.ApplyFunding(ctx, Funding{
		ID:          fundingID("tx1"),
		Kind:        FundingTransfer,
		From:        alice,
		Value:       ether(1),
		Destination: remoteDomain,
		Recipient:   streaming.AddressToRecipient(carol),
	})
	require.NoError(t, err)
	require.False(t, result.Refunded)
	require.Equal(t, uint64(1), result.Receipt.TransferID)
	require.NotEqual(t, common.Hash{}, result.Receipt.MessageID)
	require.Len(t, h.transport.sent, 1)
}

func TestApplyFundingRefundsRejectedTransfer(t *testing.T) {
	ctx := context.Background()
	h := configured(t)
	_, err := h.c.HandleInbound(ctx, delivery(t, 1, 1, ether(2000), 40, carol))
	require.NoError(t, err)
	h.insurance.balance = amt(0)
	before, err := h.c.State(ctx)
	require.NoError(t, err)
	deposited := h.insurance.deposited()
	payments := len(h.payer.payments)

	funding := Funding{
		ID:          fundingID("tx1"),
		Kind:        FundingTransfer,
		From:        alice,
		Value:       ether(1),
		Destination: remoteDomain,
		Recipient:   streaming.AddressToRecipient(carol),
	}
	result, err := h.c.ApplyFunding(ctx, funding)
	require.NoError(t, err)
	require.True(t, result.Refunded)
	require.Contains(t, result.Reason, ErrExposureLimit.Error())

	require.Len(t, h.payer.payments, payments+1)
	refund := h.payer.payments[payments]
	require.Equal(t, alice, refund.to)
	require.Equal(t, ether(1), refund.amount)
	require.Empty(t, h.transport.sent)
	require.Equal(t, deposited, h.insurance.deposited())

	after, err := h.c.State(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)

	result, err = h.c.ApplyFunding(ctx, funding)
	require.NoError(t, err)
	require.True(t, result.Duplicate)
	require.Len(t, h.payer.payments, payments+1)
}

func TestApplyFundingKeepsTransientFailures(t *testing.T) {
	ctx := context.Background()
	h := configured(t)
	funding := Funding{ID: fundingID("tx1"), Kind: FundingDeposit, From: alice, Value: amt(1000)}

	h.store.err = errBoom
	_, err := h.c.ApplyFunding(ctx, funding)
	require.ErrorIs(t, err, errBoom)
	require.Empty(t, h.payer.payments)

	h.store.err = nil
	result, err := h.c.ApplyFunding(ctx, funding)
	require.NoError(t, err)
	require.Equal(t, amt(1000), result.Shares)
}

func TestApplyFundingValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.c.ApplyFunding(ctx, Funding{Kind: FundingDeposit, From: alice, Value: amt(1)})
	require.ErrorIs(t, err, ErrMalformedMessage)
	_, err = h.c.ApplyFunding(ctx, Funding{ID: fundingID("tx1"), Kind: FundingDeposit, From: alice})
	require.ErrorIs(t, err, ErrMalformedMessage)

	result, err := h.c.ApplyFunding(ctx, Funding{ID: fundingID("tx2"), Kind: "mint", From: alice, Value: amt(7)})
	require.NoError(t, err)
	require.True(t, result.Refunded)
	require.Equal(t, amt(7), h.payer.paidTo(alice))
}
