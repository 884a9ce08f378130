package application

import (
	"context"
	"testing"

	"nativebridge/internal/domain"

	"github.com/stretchr/testify/require"
)

func usdPrice(dollars uint64) domain.Price {
	return domain.Price{Value: amt(dollars * 100_000_000), Decimals: 8}
}

func inboundKey(origin uint32, id uint64) domain.TransferKey {
	return domain.TransferKey{Direction: domain.Inbound, Chain: origin, ID: id}
}

func TestTransferLedgerRecordsWithoutReorg(t *testing.T) {
	insurance := &mockInsurance{balance: amt(0)}
	ledger := NewTransferLedger(insurance, nil)
	u := newUnitOfWork()

	displaced, err := ledger.Record(u, inboundKey(2, 1), ether(100), 10, usdPrice(2000))
	require.NoError(t, err)
	require.Nil(t, displaced)
	require.Empty(t, u.effects)

	record, ok := ledger.Lookup(inboundKey(2, 1))
	require.True(t, ok)
	require.Equal(t, ether(100), record.USDAmount)
	require.Equal(t, uint64(10), record.RecordedAtHeight)
}

func TestTransferLedgerCompensatesReorgAtCurrentPrice(t *testing.T) {
	ctx := context.Background()
	insurance := &mockInsurance{balance: amt(0)}
	observer := newMockObserver()
	ledger := NewTransferLedger(insurance, observer)

	u := newUnitOfWork()
	_, err := ledger.Record(u, inboundKey(2, 7), ether(4000), 10, usdPrice(2000))
	require.NoError(t, err)

	u = newUnitOfWork()
	displaced, err := ledger.Record(u, inboundKey(2, 7), ether(1000), 12, usdPrice(4000))
	require.NoError(t, err)
	require.NotNil(t, displaced)
	require.Equal(t, ether(4000), displaced.USDAmount)
	require.Equal(t, uint64(10), displaced.OriginalHeight)
	require.Equal(t, uint64(7), displaced.OriginalTransferID)

	require.NoError(t, runAll(ctx, u))
	require.Len(t, insurance.liquidations, 1)
	require.Equal(t, ether(1), insurance.liquidations[0])
	claim := insurance.claims[0]
	require.Equal(t, uint32(2), claim.Origin)
	require.Equal(t, uint64(7), claim.TransferID)
	require.Equal(t, uint64(10), claim.Height)
	require.Equal(t, claimID(*displaced), claim.ID)
	require.Equal(t, 1, observer.reorgs[true])
	require.Len(t, u.events, 1)
	require.Equal(t, domain.EventReorgCompensated, u.events[0].Type)

	record, _ := ledger.Lookup(inboundKey(2, 7))
	require.Equal(t, ether(1000), record.USDAmount)
	require.Len(t, ledger.Reorgs(2), 1)
	require.Empty(t, ledger.Reorgs(3))
}

func TestTransferLedgerOutboundNeverCompensates(t *testing.T) {
	insurance := &mockInsurance{balance: amt(0)}
	ledger := NewTransferLedger(insurance, nil)
	key := domain.TransferKey{Direction: domain.Outbound, Chain: 2, ID: 1}

	u := newUnitOfWork()
	_, err := ledger.Record(u, key, ether(5), 1, usdPrice(1))
	require.NoError(t, err)
	displaced, err := ledger.Record(u, key, ether(6), 2, usdPrice(1))
	require.NoError(t, err)
	require.Nil(t, displaced)
	require.Empty(t, u.effects)
	require.Empty(t, ledger.Reorgs(2))
}

func TestTransferLedgerZeroRecordIsNotAReorg(t *testing.T) {
	insurance := &mockInsurance{balance: amt(0)}
	ledger := NewTransferLedger(insurance, nil)
	u := newUnitOfWork()

	_, err := ledger.Record(u, inboundKey(2, 1), amt(0), 1, usdPrice(1))
	require.NoError(t, err)
	displaced, err := ledger.Record(u, inboundKey(2, 1), ether(1), 2, usdPrice(1))
	require.NoError(t, err)
	require.Nil(t, displaced)
	require.Empty(t, u.effects)
}

func TestTransferLedgerExemptHeightSkipsLiquidation(t *testing.T) {
	ctx := context.Background()
	insurance := &mockInsurance{balance: amt(0)}
	observer := newMockObserver()
	ledger := NewTransferLedger(insurance, observer)

	u := newUnitOfWork()
	ledger.Exempt(u, domain.ReorgExemption{Origin: 2, Height: 10})
	require.True(t, ledger.IsExempt(2, 10))
	_, err := ledger.Record(u, inboundKey(2, 1), ether(10), 10, usdPrice(1))
	require.NoError(t, err)

	displaced, err := ledger.Record(u, inboundKey(2, 1), ether(10), 11, usdPrice(1))
	require.NoError(t, err)
	require.NotNil(t, displaced)
	require.NoError(t, runAll(ctx, u))
	require.Empty(t, insurance.liquidations)
	require.Equal(t, 1, observer.reorgs[false])
	require.Len(t, ledger.Reorgs(2), 1)
}

func TestTransferLedgerDeclinedLiquidationStillSettles(t *testing.T) {
	ctx := context.Background()
	insurance := &mockInsurance{balance: amt(0), decline: true}
	observer := newMockObserver()
	ledger := NewTransferLedger(insurance, observer)

	u := newUnitOfWork()
	_, err := ledger.Record(u, inboundKey(2, 1), ether(10), 1, usdPrice(1))
	require.NoError(t, err)
	_, err = ledger.Record(u, inboundKey(2, 1), ether(20), 2, usdPrice(1))
	require.NoError(t, err)
	require.NoError(t, runAll(ctx, u))
	require.Equal(t, 1, observer.reorgs[false])
}

func TestTransferLedgerRevert(t *testing.T) {
	insurance := &mockInsurance{balance: amt(0)}
	ledger := NewTransferLedger(insurance, nil)

	u := newUnitOfWork()
	_, err := ledger.Record(u, inboundKey(2, 1), ether(10), 1, usdPrice(1))
	require.NoError(t, err)

	u = newUnitOfWork()
	_, err = ledger.Record(u, inboundKey(2, 1), ether(20), 2, usdPrice(1))
	require.NoError(t, err)
	_, err = ledger.Record(u, inboundKey(2, 2), ether(5), 2, usdPrice(1))
	require.NoError(t, err)
	u.revert()

	record, ok := ledger.Lookup(inboundKey(2, 1))
	require.True(t, ok)
	require.Equal(t, ether(10), record.USDAmount)
	_, ok = ledger.Lookup(inboundKey(2, 2))
	require.False(t, ok)
	require.Empty(t, ledger.Reorgs(2))
}
