package insurance

import (
	"context"
	"errors"
	"testing"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type memoryReserve struct {
	value  *uint256.Int
	claims map[common.Hash]bool
	saves  int
	err    error
	// settleErr fails claim settlement only.
	settleErr error
}

func newMemoryReserve(value *uint256.Int) *memoryReserve {
	return &memoryReserve{value: value, claims: make(map[common.Hash]bool)}
}

func (m *memoryReserve) LoadReserve(context.Context) (*uint256.Int, bool, error) {
	if m.value == nil {
		return nil, false, nil
	}
	return new(uint256.Int).Set(m.value), true, nil
}

func (m *memoryReserve) SaveReserve(_ context.Context, reserve *uint256.Int) error {
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.value = new(uint256.Int).Set(reserve)
	return nil
}

func (m *memoryReserve) ClaimOutcome(_ context.Context, id common.Hash) (bool, bool, error) {
	paid, found := m.claims[id]
	return paid, found, nil
}

func (m *memoryReserve) SettleClaim(_ context.Context, id common.Hash, paid bool, reserve *uint256.Int) error {
	if m.settleErr != nil {
		return m.settleErr
	}
	m.claims[id] = paid
	m.value = new(uint256.Int).Set(reserve)
	return nil
}

type recordingPayer struct {
	ids  []common.Hash
	paid []*uint256.Int
	err  error
}

func (r *recordingPayer) Pay(_ context.Context, id common.Hash, _ common.Address, amount *uint256.Int) error {
	if r.err != nil {
		return r.err
	}
	r.ids = append(r.ids, id)
	r.paid = append(r.paid, amount)
	return nil
}

func claim(id string, native uint64) domain.ReorgClaim {
	return domain.ReorgClaim{ID: common.HexToHash(id), Origin: 2, TransferID: 5, Height: 40, Native: uint256.NewInt(native)}
}

func TestVaultSeedsEmptyStore(t *testing.T) {
	store := newMemoryReserve(nil)
	vault, err := NewVault(context.Background(), store, &recordingPayer{}, Config{Seed: uint256.NewInt(100)})
	require.NoError(t, err)

	balance, err := vault.Balance(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(100), balance)
	require.Equal(t, uint256.NewInt(100), store.value)
}

func TestVaultKeepsStoredReserve(t *testing.T) {
	store := newMemoryReserve(uint256.NewInt(7))
	vault, err := NewVault(context.Background(), store, &recordingPayer{}, Config{Seed: uint256.NewInt(100)})
	require.NoError(t, err)
	balance, _ := vault.Balance(context.Background())
	require.Equal(t, uint256.NewInt(7), balance)
}

func TestVaultLiquidation(t *testing.T) {
	ctx := context.Background()
	store := newMemoryReserve(uint256.NewInt(50))
	payer := &recordingPayer{}
	vault, err := NewVault(ctx, store, payer, Config{})
	require.NoError(t, err)

	require.NoError(t, vault.Deposit(ctx, uint256.NewInt(10)))
	ok, err := vault.LiquidateForReorg(ctx, claim("0x01", 60))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []common.Hash{common.HexToHash("0x01")}, payer.ids)

	ok, err = vault.LiquidateForReorg(ctx, claim("0x02", 1))
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, payer.paid, 1)
	require.True(t, store.value.IsZero())
	require.Equal(t, map[common.Hash]bool{common.HexToHash("0x01"): true, common.HexToHash("0x02"): false}, store.claims)
}

func TestVaultSettlesClaimOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemoryReserve(uint256.NewInt(50))
	payer := &recordingPayer{}
	vault, err := NewVault(ctx, store, payer, Config{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := vault.LiquidateForReorg(ctx, claim("0x01", 20))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Len(t, payer.paid, 1)
	balance, _ := vault.Balance(ctx)
	require.Equal(t, uint256.NewInt(30), balance)

	// A restarted vault reads the outcome back from the store.
	restarted, err := NewVault(ctx, store, payer, Config{})
	require.NoError(t, err)
	ok, err := restarted.LiquidateForReorg(ctx, claim("0x01", 20))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, payer.paid, 1)
	balance, _ = restarted.Balance(ctx)
	require.Equal(t, uint256.NewInt(30), balance)
}

func TestVaultRetryAfterSettleFailurePaysOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemoryReserve(uint256.NewInt(50))
	payer := &recordingPayer{}
	vault, err := NewVault(ctx, store, payer, Config{})
	require.NoError(t, err)

	store.settleErr = errors.New("tx aborted")
	_, err = vault.LiquidateForReorg(ctx, claim("0x01", 20))
	require.Error(t, err)
	require.Len(t, payer.paid, 1)

	store.settleErr = nil
	ok, err := vault.LiquidateForReorg(ctx, claim("0x01", 20))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, payer.paid, 1)
	require.Equal(t, uint256.NewInt(30), store.value)
	require.True(t, store.claims[common.HexToHash("0x01")])
}

func TestVaultPayoutFailureKeepsReserve(t *testing.T) {
	ctx := context.Background()
	store := newMemoryReserve(uint256.NewInt(50))
	vault, err := NewVault(ctx, store, &recordingPayer{err: errors.New("kafka down")}, Config{})
	require.NoError(t, err)

	ok, err := vault.LiquidateForReorg(ctx, claim("0x01", 20))
	require.Error(t, err)
	require.False(t, ok)
	balance, _ := vault.Balance(ctx)
	require.Equal(t, uint256.NewInt(50), balance)
	require.Equal(t, uint256.NewInt(50), store.value)
	require.Empty(t, store.claims)
}

func TestVaultReverseDeposit(t *testing.T) {
	ctx := context.Background()
	store := newMemoryReserve(uint256.NewInt(50))
	vault, err := NewVault(ctx, store, &recordingPayer{}, Config{})
	require.NoError(t, err)

	require.NoError(t, vault.Deposit(ctx, uint256.NewInt(20)))
	require.NoError(t, vault.ReverseDeposit(ctx, uint256.NewInt(20)))
	balance, _ := vault.Balance(ctx)
	require.Equal(t, uint256.NewInt(50), balance)
	require.Equal(t, uint256.NewInt(50), store.value)

	require.Error(t, vault.ReverseDeposit(ctx, uint256.NewInt(51)))
	balance, _ = vault.Balance(ctx)
	require.Equal(t, uint256.NewInt(50), balance)
}
