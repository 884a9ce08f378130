package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Account is a liquidity provider's share count and fee index checkpoint.
type Account struct {
	Address       common.Address
	Shares        *uint256.Int
	FeeCheckpoint *uint256.Int
}

// IsEmpty reports whether the account holds nothing worth persisting.
func (a Account) IsEmpty() bool {
	return (a.Shares == nil || a.Shares.IsZero()) && (a.FeeCheckpoint == nil || a.FeeCheckpoint.IsZero())
}

// Counterpart is the remote bridge this engine settles with.
type Counterpart struct {
	Domain  uint32
	Address common.Hash
}

// IsSet reports whether an owner registered a counterpart.
func (c Counterpart) IsSet() bool {
	return c.Domain != 0 && c.Address != (common.Hash{})
}

// Globals holds the scalar state of the engine.
type Globals struct {
	TotalShares            *uint256.Int
	FeeIndex               *uint256.Int
	TotalFees              *uint256.Int
	Balance                *uint256.Int
	PendingAmount          *uint256.Int
	NextTransferID         uint64
	OtherChainInsuranceUSD *uint256.Int
	OtherChainLiquidityUSD *uint256.Int
	Owner                  common.Address
	Transport              common.Address
	Counterpart            Counterpart
}

// TotalLiquidity is the pool value excluding reserved fees.
func (g Globals) TotalLiquidity() *uint256.Int {
	balance := Clone(g.Balance)
	fees := Clone(g.TotalFees)
	if balance.Lt(fees) {
		return Zero()
	}
	return balance.Sub(balance, fees)
}

// Snapshot is the full persisted state loaded at startup.
type Snapshot struct {
	Globals    Globals
	Accounts   []Account
	Transfers  []TransferEntry
	Reorgs     []ReorgedTransfer
	Pending    []PendingTransfer
	Exemptions []ReorgExemption
	Deliveries []common.Hash
}
