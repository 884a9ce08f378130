package application

import (
	"context"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type PriceOracle interface {
	LatestPrice(ctx context.Context) (domain.Price, error)
}

// InsuranceFund holds the reserve backing unfinalized transfers.
// LiquidateForReorg settles a claim ID at most once; a repeated ID returns the
// first outcome without paying again.
type InsuranceFund interface {
	Balance(ctx context.Context) (*uint256.Int, error)
	Deposit(ctx context.Context, amount *uint256.Int) error
	// ReverseDeposit takes back a Deposit made by an operation that failed.
	ReverseDeposit(ctx context.Context, amount *uint256.Int) error
	LiquidateForReorg(ctx context.Context, claim domain.ReorgClaim) (bool, error)
}

type Transport interface {
	Quote(ctx context.Context, destination uint32, recipient common.Hash, body []byte) (*uint256.Int, error)
	Dispatch(ctx context.Context, destination uint32, recipient common.Hash, body []byte, value *uint256.Int) (common.Hash, error)
}

// Payer moves native value out of the bridge to an external address. A
// payout id derives from the operation that issued it, so a retried
// operation repeats the id and the payer must pay it once.
type Payer interface {
	Pay(ctx context.Context, id common.Hash, to common.Address, amount *uint256.Int) error
}

type HeightSource interface {
	LatestHeight(ctx context.Context) (uint64, error)
}

type EventSink interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// Store persists engine state. Apply must write a changeset atomically.
// deliver runs after the changeset is written and before it commits; an
// error from deliver discards the write.
type Store interface {
	Load(ctx context.Context) (domain.Snapshot, error)
	Apply(ctx context.Context, changes Changes, deliver func(context.Context) error) error
}

// Observer receives operational signals, typically for metrics.
type Observer interface {
	OnOperation(op string, err error)
	OnPending(count int, amount *uint256.Int)
	OnReorg(origin uint32, compensated bool)
}

// Changes is the persisted footprint of one committed operation.
type Changes struct {
	Globals    domain.Globals
	Accounts   []domain.Account
	Transfers  []domain.TransferEntry
	Reorgs     []domain.ReorgedTransfer
	Pending    []domain.PendingTransfer
	PendingSet bool
	Exemptions []domain.ReorgExemption
	Deliveries []common.Hash
}
