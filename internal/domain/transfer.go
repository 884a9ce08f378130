package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Direction separates the records this bridge sent from those it received.
type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// TransferKey identifies a ledger slot. Chain is the destination domain for
// outbound records and the origin domain for inbound ones.
type TransferKey struct {
	Direction Direction
	Chain     uint32
	ID        uint64
}

func (k TransferKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.Direction, k.Chain, k.ID)
}

// TransferRecord is the settled USD value of a transfer and the height it was recorded at.
type TransferRecord struct {
	USDAmount        *uint256.Int
	RecordedAtHeight uint64
}

// TransferEntry pairs a record with its key for persistence and listings.
type TransferEntry struct {
	Key    TransferKey
	Record TransferRecord
}

// ReorgedTransfer is a displaced inbound record. Never mutated after insertion.
type ReorgedTransfer struct {
	Origin             uint32
	USDAmount          *uint256.Int
	OriginalHeight     uint64
	OriginalTransferID uint64
}

// PendingTransfer is an outbound transfer still inside the finality window.
type PendingTransfer struct {
	USDAmount         *uint256.Int
	InitiatedAtHeight uint64
}

// ReorgExemption marks an origin height whose displaced records are not compensated.
type ReorgExemption struct {
	Origin uint32
	Height uint64
}

// Price is an asset/USD quote. Value carries Decimals decimals.
type Price struct {
	Value    *uint256.Int
	Decimals uint8
	AsOf     time.Time
}

// Metadata travels with every outbound message and reports the sender's exposure.
type Metadata struct {
	InsuranceUSD *uint256.Int
	LiquidityUSD *uint256.Int
	TransferID   uint64
	OriginHeight uint64
}

// ReorgClaim asks the insurance fund to absorb a displaced inbound record.
// ID is stable across retries of the delivery that displaced the record.
type ReorgClaim struct {
	ID         common.Hash
	Origin     uint32
	TransferID uint64
	Height     uint64
	Native     *uint256.Int
}
