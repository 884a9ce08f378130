package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type EventType string

const (
	EventDonationReceived   EventType = "donation_received"
	EventLiquidityDeposited EventType = "liquidity_deposited"
	EventLiquidityWithdrawn EventType = "liquidity_withdrawn"
	EventFeesClaimed        EventType = "fees_claimed"
	EventTransferSent       EventType = "transfer_sent"
	EventTransferReceived   EventType = "transfer_received"
	EventReorgCompensated   EventType = "reorg_compensated"
)

// Event is an externally observable side effect of a committed operation.
// Only the fields relevant to Type are populated.
type Event struct {
	Type       EventType
	Account    common.Address
	Recipient  common.Hash
	Chain      uint32
	TransferID uint64
	MessageID  common.Hash
	Amount     *uint256.Int
	Shares     *uint256.Int
	USDAmount  *uint256.Int
	Fee        *uint256.Int
	Height     uint64
}
