package streaming

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type MessageType string

const (
	MessageTypeTransfer MessageType = "transfer"
	MessageTypePayout   MessageType = "payout"
	MessageTypeFunding  MessageType = "funding"
)

// Envelope is the kafka wire form of a cross-chain message. Body holds the
// ABI-encoded TransferBody.
type Envelope struct {
	Type        MessageType    `json:"type"`
	MessageID   common.Hash    `json:"message_id"`
	Origin      uint32         `json:"origin"`
	Sender      common.Hash    `json:"sender"`
	Via         common.Address `json:"via"`
	Destination uint32         `json:"destination"`
	Recipient   common.Hash    `json:"recipient"`
	Body        hexutil.Bytes  `json:"body"`
	Value       *hexutil.Big   `json:"value,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
}

func Encode(msg Envelope) ([]byte, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Envelope, error) {
	var msg Envelope
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Envelope{}, err
	}
	if err := validate(msg); err != nil {
		return Envelope{}, err
	}
	return msg, nil
}

func validate(msg Envelope) error {
	if msg.Type != MessageTypeTransfer {
		return errors.New("message type is missing or unsupported")
	}
	if msg.Origin == 0 || msg.Destination == 0 {
		return errors.New("origin and destination are required")
	}
	if msg.MessageID == (common.Hash{}) {
		return errors.New("message_id is required")
	}
	return nil
}

// Payout is an instruction for the signing wallet to send native value.
type Payout struct {
	Type    MessageType    `json:"type"`
	ID      common.Hash    `json:"id"`
	To      common.Address `json:"to"`
	Amount  *hexutil.Big   `json:"amount"`
	TraceID string         `json:"trace_id,omitempty"`
}

func EncodePayout(p Payout) ([]byte, error) {
	if p.Amount == nil {
		return nil, errors.New("payout amount is required")
	}
	p.Type = MessageTypePayout
	return json.Marshal(p)
}

// Funding reports native value that arrived at the bridge address. The wallet
// watching the chain publishes one per funding transaction; ID is its hash.
type Funding struct {
	Type        MessageType    `json:"type"`
	ID          common.Hash    `json:"id"`
	Kind        string         `json:"kind"`
	From        common.Address `json:"from"`
	Value       *hexutil.Big   `json:"value"`
	Destination uint32         `json:"destination,omitempty"`
	Recipient   common.Hash    `json:"recipient,omitempty"`
	Amount      *hexutil.Big   `json:"amount,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
}

func EncodeFunding(f Funding) ([]byte, error) {
	f.Type = MessageTypeFunding
	if err := validateFunding(f); err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

func DecodeFunding(payload []byte) (Funding, error) {
	var f Funding
	if err := json.Unmarshal(payload, &f); err != nil {
		return Funding{}, err
	}
	if err := validateFunding(f); err != nil {
		return Funding{}, err
	}
	return f, nil
}

func validateFunding(f Funding) error {
	if f.Type != MessageTypeFunding {
		return fmt.Errorf("message type %q is not funding", f.Type)
	}
	if f.ID == (common.Hash{}) {
		return errors.New("funding id is required")
	}
	if f.From == (common.Address{}) {
		return errors.New("funding sender is required")
	}
	if f.Value == nil || f.Value.ToInt().Sign() <= 0 {
		return errors.New("funding value must be positive")
	}
	if f.Value.ToInt().BitLen() > 256 || (f.Amount != nil && f.Amount.ToInt().BitLen() > 256) {
		return errors.New("funding amount exceeds 256 bits")
	}
	if f.Amount != nil && f.Amount.ToInt().Sign() < 0 {
		return errors.New("funding amount is negative")
	}
	return nil
}
