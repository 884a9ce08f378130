package streaming

import (
	"errors"
	"fmt"
	"math/big"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BodySize is the length of an encoded transfer body: six 32-byte words.
const BodySize = 6 * 32

// TransferBody is the payload carried from the origin bridge to its counterpart.
type TransferBody struct {
	Recipient common.Hash
	USDAmount *uint256.Int
	Metadata  domain.Metadata
}

var bodyArguments = mustArguments("bytes32", "uint256", "uint256", "uint256", "uint256", "uint256")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, name := range types {
		typ, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

func EncodeBody(body TransferBody) ([]byte, error) {
	if body.USDAmount == nil {
		return nil, errors.New("usd amount is required")
	}
	return bodyArguments.Pack(
		[32]byte(body.Recipient),
		body.USDAmount.ToBig(),
		domain.Clone(body.Metadata.InsuranceUSD).ToBig(),
		domain.Clone(body.Metadata.LiquidityUSD).ToBig(),
		new(big.Int).SetUint64(body.Metadata.TransferID),
		new(big.Int).SetUint64(body.Metadata.OriginHeight),
	)
}

func DecodeBody(payload []byte) (TransferBody, error) {
	if len(payload) != BodySize {
		return TransferBody{}, fmt.Errorf("body is %d bytes, want %d", len(payload), BodySize)
	}
	values, err := bodyArguments.Unpack(payload)
	if err != nil {
		return TransferBody{}, fmt.Errorf("unpack body: %w", err)
	}
	recipient, ok := values[0].([32]byte)
	if !ok {
		return TransferBody{}, errors.New("recipient is not bytes32")
	}
	words := make([]*big.Int, 0, 5)
	for i, value := range values[1:] {
		word, ok := value.(*big.Int)
		if !ok {
			return TransferBody{}, fmt.Errorf("word %d is not uint256", i+1)
		}
		words = append(words, word)
	}
	if !words[3].IsUint64() || !words[4].IsUint64() {
		return TransferBody{}, errors.New("transfer id or origin height exceeds 64 bits")
	}

	amounts := make([]*uint256.Int, 3)
	for i := range amounts {
		value, overflow := uint256.FromBig(words[i])
		if overflow {
			return TransferBody{}, fmt.Errorf("word %d overflows 256 bits", i+1)
		}
		amounts[i] = value
	}
	return TransferBody{
		Recipient: common.Hash(recipient),
		USDAmount: amounts[0],
		Metadata: domain.Metadata{
			InsuranceUSD: amounts[1],
			LiquidityUSD: amounts[2],
			TransferID:   words[3].Uint64(),
			OriginHeight: words[4].Uint64(),
		},
	}, nil
}

// RecipientAddress maps a 32-byte recipient identifier to its payout address
// (the low 20 bytes).
func RecipientAddress(recipient common.Hash) common.Address {
	return common.BytesToAddress(recipient.Bytes())
}

// AddressToRecipient left-pads an address into a 32-byte identifier.
func AddressToRecipient(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
