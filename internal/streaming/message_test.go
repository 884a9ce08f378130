package streaming

import (
	"testing"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestBodyLayout(t *testing.T) {
	recipient := common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000ab")
	body, err := EncodeBody(TransferBody{
		Recipient: recipient,
		USDAmount: uint256.NewInt(5),
		Metadata: domain.Metadata{
			InsuranceUSD: uint256.NewInt(6),
			LiquidityUSD: uint256.NewInt(7),
			TransferID:   8,
			OriginHeight: 9,
		},
	})
	require.NoError(t, err)
	require.Len(t, body, BodySize)
	require.Equal(t, recipient.Bytes(), body[:32])
	for i, want := range []byte{5, 6, 7, 8, 9} {
		word := body[32*(i+1) : 32*(i+2)]
		require.Equal(t, want, word[31], "word %d", i+1)
		require.Equal(t, make([]byte, 31), word[:31])
	}

	decoded, err := DecodeBody(body)
	require.NoError(t, err)
	require.Equal(t, recipient, decoded.Recipient)
	require.Equal(t, uint256.NewInt(5), decoded.USDAmount)
	require.Equal(t, uint64(8), decoded.Metadata.TransferID)
	require.Equal(t, uint64(9), decoded.Metadata.OriginHeight)
}

func TestDecodeBodyRejectsWrongLength(t *testing.T) {
	_, err := DecodeBody(make([]byte, BodySize-1))
	require.Error(t, err)
}

func TestDecodeBodyRejectsOversizedTransferID(t *testing.T) {
	body := make([]byte, BodySize)
	body[4*32] = 1
	_, err := DecodeBody(body)
	require.Error(t, err)
}

func TestRecipientAddressUsesLowBytes(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	id := AddressToRecipient(addr)
	require.Equal(t, addr, RecipientAddress(id))

	dirty := id
	dirty[0] = 0xff
	require.Equal(t, addr, RecipientAddress(dirty))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	msg := Envelope{
		Type:        MessageTypeTransfer,
		MessageID:   common.HexToHash("0x01"),
		Origin:      1,
		Destination: 2,
		Body:        hexutil.Bytes{1, 2, 3},
		Value:       (*hexutil.Big)(uint256.NewInt(10).ToBig()),
	}
	payload, err := Encode(msg)
	require.NoError(t, err)
	decoded, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, msg.MessageID, decoded.MessageID)
	require.Equal(t, msg.Body, decoded.Body)
	require.Equal(t, msg.Value.ToInt(), decoded.Value.ToInt())
}

func TestEnvelopeValidation(t *testing.T) {
	_, err := Encode(Envelope{Type: MessageTypeTransfer, Origin: 1, Destination: 2})
	require.Error(t, err)
	_, err = Decode([]byte(`{"type":"payout","origin":1,"destination":2,"message_id":"0x0000000000000000000000000000000000000000000000000000000000000001"}`))
	require.Error(t, err)
	_, err = Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestFundingRoundTrip(t *testing.T) {
	f := Funding{
		ID:          common.HexToHash("0xf1"),
		Kind:        "transfer",
		From:        common.HexToAddress("0x0a"),
		Value:       (*hexutil.Big)(uint256.NewInt(10).ToBig()),
		Destination: 2,
		Recipient:   common.HexToHash("0xdd"),
	}
	payload, err := EncodeFunding(f)
	require.NoError(t, err)
	decoded, err := DecodeFunding(payload)
	require.NoError(t, err)
	require.Equal(t, MessageTypeFunding, decoded.Type)
	require.Equal(t, f.ID, decoded.ID)
	require.Equal(t, f.From, decoded.From)
	require.Equal(t, int64(10), decoded.Value.ToInt().Int64())
	require.Equal(t, uint32(2), decoded.Destination)
	require.Nil(t, decoded.Amount)
}

func TestFundingValidation(t *testing.T) {
	value := (*hexutil.Big)(uint256.NewInt(1).ToBig())
	from := common.HexToAddress("0x0a")

	_, err := EncodeFunding(Funding{From: from, Value: value})
	require.ErrorContains(t, err, "id")
	_, err = EncodeFunding(Funding{ID: common.HexToHash("0x01"), Value: value})
	require.ErrorContains(t, err, "sender")
	_, err = EncodeFunding(Funding{ID: common.HexToHash("0x01"), From: from, Value: (*hexutil.Big)(uint256.NewInt(0).ToBig())})
	require.ErrorContains(t, err, "positive")
	_, err = DecodeFunding([]byte(`{"type":"transfer","id":"0x0000000000000000000000000000000000000000000000000000000000000001"}`))
	require.Error(t, err)
}
