package ethrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, handle func(method string, params []json.RawMessage) (any, *rpcError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, rpcErr := handle(req.Method, req.Params)
		raw, err := json.Marshal(result)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: raw, Error: rpcErr})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLatestHeight(t *testing.T) {
	srv := rpcServer(t, func(method string, _ []json.RawMessage) (any, *rpcError) {
		require.Equal(t, "eth_blockNumber", method)
		return "0x1b4", nil
	})
	client, err := NewClient(Config{URL: srv.URL})
	require.NoError(t, err)

	height, err := client.LatestHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(436), height)
}

func TestCallEncodesRequest(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	srv := rpcServer(t, func(method string, params []json.RawMessage) (any, *rpcError) {
		require.Equal(t, "eth_call", method)
		require.Len(t, params, 2)
		var msg map[string]string
		require.NoError(t, json.Unmarshal(params[0], &msg))
		require.Equal(t, "0xfeaf968c", msg["data"])
		require.Equal(t, to.Hex(), msg["to"])
		return "0x0102", nil
	})
	client, err := NewClient(Config{URL: srv.URL})
	require.NoError(t, err)

	out, err := client.Call(context.Background(), to, []byte{0xfe, 0xaf, 0x96, 0x8c})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, out)
}

func TestRPCErrorIsReturned(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "execution reverted"}
	})
	client, err := NewClient(Config{URL: srv.URL})
	require.NoError(t, err)

	_, err = client.ChainID(context.Background())
	require.ErrorContains(t, err, "execution reverted")
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}
