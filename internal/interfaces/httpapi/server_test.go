package httpapi

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nativebridge/internal/application"
	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

// fakeBridge overrides the calls a test needs; anything else panics.
type fakeBridge struct {
	Bridge
	withdrawCaller  common.Address
	withdrawShares  *uint256.Int
	withdrawErr     error
	transportCaller common.Address
	transportErr    error
	priceErr        error
	busy            int
	records         map[domain.TransferKey]domain.TransferRecord
}

func (f *fakeBridge) Withdraw(_ context.Context, provider common.Address, shares *uint256.Int) (*uint256.Int, error) {
	f.withdrawCaller = provider
	f.withdrawShares = shares
	if f.withdrawErr != nil {
		return nil, f.withdrawErr
	}
	return new(uint256.Int).Mul(shares, uint256.NewInt(2)), nil
}

func (f *fakeBridge) SetTransport(_ context.Context, caller common.Address, _ common.Address) error {
	f.transportCaller = caller
	return f.transportErr
}

func (f *fakeBridge) LatestPrice(context.Context) (domain.Price, error) {
	if f.priceErr != nil {
		return domain.Price{}, f.priceErr
	}
	return domain.Price{Value: uint256.NewInt(2000_00000000), Decimals: 8}, nil
}

func (f *fakeBridge) Transfer(_ context.Context, key domain.TransferKey) (domain.TransferRecord, bool, error) {
	record, ok := f.records[key]
	return record, ok, nil
}

func (f *fakeBridge) State(context.Context) (domain.Globals, error) {
	if f.busy > 0 {
		f.busy--
		return domain.Globals{}, application.ErrReentrantCall
	}
	return domain.Globals{
		Balance:        uint256.NewInt(1100),
		TotalFees:      uint256.NewInt(100),
		NextTransferID: 3,
		Counterpart:    domain.Counterpart{Domain: 2, Address: common.HexToHash("0xfeed")},
	}, nil
}

func (f *fakeBridge) LocalDomain() uint32 { return 1 }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeHeights struct{}

func (fakeHeights) LatestHeight(context.Context) (uint64, error) { return 100, nil }

func newTestServer(t *testing.T, bridge *fakeBridge, store Pinger) (*Server, http.Handler) {
	t.Helper()
	server, err := NewServer(bridge, store, fakeHeights{}, nil, BuildInfo{Version: "test"})
	require.NoError(t, err)
	return server, server.Handler()
}

var (
	aliceKey, _ = crypto.HexToECDSA("8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a")
	alice       = crypto.PubkeyToAddress(aliceKey.PublicKey)
)

// do sends a request, signed by key when one is given.
func do(t *testing.T, handler http.Handler, method, path string, key *ecdsa.PrivateKey, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != nil {
		require.NoError(t, SignRequest(req, []byte(body), key, time.Now()))
	}
	return serve(t, handler, req)
}

func serve(t *testing.T, handler http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var payload map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	return rec, payload
}

func TestStateEndpoint(t *testing.T) {
	_, handler := newTestServer(t, &fakeBridge{}, fakePinger{})
	rec, payload := do(t, handler, http.MethodGet, "/v1/state", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1000", payload["total_liquidity"])
	require.Equal(t, float64(1), payload["local_domain"])
	require.Equal(t, float64(2), payload["counterpart_domain"])
}

func TestReadsWaitOutBusyEngine(t *testing.T) {
	bridge := &fakeBridge{busy: 3}
	_, handler := newTestServer(t, bridge, fakePinger{})
	rec, _ := do(t, handler, http.MethodGet, "/v1/state", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, bridge.busy)
}

func TestWithdrawActsForSigner(t *testing.T) {
	bridge := &fakeBridge{}
	_, handler := newTestServer(t, bridge, fakePinger{})

	rec, payload := do(t, handler, http.MethodPost, "/v1/liquidity/withdraw", aliceKey, `{"shares":"21"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "42", payload["amount"])
	require.Equal(t, alice, bridge.withdrawCaller)
	require.Equal(t, uint256.NewInt(21), bridge.withdrawShares)
}

func TestCommandsRequireSignature(t *testing.T) {
	bridge := &fakeBridge{}
	_, handler := newTestServer(t, bridge, fakePinger{})

	rec, _ := do(t, handler, http.MethodPost, "/v1/liquidity/withdraw", nil, `{"shares":"1"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// A caller header proves nothing.
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/transport", strings.NewReader(`{"address":"0x00000000000000000000000000000000000000cc"}`))
	req.Header.Set("X-Bridge-Caller", alice.Hex())
	rec, _ = serve(t, handler, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, common.Address{}, bridge.transportCaller)

	// A signature over another body recovers another address, never alice.
	req = httptest.NewRequest(http.MethodPost, "/v1/liquidity/withdraw", strings.NewReader(`{"shares":"1000"}`))
	require.NoError(t, SignRequest(req, []byte(`{"shares":"1"}`), aliceKey, time.Now()))
	serve(t, handler, req)
	require.NotEqual(t, alice, bridge.withdrawCaller)

	body := `{"shares":"1"}`
	req = httptest.NewRequest(http.MethodPost, "/v1/liquidity/withdraw", strings.NewReader(body))
	require.NoError(t, SignRequest(req, []byte(body), aliceKey, time.Now().Add(-10*time.Minute)))
	rec, _ = serve(t, handler, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/liquidity/withdraw", strings.NewReader(body))
	req.Header.Set(TimestampHeader, "1700000000")
	req.Header.Set(SignatureHeader, "0x1234")
	rec, _ = serve(t, handler, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignedRequestCannotBeReplayed(t *testing.T) {
	bridge := &fakeBridge{}
	_, handler := newTestServer(t, bridge, fakePinger{})
	body := `{"shares":"5"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/liquidity/withdraw", strings.NewReader(body))
	require.NoError(t, SignRequest(req, []byte(body), aliceKey, time.Now()))
	sig, ts := req.Header.Get(SignatureHeader), req.Header.Get(TimestampHeader)

	rec, _ := serve(t, handler, req)
	require.Equal(t, http.StatusOK, rec.Code)

	replay := httptest.NewRequest(http.MethodPost, "/v1/liquidity/withdraw", strings.NewReader(body))
	replay.Header.Set(SignatureHeader, sig)
	replay.Header.Set(TimestampHeader, ts)
	rec, payload := serve(t, handler, replay)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, payload["error"], "already used")
}

func TestValueBearingRoutesAreGone(t *testing.T) {
	_, handler := newTestServer(t, &fakeBridge{}, fakePinger{})
	for _, path := range []string{"/v1/transfers", "/v1/liquidity/deposit", "/v1/donations"} {
		rec, _ := do(t, handler, http.MethodPost, path, aliceKey, `{"amount":"1000000000000000000000"}`)
		require.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, rec.Code, path)
	}
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	bridge := &fakeBridge{
		withdrawErr:  application.ErrInvalidShareAmount,
		transportErr: application.ErrNotOwner,
		priceErr:     fmt.Errorf("feed: %w", application.ErrStalePrice),
	}
	_, handler := newTestServer(t, bridge, fakePinger{})

	rec, payload := do(t, handler, http.MethodPost, "/v1/liquidity/withdraw", aliceKey, `{"shares":"0"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_input", payload["reason"])

	rec, _ = do(t, handler, http.MethodPost, "/v1/admin/transport", aliceKey, `{"address":"0x00000000000000000000000000000000000000cc"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, alice, bridge.transportCaller)

	rec, _ = do(t, handler, http.MethodPost, "/v1/liquidity/withdraw", aliceKey, `{"unknown":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, handler, http.MethodGet, "/v1/price", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTransferLookup(t *testing.T) {
	key := domain.TransferKey{Direction: domain.Inbound, Chain: 2, ID: 5}
	bridge := &fakeBridge{records: map[domain.TransferKey]domain.TransferRecord{
		key: {USDAmount: uint256.NewInt(7), RecordedAtHeight: 42},
	}}
	_, handler := newTestServer(t, bridge, fakePinger{})

	rec, payload := do(t, handler, http.MethodGet, "/v1/transfers/inbound/2/5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "7", payload["usd_amount"])
	require.Equal(t, float64(42), payload["recorded_at_height"])

	rec, _ = do(t, handler, http.MethodGet, "/v1/transfers/outbound/2/5", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, handler, http.MethodGet, "/v1/transfers/sideways/2/5", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadiness(t *testing.T) {
	_, handler := newTestServer(t, &fakeBridge{}, fakePinger{err: errors.New("down")})
	rec, _ := do(t, handler, http.MethodGet, "/readyz", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	_, handler = newTestServer(t, &fakeBridge{}, fakePinger{})
	rec, _ = do(t, handler, http.MethodGet, "/readyz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	server, handler := newTestServer(t, &fakeBridge{}, fakePinger{})
	metrics := server.MetricsObserver()
	metrics.OnOperation("deposit", nil)
	metrics.OnOperation("transfer_remote", application.ErrExposureLimit)
	metrics.OnPending(2, uint256.NewInt(3_000_000_000_000_000_000))
	metrics.OnReorg(2, true)
	metrics.IncKafkaApplyErr()

	do(t, handler, http.MethodGet, "/v1/state", nil, "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	require.Contains(t, text, `bridge_operations_total{op="deposit",result="ok"} 1`)
	require.Contains(t, text, `bridge_operations_total{op="transfer_remote",result="risk_limit"} 1`)
	require.Contains(t, text, "bridge_pending_transfers 2")
	require.Contains(t, text, "bridge_pending_usd 3")
	require.Contains(t, text, `bridge_reorgs_total{compensated="true",origin="2"} 1`)
	require.Contains(t, text, `bridge_kafka_consumer_errors_total{kind="apply"} 1`)
	require.Contains(t, text, `route="/v1/state"`)
}

func TestClassify(t *testing.T) {
	status, reason := Classify(nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", reason)

	status, _ = Classify(fmt.Errorf("wrapped: %w", application.ErrUnknownDestination))
	require.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = Classify(application.ErrUnauthorized)
	require.Equal(t, http.StatusUnauthorized, status)

	status, reason = Classify(application.ErrReentrantCall)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, "busy", reason)

	status, reason = Classify(errors.New("disk full"))
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "internal", reason)
}
