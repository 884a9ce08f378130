package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
)

// Bridge is the settlement engine surface served over HTTP.
type Bridge interface {
	Withdraw(ctx context.Context, provider common.Address, shares *uint256.Int) (*uint256.Int, error)
	Claim(ctx context.Context, user common.Address) (*uint256.Int, error)
	SetTransport(ctx context.Context, caller, transport common.Address) error
	SetCounterpart(ctx context.Context, caller common.Address, counterpart domain.Counterpart) error
	ExemptReorg(ctx context.Context, caller common.Address, exemption domain.ReorgExemption) error
	TransferOwnership(ctx context.Context, caller, newOwner common.Address) error
	SweepFinality(ctx context.Context) (int, *uint256.Int, error)

	LatestPrice(ctx context.Context) (domain.Price, error)
	InsuranceValuation(ctx context.Context) (*uint256.Int, error)
	SafeBridgeable(ctx context.Context) (*uint256.Int, error)
	TotalLiquidity(ctx context.Context) (*uint256.Int, error)
	PendingFees(ctx context.Context, user common.Address) (*uint256.Int, error)
	WithdrawableValue(ctx context.Context, user common.Address) (*uint256.Int, error)
	Shares(ctx context.Context, user common.Address) (*uint256.Int, error)
	PendingTransfers(ctx context.Context) ([]domain.PendingTransfer, error)
	Transfer(ctx context.Context, key domain.TransferKey) (domain.TransferRecord, bool, error)
	Reorgs(ctx context.Context, origin uint32) ([]domain.ReorgedTransfer, error)
	State(ctx context.Context) (domain.Globals, error)
	LocalDomain() uint32
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type HeightSource interface {
	LatestHeight(ctx context.Context) (uint64, error)
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Server struct {
	bridge    Bridge
	store     Pinger
	heights   HeightSource
	metrics   *Metrics
	auth      *authenticator
	buildInfo BuildInfo
}

func NewServer(bridge Bridge, store Pinger, heights HeightSource, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if bridge == nil || store == nil || heights == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Server{bridge: bridge, store: store, heights: heights, metrics: metrics, auth: newAuthenticator(), buildInfo: buildInfo}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.metrics.instrument)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	v1.HandleFunc("/price", s.handlePrice).Methods(http.MethodGet)
	v1.HandleFunc("/insurance", s.handleInsurance).Methods(http.MethodGet)
	v1.HandleFunc("/liquidity", s.handleLiquidity).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{address}", s.handleAccount).Methods(http.MethodGet)
	v1.HandleFunc("/pending", s.handlePending).Methods(http.MethodGet)
	v1.HandleFunc("/transfers/{direction}/{chain:[0-9]+}/{id:[0-9]+}", s.handleTransfer).Methods(http.MethodGet)
	v1.HandleFunc("/reorgs/{origin:[0-9]+}", s.handleReorgs).Methods(http.MethodGet)

	v1.HandleFunc("/liquidity/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	v1.HandleFunc("/fees/claim", s.handleClaim).Methods(http.MethodPost)
	v1.HandleFunc("/finality/sweep", s.handleSweep).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/transport", s.handleSetTransport).Methods(http.MethodPost)
	admin.HandleFunc("/counterpart", s.handleSetCounterpart).Methods(http.MethodPost)
	admin.HandleFunc("/exemptions", s.handleExemptReorg).Methods(http.MethodPost)
	admin.HandleFunc("/owner", s.handleTransferOwnership).Methods(http.MethodPost)
	return router
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db not ready")
		return
	}
	if _, err := s.heights.LatestHeight(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

type stateResponse struct {
	LocalDomain            uint32 `json:"local_domain"`
	TotalShares            string `json:"total_shares"`
	FeeIndex               string `json:"fee_index"`
	TotalFees              string `json:"total_fees"`
	Balance                string `json:"balance"`
	TotalLiquidity         string `json:"total_liquidity"`
	PendingAmount          string `json:"pending_amount_usd"`
	NextTransferID         uint64 `json:"next_transfer_id"`
	OtherChainInsuranceUSD string `json:"other_chain_insurance_usd"`
	OtherChainLiquidityUSD string `json:"other_chain_liquidity_usd"`
	Owner                  string `json:"owner"`
	Transport              string `json:"transport"`
	CounterpartDomain      uint32 `json:"counterpart_domain"`
	CounterpartAddress     string `json:"counterpart_address"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	g, err := retryBusy(r.Context(), s.bridge.State)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stateResponse{
		LocalDomain:            s.bridge.LocalDomain(),
		TotalShares:            domain.FormatAmount(g.TotalShares),
		FeeIndex:               domain.FormatAmount(g.FeeIndex),
		TotalFees:              domain.FormatAmount(g.TotalFees),
		Balance:                domain.FormatAmount(g.Balance),
		TotalLiquidity:         domain.FormatAmount(g.TotalLiquidity()),
		PendingAmount:          domain.FormatAmount(g.PendingAmount),
		NextTransferID:         g.NextTransferID,
		OtherChainInsuranceUSD: domain.FormatAmount(g.OtherChainInsuranceUSD),
		OtherChainLiquidityUSD: domain.FormatAmount(g.OtherChainLiquidityUSD),
		Owner:                  g.Owner.Hex(),
		Transport:              g.Transport.Hex(),
		CounterpartDomain:      g.Counterpart.Domain,
		CounterpartAddress:     g.Counterpart.Address.Hex(),
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	price, err := retryBusy(r.Context(), s.bridge.LatestPrice)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"value":    domain.FormatAmount(price.Value),
		"decimals": price.Decimals,
		"as_of":    price.AsOf.UTC(),
	})
}

func (s *Server) handleInsurance(w http.ResponseWriter, r *http.Request) {
	valuation, err := retryBusy(r.Context(), s.bridge.InsuranceValuation)
	if err != nil {
		respondFailure(w, err)
		return
	}
	safe, err := retryBusy(r.Context(), s.bridge.SafeBridgeable)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"insurance_usd":       domain.FormatAmount(valuation),
		"safe_bridgeable_usd": domain.FormatAmount(safe),
	})
}

func (s *Server) handleLiquidity(w http.ResponseWriter, r *http.Request) {
	total, err := retryBusy(r.Context(), s.bridge.TotalLiquidity)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"total_liquidity": domain.FormatAmount(total)})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address")
		return
	}
	user := common.HexToAddress(raw)
	ctx := r.Context()

	shares, err := retryBusy(ctx, func(ctx context.Context) (*uint256.Int, error) { return s.bridge.Shares(ctx, user) })
	if err != nil {
		respondFailure(w, err)
		return
	}
	pending, err := retryBusy(ctx, func(ctx context.Context) (*uint256.Int, error) { return s.bridge.PendingFees(ctx, user) })
	if err != nil {
		respondFailure(w, err)
		return
	}
	withdrawable, err := retryBusy(ctx, func(ctx context.Context) (*uint256.Int, error) { return s.bridge.WithdrawableValue(ctx, user) })
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"address":      user.Hex(),
		"shares":       domain.FormatAmount(shares),
		"pending_fees": domain.FormatAmount(pending),
		"withdrawable": domain.FormatAmount(withdrawable),
	})
}

type pendingResponse struct {
	USDAmount         string `json:"usd_amount"`
	InitiatedAtHeight uint64 `json:"initiated_at_height"`
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := retryBusy(r.Context(), s.bridge.PendingTransfers)
	if err != nil {
		respondFailure(w, err)
		return
	}
	out := make([]pendingResponse, 0, len(pending))
	for _, p := range pending {
		out = append(out, pendingResponse{USDAmount: domain.FormatAmount(p.USDAmount), InitiatedAtHeight: p.InitiatedAtHeight})
	}
	respondJSON(w, http.StatusOK, out)
}

type transferLookup struct {
	record domain.TransferRecord
	found  bool
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	direction := domain.Direction(vars["direction"])
	if direction != domain.Outbound && direction != domain.Inbound {
		respondError(w, http.StatusBadRequest, "direction must be outbound or inbound")
		return
	}
	chain, err := strconv.ParseUint(vars["chain"], 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid chain")
		return
	}
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transfer id")
		return
	}
	key := domain.TransferKey{Direction: direction, Chain: uint32(chain), ID: id}
	lookup, err := retryBusy(r.Context(), func(ctx context.Context) (transferLookup, error) {
		record, found, err := s.bridge.Transfer(ctx, key)
		return transferLookup{record: record, found: found}, err
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	record := lookup.record
	if !lookup.found {
		respondError(w, http.StatusNotFound, fmt.Sprintf("transfer %s not found", key))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"key":                key.String(),
		"usd_amount":         domain.FormatAmount(record.USDAmount),
		"recorded_at_height": record.RecordedAtHeight,
	})
}

type reorgResponse struct {
	Origin             uint32 `json:"origin"`
	USDAmount          string `json:"usd_amount"`
	OriginalHeight     uint64 `json:"original_height"`
	OriginalTransferID uint64 `json:"original_transfer_id"`
}

func (s *Server) handleReorgs(w http.ResponseWriter, r *http.Request) {
	origin, err := strconv.ParseUint(mux.Vars(r)["origin"], 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid origin")
		return
	}
	reorgs, err := retryBusy(r.Context(), func(ctx context.Context) ([]domain.ReorgedTransfer, error) {
		return s.bridge.Reorgs(ctx, uint32(origin))
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	out := make([]reorgResponse, 0, len(reorgs))
	for _, reorg := range reorgs {
		out = append(out, reorgResponse{
			Origin:             reorg.Origin,
			USDAmount:          domain.FormatAmount(reorg.USDAmount),
			OriginalHeight:     reorg.OriginalHeight,
			OriginalTransferID: reorg.OriginalTransferID,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondFailure maps an engine error to its status. Internal errors are not echoed.
func respondFailure(w http.ResponseWriter, err error) {
	status, reason := Classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	respondJSON(w, status, map[string]string{"error": message, "reason": reason})
}
