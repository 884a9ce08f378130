package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"nativebridge/internal/domain"
	"nativebridge/internal/streaming"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

const maxBodyBytes = 1 << 16

// Value-bearing operations (deposits, donations, outbound transfers) are not
// served here: they arrive as funding records for value the bridge actually
// received. Commands below move value out only to the signer.

type sharesRequest struct {
	Shares string `json:"shares"`
}

type addressRequest struct {
	Address string `json:"address"`
}

type counterpartRequest struct {
	Domain  uint32 `json:"domain"`
	Address string `json:"address"`
}

type exemptionRequest struct {
	Origin uint32 `json:"origin"`
	Height uint64 `json:"height"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req sharesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	shares, err := domain.ParseAmount(req.Shares)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("shares: %v", err))
		return
	}
	amount, err := retryBusy(r.Context(), func(ctx context.Context) (*uint256.Int, error) {
		return s.bridge.Withdraw(ctx, caller, shares)
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"amount": domain.FormatAmount(amount)})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	amount, err := retryBusy(r.Context(), func(ctx context.Context) (*uint256.Int, error) {
		return s.bridge.Claim(ctx, caller)
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"amount": domain.FormatAmount(amount)})
}

type sweepResult struct {
	count    int
	released *uint256.Int
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := retryBusy(r.Context(), func(ctx context.Context) (sweepResult, error) {
		count, released, err := s.bridge.SweepFinality(ctx)
		return sweepResult{count: count, released: released}, err
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"released":     result.count,
		"released_usd": domain.FormatAmount(result.released),
	})
}

func (s *Server) handleSetTransport(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req addressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid transport address")
		return
	}
	err := retryBusyErr(r.Context(), func(ctx context.Context) error {
		return s.bridge.SetTransport(ctx, caller, common.HexToAddress(req.Address))
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetCounterpart(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req counterpartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	address, err := parseRecipient(req.Address)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = retryBusyErr(r.Context(), func(ctx context.Context) error {
		return s.bridge.SetCounterpart(ctx, caller, domain.Counterpart{Domain: req.Domain, Address: address})
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExemptReorg(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req exemptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := retryBusyErr(r.Context(), func(ctx context.Context) error {
		return s.bridge.ExemptReorg(ctx, caller, domain.ReorgExemption{Origin: req.Origin, Height: req.Height})
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req addressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid owner address")
		return
	}
	err := retryBusyErr(r.Context(), func(ctx context.Context) error {
		return s.bridge.TransferOwnership(ctx, caller, common.HexToAddress(req.Address))
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// parseRecipient accepts a 20-byte address or a 32-byte identifier.
func parseRecipient(raw string) (common.Hash, error) {
	raw = strings.TrimSpace(raw)
	if common.IsHexAddress(raw) {
		return streaming.AddressToRecipient(common.HexToAddress(raw)), nil
	}
	decoded, err := hexutil.Decode(raw)
	if err != nil || len(decoded) != common.HashLength {
		return common.Hash{}, fmt.Errorf("recipient %q must be a 20-byte address or 32-byte identifier", raw)
	}
	return common.BytesToHash(decoded), nil
}
