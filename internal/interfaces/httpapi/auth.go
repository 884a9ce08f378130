package httpapi

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nativebridge/internal/application"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Requests that act for an account are signed with that account's key. The
// caller is the address recovered from the signature, never a client claim.
const (
	TimestampHeader = "X-Bridge-Timestamp"
	SignatureHeader = "X-Bridge-Signature"

	// SignatureSkew bounds how far a request timestamp may drift from the
	// server clock. A signature is accepted once within that window.
	SignatureSkew = 5 * time.Minute
)

var errUnsigned = errors.New("request is not signed")

// SigningPayload is the text a caller signs with the EIP-191 personal-message
// prefix: method, request URI, unix timestamp and the keccak of the body.
func SigningPayload(method, uri string, timestamp int64, body []byte) []byte {
	return []byte(fmt.Sprintf("nativebridge request\n%s %s\n%d\n%s",
		strings.ToUpper(method), uri, timestamp, crypto.Keccak256Hash(body).Hex()))
}

// textHash is the EIP-191 personal-message hash wallets sign.
func textHash(data []byte) []byte {
	return crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)))
}

// SignRequest stamps req with a signature over body by key.
func SignRequest(req *http.Request, body []byte, key *ecdsa.PrivateKey, now time.Time) error {
	timestamp := now.Unix()
	sig, err := crypto.Sign(textHash(SigningPayload(req.Method, req.URL.RequestURI(), timestamp, body)), key)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set(TimestampHeader, strconv.FormatInt(timestamp, 10))
	req.Header.Set(SignatureHeader, hexutil.Encode(sig))
	return nil
}

type authenticator struct {
	skew time.Duration
	now  func() time.Time

	mu   sync.Mutex
	seen map[common.Hash]time.Time
}

func newAuthenticator() *authenticator {
	return &authenticator{skew: SignatureSkew, now: time.Now, seen: make(map[common.Hash]time.Time)}
}

// authenticate recovers the signer of r. The body is read and put back so
// handlers can decode it.
func (a *authenticator) authenticate(w http.ResponseWriter, r *http.Request) (common.Address, error) {
	rawSig := strings.TrimSpace(r.Header.Get(SignatureHeader))
	rawTime := strings.TrimSpace(r.Header.Get(TimestampHeader))
	if rawSig == "" || rawTime == "" {
		return common.Address{}, errUnsigned
	}
	timestamp, err := strconv.ParseInt(rawTime, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid %s header", TimestampHeader)
	}
	now := a.now()
	signedAt := time.Unix(timestamp, 0)
	if signedAt.Before(now.Add(-a.skew)) || signedAt.After(now.Add(a.skew)) {
		return common.Address{}, errors.New("request timestamp outside the accepted window")
	}
	sig, err := hexutil.Decode(rawSig)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid %s header", SignatureHeader)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	r32, s32 := new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[crypto.RecoveryIDOffset], r32, s32, true) {
		return common.Address{}, fmt.Errorf("invalid %s header", SignatureHeader)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return common.Address{}, fmt.Errorf("read body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	hash := textHash(SigningPayload(r.Method, r.URL.RequestURI(), timestamp, body))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, errors.New("signature does not recover")
	}
	if !a.remember(crypto.Keccak256Hash(sig[:crypto.RecoveryIDOffset]), now) {
		return common.Address{}, errors.New("signature already used")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// remember records a signature and reports whether it is new. Entries older
// than the window are dropped; their timestamps can no longer pass the skew check.
func (a *authenticator) remember(key common.Hash, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, at := range a.seen {
		if now.Sub(at) > 2*a.skew {
			delete(a.seen, k)
		}
	}
	if _, ok := a.seen[key]; ok {
		return false
	}
	a.seen[key] = now
	return true
}

// requireCaller authenticates r and writes a 401 when it fails.
func (s *Server) requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, err := s.auth.authenticate(w, r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return common.Address{}, false
	}
	return caller, true
}

const (
	busyWait     = 5 * time.Second
	busyMaxDelay = 100 * time.Millisecond
)

// retryBusy repeats fn while the engine is serving another operation, up to
// busyWait or until ctx ends.
func retryBusy[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	deadline := time.Now().Add(busyWait)
	delay := 2 * time.Millisecond
	for {
		v, err := fn(ctx)
		if !errors.Is(err, application.ErrReentrantCall) || time.Now().After(deadline) {
			return v, err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, err
		case <-timer.C:
		}
		if delay < busyMaxDelay {
			delay *= 2
		}
	}
}

// retryBusyErr is retryBusy for calls with no result.
func retryBusyErr(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := retryBusy(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
