package insurance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"nativebridge/internal/application"
	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ReserveStore persists the vault's native reserve and the outcome of every
// reorg claim it has settled.
type ReserveStore interface {
	LoadReserve(ctx context.Context) (*uint256.Int, bool, error)
	SaveReserve(ctx context.Context, reserve *uint256.Int) error
	// ClaimOutcome reports whether claim id was settled and if it was paid.
	ClaimOutcome(ctx context.Context, id common.Hash) (paid, found bool, err error)
	// SettleClaim records the claim outcome together with the resulting reserve.
	SettleClaim(ctx context.Context, id common.Hash, paid bool, reserve *uint256.Int) error
}

type Config struct {
	// Seed is the starting reserve used when the store holds none.
	Seed *uint256.Int
	// Beneficiary receives reorg compensation.
	Beneficiary common.Address
}

// Vault is the insurance reserve backing unfinalized outbound transfers.
// It receives 20% of every bridge fee and pays out reorg compensation while the
// reserve covers it. Each claim id is settled at most once.
type Vault struct {
	mu          sync.Mutex
	reserve     *uint256.Int
	settled     map[common.Hash]bool
	store       ReserveStore
	payer       application.Payer
	beneficiary common.Address
}

func NewVault(ctx context.Context, store ReserveStore, payer application.Payer, cfg Config) (*Vault, error) {
	if store == nil || payer == nil {
		return nil, errors.New("vault store and payer are required")
	}
	reserve, ok, err := store.LoadReserve(ctx)
	if err != nil {
		return nil, fmt.Errorf("load insurance reserve: %w", err)
	}
	if !ok {
		reserve = domain.Clone(cfg.Seed)
		if err := store.SaveReserve(ctx, reserve); err != nil {
			return nil, fmt.Errorf("seed insurance reserve: %w", err)
		}
	}
	return &Vault{
		reserve:     reserve,
		settled:     make(map[common.Hash]bool),
		store:       store,
		payer:       payer,
		beneficiary: cfg.Beneficiary,
	}, nil
}

func (v *Vault) Balance(context.Context) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return domain.Clone(v.reserve), nil
}

func (v *Vault) Deposit(ctx context.Context, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	next, overflow := new(uint256.Int).AddOverflow(v.reserve, amount)
	if overflow {
		return errors.New("insurance reserve overflow")
	}
	return v.save(ctx, next)
}

// ReverseDeposit takes back a deposit whose operation failed.
func (v *Vault) ReverseDeposit(ctx context.Context, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.reserve.Lt(amount) {
		return fmt.Errorf("reverse deposit of %s exceeds reserve %s", domain.FormatAmount(amount), domain.FormatAmount(v.reserve))
	}
	return v.save(ctx, new(uint256.Int).Sub(v.reserve, amount))
}

func (v *Vault) save(ctx context.Context, next *uint256.Int) error {
	if err := v.store.SaveReserve(ctx, next); err != nil {
		return fmt.Errorf("save insurance reserve: %w", err)
	}
	v.reserve = next
	return nil
}

// LiquidateForReorg pays the claim to the beneficiary if the reserve covers it.
// An uncovered claim returns false and leaves the reserve untouched. A claim id
// seen before returns its first outcome without paying again.
func (v *Vault) LiquidateForReorg(ctx context.Context, claim domain.ReorgClaim) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if paid, ok := v.settled[claim.ID]; ok {
		// The write that recorded it may have rolled back; record it again.
		if err := v.store.SettleClaim(ctx, claim.ID, paid, v.reserve); err != nil {
			return false, fmt.Errorf("settle claim: %w", err)
		}
		return paid, nil
	}
	paid, found, err := v.store.ClaimOutcome(ctx, claim.ID)
	if err != nil {
		return false, fmt.Errorf("claim outcome: %w", err)
	}
	if found {
		slog.Info("reorg claim already settled", "claim", claim.ID.Hex(), "paid", paid)
		v.settled[claim.ID] = paid
		return paid, nil
	}

	amount := domain.Clone(claim.Native)
	if v.reserve.Lt(amount) {
		slog.Warn("insurance reserve cannot cover reorg",
			"claim", claim.ID.Hex(),
			"requested", domain.FormatAmount(amount),
			"reserve", domain.FormatAmount(v.reserve),
		)
		if err := v.store.SettleClaim(ctx, claim.ID, false, v.reserve); err != nil {
			return false, fmt.Errorf("settle claim: %w", err)
		}
		v.settled[claim.ID] = false
		return false, nil
	}

	next := new(uint256.Int).Sub(v.reserve, amount)
	if !amount.IsZero() {
		if err := v.payer.Pay(ctx, claim.ID, v.beneficiary, amount); err != nil {
			return false, fmt.Errorf("pay reorg compensation: %w", err)
		}
	}
	v.reserve = next
	v.settled[claim.ID] = true
	if err := v.store.SettleClaim(ctx, claim.ID, true, next); err != nil {
		// settled holds the claim, so a retry only records it.
		return false, fmt.Errorf("settle claim: %w", err)
	}
	slog.Info("reorg compensation paid",
		"claim", claim.ID.Hex(),
		"origin", claim.Origin,
		"transfer_id", claim.TransferID,
		"amount", domain.FormatAmount(amount),
		"beneficiary", v.beneficiary.Hex(),
		"reserve", domain.FormatAmount(next),
	)
	return true, nil
}
