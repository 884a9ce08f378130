package application

import (
	"context"
	"fmt"
	"log/slog"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FeeLedger is the share-based liquidity pool. Balance is the native value the
// bridge holds; TotalFees is the part of it reserved for liquidity providers.
type FeeLedger struct {
	totalShares *uint256.Int
	feeIndex    *uint256.Int
	totalFees   *uint256.Int
	balance     *uint256.Int
	accounts    map[common.Address]domain.Account
	insurance   InsuranceFund
	payer       Payer
}

func NewFeeLedger(insurance InsuranceFund, payer Payer) *FeeLedger {
	return &FeeLedger{
		totalShares: domain.Zero(),
		feeIndex:    domain.Zero(),
		totalFees:   domain.Zero(),
		balance:     domain.Zero(),
		accounts:    make(map[common.Address]domain.Account),
		insurance:   insurance,
		payer:       payer,
	}
}

func (l *FeeLedger) restore(globals domain.Globals, accounts []domain.Account) {
	l.totalShares = domain.Clone(globals.TotalShares)
	l.feeIndex = domain.Clone(globals.FeeIndex)
	l.totalFees = domain.Clone(globals.TotalFees)
	l.balance = domain.Clone(globals.Balance)
	l.accounts = make(map[common.Address]domain.Account, len(accounts))
	for _, acc := range accounts {
		l.accounts[acc.Address] = domain.Account{
			Address:       acc.Address,
			Shares:        domain.Clone(acc.Shares),
			FeeCheckpoint: domain.Clone(acc.FeeCheckpoint),
		}
	}
}

func (l *FeeLedger) account(addr common.Address) domain.Account {
	acc, ok := l.accounts[addr]
	if !ok {
		return domain.Account{Address: addr, Shares: domain.Zero(), FeeCheckpoint: domain.Zero()}
	}
	return acc
}

func (l *FeeLedger) putAccount(u *unitOfWork, acc domain.Account) {
	old, existed := l.accounts[acc.Address]
	if acc.IsEmpty() {
		delete(l.accounts, acc.Address)
	} else {
		l.accounts[acc.Address] = acc
	}
	u.accounts[acc.Address] = struct{}{}
	u.onRevert(func() {
		if existed {
			l.accounts[acc.Address] = old
		} else {
			delete(l.accounts, acc.Address)
		}
	})
}

// Deposit mints shares for amount. The first deposit into an empty pool mints 1:1;
// later deposits are priced against the pool value before the deposit, excluding
// reserved fees. Pending fees of the provider are settled first.
func (l *FeeLedger) Deposit(u *unitOfWork, provider common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrZeroDeposit
	}
	if _, err := l.Claim(u, provider); err != nil {
		return nil, err
	}

	var shares *uint256.Int
	if l.totalShares.IsZero() {
		shares = domain.Clone(amount)
	} else {
		base := saturatingSub(l.balance, l.totalFees)
		if base.IsZero() {
			return nil, fmt.Errorf("%w: shares outstanding against an empty pool", ErrInvariantViolation)
		}
		var err error
		if shares, err = mulDiv(amount, l.totalShares, base); err != nil {
			return nil, err
		}
		if shares.IsZero() {
			return nil, fmt.Errorf("%w: amount too small to mint a share", ErrZeroDeposit)
		}
	}

	balance, err := add(l.balance, amount)
	if err != nil {
		return nil, err
	}
	total, err := add(l.totalShares, shares)
	if err != nil {
		return nil, err
	}
	acc := l.account(provider)
	owned, err := add(acc.Shares, shares)
	if err != nil {
		return nil, err
	}
	u.setAmount(&l.balance, balance)
	u.setAmount(&l.totalShares, total)
	l.putAccount(u, domain.Account{Address: provider, Shares: owned, FeeCheckpoint: domain.Clone(l.feeIndex)})
	return shares, nil
}

// Withdraw burns shares and pays their share of the pool, after settling fees.
func (l *FeeLedger) Withdraw(u *unitOfWork, provider common.Address, shares *uint256.Int) (*uint256.Int, error) {
	acc := l.account(provider)
	if shares == nil || shares.IsZero() || shares.Gt(acc.Shares) {
		return nil, ErrInvalidShareAmount
	}
	if _, err := l.Claim(u, provider); err != nil {
		return nil, err
	}

	amount, err := mulDiv(shares, saturatingSub(l.balance, l.totalFees), l.totalShares)
	if err != nil {
		return nil, err
	}
	if amount.Gt(l.balance) {
		slog.Error("withdrawal exceeds bridge balance",
			"provider", provider.Hex(),
			"amount", domain.FormatAmount(amount),
			"balance", domain.FormatAmount(l.balance),
		)
		return nil, fmt.Errorf("%w: withdrawal of %s exceeds balance %s", ErrInvariantViolation, domain.FormatAmount(amount), domain.FormatAmount(l.balance))
	}

	acc = l.account(provider)
	u.setAmount(&l.totalShares, new(uint256.Int).Sub(l.totalShares, shares))
	l.putAccount(u, domain.Account{Address: provider, Shares: new(uint256.Int).Sub(acc.Shares, shares), FeeCheckpoint: acc.FeeCheckpoint})
	if err := l.Pay(u, provider, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// Claim pays the user's accrued fees. Zero pending is a no-op.
func (l *FeeLedger) Claim(u *unitOfWork, user common.Address) (*uint256.Int, error) {
	pending, err := l.PendingFees(user)
	if err != nil {
		return nil, err
	}
	if pending.IsZero() {
		return pending, nil
	}
	fees, err := sub(l.totalFees, pending)
	if err != nil {
		return nil, fmt.Errorf("claim of %s exceeds reserved fees: %w", domain.FormatAmount(pending), err)
	}
	acc := l.account(user)
	u.setAmount(&l.totalFees, fees)
	l.putAccount(u, domain.Account{Address: user, Shares: acc.Shares, FeeCheckpoint: domain.Clone(l.feeIndex)})
	if err := l.Pay(u, user, pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// Distribute splits a fee 20/80 between the insurance fund and liquidity providers.
// Each share rounds down; the remainder stays in the pool unreserved.
// With no shares outstanding the LP share is reserved but not indexed.
func (l *FeeLedger) Distribute(u *unitOfWork, fee *uint256.Int) error {
	if fee == nil || fee.IsZero() {
		return nil
	}
	insuranceShare, err := mulDiv(fee, uint256.NewInt(insuranceSharePct), uint256.NewInt(100))
	if err != nil {
		return err
	}
	lpShare, err := mulDiv(fee, uint256.NewInt(lpSharePct), uint256.NewInt(100))
	if err != nil {
		return err
	}

	if !insuranceShare.IsZero() {
		balance, err := sub(l.balance, insuranceShare)
		if err != nil {
			return fmt.Errorf("%w: insurance share %s", ErrInsufficientBalance, domain.FormatAmount(insuranceShare))
		}
		u.setAmount(&l.balance, balance)
		u.insured = new(uint256.Int).Add(u.insured, insuranceShare)
		u.deferEffect("insurance deposit", stageReversible,
			func(ctx context.Context) error { return l.insurance.Deposit(ctx, insuranceShare) },
			func(ctx context.Context) error { return l.insurance.ReverseDeposit(ctx, insuranceShare) },
		)
	}

	fees, err := add(l.totalFees, lpShare)
	if err != nil {
		return err
	}
	u.setAmount(&l.totalFees, fees)
	if l.totalShares.IsZero() {
		return nil
	}
	increment, err := mulDiv(lpShare, domain.Precision, l.totalShares)
	if err != nil {
		return err
	}
	index, err := add(l.feeIndex, increment)
	if err != nil {
		return err
	}
	u.setAmount(&l.feeIndex, index)
	return nil
}

// Credit records native value received by the bridge.
func (l *FeeLedger) Credit(u *unitOfWork, amount *uint256.Int) error {
	balance, err := add(l.balance, amount)
	if err != nil {
		return err
	}
	u.setAmount(&l.balance, balance)
	return nil
}

// Pay debits the balance and schedules the payout. Payouts to one recipient
// within an operation are merged into a single transfer.
func (l *FeeLedger) Pay(u *unitOfWork, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	balance, err := sub(l.balance, amount)
	if err != nil {
		return fmt.Errorf("%w: paying %s from %s", ErrInsufficientBalance, domain.FormatAmount(amount), domain.FormatAmount(l.balance))
	}
	u.setAmount(&l.balance, balance)
	if total, ok := u.payouts[to]; ok {
		total.Add(total, amount)
		return nil
	}
	total := domain.Clone(amount)
	u.payouts[to] = total
	id := payoutID(u, to)
	u.deferEffect("payout", stageExternal, func(ctx context.Context) error {
		return l.payer.Pay(ctx, id, to, total)
	}, nil)
	return nil
}

func payoutID(u *unitOfWork, to common.Address) common.Hash {
	return u.derive([]byte("payout"), to.Bytes())
}

// PendingFees is shares * (FeeIndex - checkpoint) / Precision.
func (l *FeeLedger) PendingFees(user common.Address) (*uint256.Int, error) {
	acc := l.account(user)
	if acc.Shares.IsZero() {
		return domain.Zero(), nil
	}
	delta, err := sub(l.feeIndex, acc.FeeCheckpoint)
	if err != nil {
		return nil, fmt.Errorf("fee checkpoint ahead of index: %w", err)
	}
	return mulDiv(acc.Shares, delta, domain.Precision)
}

// WithdrawableValue is the native value the user's shares redeem for, excluding fees.
func (l *FeeLedger) WithdrawableValue(user common.Address) (*uint256.Int, error) {
	acc := l.account(user)
	if acc.Shares.IsZero() || l.totalShares.IsZero() {
		return domain.Zero(), nil
	}
	return mulDiv(acc.Shares, l.TotalLiquidity(), l.totalShares)
}

func (l *FeeLedger) TotalLiquidity() *uint256.Int {
	return saturatingSub(l.balance, l.totalFees)
}

func (l *FeeLedger) Shares(user common.Address) *uint256.Int {
	return domain.Clone(l.account(user).Shares)
}

func (l *FeeLedger) TotalShares() *uint256.Int { return domain.Clone(l.totalShares) }

func (l *FeeLedger) FeeIndex() *uint256.Int { return domain.Clone(l.feeIndex) }

func (l *FeeLedger) TotalFees() *uint256.Int { return domain.Clone(l.totalFees) }

func (l *FeeLedger) Balance() *uint256.Int { return domain.Clone(l.balance) }
