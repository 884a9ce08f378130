package application

import (
	"context"
	"errors"
	"fmt"

	"nativebridge/internal/domain"

	"github.com/holiman/uint256"
)

const (
	basisPoints       = 10_000
	insuranceSharePct = 20
	lpSharePct        = 80
)

func fetchPrice(ctx context.Context, oracle PriceOracle) (domain.Price, error) {
	price, err := oracle.LatestPrice(ctx)
	if err != nil {
		if errors.Is(err, ErrNonPositivePrice) || errors.Is(err, ErrStalePrice) || errors.Is(err, ErrOracleUnavailable) {
			return domain.Price{}, err
		}
		return domain.Price{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if price.Value == nil || price.Value.IsZero() {
		return domain.Price{}, ErrNonPositivePrice
	}
	return price, nil
}

// toUSD converts an 18-decimal native amount into an 18-decimal USD value.
func toUSD(native *uint256.Int, price domain.Price) (*uint256.Int, error) {
	return mulDiv(native, price.Value, domain.Pow10(price.Decimals))
}

// toNative is the inverse of toUSD, rounding down.
func toNative(usd *uint256.Int, price domain.Price) (*uint256.Int, error) {
	return mulDiv(usd, domain.Pow10(price.Decimals), price.Value)
}

func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", ErrInvariantViolation)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: 256-bit overflow", ErrInvariantViolation)
	}
	return z, nil
}

func feeFor(amount *uint256.Int, bps uint64) *uint256.Int {
	fee := new(uint256.Int).Mul(amount, uint256.NewInt(bps))
	return fee.Div(fee, uint256.NewInt(basisPoints))
}

func add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: 256-bit overflow", ErrInvariantViolation)
	}
	return z, nil
}

func sub(x, y *uint256.Int) (*uint256.Int, error) {
	if x.Lt(y) {
		return nil, fmt.Errorf("%w: underflow", ErrInvariantViolation)
	}
	return new(uint256.Int).Sub(x, y), nil
}

// saturatingSub returns max(x-y, 0).
func saturatingSub(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(x, y)
}
