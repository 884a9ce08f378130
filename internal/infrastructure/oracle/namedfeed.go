package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"nativebridge/internal/application"
	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const namedFeedABI = `[
{"inputs":[{"name":"key","type":"string"}],"name":"getValue","outputs":[
	{"name":"value","type":"uint128"},
	{"name":"timestamp","type":"uint128"}
],"stateMutability":"view","type":"function"}
]`

var namedFeed = mustParseABI(namedFeedABI)

// NamedFeed reads a key-addressed feed that reports a value with fixed decimals
// and the time it was written.
type NamedFeed struct {
	caller   Caller
	contract common.Address
	key      string
	decimals uint8
	maxAge   time.Duration
	now      func() time.Time
}

func NewNamedFeed(caller Caller, contract common.Address, key string, decimals uint8, maxAge time.Duration) *NamedFeed {
	return &NamedFeed{caller: caller, contract: contract, key: key, decimals: decimals, maxAge: maxAge, now: time.Now}
}

func (f *NamedFeed) LatestPrice(ctx context.Context) (domain.Price, error) {
	data, err := namedFeed.Pack("getValue", f.key)
	if err != nil {
		return domain.Price{}, err
	}
	out, err := f.caller.Call(ctx, f.contract, data)
	if err != nil {
		return domain.Price{}, fmt.Errorf("%w: %v", application.ErrOracleUnavailable, err)
	}
	values, err := namedFeed.Unpack("getValue", out)
	if err != nil || len(values) != 2 {
		return domain.Price{}, fmt.Errorf("%w: decode getValue(%s)", application.ErrOracleUnavailable, f.key)
	}
	value, _ := values[0].(*big.Int)
	timestamp, _ := values[1].(*big.Int)
	if value == nil || timestamp == nil {
		return domain.Price{}, fmt.Errorf("%w: unexpected getValue types", application.ErrOracleUnavailable)
	}
	if value.Sign() == 0 {
		return domain.Price{}, application.ErrNonPositivePrice
	}
	if timestamp.Sign() == 0 || !timestamp.IsInt64() {
		return domain.Price{}, fmt.Errorf("%w: %s has no timestamp", application.ErrStalePrice, f.key)
	}
	asOf := time.Unix(timestamp.Int64(), 0)
	if f.maxAge > 0 && f.now().Sub(asOf) > f.maxAge {
		return domain.Price{}, fmt.Errorf("%w: %s updated %s", application.ErrStalePrice, f.key, asOf.UTC().Format(time.RFC3339))
	}
	price, _ := uint256.FromBig(value)
	return domain.Price{Value: price, Decimals: f.decimals, AsOf: asOf}, nil
}
