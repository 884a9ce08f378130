package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"nativebridge/internal/application"
	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Caller executes read-only contract calls.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

const aggregatorABI = `[
{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[
	{"name":"roundId","type":"uint80"},
	{"name":"answer","type":"int256"},
	{"name":"startedAt","type":"uint256"},
	{"name":"updatedAt","type":"uint256"},
	{"name":"answeredInRound","type":"uint80"}
],"stateMutability":"view","type":"function"}
]`

var aggregator = mustParseABI(aggregatorABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ChainlinkFeed reads an AggregatorV3 price feed.
type ChainlinkFeed struct {
	caller Caller
	feed   common.Address
	maxAge time.Duration
	now    func() time.Time

	mu             sync.Mutex
	cachedDecimals *uint8
}

func NewChainlinkFeed(caller Caller, feed common.Address, maxAge time.Duration) *ChainlinkFeed {
	return &ChainlinkFeed{caller: caller, feed: feed, maxAge: maxAge, now: time.Now}
}

func (f *ChainlinkFeed) LatestPrice(ctx context.Context) (domain.Price, error) {
	decimals, err := f.decimals(ctx)
	if err != nil {
		return domain.Price{}, err
	}
	values, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return domain.Price{}, err
	}
	if len(values) != 5 {
		return domain.Price{}, fmt.Errorf("%w: latestRoundData returned %d values", application.ErrOracleUnavailable, len(values))
	}
	roundID, _ := values[0].(*big.Int)
	answer, _ := values[1].(*big.Int)
	updatedAt, _ := values[3].(*big.Int)
	answeredInRound, _ := values[4].(*big.Int)
	if roundID == nil || answer == nil || updatedAt == nil || answeredInRound == nil {
		return domain.Price{}, fmt.Errorf("%w: unexpected latestRoundData types", application.ErrOracleUnavailable)
	}

	if answer.Sign() <= 0 {
		return domain.Price{}, application.ErrNonPositivePrice
	}
	if updatedAt.Sign() == 0 || !updatedAt.IsInt64() {
		return domain.Price{}, fmt.Errorf("%w: round not complete", application.ErrStalePrice)
	}
	if answeredInRound.Cmp(roundID) < 0 {
		return domain.Price{}, fmt.Errorf("%w: answered in round %s of %s", application.ErrStalePrice, answeredInRound, roundID)
	}
	asOf := time.Unix(updatedAt.Int64(), 0)
	if f.maxAge > 0 && f.now().Sub(asOf) > f.maxAge {
		return domain.Price{}, fmt.Errorf("%w: updated %s", application.ErrStalePrice, asOf.UTC().Format(time.RFC3339))
	}

	value, overflow := uint256.FromBig(answer)
	if overflow {
		return domain.Price{}, fmt.Errorf("%w: answer overflows", application.ErrOracleUnavailable)
	}
	return domain.Price{Value: value, Decimals: decimals, AsOf: asOf}, nil
}

// maxDecimals is the largest scale whose power of ten fits in 256 bits.
const maxDecimals = 77

func (f *ChainlinkFeed) decimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cachedDecimals != nil {
		return *f.cachedDecimals, nil
	}
	values, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: decimals is not uint8", application.ErrOracleUnavailable)
	}
	if decimals > maxDecimals {
		return 0, fmt.Errorf("%w: feed reports %d decimals", application.ErrOracleUnavailable, decimals)
	}
	f.cachedDecimals = &decimals
	return decimals, nil
}

func (f *ChainlinkFeed) call(ctx context.Context, method string) ([]any, error) {
	data, err := aggregator.Pack(method)
	if err != nil {
		return nil, err
	}
	out, err := f.caller.Call(ctx, f.feed, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", application.ErrOracleUnavailable, err)
	}
	values, err := aggregator.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", application.ErrOracleUnavailable, method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s returned nothing", application.ErrOracleUnavailable, method)
	}
	return values, nil
}
