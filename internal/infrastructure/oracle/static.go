package oracle

import (
	"context"
	"time"

	"nativebridge/internal/application"
	"nativebridge/internal/domain"

	"github.com/holiman/uint256"
)

// Static always reports the same price. Meant for local networks and tests.
type Static struct {
	price    *uint256.Int
	decimals uint8
}

func NewStatic(price *uint256.Int, decimals uint8) *Static {
	return &Static{price: domain.Clone(price), decimals: decimals}
}

func (s *Static) LatestPrice(context.Context) (domain.Price, error) {
	if s.price.IsZero() {
		return domain.Price{}, application.ErrNonPositivePrice
	}
	return domain.Price{Value: domain.Clone(s.price), Decimals: s.decimals, AsOf: time.Now()}, nil
}
