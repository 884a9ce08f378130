package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"nativebridge/internal/application"
	"nativebridge/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	priceCacheKeyPrefix = "nativebridge:price:"
	defaultPriceTTL     = 5 * time.Second
)

type CacheConfig struct {
	Addr string
	TTL  time.Duration
	Name string
}

type cachedPrice struct {
	Value    string `json:"value"`
	Decimals uint8  `json:"decimals"`
	AsOf     int64  `json:"as_of"`
}

// CachedOracle is a read-through redis cache in front of another oracle.
// Redis failures fall through to the underlying oracle; errors are never cached.
type CachedOracle struct {
	base  application.PriceOracle
	cache *redis.Client
	ttl   time.Duration
	key   string
}

// NewCachedOracle connects to redis when an address is configured. With no
// address it returns a pass-through wrapper.
func NewCachedOracle(base application.PriceOracle, cfg CacheConfig) (*CachedOracle, error) {
	if base == nil {
		return nil, errors.New("base oracle is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedOracle{base: base}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return WithCache(base, client, cfg), nil
}

// WithCache wraps base with an already connected client.
func WithCache(base application.PriceOracle, client *redis.Client, cfg CacheConfig) *CachedOracle {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultPriceTTL
	}
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	return &CachedOracle{base: base, cache: client, ttl: cfg.TTL, key: priceCacheKeyPrefix + name}
}

func (o *CachedOracle) LatestPrice(ctx context.Context) (domain.Price, error) {
	if o.cache == nil {
		return o.base.LatestPrice(ctx)
	}
	if raw, err := o.cache.Get(ctx, o.key).Result(); err == nil {
		if price, ok := decodeCachedPrice(raw); ok {
			return price, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Debug("price cache read failed", "key", o.key, "err", err)
	}

	price, err := o.base.LatestPrice(ctx)
	if err != nil {
		return domain.Price{}, err
	}
	payload, err := json.Marshal(cachedPrice{
		Value:    domain.FormatAmount(price.Value),
		Decimals: price.Decimals,
		AsOf:     price.AsOf.Unix(),
	})
	if err != nil {
		return price, nil
	}
	_ = o.cache.Set(ctx, o.key, payload, o.ttl).Err()
	return price, nil
}

func (o *CachedOracle) Close() error {
	if o.cache == nil {
		return nil
	}
	return o.cache.Close()
}

func decodeCachedPrice(raw string) (domain.Price, bool) {
	var cached cachedPrice
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return domain.Price{}, false
	}
	value, err := domain.ParseAmount(cached.Value)
	if err != nil || value.IsZero() || cached.Decimals > maxDecimals {
		return domain.Price{}, false
	}
	return domain.Price{Value: value, Decimals: cached.Decimals, AsOf: time.Unix(cached.AsOf, 0)}, true
}
