package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nativebridge/internal/application"
	"nativebridge/internal/config"
	"nativebridge/internal/domain"
	"nativebridge/internal/infrastructure/ethrpc"
	"nativebridge/internal/infrastructure/mysql"
	"nativebridge/internal/infrastructure/oracle"
	"nativebridge/internal/infrastructure/sqlite"
	"nativebridge/internal/infrastructure/sqlstore"
)

func openStore(cfg config.Config) (*sqlstore.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMySQL:
		return mysql.Open(cfg.DBDSN)
	case config.StoreSQLite:
		return sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// buildOracle selects the price source and puts the redis cache in front of
// it when one is configured. A cache that cannot connect is skipped.
func buildOracle(cfg config.Config, rpc *ethrpc.Client) (application.PriceOracle, func(), error) {
	var base application.PriceOracle
	switch cfg.OracleKind {
	case config.OracleChainlink:
		base = oracle.NewChainlinkFeed(rpc, cfg.OracleAddress, cfg.OracleMaxAge)
	case config.OracleNamed:
		base = oracle.NewNamedFeed(rpc, cfg.OracleAddress, cfg.OracleFeedKey, cfg.OracleDecimals, cfg.OracleMaxAge)
	case config.OracleStatic:
		base = oracle.NewStatic(cfg.StaticPrice, cfg.OracleDecimals)
	default:
		return nil, nil, fmt.Errorf("unknown oracle kind %q", cfg.OracleKind)
	}

	noop := func() {}
	if cfg.RedisAddr == "" {
		return base, noop, nil
	}
	cached, err := oracle.NewCachedOracle(base, oracle.CacheConfig{
		Addr: cfg.RedisAddr,
		TTL:  cfg.PriceCacheTTL,
		Name: fmt.Sprintf("%s:%d", cfg.OracleKind, cfg.LocalDomain),
	})
	if err != nil {
		slog.Warn("price cache disabled", "addr", cfg.RedisAddr, "err", err)
		return base, noop, nil
	}
	return cached, func() { _ = cached.Close() }, nil
}

// fanout publishes events to every sink and reports all failures together.
type fanout []application.EventSink

func (f fanout) Publish(ctx context.Context, events []domain.Event) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
