package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"nativebridge/internal/application"
	"nativebridge/internal/config"
	"nativebridge/internal/infrastructure/ethrpc"
	"nativebridge/internal/infrastructure/insurance"
	"nativebridge/internal/infrastructure/kafka"
	"nativebridge/internal/infrastructure/logging"
	"nativebridge/internal/infrastructure/telemetry"
	"nativebridge/internal/interfaces/httpapi"
	"nativebridge/internal/streaming"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logCloser, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		slog.Error("logger init error", "err", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName: "nativebridge",
		Version:     version,
		Endpoint:    cfg.OtelEndpoint,
		Insecure:    cfg.OtelInsecure,
		Domain:      cfg.LocalDomain,
	})
	if err != nil {
		slog.Error("tracing init error", "err", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "err", err)
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		slog.Error("db error", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	rpcClient, err := ethrpc.NewClient(ethrpc.Config{URL: cfg.RPCURL})
	if err != nil {
		slog.Error("rpc error", "err", err)
		os.Exit(1)
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:     cfg.KafkaBrokers,
		TopicPrefix: cfg.KafkaTopicPrefix,
	})
	if err != nil {
		slog.Error("kafka producer error", "err", err)
		os.Exit(1)
	}
	defer producer.Close()

	payouts, err := kafka.NewPayoutOutbox(producer)
	if err != nil {
		slog.Error("payout outbox error", "err", err)
		os.Exit(1)
	}

	beneficiary := streaming.RecipientAddress(cfg.BridgeAddress)
	if beneficiary == (common.Address{}) {
		beneficiary = cfg.Owner
	}
	vault, err := insurance.NewVault(ctx, store, payouts, insurance.Config{
		Seed:        cfg.InsuranceSeed,
		Beneficiary: beneficiary,
	})
	if err != nil {
		slog.Error("insurance vault error", "err", err)
		os.Exit(1)
	}

	priceOracle, closeOracle, err := buildOracle(cfg, rpcClient)
	if err != nil {
		slog.Error("oracle error", "kind", cfg.OracleKind, "err", err)
		os.Exit(1)
	}
	defer closeOracle()

	transport, err := kafka.NewTransport(producer, kafka.TransportConfig{
		LocalDomain: cfg.LocalDomain,
		Sender:      cfg.BridgeAddress,
		Via:         cfg.TransportAddress,
		Fee:         cfg.DispatchFee,
	})
	if err != nil {
		slog.Error("transport error", "err", err)
		os.Exit(1)
	}

	publisher, err := kafka.NewEventPublisher(producer)
	if err != nil {
		slog.Error("event publisher error", "err", err)
		os.Exit(1)
	}
	events := fanout{publisher, logging.NewEventLogger(slog.Default())}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := httpapi.NewMetrics(registry)

	controller, err := application.NewController(application.Dependencies{
		Oracle:    priceOracle,
		Insurance: vault,
		Transport: transport,
		Payer:     payouts,
		Heights:   rpcClient,
		Events:    events,
		Store:     store,
		Observer:  metrics,
	}, application.ControllerConfig{
		LocalDomain:    cfg.LocalDomain,
		FinalityWindow: cfg.FinalityWindow,
		Owner:          cfg.Owner,
	})
	if err != nil {
		slog.Error("controller error", "err", err)
		os.Exit(1)
	}
	if err := controller.Load(ctx); err != nil {
		slog.Error("state load error", "err", err)
		os.Exit(1)
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		TopicPrefix: cfg.KafkaTopicPrefix,
		GroupID:     cfg.KafkaGroupID,
		LocalDomain: cfg.LocalDomain,
	}, controller, metrics)
	if err != nil {
		slog.Error("kafka consumer error", "err", err)
		os.Exit(1)
	}
	defer consumer.Close()

	funding, err := kafka.NewFundingConsumer(kafka.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		TopicPrefix: cfg.KafkaTopicPrefix,
		GroupID:     cfg.KafkaGroupID + "-funding",
		LocalDomain: cfg.LocalDomain,
	}, controller, metrics)
	if err != nil {
		slog.Error("kafka funding consumer error", "err", err)
		os.Exit(1)
	}
	defer funding.Close()

	httpServer, err := httpapi.NewServer(controller, store, rpcClient, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
			slog.Error("http server error", "err", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("inbound consumer stopped", "err", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := funding.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("funding consumer stopped", "err", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		runSweeper(ctx, controller, cfg.SweepInterval)
	}()

	slog.Info("bridge started",
		"domain", cfg.LocalDomain,
		"store", cfg.StoreDriver,
		"oracle", cfg.OracleKind,
		"finality_window", cfg.FinalityWindow,
		"topic", kafka.TopicForDomain(cfg.KafkaTopicPrefix, cfg.LocalDomain),
		"funding_topic", kafka.FundingTopic(cfg.KafkaTopicPrefix),
	)
	<-ctx.Done()
	wg.Wait()
	slog.Info("bridge stopped")
}

// runSweeper releases matured pending transfers on every tick.
func runSweeper(ctx context.Context, controller *application.Controller, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, released, err := controller.SweepFinality(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Warn("finality sweep failed", "err", err)
				}
				continue
			}
			if count > 0 {
				slog.Info("finality sweep released transfers", "count", count, "usd", released.Dec())
			}
		}
	}
}
