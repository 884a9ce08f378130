package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type StoreDriver string

const (
	StoreSQLite StoreDriver = "sqlite"
	StoreMySQL  StoreDriver = "mysql"
)

type OracleKind string

const (
	OracleChainlink OracleKind = "chainlink"
	OracleNamed     OracleKind = "named"
	OracleStatic    OracleKind = "static"
)

type Config struct {
	LocalDomain      uint32
	RPCURL           string
	StoreDriver      StoreDriver
	DBDSN            string
	SQLitePath       string
	RedisAddr        string
	PriceCacheTTL    time.Duration
	OtelEndpoint     string
	OtelInsecure     bool
	HTTPAddr         string
	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaGroupID     string
	Owner            common.Address
	BridgeAddress    common.Hash
	TransportAddress common.Address
	DispatchFee      *uint256.Int
	OracleKind       OracleKind
	OracleAddress    common.Address
	OracleFeedKey    string
	OracleDecimals   uint8
	OracleMaxAge     time.Duration
	StaticPrice      *uint256.Int
	FinalityWindow   uint64
	SweepInterval    time.Duration
	InsuranceSeed    *uint256.Int
	LogLevel         string
	LogFile          string
	LogMaxSizeMB     int
	LogMaxBackups    int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	localDomain, err := parseUintEnv(source, "LOCAL_DOMAIN", 0)
	if err != nil {
		return Config{}, err
	}
	if localDomain == 0 || localDomain > 0xffffffff {
		return Config{}, errors.New("LOCAL_DOMAIN is required and must fit in 32 bits")
	}

	rpcURL, ok := source.Lookup("RPC_URL")
	if !ok || rpcURL == "" {
		return Config{}, errors.New("RPC_URL is required")
	}

	storeDriver := StoreDriver(lookupDefault(source, "STORE_DRIVER", string(StoreSQLite)))
	if storeDriver != StoreSQLite && storeDriver != StoreMySQL {
		return Config{}, fmt.Errorf("invalid STORE_DRIVER %q", storeDriver)
	}
	dbDSN := lookupDefault(source, "DB_DSN", "root:@tcp(127.0.0.1:3306)/nativebridge?parseTime=true&multiStatements=true")
	sqlitePath := lookupDefault(source, "SQLITE_PATH", "nativebridge.db")

	redisAddr := ""
	if raw, ok := source.Lookup("REDIS_ADDR"); ok {
		redisAddr = strings.TrimSpace(raw)
	}
	priceCacheTTL, err := parseDurationEnv(source, "PRICE_CACHE_TTL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelEndpoint = strings.TrimSpace(otelEndpoint)
	otelInsecure, err := parseBoolEnv(source, "OTEL_EXPORTER_OTLP_INSECURE")
	if err != nil {
		return Config{}, err
	}
	httpAddr := lookupDefault(source, "HTTP_ADDR", "127.0.0.1:8080")

	kafkaBrokers, err := parseList(source, "KAFKA_BROKERS", "localhost:9092")
	if err != nil {
		return Config{}, err
	}
	kafkaTopicPrefix := lookupDefault(source, "KAFKA_TOPIC_PREFIX", "nativebridge")
	kafkaGroupID := lookupDefault(source, "KAFKA_GROUP_ID", fmt.Sprintf("nativebridge-%d", localDomain))

	owner, err := parseAddress(source, "OWNER_ADDRESS", true)
	if err != nil {
		return Config{}, err
	}
	bridgeAddress, err := parseAddress(source, "BRIDGE_ADDRESS", true)
	if err != nil {
		return Config{}, err
	}
	transportAddress, err := parseAddress(source, "TRANSPORT_ADDRESS", true)
	if err != nil {
		return Config{}, err
	}
	dispatchFee, err := parseAmountEnv(source, "DISPATCH_FEE", "0")
	if err != nil {
		return Config{}, err
	}

	oracleKind := OracleKind(lookupDefault(source, "ORACLE_KIND", string(OracleChainlink)))
	var oracleAddress common.Address
	switch oracleKind {
	case OracleChainlink, OracleNamed:
		if oracleAddress, err = parseAddress(source, "ORACLE_ADDRESS", true); err != nil {
			return Config{}, err
		}
	case OracleStatic:
	default:
		return Config{}, fmt.Errorf("invalid ORACLE_KIND %q", oracleKind)
	}
	oracleFeedKey := lookupDefault(source, "ORACLE_FEED_KEY", "ETH/USD")
	if oracleKind == OracleNamed && strings.TrimSpace(oracleFeedKey) == "" {
		return Config{}, errors.New("ORACLE_FEED_KEY is required for the named oracle")
	}
	oracleDecimals, err := parseUintEnv(source, "ORACLE_DECIMALS", 8)
	if err != nil {
		return Config{}, err
	}
	if oracleDecimals > 77 {
		return Config{}, errors.New("ORACLE_DECIMALS must not exceed 77")
	}
	oracleMaxAge, err := parseDurationEnv(source, "ORACLE_MAX_AGE", time.Hour)
	if err != nil {
		return Config{}, err
	}
	staticPrice, err := parseAmountEnv(source, "STATIC_PRICE", "0")
	if err != nil {
		return Config{}, err
	}
	if oracleKind == OracleStatic && staticPrice.IsZero() {
		return Config{}, errors.New("STATIC_PRICE is required for the static oracle")
	}

	finalityWindow, err := parseUintEnv(source, "FINALITY_WINDOW", 64)
	if err != nil {
		return Config{}, err
	}
	sweepInterval, err := parseDurationEnv(source, "SWEEP_INTERVAL", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	insuranceSeed, err := parseAmountEnv(source, "INSURANCE_SEED", "0")
	if err != nil {
		return Config{}, err
	}

	logMaxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 5)
	if err != nil {
		return Config{}, err
	}

	return Config{
		LocalDomain:      uint32(localDomain),
		RPCURL:           rpcURL,
		StoreDriver:      storeDriver,
		DBDSN:            dbDSN,
		SQLitePath:       sqlitePath,
		RedisAddr:        redisAddr,
		PriceCacheTTL:    priceCacheTTL,
		OtelEndpoint:     otelEndpoint,
		OtelInsecure:     otelInsecure,
		HTTPAddr:         httpAddr,
		KafkaBrokers:     kafkaBrokers,
		KafkaTopicPrefix: kafkaTopicPrefix,
		KafkaGroupID:     kafkaGroupID,
		Owner:            owner,
		BridgeAddress:    common.BytesToHash(bridgeAddress.Bytes()),
		TransportAddress: transportAddress,
		DispatchFee:      dispatchFee,
		OracleKind:       oracleKind,
		OracleAddress:    oracleAddress,
		OracleFeedKey:    oracleFeedKey,
		OracleDecimals:   uint8(oracleDecimals),
		OracleMaxAge:     oracleMaxAge,
		StaticPrice:      staticPrice,
		FinalityWindow:   finalityWindow,
		SweepInterval:    sweepInterval,
		InsuranceSeed:    insuranceSeed,
		LogLevel:         lookupDefault(source, "LOG_LEVEL", "info"),
		LogFile:          strings.TrimSpace(lookupDefault(source, "LOG_FILE", "")),
		LogMaxSizeMB:     int(logMaxSize),
		LogMaxBackups:    int(logMaxBackups),
	}, nil
}

func lookupDefault(source EnvSource, key, defaultValue string) string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	return strings.TrimSpace(raw)
}

func parseBoolEnv(source EnvSource, key string) (bool, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}

func parseAmountEnv(source EnvSource, key, defaultValue string) (*uint256.Int, error) {
	value, err := domain.ParseAmount(lookupDefault(source, key, defaultValue))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseAddress(source EnvSource, key string, required bool) (common.Address, error) {
	raw, ok := source.Lookup(key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		if required {
			return common.Address{}, fmt.Errorf("%s is required", key)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s: %q is not a hex address", key, raw)
	}
	return common.HexToAddress(raw), nil
}

func parseList(source EnvSource, key string, defaultValue string) ([]string, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultValue
	}
	items := strings.Split(raw, ",")
	var values []string
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s is required", key)
	}
	return values, nil
}
