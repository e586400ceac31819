package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"IndexPull/internal/domain/models"
	"IndexPull/internal/domain/repository"
	"IndexPull/internal/handler/api"
	internalrepo "IndexPull/internal/repository"
	"IndexPull/internal/service/fallback"
	"IndexPull/internal/service/source"
	"IndexPull/internal/service/universe"
	"IndexPull/internal/usecase"
	"IndexPull/pkg/cache"
	pkgch "IndexPull/pkg/clickhouse"
	"IndexPull/pkg/config"
	xhttp "IndexPull/pkg/http"
	pkgkafka "IndexPull/pkg/kafka"
	applogger "IndexPull/pkg/logger"
	"IndexPull/pkg/metrics"
	"IndexPull/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	level := "info"
	format := "json"
	if cfg.Environment == "development" {
		level = "debug"
		format = "console"
	}
	return applogger.New(&applogger.Config{Level: level, Format: format, Output: "stdout"})
}

// ProvideHTTPClient creates the outbound HTTP client shared by all
// provider adapters and the universe fetcher.
func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	timeout := cfg.Providers.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return xhttp.NewClient(xhttp.WithTimeout(timeout))
}

// ProvideCacheService creates the bytes cache: redis when configured,
// in-memory otherwise.
func ProvideCacheService(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	host, port := splitHostPort(cfg.Redis.Addr)
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix("indexpull"),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(rc), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the
// schema exists.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := append(
		[]string{fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.ClickHouse.Database)},
		internalrepo.SchemaStatements(cfg.ClickHouse.Database)...,
	)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideQuoteStore creates ClickHouse quote storage.
func ProvideQuoteStore(chClient *pkgch.Client, cfg *config.Config) repository.QuoteStore {
	return internalrepo.NewClickHouseQuoteStore(chClient.DB(), cfg.ClickHouse.Database)
}

// ProvideKafkaProducer creates a Kafka producer when the kafka backend
// is selected; nil otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Backend.Type != "kafka" {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher creates the Kafka publisher repository; nil when the
// kafka backend is not selected. With a publisher available, the logger
// aggregates error logs to the error-logs topic through it.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config, l *applogger.Logger) repository.Publisher {
	if producer == nil {
		return nil
	}
	quoteTopic := cfg.Kafka.QuoteTopic
	if quoteTopic == "" {
		quoteTopic = "market-quotes"
	}
	selectionTopic := cfg.Kafka.SelectionTopic
	if selectionTopic == "" {
		selectionTopic = "index-selection"
	}
	pub := internalrepo.NewKafkaPublisher(producer, quoteTopic, selectionTopic)
	if lp, ok := pub.(applogger.Publisher); ok {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          "error-logs",
			Publisher:      lp,
		})
	}
	return pub
}

// ProvideAdapters builds the fallback preference order: Yahoo first,
// then the four fallback providers of decreasing richness.
func ProvideAdapters(cfg *config.Config, client *xhttp.Client) []source.Adapter {
	return []source.Adapter{
		source.NewYahoo(client),
		source.NewAlphaVantage(client, cfg.Providers.AlphaVantageKey, ""),
		source.NewPolygon(client, cfg.Providers.PolygonKey, ""),
		source.NewIEX(client, cfg.Providers.IEXToken, ""),
		source.NewFMP(client, cfg.Providers.FMPKey, ""),
	}
}

// ProvideChain creates the fallback chain.
func ProvideChain(adapters []source.Adapter, m repository.Metrics, l *applogger.Logger) *fallback.Chain {
	return fallback.New(adapters, m, l)
}

// ProvideUniverse creates the universe cache.
func ProvideUniverse(cfg *config.Config, client *xhttp.Client, l *applogger.Logger) repository.UniverseSource {
	days := cfg.Fetcher.CacheDurationDays
	if days <= 0 {
		days = 7
	}
	snapshotPath := cfg.Universe.SnapshotPath
	if snapshotPath == "" {
		snapshotPath = "data/universe.json"
	}
	return universe.New(universe.Config{
		ListingURL:    cfg.Universe.ListingURL,
		SnapshotPath:  snapshotPath,
		CacheDuration: time.Duration(days) * 24 * time.Hour,
	}, client, l)
}

// ProvideSelector creates the symbol selector with settings from config.
func ProvideSelector(
	u repository.UniverseSource,
	chain *fallback.Chain,
	cacheSvc cache.Service,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) (*usecase.Selector, error) {
	sel := usecase.NewSelector(u, chain, cacheSvc, m, l)

	settings := models.DefaultFetcherSettings()
	if cfg.Fetcher.CandidateSymbols > 0 {
		settings.CandidateSymbols = cfg.Fetcher.CandidateSymbols
	}
	if cfg.Fetcher.MaxSymbols > 0 {
		settings.MaxSymbols = cfg.Fetcher.MaxSymbols
	}
	if cfg.Fetcher.BatchSize > 0 {
		settings.BatchSize = cfg.Fetcher.BatchSize
	}
	if cfg.Fetcher.RateLimitDelay > 0 {
		settings.RateLimitDelay = cfg.Fetcher.RateLimitDelay
	}
	if cfg.Fetcher.YahooBatchDelay > 0 {
		settings.YahooBatchDelay = cfg.Fetcher.YahooBatchDelay
	}
	if cfg.Fetcher.CacheDurationDays > 0 {
		settings.CacheDurationDays = cfg.Fetcher.CacheDurationDays
	}
	if err := sel.SetSettings(settings); err != nil {
		return nil, fmt.Errorf("fetcher settings: %w", err)
	}
	return sel, nil
}

// ProvideCollector creates the data collector use case.
func ProvideCollector(
	sel *usecase.Selector,
	chain *fallback.Chain,
	pub repository.Publisher,
	store repository.QuoteStore,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.Collector {
	return usecase.NewCollector(sel, chain, pub, store, m, l, cfg.Backend.Type)
}

// ProvideHandler creates the HTTP API handler.
func ProvideHandler(
	l *applogger.Logger,
	sel *usecase.Selector,
	col *usecase.Collector,
	chain *fallback.Chain,
	u repository.UniverseSource,
	store repository.QuoteStore,
) xhttp.Handler {
	return api.NewFetcherHandler(l, sel, col, chain, u, store)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	handler xhttp.Handler,
	col *usecase.Collector,
	sel *usecase.Selector,
	chClient *pkgch.Client,
) *server.App {
	return server.New(cfg, l, handler, col, sel, chClient)
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		if addr != "" {
			return addr, 6379
		}
		return "localhost", 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 6379
	}
	return host, port
}
