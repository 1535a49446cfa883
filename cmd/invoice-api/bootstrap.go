package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/InvoiceBox/config"
	invoicesapi "github.com/BearBump/InvoiceBox/internal/api/invoices_api"
	"github.com/BearBump/InvoiceBox/internal/broker/kafka"
	"github.com/BearBump/InvoiceBox/internal/cache/rediscache"
	"github.com/BearBump/InvoiceBox/internal/services/catalog"
	"github.com/BearBump/InvoiceBox/internal/services/ingest"
	"github.com/BearBump/InvoiceBox/internal/storage/pginvoices"
	"github.com/BearBump/InvoiceBox/internal/storage/sqliteinvoices"
	"github.com/BearBump/InvoiceBox/internal/validate"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type invoiceStore interface {
	ingest.Repository
	catalog.Repository
	Ping(ctx context.Context) error
	Close()
}

type settings struct {
	httpAddr      string
	swaggerPath   string
	topic         string
	consumerGroup string
	cacheTTL      time.Duration

	batchSize     int
	recordTimeout time.Duration
	sliceDelay    time.Duration
	keepAlive     time.Duration
	budget        time.Duration
	maxRecords    int
	uploadsPerMin int64
}

func resolveSettings(cfg *config.Config) settings {
	s := settings{
		httpAddr:      cfg.InvoiceBox.HTTPAddr,
		swaggerPath:   cfg.InvoiceBox.SwaggerPath,
		topic:         cfg.Kafka.InvoiceIngestedTopicName,
		consumerGroup: cfg.InvoiceBox.KafkaConsumerGroup,
		cacheTTL:      time.Duration(cfg.InvoiceBox.CacheTTLSeconds) * time.Second,

		batchSize:     cfg.Ingest.BatchSize,
		recordTimeout: time.Duration(cfg.Ingest.RecordTimeoutSeconds) * time.Second,
		sliceDelay:    time.Duration(cfg.Ingest.SliceDelayMillis) * time.Millisecond,
		keepAlive:     time.Duration(cfg.Ingest.KeepAliveSeconds) * time.Second,
		budget:        time.Duration(cfg.Ingest.ConnectionBudgetSeconds) * time.Second,
		maxRecords:    cfg.Ingest.MaxRecords,
		uploadsPerMin: int64(cfg.Ingest.UploadRateLimitPerMinute),
	}
	if s.httpAddr == "" {
		s.httpAddr = ":8080"
	}
	if env := os.Getenv("swaggerPath"); env != "" {
		s.swaggerPath = env
	}
	if s.topic == "" {
		s.topic = "invoice.ingested"
	}
	if s.consumerGroup == "" {
		s.consumerGroup = "invoice-api"
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 5 * time.Minute
	}
	if s.batchSize <= 0 {
		s.batchSize = ingest.DefaultBatchSize
	}
	if s.recordTimeout <= 0 {
		s.recordTimeout = ingest.DefaultRecordTimeout
	}
	if s.sliceDelay <= 0 {
		s.sliceDelay = ingest.DefaultSliceDelay
	}
	if s.keepAlive <= 0 {
		s.keepAlive = 15 * time.Second
	}
	if s.budget <= 0 {
		s.budget = ingest.DefaultBudget
	}
	return s
}

// shutdownGrace covers the slice a stream is running when shutdown starts, plus time
// to write the resume event.
func (s settings) shutdownGrace() time.Duration {
	return s.recordTimeout + s.sliceDelay + 5*time.Second
}

type invoiceAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     invoiceAPIOpts
	handler  *invoicesapi.API
	catalog  *catalog.Service
	consumer *kafka.Consumer
	closers  []func()
}

func mustBootstrapInvoiceAPI() *invoiceAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	s := resolveSettings(cfg)

	// цены в ответах API числами, а не строками
	decimal.MarshalJSONWithoutQuotes = true

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app := &invoiceAPIApp{ctx: ctx, cancel: cancel}

	st, err := openStoreWithRetry(ctx, cfg.Database, 60*time.Second)
	if err != nil {
		cancel()
		panic(err)
	}
	app.closers = append(app.closers, st.Close)

	var (
		cache   *rediscache.RedisCache
		limiter *rediscache.RateLimiter
	)
	if cfg.Redis.Host != "" {
		rc := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)})
		cache = rediscache.NewFromClient(rc)
		limiter = rediscache.NewRateLimiterFromClient(rc, s.uploadsPerMin, time.Minute)
		app.closers = append(app.closers, func() { _ = rc.Close() })
	}

	var producer *kafka.Producer
	if cfg.Kafka.Host != "" {
		brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
		producer = kafka.NewProducer(brokers).WithRetry(3, 200*time.Millisecond)
		app.consumer = kafka.NewConsumer(brokers, s.topic, s.consumerGroup)
		app.closers = append(app.closers, func() { _ = producer.Close() })
	}

	var pub ingest.Publisher
	if producer != nil {
		pub = producer
	}
	proc := ingest.NewProcessor(st, pub, s.topic)
	sched := ingest.NewScheduler(proc).WithSettings(s.batchSize, s.recordTimeout, s.sliceDelay)

	app.catalog = catalog.New(st, nil, 0)
	if cache != nil {
		app.catalog = catalog.New(st, cache, s.cacheTTL)
	}

	api := invoicesapi.New(sched, app.catalog).
		WithSettings(s.keepAlive, s.budget, 0).
		WithValidator(validate.New().WithMaxRecords(s.maxRecords)).
		WithReadiness("database", st).
		WithSwagger(s.swaggerPath)
	if limiter != nil {
		api = api.WithRateLimiter(limiter).WithReadiness("redis", cache)
	}
	app.handler = api

	app.opts = invoiceAPIOpts{
		httpAddr:      s.httpAddr,
		swaggerPath:   s.swaggerPath,
		topic:         s.topic,
		consumerGroup: s.consumerGroup,
		shutdownGrace: s.shutdownGrace(),
		onShutdown:    api.Halt,
	}

	slog.Info("invoice-api configured",
		"driver", cfg.Database.Driver,
		"batch_size", s.batchSize,
		"record_timeout", s.recordTimeout.String(),
		"budget", s.budget.String(),
		"shutdown_grace", s.shutdownGrace().String(),
		"redis", cache != nil,
		"kafka", producer != nil,
	)
	return app
}

func openStore(ctx context.Context, db config.DatabaseConfig) (invoiceStore, error) {
	switch db.Driver {
	case "", "postgres":
		return pginvoices.New(ctx, db.PostgresDSN())
	case "sqlite":
		path := db.Path
		if path == "" {
			path = "invoicebox.db"
		}
		return sqliteinvoices.New(ctx, path)
	default:
		return nil, retry.Unrecoverable(errors.Errorf("unknown database driver %q", db.Driver))
	}
}

func openStoreWithRetry(ctx context.Context, db config.DatabaseConfig, wait time.Duration) (invoiceStore, error) {
	var st invoiceStore
	attempts := uint(wait / time.Second)
	if attempts == 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error {
			s, err := openStore(ctx, db)
			if err != nil {
				return err
			}
			st = s
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("database is not ready", "attempt", n+1, "error", err.Error())
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "database is not ready after %s", wait)
	}
	return st, nil
}

func (a *invoiceAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *invoiceAPIApp) Run() error {
	var consumer kafkaConsumer
	if a.consumer != nil {
		consumer = a.consumer
	}
	return runInvoiceAPI(a.ctx, a.opts, a.handler.Router(), a.catalog, consumer)
}
