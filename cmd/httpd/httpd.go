// Package httpd wires the marketpulse service together: configuration,
// logging, the cache and content store, the six ingestion pipelines, and
// the HTTP API, with ordered shutdown on SIGINT/SIGTERM.
package httpd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonesrussell/marketpulse/internal/api"
	"github.com/jonesrussell/marketpulse/internal/cache"
	"github.com/jonesrussell/marketpulse/internal/config"
	"github.com/jonesrussell/marketpulse/internal/domain"
	"github.com/jonesrussell/marketpulse/internal/elasticsearch"
	"github.com/jonesrussell/marketpulse/internal/ingest"
	"github.com/jonesrussell/marketpulse/internal/logger"
	"github.com/jonesrussell/marketpulse/internal/market"
	"github.com/jonesrussell/marketpulse/internal/metrics"
	"github.com/jonesrussell/marketpulse/internal/ratelimit"
	"github.com/jonesrussell/marketpulse/internal/scheduler"
	"github.com/jonesrussell/marketpulse/internal/service"
)

// Start runs the service until a shutdown signal or a fatal startup error.
// The return value is the process exit code.
func Start() int {
	cfg, err := config.Load(config.Path("config.yml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	log, err := createLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting service",
		logger.String("version", cfg.Service.Version),
		logger.Int("port", cfg.Service.Port),
		logger.Bool("debug", cfg.Service.Debug),
	)

	ctx := context.Background()

	// The cache is optional: memoization and dedup degrade without it.
	memo := cache.New(cfg.Cache, log)
	if connErr := memo.Connect(ctx); connErr != nil {
		log.Warn("cache unavailable, continuing without it", logger.Error(connErr))
	}

	store, err := elasticsearch.New(cfg.Elasticsearch, log)
	if err != nil {
		log.Error("failed to create elasticsearch client", logger.Error(err))
		return 1
	}
	if indexErr := store.EnsureIndex(ctx); indexErr != nil {
		// Readiness keeps reporting the store state; pipelines retry on
		// their next tick.
		log.Warn("elasticsearch not ready at startup", logger.Error(indexErr))
	}

	hours, err := market.NewHours(cfg.Market)
	if err != nil {
		log.Error("invalid market hours configuration", logger.Error(err))
		return 1
	}

	m := metrics.New()
	limiter := ratelimit.New(cfg.RateLimit, log)

	sched := scheduler.New(scheduler.NewCronTrigger(log), store, memo, m, log)
	if regErr := registerPipelines(sched, cfg, hours, log); regErr != nil {
		log.Error("pipeline registration failed", logger.Error(regErr))
		return 1
	}
	if startErr := sched.Start(); startErr != nil {
		log.Error("scheduler start failed", logger.Error(startErr))
		return 1
	}

	querySvc := service.NewQueryService(store, memo, cfg.Query, log)
	handler := api.NewHandler(
		cfg.Service.Name, cfg.Service.Version,
		querySvc, sched, store, memo, limiter, log,
	)
	router := api.NewRouter(handler, limiter, m, log, api.Options{
		Debug:          cfg.Service.Debug,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		JWTSecret:      cfg.Admin.JWTSecret,
	})
	server := api.NewServer(cfg.Service.Port, router, log)

	errCh := server.StartAsync()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	code := 0
	select {
	case serveErr := <-errCh:
		if serveErr != nil {
			log.Error("server failed", logger.Error(serveErr))
			code = 1
		}
	case sig := <-sigCh:
		log.Info("shutdown signal received", logger.String("signal", sig.String()))
	}

	// Stop feeding work before draining the HTTP server; the cache goes
	// last so in-flight requests keep their memoization.
	sched.Stop()
	limiter.Close()
	if shutErr := server.Shutdown(context.Background()); shutErr != nil {
		log.Error("server shutdown failed", logger.Error(shutErr))
		code = 1
	}
	if discErr := memo.Disconnect(); discErr != nil {
		log.Warn("cache disconnect failed", logger.Error(discErr))
	}

	log.Info("service exited")
	return code
}

func createLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development || cfg.Service.Debug,
	})
	if err != nil {
		return nil, err
	}
	return log.With(logger.String("service", cfg.Service.Name)), nil
}

// registerPipelines binds each configured task to its fetcher. Stocks are
// gated on market hours; everything else runs around the clock.
func registerPipelines(sched *scheduler.Scheduler, cfg *config.Config, hours *market.Hours, log logger.Logger) error {
	client := ingest.NewClient(cfg.Ingestion.Client, log)

	pipelines := []scheduler.Pipeline{
		{
			Name:     domain.TaskNews,
			Schedule: cfg.Ingestion.News.Schedule,
			TTL:      cfg.Ingestion.News.TTL,
			Fetcher:  ingest.NewNewsFetcher(client, cfg.Sources.News, log),
		},
		{
			Name:     domain.TaskCrypto,
			Schedule: cfg.Ingestion.Crypto.Schedule,
			TTL:      cfg.Ingestion.Crypto.TTL,
			Fetcher:  ingest.NewCryptoFetcher(client, cfg.Sources.Crypto, log),
		},
		{
			Name:     domain.TaskStocks,
			Schedule: cfg.Ingestion.Stocks.Schedule,
			TTL:      cfg.Ingestion.Stocks.TTL,
			Fetcher:  ingest.NewStocksFetcher(client, cfg.Sources.Stocks, log),
			Gate:     hours,
		},
		{
			Name:     domain.TaskTrends,
			Schedule: cfg.Ingestion.Trends.Schedule,
			TTL:      cfg.Ingestion.Trends.TTL,
			Fetcher:  ingest.NewTrendsFetcher(client, cfg.Sources.Trends, log),
		},
		{
			Name:     domain.TaskRates,
			Schedule: cfg.Ingestion.Rates.Schedule,
			TTL:      cfg.Ingestion.Rates.TTL,
			Fetcher:  ingest.NewRatesFetcher(client, cfg.Sources.Rates, log),
		},
		{
			Name:     domain.TaskEconomic,
			Schedule: cfg.Ingestion.Economic.Schedule,
			TTL:      cfg.Ingestion.Economic.TTL,
			Fetcher:  ingest.NewEconomicFetcher(client, cfg.Sources.Economic, log),
		},
	}

	for _, p := range pipelines {
		if err := sched.Register(p); err != nil {
			return err
		}
	}
	return nil
}
