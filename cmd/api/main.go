package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mlcopy/internal/account"
	"mlcopy/internal/alert"
	"mlcopy/internal/api"
	"mlcopy/internal/config"
	"mlcopy/internal/database"
	"mlcopy/internal/domain"
	"mlcopy/internal/events"
	"mlcopy/internal/export"
	"mlcopy/internal/logging"
	"mlcopy/internal/meli"
	"mlcopy/internal/metrics"
	"mlcopy/internal/models"
	"mlcopy/internal/replicator"
	"mlcopy/internal/repository"
	"mlcopy/internal/service"
	"mlcopy/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if err := seedAccounts(db, &logger); err != nil {
		return err
	}

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	tokenCache := buildTokenCache(redisClient, &logger)
	accounts := account.NewService(db, tokenCache, cfg.Marketplace.TokenURL, models.DefaultTokenCacheTTL, &logger)

	retryCtrl := meli.NewRetryController(
		cfg.Replication.RateLimitRetries,
		cfg.Replication.TransientRetries,
		worker.RetryPolicy{
			InitialDelay: cfg.Replication.InitialBackoff,
			MaxDelay:     cfg.Replication.MaxBackoff,
		},
		&logger,
	)
	client := meli.NewClient(cfg.Marketplace, accounts, retryCtrl, &logger)

	alerter := alert.New(cfg.Alerts, &logger)
	eventBus := events.NewEventBus()

	orch := replicator.NewOrchestrator(db, client, alerter, eventBus, &logger, cfg.Replication.TargetConcurrency)
	catalog := replicator.NewCatalogResolver(client, &logger)

	var svc *service.ReplicationService
	var dispatcher *worker.Dispatcher
	// The dispatcher needs the service as its runner and the service
	// needs the dispatcher as its queue; wire the queue through a thin
	// indirection to break the cycle.
	svc = service.NewReplicationService(db, db, client, catalog, orch, enqueuerFunc(func(ctx context.Context, jobID string) error {
		return dispatcher.Enqueue(ctx, jobID)
	}), eventBus, &logger)
	dispatcher = worker.NewDispatcher(db, svc, redisClient, cfg.Replication.QueuePollInterval, log.Default())

	var exporter *export.Exporter
	if cfg.Exports.Path != "" {
		exporter = export.NewExporter(cfg.Exports.Path, db, &logger)
	}

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}
	httpServer := api.NewHTTPServer(cfg.API, svc, db, exporter, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	go dispatcher.Start(ctx)

	return startServer(ctx, httpServer, cfg, &logger)
}

// enqueuerFunc adapts a function to the service's Enqueuer.
type enqueuerFunc func(ctx context.Context, jobID string) error

func (f enqueuerFunc) Enqueue(ctx context.Context, jobID string) error { return f(ctx, jobID) }

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// seedAccounts loads the declarative account list into the store. Tokens
// already persisted for an account are preserved.
func seedAccounts(db *database.DB, logger *zerolog.Logger) error {
	accountsPath := os.Getenv("ACCOUNTS_PATH")
	if accountsPath == "" {
		accountsPath = "configs/accounts.yaml"
	}

	accounts, err := account.LoadAccountsFile(accountsPath)
	if err != nil {
		logger.Error().Err(err).Str("accounts_path", accountsPath).Msg("load accounts")
		return err
	}

	for i := range accounts {
		if err := db.UpsertAccount(context.Background(), &accounts[i]); err != nil {
			return fmt.Errorf("seed account %s: %w", accounts[i].Slug, err)
		}
	}
	if len(accounts) > 0 {
		logger.Info().Int("count", len(accounts)).Msg("accounts seeded")
	}
	return nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func buildTokenCache(redisClient *redis.Client, logger *zerolog.Logger) domain.TokenCache {
	memCache := repository.NewMemoryTokenCache()
	if redisClient == nil {
		return memCache
	}
	return repository.NewFailoverTokenCache(repository.NewRedisTokenCache(redisClient), memCache, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Int("port", port).Msg("metrics server started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}
