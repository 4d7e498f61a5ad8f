package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/adapter/repo"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/adapter/sqlitestore"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/credits"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/history"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/http/handlers"
	httpapi "github.com/irisblue-ghoti/iris-landscape-sub000/internal/http/httpapi"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/infra"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/infra/geoip"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/middleware"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/preprocess"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/pricing"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/providers/enhance"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/scheduler"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/storage"
)

func main() {
	mintFor := flag.String("mint-token", "", "print a bearer token for the given account id and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of a minted token")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	if *mintFor != "" {
		token, err := middleware.MintToken(cfg.JWTSecret, *mintFor, *tokenTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to mint token")
		}
		fmt.Println(token)
		return
	}

	ctx := context.Background()

	var pool *pgxpool.Pool
	if cfg.UsesPostgres() {
		pool, err = infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
	}
	runner := infra.NewSQLRunner(pool, logger)

	var ledger domain.CreditLedger
	switch cfg.LedgerBackend {
	case infra.BackendMemory:
		logger.Warn().Int64("seed", cfg.MemoryLedgerSeed).Msg("using in-memory credit ledger; balances reset on restart")
		ledger = credits.NewMemoryLedger(cfg.MemoryLedgerSeed)
	default:
		ledger = repo.NewCreditLedger(runner)
	}

	var historyStore domain.HistoryStore
	switch cfg.HistoryBackend {
	case infra.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			logger.Fatal().Err(err).Msg("failed to create sqlite directory")
		}
		store, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("failed to open history database")
		}
		defer store.Close()
		historyStore = store
	default:
		historyStore = repo.NewHistoryRepository(runner)
	}

	prices, err := pricing.Load(cfg.PricingFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load pricing")
	}

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare storage")
	}

	enhancer, err := newEnhancer(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure enhancement provider")
	}

	var rdb *redis.Client
	var limiter scheduler.Limiter
	if cfg.RedisURL != "" {
		rdb, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		limiter = scheduler.NewRedisLimiter(rdb, scheduler.RedisLimiterOptions{
			Limit:  cfg.ConcurrencyLimit,
			TTL:    cfg.EnhanceTimeout * time.Duration(max(cfg.EnhanceMaxAttempts, 1)) * 2,
			Logger: logger,
		})
	}

	var countries geoip.CountryResolver
	if resolver, err := geoip.NewResolver(cfg.GeoIPDBPath); err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		defer resolver.Close()
		countries = resolver
	}

	recorder := history.NewRecorder(historyStore, logger)
	sched, err := scheduler.New(scheduler.Deps{
		Gate:         credits.NewGate(ledger, logger),
		Pricing:      prices,
		Preprocessor: preprocess.NewCompressor(preprocess.Options{MaxPixels: cfg.PreprocessMaxPixels}),
		Enhancer:     enhancer,
		Storage:      storage.NewUploader(fileStore, cfg.StorageBaseURL),
		History:      recorder,
		Limiter:      limiter,
	}, scheduler.Options{
		ConcurrencyLimit:       cfg.ConcurrencyLimit,
		WorkerPoolSize:         cfg.WorkerPoolSize,
		ChargePolicy:           scheduler.ChargePolicy(cfg.ChargePolicy),
		HaltOnInsufficient:     cfg.HaltOnInsufficient,
		PreprocessMaxBytes:     cfg.PreprocessMaxBytes,
		ArchiveFailedOriginals: cfg.ArchiveFailedOriginals,
		DefaultModel:           cfg.EnhanceModel,
		Logger:                 logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	app := handlers.NewApp(handlers.App{
		Config:  cfg,
		Batches: sched,
		History: recorder,
		Pricing: prices,
		Results: fileStore,
		GeoIP:   countries,
		Logger:  logger,
		Ready: func(ctx context.Context) error {
			if pool != nil {
				if err := pool.Ping(ctx); err != nil {
					return fmt.Errorf("database: %w", err)
				}
			}
			if rdb != nil {
				if err := rdb.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			return nil
		},
	})

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		StoragePath:     fileStore.BasePath(),
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("ledger", cfg.LedgerBackend).
			Str("history", cfg.HistoryBackend).
			Str("provider", cfg.EnhanceProvider).
			Int("concurrency", cfg.ConcurrencyLimit).
			Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// In-flight jobs get one remote timeout to finish and be recorded.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.EnhanceTimeout+10*time.Second)
	defer cancelDrain()
	if err := sched.Shutdown(drainCtx); err != nil {
		logger.Error().Err(err).Msg("scheduler did not drain in time; in-flight jobs were aborted")
	}
	logger.Info().Msg("server stopped")
}

func newEnhancer(cfg *infra.Config, logger *infra.Logger) (enhance.Client, error) {
	var client enhance.Client
	switch cfg.EnhanceProvider {
	case infra.ProviderHTTP:
		httpClient, err := enhance.NewHTTPClient(enhance.Options{
			APIKey:         cfg.EnhanceAPIKey,
			BaseURL:        cfg.EnhanceBaseURL,
			Model:          cfg.EnhanceModel,
			Logger:         logger,
			RequestTimeout: cfg.EnhanceTimeout,
		})
		if err != nil {
			return nil, err
		}
		client = httpClient
	default:
		logger.Warn().Dur("latency", cfg.SyntheticLatency).Msg("using synthetic enhancement provider")
		client = enhance.NewSyntheticClient(cfg.SyntheticLatency, logger).WithMaxPixels(cfg.PreprocessMaxPixels)
	}
	return enhance.WithRetry(client, cfg.EnhanceMaxAttempts, cfg.EnhanceRetryBackoff, logger), nil
}
