package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	// Stock quote normalization needs the US/Eastern zone even on
	// scratch container images.
	_ "time/tzdata"

	"fam_backend/cache"
	"fam_backend/config"
	"fam_backend/datafeed"
	"fam_backend/logx"
	"fam_backend/models"
	"fam_backend/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logx.New(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		// A fatal sync error lands here; the process exits non-zero and
		// external supervision restarts it with a clean slate.
		logger.Error("datafeed exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("datafeed stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("fam datafeed starting", "environment", cfg.Environment, "backend", cfg.StorageBackend)

	if cfg.AlphaVantageKey == "" {
		return errors.New("ALPHAVANTAGE_API_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	var prices *cache.PriceCache
	if cfg.RedisAddr != "" {
		prices, err = cache.NewPriceCache(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer prices.Close()
		logger.Info("price cache enabled", "addr", cfg.RedisAddr)
	}

	provider := datafeed.NewAlphaVantage(cfg.AlphaVantageBaseURL, cfg.AlphaVantageKey)
	gate := datafeed.NewRequestGate(provider.Name(), cfg.RateLimitPerMinute, logger)
	trendsProvider := datafeed.NewTrendsClient(cfg.TrendsBaseURL)

	classes := []datafeed.AssetClass{
		datafeed.NewCurrencyClass(provider, gate, st, prices, cfg, logger),
		datafeed.NewStockClass(provider, gate, st, prices, cfg, logger),
	}
	crossCut := []datafeed.Updater{
		datafeed.NewTrendsSyncer(trendsProvider, gate, st, cfg, logger),
	}

	return datafeed.NewDataLink(classes, crossCut, cfg, logger).Run(ctx)
}

// openStore connects the configured storage backend and returns the store
// with its cleanup function.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, func(), error) {
	if cfg.StorageBackend == "mongo" {
		db, err := store.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			db.Client().Disconnect(context.Background())
		}
		return store.NewMongoStore(db), closeFn, nil
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := models.MigrateAssetModels(db); err != nil {
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return store.NewGormStore(db), closeFn, nil
}
