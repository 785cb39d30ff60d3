package datafeed

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"fmt"
	"log/slog"
	"time"

	"fam_backend/cache"
	"fam_backend/config"
	"fam_backend/models"
	"fam_backend/store"
)

//go:embed seeds/supported_currencies.csv
var currencySeedCSV []byte

//go:embed seeds/supported_stocks.csv
var stockSeedCSV []byte

// AssetClass groups the instruments of one market segment with the refresh
// tasks that keep them current. OnStartup runs once before the scheduler
// starts; OnInterval runs on every scheduler pass and executes whichever
// tasks are due.
type AssetClass interface {
	Name() string
	OnStartup(ctx context.Context) error
	OnInterval(ctx context.Context, now time.Time) error
}

type baseAssetClass struct {
	name     string
	updaters []Updater
	logger   *slog.Logger
}

func (c *baseAssetClass) Name() string {
	return c.name
}

// OnInterval runs each due task. A task is marked updated only after a
// successful run, so a failed one is retried on the next pass. Fatal errors
// stop the pass and propagate to the scheduler.
func (c *baseAssetClass) OnInterval(ctx context.Context, now time.Time) error {
	return runDueUpdaters(ctx, now, c.updaters, c.logger)
}

// CurrencyClass tracks fiat currencies quoted against USD.
type CurrencyClass struct {
	baseAssetClass
	store *store.Store
}

// NewCurrencyClass assembles the currency segment and its refresh tasks.
func NewCurrencyClass(provider MarketProvider, gate *RequestGate, st *store.Store, prices *cache.PriceCache, cfg *config.Config, logger *slog.Logger) *CurrencyClass {
	return &CurrencyClass{
		baseAssetClass: baseAssetClass{
			name: models.ClassCurrency,
			updaters: []Updater{
				NewDailySyncer(models.ClassCurrency, provider, gate, st, cfg, logger),
				NewLiveCurrencySyncer(provider, gate, st, prices, cfg, logger),
				NewAggregationSyncer(models.ClassCurrency, st, cfg, logger),
			},
			logger: logger,
		},
		store: st,
	}
}

// OnStartup seeds the currency universe from the embedded list. The full
// list is loaded into an empty store in one batch; afterwards only additions
// to the list are inserted.
func (c *CurrencyClass) OnStartup(ctx context.Context) error {
	rows, err := parseSeedList(currencySeedCSV)
	if err != nil {
		return fmt.Errorf("invalid currency seed list: %w", err)
	}
	count, err := c.store.Assets.CountByClass(ctx, models.ClassCurrency)
	if err != nil {
		return fmt.Errorf("failed to count currencies: %w", err)
	}
	if count == 0 {
		assets := make([]models.Asset, 0, len(rows))
		for _, row := range rows {
			assets = append(assets, models.Asset{Class: models.ClassCurrency, Ticker: row.ticker, Name: row.name})
		}
		c.logger.Info("seeding currency universe", "count", len(assets))
		return c.store.Assets.InsertBatch(ctx, assets)
	}
	return insertMissingAssets(ctx, c.store, models.ClassCurrency, rows, c.logger)
}

// StockClass tracks listed equities.
type StockClass struct {
	baseAssetClass
	store *store.Store
	cfg   *config.Config
}

// NewStockClass assembles the equity segment and its refresh tasks.
func NewStockClass(provider MarketProvider, gate *RequestGate, st *store.Store, prices *cache.PriceCache, cfg *config.Config, logger *slog.Logger) *StockClass {
	return &StockClass{
		baseAssetClass: baseAssetClass{
			name: models.ClassStock,
			updaters: []Updater{
				NewDailySyncer(models.ClassStock, provider, gate, st, cfg, logger),
				NewLiveStockSyncer(provider, gate, st, prices, cfg, logger),
				NewAggregationSyncer(models.ClassStock, st, cfg, logger),
			},
			logger: logger,
		},
		store: st,
		cfg:   cfg,
	}
}

// OnStartup reconciles the stock universe against the embedded list,
// inserting whatever is missing. With asset limiting enabled only a prefix of
// the list is tracked, which keeps development environments inside the
// provider's free-tier quota.
func (c *StockClass) OnStartup(ctx context.Context) error {
	rows, err := parseSeedList(stockSeedCSV)
	if err != nil {
		return fmt.Errorf("invalid stock seed list: %w", err)
	}
	if c.cfg.LimitAssets && len(rows) > c.cfg.LimitAssetsQuantity {
		rows = rows[:c.cfg.LimitAssetsQuantity]
	}
	return insertMissingAssets(ctx, c.store, models.ClassStock, rows, c.logger)
}

type seedRow struct {
	ticker string
	name   string
}

// parseSeedList reads an embedded ticker,name CSV with a header row.
func parseSeedList(data []byte) ([]seedRow, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, err
	}
	rows := make([]seedRow, 0, len(records))
	for i, record := range records {
		if i == 0 {
			continue
		}
		if len(record) != 2 {
			return nil, fmt.Errorf("row %d: expected 2 fields, got %d", i+1, len(record))
		}
		rows = append(rows, seedRow{ticker: record[0], name: record[1]})
	}
	return rows, nil
}

// insertMissingAssets inserts every seed row not already present, matching on
// both ticker and name so a renamed instrument shows up as a new asset
// instead of silently mutating history.
func insertMissingAssets(ctx context.Context, st *store.Store, class string, rows []seedRow, logger *slog.Logger) error {
	missing := make([]models.Asset, 0)
	for _, row := range rows {
		existing, err := st.Assets.FindByTickerName(ctx, class, row.ticker, row.name)
		if err != nil {
			return fmt.Errorf("failed to look up %s %s: %w", class, row.ticker, err)
		}
		if existing == nil {
			missing = append(missing, models.Asset{Class: class, Ticker: row.ticker, Name: row.name})
		}
	}
	if len(missing) == 0 {
		return nil
	}
	logger.Info("adding new assets from seed list", "class", class, "count", len(missing))
	return st.Assets.InsertBatch(ctx, missing)
}
