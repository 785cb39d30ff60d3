package datafeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"fam_backend/cache"
	"fam_backend/config"
	"fam_backend/models"
	"fam_backend/store"
)

// The provider's batch quote endpoint accepts at most this many tickers.
const maxBulkQuery = 100

// LiveCurrencySyncer refreshes the live USD rate of every currency asset,
// one provider call per asset.
type LiveCurrencySyncer struct {
	updaterState
	provider  MarketProvider
	gate      *RequestGate
	store     *store.Store
	prices    *cache.PriceCache
	logger    *slog.Logger
	workers   int
	retries   int
	errorWait time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

// NewLiveCurrencySyncer creates the live updater for currencies. Rate lookups
// are cheap single-key requests, so the pool runs wider than the daily one.
func NewLiveCurrencySyncer(provider MarketProvider, gate *RequestGate, st *store.Store, prices *cache.PriceCache, cfg *config.Config, logger *slog.Logger) *LiveCurrencySyncer {
	return &LiveCurrencySyncer{
		updaterState: updaterState{interval: cfg.LiveUpdateInterval},
		provider:     provider,
		gate:         gate,
		store:        st,
		prices:       prices,
		logger:       logger,
		workers:      cfg.WorkerThreads * 2,
		retries:      cfg.MaxRetries,
		errorWait:    cfg.ErrorWaitTime,
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

func (s *LiveCurrencySyncer) Name() string {
	return "currency-live"
}

func (s *LiveCurrencySyncer) DoUpdate(ctx context.Context) error {
	s.logger.Info("live currency update started")
	assets, err := s.store.Assets.ListByClass(ctx, models.ClassCurrency)
	if err != nil {
		return fmt.Errorf("failed to load currency assets: %w", err)
	}
	results, err := fanOut(s.workers, assets, func(asset models.Asset) (SyncResult, error) {
		return s.syncAsset(ctx, &asset)
	})
	succeeded, failed, _ := summarize(results)
	s.logger.Info("live currency update finished", "succeeded", succeeded, "failed", failed)
	return err
}

func (s *LiveCurrencySyncer) syncAsset(ctx context.Context, asset *models.Asset) (SyncResult, error) {
	var quote *RawQuote
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		s.gate.Acquire()
		q, err := s.provider.ExchangeRate(ctx, asset.Ticker)
		if err == nil {
			quote = q
			break
		}
		lastErr = err
		s.logger.Error("failed to fetch exchange rate", "ticker", asset.Ticker, "attempt", attempt, "error", err)
		if attempt < s.retries {
			s.sleep(s.errorWait)
		}
	}
	if quote == nil {
		return SyncResult{}, &FatalError{Op: "live sync " + asset.Ticker, Err: lastErr}
	}

	price, stamp, err := parseQuote(quote, time.UTC)
	if err != nil {
		s.logger.Error("malformed exchange rate", "ticker", asset.Ticker, "error", err)
		return SyncResult{}, nil
	}
	if err := s.applyPrice(ctx, asset, price, stamp); err != nil {
		s.logger.Error("failed to store live price", "ticker", asset.Ticker, "error", err)
		return SyncResult{}, nil
	}
	return SyncResult{OK: true, Count: 1}, nil
}

func (s *LiveCurrencySyncer) applyPrice(ctx context.Context, asset *models.Asset, price decimal.Decimal, stamp time.Time) error {
	asset.SetPrice(price, stamp)
	if err := s.store.Assets.Update(ctx, asset); err != nil {
		return err
	}
	if err := s.prices.SetPrice(ctx, cache.PriceSnapshot{Ticker: asset.Ticker, Price: price, Timestamp: stamp}); err != nil {
		s.logger.Warn("failed to cache live price", "ticker", asset.Ticker, "error", err)
	}
	return nil
}

// LiveStockSyncer refreshes live equity quotes using the provider's bulk
// endpoint, batching the whole universe into chunks of at most maxBulkQuery
// tickers. A failed chunk is skipped for the cycle without touching the
// others.
type LiveStockSyncer struct {
	updaterState
	provider  MarketProvider
	gate      *RequestGate
	store     *store.Store
	prices    *cache.PriceCache
	logger    *slog.Logger
	workers   int
	retries   int
	errorWait time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

// NewLiveStockSyncer creates the live updater for stocks. Like the currency
// pool, live chunks run double-width relative to the daily sync.
func NewLiveStockSyncer(provider MarketProvider, gate *RequestGate, st *store.Store, prices *cache.PriceCache, cfg *config.Config, logger *slog.Logger) *LiveStockSyncer {
	return &LiveStockSyncer{
		updaterState: updaterState{interval: cfg.LiveUpdateInterval},
		provider:     provider,
		gate:         gate,
		store:        st,
		prices:       prices,
		logger:       logger,
		workers:      cfg.WorkerThreads * 2,
		retries:      cfg.MaxRetries,
		errorWait:    cfg.ErrorWaitTime,
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

func (s *LiveStockSyncer) Name() string {
	return "stock-live"
}

func (s *LiveStockSyncer) DoUpdate(ctx context.Context) error {
	s.logger.Info("live stock update started")
	assets, err := s.store.Assets.ListByClass(ctx, models.ClassStock)
	if err != nil {
		return fmt.Errorf("failed to load stock assets: %w", err)
	}
	tickers := make([]string, 0, len(assets))
	for _, asset := range assets {
		tickers = append(tickers, asset.Ticker)
	}
	chunks := chunkTickers(tickers, maxBulkQuery)

	results, err := fanOut(s.workers, chunks, func(chunk []string) (SyncResult, error) {
		return s.syncChunk(ctx, chunk)
	})
	succeeded, failed, count := summarize(results)
	s.logger.Info("live stock update finished",
		"chunks_succeeded", succeeded, "chunks_failed", failed, "quotes", count)
	return err
}

func (s *LiveStockSyncer) syncChunk(ctx context.Context, tickers []string) (SyncResult, error) {
	var quotes []RawQuote
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		s.gate.Acquire()
		q, err := s.provider.BatchQuotes(ctx, tickers)
		if err == nil {
			quotes = q
			break
		}
		lastErr = err
		s.logger.Error("failed to fetch stock quotes", "tickers", len(tickers), "attempt", attempt, "error", err)
		if attempt < s.retries {
			s.sleep(s.errorWait)
		}
	}
	if quotes == nil {
		return SyncResult{}, &FatalError{Op: "live stock sync", Err: lastErr}
	}

	updated := 0
	for _, quote := range quotes {
		price, stamp, err := parseQuote(&quote, usEastern)
		if err != nil {
			s.logger.Error("malformed stock quote", "ticker", quote.Ticker, "error", err)
			continue
		}
		asset, err := s.store.Assets.FindByTicker(ctx, models.ClassStock, quote.Ticker)
		if err != nil || asset == nil {
			s.logger.Warn("quote for unknown stock", "ticker", quote.Ticker, "error", err)
			continue
		}
		asset.SetPrice(price, stamp)
		if err := s.store.Assets.Update(ctx, asset); err != nil {
			s.logger.Error("failed to store live price", "ticker", asset.Ticker, "error", err)
			continue
		}
		if err := s.prices.SetPrice(ctx, cache.PriceSnapshot{Ticker: asset.Ticker, Price: price, Timestamp: stamp}); err != nil {
			s.logger.Warn("failed to cache live price", "ticker", asset.Ticker, "error", err)
		}
		updated++
	}
	return SyncResult{OK: true, Count: updated}, nil
}

// parseQuote validates a raw quote, interpreting its timestamp in loc and
// normalizing to UTC.
func parseQuote(quote *RawQuote, loc *time.Location) (decimal.Decimal, time.Time, error) {
	price, err := decimal.NewFromString(quote.Price)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("invalid price %q: %w", quote.Price, err)
	}
	for _, layout := range barDateLayouts {
		if t, err := time.ParseInLocation(layout, quote.Timestamp, loc); err == nil {
			return price, t.UTC(), nil
		}
	}
	return decimal.Decimal{}, time.Time{}, fmt.Errorf("invalid quote timestamp %q", quote.Timestamp)
}

func chunkTickers(tickers []string, size int) [][]string {
	chunks := make([][]string, 0, (len(tickers)+size-1)/size)
	for start := 0; start < len(tickers); start += size {
		end := start + size
		if end > len(tickers) {
			end = len(tickers)
		}
		chunks = append(chunks, tickers[start:end])
	}
	return chunks
}
