package datafeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"fam_backend/config"
	"fam_backend/models"
	"fam_backend/store"
)

const (
	// A compact provider response covers roughly the last 100 bars; a
	// series older than this needs a full history pull.
	dailyCompactThreshold = 99
	dailyMaxRetries       = 5
	// Skip assets whose last candle is at most this many days old: the
	// current day's candle is still open and must not be stored.
	dailyUpdateInterval = 2
)

// DailySyncer keeps each asset's daily candle series current and gapless.
// Dates with no real trading data (weekends, holidays) are filled with
// synthetic candles carrying the most recent close forward, so consumers can
// range-scan the series without special-casing market closures.
type DailySyncer struct {
	updaterState
	class     string
	provider  MarketProvider
	gate      *RequestGate
	store     *store.Store
	logger    *slog.Logger
	workers   int
	errorWait time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

// NewDailySyncer creates the daily updater for one asset class.
func NewDailySyncer(class string, provider MarketProvider, gate *RequestGate, st *store.Store, cfg *config.Config, logger *slog.Logger) *DailySyncer {
	return &DailySyncer{
		updaterState: updaterState{interval: time.Hour},
		class:        class,
		provider:     provider,
		gate:         gate,
		store:        st,
		logger:       logger,
		workers:      cfg.WorkerThreads,
		errorWait:    cfg.ErrorWaitTime,
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

func (s *DailySyncer) Name() string {
	return s.class + "-daily"
}

// DoUpdate fans the per-asset sync out across the worker pool and blocks
// until every attempt has completed.
func (s *DailySyncer) DoUpdate(ctx context.Context) error {
	s.logger.Info("daily update started", "class", s.class)
	assets, err := s.store.Assets.ListByClass(ctx, s.class)
	if err != nil {
		return fmt.Errorf("failed to load %s assets: %w", s.class, err)
	}
	results, err := fanOut(s.workers, assets, func(asset models.Asset) (SyncResult, error) {
		return s.SyncAsset(ctx, &asset)
	})
	succeeded, failed, count := summarize(results)
	s.logger.Info("daily update finished", "class", s.class,
		"succeeded", succeeded, "failed", failed, "candles", count)
	return err
}

// SyncAsset brings one asset's daily series up to date. Per-asset parse
// failures abort only that asset for this cycle; the batch is accumulated in
// memory and inserted in one write, so a failed sync leaves nothing partial
// behind. Exhausting every fetch retry returns a FatalError.
func (s *DailySyncer) SyncAsset(ctx context.Context, asset *models.Asset) (SyncResult, error) {
	latest, err := s.store.Candles.LastCandle(ctx, asset.ID, models.IntervalDay)
	if err != nil {
		s.logger.Error("failed to load last candle", "ticker", asset.Ticker, "error", err)
		return SyncResult{}, nil
	}

	syncType := decideSyncType(latest, s.now())
	if syncType == "" {
		s.logger.Debug("daily series already current", "ticker", asset.Ticker)
		return SyncResult{OK: true}, nil
	}

	bars, err := s.fetchDaily(ctx, asset.Ticker, syncType)
	if err != nil {
		return SyncResult{}, err
	}

	today := dateOf(s.now())
	candles := make([]models.Candle, 0, len(bars))
	for _, bar := range bars {
		stamp, err := s.parseBarDate(bar.Date)
		if err != nil {
			s.logger.Error("unparsable bar date", "ticker", asset.Ticker, "date", bar.Date, "error", err)
			return SyncResult{}, nil
		}
		// Today's candle is still open; never store it.
		if dateOf(stamp).Equal(today) {
			continue
		}
		// Bars run newest first, so the first already-covered date means
		// everything after it is covered too.
		if latest != nil && !dateOf(stamp).After(dateOf(latest.OpenTime)) {
			break
		}
		candle, err := s.buildCandle(asset.ID, bar, stamp)
		if err != nil {
			s.logger.Error("malformed daily bar", "ticker", asset.Ticker, "date", bar.Date, "error", err)
			return SyncResult{}, nil
		}
		// Fill every calendar day between this bar and the previously
		// accepted (newer) one with this bar's close carried forward.
		target := today
		if len(candles) > 0 {
			target = dateOf(candles[len(candles)-1].OpenTime)
		}
		for fill := stamp.AddDate(0, 0, 1); !dateOf(fill).Equal(target); fill = fill.AddDate(0, 0, 1) {
			candles = append(candles, models.NewFillerCandle(asset.ID, candle.Close, fill, models.IntervalDay))
		}
		candles = append(candles, candle)
	}

	if len(candles) == 0 && latest != nil {
		// Nothing newer came back but time has passed: carry the last
		// stored close forward so the series stays gapless.
		for fill := latest.OpenTime.AddDate(0, 0, 1); !dateOf(fill).Equal(today); fill = fill.AddDate(0, 0, 1) {
			candles = append(candles, models.NewFillerCandle(asset.ID, latest.Close, fill, models.IntervalDay))
		}
	}
	if len(candles) == 0 {
		return SyncResult{OK: true}, nil
	}

	if err := s.store.Candles.InsertBatch(ctx, candles); err != nil {
		s.logger.Error("failed to insert daily candles", "ticker", asset.Ticker, "error", err)
		return SyncResult{}, nil
	}
	if err := s.refreshEarliestTimestamp(ctx, asset); err != nil {
		s.logger.Error("failed to refresh earliest timestamp", "ticker", asset.Ticker, "error", err)
	}
	return SyncResult{OK: true, Count: len(candles)}, nil
}

// decideSyncType returns SyncFull, SyncCompact or "" (no sync needed).
func decideSyncType(latest *models.Candle, now time.Time) string {
	if latest == nil {
		return SyncFull
	}
	ageDays := now.Sub(latest.OpenTime).Hours() / 24
	if ageDays <= dailyUpdateInterval {
		return ""
	}
	if ageDays >= dailyCompactThreshold {
		return SyncFull
	}
	return SyncCompact
}

// fetchDaily calls the provider through the request gate, retrying transient
// failures with a fixed backoff. Running out of retries is fatal: the
// process restarts under supervision rather than continue with an asset
// class in an unknown state.
func (s *DailySyncer) fetchDaily(ctx context.Context, ticker, mode string) ([]RawBar, error) {
	var lastErr error
	for attempt := 1; attempt <= dailyMaxRetries; attempt++ {
		s.gate.Acquire()
		var bars []RawBar
		var err error
		if s.class == models.ClassCurrency {
			bars, err = s.provider.CurrencyDaily(ctx, ticker, mode)
		} else {
			bars, err = s.provider.StockDaily(ctx, ticker, mode)
		}
		if err == nil {
			return bars, nil
		}
		lastErr = err
		s.logger.Error("failed to fetch daily data", "ticker", ticker, "attempt", attempt, "error", err)
		if attempt < dailyMaxRetries {
			s.sleep(s.errorWait)
		}
	}
	return nil, &FatalError{Op: "daily sync " + ticker, Err: lastErr}
}

// parseBarDate parses a provider bar timestamp and normalizes it to UTC.
// Equity bars are stamped in the exchange's local time; currency bars are
// already UTC-equivalent.
func (s *DailySyncer) parseBarDate(raw string) (time.Time, error) {
	loc := time.UTC
	if s.class == models.ClassStock {
		loc = usEastern
	}
	for _, layout := range barDateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised bar date %q", raw)
}

func (s *DailySyncer) buildCandle(assetID uint, bar RawBar, openTime time.Time) (models.Candle, error) {
	open, err := decimal.NewFromString(bar.Open)
	if err != nil {
		return models.Candle{}, fmt.Errorf("invalid open %q: %w", bar.Open, err)
	}
	high, err := decimal.NewFromString(bar.High)
	if err != nil {
		return models.Candle{}, fmt.Errorf("invalid high %q: %w", bar.High, err)
	}
	low, err := decimal.NewFromString(bar.Low)
	if err != nil {
		return models.Candle{}, fmt.Errorf("invalid low %q: %w", bar.Low, err)
	}
	closePrice, err := decimal.NewFromString(bar.Close)
	if err != nil {
		return models.Candle{}, fmt.Errorf("invalid close %q: %w", bar.Close, err)
	}
	candle := models.Candle{
		AssetID:  assetID,
		Open:     &open,
		High:     &high,
		Low:      &low,
		Close:    closePrice,
		OpenTime: openTime,
		Interval: models.IntervalDay,
	}
	if s.class == models.ClassStock {
		volume, err := decimal.NewFromString(bar.Volume)
		if err != nil {
			return models.Candle{}, fmt.Errorf("invalid volume %q: %w", bar.Volume, err)
		}
		candle.Volume = &volume
	}
	return candle, nil
}

func (s *DailySyncer) refreshEarliestTimestamp(ctx context.Context, asset *models.Asset) error {
	first, err := s.store.Candles.FirstCandle(ctx, asset.ID, models.IntervalDay)
	if err != nil || first == nil {
		return err
	}
	asset.EarliestTimestamp = &first.OpenTime
	return s.store.Assets.Update(ctx, asset)
}
