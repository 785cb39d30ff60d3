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

// AggregationSyncer derives weekly and monthly candles from the stored daily
// series. It never talks to the provider: everything is computed from candles
// the daily syncer already persisted, so the work is cheap and re-runnable.
//
// Weekly windows are Monday-aligned [monday, monday+7d); monthly windows run
// [first of month, first of next month). A window is aggregated only once it
// lies entirely in the past.
type AggregationSyncer struct {
	updaterState
	class   string
	store   *store.Store
	logger  *slog.Logger
	workers int

	now func() time.Time
}

// NewAggregationSyncer creates the aggregation updater for one asset class.
func NewAggregationSyncer(class string, st *store.Store, cfg *config.Config, logger *slog.Logger) *AggregationSyncer {
	return &AggregationSyncer{
		updaterState: updaterState{interval: time.Hour},
		class:        class,
		store:        st,
		logger:       logger,
		workers:      cfg.WorkerThreads,
		now:          time.Now,
	}
}

func (s *AggregationSyncer) Name() string {
	return s.class + "-aggregation"
}

func (s *AggregationSyncer) DoUpdate(ctx context.Context) error {
	s.logger.Info("aggregation started", "class", s.class)
	assets, err := s.store.Assets.ListByClass(ctx, s.class)
	if err != nil {
		return fmt.Errorf("failed to load %s assets: %w", s.class, err)
	}
	results, _ := fanOut(s.workers, assets, func(asset models.Asset) (SyncResult, error) {
		return s.syncAsset(ctx, &asset)
	})
	succeeded, failed, count := summarize(results)
	s.logger.Info("aggregation finished", "class", s.class,
		"succeeded", succeeded, "failed", failed, "candles", count)
	return nil
}

func (s *AggregationSyncer) syncAsset(ctx context.Context, asset *models.Asset) (SyncResult, error) {
	first, err := s.store.Candles.FirstCandle(ctx, asset.ID, models.IntervalDay)
	if err != nil {
		s.logger.Error("failed to load first daily candle", "ticker", asset.Ticker, "error", err)
		return SyncResult{}, nil
	}
	if first == nil {
		// Nothing to roll up yet; the next pass retries once the daily
		// syncer has produced data.
		return SyncResult{}, nil
	}

	weekly, err := s.syncWeekly(ctx, asset)
	if err != nil {
		s.logger.Error("weekly aggregation failed", "ticker", asset.Ticker, "error", err)
		return SyncResult{}, nil
	}
	monthly, err := s.syncMonthly(ctx, asset)
	if err != nil {
		s.logger.Error("monthly aggregation failed", "ticker", asset.Ticker, "error", err)
		return SyncResult{}, nil
	}
	return SyncResult{OK: true, Count: weekly + monthly}, nil
}

// syncWeekly aggregates every completed Monday-aligned week after the last
// stored weekly candle.
func (s *AggregationSyncer) syncWeekly(ctx context.Context, asset *models.Asset) (int, error) {
	start, err := s.nextWindowStart(ctx, asset, models.IntervalWeek)
	if err != nil || start.IsZero() {
		return 0, err
	}

	today := dateOf(s.now())
	candles := make([]models.Candle, 0)
	for end := start.AddDate(0, 0, 7); end.Before(today); end = start.AddDate(0, 0, 7) {
		members, err := s.store.Candles.CandlesWithin(ctx, asset.ID, models.IntervalDay, start, end)
		if err != nil {
			return 0, err
		}
		if len(members) == 0 {
			// The daily series has not reached this week yet.
			break
		}
		candles = append(candles, aggregateCandles(members, models.IntervalWeek))
		start = end
	}
	if len(candles) == 0 {
		return 0, nil
	}
	if err := s.store.Candles.InsertBatch(ctx, candles); err != nil {
		return 0, err
	}
	return len(candles), nil
}

// syncMonthly aggregates every completed calendar month after the last
// stored monthly candle.
func (s *AggregationSyncer) syncMonthly(ctx context.Context, asset *models.Asset) (int, error) {
	start, err := s.nextWindowStart(ctx, asset, models.IntervalMonth)
	if err != nil || start.IsZero() {
		return 0, err
	}

	today := dateOf(s.now())
	candles := make([]models.Candle, 0)
	for end := start.AddDate(0, 1, 0); end.Before(today); end = start.AddDate(0, 1, 0) {
		members, err := s.store.Candles.CandlesWithin(ctx, asset.ID, models.IntervalDay, start, end)
		if err != nil {
			return 0, err
		}
		if len(members) == 0 {
			break
		}
		candles = append(candles, aggregateCandles(members, models.IntervalMonth))
		start = end
	}
	if len(candles) == 0 {
		return 0, nil
	}
	if err := s.store.Candles.InsertBatch(ctx, candles); err != nil {
		return 0, err
	}
	return len(candles), nil
}

// nextWindowStart returns the open time of the first window still missing for
// the interval, or the zero time when the asset has no daily data at all. The
// first window is the one covering the earliest daily candle, so a series
// starting mid-week or mid-month yields a leading partial candle whose open
// time is the first real trading day.
func (s *AggregationSyncer) nextWindowStart(ctx context.Context, asset *models.Asset, interval int) (time.Time, error) {
	last, err := s.store.Candles.LastCandle(ctx, asset.ID, interval)
	if err != nil {
		return time.Time{}, err
	}
	if last != nil {
		day := dateOf(last.OpenTime)
		if interval == models.IntervalWeek {
			return day.AddDate(0, 0, -mondayOffset(day)).AddDate(0, 0, 7), nil
		}
		return firstOfMonth(day).AddDate(0, 1, 0), nil
	}

	first, err := s.store.Candles.FirstCandle(ctx, asset.ID, models.IntervalDay)
	if err != nil || first == nil {
		return time.Time{}, err
	}
	day := dateOf(first.OpenTime)
	if interval == models.IntervalWeek {
		return day.AddDate(0, 0, -mondayOffset(day)), nil
	}
	return firstOfMonth(day), nil
}

// aggregateCandles folds the daily candles of one window into a single
// candle. Synthetic filler days contribute nothing to open, high, low or
// volume, and the aggregate opens at the first real trading day of the
// window; a window holding only fillers collapses into a filler candle that
// keeps carrying the close forward. members must be non-empty and ordered
// ascending by open time.
func aggregateCandles(members []models.Candle, interval int) models.Candle {
	assetID := members[0].AssetID
	closePrice := members[len(members)-1].Close

	var open, high, low *decimal.Decimal
	var openTime time.Time
	volume := decimal.Zero
	for i := range members {
		m := &members[i]
		if m.IsFiller() {
			continue
		}
		if open == nil {
			open = m.Open
			openTime = m.OpenTime
		}
		if high == nil || m.High.GreaterThan(*high) {
			high = m.High
		}
		if low == nil || m.Low.LessThan(*low) {
			low = m.Low
		}
		if m.Volume != nil {
			volume = volume.Add(*m.Volume)
		}
	}
	if open == nil {
		return models.NewFillerCandle(assetID, closePrice, members[0].OpenTime, interval)
	}

	candle := models.Candle{
		AssetID:  assetID,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePrice,
		OpenTime: openTime,
		Interval: interval,
	}
	if !volume.IsZero() {
		candle.Volume = &volume
	}
	return candle
}
