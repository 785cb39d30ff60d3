// Package store defines the persistence contracts consumed by the datafeed
// and provides the gorm (Postgres) and MongoDB implementations. The pipeline
// only ever appends candles and updates asset snapshots; nothing here
// rewrites a stored candle.
package store

import (
	"context"
	"time"

	"fam_backend/models"
)

// AssetStore manages the instrument universe.
type AssetStore interface {
	ListByClass(ctx context.Context, class string) ([]models.Asset, error)
	CountByClass(ctx context.Context, class string) (int64, error)
	// FindByTickerName returns nil when no asset matches.
	FindByTickerName(ctx context.Context, class, ticker, name string) (*models.Asset, error)
	FindByTicker(ctx context.Context, class, ticker string) (*models.Asset, error)
	InsertBatch(ctx context.Context, assets []models.Asset) error
	Update(ctx context.Context, asset *models.Asset) error
}

// CandleStore is the append-only time-series storage for OHLC bars, keyed by
// (asset, interval, open time).
type CandleStore interface {
	InsertBatch(ctx context.Context, candles []models.Candle) error
	// LastCandle returns the most recent candle for the interval, nil when
	// the asset has never been synced.
	LastCandle(ctx context.Context, assetID uint, interval int) (*models.Candle, error)
	FirstCandle(ctx context.Context, assetID uint, interval int) (*models.Candle, error)
	// CandlesWithin returns candles with open time in [start, finish),
	// ordered ascending.
	CandlesWithin(ctx context.Context, assetID uint, interval int, start, finish time.Time) ([]models.Candle, error)
	// DailyCandleOn returns the daily candle opening on the given calendar
	// day, nil when absent.
	DailyCandleOn(ctx context.Context, assetID uint, day time.Time) (*models.Candle, error)
}

// TrendStore stores search-interest observations.
type TrendStore interface {
	InsertBatch(ctx context.Context, trends []models.Trend) error
	LatestForTerm(ctx context.Context, term string) (*models.Trend, error)
}

// Store bundles the collections the datafeed reads and writes.
type Store struct {
	Assets  AssetStore
	Candles CandleStore
	Trends  TrendStore
}
