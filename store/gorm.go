package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"fam_backend/models"
)

// NewGormStore builds the SQL-backed store used in production (Postgres) and
// in tests (in-memory SQLite).
func NewGormStore(db *gorm.DB) *Store {
	return &Store{
		Assets:  &gormAssetStore{db: db},
		Candles: &gormCandleStore{db: db},
		Trends:  &gormTrendStore{db: db},
	}
}

type gormAssetStore struct {
	db *gorm.DB
}

func (s *gormAssetStore) ListByClass(ctx context.Context, class string) ([]models.Asset, error) {
	var assets []models.Asset
	if err := s.db.WithContext(ctx).Where("class = ?", class).Order("ticker").Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s assets: %w", class, err)
	}
	return assets, nil
}

func (s *gormAssetStore) CountByClass(ctx context.Context, class string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Asset{}).Where("class = ?", class).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count %s assets: %w", class, err)
	}
	return count, nil
}

func (s *gormAssetStore) FindByTickerName(ctx context.Context, class, ticker, name string) (*models.Asset, error) {
	var asset models.Asset
	err := s.db.WithContext(ctx).
		Where("class = ? AND ticker = ? AND name = ?", class, ticker, name).
		First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find asset %s: %w", ticker, err)
	}
	return &asset, nil
}

func (s *gormAssetStore) FindByTicker(ctx context.Context, class, ticker string) (*models.Asset, error) {
	var asset models.Asset
	err := s.db.WithContext(ctx).Where("class = ? AND ticker = ?", class, ticker).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find asset %s: %w", ticker, err)
	}
	return &asset, nil
}

func (s *gormAssetStore) InsertBatch(ctx context.Context, assets []models.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&assets).Error; err != nil {
		return fmt.Errorf("failed to insert assets: %w", err)
	}
	return nil
}

func (s *gormAssetStore) Update(ctx context.Context, asset *models.Asset) error {
	if err := s.db.WithContext(ctx).Save(asset).Error; err != nil {
		return fmt.Errorf("failed to update asset %s: %w", asset.Ticker, err)
	}
	return nil
}

type gormCandleStore struct {
	db *gorm.DB
}

func (s *gormCandleStore) InsertBatch(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&candles).Error; err != nil {
		return fmt.Errorf("failed to insert candle batch: %w", err)
	}
	return nil
}

func (s *gormCandleStore) LastCandle(ctx context.Context, assetID uint, interval int) (*models.Candle, error) {
	var candle models.Candle
	err := s.db.WithContext(ctx).
		Where(`asset_id = ? AND "interval" = ?`, assetID, interval).
		Order("open_time DESC").
		First(&candle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last candle: %w", err)
	}
	return &candle, nil
}

func (s *gormCandleStore) FirstCandle(ctx context.Context, assetID uint, interval int) (*models.Candle, error) {
	var candle models.Candle
	err := s.db.WithContext(ctx).
		Where(`asset_id = ? AND "interval" = ?`, assetID, interval).
		Order("open_time ASC").
		First(&candle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query first candle: %w", err)
	}
	return &candle, nil
}

func (s *gormCandleStore) CandlesWithin(ctx context.Context, assetID uint, interval int, start, finish time.Time) ([]models.Candle, error) {
	var candles []models.Candle
	err := s.db.WithContext(ctx).
		Where(`asset_id = ? AND "interval" = ? AND open_time >= ? AND open_time < ?`, assetID, interval, start, finish).
		Order("open_time ASC").
		Find(&candles).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query candle range: %w", err)
	}
	return candles, nil
}

func (s *gormCandleStore) DailyCandleOn(ctx context.Context, assetID uint, day time.Time) (*models.Candle, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	candles, err := s.CandlesWithin(ctx, assetID, models.IntervalDay, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, nil
	}
	return &candles[0], nil
}

type gormTrendStore struct {
	db *gorm.DB
}

func (s *gormTrendStore) InsertBatch(ctx context.Context, trends []models.Trend) error {
	if len(trends) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&trends).Error; err != nil {
		return fmt.Errorf("failed to insert trends: %w", err)
	}
	return nil
}

func (s *gormTrendStore) LatestForTerm(ctx context.Context, term string) (*models.Trend, error) {
	var trend models.Trend
	err := s.db.WithContext(ctx).
		Where("search_term = ?", term).
		Order("timestamp DESC").
		First(&trend).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest trend for %s: %w", term, err)
	}
	return &trend, nil
}
