package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Asset classes tracked by the datafeed
const (
	ClassCurrency = "currency"
	ClassStock    = "stock"
)

// Asset represents a tradable instrument (currency or stock).
// Assets are created once at startup from the seed lists and mutated only by
// the live updaters; they are never deleted during normal operation.
type Asset struct {
	ID                uint             `gorm:"primaryKey" json:"id"`
	Class             string           `gorm:"uniqueIndex:idx_class_ticker;not null" json:"class"` // currency, stock
	Ticker            string           `gorm:"uniqueIndex:idx_class_ticker;not null" json:"ticker"`
	Name              string           `gorm:"index" json:"name"`
	Price             *decimal.Decimal `gorm:"type:decimal(20,6)" json:"price"`
	PriceTimestamp    *time.Time       `json:"price_timestamp"`
	EarliestTimestamp *time.Time       `json:"earliest_timestamp"`
	LatestTrendAt     *time.Time       `json:"latest_trend_at"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// SetPrice records a new live price observation for the asset.
func (a *Asset) SetPrice(price decimal.Decimal, timestamp time.Time) {
	a.Price = &price
	a.PriceTimestamp = &timestamp
}

// HasRecentUpdate reports whether the live price was refreshed within the
// given window ending at now.
func (a *Asset) HasRecentUpdate(window time.Duration, now time.Time) bool {
	if a.PriceTimestamp == nil {
		return false
	}
	return now.Sub(*a.PriceTimestamp) < window
}

// MigrateAssetModels runs database migrations for the datafeed models
func MigrateAssetModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Asset{},
		&Candle{},
		&Trend{},
	)
}
