package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle intervals in seconds. Month candles have no fixed length; a month
// candle is keyed by the first day of its calendar month and tagged with
// IntervalMonth.
const (
	IntervalMinute = 60
	IntervalHour   = 3600
	IntervalDay    = 86400
	IntervalWeek   = 604800
	IntervalMonth  = 2629800
)

// Candle represents one OHLC(V) summary for an asset over a fixed interval.
// A filler candle (a date with no real trading data) carries the most recent
// known close forward as high=low=close and leaves Open nil, which is the
// marker excluding it from aggregation math. Volume is present for equities
// and absent for currencies. Candles are append-only: once written they are
// never rewritten.
type Candle struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	AssetID   uint             `gorm:"uniqueIndex:idx_asset_interval_open" json:"asset_id"`
	Asset     Asset            `gorm:"foreignKey:AssetID" json:"asset,omitempty"`
	Open      *decimal.Decimal `gorm:"type:decimal(20,6)" json:"open"`
	High      *decimal.Decimal `gorm:"type:decimal(20,6)" json:"high"`
	Low       *decimal.Decimal `gorm:"type:decimal(20,6)" json:"low"`
	Close     decimal.Decimal  `gorm:"type:decimal(20,6)" json:"close"`
	Volume    *decimal.Decimal `gorm:"type:decimal(20,2)" json:"volume"`
	OpenTime  time.Time        `gorm:"uniqueIndex:idx_asset_interval_open;not null" json:"open_time"`
	Interval  int              `gorm:"uniqueIndex:idx_asset_interval_open;not null" json:"interval"`
	CreatedAt time.Time        `json:"created_at"`
}

// IsFiller reports whether the candle is a synthetic gap filler rather than
// a real trading bar.
func (c *Candle) IsFiller() bool {
	return c.Open == nil
}

// PerformancePercent returns the open-to-close percentage change of the
// candle, rounded to two decimal places. Filler candles have no open and
// report zero.
func (c *Candle) PerformancePercent() decimal.Decimal {
	if c.Open == nil || c.Open.IsZero() {
		return decimal.Zero
	}
	return c.Close.Sub(*c.Open).Div(*c.Open).Mul(decimal.NewFromInt(100)).Round(2)
}

// NewFillerCandle builds a synthetic candle carrying the given close forward
// to openTime.
func NewFillerCandle(assetID uint, close decimal.Decimal, openTime time.Time, interval int) Candle {
	high := close
	low := close
	return Candle{
		AssetID:  assetID,
		High:     &high,
		Low:      &low,
		Close:    close,
		OpenTime: openTime,
		Interval: interval,
	}
}
