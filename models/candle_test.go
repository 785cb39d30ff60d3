package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPerformancePercent(t *testing.T) {
	open := decimal.NewFromInt(100)
	candle := Candle{Open: &open, Close: decimal.NewFromInt(110)}
	assert.True(t, candle.PerformancePercent().Equal(decimal.NewFromInt(10)))

	candle.Close = decimal.RequireFromString("99.5")
	assert.True(t, candle.PerformancePercent().Equal(decimal.RequireFromString("-0.5")))

	zero := decimal.Zero
	candle.Open = &zero
	assert.True(t, candle.PerformancePercent().IsZero())
}

func TestFillerCandle(t *testing.T) {
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	filler := NewFillerCandle(7, decimal.NewFromInt(100), day, IntervalDay)

	assert.True(t, filler.IsFiller())
	assert.True(t, filler.PerformancePercent().IsZero())
	assert.Equal(t, uint(7), filler.AssetID)
	assert.Equal(t, IntervalDay, filler.Interval)

	open := decimal.NewFromInt(1)
	real := Candle{Open: &open}
	assert.False(t, real.IsFiller())
}
