package datafeed

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fam_backend/config"
	"fam_backend/models"
	"fam_backend/store"
)

func newTestDailySyncer(class string, st *store.Store, market *fakeMarket, now time.Time) (*DailySyncer, *int) {
	cfg := &config.Config{WorkerThreads: 2, ErrorWaitTime: time.Second}
	s := NewDailySyncer(class, market, NewRequestGate("fake", 1000, testLogger()), st, cfg, testLogger())
	s.now = func() time.Time { return now }
	sleeps := 0
	s.sleep = func(time.Duration) { sleeps++ }
	return s, &sleeps
}

func seedAsset(t *testing.T, st *store.Store, class, ticker, name string) *models.Asset {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.Assets.InsertBatch(ctx, []models.Asset{{Class: class, Ticker: ticker, Name: name}}))
	asset, err := st.Assets.FindByTicker(ctx, class, ticker)
	require.NoError(t, err)
	require.NotNil(t, asset)
	return asset
}

func currencyBar(date, price string) RawBar {
	return RawBar{Date: date, Open: price, High: price, Low: price, Close: price}
}

func TestDailySyncFullHistory(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	asset := seedAsset(t, st, models.ClassCurrency, "EUR", "Euro")

	market := &fakeMarket{bars: map[string][]RawBar{
		"EUR": {
			currencyBar("2024-05-09", "1.09"),
			currencyBar("2024-05-08", "1.08"),
			currencyBar("2024-05-07", "1.07"),
		},
	}}
	s, _ := newTestDailySyncer(models.ClassCurrency, st, market, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC))

	res, err := s.SyncAsset(ctx, asset)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 3, res.Count)

	first, err := st.Candles.FirstCandle(ctx, asset.ID, models.IntervalDay)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC), first.OpenTime)

	updated, err := st.Assets.FindByTicker(ctx, models.ClassCurrency, "EUR")
	require.NoError(t, err)
	require.NotNil(t, updated.EarliestTimestamp)
	assert.Equal(t, first.OpenTime, *updated.EarliestTimestamp)
}

func TestDailySyncFillsGapsWithOlderClose(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	asset := seedAsset(t, st, models.ClassCurrency, "EUR", "Euro")

	// Four days missing between the two real bars.
	market := &fakeMarket{bars: map[string][]RawBar{
		"EUR": {
			currencyBar("2024-05-09", "110"),
			currencyBar("2024-05-05", "100"),
		},
	}}
	s, _ := newTestDailySyncer(models.ClassCurrency, st, market, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC))

	res, err := s.SyncAsset(ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Count)

	series, err := st.Candles.CandlesWithin(ctx, asset.ID, models.IntervalDay,
		time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, series, 5)

	assert.False(t, series[0].IsFiller())
	for _, filler := range series[1:4] {
		assert.True(t, filler.IsFiller())
		// Fillers carry the close of the bar before the gap, not after it.
		assert.True(t, filler.Close.Equal(decimal.NewFromInt(100)), "filler close = %s", filler.Close)
	}
	assert.False(t, series[4].IsFiller())
	assert.True(t, series[4].Close.Equal(decimal.NewFromInt(110)))
}

func TestDailySyncSkipsTodaysOpenCandle(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	asset := seedAsset(t, st, models.ClassCurrency, "EUR", "Euro")

	market := &fakeMarket{bars: map[string][]RawBar{
		"EUR": {
			currencyBar("2024-05-10", "1.10"),
			currencyBar("2024-05-09", "1.09"),
		},
	}}
	s, _ := newTestDailySyncer(models.ClassCurrency, st, market, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC))

	res, err := s.SyncAsset(ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	today, err := st.Candles.DailyCandleOn(ctx, asset.ID, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, today)
}

func TestDailySyncNoopWhenFresh(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	asset := seedAsset(t, st, models.ClassCurrency, "EUR", "Euro")

	closePrice := decimal.NewFromFloat(1.09)
	open := closePrice
	require.NoError(t, st.Candles.InsertBatch(ctx, []models.Candle{{
		AssetID: asset.ID, Open: &open, High: &open, Low: &open, Close: closePrice,
		OpenTime: time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC), Interval: models.IntervalDay,
	}}))

	market := &fakeMarket{err: errFeed}
	s, _ := newTestDailySyncer(models.ClassCurrency, st, market, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC))

	res, err := s.SyncAsset(ctx, asset)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, 0, market.calls, "a fresh series must not hit the provider")
}

func TestDailySyncGapFillsWhenNoNewBars(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	asset := seedAsset(t, st, models.ClassCurrency, "EUR", "Euro")

	closePrice := decimal.NewFromInt(100)
	open := closePrice
	require.NoError(t, st.Candles.InsertBatch(ctx, []models.Candle{{
		AssetID: asset.ID, Open: &open, High: &open, Low: &open, Close: closePrice,
		OpenTime: time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC), Interval: models.IntervalDay,
	}}))

	// Provider has nothing newer than what is stored.
	market := &fakeMarket{bars: map[string][]RawBar{
		"EUR": {currencyBar("2024-05-05", "100")},
	}}
	s, _ := newTestDailySyncer(models.ClassCurrency, st, market, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC))

	res, err := s.SyncAsset(ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Count)

	series, err := st.Candles.CandlesWithin(ctx, asset.ID, models.IntervalDay,
		time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, series, 4)
	for _, filler := range series {
		assert.True(t, filler.IsFiller())
		assert.True(t, filler.Close.Equal(closePrice))
	}
}

func TestDailySyncMalformedBarWritesNothing(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	asset := seedAsset(t, st, models.ClassCurrency, "EUR", "Euro")

	market := &fakeMarket{bars: map[string][]RawBar{
		"EUR": {
			currencyBar("2024-05-09", "1.09"),
			{Date: "2024-05-08", Open: "garbage", High: "1.08", Low: "1.08", Close: "1.08"},
		},
	}}
	s, _ := newTestDailySyncer(models.ClassCurrency, st, market, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC))

	res, err := s.SyncAsset(ctx, asset)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, 0, res.Count)

	last, err := st.Candles.LastCandle(ctx, asset.ID, models.IntervalDay)
	require.NoError(t, err)
	assert.Nil(t, last, "a malformed response must not leave partial data behind")
}

func TestDailySyncRetriesThenFatal(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	asset := seedAsset(t, st, models.ClassCurrency, "EUR", "Euro")

	market := &fakeMarket{err: errFeed}
	s, sleeps := newTestDailySyncer(models.ClassCurrency, st, market, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC))

	_, err := s.SyncAsset(ctx, asset)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, dailyMaxRetries, market.calls)
	assert.Equal(t, dailyMaxRetries-1, *sleeps, "backoff runs between attempts, not after the last")
}

func TestDailySyncStockNormalizesEasternTime(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	asset := seedAsset(t, st, models.ClassStock, "AAPL", "Apple Inc.")

	market := &fakeMarket{bars: map[string][]RawBar{
		"AAPL": {{Date: "2024-05-09", Open: "180", High: "185", Low: "179", Close: "184", Volume: "1000"}},
	}}
	s, _ := newTestDailySyncer(models.ClassStock, st, market, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC))

	res, err := s.SyncAsset(ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	last, err := st.Candles.LastCandle(ctx, asset.ID, models.IntervalDay)
	require.NoError(t, err)
	require.NotNil(t, last)
	// Midnight Eastern in May is 04:00 UTC.
	assert.Equal(t, time.Date(2024, 5, 9, 4, 0, 0, 0, time.UTC), last.OpenTime)
	require.NotNil(t, last.Volume)
	assert.True(t, last.Volume.Equal(decimal.NewFromInt(1000)))
}

func TestDecideSyncType(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	dayCandle := func(daysAgo int) *models.Candle {
		return &models.Candle{OpenTime: dateOf(now).AddDate(0, 0, -daysAgo)}
	}

	assert.Equal(t, SyncFull, decideSyncType(nil, now))
	assert.Equal(t, "", decideSyncType(dayCandle(1), now))
	assert.Equal(t, SyncCompact, decideSyncType(dayCandle(30), now))
	assert.Equal(t, SyncFull, decideSyncType(dayCandle(120), now))
}
