package datafeed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"fam_backend/models"
	"fam_backend/store"
)

var errFeed = errors.New("feed unavailable")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// In-memory store used across the datafeed tests. Behaves like the real
// implementations: not-found is (nil, nil) and candle queries are ordered.

type memAssets struct {
	mu     sync.Mutex
	nextID uint
	assets []models.Asset
}

func (m *memAssets) ListByClass(_ context.Context, class string) ([]models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Asset, 0)
	for _, a := range m.assets {
		if a.Class == class {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAssets) CountByClass(_ context.Context, class string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.assets {
		if a.Class == class {
			n++
		}
	}
	return n, nil
}

func (m *memAssets) FindByTickerName(_ context.Context, class, ticker, name string) (*models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assets {
		if a.Class == class && a.Ticker == ticker && a.Name == name {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memAssets) FindByTicker(_ context.Context, class, ticker string) (*models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assets {
		if a.Class == class && strings.EqualFold(a.Ticker, ticker) {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memAssets) InsertBatch(_ context.Context, assets []models.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range assets {
		m.nextID++
		a.ID = m.nextID
		m.assets = append(m.assets, a)
	}
	return nil
}

func (m *memAssets) Update(_ context.Context, asset *models.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.assets {
		if m.assets[i].ID == asset.ID {
			m.assets[i] = *asset
			return nil
		}
	}
	return nil
}

type memCandles struct {
	mu      sync.Mutex
	candles []models.Candle
}

func (m *memCandles) InsertBatch(_ context.Context, candles []models.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles = append(m.candles, candles...)
	return nil
}

func (m *memCandles) forAsset(assetID uint, interval int) []models.Candle {
	out := make([]models.Candle, 0)
	for _, c := range m.candles {
		if c.AssetID == assetID && c.Interval == interval {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out
}

func (m *memCandles) LastCandle(_ context.Context, assetID uint, interval int) (*models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.forAsset(assetID, interval)
	if len(all) == 0 {
		return nil, nil
	}
	last := all[len(all)-1]
	return &last, nil
}

func (m *memCandles) FirstCandle(_ context.Context, assetID uint, interval int) (*models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.forAsset(assetID, interval)
	if len(all) == 0 {
		return nil, nil
	}
	first := all[0]
	return &first, nil
}

func (m *memCandles) CandlesWithin(_ context.Context, assetID uint, interval int, start, finish time.Time) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Candle, 0)
	for _, c := range m.forAsset(assetID, interval) {
		if !c.OpenTime.Before(start) && c.OpenTime.Before(finish) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCandles) DailyCandleOn(_ context.Context, assetID uint, day time.Time) (*models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.forAsset(assetID, models.IntervalDay) {
		if dateOf(c.OpenTime).Equal(dateOf(day)) {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}

type memTrends struct {
	mu     sync.Mutex
	trends []models.Trend
}

func (m *memTrends) InsertBatch(_ context.Context, trends []models.Trend) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trends = append(m.trends, trends...)
	return nil
}

func (m *memTrends) LatestForTerm(_ context.Context, term string) (*models.Trend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Trend
	for i := range m.trends {
		t := m.trends[i]
		if t.SearchTerm != term {
			continue
		}
		if latest == nil || t.Timestamp.After(latest.Timestamp) {
			latest = &t
		}
	}
	return latest, nil
}

func newMemStore() *store.Store {
	return &store.Store{
		Assets:  &memAssets{},
		Candles: &memCandles{},
		Trends:  &memTrends{},
	}
}

// fakeMarket is a scriptable MarketProvider. failures makes the first N
// calls of any method return errFeed before succeeding.
type fakeMarket struct {
	mu       sync.Mutex
	bars     map[string][]RawBar
	rates    map[string]RawQuote
	quotes   []RawQuote
	failures int
	calls    int
	err      error
}

func (f *fakeMarket) Name() string { return "fake" }

func (f *fakeMarket) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.failures > 0 {
		f.failures--
		return errFeed
	}
	return nil
}

func (f *fakeMarket) CurrencyDaily(_ context.Context, ticker, _ string) ([]RawBar, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.bars[ticker], nil
}

func (f *fakeMarket) StockDaily(_ context.Context, ticker, _ string) ([]RawBar, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.bars[ticker], nil
}

func (f *fakeMarket) ExchangeRate(_ context.Context, ticker string) (*RawQuote, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	quote, ok := f.rates[ticker]
	if !ok {
		return nil, errFeed
	}
	return &quote, nil
}

func (f *fakeMarket) BatchQuotes(_ context.Context, _ []string) ([]RawQuote, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.quotes, nil
}

type fakeTrends struct {
	points map[string][]TrendPoint
	calls  int
	err    error
}

func (f *fakeTrends) Name() string { return "fake-trends" }

func (f *fakeTrends) InterestOverTime(_ context.Context, term string) ([]TrendPoint, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.points[term], nil
}
