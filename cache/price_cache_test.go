package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPrice(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewPriceCacheFromClient(rdb)

	snapshot := PriceSnapshot{
		Ticker:    "EUR",
		Price:     decimal.RequireFromString("1.0850"),
		Timestamp: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(snapshot)
	require.NoError(t, err)

	mock.ExpectSet("fam:price:EUR", payload, snapshotTTL).SetVal("OK")
	require.NoError(t, c.SetPrice(context.Background(), snapshot))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPriceHit(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewPriceCacheFromClient(rdb)

	snapshot := PriceSnapshot{
		Ticker:    "AAPL",
		Price:     decimal.RequireFromString("184.50"),
		Timestamp: time.Date(2024, 7, 1, 16, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(snapshot)
	require.NoError(t, err)

	mock.ExpectGet("fam:price:AAPL").SetVal(string(payload))

	loaded, err := c.GetPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "AAPL", loaded.Ticker)
	assert.True(t, loaded.Price.Equal(snapshot.Price))
	assert.True(t, loaded.Timestamp.Equal(snapshot.Timestamp))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPriceMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewPriceCacheFromClient(rdb)

	mock.ExpectGet("fam:price:GHOST").RedisNil()

	loaded, err := c.GetPrice(context.Background(), "GHOST")
	require.NoError(t, err)
	assert.Nil(t, loaded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNilCacheIsNoop(t *testing.T) {
	var c *PriceCache

	require.NoError(t, c.SetPrice(context.Background(), PriceSnapshot{Ticker: "EUR"}))
	loaded, err := c.GetPrice(context.Background(), "EUR")
	require.NoError(t, err)
	assert.Nil(t, loaded)
	require.NoError(t, c.Close())
}
