package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fam_backend/models"
)

// MongoDB collection names
const (
	mongoAssetsCollection   = "assets"
	mongoCandlesCollection  = "candles"
	mongoTrendsCollection   = "trends"
	mongoCountersCollection = "counters"
)

// ConnectMongo dials MongoDB, verifies the connection and ensures the
// indexes the datafeed relies on (candle uniqueness in particular).
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	if err := ensureMongoIndexes(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	unique := options.Index().SetUnique(true)
	_, err := db.Collection(mongoCandlesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "asset_id", Value: 1}, {Key: "interval", Value: 1}, {Key: "open_time", Value: 1}},
		Options: unique,
	})
	if err != nil {
		return fmt.Errorf("failed to create candle index: %w", err)
	}
	_, err = db.Collection(mongoAssetsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "class", Value: 1}, {Key: "ticker", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create asset index: %w", err)
	}
	_, err = db.Collection(mongoTrendsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "search_term", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create trend index: %w", err)
	}
	return nil
}

// NewMongoStore builds the MongoDB-backed store.
func NewMongoStore(db *mongo.Database) *Store {
	return &Store{
		Assets:  &mongoAssetStore{db: db},
		Candles: &mongoCandleStore{db: db},
		Trends:  &mongoTrendStore{db: db},
	}
}

// Mongo documents keep prices as float64; decimals are converted at the
// boundary so the models stay storage-agnostic.
type mongoAsset struct {
	ID                uint       `bson:"_id"`
	Class             string     `bson:"class"`
	Ticker            string     `bson:"ticker"`
	Name              string     `bson:"name"`
	Price             *float64   `bson:"price,omitempty"`
	PriceTimestamp    *time.Time `bson:"price_timestamp,omitempty"`
	EarliestTimestamp *time.Time `bson:"earliest_timestamp,omitempty"`
	LatestTrendAt     *time.Time `bson:"latest_trend_at,omitempty"`
	CreatedAt         time.Time  `bson:"created_at"`
	UpdatedAt         time.Time  `bson:"updated_at"`
}

type mongoCandle struct {
	AssetID  uint      `bson:"asset_id"`
	Open     *float64  `bson:"open,omitempty"`
	High     *float64  `bson:"high,omitempty"`
	Low      *float64  `bson:"low,omitempty"`
	Close    float64   `bson:"close"`
	Volume   *float64  `bson:"volume,omitempty"`
	OpenTime time.Time `bson:"open_time"`
	Interval int       `bson:"interval"`
}

func decimalPtrToFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

func floatPtrToDecimal(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}

func toMongoAsset(a *models.Asset) mongoAsset {
	return mongoAsset{
		ID:                a.ID,
		Class:             a.Class,
		Ticker:            a.Ticker,
		Name:              a.Name,
		Price:             decimalPtrToFloat(a.Price),
		PriceTimestamp:    a.PriceTimestamp,
		EarliestTimestamp: a.EarliestTimestamp,
		LatestTrendAt:     a.LatestTrendAt,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func fromMongoAsset(m mongoAsset) models.Asset {
	return models.Asset{
		ID:                m.ID,
		Class:             m.Class,
		Ticker:            m.Ticker,
		Name:              m.Name,
		Price:             floatPtrToDecimal(m.Price),
		PriceTimestamp:    m.PriceTimestamp,
		EarliestTimestamp: m.EarliestTimestamp,
		LatestTrendAt:     m.LatestTrendAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toMongoCandle(c models.Candle) mongoCandle {
	return mongoCandle{
		AssetID:  c.AssetID,
		Open:     decimalPtrToFloat(c.Open),
		High:     decimalPtrToFloat(c.High),
		Low:      decimalPtrToFloat(c.Low),
		Close:    c.Close.InexactFloat64(),
		Volume:   decimalPtrToFloat(c.Volume),
		OpenTime: c.OpenTime,
		Interval: c.Interval,
	}
}

func fromMongoCandle(m mongoCandle) models.Candle {
	return models.Candle{
		AssetID:  m.AssetID,
		Open:     floatPtrToDecimal(m.Open),
		High:     floatPtrToDecimal(m.High),
		Low:      floatPtrToDecimal(m.Low),
		Close:    decimal.NewFromFloat(m.Close),
		Volume:   floatPtrToDecimal(m.Volume),
		OpenTime: m.OpenTime.UTC(),
		Interval: m.Interval,
	}
}

type mongoAssetStore struct {
	db *mongo.Database
}

// nextAssetID allocates a numeric asset identifier from the counters
// collection so candle documents can reference assets the same way the SQL
// backend does.
func (s *mongoAssetStore) nextAssetID(ctx context.Context) (uint, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(mongoCountersCollection).FindOneAndUpdate(
		ctx,
		bson.M{"_id": "asset_id"},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate asset id: %w", err)
	}
	return uint(doc.Seq), nil
}

func (s *mongoAssetStore) ListByClass(ctx context.Context, class string) ([]models.Asset, error) {
	cursor, err := s.db.Collection(mongoAssetsCollection).Find(ctx, bson.M{"class": class},
		options.Find().SetSort(bson.D{{Key: "ticker", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s assets: %w", class, err)
	}
	var docs []mongoAsset
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode assets: %w", err)
	}
	assets := make([]models.Asset, 0, len(docs))
	for _, d := range docs {
		assets = append(assets, fromMongoAsset(d))
	}
	return assets, nil
}

func (s *mongoAssetStore) CountByClass(ctx context.Context, class string) (int64, error) {
	count, err := s.db.Collection(mongoAssetsCollection).CountDocuments(ctx, bson.M{"class": class})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s assets: %w", class, err)
	}
	return count, nil
}

func (s *mongoAssetStore) findOne(ctx context.Context, filter bson.M) (*models.Asset, error) {
	var doc mongoAsset
	err := s.db.Collection(mongoAssetsCollection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find asset: %w", err)
	}
	asset := fromMongoAsset(doc)
	return &asset, nil
}

func (s *mongoAssetStore) FindByTickerName(ctx context.Context, class, ticker, name string) (*models.Asset, error) {
	return s.findOne(ctx, bson.M{"class": class, "ticker": ticker, "name": name})
}

func (s *mongoAssetStore) FindByTicker(ctx context.Context, class, ticker string) (*models.Asset, error) {
	return s.findOne(ctx, bson.M{"class": class, "ticker": ticker})
}

func (s *mongoAssetStore) InsertBatch(ctx context.Context, assets []models.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(assets))
	for i := range assets {
		if assets[i].ID == 0 {
			id, err := s.nextAssetID(ctx)
			if err != nil {
				return err
			}
			assets[i].ID = id
		}
		assets[i].CreatedAt = now
		assets[i].UpdatedAt = now
		docs = append(docs, toMongoAsset(&assets[i]))
	}
	if _, err := s.db.Collection(mongoAssetsCollection).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert assets: %w", err)
	}
	return nil
}

func (s *mongoAssetStore) Update(ctx context.Context, asset *models.Asset) error {
	asset.UpdatedAt = time.Now().UTC()
	_, err := s.db.Collection(mongoAssetsCollection).ReplaceOne(ctx, bson.M{"_id": asset.ID}, toMongoAsset(asset))
	if err != nil {
		return fmt.Errorf("failed to update asset %s: %w", asset.Ticker, err)
	}
	return nil
}

type mongoCandleStore struct {
	db *mongo.Database
}

func (s *mongoCandleStore) InsertBatch(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(candles))
	for _, c := range candles {
		docs = append(docs, toMongoCandle(c))
	}
	if _, err := s.db.Collection(mongoCandlesCollection).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert candle batch: %w", err)
	}
	return nil
}

func (s *mongoCandleStore) findOneSorted(ctx context.Context, filter bson.M, sort int) (*models.Candle, error) {
	var doc mongoCandle
	err := s.db.Collection(mongoCandlesCollection).FindOne(ctx, filter,
		options.FindOne().SetSort(bson.D{{Key: "open_time", Value: sort}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query candle: %w", err)
	}
	candle := fromMongoCandle(doc)
	return &candle, nil
}

func (s *mongoCandleStore) LastCandle(ctx context.Context, assetID uint, interval int) (*models.Candle, error) {
	return s.findOneSorted(ctx, bson.M{"asset_id": assetID, "interval": interval}, -1)
}

func (s *mongoCandleStore) FirstCandle(ctx context.Context, assetID uint, interval int) (*models.Candle, error) {
	return s.findOneSorted(ctx, bson.M{"asset_id": assetID, "interval": interval}, 1)
}

func (s *mongoCandleStore) CandlesWithin(ctx context.Context, assetID uint, interval int, start, finish time.Time) ([]models.Candle, error) {
	filter := bson.M{
		"asset_id":  assetID,
		"interval":  interval,
		"open_time": bson.M{"$gte": start, "$lt": finish},
	}
	cursor, err := s.db.Collection(mongoCandlesCollection).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "open_time", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query candle range: %w", err)
	}
	var docs []mongoCandle
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode candles: %w", err)
	}
	candles := make([]models.Candle, 0, len(docs))
	for _, d := range docs {
		candles = append(candles, fromMongoCandle(d))
	}
	return candles, nil
}

func (s *mongoCandleStore) DailyCandleOn(ctx context.Context, assetID uint, day time.Time) (*models.Candle, error) {
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

type mongoTrendStore struct {
	db *mongo.Database
}

func (s *mongoTrendStore) InsertBatch(ctx context.Context, trends []models.Trend) error {
	if len(trends) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(trends))
	for _, t := range trends {
		docs = append(docs, bson.M{
			"search_term": t.SearchTerm,
			"timestamp":   t.Timestamp,
			"value":       t.Value,
			"is_partial":  t.IsPartial,
			"created_at":  time.Now().UTC(),
		})
	}
	if _, err := s.db.Collection(mongoTrendsCollection).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert trends: %w", err)
	}
	return nil
}

func (s *mongoTrendStore) LatestForTerm(ctx context.Context, term string) (*models.Trend, error) {
	var doc struct {
		SearchTerm string    `bson:"search_term"`
		Timestamp  time.Time `bson:"timestamp"`
		Value      int       `bson:"value"`
		IsPartial  bool      `bson:"is_partial"`
	}
	err := s.db.Collection(mongoTrendsCollection).FindOne(ctx, bson.M{"search_term": term},
		options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest trend for %s: %w", term, err)
	}
	return &models.Trend{
		SearchTerm: doc.SearchTerm,
		Timestamp:  doc.Timestamp.UTC(),
		Value:      doc.Value,
		IsPartial:  doc.IsPartial,
	}, nil
}
