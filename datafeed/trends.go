package datafeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fam_backend/config"
	"fam_backend/models"
	"fam_backend/store"
)

// A term's interest series is considered fresh for this long.
const trendStaleness = 10 * 24 * time.Hour

// TrendsSyncer refreshes search-interest series for asset names. It is the
// lowest-priority consumer of the provider quota: each pass spends only the
// requests the price syncers left unused in the current window, so it runs on
// every scheduler pass and trickles through the universe over time.
type TrendsSyncer struct {
	updaterState
	provider TrendsProvider
	gate     *RequestGate
	store    *store.Store
	logger   *slog.Logger

	now func() time.Time
}

// NewTrendsSyncer creates the trends updater.
func NewTrendsSyncer(provider TrendsProvider, gate *RequestGate, st *store.Store, cfg *config.Config, logger *slog.Logger) *TrendsSyncer {
	return &TrendsSyncer{
		updaterState: updaterState{interval: time.Minute},
		provider:     provider,
		gate:         gate,
		store:        st,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *TrendsSyncer) Name() string {
	return "trends"
}

func (s *TrendsSyncer) DoUpdate(ctx context.Context) error {
	budget := s.gate.UnusedQuota()
	if budget <= 0 {
		return nil
	}

	assets, err := s.listAssets(ctx)
	if err != nil {
		return fmt.Errorf("failed to load assets for trends: %w", err)
	}

	refreshed := 0
	for i := range assets {
		if budget <= 0 {
			break
		}
		asset := &assets[i]
		due, err := s.requiresRefresh(ctx, asset)
		if err != nil {
			s.logger.Error("failed to check trend freshness", "term", asset.Name, "error", err)
			continue
		}
		if !due {
			continue
		}
		budget--
		if err := s.refreshTerm(ctx, asset); err != nil {
			s.logger.Error("failed to refresh trend", "term", asset.Name, "error", err)
			continue
		}
		refreshed++
	}
	if refreshed > 0 {
		s.logger.Info("trends refreshed", "terms", refreshed)
	}
	return nil
}

func (s *TrendsSyncer) listAssets(ctx context.Context) ([]models.Asset, error) {
	currencies, err := s.store.Assets.ListByClass(ctx, models.ClassCurrency)
	if err != nil {
		return nil, err
	}
	stocks, err := s.store.Assets.ListByClass(ctx, models.ClassStock)
	if err != nil {
		return nil, err
	}
	return append(currencies, stocks...), nil
}

// requiresRefresh reports whether the asset's interest series needs a fetch.
// Assets whose previous refresh found no data at all are left alone: the term
// yields nothing and re-querying it every pass just burns quota.
func (s *TrendsSyncer) requiresRefresh(ctx context.Context, asset *models.Asset) (bool, error) {
	if asset.LatestTrendAt == nil {
		return true, nil
	}
	if s.now().Sub(*asset.LatestTrendAt) < trendStaleness {
		return false, nil
	}
	latest, err := s.store.Trends.LatestForTerm(ctx, asset.Name)
	if err != nil {
		return false, err
	}
	return latest != nil, nil
}

func (s *TrendsSyncer) refreshTerm(ctx context.Context, asset *models.Asset) error {
	s.gate.Acquire()
	points, err := s.provider.InterestOverTime(ctx, asset.Name)
	if err != nil {
		return err
	}

	latest, err := s.store.Trends.LatestForTerm(ctx, asset.Name)
	if err != nil {
		return err
	}

	trends := make([]models.Trend, 0, len(points))
	for _, point := range points {
		stamp, err := parseTrendTimestamp(point.Timestamp)
		if err != nil {
			s.logger.Error("unparsable trend point", "term", asset.Name, "timestamp", point.Timestamp, "error", err)
			continue
		}
		// Points arrive oldest first and may overlap what is stored.
		if latest != nil && !stamp.After(latest.Timestamp) {
			continue
		}
		trends = append(trends, models.Trend{
			SearchTerm: asset.Name,
			Timestamp:  stamp,
			Value:      point.Value,
			IsPartial:  point.IsPartial,
		})
	}
	if len(trends) > 0 {
		if err := s.store.Trends.InsertBatch(ctx, trends); err != nil {
			return err
		}
	}

	// Record the refresh even when nothing came back, so empty terms are
	// not retried on the next pass.
	now := s.now()
	asset.LatestTrendAt = &now
	return s.store.Assets.Update(ctx, asset)
}
