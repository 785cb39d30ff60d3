package datafeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// TrendPoint is one unparsed search-interest observation. Timestamp is a
// unix-seconds string as delivered by the trends endpoint.
type TrendPoint struct {
	Timestamp string
	Value     int
	IsPartial bool
}

// TrendsProvider is the external search-interest capability.
type TrendsProvider interface {
	Name() string
	InterestOverTime(ctx context.Context, term string) ([]TrendPoint, error)
}

// TrendsClient implements TrendsProvider against the trends widget API.
type TrendsClient struct {
	client *resty.Client
}

// NewTrendsClient creates the trends client.
func NewTrendsClient(baseURL string) *TrendsClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")
	return &TrendsClient{client: client}
}

func (p *TrendsClient) Name() string {
	return "Trends"
}

type trendsResponse struct {
	Default struct {
		TimelineData []struct {
			Time      string `json:"time"`
			Value     []int  `json:"value"`
			IsPartial bool   `json:"isPartial"`
		} `json:"timelineData"`
	} `json:"default"`
}

// InterestOverTime fetches the interest series for a search term, ordered
// oldest first as delivered by the endpoint.
func (p *TrendsClient) InterestOverTime(ctx context.Context, term string) ([]TrendPoint, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("q", term).
		Get("/trends/api/widgetdata/multiline")
	if err != nil {
		return nil, fmt.Errorf("trends request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("trends endpoint returned status %s", resp.Status())
	}

	var body trendsResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to decode trends response: %w", err)
	}

	points := make([]TrendPoint, 0, len(body.Default.TimelineData))
	for _, entry := range body.Default.TimelineData {
		value := 0
		if len(entry.Value) > 0 {
			value = entry.Value[0]
		}
		points = append(points, TrendPoint{
			Timestamp: entry.Time,
			Value:     value,
			IsPartial: entry.IsPartial,
		})
	}
	return points, nil
}

// parseTrendTimestamp converts the unix-seconds string of a trend point.
func parseTrendTimestamp(raw string) (time.Time, error) {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid trend timestamp %q: %w", raw, err)
	}
	return time.Unix(seconds, 0).UTC(), nil
}
