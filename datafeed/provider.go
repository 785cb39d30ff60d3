package datafeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Daily bar request modes: compact covers roughly the last 100 bars, full
// returns the entire available history.
const (
	SyncFull    = "full"
	SyncCompact = "compact"
)

// RawBar is one unparsed daily bar as returned by the provider. Values stay
// strings on purpose: the syncers own validation, so a malformed bar fails
// the one instrument it belongs to instead of the whole response.
type RawBar struct {
	Date   string
	Open   string
	High   string
	Low    string
	Close  string
	Volume string // empty for currencies
}

// RawQuote is one unparsed live quote.
type RawQuote struct {
	Ticker    string
	Price     string
	Timestamp string
}

// MarketProvider is the external pricing-data capability. Daily bars come
// back ordered newest first.
type MarketProvider interface {
	Name() string
	CurrencyDaily(ctx context.Context, ticker, mode string) ([]RawBar, error)
	StockDaily(ctx context.Context, ticker, mode string) ([]RawBar, error)
	ExchangeRate(ctx context.Context, ticker string) (*RawQuote, error)
	BatchQuotes(ctx context.Context, tickers []string) ([]RawQuote, error)
}

// AlphaVantage response field keys
const (
	avFXSeriesKey    = "Time Series FX (Daily)"
	avStockSeriesKey = "Time Series (Daily)"
	avRateKey        = "Realtime Currency Exchange Rate"
	avQuotesKey      = "Stock Quotes"
)

// AlphaVantage implements MarketProvider against the AlphaVantage REST API.
type AlphaVantage struct {
	client *resty.Client
	apiKey string
}

// NewAlphaVantage creates the provider client.
func NewAlphaVantage(baseURL, apiKey string) *AlphaVantage {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")
	return &AlphaVantage{client: client, apiKey: apiKey}
}

func (p *AlphaVantage) Name() string {
	return "AlphaVantage"
}

// CurrencyDaily fetches daily exchange-rate bars against USD.
func (p *AlphaVantage) CurrencyDaily(ctx context.Context, ticker, mode string) ([]RawBar, error) {
	body, err := p.query(ctx, map[string]string{
		"function":    "FX_DAILY",
		"from_symbol": ticker,
		"to_symbol":   "USD",
		"outputsize":  mode,
	})
	if err != nil {
		return nil, err
	}
	return parseDailySeries(body, avFXSeriesKey, false)
}

// StockDaily fetches daily equity bars.
func (p *AlphaVantage) StockDaily(ctx context.Context, ticker, mode string) ([]RawBar, error) {
	body, err := p.query(ctx, map[string]string{
		"function":   "TIME_SERIES_DAILY",
		"symbol":     ticker,
		"outputsize": mode,
	})
	if err != nil {
		return nil, err
	}
	return parseDailySeries(body, avStockSeriesKey, true)
}

// ExchangeRate fetches the live USD exchange rate for a currency.
func (p *AlphaVantage) ExchangeRate(ctx context.Context, ticker string) (*RawQuote, error) {
	body, err := p.query(ctx, map[string]string{
		"function":      "CURRENCY_EXCHANGE_RATE",
		"from_currency": ticker,
		"to_currency":   "USD",
	})
	if err != nil {
		return nil, err
	}
	raw, ok := body[avRateKey]
	if !ok {
		return nil, fmt.Errorf("provider response missing %q", avRateKey)
	}
	var rate map[string]string
	if err := json.Unmarshal(raw, &rate); err != nil {
		return nil, fmt.Errorf("failed to decode exchange rate: %w", err)
	}
	return &RawQuote{
		Ticker:    ticker,
		Price:     rate["5. Exchange Rate"],
		Timestamp: rate["6. Last Refreshed"],
	}, nil
}

// BatchQuotes fetches live quotes for up to 100 tickers in one request.
func (p *AlphaVantage) BatchQuotes(ctx context.Context, tickers []string) ([]RawQuote, error) {
	body, err := p.query(ctx, map[string]string{
		"function": "BATCH_STOCK_QUOTES",
		"symbols":  strings.Join(tickers, ","),
	})
	if err != nil {
		return nil, err
	}
	raw, ok := body[avQuotesKey]
	if !ok {
		return nil, fmt.Errorf("provider response missing %q", avQuotesKey)
	}
	var entries []map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode stock quotes: %w", err)
	}
	quotes := make([]RawQuote, 0, len(entries))
	for _, e := range entries {
		quotes = append(quotes, RawQuote{
			Ticker:    e["1. symbol"],
			Price:     e["2. price"],
			Timestamp: e["4. timestamp"],
		})
	}
	return quotes, nil
}

// query performs one API call and surfaces provider-level error payloads as
// errors so the caller's retry policy kicks in.
func (p *AlphaVantage) query(ctx context.Context, params map[string]string) (map[string]json.RawMessage, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetQueryParam("apikey", p.apiKey).
		Get("/query")
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("provider returned status %s", resp.Status())
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	if msg, ok := body["Error Message"]; ok {
		return nil, fmt.Errorf("provider error: %s", string(msg))
	}
	if note, ok := body["Note"]; ok {
		// The provider reports throttling as a 200 with a note
		return nil, fmt.Errorf("provider throttled request: %s", string(note))
	}
	return body, nil
}

// parseDailySeries flattens the keyed-by-date series into bars ordered
// newest first. Date keys sort lexicographically because they are ISO dates.
func parseDailySeries(body map[string]json.RawMessage, seriesKey string, hasVolume bool) ([]RawBar, error) {
	raw, ok := body[seriesKey]
	if !ok {
		return nil, fmt.Errorf("provider response missing %q", seriesKey)
	}
	var series map[string]map[string]string
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("failed to decode daily series: %w", err)
	}
	dates := make([]string, 0, len(series))
	for date := range series {
		dates = append(dates, date)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	bars := make([]RawBar, 0, len(dates))
	for _, date := range dates {
		day := series[date]
		bar := RawBar{
			Date:  date,
			Open:  day["1. open"],
			High:  day["2. high"],
			Low:   day["3. low"],
			Close: day["4. close"],
		}
		if hasVolume {
			bar.Volume = day["5. volume"]
		}
		bars = append(bars, bar)
	}
	return bars, nil
}
