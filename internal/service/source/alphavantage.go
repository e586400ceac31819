package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"IndexPull/internal/domain/models"
	"IndexPull/internal/service/marketcap"
	xhttp "IndexPull/pkg/http"
)

// AlphaVantage fetches daily series and company overviews. The free
// tier signals throttling inside a 200 response ("Note" field), so rate
// limiting is detected from the payload, not the status code.
type AlphaVantage struct {
	client  *xhttp.Client
	baseURL string
	apiKey  string
}

// NewAlphaVantage creates the Alpha Vantage adapter.
func NewAlphaVantage(client *xhttp.Client, apiKey string, baseURL string) *AlphaVantage {
	if baseURL == "" {
		baseURL = "https://www.alphavantage.co"
	}
	return &AlphaVantage{client: client, baseURL: baseURL, apiKey: apiKey}
}

func (a *AlphaVantage) Name() string              { return "alphavantage" }
func (a *AlphaVantage) Capabilities() Capability { return CapPrices | CapMarketCap }

func (a *AlphaVantage) query(ctx context.Context, params map[string][]string, dest any) error {
	params["apikey"] = []string{a.apiKey}
	resp, err := a.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         a.baseURL + "/query",
		QueryParams: params,
	})
	if err != nil {
		return classifyTransport(a.Name(), err)
	}
	defer resp.Body.Close()
	if aerr := classifyStatus(a.Name(), resp.StatusCode); aerr != nil {
		return aerr
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return failure(a.Name(), ReasonMalformed, err)
	}
	return nil
}

// FetchMarketCap reads MarketCapitalization from the OVERVIEW function.
func (a *AlphaVantage) FetchMarketCap(ctx context.Context, symbol string) (float64, error) {
	var out map[string]json.RawMessage
	err := a.query(ctx, map[string][]string{
		"function": {"OVERVIEW"},
		"symbol":   {symbol},
	}, &out)
	if err != nil {
		return 0, err
	}
	if aerr := a.payloadFailure(out); aerr != nil {
		return 0, aerr
	}

	raw, ok := out["MarketCapitalization"]
	if !ok {
		return 0, failure(a.Name(), ReasonNotFound, fmt.Errorf("no MarketCapitalization for %s", symbol))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, failure(a.Name(), ReasonMalformed, err)
	}
	mc, err := marketcap.Parse(s)
	if err != nil || mc <= 0 {
		return 0, failure(a.Name(), ReasonMalformed, fmt.Errorf("market cap %q", s))
	}
	return mc, nil
}

// FetchPrices reads the TIME_SERIES_DAILY function.
func (a *AlphaVantage) FetchPrices(ctx context.Context, symbol string, start, end time.Time) ([]*models.QuoteRecord, error) {
	var out map[string]json.RawMessage
	err := a.query(ctx, map[string][]string{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {symbol},
		"outputsize": {"full"},
	}, &out)
	if err != nil {
		return nil, err
	}
	if aerr := a.payloadFailure(out); aerr != nil {
		return nil, aerr
	}

	raw, ok := out["Time Series (Daily)"]
	if !ok {
		return nil, failure(a.Name(), ReasonNotFound, fmt.Errorf("no daily series for %s", symbol))
	}
	var series map[string]map[string]string
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, failure(a.Name(), ReasonMalformed, err)
	}

	records := make([]*models.QuoteRecord, 0, len(series))
	for dateStr, values := range series {
		day, err := time.Parse("2006-01-02", dateStr)
		if err != nil || day.Before(start) || day.After(end) {
			continue
		}
		price, err := strconv.ParseFloat(values["4. close"], 64)
		if err != nil {
			continue
		}
		var vol int64
		if v, err := strconv.ParseFloat(values["5. volume"], 64); err == nil {
			vol = int64(v)
		}
		records = append(records, &models.QuoteRecord{
			Date:   day,
			Symbol: symbol,
			Price:  price,
			Volume: vol,
			Source: a.Name(),
		})
	}
	if len(records) == 0 {
		return nil, failure(a.Name(), ReasonNotFound, fmt.Errorf("no points in range for %s", symbol))
	}
	return records, nil
}

// payloadFailure detects in-band throttle and error markers.
func (a *AlphaVantage) payloadFailure(out map[string]json.RawMessage) *AdapterError {
	if raw, ok := out["Note"]; ok {
		var note string
		_ = json.Unmarshal(raw, &note)
		if strings.Contains(strings.ToLower(note), "call frequency") {
			return failure(a.Name(), ReasonRateLimited, fmt.Errorf("throttled"))
		}
	}
	if raw, ok := out["Error Message"]; ok {
		var msg string
		_ = json.Unmarshal(raw, &msg)
		return failure(a.Name(), ReasonNotFound, fmt.Errorf("%s", msg))
	}
	return nil
}
