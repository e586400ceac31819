package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"IndexPull/internal/domain/models"
	"IndexPull/internal/service/marketcap"
	xhttp "IndexPull/pkg/http"
)

// Yahoo is the primary provider. Quote-summary calls require a session
// crumb obtained once and refreshed when the API rejects it.
type Yahoo struct {
	client   *xhttp.Client
	queryURL string // query1.finance.yahoo.com base
	crumbURL string

	mu    sync.Mutex
	crumb string
}

// YahooOption configures the Yahoo adapter.
type YahooOption func(*Yahoo)

// WithYahooBaseURL overrides API endpoints (tests).
func WithYahooBaseURL(queryURL, crumbURL string) YahooOption {
	return func(y *Yahoo) {
		y.queryURL = queryURL
		y.crumbURL = crumbURL
	}
}

// NewYahoo creates the Yahoo Finance adapter.
func NewYahoo(client *xhttp.Client, opts ...YahooOption) *Yahoo {
	y := &Yahoo{
		client:   client,
		queryURL: "https://query1.finance.yahoo.com",
		crumbURL: "https://query1.finance.yahoo.com/v1/test/getcrumb",
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

func (y *Yahoo) Name() string              { return "yahoo" }
func (y *Yahoo) Capabilities() Capability { return CapPrices | CapMarketCap }

// Reauthenticate fetches a fresh crumb, replacing any cached one.
func (y *Yahoo) Reauthenticate(ctx context.Context) error {
	resp, err := y.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     y.crumbURL,
		Headers: map[string]string{"User-Agent": browserUA, "Accept": "text/plain"},
	})
	if err != nil {
		return classifyTransport(y.Name(), err)
	}
	defer resp.Body.Close()
	if aerr := classifyStatus(y.Name(), resp.StatusCode); aerr != nil {
		return aerr
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return failure(y.Name(), ReasonMalformed, err)
	}
	crumb := strings.TrimSpace(string(b))
	if len(crumb) < 5 || crumb == "null" || strings.HasPrefix(crumb, "<") {
		return failure(y.Name(), ReasonAuthExpired, fmt.Errorf("invalid crumb %q", crumb))
	}

	y.mu.Lock()
	y.crumb = crumb
	y.mu.Unlock()
	return nil
}

func (y *Yahoo) currentCrumb() string {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.crumb
}

type yahooQuoteSummary struct {
	QuoteSummary struct {
		Result []map[string]map[string]json.RawMessage `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// FetchMarketCap resolves market cap via the quoteSummary API. A 401 or
// 403 surfaces as auth_expired so the fallback chain can re-auth once.
func (y *Yahoo) FetchMarketCap(ctx context.Context, symbol string) (float64, error) {
	params := map[string][]string{"modules": {"summaryDetail,price,defaultKeyStatistics"}}
	if crumb := y.currentCrumb(); crumb != "" {
		params["crumb"] = []string{crumb}
	}

	resp, err := y.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         fmt.Sprintf("%s/v10/finance/quoteSummary/%s", y.queryURL, symbol),
		Headers:     yahooHeaders(),
		QueryParams: params,
	})
	if err != nil {
		return 0, classifyTransport(y.Name(), err)
	}
	defer resp.Body.Close()
	if aerr := classifyStatus(y.Name(), resp.StatusCode); aerr != nil {
		return 0, aerr
	}

	var out yahooQuoteSummary
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, failure(y.Name(), ReasonMalformed, err)
	}
	if e := out.QuoteSummary.Error; e != nil {
		if strings.Contains(strings.ToLower(e.Code), "unauthorized") {
			return 0, failure(y.Name(), ReasonAuthExpired, fmt.Errorf("%s: %s", e.Code, e.Description))
		}
		return 0, failure(y.Name(), ReasonNotFound, fmt.Errorf("%s: %s", e.Code, e.Description))
	}
	if len(out.QuoteSummary.Result) == 0 {
		return 0, failure(y.Name(), ReasonNotFound, fmt.Errorf("empty result"))
	}

	modules := out.QuoteSummary.Result[0]
	for _, module := range []string{"summaryDetail", "price", "defaultKeyStatistics"} {
		fields, ok := modules[module]
		if !ok {
			continue
		}
		raw, ok := fields["marketCap"]
		if !ok {
			continue
		}
		if mc, err := parseYahooValue(raw); err == nil && mc > 0 {
			return mc, nil
		}
	}
	return 0, failure(y.Name(), ReasonMalformed, fmt.Errorf("no marketCap field for %s", symbol))
}

// parseYahooValue handles both {"raw": N, "fmt": "2.5B"} wrappers and
// bare numbers.
func parseYahooValue(raw json.RawMessage) (float64, error) {
	var wrapped struct {
		Raw *float64 `json:"raw"`
		Fmt string   `json:"fmt"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if wrapped.Raw != nil {
			return marketcap.ParseAny(*wrapped.Raw)
		}
		if wrapped.Fmt != "" {
			return marketcap.Parse(wrapped.Fmt)
		}
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return marketcap.ParseAny(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return marketcap.Parse(s)
	}
	return 0, fmt.Errorf("unparseable market cap payload")
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchPrices fetches the daily close series via the v8 chart API.
func (y *Yahoo) FetchPrices(ctx context.Context, symbol string, start, end time.Time) ([]*models.QuoteRecord, error) {
	resp, err := y.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     fmt.Sprintf("%s/v8/finance/chart/%s", y.queryURL, symbol),
		Headers: yahooHeaders(),
		QueryParams: map[string][]string{
			"period1":  {strconv.FormatInt(start.Unix(), 10)},
			"period2":  {strconv.FormatInt(end.Unix(), 10)},
			"interval": {"1d"},
		},
	})
	if err != nil {
		return nil, classifyTransport(y.Name(), err)
	}
	defer resp.Body.Close()
	if aerr := classifyStatus(y.Name(), resp.StatusCode); aerr != nil {
		return nil, aerr
	}

	var out yahooChart
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, failure(y.Name(), ReasonMalformed, err)
	}
	if out.Chart.Error != nil {
		return nil, failure(y.Name(), ReasonNotFound, fmt.Errorf("chart error %s", out.Chart.Error.Code))
	}
	if len(out.Chart.Result) == 0 || len(out.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, failure(y.Name(), ReasonNotFound, fmt.Errorf("empty chart for %s", symbol))
	}

	res := out.Chart.Result[0]
	quote := res.Indicators.Quote[0]
	records := make([]*models.QuoteRecord, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}
		day := time.Unix(ts, 0).UTC().Truncate(24 * time.Hour)
		if day.Before(start) || day.After(end) {
			continue
		}
		var vol int64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			vol = *quote.Volume[i]
		}
		records = append(records, &models.QuoteRecord{
			Date:   day,
			Symbol: symbol,
			Price:  *quote.Close[i],
			Volume: vol,
			Source: y.Name(),
		})
	}
	if len(records) == 0 {
		return nil, failure(y.Name(), ReasonNotFound, fmt.Errorf("no points in range for %s", symbol))
	}
	return records, nil
}

func yahooHeaders() map[string]string {
	return map[string]string{
		"User-Agent": browserUA,
		"Accept":     "application/json",
		"Referer":    "https://finance.yahoo.com/",
		"Origin":     "https://finance.yahoo.com",
	}
}
