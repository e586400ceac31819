package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"IndexPull/internal/domain/models"
	xhttp "IndexPull/pkg/http"
)

// FMP fetches the historical-price-full series from Financial Modeling
// Prep. Prices only; last resort in the chain.
type FMP struct {
	client  *xhttp.Client
	apiKey  string
	baseURL string
}

// NewFMP creates the FMP adapter. An empty apiKey uses the keyless
// endpoint, which serves a truncated history.
func NewFMP(client *xhttp.Client, apiKey string, baseURL string) *FMP {
	if baseURL == "" {
		baseURL = "https://financialmodelingprep.com"
	}
	return &FMP{client: client, apiKey: apiKey, baseURL: baseURL}
}

func (f *FMP) Name() string              { return "fmp" }
func (f *FMP) Capabilities() Capability { return CapPrices }

func (f *FMP) FetchMarketCap(ctx context.Context, symbol string) (float64, error) {
	return 0, failure(f.Name(), ReasonUnavailable, fmt.Errorf("market cap not supported"))
}

type fmpHistorical struct {
	Historical []struct {
		Date   string  `json:"date"`
		Close  float64 `json:"close"`
		Volume int64   `json:"volume"`
	} `json:"historical"`
}

func (f *FMP) FetchPrices(ctx context.Context, symbol string, start, end time.Time) ([]*models.QuoteRecord, error) {
	resp, err := f.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         fmt.Sprintf("%s/api/v3/historical-price-full/%s", f.baseURL, symbol),
		Headers:     map[string]string{"User-Agent": browserUA, "Accept": "application/json", "Referer": "https://financialmodelingprep.com/"},
		QueryParams: fmpParams(f.apiKey),
	})
	if err != nil {
		return nil, classifyTransport(f.Name(), err)
	}
	defer resp.Body.Close()
	if aerr := classifyStatus(f.Name(), resp.StatusCode); aerr != nil {
		return nil, aerr
	}

	var out fmpHistorical
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, failure(f.Name(), ReasonMalformed, err)
	}
	if len(out.Historical) == 0 {
		return nil, failure(f.Name(), ReasonNotFound, fmt.Errorf("no history for %s", symbol))
	}

	records := make([]*models.QuoteRecord, 0, len(out.Historical))
	for _, entry := range out.Historical {
		day, err := time.Parse("2006-01-02", entry.Date)
		if err != nil {
			continue
		}
		if day.Before(start) || day.After(end) {
			continue
		}
		records = append(records, &models.QuoteRecord{
			Date:   day,
			Symbol: symbol,
			Price:  entry.Close,
			Volume: entry.Volume,
			Source: f.Name(),
		})
	}
	if len(records) == 0 {
		return nil, failure(f.Name(), ReasonNotFound, fmt.Errorf("no points in range for %s", symbol))
	}
	return records, nil
}

func fmpParams(apiKey string) map[string][]string {
	params := map[string][]string{"serietype": {"line"}}
	if apiKey != "" {
		params["apikey"] = []string{apiKey}
	}
	return params
}
