package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"IndexPull/internal/domain/models"
	xhttp "IndexPull/pkg/http"
)

// Polygon fetches daily aggregates. Prices only.
type Polygon struct {
	client  *xhttp.Client
	baseURL string
	apiKey  string
}

// NewPolygon creates the Polygon adapter.
func NewPolygon(client *xhttp.Client, apiKey string, baseURL string) *Polygon {
	if baseURL == "" {
		baseURL = "https://api.polygon.io"
	}
	return &Polygon{client: client, baseURL: baseURL, apiKey: apiKey}
}

func (p *Polygon) Name() string              { return "polygon" }
func (p *Polygon) Capabilities() Capability { return CapPrices }

func (p *Polygon) FetchMarketCap(ctx context.Context, symbol string) (float64, error) {
	return 0, failure(p.Name(), ReasonUnavailable, fmt.Errorf("market cap not supported"))
}

type polygonAggs struct {
	Results []struct {
		T int64   `json:"t"` // ms
		C float64 `json:"c"`
		V float64 `json:"v"`
	} `json:"results"`
	Status string `json:"status"`
}

func (p *Polygon) FetchPrices(ctx context.Context, symbol string, start, end time.Time) ([]*models.QuoteRecord, error) {
	url := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s",
		p.baseURL, symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
	params := map[string][]string{"adjusted": {"true"}, "sort": {"asc"}}
	if p.apiKey != "" {
		params["apiKey"] = []string{p.apiKey}
	}

	resp, err := p.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         url,
		Headers:     map[string]string{"User-Agent": browserUA, "Accept": "application/json"},
		QueryParams: params,
	})
	if err != nil {
		return nil, classifyTransport(p.Name(), err)
	}
	defer resp.Body.Close()
	if aerr := classifyStatus(p.Name(), resp.StatusCode); aerr != nil {
		return nil, aerr
	}

	var out polygonAggs
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, failure(p.Name(), ReasonMalformed, err)
	}
	if len(out.Results) == 0 {
		return nil, failure(p.Name(), ReasonNotFound, fmt.Errorf("no results for %s", symbol))
	}

	records := make([]*models.QuoteRecord, 0, len(out.Results))
	for _, entry := range out.Results {
		day := time.UnixMilli(entry.T).UTC().Truncate(24 * time.Hour)
		if day.Before(start) || day.After(end) {
			continue
		}
		records = append(records, &models.QuoteRecord{
			Date:   day,
			Symbol: symbol,
			Price:  entry.C,
			Volume: int64(entry.V),
			Source: p.Name(),
		})
	}
	if len(records) == 0 {
		return nil, failure(p.Name(), ReasonNotFound, fmt.Errorf("no points in range for %s", symbol))
	}
	return records, nil
}
