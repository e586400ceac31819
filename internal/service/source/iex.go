package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"IndexPull/internal/domain/models"
	xhttp "IndexPull/pkg/http"
)

// IEX fetches daily charts from IEX Cloud. Prices only.
type IEX struct {
	client  *xhttp.Client
	baseURL string
	token   string
}

// NewIEX creates the IEX Cloud adapter.
func NewIEX(client *xhttp.Client, token string, baseURL string) *IEX {
	if baseURL == "" {
		baseURL = "https://sandbox.iexapis.com/stable"
	}
	return &IEX{client: client, baseURL: baseURL, token: token}
}

func (x *IEX) Name() string              { return "iex" }
func (x *IEX) Capabilities() Capability { return CapPrices }

func (x *IEX) FetchMarketCap(ctx context.Context, symbol string) (float64, error) {
	return 0, failure(x.Name(), ReasonUnavailable, fmt.Errorf("market cap not supported"))
}

type iexChartEntry struct {
	Date   string  `json:"date"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

func (x *IEX) FetchPrices(ctx context.Context, symbol string, start, end time.Time) ([]*models.QuoteRecord, error) {
	resp, err := x.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     fmt.Sprintf("%s/stock/%s/chart/1y", x.baseURL, symbol),
		Headers: map[string]string{"User-Agent": browserUA, "Accept": "application/json"},
		QueryParams: map[string][]string{
			"token":      {x.token},
			"chartByDay": {"true"},
		},
	})
	if err != nil {
		return nil, classifyTransport(x.Name(), err)
	}
	defer resp.Body.Close()
	if aerr := classifyStatus(x.Name(), resp.StatusCode); aerr != nil {
		return nil, aerr
	}

	var entries []iexChartEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, failure(x.Name(), ReasonMalformed, err)
	}
	if len(entries) == 0 {
		return nil, failure(x.Name(), ReasonNotFound, fmt.Errorf("no chart for %s", symbol))
	}

	records := make([]*models.QuoteRecord, 0, len(entries))
	for _, entry := range entries {
		day, err := time.Parse("2006-01-02", entry.Date)
		if err != nil || entry.Close == 0 {
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
			Source: x.Name(),
		})
	}
	if len(records) == 0 {
		return nil, failure(x.Name(), ReasonNotFound, fmt.Errorf("no points in range for %s", symbol))
	}
	return records, nil
}
