package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xhttp "IndexPull/pkg/http"
)

func TestYahooFetchMarketCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"quoteSummary":{"result":[{"summaryDetail":{"marketCap":{"raw":2500000000,"fmt":"2.5B"}}}],"error":null}}`))
	}))
	defer srv.Close()

	y := NewYahoo(xhttp.NewClient(), WithYahooBaseURL(srv.URL, srv.URL+"/v1/test/getcrumb"))
	mc, err := y.FetchMarketCap(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if mc != 2.5e9 {
		t.Fatalf("market cap = %v, want 2.5e9", mc)
	}
}

func TestYahooAuthExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	y := NewYahoo(xhttp.NewClient(), WithYahooBaseURL(srv.URL, srv.URL+"/v1/test/getcrumb"))
	_, err := y.FetchMarketCap(context.Background(), "AAPL")
	var aerr *AdapterError
	if !errors.As(err, &aerr) || aerr.Reason != ReasonAuthExpired {
		t.Fatalf("expected auth_expired, got %v", err)
	}
}

func TestYahooReauthenticate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Xl2abcdef"))
	}))
	defer srv.Close()

	y := NewYahoo(xhttp.NewClient(), WithYahooBaseURL(srv.URL, srv.URL))
	if err := y.Reauthenticate(context.Background()); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if y.currentCrumb() != "Xl2abcdef" {
		t.Fatalf("crumb = %q", y.currentCrumb())
	}
}

func TestYahooReauthenticateRejectsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>blocked</html>"))
	}))
	defer srv.Close()

	y := NewYahoo(xhttp.NewClient(), WithYahooBaseURL(srv.URL, srv.URL))
	err := y.Reauthenticate(context.Background())
	var aerr *AdapterError
	if !errors.As(err, &aerr) || aerr.Reason != ReasonAuthExpired {
		t.Fatalf("expected auth_expired, got %v", err)
	}
}

func TestYahooFetchPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// two days of closes, one null close that must be skipped
		_, _ = w.Write([]byte(`{"chart":{"result":[{"timestamp":[1704326400,1704412800,1704499200],` +
			`"indicators":{"quote":[{"close":[185.5,null,186.2],"volume":[100,null,200]}]}}],"error":null}}`))
	}))
	defer srv.Close()

	y := NewYahoo(xhttp.NewClient(), WithYahooBaseURL(srv.URL, srv.URL+"/crumb"))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	records, err := y.FetchPrices(context.Background(), "AAPL", start, end)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Price != 185.5 || records[0].Symbol != "AAPL" || records[0].Source != "yahoo" {
		t.Fatalf("unexpected record %+v", records[0])
	}
}

func TestAlphaVantageThrottleDetection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Note":"Thank you! Our standard API call frequency is 5 calls per minute."}`))
	}))
	defer srv.Close()

	av := NewAlphaVantage(xhttp.NewClient(), "demo", srv.URL)
	_, err := av.FetchMarketCap(context.Background(), "AAPL")
	var aerr *AdapterError
	if !errors.As(err, &aerr) || aerr.Reason != ReasonRateLimited {
		t.Fatalf("expected rate_limited, got %v", err)
	}
}

func TestAlphaVantageMarketCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Symbol":"MSFT","MarketCapitalization":"3100000000000"}`))
	}))
	defer srv.Close()

	av := NewAlphaVantage(xhttp.NewClient(), "demo", srv.URL)
	mc, err := av.FetchMarketCap(context.Background(), "MSFT")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if mc != 3.1e12 {
		t.Fatalf("market cap = %v, want 3.1e12", mc)
	}
}
