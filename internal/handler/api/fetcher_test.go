package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"IndexPull/internal/domain/models"
	"IndexPull/internal/service/fallback"
	"IndexPull/internal/service/source"
	"IndexPull/internal/usecase"
	"IndexPull/pkg/cache"
	applogger "IndexPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

type nopMetrics struct{}

func (nopMetrics) RecordProviderRequest(string, string, string) {}
func (nopMetrics) RecordFallbackDepth(string, int)              {}
func (nopMetrics) RecordUnresolved(int)                         {}
func (nopMetrics) RecordSelectionDuration(float64)              {}
func (nopMetrics) RecordMarketCap(string, float64)              {}
func (nopMetrics) RecordBatch(string)                           {}
func (nopMetrics) RecordError(string)                           {}

type staticUniverse struct {
	snap *models.UniverseSnapshot
}

func (u *staticUniverse) Current(ctx context.Context, force bool) (*models.UniverseSnapshot, error) {
	return u.snap, nil
}

// tableAdapter serves caps and a single daily close from a fixed map.
type tableAdapter struct {
	caps map[string]float64
}

func (a *tableAdapter) Name() string                    { return "table" }
func (a *tableAdapter) Capabilities() source.Capability { return source.CapMarketCap | source.CapPrices }

func (a *tableAdapter) FetchMarketCap(ctx context.Context, symbol string) (float64, error) {
	mc, ok := a.caps[symbol]
	if !ok {
		return 0, &source.AdapterError{Adapter: "table", Reason: source.ReasonNotFound}
	}
	return mc, nil
}

func (a *tableAdapter) FetchPrices(ctx context.Context, symbol string, start, end time.Time) ([]*models.QuoteRecord, error) {
	if _, ok := a.caps[symbol]; !ok {
		return nil, &source.AdapterError{Adapter: "table", Reason: source.ReasonNotFound}
	}
	return []*models.QuoteRecord{{
		Date: start, Symbol: symbol, Price: 100, Volume: 1000, Source: "table",
	}}, nil
}

type memStore struct {
	mu     sync.Mutex
	quotes []*models.QuoteRecord
	runs   []*models.SelectionResult
}

func (s *memStore) Init(ctx context.Context) error { return nil }

func (s *memStore) StoreQuotes(ctx context.Context, quotes []*models.QuoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = append(s.quotes, quotes...)
	return nil
}

func (s *memStore) StoreSelection(ctx context.Context, res *models.SelectionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, res)
	return nil
}

func (s *memStore) TopCompanies(ctx context.Context, date time.Time, limit int) ([]*models.MarketCapRank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return nil, nil
	}
	last := s.runs[len(s.runs)-1]
	out := make([]*models.MarketCapRank, 0, limit)
	for i := range last.Candidates {
		if i >= limit {
			break
		}
		r := last.Candidates[i]
		out = append(out, &r)
	}
	return out, nil
}

func (s *memStore) Health(ctx context.Context) error { return nil }
func (s *memStore) Close() error                     { return nil }

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, n int) (*echo.Echo, *memStore) {
	t.Helper()

	symbols := make([]string, n)
	caps := make(map[string]float64, n)
	for i := 0; i < n; i++ {
		sym := fmt.Sprintf("SYM%03d", i)
		symbols[i] = sym
		caps[sym] = float64(1+i) * 1e9
	}
	universe := &staticUniverse{snap: &models.UniverseSnapshot{
		Symbols:   symbols,
		FetchedAt: time.Now().UTC(),
		Source:    "test",
	}}

	chain := fallback.New([]source.Adapter{&tableAdapter{caps: caps}}, nopMetrics{}, nil)
	sel := usecase.NewSelector(universe, chain, cache.NewMemoryCache(), nopMetrics{}, applogger.NewNop())

	settings := models.DefaultFetcherSettings()
	settings.BatchSize = 100
	settings.RateLimitDelay = 0
	settings.YahooBatchDelay = 0
	if err := sel.SetSettings(settings); err != nil {
		t.Fatalf("settings: %v", err)
	}

	store := &memStore{}
	col := usecase.NewCollector(sel, chain, nil, store, nopMetrics{}, applogger.NewNop(), "clickhouse")

	e := echo.New()
	h := NewFetcherHandler(applogger.NewNop(), sel, col, chain, universe, store)
	h.RegisterRoutes(e)
	return e, store
}

func do(t *testing.T, e *echo.Echo, method, target, body string) envelope {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s %s: http %d", method, target, rec.Code)
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: bad envelope: %v", method, target, err)
	}
	return env
}

func waitForState(t *testing.T, e *echo.Echo, want models.SelectionState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		env := do(t, e, http.MethodGet, "/api/selection/status", "")
		var prog models.RunProgress
		if err := json.Unmarshal(env.Data, &prog); err != nil {
			t.Fatalf("bad progress payload: %v", err)
		}
		if prog.State == want {
			return
		}
		if prog.State == models.StateFailed {
			t.Fatalf("run failed: %s", prog.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state never reached %s", want)
}

func TestSelectionRunEndToEnd(t *testing.T) {
	e, _ := newTestServer(t, 500)

	env := do(t, e, http.MethodPost, "/api/selection/run", "")
	if env.Status != http.StatusOK {
		t.Fatalf("run status = %d", env.Status)
	}
	waitForState(t, e, models.StateDone)

	env = do(t, e, http.MethodGet, "/api/selection/result", "")
	if env.Status != http.StatusOK {
		t.Fatalf("result status = %d", env.Status)
	}
	var res models.SelectionResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("bad result payload: %v", err)
	}
	if len(res.Symbols) != 100 {
		t.Fatalf("selected = %d, want 100", len(res.Symbols))
	}
	if res.Symbols[0] != "SYM499" {
		t.Fatalf("top symbol = %s, want SYM499", res.Symbols[0])
	}
}

func TestSelectionResultBeforeAnyRun(t *testing.T) {
	e, _ := newTestServer(t, 10)

	env := do(t, e, http.MethodGet, "/api/selection/result", "")
	if env.Status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", env.Status)
	}
}

func TestGetAndSetConfig(t *testing.T) {
	e, _ := newTestServer(t, 10)

	env := do(t, e, http.MethodGet, "/api/config/fetcher", "")
	var got map[string]int
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("bad settings payload: %v", err)
	}
	if got["candidate_symbols"] != 200 || got["max_symbols"] != 100 {
		t.Fatalf("unexpected defaults: %v", got)
	}

	env = do(t, e, http.MethodPost, "/api/config/fetcher",
		`{"max_symbols": 50, "yahoo_batch_delay": 3}`)
	if env.Status != http.StatusOK {
		t.Fatalf("set status = %d", env.Status)
	}
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("bad settings payload: %v", err)
	}
	if got["max_symbols"] != 50 || got["yahoo_batch_delay"] != 3 {
		t.Fatalf("settings not applied: %v", got)
	}
	// untouched fields survive a partial update
	if got["candidate_symbols"] != 200 {
		t.Fatalf("partial update clobbered candidate_symbols: %v", got)
	}
}

func TestSetConfigRejectsInvalid(t *testing.T) {
	e, _ := newTestServer(t, 10)

	env := do(t, e, http.MethodPost, "/api/config/fetcher",
		`{"candidate_symbols": 50, "max_symbols": 100}`)
	if env.Status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", env.Status)
	}
}

func TestFetchDataStoresQuotes(t *testing.T) {
	e, store := newTestServer(t, 500)

	env := do(t, e, http.MethodPost, "/api/data/fetch",
		`{"start_date": "2026-07-01", "end_date": "2026-08-01"}`)
	if env.Status != http.StatusOK {
		t.Fatalf("fetch status = %d", env.Status)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		env := do(t, e, http.MethodGet, "/api/data/fetch/status", "")
		var out struct {
			Running bool            `json:"running"`
			Error   string          `json:"error"`
			Last    json.RawMessage `json:"last"`
		}
		if err := json.Unmarshal(env.Data, &out); err != nil {
			t.Fatalf("bad status payload: %v", err)
		}
		if !out.Running && out.Last != nil {
			if out.Error != "" {
				t.Fatalf("fetch failed: %s", out.Error)
			}
			store.mu.Lock()
			n := len(store.quotes)
			store.mu.Unlock()
			if n != 100 {
				t.Fatalf("stored quotes = %d, want 100", n)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("fetch never finished")
}

func TestFetchDataRejectsBadWindow(t *testing.T) {
	e, _ := newTestServer(t, 10)

	env := do(t, e, http.MethodPost, "/api/data/fetch",
		`{"start_date": "2026-08-01", "end_date": "2026-07-01"}`)
	if env.Status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", env.Status)
	}
}

func TestTestSymbolProbe(t *testing.T) {
	e, _ := newTestServer(t, 10)

	env := do(t, e, http.MethodGet, "/api/test/symbol/SYM005", "")
	if env.Status != http.StatusOK {
		t.Fatalf("status = %d", env.Status)
	}
	var out struct {
		Symbol   string                  `json:"symbol"`
		Outcomes []models.AdapterOutcome `json:"outcomes"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("bad probe payload: %v", err)
	}
	if out.Symbol != "SYM005" || len(out.Outcomes) == 0 {
		t.Fatalf("unexpected probe response: %+v", out)
	}
	for _, o := range out.Outcomes {
		if !o.OK {
			t.Fatalf("probe outcome failed: %+v", o)
		}
	}
}

func TestTopCompanies(t *testing.T) {
	e, _ := newTestServer(t, 500)

	do(t, e, http.MethodPost, "/api/selection/run", "")
	waitForState(t, e, models.StateDone)

	do(t, e, http.MethodPost, "/api/data/fetch", `{"start_date": "2026-07-01", "end_date": "2026-08-01"}`)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		env := do(t, e, http.MethodGet, "/api/data/fetch/status", "")
		var out struct {
			Running bool `json:"running"`
		}
		_ = json.Unmarshal(env.Data, &out)
		if !out.Running {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	env := do(t, e, http.MethodGet, "/api/companies/top?limit=10", "")
	if env.Status != http.StatusOK {
		t.Fatalf("status = %d", env.Status)
	}
	var list struct {
		Rows  []*models.MarketCapRank `json:"rows"`
		Total int64                   `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("bad list payload: %v", err)
	}
	if len(list.Rows) != 10 {
		t.Fatalf("rows = %d, want 10", len(list.Rows))
	}
	if list.Rows[0].Rank != 1 {
		t.Fatalf("first row rank = %d, want 1", list.Rows[0].Rank)
	}
}

func TestHealth(t *testing.T) {
	e, _ := newTestServer(t, 10)

	env := do(t, e, http.MethodGet, "/health", "")
	var out struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("bad health payload: %v", err)
	}
	if out.Status != "healthy" || out.Dependencies["storage"] != "ok" {
		t.Fatalf("unexpected health: %+v", out)
	}
}
