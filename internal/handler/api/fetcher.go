package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"IndexPull/internal/domain/models"
	domrepo "IndexPull/internal/domain/repository"
	"IndexPull/internal/service/fallback"
	"IndexPull/internal/usecase"
	xhttp "IndexPull/pkg/http"
	applogger "IndexPull/pkg/logger"
	xutil "IndexPull/pkg/util"

	"github.com/labstack/echo/v4"
)

const dateLayout = "2006-01-02"

// FetcherHandler implements the selection and data-collection API.
type FetcherHandler struct {
	logger    *applogger.Logger
	selector  *usecase.Selector
	collector *usecase.Collector
	chain     *fallback.Chain
	universe  domrepo.UniverseSource
	store     domrepo.QuoteStore

	collectMu      sync.Mutex
	collectRunning bool
	lastCollect    *usecase.CollectResult
	lastCollectErr error
}

// NewFetcherHandler creates the API handler.
func NewFetcherHandler(
	logger *applogger.Logger,
	selector *usecase.Selector,
	collector *usecase.Collector,
	chain *fallback.Chain,
	universe domrepo.UniverseSource,
	store domrepo.QuoteStore,
) *FetcherHandler {
	return &FetcherHandler{
		logger:    logger,
		selector:  selector,
		collector: collector,
		chain:     chain,
		universe:  universe,
		store:     store,
	}
}

func (h *FetcherHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/selection/run", h.RunSelection)
	g.GET("/selection/status", h.SelectionStatus)
	g.GET("/selection/result", h.SelectionResult)
	g.POST("/data/fetch", h.FetchData)
	g.GET("/data/fetch/status", h.FetchStatus)
	g.POST("/universe/refresh", h.RefreshUniverse)
	g.GET("/config/fetcher", h.GetConfig)
	g.POST("/config/fetcher", h.SetConfig)
	g.GET("/test/symbol/:symbol", h.TestSymbol)
	g.GET("/companies/top", h.TopCompanies)
	e.GET("/health", h.Health)
}

// RunSelection starts a background selection run.
func (h *FetcherHandler) RunSelection(c echo.Context) error {
	req := &models.SelectionRunRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if err := h.selector.Start(req.ForceRefresh); err != nil {
		if errors.Is(err, usecase.ErrRunInProgress) {
			return xhttp.AppErrorResponse(c,
				xhttp.NewAppError("ERR_RUN_IN_PROGRESS", "", err.Error(), http.StatusConflict))
		}
		h.logger.Error("selection start error", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, h.selector.Progress())
}

// SelectionStatus reports the current or most recent run.
func (h *FetcherHandler) SelectionStatus(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.selector.Progress())
}

// SelectionResult returns the most recent completed selection.
func (h *FetcherHandler) SelectionResult(c echo.Context) error {
	res := h.selector.LastResult()
	if res == nil {
		return xhttp.AppErrorResponse(c,
			xhttp.NotFoundError("no completed selection run"))
	}
	return xhttp.SuccessResponse(c, res)
}

// FetchData starts a background collection run over the given window.
func (h *FetcherHandler) FetchData(c echo.Context) error {
	req := &models.FetchDataRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	start, end, err := parseWindow(req.StartDate, req.EndDate)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	h.collectMu.Lock()
	if h.collectRunning {
		h.collectMu.Unlock()
		return xhttp.AppErrorResponse(c,
			xhttp.NewAppError("ERR_RUN_IN_PROGRESS", "", "data fetch already in progress", http.StatusConflict))
	}
	h.collectRunning = true
	h.collectMu.Unlock()

	force := req.ForceRefresh
	go func() {
		res, err := h.collector.Collect(context.Background(), start, end, force)
		h.collectMu.Lock()
		h.collectRunning = false
		h.lastCollect = res
		h.lastCollectErr = err
		h.collectMu.Unlock()
		if err != nil {
			h.logger.Error("data fetch failed", applogger.Error(err))
		}
	}()

	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":     "started",
		"start_date": start.Format(dateLayout),
		"end_date":   end.Format(dateLayout),
	})
}

// FetchStatus reports the current or most recent collection run.
func (h *FetcherHandler) FetchStatus(c echo.Context) error {
	h.collectMu.Lock()
	defer h.collectMu.Unlock()

	out := map[string]interface{}{"running": h.collectRunning}
	if h.lastCollectErr != nil {
		out["error"] = h.lastCollectErr.Error()
	}
	if h.lastCollect != nil {
		out["last"] = h.lastCollect
	}
	return xhttp.SuccessResponse(c, out)
}

// RefreshUniverse refreshes the symbol universe snapshot.
func (h *FetcherHandler) RefreshUniverse(c echo.Context) error {
	req := &models.RefreshUniverseRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap, err := h.universe.Current(c.Request().Context(), req.Force)
	if err != nil {
		h.logger.Error("universe refresh error", applogger.Error(err))
		return xhttp.AppErrorResponse(c,
			xhttp.NewAppError("ERR_NO_UNIVERSE", "", err.Error(), http.StatusBadGateway))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"symbols":    len(snap.Symbols),
		"fetched_at": snap.FetchedAt,
		"source":     snap.Source,
	})
}

// GetConfig returns the current fetcher settings.
func (h *FetcherHandler) GetConfig(c echo.Context) error {
	return xhttp.SuccessResponse(c, settingsView(h.selector.Settings()))
}

// SetConfig applies a partial settings update. A running selection
// keeps the snapshot it captured at start.
func (h *FetcherHandler) SetConfig(c echo.Context) error {
	req := &models.ConfigureFetcherRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	next := h.selector.Settings()
	if req.CandidateSymbols != nil {
		next.CandidateSymbols = *req.CandidateSymbols
	}
	if req.MaxSymbols != nil {
		next.MaxSymbols = *req.MaxSymbols
	}
	if req.BatchSize != nil {
		next.BatchSize = *req.BatchSize
	}
	if req.RateLimitDelay != nil {
		next.RateLimitDelay = time.Duration(*req.RateLimitDelay) * time.Second
	}
	if req.YahooBatchDelay != nil {
		next.YahooBatchDelay = time.Duration(*req.YahooBatchDelay) * time.Second
	}
	if req.CacheDuration != nil {
		next.CacheDurationDays = *req.CacheDuration
	}

	if err := h.selector.SetSettings(next); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	return xhttp.SuccessResponse(c, settingsView(next))
}

// TestSymbol probes every adapter for one symbol. Diagnostic only.
func (h *FetcherHandler) TestSymbol(c echo.Context) error {
	req := &models.TestSymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	start, end, err := parseWindow(req.StartDate, req.EndDate)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	outcomes := h.chain.Probe(c.Request().Context(), req.Symbol, start, end)
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"symbol":   req.Symbol,
		"outcomes": outcomes,
	})
}

// TopCompanies returns the ranked selection stored for a date.
func (h *FetcherHandler) TopCompanies(c echo.Context) error {
	req := &models.TopCompaniesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	date := time.Now().UTC()
	if req.Date != "" {
		var err error
		date, err = xutil.ParseDate(req.Date)
		if err != nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid date %q", req.Date))
		}
	}

	ranks, err := h.store.TopCompanies(c.Request().Context(), date, req.Limit)
	if err != nil {
		h.logger.Error("top companies query error", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, ranks, int64(len(ranks)))
}

// Health checks storage connectivity.
func (h *FetcherHandler) Health(c echo.Context) error {
	status := "healthy"
	deps := map[string]string{}
	if h.store != nil {
		if err := h.store.Health(c.Request().Context()); err != nil {
			status = "degraded"
			deps["storage"] = err.Error()
		} else {
			deps["storage"] = "ok"
		}
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}

// parseWindow parses the optional date window, defaulting to the
// trailing month ending today.
func parseWindow(startDate, endDate string) (time.Time, time.Time, error) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, -1, 0)

	var err error
	if endDate != "" {
		if end, err = xutil.ParseDate(endDate); err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid end_date, want YYYY-MM-DD")
		}
	}
	if startDate != "" {
		if start, err = xutil.ParseDate(startDate); err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid start_date, want YYYY-MM-DD")
		}
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, errors.New("start_date must be before end_date")
	}
	return start, end, nil
}

func settingsView(s models.FetcherSettings) map[string]interface{} {
	return map[string]interface{}{
		"candidate_symbols":   s.CandidateSymbols,
		"max_symbols":         s.MaxSymbols,
		"batch_size":          s.BatchSize,
		"rate_limit_delay":    int(s.RateLimitDelay / time.Second),
		"yahoo_batch_delay":   int(s.YahooBatchDelay / time.Second),
		"cache_duration_days": s.CacheDurationDays,
	}
}
