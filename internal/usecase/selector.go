package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"IndexPull/internal/domain/models"
	"IndexPull/internal/domain/repository"
	"IndexPull/internal/service/batch"
	"IndexPull/internal/service/fallback"
	"IndexPull/pkg/cache"
	applogger "IndexPull/pkg/logger"
)

var (
	// ErrInsufficientCandidates means fewer symbols resolved in Stage 1
	// than the final selection needs. Fatal to the run.
	ErrInsufficientCandidates = errors.New("insufficient candidates resolved")

	// ErrRunInProgress rejects a second concurrent selection run.
	ErrRunInProgress = errors.New("selection run already in progress")
)

const (
	stage1KeyPrefix = "selection:stage1:"
	capKeyPrefix    = "marketcap:"
	capMemoTTL      = 24 * time.Hour
)

// stage1Result is the memoized outcome of a Stage-1 evaluation, keyed
// by universe version and settings snapshot.
type stage1Result struct {
	Ranks        []models.MarketCapRank `json:"ranks"`
	Resolved     int                    `json:"resolved"`
	Unresolved   int                    `json:"unresolved"`
	UniverseSize int                    `json:"universe_size"`
}

// Selector runs the two-stage market-cap selection over the universe.
// Stage 1 evaluates every universe symbol's market cap through the
// fallback chain and keeps the top candidate_symbols. Stage 2 truncates
// that list to max_symbols without further network calls.
type Selector struct {
	universe repository.UniverseSource
	chain    *fallback.Chain
	cache    cache.Service
	metrics  repository.Metrics
	logger   *applogger.Logger

	settingsMu sync.RWMutex
	settings   models.FetcherSettings

	runMu      sync.Mutex
	running    bool
	cancelRun  context.CancelFunc
	progress   models.RunProgress
	lastResult *models.SelectionResult
}

// NewSelector creates the selector with default settings.
func NewSelector(
	universe repository.UniverseSource,
	chain *fallback.Chain,
	cacheSvc cache.Service,
	metrics repository.Metrics,
	logger *applogger.Logger,
) *Selector {
	return &Selector{
		universe: universe,
		chain:    chain,
		cache:    cacheSvc,
		metrics:  metrics,
		logger:   logger,
		settings: models.DefaultFetcherSettings(),
		progress: models.RunProgress{State: models.StateIdle},
	}
}

// Settings returns a copy of the current settings.
func (s *Selector) Settings() models.FetcherSettings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

// SetSettings swaps in a new settings value. Runs already started keep
// the snapshot they captured.
func (s *Selector) SetSettings(next models.FetcherSettings) error {
	if next.MaxSymbols < 1 || next.CandidateSymbols < next.MaxSymbols {
		return fmt.Errorf("candidate_symbols %d must be >= max_symbols %d >= 1",
			next.CandidateSymbols, next.MaxSymbols)
	}
	if next.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1")
	}
	s.settingsMu.Lock()
	s.settings = next
	s.settingsMu.Unlock()
	return nil
}

// Progress reports the current or most recent run.
func (s *Selector) Progress() models.RunProgress {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.progress
}

// LastResult returns the most recent completed selection, if any.
func (s *Selector) LastResult() *models.SelectionResult {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.lastResult
}

// Run executes a full selection synchronously. Only one run may be
// active at a time.
func (s *Selector) Run(ctx context.Context, forceUniverse bool) (*models.SelectionResult, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	res, err := s.run(ctx, forceUniverse)
	s.finish(res, err)
	return res, err
}

// Start launches a selection in the background. Progress is observable
// via Progress; the run is abortable between batches via Stop.
func (s *Selector) Start(forceUniverse bool) error {
	if err := s.begin(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.runMu.Lock()
	s.cancelRun = cancel
	s.runMu.Unlock()

	go func() {
		defer cancel()
		res, err := s.run(ctx, forceUniverse)
		s.finish(res, err)
	}()
	return nil
}

// Stop aborts a background run at the next batch boundary.
func (s *Selector) Stop() {
	s.runMu.Lock()
	cancel := s.cancelRun
	s.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Selector) begin() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return ErrRunInProgress
	}
	s.running = true
	s.progress = models.RunProgress{State: models.StateIdle, StartedAt: time.Now().UTC()}
	return nil
}

func (s *Selector) finish(res *models.SelectionResult, err error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.running = false
	s.cancelRun = nil
	if err != nil {
		s.progress.State = models.StateFailed
		s.progress.Error = err.Error()
		return
	}
	s.lastResult = res
	s.progress.State = models.StateDone
	s.progress.SymbolsPreview = res.Preview(10)
	s.progress.DurationSeconds = res.Duration.Seconds()
}

func (s *Selector) setState(state models.SelectionState) {
	s.runMu.Lock()
	s.progress.State = state
	s.runMu.Unlock()
}

func (s *Selector) run(ctx context.Context, forceUniverse bool) (*models.SelectionResult, error) {
	settings := s.Settings()
	startedAt := time.Now().UTC()

	s.setState(models.StateStage1Running)
	snap, err := s.universe.Current(ctx, forceUniverse)
	if err != nil {
		s.metrics.RecordError("universe")
		return nil, err
	}

	stage1, err := s.stage1(ctx, snap, settings)
	if err != nil {
		return nil, err
	}
	if len(stage1.Ranks) < settings.MaxSymbols {
		s.metrics.RecordError("insufficient_candidates")
		return nil, fmt.Errorf("%w: %d candidates available, %d required",
			ErrInsufficientCandidates, len(stage1.Ranks), settings.MaxSymbols)
	}
	s.setState(models.StateStage1Complete)

	s.setState(models.StateStage2Running)
	result := s.stage2(stage1, settings, startedAt)

	s.metrics.RecordUnresolved(stage1.Unresolved)
	s.metrics.RecordSelectionDuration(result.Duration.Seconds())
	for _, r := range result.Candidates[:len(result.Symbols)] {
		s.metrics.RecordMarketCap(r.Symbol, r.MarketCap)
	}

	s.logger.Info("selection complete",
		applogger.Int("universe", result.UniverseSize),
		applogger.Int("candidates", result.CandidatesUsed),
		applogger.Int("selected", len(result.Symbols)),
		applogger.Int("unresolved", result.UnresolvedCount),
		applogger.Duration("took", result.Duration),
	)
	return result, nil
}

// stage1 evaluates market caps for the whole universe, served from the
// memo cache when an identical (universe, settings) evaluation exists.
func (s *Selector) stage1(ctx context.Context, snap *models.UniverseSnapshot, settings models.FetcherSettings) (*stage1Result, error) {
	key := stage1Key(snap, settings)
	var cached string
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		var memo stage1Result
		if err := json.Unmarshal([]byte(cached), &memo); err == nil && len(memo.Ranks) > 0 {
			s.logger.Info("stage 1 served from cache",
				applogger.Int("candidates", len(memo.Ranks)),
				applogger.String("universe_version", snap.Version()),
			)
			return &memo, nil
		}
	}

	executor := batch.New(settings.BatchSize, settings.YahooBatchDelay, batch.WithLogger(s.logger))
	total := executor.BatchCount(len(snap.Symbols))

	var resolved, unresolved int64
	onBatch := func(done, totalBatches int) {
		s.runMu.Lock()
		s.progress.BatchesDone = done
		s.progress.BatchesTotal = totalBatches
		s.progress.Resolved = int(atomic.LoadInt64(&resolved))
		s.progress.Unresolved = int(atomic.LoadInt64(&unresolved))
		s.runMu.Unlock()
		s.metrics.RecordBatch("market_cap")
	}

	s.logger.Info("stage 1 started",
		applogger.Int("universe", len(snap.Symbols)),
		applogger.Int("batches", total),
		applogger.Int("batch_size", settings.BatchSize),
	)

	results, err := batch.Run(ctx, executor, snap.Symbols, func(ctx context.Context, symbol string) (float64, error) {
		if mc, ok := s.memoizedCap(ctx, symbol); ok {
			atomic.AddInt64(&resolved, 1)
			return mc, nil
		}
		mc, err := s.chain.ResolveMarketCap(ctx, symbol)
		if err != nil {
			atomic.AddInt64(&unresolved, 1)
			return 0, err
		}
		atomic.AddInt64(&resolved, 1)
		s.memoizeCap(ctx, symbol, mc)
		return mc, nil
	}, onBatch)
	if err != nil {
		return nil, fmt.Errorf("stage 1 aborted: %w", err)
	}

	ok, failed := batch.Split(results)
	for _, f := range failed {
		var agg *fallback.AggregateError
		if errors.As(f.Err, &agg) {
			s.logger.Warn("symbol unresolved", applogger.String("symbol", f.Symbol), applogger.Error(agg))
		} else {
			s.logger.Warn("symbol unresolved", applogger.String("symbol", f.Symbol), applogger.Error(f.Err))
		}
	}

	if len(ok) < settings.MaxSymbols {
		s.metrics.RecordError("insufficient_candidates")
		return nil, fmt.Errorf("%w: %d resolved, %d required",
			ErrInsufficientCandidates, len(ok), settings.MaxSymbols)
	}

	ranks := rank(ok, settings.CandidateSymbols)
	stage1 := &stage1Result{
		Ranks:        ranks,
		Resolved:     len(ok),
		Unresolved:   len(failed),
		UniverseSize: len(snap.Symbols),
	}

	ttl := time.Duration(settings.CacheDurationDays) * 24 * time.Hour
	if b, err := json.Marshal(stage1); err == nil {
		if err := s.cache.Set(ctx, key, string(b), ttl); err != nil {
			s.logger.Warn("stage 1 memo not cached", applogger.Error(err))
		}
	}
	return stage1, nil
}

// memoizedCap returns a per-symbol market cap resolved within the last
// day, so reranks after a universe refresh skip the network.
func (s *Selector) memoizedCap(ctx context.Context, symbol string) (float64, bool) {
	var raw string
	if err := s.cache.Get(ctx, capKeyPrefix+symbol, &raw); err != nil {
		return 0, false
	}
	mc, err := strconv.ParseFloat(raw, 64)
	if err != nil || mc <= 0 {
		return 0, false
	}
	return mc, true
}

func (s *Selector) memoizeCap(ctx context.Context, symbol string, mc float64) {
	raw := strconv.FormatFloat(mc, 'g', -1, 64)
	if err := s.cache.Set(ctx, capKeyPrefix+symbol, raw, capMemoTTL); err != nil {
		s.logger.Warn("market cap memo not cached",
			applogger.String("symbol", symbol), applogger.Error(err))
	}
}

// stage2 is a pure truncation plus metadata assembly.
func (s *Selector) stage2(stage1 *stage1Result, settings models.FetcherSettings, startedAt time.Time) *models.SelectionResult {
	n := settings.MaxSymbols
	if n > len(stage1.Ranks) {
		n = len(stage1.Ranks)
	}
	symbols := make([]string, n)
	for i := 0; i < n; i++ {
		symbols[i] = stage1.Ranks[i].Symbol
	}
	return &models.SelectionResult{
		Symbols:         symbols,
		Candidates:      stage1.Ranks,
		CandidatesUsed:  len(stage1.Ranks),
		UnresolvedCount: stage1.Unresolved,
		UniverseSize:    stage1.UniverseSize,
		StartedAt:       startedAt,
		Duration:        time.Since(startedAt),
		Settings:        settings,
	}
}

// rank sorts by market cap descending with lexical symbol tie-break,
// assigns dense ranks, and truncates to the candidate pool size.
func rank(ok []batch.Result[float64], candidates int) []models.MarketCapRank {
	sort.Slice(ok, func(i, j int) bool {
		if ok[i].Value != ok[j].Value {
			return ok[i].Value > ok[j].Value
		}
		return ok[i].Symbol < ok[j].Symbol
	})
	if candidates < len(ok) {
		ok = ok[:candidates]
	}
	now := time.Now().UTC()
	ranks := make([]models.MarketCapRank, len(ok))
	for i, r := range ok {
		ranks[i] = models.MarketCapRank{
			Symbol:    r.Symbol,
			MarketCap: r.Value,
			Rank:      i + 1,
			AsOf:      now,
		}
	}
	return ranks
}

// stage1Key deliberately excludes max_symbols so changing the final cut
// reuses the expensive Stage-1 evaluation within the same cache window.
func stage1Key(snap *models.UniverseSnapshot, settings models.FetcherSettings) string {
	seed := fmt.Sprintf("%s|%d", snap.Version(), settings.CandidateSymbols)
	sum := sha256.Sum256([]byte(seed))
	return stage1KeyPrefix + hex.EncodeToString(sum[:8])
}
