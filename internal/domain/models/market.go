package models

import "time"

// QuoteRecord is one (date, symbol) daily observation.
// Note: no transport (json/http) concerns here.
type QuoteRecord struct {
	Date      time.Time
	Symbol    string
	Price     float64
	Volume    int64
	MarketCap float64 // 0 when unresolved
	Source    string  // adapter that produced the record
}

// UniverseSnapshot is an immutable view of the full symbol universe.
// Superseded, never mutated, on refresh.
type UniverseSnapshot struct {
	Symbols   []string          `json:"symbols"`
	Names     map[string]string `json:"names,omitempty"`
	FetchedAt time.Time         `json:"fetched_at"`
	Source    string            `json:"source"`
}

// Version identifies the snapshot for cache keying.
func (u *UniverseSnapshot) Version() string {
	return u.FetchedAt.UTC().Format(time.RFC3339)
}

// MarketCapRank is a ranked market-cap entry produced by Stage 1.
// Rank is dense 1..N, highest cap first, ties broken by symbol.
type MarketCapRank struct {
	Symbol    string    `json:"symbol"`
	MarketCap float64   `json:"market_cap"`
	Rank      int       `json:"rank"`
	AsOf      time.Time `json:"as_of"`
}

// SelectionResult is the outcome of one two-stage selection run.
// Immutable once returned.
type SelectionResult struct {
	Symbols         []string        `json:"symbols"`
	Candidates      []MarketCapRank `json:"candidates"`
	CandidatesUsed  int             `json:"candidates_used"`
	UnresolvedCount int             `json:"unresolved_count"`
	UniverseSize    int             `json:"universe_size"`
	StartedAt       time.Time       `json:"started_at"`
	Duration        time.Duration   `json:"duration"`
	Settings        FetcherSettings `json:"settings"`
}

// Preview returns the first n selected symbols for status reporting.
func (r *SelectionResult) Preview(n int) []string {
	if n > len(r.Symbols) {
		n = len(r.Symbols)
	}
	return r.Symbols[:n]
}

// FetcherSettings is the process-wide fetcher configuration. A selection
// run captures a copy at start; updates swap a new value, never mutate.
type FetcherSettings struct {
	CandidateSymbols  int           `json:"candidate_symbols"`
	MaxSymbols        int           `json:"max_symbols"`
	BatchSize         int           `json:"batch_size"`
	RateLimitDelay    time.Duration `json:"rate_limit_delay"`
	YahooBatchDelay   time.Duration `json:"yahoo_batch_delay"`
	CacheDurationDays int           `json:"cache_duration_days"`
}

// DefaultFetcherSettings mirrors the service defaults.
func DefaultFetcherSettings() FetcherSettings {
	return FetcherSettings{
		CandidateSymbols:  200,
		MaxSymbols:        100,
		BatchSize:         10,
		RateLimitDelay:    12 * time.Second,
		YahooBatchDelay:   2 * time.Second,
		CacheDurationDays: 7,
	}
}

// SelectionState is the selector run state machine.
type SelectionState string

const (
	StateIdle           SelectionState = "idle"
	StateStage1Running  SelectionState = "stage1_running"
	StateStage1Complete SelectionState = "stage1_complete"
	StateStage2Running  SelectionState = "stage2_running"
	StateDone           SelectionState = "done"
	StateFailed         SelectionState = "failed"
)

// RunProgress reports a running selection for the async endpoint.
type RunProgress struct {
	State           SelectionState `json:"state"`
	BatchesDone     int            `json:"batches_done"`
	BatchesTotal    int            `json:"batches_total"`
	Resolved        int            `json:"resolved"`
	Unresolved      int            `json:"unresolved"`
	StartedAt       time.Time      `json:"started_at,omitempty"`
	Error           string         `json:"error,omitempty"`
	SymbolsPreview  []string       `json:"symbols_preview,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
}

// AdapterOutcome is one adapter's result in a per-symbol diagnostic probe.
type AdapterOutcome struct {
	Adapter   string  `json:"adapter"`
	Field     string  `json:"field"`
	OK        bool    `json:"ok"`
	Reason    string  `json:"reason,omitempty"`
	MarketCap float64 `json:"market_cap,omitempty"`
	Points    int     `json:"points,omitempty"`
	ElapsedMS int64   `json:"elapsed_ms"`
}
