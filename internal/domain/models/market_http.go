package models

// Requests for fetcher HTTP endpoints. Defined in domain for consistency and reuse.

type SelectionRunRequest struct {
	ForceRefresh bool `query:"force_refresh" json:"force_refresh"`
}

type FetchDataRequest struct {
	StartDate    string `query:"start_date" json:"start_date"`
	EndDate      string `query:"end_date" json:"end_date"`
	ForceRefresh bool   `query:"force_refresh" json:"force_refresh"`
}

type RefreshUniverseRequest struct {
	Force bool `query:"force" json:"force"`
}

type ConfigureFetcherRequest struct {
	CandidateSymbols *int `query:"candidate_symbols" json:"candidate_symbols" validate:"omitempty,gte=1,lte=1000"`
	MaxSymbols       *int `query:"max_symbols" json:"max_symbols" validate:"omitempty,gte=1,lte=500"`
	BatchSize        *int `query:"batch_size" json:"batch_size" validate:"omitempty,gte=1,lte=100"`
	RateLimitDelay   *int `query:"rate_limit_delay" json:"rate_limit_delay" validate:"omitempty,gte=0,lte=300"`
	YahooBatchDelay  *int `query:"yahoo_batch_delay" json:"yahoo_batch_delay" validate:"omitempty,gte=0,lte=300"`
	CacheDuration    *int `query:"cache_duration_days" json:"cache_duration_days" validate:"omitempty,gte=1,lte=90"`
}

type TestSymbolRequest struct {
	Symbol    string `param:"symbol" json:"symbol" validate:"required"`
	StartDate string `query:"start_date" json:"start_date"`
	EndDate   string `query:"end_date" json:"end_date"`
}

type TopCompaniesRequest struct {
	Date  string `query:"date" json:"date"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=500"`
}
