package repository

import (
	"context"
	"time"

	"IndexPull/internal/domain/models"
)

// UniverseSource supplies the current symbol universe with freshness
// semantics. Refresh is serialized by the implementation.
type UniverseSource interface {
	Current(ctx context.Context, force bool) (*models.UniverseSnapshot, error)
}

// Publisher hands quote records and selections to a message backend.
type Publisher interface {
	PublishQuotes(ctx context.Context, quotes []*models.QuoteRecord) error
	PublishSelection(ctx context.Context, res *models.SelectionResult) error
	Close() error
}

// QuoteStore persists quote records and selection runs.
type QuoteStore interface {
	Init(ctx context.Context) error // ensure tables
	StoreQuotes(ctx context.Context, quotes []*models.QuoteRecord) error
	StoreSelection(ctx context.Context, res *models.SelectionResult) error
	TopCompanies(ctx context.Context, date time.Time, limit int) ([]*models.MarketCapRank, error)
	Health(ctx context.Context) error
	Close() error
}

// Metrics records fetcher observability signals.
type Metrics interface {
	RecordProviderRequest(provider, field, outcome string)
	RecordFallbackDepth(field string, depth int)
	RecordUnresolved(count int)
	RecordSelectionDuration(seconds float64)
	RecordMarketCap(symbol string, cap float64)
	RecordBatch(op string)
	RecordError(kind string)
}
