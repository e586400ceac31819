package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"IndexPull/internal/domain/models"
	"IndexPull/internal/domain/repository"
)

const (
	quoteTable     = "market_data"
	selectionTable = "index_selection"
)

// SchemaStatements returns the idempotent DDL for the quote store.
func SchemaStatements(database string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			date Date,
			symbol LowCardinality(String),
			price Float64,
			market_cap Float64,
			volume Int64,
			source LowCardinality(String)
		) ENGINE = ReplacingMergeTree()
		PARTITION BY toYYYYMM(date)
		ORDER BY (symbol, date)`, database, quoteTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			date Date,
			symbol LowCardinality(String),
			rank UInt16,
			market_cap Float64
		) ENGINE = ReplacingMergeTree()
		PARTITION BY toYYYYMM(date)
		ORDER BY (date, rank)`, database, selectionTable),
	}
}

// ClickHouseQuoteStore implements QuoteStore for ClickHouse.
type ClickHouseQuoteStore struct {
	db       *sql.DB
	database string
}

// NewClickHouseQuoteStore creates ClickHouse quote storage.
func NewClickHouseQuoteStore(db *sql.DB, database string) repository.QuoteStore {
	return &ClickHouseQuoteStore{db: db, database: database}
}

func (s *ClickHouseQuoteStore) Init(ctx context.Context) error {
	for _, stmt := range SchemaStatements(s.database) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// StoreQuotes inserts quote records in chunks of multi-row VALUES to
// reduce round-trips.
func (s *ClickHouseQuoteStore) StoreQuotes(ctx context.Context, quotes []*models.QuoteRecord) error {
	if len(quotes) == 0 {
		return nil
	}
	const chunkSize = 2000
	for start := 0; start < len(quotes); start += chunkSize {
		end := start + chunkSize
		if end > len(quotes) {
			end = len(quotes)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*6)
		for _, q := range quotes[start:end] {
			if q == nil || q.Symbol == "" || q.Date.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?)")
			args = append(args,
				q.Date,
				q.Symbol,
				q.Price,
				q.MarketCap,
				q.Volume,
				q.Source,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s.%s (date, symbol, price, market_cap, volume, source) VALUES %s",
			s.database, quoteTable, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("store quotes: %w", err)
		}
	}
	return nil
}

// StoreSelection records one selection run's ranked membership, dated
// by the run's start day.
func (s *ClickHouseQuoteStore) StoreSelection(ctx context.Context, res *models.SelectionResult) error {
	if res == nil || len(res.Symbols) == 0 {
		return nil
	}
	date := res.StartedAt.UTC().Truncate(24 * time.Hour)

	values := make([]string, 0, len(res.Symbols))
	args := make([]interface{}, 0, len(res.Symbols)*4)
	for i, sym := range res.Symbols {
		var mc float64
		if i < len(res.Candidates) {
			mc = res.Candidates[i].MarketCap
		}
		values = append(values, "(?, ?, ?, ?)")
		args = append(args, date, sym, uint16(i+1), mc)
	}
	q := fmt.Sprintf("INSERT INTO %s.%s (date, symbol, rank, market_cap) VALUES %s",
		s.database, selectionTable, strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("store selection: %w", err)
	}
	return nil
}

// TopCompanies returns the ranked selection for the most recent run on
// or before the given date.
func (s *ClickHouseQuoteStore) TopCompanies(ctx context.Context, date time.Time, limit int) ([]*models.MarketCapRank, error) {
	q := fmt.Sprintf(`SELECT date, symbol, rank, market_cap FROM %s.%s
		WHERE date = (SELECT max(date) FROM %s.%s WHERE date <= ?)
		ORDER BY rank ASC LIMIT ?`,
		s.database, selectionTable, s.database, selectionTable)
	rows, err := s.db.QueryContext(ctx, q, date, limit)
	if err != nil {
		return nil, fmt.Errorf("top companies: %w", err)
	}
	defer rows.Close()

	var ranks []*models.MarketCapRank
	for rows.Next() {
		var r models.MarketCapRank
		var d time.Time
		var rank uint16
		if err := rows.Scan(&d, &r.Symbol, &rank, &r.MarketCap); err != nil {
			return nil, err
		}
		r.Rank = int(rank)
		r.AsOf = d
		ranks = append(ranks, &r)
	}
	return ranks, rows.Err()
}

func (s *ClickHouseQuoteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseQuoteStore) Close() error {
	return nil // Managed by pkg
}
