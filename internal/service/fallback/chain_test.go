package fallback

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"IndexPull/internal/domain/models"
	"IndexPull/internal/service/source"
)

type nopMetrics struct{}

func (nopMetrics) RecordProviderRequest(string, string, string) {}
func (nopMetrics) RecordFallbackDepth(string, int)              {}
func (nopMetrics) RecordUnresolved(int)                         {}
func (nopMetrics) RecordSelectionDuration(float64)              {}
func (nopMetrics) RecordMarketCap(string, float64)              {}
func (nopMetrics) RecordBatch(string)                           {}
func (nopMetrics) RecordError(string)                           {}

type mockAdapter struct {
	name      string
	caps      source.Capability
	capValue  float64
	capErr    error
	capCalls  int
	reauths   int
	reauthErr error
	// healAfterReauth flips capErr to nil once Reauthenticate succeeds
	healAfterReauth bool
}

func (m *mockAdapter) Name() string                    { return m.name }
func (m *mockAdapter) Capabilities() source.Capability { return m.caps }

func (m *mockAdapter) FetchMarketCap(ctx context.Context, symbol string) (float64, error) {
	m.capCalls++
	if m.capErr != nil {
		return 0, m.capErr
	}
	return m.capValue, nil
}

func (m *mockAdapter) FetchPrices(ctx context.Context, symbol string, start, end time.Time) ([]*models.QuoteRecord, error) {
	return nil, &source.AdapterError{Adapter: m.name, Reason: source.ReasonUnavailable}
}

type mockReauthAdapter struct{ mockAdapter }

func (m *mockReauthAdapter) Reauthenticate(ctx context.Context) error {
	m.reauths++
	if m.reauthErr != nil {
		return m.reauthErr
	}
	if m.healAfterReauth {
		m.capErr = nil
	}
	return nil
}

func authExpired(name string) error {
	return &source.AdapterError{Adapter: name, Reason: source.ReasonAuthExpired, Err: fmt.Errorf("http 401")}
}

func TestChainFirstSuccess(t *testing.T) {
	first := &mockAdapter{name: "a", caps: source.CapMarketCap, capValue: 100}
	second := &mockAdapter{name: "b", caps: source.CapMarketCap, capValue: 200}
	c := New([]source.Adapter{first, second}, nopMetrics{}, nil)

	mc, err := c.ResolveMarketCap(context.Background(), "AAPL")
	if err != nil || mc != 100 {
		t.Fatalf("got %v, %v", mc, err)
	}
	if second.capCalls != 0 {
		t.Fatalf("second adapter called %d times, want 0", second.capCalls)
	}
}

func TestChainSingleReauthRetry(t *testing.T) {
	primary := &mockReauthAdapter{mockAdapter{
		name: "yahoo", caps: source.CapMarketCap, capErr: authExpired("yahoo"),
	}}
	backup := &mockAdapter{name: "alphavantage", caps: source.CapMarketCap, capValue: 42}
	c := New([]source.Adapter{primary, backup}, nopMetrics{}, nil)

	mc, err := c.ResolveMarketCap(context.Background(), "AAPL")
	if err != nil || mc != 42 {
		t.Fatalf("got %v, %v", mc, err)
	}
	if primary.reauths != 1 {
		t.Fatalf("reauths = %d, want exactly 1", primary.reauths)
	}
	if primary.capCalls != 2 {
		t.Fatalf("primary calls = %d, want 2 (original + one retry)", primary.capCalls)
	}
}

func TestChainReauthHeals(t *testing.T) {
	primary := &mockReauthAdapter{mockAdapter{
		name: "yahoo", caps: source.CapMarketCap,
		capErr: authExpired("yahoo"), capValue: 3100, healAfterReauth: true,
	}}
	backup := &mockAdapter{name: "alphavantage", caps: source.CapMarketCap, capValue: 42}
	c := New([]source.Adapter{primary, backup}, nopMetrics{}, nil)

	mc, err := c.ResolveMarketCap(context.Background(), "AAPL")
	if err != nil || mc != 3100 {
		t.Fatalf("got %v, %v", mc, err)
	}
	if backup.capCalls != 0 {
		t.Fatalf("backup called after successful reauth retry")
	}
}

func TestChainNoReauthForNonPrimary(t *testing.T) {
	plain := &mockAdapter{name: "alphavantage", caps: source.CapMarketCap, capErr: authExpired("alphavantage")}
	backup := &mockAdapter{name: "b", caps: source.CapMarketCap, capValue: 7}
	c := New([]source.Adapter{plain, backup}, nopMetrics{}, nil)

	mc, err := c.ResolveMarketCap(context.Background(), "AAPL")
	if err != nil || mc != 7 {
		t.Fatalf("got %v, %v", mc, err)
	}
	if plain.capCalls != 1 {
		t.Fatalf("non-reauth adapter retried: %d calls", plain.capCalls)
	}
}

func TestChainCancellationReturnsContextError(t *testing.T) {
	a := &mockAdapter{name: "a", caps: source.CapMarketCap,
		capErr: &source.AdapterError{Adapter: "a", Reason: source.ReasonTimeout}}
	b := &mockAdapter{name: "b", caps: source.CapMarketCap, capValue: 7}
	c := New([]source.Adapter{a, b}, nopMetrics{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ResolveMarketCap(ctx, "AAPL")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	var agg *AggregateError
	if errors.As(err, &agg) {
		t.Fatalf("cancellation reported as aggregate source failure: %v", err)
	}
	if b.capCalls != 0 {
		t.Fatalf("chain kept walking after cancellation: %d calls", b.capCalls)
	}
}

func TestChainAggregateFailure(t *testing.T) {
	a := &mockAdapter{name: "a", caps: source.CapMarketCap,
		capErr: &source.AdapterError{Adapter: "a", Reason: source.ReasonRateLimited}}
	b := &mockAdapter{name: "b", caps: source.CapMarketCap,
		capErr: &source.AdapterError{Adapter: "b", Reason: source.ReasonNotFound}}
	priceOnly := &mockAdapter{name: "c", caps: source.CapPrices}
	c := New([]source.Adapter{a, b, priceOnly}, nopMetrics{}, nil)

	_, err := c.ResolveMarketCap(context.Background(), "ZZZZ")
	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("expected AggregateError, got %v", err)
	}
	if len(agg.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2 (price-only adapter skipped)", len(agg.Attempts))
	}
	if agg.Attempts[0].Reason != source.ReasonRateLimited || agg.Attempts[1].Reason != source.ReasonNotFound {
		t.Fatalf("unexpected attempts %+v", agg.Attempts)
	}
}
