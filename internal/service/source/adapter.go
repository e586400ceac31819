package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"IndexPull/internal/domain/models"
)

// FailureReason classifies a single adapter call failure.
type FailureReason string

const (
	ReasonNotFound    FailureReason = "not_found"
	ReasonRateLimited FailureReason = "rate_limited"
	ReasonAuthExpired FailureReason = "auth_expired"
	ReasonMalformed   FailureReason = "malformed"
	ReasonTimeout     FailureReason = "timeout"
	ReasonUnavailable FailureReason = "unavailable"
)

// AdapterError is a typed failure from one adapter call.
type AdapterError struct {
	Adapter string
	Reason  FailureReason
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Adapter, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Adapter, e.Reason)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Capability flags which fetch operations a provider implements.
type Capability uint8

const (
	CapPrices Capability = 1 << iota
	CapMarketCap
)

// Adapter fetches a single symbol's data from one external provider.
// One outbound request path per call; no internal retries. Retry and
// pacing belong to the fallback chain and batch executor.
type Adapter interface {
	Name() string
	Capabilities() Capability
	FetchPrices(ctx context.Context, symbol string, start, end time.Time) ([]*models.QuoteRecord, error)
	FetchMarketCap(ctx context.Context, symbol string) (float64, error)
}

// Reauthenticator is implemented by the primary provider whose session
// token can be refreshed after an auth_expired rejection.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

func failure(adapter string, reason FailureReason, err error) *AdapterError {
	return &AdapterError{Adapter: adapter, Reason: reason, Err: err}
}

// classifyStatus maps an HTTP status to a typed failure, or nil for 2xx.
func classifyStatus(adapter string, status int) *AdapterError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 401 || status == 403:
		return failure(adapter, ReasonAuthExpired, fmt.Errorf("http %d", status))
	case status == 404:
		return failure(adapter, ReasonNotFound, fmt.Errorf("http %d", status))
	case status == 429:
		return failure(adapter, ReasonRateLimited, fmt.Errorf("http %d", status))
	default:
		return failure(adapter, ReasonUnavailable, fmt.Errorf("http %d", status))
	}
}

// classifyTransport maps a transport-level error to a typed failure.
func classifyTransport(adapter string, err error) *AdapterError {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return failure(adapter, ReasonTimeout, err)
	}
	return failure(adapter, ReasonUnavailable, err)
}

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
