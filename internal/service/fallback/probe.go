package fallback

import (
	"context"
	"time"

	"IndexPull/internal/domain/models"
	"IndexPull/internal/service/source"
)

// Probe runs every adapter against one symbol for each field it
// supports and reports the per-adapter breakdown. Used for operational
// troubleshooting without running a full selection; no fallback
// short-circuiting and no pacing.
func (c *Chain) Probe(ctx context.Context, symbol string, start, end time.Time) []models.AdapterOutcome {
	var outcomes []models.AdapterOutcome
	for _, a := range c.adapters {
		if a.Capabilities()&source.CapMarketCap != 0 {
			began := time.Now()
			mc, err := a.FetchMarketCap(ctx, symbol)
			outcomes = append(outcomes, probeOutcome(a.Name(), string(FieldMarketCap), began, err, mc, 0))
		}
		if a.Capabilities()&source.CapPrices != 0 {
			began := time.Now()
			records, err := a.FetchPrices(ctx, symbol, start, end)
			outcomes = append(outcomes, probeOutcome(a.Name(), string(FieldPrices), began, err, 0, len(records)))
		}
	}
	return outcomes
}

func probeOutcome(adapter, field string, began time.Time, err error, mc float64, points int) models.AdapterOutcome {
	out := models.AdapterOutcome{
		Adapter:   adapter,
		Field:     field,
		ElapsedMS: time.Since(began).Milliseconds(),
	}
	if err != nil {
		out.Reason = reasonOf(err)
		return out
	}
	out.OK = true
	out.MarketCap = mc
	out.Points = points
	return out
}
