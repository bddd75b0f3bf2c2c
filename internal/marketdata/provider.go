// Package marketdata assembles the market snapshots the engine evaluates.
// Providers fetch, cache, and replay data; none of them ever fabricates a
// reading. A provider that cannot produce fresh data says so and the
// cycle is skipped, it never serves defaults.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/tomking/trading/internal/domain"
)

// Provider produces the snapshot for one evaluation cycle.
type Provider interface {
	Snapshot(ctx context.Context) (*domain.MarketSnapshot, error)
}

// Freshness holds the staleness budgets applied before a snapshot reaches
// the engine. The engine applies its own VIX budget again when
// classifying; this check just avoids burning a cycle on data that is
// already known dead.
type Freshness struct {
	MaxVIXAge   time.Duration
	MaxQuoteAge time.Duration
}

// DefaultFreshness mirrors the engine's own budgets.
func DefaultFreshness() Freshness {
	return Freshness{
		MaxVIXAge:   10 * time.Minute,
		MaxQuoteAge: 10 * time.Minute,
	}
}

// Check validates a snapshot against the budgets. Failures wrap
// domain.ErrDataUnavailable so callers can skip the cycle on errors.Is.
func (f Freshness) Check(snap *domain.MarketSnapshot, now time.Time) error {
	if snap == nil {
		return fmt.Errorf("%w: no snapshot", domain.ErrDataUnavailable)
	}
	if f.MaxVIXAge > 0 {
		if age := snap.VIXAge(now); age > f.MaxVIXAge {
			return fmt.Errorf("%w: VIX reading is %s old, budget %s", domain.ErrDataUnavailable, roundAge(age), f.MaxVIXAge)
		}
	}
	if f.MaxQuoteAge > 0 {
		for sym := range snap.Quotes {
			if age := snap.QuoteAge(sym, now); age > f.MaxQuoteAge {
				return fmt.Errorf("%w: %s quote is %s old, budget %s", domain.ErrDataUnavailable, sym, roundAge(age), f.MaxQuoteAge)
			}
		}
	}
	return nil
}

func roundAge(age time.Duration) time.Duration {
	if age > 1000*time.Hour {
		return age // effectively "never reported", leave it recognizable
	}
	return age.Round(time.Second)
}
