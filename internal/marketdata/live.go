package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tomking/trading/internal/domain"
)

// VIXSource yields the current VIX level and its upstream timestamp.
type VIXSource interface {
	VIX(ctx context.Context) (float64, time.Time, error)
}

// QuoteSource yields the latest known quote per symbol.
type QuoteSource interface {
	Quotes() map[string]domain.Quote
}

// QuoteFetcher pulls quotes on demand, as opposed to the passive stream.
type QuoteFetcher interface {
	Quotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error)
}

// LiveProvider assembles snapshots from a VIX feed and an optional quote
// stream. A failed VIX fetch fails the snapshot outright; the engine must
// fail closed rather than evaluate against a guessed regime. Missing
// quotes are tolerated, they only limit mark quality.
type LiveProvider struct {
	vix     VIXSource
	quotes  QuoteSource
	fetcher QuoteFetcher
	symbols []string
	clock   func() time.Time
}

// NewLive builds a provider; quotes may be nil for a VIX-only setup.
func NewLive(vix VIXSource, quotes QuoteSource) *LiveProvider {
	return &LiveProvider{vix: vix, quotes: quotes, clock: time.Now}
}

// WithQuoteFetcher adds an on-demand source that fills in the symbols
// the stream has not covered yet.
func (p *LiveProvider) WithQuoteFetcher(fetcher QuoteFetcher, symbols []string) *LiveProvider {
	p.fetcher = fetcher
	p.symbols = symbols
	return p
}

// WithClock overrides the time source for tests.
func (p *LiveProvider) WithClock(clock func() time.Time) *LiveProvider {
	p.clock = clock
	return p
}

// Snapshot fetches VIX, merges the latest stream quotes, and backfills
// any configured symbols the stream is missing.
func (p *LiveProvider) Snapshot(ctx context.Context) (*domain.MarketSnapshot, error) {
	vix, asOf, err := p.vix.VIX(ctx)
	if err != nil {
		return nil, err
	}

	snap := &domain.MarketSnapshot{
		Timestamp: p.clock().UTC(),
		VIX:       vix,
		VIXAsOf:   asOf,
		Quotes:    make(map[string]domain.Quote),
	}
	if p.quotes != nil {
		snap.Quotes = p.quotes.Quotes()
	}

	if p.fetcher != nil {
		var missing []string
		for _, sym := range p.symbols {
			if _, ok := snap.Quotes[sym]; !ok {
				missing = append(missing, sym)
			}
		}
		if len(missing) > 0 {
			fetched, err := p.fetcher.Quotes(ctx, missing)
			if err != nil {
				log.Debug().Err(err).Int("symbols", len(missing)).Msg("quote backfill failed")
			}
			for sym, quote := range fetched {
				snap.Quotes[sym] = quote
			}
		}
	}
	return snap, nil
}
