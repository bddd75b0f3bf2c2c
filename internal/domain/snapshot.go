package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the normalized view of one underlying at one instant.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	IV     float64         `json:"iv"`
	IVRank float64         `json:"iv_rank"`
	AsOf   time.Time       `json:"as_of"`
}

// MarketSnapshot is the input for one evaluation cycle. It is assembled by a
// market-data collaborator before the engine runs; the engine itself never
// fetches anything. A zero VIXAsOf means the VIX source never reported and
// must be treated as stale.
type MarketSnapshot struct {
	Timestamp time.Time        `json:"timestamp"`
	VIX       float64          `json:"vix"`
	VIXAsOf   time.Time        `json:"vix_as_of"`
	Quotes    map[string]Quote `json:"quotes"`
}

// Quote returns the quote for symbol, if present.
func (s *MarketSnapshot) Quote(symbol string) (Quote, bool) {
	q, ok := s.Quotes[symbol]
	return q, ok
}

// VIXAge reports how old the VIX reading is relative to now. A snapshot with
// no VIX timestamp reports an arbitrarily large age so it always fails
// freshness checks.
func (s *MarketSnapshot) VIXAge(now time.Time) time.Duration {
	if s.VIXAsOf.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(s.VIXAsOf)
}

// QuoteAge reports the age of one symbol's quote, or a maximal age when the
// symbol is absent.
func (s *MarketSnapshot) QuoteAge(symbol string, now time.Time) time.Duration {
	q, ok := s.Quotes[symbol]
	if !ok || q.AsOf.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(q.AsOf)
}
