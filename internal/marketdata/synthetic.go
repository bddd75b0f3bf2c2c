package marketdata

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/domain"
)

// SyntheticProvider generates plausible quotes as a pure function of the
// clock. Two snapshots taken at the same instant are identical, which
// keeps paper-trading cycles reproducible. Useful for development and for
// exercising the full pipeline without any upstream feed.
type SyntheticProvider struct {
	anchors map[string]float64
	vixBase float64
	clock   func() time.Time
}

// NewSynthetic builds a provider around per-symbol price anchors. A nil
// map falls back to the default underlyings.
func NewSynthetic(anchors map[string]float64) *SyntheticProvider {
	if anchors == nil {
		anchors = map[string]float64{
			"SPX": 6100, "SPY": 610, "ES": 6120,
			"CL": 74, "MGC": 2650, "TLT": 92,
		}
	}
	return &SyntheticProvider{
		anchors: anchors,
		vixBase: 17.0,
		clock:   time.Now,
	}
}

// WithClock overrides the time source, for tests and replayed cycles.
func (p *SyntheticProvider) WithClock(clock func() time.Time) *SyntheticProvider {
	p.clock = clock
	return p
}

// Snapshot generates the snapshot for the current instant.
func (p *SyntheticProvider) Snapshot(_ context.Context) (*domain.MarketSnapshot, error) {
	now := p.clock().UTC()
	day := float64(now.Unix()) / 86400.0

	// Slow multi-day swell plus an intraday ripple. Stays inside roughly
	// 12..25, crossing LOW, NORMAL, and ELEVATED band boundaries over
	// time so every regime path gets exercised.
	vix := p.vixBase + 4.5*math.Sin(day/3.0) + 1.5*math.Sin(day*24.0)
	if vix < 10 {
		vix = 10
	}

	quotes := make(map[string]domain.Quote, len(p.anchors))
	for sym, anchor := range p.anchors {
		drift := 0.01*math.Sin(day/5.0+anchorPhase(sym)) + 0.003*math.Sin(day*24.0+anchorPhase(sym))
		price := anchor * (1 + drift)
		iv := 0.14 + 0.01*(vix-p.vixBase)
		quotes[sym] = domain.Quote{
			Symbol: sym,
			Price:  decimal.NewFromFloat(price).Round(2),
			IV:     iv,
			IVRank: clamp01((vix - 10) / 25),
			AsOf:   now,
		}
	}

	return &domain.MarketSnapshot{
		Timestamp: now,
		VIX:       math.Round(vix*100) / 100,
		VIXAsOf:   now,
		Quotes:    quotes,
	}, nil
}

// anchorPhase decorrelates the symbols without any stored state.
func anchorPhase(sym string) float64 {
	var h float64
	for _, r := range sym {
		h = h*31 + float64(r)
	}
	return math.Mod(h, 2*math.Pi)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
