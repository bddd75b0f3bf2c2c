package marketdata

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/domain"
)

// GenerateConfig tunes the synthetic history generator.
type GenerateConfig struct {
	Days     int
	Seed     int64
	Start    time.Time          // zero means the fixed default epoch
	Anchors  map[string]float64 // per-symbol price anchors, nil for defaults
	VIXStart float64            // zero means 16.0
	// SpikeOdds is the per-day probability of a volatility event that
	// jumps VIX into SPIKE or EXTREME territory before mean reversion
	// pulls it back down.
	SpikeOdds float64
}

// defaultEpoch anchors zero-Start runs so a seed alone reproduces a curve.
var defaultEpoch = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

// GenerateHistory produces one snapshot per trading day, timestamped at
// 11:00 eastern so every catalog entry window contains it. The VIX path
// mean-reverts with occasional spike events; prices follow seeded random
// walks. The same config yields byte-identical history.
func GenerateHistory(cfg GenerateConfig) []domain.MarketSnapshot {
	if cfg.Days <= 0 {
		return nil
	}
	if cfg.VIXStart <= 0 {
		cfg.VIXStart = 16.0
	}
	if cfg.SpikeOdds <= 0 {
		cfg.SpikeOdds = 0.02
	}
	if cfg.Anchors == nil {
		cfg.Anchors = map[string]float64{
			"SPX": 6100, "SPY": 610, "ES": 6120,
			"CL": 74, "MGC": 2650, "TLT": 92,
		}
	}
	start := cfg.Start
	if start.IsZero() {
		start = defaultEpoch
	}

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	// Stable iteration order so the walk per symbol is seed-determined.
	symbols := sortedSymbols(cfg.Anchors)
	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		prices[sym] = cfg.Anchors[sym]
	}

	history := make([]domain.MarketSnapshot, 0, cfg.Days)
	vix := cfg.VIXStart
	day := start.In(loc)

	for len(history) < cfg.Days {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			day = day.AddDate(0, 0, 1)
			continue
		}

		prevVIX := vix

		// Mean-reverting daily step with volatility clustering: the
		// shock scale grows with the current level.
		shock := rng.NormFloat64() * (0.8 + vix*0.04)
		vix += 0.12*(16.5-vix) + shock
		if rng.Float64() < cfg.SpikeOdds {
			vix += 8 + rng.Float64()*15
		}
		if vix < 9 {
			vix = 9
		}
		if vix > 90 {
			vix = 90
		}

		stamp := time.Date(day.Year(), day.Month(), day.Day(), 11, 0, 0, 0, loc)
		asOf := stamp.Add(-90 * time.Second)

		quotes := make(map[string]domain.Quote, len(symbols))
		for _, sym := range symbols {
			// Light upward drift, equity-style daily vol, and a beta
			// to VIX changes so spikes mark positions against you.
			ret := 0.0003 + rng.NormFloat64()*0.008 - 0.004*(vix-prevVIX)/10
			prices[sym] *= 1 + ret
			iv := 0.12 + vix*0.004
			quotes[sym] = domain.Quote{
				Symbol: sym,
				Price:  decimal.NewFromFloat(prices[sym]).Round(2),
				IV:     iv,
				IVRank: clamp01((vix - 10) / 25),
				AsOf:   asOf,
			}
		}

		history = append(history, domain.MarketSnapshot{
			Timestamp: stamp.UTC(),
			VIX:       math.Round(vix*100) / 100,
			VIXAsOf:   asOf.UTC(),
			Quotes:    quotes,
		})
		day = day.AddDate(0, 0, 1)
	}

	return history
}

func sortedSymbols(anchors map[string]float64) []string {
	symbols := make([]string, 0, len(anchors))
	for sym := range anchors {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}
