// Package regime classifies the VIX level into one of five ordered
// volatility bands, each carrying a maximum buying-power-usage fraction and
// a position-size multiplier. Stale or missing VIX data fails closed to the
// UNKNOWN sentinel regime, which blocks all new entries.
package regime

import (
	"fmt"
	"math"
	"time"
)

// Level identifies a volatility band.
type Level int

const (
	Low Level = iota
	Normal
	Elevated
	Spike
	Extreme
	// Unknown is the fail-closed sentinel, never part of the band table.
	Unknown
)

func (l Level) String() string {
	switch l {
	case Low:
		return "LOW"
	case Normal:
		return "NORMAL"
	case Elevated:
		return "ELEVATED"
	case Spike:
		return "SPIKE"
	case Extreme:
		return "EXTREME"
	default:
		return "UNKNOWN"
	}
}

// VIXRegime is one volatility band. LowerBound is inclusive, UpperBound
// exclusive; a zero UpperBound marks the top band as unbounded. Exactly one
// band matches any VIX value in [0, inf).
type VIXRegime struct {
	Level             Level   `yaml:"-" json:"level"`
	Name              string  `yaml:"name" json:"name"`
	LowerBound        float64 `yaml:"lower" json:"lower"`
	UpperBound        float64 `yaml:"upper" json:"upper"`
	MaxBPUsage        float64 `yaml:"max_bp_usage" json:"max_bp_usage"`
	SizeMultiplier    float64 `yaml:"size_multiplier" json:"size_multiplier"`
	PutStructuresOnly bool    `yaml:"put_structures_only" json:"put_structures_only"`
	BlocksEntries     bool    `yaml:"-" json:"blocks_entries"`
}

// Unbounded reports whether the band has no upper VIX bound.
func (r VIXRegime) Unbounded() bool {
	return r.UpperBound <= 0
}

// Contains reports whether vix falls inside [LowerBound, UpperBound).
func (r VIXRegime) Contains(vix float64) bool {
	if vix < r.LowerBound {
		return false
	}
	return r.Unbounded() || vix < r.UpperBound
}

// Classifier maps VIX readings to regimes with freshness enforcement.
type Classifier struct {
	bands   []VIXRegime
	unknown VIXRegime
	maxAge  time.Duration
}

// NewClassifier validates that bands totally partition [0, inf) without
// gaps or overlaps and that the unknown sentinel is at least as conservative
// as every real band.
func NewClassifier(bands []VIXRegime, unknown VIXRegime, maxAge time.Duration) (*Classifier, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("regime band table is empty")
	}
	if bands[0].LowerBound != 0 {
		return nil, fmt.Errorf("first regime band must start at 0, got %.2f", bands[0].LowerBound)
	}
	for i := range bands {
		if i > 0 {
			prev := bands[i-1]
			if prev.Unbounded() {
				return nil, fmt.Errorf("band %q follows the unbounded band %q", bands[i].Name, prev.Name)
			}
			if bands[i].LowerBound != prev.UpperBound {
				return nil, fmt.Errorf("band %q starts at %.2f but %q ends at %.2f",
					bands[i].Name, bands[i].LowerBound, prev.Name, prev.UpperBound)
			}
		}
		if !bands[i].Unbounded() && bands[i].UpperBound <= bands[i].LowerBound {
			return nil, fmt.Errorf("band %q has empty range [%.2f, %.2f)", bands[i].Name, bands[i].LowerBound, bands[i].UpperBound)
		}
		if bands[i].MaxBPUsage <= 0 || bands[i].MaxBPUsage > 1 {
			return nil, fmt.Errorf("band %q max BP usage %.2f outside (0, 1]", bands[i].Name, bands[i].MaxBPUsage)
		}
	}
	if !bands[len(bands)-1].Unbounded() {
		return nil, fmt.Errorf("top regime band must be unbounded")
	}
	for _, b := range bands {
		if unknown.MaxBPUsage > b.MaxBPUsage {
			return nil, fmt.Errorf("unknown regime BP limit %.2f is less conservative than band %q (%.2f)",
				unknown.MaxBPUsage, b.Name, b.MaxBPUsage)
		}
	}
	unknown.Level = Unknown
	unknown.BlocksEntries = true
	unknown.SizeMultiplier = 0

	out := make([]VIXRegime, len(bands))
	copy(out, bands)
	return &Classifier{bands: out, unknown: unknown, maxAge: maxAge}, nil
}

// Classify maps a VIX reading to its regime. The reading's age is checked
// against the freshness threshold first: stale, missing, or unusable VIX
// always returns UNKNOWN rather than defaulting to any permissive band.
func (c *Classifier) Classify(vix float64, asOf, now time.Time) VIXRegime {
	if asOf.IsZero() || now.Sub(asOf) > c.maxAge {
		return c.unknown
	}
	if math.IsNaN(vix) || math.IsInf(vix, 0) || vix < 0 {
		return c.unknown
	}
	for _, b := range c.bands {
		if b.Contains(vix) {
			return b
		}
	}
	// Unreachable with a validated table; fail closed anyway.
	return c.unknown
}

// UnknownRegime returns the fail-closed sentinel.
func (c *Classifier) UnknownRegime() VIXRegime {
	return c.unknown
}

// Bands returns a copy of the band table.
func (c *Classifier) Bands() []VIXRegime {
	out := make([]VIXRegime, len(c.bands))
	copy(out, c.bands)
	return out
}

// MaxAge returns the freshness threshold.
func (c *Classifier) MaxAge() time.Duration {
	return c.maxAge
}

// DefaultBands returns the production VIX band table.
func DefaultBands() []VIXRegime {
	return []VIXRegime{
		{Level: Low, Name: "LOW", LowerBound: 0, UpperBound: 13, MaxBPUsage: 0.45, SizeMultiplier: 0.80},      // premium too thin, stay small
		{Level: Normal, Name: "NORMAL", LowerBound: 13, UpperBound: 18, MaxBPUsage: 0.65, SizeMultiplier: 1.00},
		{Level: Elevated, Name: "ELEVATED", LowerBound: 18, UpperBound: 25, MaxBPUsage: 0.75, SizeMultiplier: 1.10},
		{Level: Spike, Name: "SPIKE", LowerBound: 25, UpperBound: 35, MaxBPUsage: 0.50, SizeMultiplier: 0.60}, // defensive posture into the spike
		{Level: Extreme, Name: "EXTREME", LowerBound: 35, UpperBound: 0, MaxBPUsage: 0.80, SizeMultiplier: 0.50, PutStructuresOnly: true},
	}
}

// DefaultUnknown returns the production fail-closed sentinel.
func DefaultUnknown() VIXRegime {
	return VIXRegime{
		Level:         Unknown,
		Name:          "UNKNOWN",
		MaxBPUsage:    0.30,
		BlocksEntries: true,
	}
}

// DefaultMaxAge is the live-mode VIX freshness threshold.
const DefaultMaxAge = 10 * time.Minute
