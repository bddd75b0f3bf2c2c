// Package phase maps account capital to one of four ordered account phases.
// Each phase unlocks a strategy subset and widens the risk envelope; every
// limit is monotonically non-decreasing from phase 1 to phase 4.
package phase

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Phase is one capital tier with its risk envelope. MaxCapital is exclusive;
// a zero MaxCapital means unbounded (the top phase).
type Phase struct {
	Number          int             `yaml:"number" json:"number"`
	MinCapital      decimal.Decimal `yaml:"min_capital" json:"min_capital"`
	MaxCapital      decimal.Decimal `yaml:"max_capital" json:"max_capital"`
	MaxPositions    int             `yaml:"max_positions" json:"max_positions"`
	MaxPerGroup     int             `yaml:"max_per_group" json:"max_per_group"`
	MaxPerTradeRisk float64         `yaml:"max_per_trade_risk" json:"max_per_trade_risk"`
}

// Unbounded reports whether the phase has no capital ceiling.
func (p Phase) Unbounded() bool {
	return p.MaxCapital.IsZero()
}

// Contains reports whether capital falls inside [MinCapital, MaxCapital).
func (p Phase) Contains(capital decimal.Decimal) bool {
	if capital.LessThan(p.MinCapital) {
		return false
	}
	if p.Unbounded() {
		return true
	}
	return capital.LessThan(p.MaxCapital)
}

// Classification is the result of classifying account capital.
// BelowMinimumCapital flags capital under the phase-1 floor; the account
// still operates under phase-1 limits rather than failing.
type Classification struct {
	Phase               Phase `json:"phase"`
	BelowMinimumCapital bool  `json:"below_minimum_capital"`
}

// Classifier holds the ordered phase table.
type Classifier struct {
	phases []Phase
}

// NewClassifier builds a classifier over an ordered phase table. The table
// must be contiguous and monotonic; configuration loading validates the
// full invariant set, this constructor rejects only structural breakage.
func NewClassifier(phases []Phase) (*Classifier, error) {
	if len(phases) == 0 {
		return nil, fmt.Errorf("phase table is empty")
	}
	sorted := make([]Phase, len(phases))
	copy(sorted, phases)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	for i := range sorted {
		if sorted[i].Number != i+1 {
			return nil, fmt.Errorf("phase numbers must be 1..%d without gaps, got %d at index %d", len(sorted), sorted[i].Number, i)
		}
		if i > 0 {
			prev := sorted[i-1]
			if prev.Unbounded() {
				return nil, fmt.Errorf("phase %d follows an unbounded phase", sorted[i].Number)
			}
			if !prev.MaxCapital.Equal(sorted[i].MinCapital) {
				return nil, fmt.Errorf("phase %d lower bound %s does not meet phase %d upper bound %s",
					sorted[i].Number, sorted[i].MinCapital, prev.Number, prev.MaxCapital)
			}
		}
	}
	if !sorted[len(sorted)-1].Unbounded() {
		return nil, fmt.Errorf("top phase must be unbounded")
	}
	return &Classifier{phases: sorted}, nil
}

// Classify maps capital to its phase. Pure function; capital below the
// phase-1 floor clamps to phase 1 with the warning flag set.
func (c *Classifier) Classify(capital decimal.Decimal) Classification {
	first := c.phases[0]
	if capital.LessThan(first.MinCapital) {
		return Classification{Phase: first, BelowMinimumCapital: true}
	}
	for _, p := range c.phases {
		if p.Contains(capital) {
			return Classification{Phase: p}
		}
	}
	// Unreachable with a valid table; the top phase is unbounded.
	return Classification{Phase: c.phases[len(c.phases)-1]}
}

// Phases returns a copy of the ordered table.
func (c *Classifier) Phases() []Phase {
	out := make([]Phase, len(c.phases))
	copy(out, c.phases)
	return out
}

// DefaultPhases returns the production phase table in GBP.
func DefaultPhases() []Phase {
	return []Phase{
		{Number: 1, MinCapital: decimal.NewFromInt(30000), MaxCapital: decimal.NewFromInt(40000), MaxPositions: 4, MaxPerGroup: 2, MaxPerTradeRisk: 0.05},
		{Number: 2, MinCapital: decimal.NewFromInt(40000), MaxCapital: decimal.NewFromInt(60000), MaxPositions: 7, MaxPerGroup: 2, MaxPerTradeRisk: 0.05},
		{Number: 3, MinCapital: decimal.NewFromInt(60000), MaxCapital: decimal.NewFromInt(75000), MaxPositions: 10, MaxPerGroup: 3, MaxPerTradeRisk: 0.05},
		{Number: 4, MinCapital: decimal.NewFromInt(75000), MaxCapital: decimal.Zero, MaxPositions: 15, MaxPerGroup: 4, MaxPerTradeRisk: 0.05},
	}
}
