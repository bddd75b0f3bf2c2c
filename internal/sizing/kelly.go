// Package sizing converts a strategy's methodology constants into an
// integer contract quantity via fractional Kelly. The Kelly output is an
// allocation fraction of capital; the per-trade risk limit caps the
// estimated max loss independently. Degenerate inputs size to zero, never
// negative.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/phase"
	"github.com/tomking/trading/internal/regime"
)

// RiskModel selects how per-contract risk is derived for a strategy.
type RiskModel string

const (
	// RiskModelDefinedLoss: the structure has a defined max loss per
	// contract; buying power equals that loss.
	RiskModelDefinedLoss RiskModel = "defined_loss"
	// RiskModelMargin: undefined-risk structure; buying power is the margin
	// requirement and risk is the stop-loss estimate.
	RiskModelMargin RiskModel = "margin"
)

// Params are the sizing inputs one strategy contributes. WinRate and
// WinLossRatio are fixed methodology constants, never recomputed from live
// trade history.
type Params struct {
	StrategyID         string
	WinRate            float64
	WinLossRatio       float64
	Model              RiskModel
	PerContractBP      decimal.Decimal
	PerContractRisk    decimal.Decimal
	ContractMultiplier int
}

// Result is one sizing decision. Quantity 0 means "do not trade this
// cycle" and is a valid, non-error outcome.
type Result struct {
	Quantity        int             `json:"quantity"`
	KellyFraction   float64         `json:"kelly_fraction"`
	AppliedFraction float64         `json:"applied_fraction"`
	BPRequired      decimal.Decimal `json:"bp_required"`
	BPFraction      float64         `json:"bp_fraction"`
	EstMaxLoss      decimal.Decimal `json:"est_max_loss"`
	RiskFraction    float64         `json:"risk_fraction"`
	Degenerate      bool            `json:"degenerate"`
	Reason          string          `json:"reason,omitempty"`
}

// Config carries the methodology sizing constants.
type Config struct {
	// KellyFactor scales raw Kelly down; fixed at 0.25 for every strategy.
	KellyFactor float64 `yaml:"kelly_factor"`
	// AbsoluteCap bounds the allocation fraction no matter how favorable
	// the Kelly inputs are.
	AbsoluteCap float64 `yaml:"absolute_cap"`
}

// DefaultConfig returns the production sizing constants.
func DefaultConfig() Config {
	return Config{
		KellyFactor: 0.25, // quarter Kelly, fixed
		AbsoluteCap: 0.10, // never more than 10% of capital in one trade
	}
}

// Sizer computes position sizes.
type Sizer struct {
	config Config
}

// NewSizer builds a sizer; a zero config falls back to defaults.
func NewSizer(config Config) *Sizer {
	if config.KellyFactor == 0 && config.AbsoluteCap == 0 {
		config = DefaultConfig()
	}
	return &Sizer{config: config}
}

// Size computes the recommended quantity for one strategy under the current
// capital, VIX regime, and phase.
//
// Chain: raw Kelly f=(p*b-q)/b, scaled by the fixed factor, clamped to the
// absolute cap, scaled by the regime size multiplier, converted to whole
// contracts by per-contract buying power, then reduced until estimated max
// loss fits the phase per-trade risk limit.
func (s *Sizer) Size(params Params, capital decimal.Decimal, rg regime.VIXRegime, ph phase.Phase) Result {
	if params.WinRate <= 0 || params.WinLossRatio <= 0 {
		return degenerate(fmt.Sprintf("kelly undefined for win rate %.2f, win/loss ratio %.2f",
			params.WinRate, params.WinLossRatio))
	}
	if params.WinRate >= 1 {
		params.WinRate = 1 // q=0, pure upside by assumption; cap still binds
	}
	if capital.Sign() <= 0 {
		return degenerate("no capital")
	}
	if params.PerContractBP.Sign() <= 0 || params.PerContractRisk.Sign() <= 0 {
		return degenerate(fmt.Sprintf("strategy %s has no per-contract risk model", params.StrategyID))
	}

	p := params.WinRate
	q := 1 - p
	b := params.WinLossRatio

	raw := (p*b - q) / b
	if raw <= 0 {
		return Result{
			KellyFraction: raw,
			Degenerate:    true,
			Reason:        fmt.Sprintf("negative kelly %.4f maps to zero, never inverse", raw),
		}
	}

	applied := raw * s.config.KellyFactor
	if applied > s.config.AbsoluteCap {
		applied = s.config.AbsoluteCap
	}
	applied *= rg.SizeMultiplier
	if applied <= 0 {
		return Result{
			KellyFraction: raw,
			Reason:        fmt.Sprintf("regime %s multiplier zeroes allocation", rg.Name),
		}
	}

	targetBP := capital.Mul(decimal.NewFromFloat(applied))
	quantity := int(targetBP.Div(params.PerContractBP).IntPart())
	if quantity <= 0 {
		return Result{
			KellyFraction:   raw,
			AppliedFraction: applied,
			Reason:          "allocation below one contract",
		}
	}

	// The per-trade risk limit is a hard ceiling on estimated max loss,
	// independent of what Kelly allows.
	maxRisk := capital.Mul(decimal.NewFromFloat(ph.MaxPerTradeRisk))
	for quantity > 0 {
		estLoss := params.PerContractRisk.Mul(decimal.NewFromInt(int64(quantity)))
		if estLoss.LessThanOrEqual(maxRisk) {
			break
		}
		quantity--
	}
	if quantity == 0 {
		return Result{
			KellyFraction:   raw,
			AppliedFraction: applied,
			Reason:          fmt.Sprintf("one contract already exceeds the %.0f%% per-trade risk limit", ph.MaxPerTradeRisk*100),
		}
	}

	qty := decimal.NewFromInt(int64(quantity))
	bpRequired := params.PerContractBP.Mul(qty)
	estLoss := params.PerContractRisk.Mul(qty)
	bpFraction, _ := bpRequired.Div(capital).Float64()
	riskFraction, _ := estLoss.Div(capital).Float64()

	return Result{
		Quantity:        quantity,
		KellyFraction:   raw,
		AppliedFraction: applied,
		BPRequired:      bpRequired,
		BPFraction:      bpFraction,
		EstMaxLoss:      estLoss,
		RiskFraction:    riskFraction,
	}
}

// Config returns the active sizing constants.
func (s *Sizer) Config() Config {
	return s.config
}

func degenerate(reason string) Result {
	return Result{Degenerate: true, Reason: reason}
}
