// Package backtest replays a recorded quote history through the decision
// engine and books the resulting signals against a simulated account. The
// point is to exercise the rules (entry gates, sizing, defensive exits)
// over realistic regime transitions, not to price options: position marks
// come from a deliberately simple credit model documented on CreditModel.
package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/catalog"
	"github.com/tomking/trading/internal/domain"
)

// CreditModel marks short-premium positions without an options chain.
//
// Entry credit is a fixed fraction of the per-contract risk. The mark then
// follows two forces: time decay, linear in remaining DTE, and a VIX
// shock term that inflates the credit when volatility rises above the
// entry-day level. The model is monotone and has no noise, so runs are
// exactly reproducible.
type CreditModel struct {
	// CreditPerRisk sets entry credit as a fraction of per-contract risk.
	CreditPerRisk float64 `yaml:"credit_per_risk"`
	// ShockBeta scales how hard a VIX rise inflates open credit.
	ShockBeta float64 `yaml:"shock_beta"`
}

// DefaultCreditModel returns the standard model constants.
func DefaultCreditModel() CreditModel {
	return CreditModel{
		CreditPerRisk: 0.25, // collect 1 unit of credit per 4 at risk
		ShockBeta:     3.0,  // a 33% VIX rise doubles the open credit
	}
}

// EntryCredit computes the per-contract credit collected at open.
func (m CreditModel) EntryCredit(strat catalog.Strategy) decimal.Decimal {
	return strat.PerContractRisk.Mul(decimal.NewFromFloat(m.CreditPerRisk)).Round(2)
}

// Mark computes the current per-contract credit of an open position.
// entryVIX is the VIX level when the position was opened.
func (m CreditModel) Mark(pos domain.OpenPosition, strat catalog.Strategy, vix, entryVIX float64, now time.Time) decimal.Decimal {
	total := strat.TargetDTE
	remaining := pos.DTE(now)
	remFrac := 1.0
	if total > 0 {
		remFrac = float64(remaining) / float64(total)
		if remFrac > 1 {
			remFrac = 1
		}
	} else if !pos.Expiry.After(now) {
		remFrac = 0
	}

	shock := 0.0
	if entryVIX > 0 && vix > entryVIX {
		shock = m.ShockBeta * (vix - entryVIX) / entryVIX
	}

	mark := pos.EntryCredit.Mul(decimal.NewFromFloat(remFrac + shock))
	if mark.Sign() < 0 {
		return decimal.Zero
	}
	return mark.Round(2)
}
