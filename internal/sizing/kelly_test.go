package sizing

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/phase"
	"github.com/tomking/trading/internal/regime"
)

func testParams() Params {
	return Params{
		StrategyID:         "ODTE_FRIDAY",
		WinRate:            0.88,
		WinLossRatio:       0.50,
		Model:              RiskModelDefinedLoss,
		PerContractBP:      decimal.NewFromInt(1200),
		PerContractRisk:    decimal.NewFromInt(800),
		ContractMultiplier: 100,
	}
}

func normalRegime() regime.VIXRegime {
	return regime.DefaultBands()[1] // NORMAL, multiplier 1.0
}

func phaseOne() phase.Phase {
	return phase.DefaultPhases()[0]
}

func TestKellyScenarioCapsAtTenPercent(t *testing.T) {
	s := NewSizer(DefaultConfig())

	// p=0.88, b=0.5: raw kelly (0.88*0.5-0.12)/0.5 = 0.64, quarter kelly
	// 0.16, clamped to the absolute cap.
	res := s.Size(testParams(), decimal.NewFromInt(35000), normalRegime(), phaseOne())

	if math.Abs(res.KellyFraction-0.64) > 1e-9 {
		t.Errorf("raw kelly = %.4f, want 0.64", res.KellyFraction)
	}
	if math.Abs(res.AppliedFraction-0.10) > 1e-9 {
		t.Errorf("applied fraction = %.4f, want the 0.10 cap, not 0.16", res.AppliedFraction)
	}
	if res.Quantity <= 0 {
		t.Fatalf("expected a positive quantity, got %d (%s)", res.Quantity, res.Reason)
	}
}

func TestRiskNeverExceedsCapsForAnyInputs(t *testing.T) {
	s := NewSizer(DefaultConfig())
	capital := decimal.NewFromInt(50000)
	ph := phase.DefaultPhases()[1]

	regimes := []regime.VIXRegime{
		regime.DefaultBands()[0], // LOW 0.80x
		regime.DefaultBands()[1], // NORMAL 1.00x
		regime.DefaultBands()[2], // ELEVATED 1.10x
	}

	for p := 0.05; p <= 1.0; p += 0.05 {
		for b := 0.1; b <= 3.0; b += 0.1 {
			for _, rg := range regimes {
				params := testParams()
				params.WinRate = p
				params.WinLossRatio = b

				res := s.Size(params, capital, rg, ph)

				if res.Quantity < 0 {
					t.Fatalf("negative quantity %d for p=%.2f b=%.2f", res.Quantity, p, b)
				}
				if res.RiskFraction > ph.MaxPerTradeRisk+1e-9 {
					t.Fatalf("risk fraction %.4f exceeds per-trade limit %.2f for p=%.2f b=%.2f",
						res.RiskFraction, ph.MaxPerTradeRisk, p, b)
				}
				if res.RiskFraction > s.Config().AbsoluteCap+1e-9 {
					t.Fatalf("risk fraction %.4f exceeds absolute cap for p=%.2f b=%.2f",
						res.RiskFraction, p, b)
				}
			}
		}
	}
}

func TestDegenerateKellyReturnsZeroNeverNegative(t *testing.T) {
	s := NewSizer(DefaultConfig())
	capital := decimal.NewFromInt(40000)

	tests := []struct {
		name string
		p    float64
		b    float64
	}{
		{"zero win rate", 0, 0.5},
		{"negative win rate", -0.2, 0.5},
		{"zero ratio", 0.8, 0},
		{"negative ratio", 0.8, -1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams()
			params.WinRate = tt.p
			params.WinLossRatio = tt.b

			res := s.Size(params, capital, normalRegime(), phaseOne())
			if res.Quantity != 0 {
				t.Errorf("quantity = %d, want 0", res.Quantity)
			}
			if !res.Degenerate {
				t.Error("expected degenerate flag")
			}
		})
	}
}

func TestNegativeKellyMapsToZeroNotInverse(t *testing.T) {
	s := NewSizer(DefaultConfig())
	params := testParams()
	params.WinRate = 0.30
	params.WinLossRatio = 0.50 // raw kelly (0.15-0.70)/0.5 = -1.1

	res := s.Size(params, decimal.NewFromInt(40000), normalRegime(), phaseOne())
	if res.Quantity != 0 {
		t.Errorf("quantity = %d, want 0 for negative kelly", res.Quantity)
	}
	if res.KellyFraction >= 0 {
		t.Errorf("raw kelly = %.4f, want negative", res.KellyFraction)
	}
}

func TestPerTradeRiskLimitReducesQuantity(t *testing.T) {
	s := NewSizer(DefaultConfig())
	capital := decimal.NewFromInt(35000) // 5% limit: 1750

	params := testParams()
	params.PerContractBP = decimal.NewFromInt(500) // allocation alone would allow 7
	params.PerContractRisk = decimal.NewFromInt(800)

	res := s.Size(params, capital, normalRegime(), phaseOne())
	if res.Quantity != 2 {
		t.Errorf("quantity = %d, want 2 (risk limit 1750 / 800 per contract)", res.Quantity)
	}
	if !res.EstMaxLoss.Equal(decimal.NewFromInt(1600)) {
		t.Errorf("est max loss = %s, want 1600", res.EstMaxLoss)
	}
}

func TestUnknownRegimeZeroesSizing(t *testing.T) {
	s := NewSizer(DefaultConfig())
	res := s.Size(testParams(), decimal.NewFromInt(50000), regime.DefaultUnknown(), phaseOne())
	if res.Quantity != 0 {
		t.Errorf("quantity = %d, want 0 under UNKNOWN regime", res.Quantity)
	}
}

func TestOversizedContractSizesToZero(t *testing.T) {
	s := NewSizer(DefaultConfig())
	params := testParams()
	params.PerContractBP = decimal.NewFromInt(2000)
	params.PerContractRisk = decimal.NewFromInt(9000) // one contract over the 5% limit

	res := s.Size(params, decimal.NewFromInt(35000), normalRegime(), phaseOne())
	if res.Quantity != 0 {
		t.Errorf("quantity = %d, want 0 when one contract breaches the risk limit", res.Quantity)
	}
}

func TestMissingRiskModelIsDegenerate(t *testing.T) {
	s := NewSizer(DefaultConfig())
	params := testParams()
	params.PerContractBP = decimal.Zero

	res := s.Size(params, decimal.NewFromInt(35000), normalRegime(), phaseOne())
	if res.Quantity != 0 || !res.Degenerate {
		t.Errorf("expected degenerate zero sizing, got qty=%d degenerate=%v", res.Quantity, res.Degenerate)
	}
}
