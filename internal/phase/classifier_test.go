package phase

import (
	"testing"

	"github.com/shopspring/decimal"
)

func mustClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(DefaultPhases())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}
	return c
}

func TestClassifyCapitalBands(t *testing.T) {
	c := mustClassifier(t)

	tests := []struct {
		name    string
		capital int64
		want    int
	}{
		{"phase 1 floor", 30000, 1},
		{"phase 1 interior", 35000, 1},
		{"phase 2 boundary is exclusive above", 40000, 2},
		{"phase 2 interior", 55000, 2},
		{"phase 3 boundary", 60000, 3},
		{"phase 3 interior", 74999, 3},
		{"phase 4 boundary", 75000, 4},
		{"phase 4 large account", 2500000, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(decimal.NewFromInt(tt.capital))
			if got.Phase.Number != tt.want {
				t.Errorf("Classify(%d) = phase %d, want %d", tt.capital, got.Phase.Number, tt.want)
			}
			if got.BelowMinimumCapital {
				t.Errorf("Classify(%d) flagged below-minimum for in-band capital", tt.capital)
			}
		})
	}
}

func TestClassifyBelowMinimumClampsToPhaseOne(t *testing.T) {
	c := mustClassifier(t)

	got := c.Classify(decimal.NewFromInt(22000))
	if got.Phase.Number != 1 {
		t.Errorf("expected clamp to phase 1, got phase %d", got.Phase.Number)
	}
	if !got.BelowMinimumCapital {
		t.Error("expected BelowMinimumCapital flag for capital under the phase-1 floor")
	}
}

func TestPhaseLimitsAreMonotonic(t *testing.T) {
	phases := DefaultPhases()
	for i := 1; i < len(phases); i++ {
		prev, cur := phases[i-1], phases[i]
		if cur.MaxPositions < prev.MaxPositions {
			t.Errorf("phase %d MaxPositions %d < phase %d MaxPositions %d", cur.Number, cur.MaxPositions, prev.Number, prev.MaxPositions)
		}
		if cur.MaxPerGroup < prev.MaxPerGroup {
			t.Errorf("phase %d MaxPerGroup %d < phase %d MaxPerGroup %d", cur.Number, cur.MaxPerGroup, prev.Number, prev.MaxPerGroup)
		}
		if cur.MaxPerTradeRisk < prev.MaxPerTradeRisk {
			t.Errorf("phase %d MaxPerTradeRisk %v < phase %d MaxPerTradeRisk %v", cur.Number, cur.MaxPerTradeRisk, prev.Number, prev.MaxPerTradeRisk)
		}
	}
}

func TestNewClassifierRejectsBrokenTables(t *testing.T) {
	t.Run("gapped capital bands", func(t *testing.T) {
		phases := DefaultPhases()
		phases[1].MinCapital = decimal.NewFromInt(45000)
		if _, err := NewClassifier(phases); err == nil {
			t.Error("expected error for gapped bands")
		}
	})

	t.Run("bounded top phase", func(t *testing.T) {
		phases := DefaultPhases()
		phases[3].MaxCapital = decimal.NewFromInt(100000)
		if _, err := NewClassifier(phases); err == nil {
			t.Error("expected error for bounded top phase")
		}
	})

	t.Run("duplicate phase number", func(t *testing.T) {
		phases := DefaultPhases()
		phases[2].Number = 2
		if _, err := NewClassifier(phases); err == nil {
			t.Error("expected error for duplicate phase numbers")
		}
	})

	t.Run("empty table", func(t *testing.T) {
		if _, err := NewClassifier(nil); err == nil {
			t.Error("expected error for empty table")
		}
	})
}
