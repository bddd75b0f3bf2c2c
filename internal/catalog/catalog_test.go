package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/sizing"
)

func TestDefaultCatalogValid(t *testing.T) {
	cat, err := New(Default())
	if err != nil {
		t.Fatalf("default catalog failed validation: %v", err)
	}
	strategies := cat.Strategies()
	if len(strategies) != 7 {
		t.Fatalf("expected 7 strategies, got %d", len(strategies))
	}
	for i, s := range strategies {
		if s.Priority != i {
			t.Errorf("%s: priority = %d, want table position %d", s.ID, s.Priority, i)
		}
	}
}

func TestUnlockedByPhase(t *testing.T) {
	cat, err := New(Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := map[int][]string{
		1: {"ODTE_FRIDAY", "MICRO_STRANGLE"},
		2: {"ODTE_FRIDAY", "MICRO_STRANGLE", "LT112", "FUTURES_STRANGLE"},
		3: {"ODTE_FRIDAY", "MICRO_STRANGLE", "LT112", "FUTURES_STRANGLE", "IPMCC", "BOND_LADDER"},
		4: {"ODTE_FRIDAY", "MICRO_STRANGLE", "LT112", "FUTURES_STRANGLE", "IPMCC", "BOND_LADDER", "PUT_HEDGE"},
	}
	for phase, ids := range want {
		got := cat.UnlockedFor(phase)
		if len(got) != len(ids) {
			t.Errorf("phase %d: %d strategies unlocked, want %d", phase, len(got), len(ids))
			continue
		}
		for i, s := range got {
			if s.ID != ids[i] {
				t.Errorf("phase %d: strategy[%d] = %s, want %s", phase, i, s.ID, ids[i])
			}
		}
	}
}

func TestGet(t *testing.T) {
	cat, err := New(Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s, ok := cat.Get("LT112"); !ok || s.TargetDTE != 112 {
		t.Errorf("Get(LT112) = %+v, %v", s, ok)
	}
	if _, ok := cat.Get("NO_SUCH_STRATEGY"); ok {
		t.Error("Get on unknown id reported found")
	}
}

func TestRejectsBrokenCatalogs(t *testing.T) {
	valid := Default()[0]

	cases := []struct {
		name   string
		mutate func(*Strategy)
		errHas string
	}{
		{"win rate above one", func(s *Strategy) { s.WinRate = 1.2 }, "win rate"},
		{"zero win rate", func(s *Strategy) { s.WinRate = 0 }, "win rate"},
		{"negative win loss ratio", func(s *Strategy) { s.WinLossRatio = -0.5 }, "win/loss"},
		{"zero per-contract BP", func(s *Strategy) { s.PerContractBP = decimal.Zero }, "per-contract"},
		{"unknown risk model", func(s *Strategy) { s.RiskModel = "lottery" }, "risk model"},
		{"unknown group", func(s *Strategy) { s.Group = "CRYPTO" }, "correlation group"},
		{"same-day with far expiry", func(s *Strategy) { s.TargetDTE = 45 }, "same-day"},
		{"inverted window", func(s *Strategy) { s.Window = EntryWindow{Open: 900, Close: 600} }, "entry window"},
		{"ceiling below floor", func(s *Strategy) { s.VIXFloor = 20; s.VIXCeiling = 15 }, "ceiling"},
		{"phase out of range", func(s *Strategy) { s.MinPhase = 5 }, "min phase"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := valid
			tc.mutate(&s)
			if _, err := New([]Strategy{s}); err == nil {
				t.Fatal("broken catalog accepted")
			} else if !strings.Contains(err.Error(), tc.errHas) {
				t.Errorf("error %q does not mention %q", err, tc.errHas)
			}
		})
	}

	t.Run("duplicate id", func(t *testing.T) {
		if _, err := New([]Strategy{valid, valid}); err == nil {
			t.Fatal("duplicate strategy id accepted")
		}
	})
	t.Run("empty catalog", func(t *testing.T) {
		if _, err := New(nil); err == nil {
			t.Fatal("empty catalog accepted")
		}
	})
}

func TestSizingParamsAdapter(t *testing.T) {
	cat, err := New(Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s, _ := cat.Get("ODTE_FRIDAY")
	p := s.SizingParams()
	if p.StrategyID != "ODTE_FRIDAY" || p.WinRate != 0.88 || p.WinLossRatio != 0.50 {
		t.Errorf("params = %+v", p)
	}
	if p.Model != sizing.RiskModelDefinedLoss {
		t.Errorf("model = %s, want defined loss", p.Model)
	}
	if !p.PerContractBP.Equal(p.PerContractRisk) {
		t.Error("defined-loss strategy should risk exactly its BP per contract")
	}
}

func TestEntryWindowContains(t *testing.T) {
	ny := time.FixedZone("EST", -5*3600)
	w := EntryWindow{Days: []time.Weekday{time.Friday}, Open: 10*60 + 30, Close: 14*60 + 30}

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"friday before open", time.Date(2026, 1, 9, 10, 29, 0, 0, ny), false},
		{"friday at open", time.Date(2026, 1, 9, 10, 30, 0, 0, ny), true},
		{"friday midday", time.Date(2026, 1, 9, 12, 0, 0, 0, ny), true},
		{"friday at close", time.Date(2026, 1, 9, 14, 30, 0, 0, ny), true},
		{"friday past close", time.Date(2026, 1, 9, 14, 31, 0, 0, ny), false},
		{"thursday midday", time.Date(2026, 1, 8, 12, 0, 0, 0, ny), false},
		{"utc instant inside window", time.Date(2026, 1, 9, 15, 30, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := w.Contains(tc.at, ny); got != tc.want {
				t.Errorf("Contains(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestEntryWindowNeverAllowsWeekends(t *testing.T) {
	ny := time.FixedZone("EST", -5*3600)
	anyDay := EntryWindow{Open: 0, Close: 24*60 - 1}

	saturday := time.Date(2026, 1, 10, 12, 0, 0, 0, ny)
	sunday := time.Date(2026, 1, 11, 12, 0, 0, 0, ny)
	monday := time.Date(2026, 1, 12, 12, 0, 0, 0, ny)

	if anyDay.Contains(saturday, ny) || anyDay.Contains(sunday, ny) {
		t.Error("weekend admitted by an any-weekday window")
	}
	if !anyDay.Contains(monday, ny) {
		t.Error("weekday rejected by an any-weekday window")
	}
}

func TestParseWindow(t *testing.T) {
	open, close, err := ParseWindow("10:30-14:30")
	if err != nil {
		t.Fatalf("ParseWindow: %v", err)
	}
	if open != 10*60+30 || close != 14*60+30 {
		t.Errorf("parsed %d-%d, want 630-870", open, close)
	}

	for _, bad := range []string{"", "10:30", "14:30-10:30", "10:30-10:30", "25:00-26:00", "10:61-11:00"} {
		if _, _, err := ParseWindow(bad); err == nil {
			t.Errorf("ParseWindow(%q) accepted", bad)
		}
	}
}

func TestParseDays(t *testing.T) {
	days, err := ParseDays([]string{"Mon", "wed", " FRI "})
	if err != nil {
		t.Fatalf("ParseDays: %v", err)
	}
	want := []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	for i, d := range days {
		if d != want[i] {
			t.Errorf("day[%d] = %s, want %s", i, d, want[i])
		}
	}

	if _, err := ParseDays([]string{"Sat"}); err == nil {
		t.Error("ParseDays accepted a weekend")
	}
	if _, err := ParseDays([]string{"Funday"}); err == nil {
		t.Error("ParseDays accepted an unknown day")
	}
}
