package marketdata

import (
	"testing"
	"time"
)

func TestGenerateHistoryReproducible(t *testing.T) {
	cfg := GenerateConfig{Days: 40, Seed: 42}

	a := GenerateHistory(cfg)
	b := GenerateHistory(cfg)

	if len(a) != 40 || len(b) != 40 {
		t.Fatalf("lengths = %d, %d, want 40", len(a), len(b))
	}
	for i := range a {
		if !a[i].Timestamp.Equal(b[i].Timestamp) || a[i].VIX != b[i].VIX {
			t.Fatalf("day %d diverged: %v/%v vs %v/%v",
				i, a[i].Timestamp, a[i].VIX, b[i].Timestamp, b[i].VIX)
		}
		for sym, qa := range a[i].Quotes {
			if qb, ok := b[i].Quotes[sym]; !ok || !qa.Price.Equal(qb.Price) {
				t.Fatalf("day %d symbol %s diverged", i, sym)
			}
		}
	}
}

func TestGenerateHistorySeedMatters(t *testing.T) {
	a := GenerateHistory(GenerateConfig{Days: 20, Seed: 1})
	b := GenerateHistory(GenerateConfig{Days: 20, Seed: 2})

	same := true
	for i := range a {
		if a[i].VIX != b[i].VIX {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical VIX paths")
	}
}

func TestGenerateHistoryTradingDaysOnly(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}

	history := GenerateHistory(GenerateConfig{Days: 30, Seed: 7})
	for i, snap := range history {
		local := snap.Timestamp.In(loc)
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Errorf("day %d falls on %s", i, wd)
		}
		if local.Hour() != 11 || local.Minute() != 0 {
			t.Errorf("day %d stamped %02d:%02d eastern, want 11:00", i, local.Hour(), local.Minute())
		}
		if snap.VIX < 9 || snap.VIX > 90 {
			t.Errorf("day %d VIX %v outside [9, 90]", i, snap.VIX)
		}
		if snap.VIXAsOf.After(snap.Timestamp) {
			t.Errorf("day %d VIX as-of after snapshot time", i)
		}
	}
}

func TestGenerateHistoryTimestampsInsideEntryWindows(t *testing.T) {
	history := GenerateHistory(GenerateConfig{Days: 10, Seed: 3})
	for i := 1; i < len(history); i++ {
		if !history[i].Timestamp.After(history[i-1].Timestamp) {
			t.Fatalf("timestamps not strictly increasing at %d", i)
		}
	}
	if len(history[0].Quotes) == 0 {
		t.Fatal("expected default anchors to produce quotes")
	}
}

func TestGenerateHistoryZeroDays(t *testing.T) {
	if got := GenerateHistory(GenerateConfig{}); got != nil {
		t.Fatalf("zero days should yield nil, got %d snapshots", len(got))
	}
}
