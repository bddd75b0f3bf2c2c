package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tomking/trading/internal/catalog"
	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/phase"
	"github.com/tomking/trading/internal/regime"
)

func TestDefaultFrameworkValid(t *testing.T) {
	cfg := DefaultFramework()
	if problems := cfg.Validate(); len(problems) > 0 {
		t.Fatalf("default framework config invalid: %v", problems)
	}
	if _, err := phase.NewClassifier(cfg.PhaseTable()); err != nil {
		t.Errorf("default phase table rejected: %v", err)
	}
	bands, unknown := cfg.RegimeBands()
	if _, err := regime.NewClassifier(bands, unknown, cfg.VIXMaxAge()); err != nil {
		t.Errorf("default regime table rejected: %v", err)
	}
	sc := cfg.SizingConfig()
	if sc.KellyFactor != 0.25 || sc.AbsoluteCap != 0.10 {
		t.Errorf("sizing config = %+v, want quarter Kelly with 10%% cap", sc)
	}
}

func TestLoadFrameworkMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framework.yaml")
	body := `
account:
  capital_gbp: 52000
engine:
  kelly_factor: 0.20
  kelly_absolute_cap: 0.10
  defensive_exit_dte: 21
  vix_max_age_seconds: 600
  evaluate_every_seconds: 300
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFramework(path)
	if err != nil {
		t.Fatalf("LoadFramework: %v", err)
	}
	if cfg.Account.CapitalGBP != 52000 {
		t.Errorf("capital = %.0f, want 52000", cfg.Account.CapitalGBP)
	}
	if cfg.Engine.KellyFactor != 0.20 {
		t.Errorf("kelly factor = %.2f, want file value 0.20", cfg.Engine.KellyFactor)
	}
	// Sections absent from the file keep their defaults.
	if len(cfg.Phases) != 4 || len(cfg.Regime.Bands) != 5 {
		t.Errorf("defaults not merged: %d phases, %d bands", len(cfg.Phases), len(cfg.Regime.Bands))
	}
}

func TestLoadFrameworkRejectsUnsafeMethodology(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		errHas string
	}{
		{"kelly factor too aggressive", "engine:\n  kelly_factor: 0.50\n", "kelly factor"},
		{"absolute cap above ten percent", "engine:\n  kelly_absolute_cap: 0.20\n", "absolute cap"},
		{"defensive exit too late", "engine:\n  defensive_exit_dte: 5\n", "defensive exit"},
		{"defensive exit beyond range", "engine:\n  defensive_exit_dte: 45\n", "defensive exit"},
		{"vix staleness window too long", "engine:\n  vix_max_age_seconds: 7200\n", "VIX max age"},
		{"unknown data source", "market_data:\n  source: telepathy\n", "market data source"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "framework.yaml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadFramework(path)
			if err == nil {
				t.Fatal("unsafe configuration accepted")
			}
			if !domain.IsConfigurationInvalid(err) {
				t.Errorf("error %q is not a configuration error", err)
			}
			if !strings.Contains(err.Error(), tc.errHas) {
				t.Errorf("error %q does not mention %q", err, tc.errHas)
			}
		})
	}
}

func TestLoadFrameworkMissingFile(t *testing.T) {
	if _, err := LoadFramework(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing config file accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TK_CAPITAL_GBP", "61000")
	t.Setenv("TK_REDIS_ADDR", "redis:6379")
	t.Setenv("TK_DATA_SOURCE", "csv")
	t.Setenv("TK_CSV_PATH", "testdata/quotes.csv")

	cfg := DefaultFramework()
	cfg.applyEnvOverrides()

	if cfg.Account.CapitalGBP != 61000 {
		t.Errorf("capital = %.0f, want env override 61000", cfg.Account.CapitalGBP)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.MarketData.Source != "csv" || cfg.MarketData.CSVPath != "testdata/quotes.csv" {
		t.Errorf("market data = %+v", cfg.MarketData)
	}
}

func TestStrategiesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	seed := FromCatalog(catalog.Default())
	if err := SaveStrategies(seed, path); err != nil {
		t.Fatalf("SaveStrategies: %v", err)
	}

	loaded, err := LoadStrategies(path)
	if err != nil {
		t.Fatalf("LoadStrategies: %v", err)
	}
	cat, err := loaded.ToCatalog()
	if err != nil {
		t.Fatalf("ToCatalog: %v", err)
	}
	if got := len(cat.Strategies()); got != 7 {
		t.Fatalf("round trip produced %d strategies, want 7", got)
	}

	lt112, ok := cat.Get("LT112")
	if !ok || lt112.TargetDTE != 112 {
		t.Errorf("LT112 = %+v, %v", lt112, ok)
	}
	odte, _ := cat.Get("ODTE_FRIDAY")
	if odte.Window.Open != 10*60+30 || odte.Window.Close != 14*60+30 {
		t.Errorf("window survived as %s", odte.Window)
	}
	if !odte.SameDayExpiry || odte.TimeStopMinute != 15*60+30 {
		t.Errorf("same-day settings survived as expiry=%v stop=%d", odte.SameDayExpiry, odte.TimeStopMinute)
	}
}

func TestStrategiesRejectBadRows(t *testing.T) {
	valid := FromCatalog(catalog.Default()).Strategies[0]

	cases := []struct {
		name   string
		mutate func(*StrategyConfig)
	}{
		{"weekend entry day", func(s *StrategyConfig) { s.Days = []string{"Sat"} }},
		{"malformed window", func(s *StrategyConfig) { s.Window = "open-close" }},
		{"malformed time stop", func(s *StrategyConfig) { s.TimeStop = "half past three" }},
		{"unknown group", func(s *StrategyConfig) { s.Group = "MEME_STOCKS" }},
		{"unknown risk model", func(s *StrategyConfig) { s.RiskModel = "yolo" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			row := valid
			tc.mutate(&row)
			cfg := &StrategiesConfig{Strategies: []StrategyConfig{row}}
			if _, err := cfg.ToCatalog(); err == nil {
				t.Fatal("broken strategy row accepted")
			}
		})
	}
}
