package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// SafeRanges is one envelope of methodology bounds. A framework
// configuration whose numbers fall outside the envelope never reaches
// an evaluation cycle.
type SafeRanges struct {
	KellyFactorMin  float64 `yaml:"kelly_factor_min"`
	KellyFactorMax  float64 `yaml:"kelly_factor_max"`
	KellyCapMax     float64 `yaml:"kelly_cap_max"`
	DefensiveDTEMin int     `yaml:"defensive_dte_min"`
	DefensiveDTEMax int     `yaml:"defensive_dte_max"`
	VIXAgeMinSecs   int     `yaml:"vix_age_min_seconds"`
	VIXAgeMaxSecs   int     `yaml:"vix_age_max_seconds"`
	PerTradeRiskMax float64 `yaml:"per_trade_risk_max"`
}

// GuardProfile names one envelope for review tooling.
type GuardProfile struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Ranges      SafeRanges `yaml:"ranges"`
}

// GuardsConfig selects the active review envelope. The file is advisory:
// LoadFramework always enforces the methodology envelope regardless of
// what guards.yaml says, and a profile can tighten that envelope for
// `config validate` but never widen it.
type GuardsConfig struct {
	Active   string                  `yaml:"active_profile"`
	Profiles map[string]GuardProfile `yaml:"profiles"`
}

// MethodologyRanges returns the rule set's own envelope. These bounds
// are part of the methodology, not tuning suggestions.
func MethodologyRanges() SafeRanges {
	return SafeRanges{
		KellyFactorMin:  0.10,
		KellyFactorMax:  0.25,
		KellyCapMax:     0.10,
		DefensiveDTEMin: 14,
		DefensiveDTEMax: 30,
		VIXAgeMinSecs:   60,
		VIXAgeMaxSecs:   3600,
		PerTradeRiskMax: 0.05,
	}
}

// Check returns every way cfg's methodology numbers fall outside the
// envelope. An empty list means the configuration is inside it.
func (r SafeRanges) Check(cfg *FrameworkConfig) []string {
	var problems []string

	if f := cfg.Engine.KellyFactor; f < r.KellyFactorMin || f > r.KellyFactorMax {
		problems = append(problems, fmt.Sprintf("kelly factor %.2f outside [%.2f, %.2f] safe range",
			f, r.KellyFactorMin, r.KellyFactorMax))
	}
	if c := cfg.Engine.KellyAbsoluteCap; c <= 0 || c > r.KellyCapMax {
		problems = append(problems, fmt.Sprintf("kelly absolute cap %.2f outside (0, %.2f] safe range",
			c, r.KellyCapMax))
	}
	if d := cfg.Engine.DefensiveExitDTE; d < r.DefensiveDTEMin || d > r.DefensiveDTEMax {
		problems = append(problems, fmt.Sprintf("defensive exit at %d DTE outside [%d, %d] safe range",
			d, r.DefensiveDTEMin, r.DefensiveDTEMax))
	}
	if v := cfg.Engine.VIXMaxAgeSeconds; v < r.VIXAgeMinSecs || v > r.VIXAgeMaxSecs {
		problems = append(problems, fmt.Sprintf("VIX max age %ds outside [%ds, %ds] range",
			v, r.VIXAgeMinSecs, r.VIXAgeMaxSecs))
	}
	for _, p := range cfg.Phases {
		if p.MaxPerTradeRisk <= 0 || p.MaxPerTradeRisk > r.PerTradeRiskMax {
			problems = append(problems, fmt.Sprintf("phase %d per-trade risk %.3f outside (0, %.2f] safe range",
				p.Number, p.MaxPerTradeRisk, r.PerTradeRiskMax))
		}
	}

	return problems
}

// Warnings returns legal-but-noteworthy departures from the canonical
// settings. None of these block a load.
func (r SafeRanges) Warnings(cfg *FrameworkConfig) []string {
	var notes []string

	if cfg.Engine.KellyFactor != 0.25 {
		notes = append(notes, fmt.Sprintf("kelly factor %.2f departs from the canonical quarter Kelly", cfg.Engine.KellyFactor))
	}
	if cfg.Engine.DefensiveExitDTE != 21 {
		notes = append(notes, fmt.Sprintf("defensive exit at %d DTE departs from the canonical 21", cfg.Engine.DefensiveExitDTE))
	}
	if cfg.Regime.Unknown.MaxBPUsage > 0.30 {
		notes = append(notes, fmt.Sprintf("unknown regime allows %.0f%% BP; the fail-closed baseline is 30%%",
			cfg.Regime.Unknown.MaxBPUsage*100))
	}
	if cfg.Redis.Addr != "" && cfg.Redis.TTLSeconds > 0 && cfg.Redis.TTLSeconds < cfg.Engine.EvaluateEverySecs {
		notes = append(notes, fmt.Sprintf("redis ttl %ds is shorter than the %ds evaluation interval; the shared snapshot will expire between cycles",
			cfg.Redis.TTLSeconds, cfg.Engine.EvaluateEverySecs))
	}
	if len(cfg.Phases) > 0 && cfg.Account.CapitalGBP < cfg.Phases[0].MinCapitalGBP {
		notes = append(notes, fmt.Sprintf("capital £%.0f is below the phase %d floor £%.0f",
			cfg.Account.CapitalGBP, cfg.Phases[0].Number, cfg.Phases[0].MinCapitalGBP))
	}

	return notes
}

// Intersect clamps r inside outer, so a profile from a file can tighten
// the methodology envelope but never widen it. Zero fields are unset
// and defer to the outer envelope.
func (r SafeRanges) Intersect(outer SafeRanges) SafeRanges {
	out := outer
	out.KellyFactorMin = maxFloat(r.KellyFactorMin, outer.KellyFactorMin)
	out.DefensiveDTEMin = maxInt(r.DefensiveDTEMin, outer.DefensiveDTEMin)
	out.VIXAgeMinSecs = maxInt(r.VIXAgeMinSecs, outer.VIXAgeMinSecs)
	if r.KellyFactorMax > 0 {
		out.KellyFactorMax = minFloat(r.KellyFactorMax, outer.KellyFactorMax)
	}
	if r.KellyCapMax > 0 {
		out.KellyCapMax = minFloat(r.KellyCapMax, outer.KellyCapMax)
	}
	if r.DefensiveDTEMax > 0 {
		out.DefensiveDTEMax = minInt(r.DefensiveDTEMax, outer.DefensiveDTEMax)
	}
	if r.VIXAgeMaxSecs > 0 {
		out.VIXAgeMaxSecs = minInt(r.VIXAgeMaxSecs, outer.VIXAgeMaxSecs)
	}
	if r.PerTradeRiskMax > 0 {
		out.PerTradeRiskMax = minFloat(r.PerTradeRiskMax, outer.PerTradeRiskMax)
	}
	return out
}

// ActiveRanges resolves the active profile and clamps it inside the
// methodology envelope.
func (gc *GuardsConfig) ActiveRanges() (SafeRanges, error) {
	if gc.Active == "" {
		return SafeRanges{}, fmt.Errorf("no active guard profile set")
	}
	profile, ok := gc.Profiles[gc.Active]
	if !ok {
		return SafeRanges{}, fmt.Errorf("active guard profile %q not found", gc.Active)
	}
	return profile.Ranges.Intersect(MethodologyRanges()), nil
}

// LoadGuards loads the guard profiles from file.
func LoadGuards(path string) (*GuardsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guards config: %w", err)
	}

	var cfg GuardsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse guards YAML: %w", err)
	}
	return &cfg, nil
}

// SaveGuards writes the guard profiles to file.
func SaveGuards(cfg *GuardsConfig, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal guards config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write guards config: %w", err)
	}
	return nil
}

// DefaultGuards returns the built-in profiles: the methodology envelope
// itself, and a tighter one for accounts still proving the system out.
func DefaultGuards() *GuardsConfig {
	return &GuardsConfig{
		Active: "standard",
		Profiles: map[string]GuardProfile{
			"standard": {
				Name:        "Standard",
				Description: "The methodology envelope as written",
				Ranges:      MethodologyRanges(),
			},
			"conservative": {
				Name:        "Conservative",
				Description: "Tighter sizing and earlier defensive exits for new accounts",
				Ranges: SafeRanges{
					KellyFactorMin:  0.10,
					KellyFactorMax:  0.20,
					KellyCapMax:     0.05,
					DefensiveDTEMin: 21,
					DefensiveDTEMax: 30,
					VIXAgeMinSecs:   60,
					VIXAgeMaxSecs:   900,
					PerTradeRiskMax: 0.03,
				},
			},
		},
	}
}

// GuardsConfigPath is the default location of the guards file.
func GuardsConfigPath() string {
	return filepath.Join("config", "guards.yaml")
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
