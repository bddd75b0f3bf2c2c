// Package config loads and validates the framework configuration files.
// Numbers that encode the trading methodology (Kelly factor, defensive
// exit DTE, regime bands, phase tables) are validated against safe ranges
// at load time; a configuration outside those ranges never reaches an
// evaluation cycle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/phase"
	"github.com/tomking/trading/internal/regime"
	"github.com/tomking/trading/internal/sizing"
)

// FrameworkConfig is the top-level application configuration.
type FrameworkConfig struct {
	Account     AccountConfig     `yaml:"account"`
	Engine      EngineConfig      `yaml:"engine"`
	Phases      []PhaseConfig     `yaml:"phases"`
	Regime      RegimeConfig      `yaml:"regime"`
	MarketData  MarketDataConfig  `yaml:"market_data"`
	HTTP        HTTPConfig        `yaml:"http"`
	Redis       RedisConfig       `yaml:"redis"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// AccountConfig describes the trading account.
type AccountConfig struct {
	CapitalGBP float64 `yaml:"capital_gbp"`
}

// EngineConfig holds the cycle-level rule parameters.
type EngineConfig struct {
	KellyFactor       float64 `yaml:"kelly_factor"`       // fraction of full Kelly
	KellyAbsoluteCap  float64 `yaml:"kelly_absolute_cap"` // hard allocation ceiling
	DefensiveExitDTE  int     `yaml:"defensive_exit_dte"`
	VIXMaxAgeSeconds  int     `yaml:"vix_max_age_seconds"`
	EvaluateEverySecs int     `yaml:"evaluate_every_seconds"`
}

// PhaseConfig is one account phase row in YAML form.
type PhaseConfig struct {
	Number          int     `yaml:"number"`
	MinCapitalGBP   float64 `yaml:"min_capital_gbp"`
	MaxCapitalGBP   float64 `yaml:"max_capital_gbp"` // 0 = unbounded
	MaxPositions    int     `yaml:"max_positions"`
	MaxPerGroup     int     `yaml:"max_per_group"`
	MaxPerTradeRisk float64 `yaml:"max_per_trade_risk"`
}

// RegimeConfig holds the VIX band table and the fail-closed sentinel.
type RegimeConfig struct {
	Bands   []BandConfig `yaml:"bands"`
	Unknown BandConfig   `yaml:"unknown"`
}

// BandConfig is one VIX band row in YAML form.
type BandConfig struct {
	Name              string  `yaml:"name"`
	Lower             float64 `yaml:"lower"`
	Upper             float64 `yaml:"upper"` // 0 = unbounded
	MaxBPUsage        float64 `yaml:"max_bp_usage"`
	SizeMultiplier    float64 `yaml:"size_multiplier"`
	PutStructuresOnly bool    `yaml:"put_structures_only"`
}

// MarketDataConfig selects and tunes the snapshot source.
type MarketDataConfig struct {
	Source  string       `yaml:"source"` // csv, synthetic or cboe
	CSVPath string       `yaml:"csv_path"`
	CBOE    CBOEConfig   `yaml:"cboe"`
	Stream  StreamConfig `yaml:"stream"`
}

// CBOEConfig tunes the live VIX/quote fetcher.
type CBOEConfig struct {
	BaseURL   string  `yaml:"base_url"`
	RPS       float64 `yaml:"rps"`
	Burst     int     `yaml:"burst"`
	TimeoutMS int     `yaml:"timeout_ms"`
}

// StreamConfig tunes the websocket quote stream.
type StreamConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// HTTPConfig tunes the monitoring server.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// RedisConfig tunes the snapshot cache.
type RedisConfig struct {
	Addr       string `yaml:"addr"` // empty disables redis, in-memory cache only
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// PersistenceConfig holds file-sink locations. Postgres has its own
// configuration under infrastructure/db.
type PersistenceConfig struct {
	SignalsDir string `yaml:"signals_dir"`
}

// LoadFramework reads, env-overrides, and validates the framework
// configuration. Any validation failure is fatal; the caller must not
// continue with a partially valid configuration.
func LoadFramework(path string) (*FrameworkConfig, error) {
	cfg, problems, err := InspectFramework(path)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, domain.ConfigurationInvalid(strings.Join(problems, "; "))
	}
	return cfg, nil
}

// InspectFramework parses and env-overrides the file, returning the
// configuration alongside its validation problems instead of failing on
// them. Review tooling uses this; everything else goes through
// LoadFramework.
func InspectFramework(path string) (*FrameworkConfig, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read framework config: %w", err)
	}

	cfg := DefaultFramework()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse framework config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, cfg.Validate(), nil
}

// SaveFramework writes the configuration to file, used to seed a fresh
// config directory.
func SaveFramework(cfg *FrameworkConfig, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal framework config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write framework config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets the environment override per-run settings
// without editing the YAML file.
func (c *FrameworkConfig) applyEnvOverrides() {
	if v := os.Getenv("TK_CAPITAL_GBP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Account.CapitalGBP = f
		}
	}
	if v := os.Getenv("TK_HTTP_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}
	if v := os.Getenv("TK_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("TK_DATA_SOURCE"); v != "" {
		c.MarketData.Source = v
	}
	if v := os.Getenv("TK_CSV_PATH"); v != "" {
		c.MarketData.CSVPath = v
	}
	if v := os.Getenv("TK_SIGNALS_DIR"); v != "" {
		c.Persistence.SignalsDir = v
	}
}

// Validate runs structural and methodology checks. The returned list is
// empty for a usable configuration.
func (c *FrameworkConfig) Validate() []string {
	var problems []string

	if c.Account.CapitalGBP <= 0 {
		problems = append(problems, fmt.Sprintf("account capital £%.2f must be positive", c.Account.CapitalGBP))
	}

	problems = append(problems, MethodologyRanges().Check(c)...)

	if c.Engine.EvaluateEverySecs <= 0 {
		problems = append(problems, "evaluation interval must be positive")
	}

	// Structural checks delegate to the table constructors so the rules
	// live in one place.
	if _, err := phase.NewClassifier(c.PhaseTable()); err != nil {
		problems = append(problems, err.Error())
	}
	bands, unknown := c.RegimeBands()
	if _, err := regime.NewClassifier(bands, unknown, c.VIXMaxAge()); err != nil {
		problems = append(problems, err.Error())
	}

	switch c.MarketData.Source {
	case "csv":
		if c.MarketData.CSVPath == "" {
			problems = append(problems, "csv source selected but csv_path is empty")
		}
	case "synthetic", "cboe":
	default:
		problems = append(problems, fmt.Sprintf("unknown market data source %q", c.MarketData.Source))
	}

	return problems
}

// Capital returns account capital as a decimal.
func (c *FrameworkConfig) Capital() decimal.Decimal {
	return decimal.NewFromFloat(c.Account.CapitalGBP)
}

// PhaseTable converts the YAML phase rows to the domain table.
func (c *FrameworkConfig) PhaseTable() []phase.Phase {
	out := make([]phase.Phase, len(c.Phases))
	for i, p := range c.Phases {
		out[i] = phase.Phase{
			Number:          p.Number,
			MinCapital:      decimal.NewFromFloat(p.MinCapitalGBP),
			MaxCapital:      decimal.NewFromFloat(p.MaxCapitalGBP),
			MaxPositions:    p.MaxPositions,
			MaxPerGroup:     p.MaxPerGroup,
			MaxPerTradeRisk: p.MaxPerTradeRisk,
		}
	}
	return out
}

// RegimeBands converts the YAML band rows to the domain table. Levels are
// assigned by table position.
func (c *FrameworkConfig) RegimeBands() ([]regime.VIXRegime, regime.VIXRegime) {
	bands := make([]regime.VIXRegime, len(c.Regime.Bands))
	for i, b := range c.Regime.Bands {
		level := regime.Level(i)
		if level > regime.Extreme {
			level = regime.Extreme
		}
		bands[i] = regime.VIXRegime{
			Level:             level,
			Name:              b.Name,
			LowerBound:        b.Lower,
			UpperBound:        b.Upper,
			MaxBPUsage:        b.MaxBPUsage,
			SizeMultiplier:    b.SizeMultiplier,
			PutStructuresOnly: b.PutStructuresOnly,
		}
	}
	unknown := regime.VIXRegime{
		Level:      regime.Unknown,
		Name:       c.Regime.Unknown.Name,
		MaxBPUsage: c.Regime.Unknown.MaxBPUsage,
	}
	return bands, unknown
}

// VIXMaxAge returns the freshness threshold as a duration.
func (c *FrameworkConfig) VIXMaxAge() time.Duration {
	return time.Duration(c.Engine.VIXMaxAgeSeconds) * time.Second
}

// SizingConfig adapts the engine section for the position sizer.
func (c *FrameworkConfig) SizingConfig() sizing.Config {
	return sizing.Config{
		KellyFactor: c.Engine.KellyFactor,
		AbsoluteCap: c.Engine.KellyAbsoluteCap,
	}
}

// RedisTTL returns the snapshot cache TTL.
func (c *FrameworkConfig) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

// DefaultFramework returns the production configuration.
func DefaultFramework() *FrameworkConfig {
	return &FrameworkConfig{
		Account: AccountConfig{CapitalGBP: 45000},
		Engine: EngineConfig{
			KellyFactor:       0.25, // quarter Kelly
			KellyAbsoluteCap:  0.10,
			DefensiveExitDTE:  21,
			VIXMaxAgeSeconds:  600,
			EvaluateEverySecs: 300,
		},
		Phases: []PhaseConfig{
			{Number: 1, MinCapitalGBP: 30000, MaxCapitalGBP: 40000, MaxPositions: 4, MaxPerGroup: 2, MaxPerTradeRisk: 0.05},
			{Number: 2, MinCapitalGBP: 40000, MaxCapitalGBP: 60000, MaxPositions: 7, MaxPerGroup: 2, MaxPerTradeRisk: 0.05},
			{Number: 3, MinCapitalGBP: 60000, MaxCapitalGBP: 75000, MaxPositions: 10, MaxPerGroup: 3, MaxPerTradeRisk: 0.05},
			{Number: 4, MinCapitalGBP: 75000, MaxCapitalGBP: 0, MaxPositions: 15, MaxPerGroup: 4, MaxPerTradeRisk: 0.05},
		},
		Regime: RegimeConfig{
			Bands: []BandConfig{
				{Name: "LOW", Lower: 0, Upper: 13, MaxBPUsage: 0.45, SizeMultiplier: 0.80},
				{Name: "NORMAL", Lower: 13, Upper: 18, MaxBPUsage: 0.65, SizeMultiplier: 1.00},
				{Name: "ELEVATED", Lower: 18, Upper: 25, MaxBPUsage: 0.75, SizeMultiplier: 1.10},
				{Name: "SPIKE", Lower: 25, Upper: 35, MaxBPUsage: 0.50, SizeMultiplier: 0.60},
				{Name: "EXTREME", Lower: 35, Upper: 0, MaxBPUsage: 0.80, SizeMultiplier: 0.50, PutStructuresOnly: true},
			},
			Unknown: BandConfig{Name: "UNKNOWN", MaxBPUsage: 0.30},
		},
		MarketData: MarketDataConfig{
			Source: "synthetic",
			CBOE: CBOEConfig{
				BaseURL:   "https://cdn.cboe.com/api/global/delayed_quotes",
				RPS:       2,
				Burst:     4,
				TimeoutMS: 5000,
			},
		},
		HTTP:        HTTPConfig{Listen: ":8090"},
		Redis:       RedisConfig{Addr: "", DB: 0, TTLSeconds: 600},
		Persistence: PersistenceConfig{SignalsDir: filepath.Join("out", "signals")},
	}
}

// FrameworkConfigPath is the default location of the framework file.
func FrameworkConfigPath() string {
	return filepath.Join("config", "framework.yaml")
}
