package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	yamlv2 "gopkg.in/yaml.v2"

	"github.com/tomking/trading/internal/catalog"
	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/sizing"
)

// StrategiesConfig is the YAML strategy table. Order in the file is
// priority order.
type StrategiesConfig struct {
	Strategies []StrategyConfig `yaml:"strategies"`
}

// StrategyConfig is one strategy row in YAML form.
type StrategyConfig struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	Symbol             string   `yaml:"symbol"`
	MinPhase           int      `yaml:"min_phase"`
	Group              string   `yaml:"group"`
	Days               []string `yaml:"days,omitempty"`    // empty = any weekday
	Window             string   `yaml:"window"`            // "HH:MM-HH:MM" exchange time
	TargetDTE          int      `yaml:"target_dte"`
	WinRate            float64  `yaml:"win_rate"`
	WinLossRatio       float64  `yaml:"win_loss_ratio"`
	VIXFloor           float64  `yaml:"vix_floor,omitempty"`
	VIXCeiling         float64  `yaml:"vix_ceiling,omitempty"`
	ProfitTarget       float64  `yaml:"profit_target"`
	StopLossMultiple   float64  `yaml:"stop_loss_multiple"`
	RiskModel          string   `yaml:"risk_model"`
	PerContractBP      float64  `yaml:"per_contract_bp"`
	PerContractRisk    float64  `yaml:"per_contract_risk"`
	ContractMultiplier int      `yaml:"contract_multiplier"`
	PutStructure       bool     `yaml:"put_structure,omitempty"`
	SameDayExpiry      bool     `yaml:"same_day_expiry,omitempty"`
	TimeStop           string   `yaml:"time_stop,omitempty"` // "HH:MM", same-day strategies only
}

// LoadStrategies loads the strategy table from file.
func LoadStrategies(path string) (*StrategiesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategies config: %w", err)
	}

	var cfg StrategiesConfig
	if err := yamlv2.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse strategies YAML: %w", err)
	}
	return &cfg, nil
}

// SaveStrategies writes the strategy table to file.
func SaveStrategies(cfg *StrategiesConfig, path string) error {
	data, err := yamlv2.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal strategies config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write strategies config: %w", err)
	}
	return nil
}

// ToCatalog converts the YAML rows into a validated catalog.
func (c *StrategiesConfig) ToCatalog() (*catalog.Catalog, error) {
	strategies := make([]catalog.Strategy, 0, len(c.Strategies))
	for _, row := range c.Strategies {
		s, err := row.toStrategy()
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	return catalog.New(strategies)
}

func (row StrategyConfig) toStrategy() (catalog.Strategy, error) {
	days, err := catalog.ParseDays(row.Days)
	if err != nil {
		return catalog.Strategy{}, fmt.Errorf("strategy %s: %w", row.ID, err)
	}
	open, close, err := catalog.ParseWindow(row.Window)
	if err != nil {
		return catalog.Strategy{}, fmt.Errorf("strategy %s: %w", row.ID, err)
	}
	timeStop := 0
	if row.TimeStop != "" {
		timeStop, err = catalog.ParseClock(row.TimeStop)
		if err != nil {
			return catalog.Strategy{}, fmt.Errorf("strategy %s: %w", row.ID, err)
		}
	}
	return catalog.Strategy{
		ID:                 row.ID,
		Name:               row.Name,
		Symbol:             row.Symbol,
		MinPhase:           row.MinPhase,
		Group:              domain.CorrelationGroup(row.Group),
		Window:             catalog.EntryWindow{Days: days, Open: open, Close: close},
		TargetDTE:          row.TargetDTE,
		WinRate:            row.WinRate,
		WinLossRatio:       row.WinLossRatio,
		VIXFloor:           row.VIXFloor,
		VIXCeiling:         row.VIXCeiling,
		ProfitTarget:       row.ProfitTarget,
		StopLossMultiple:   row.StopLossMultiple,
		RiskModel:          sizing.RiskModel(row.RiskModel),
		PerContractBP:      decimal.NewFromFloat(row.PerContractBP),
		PerContractRisk:    decimal.NewFromFloat(row.PerContractRisk),
		ContractMultiplier: row.ContractMultiplier,
		PutStructure:       row.PutStructure,
		SameDayExpiry:      row.SameDayExpiry,
		TimeStopMinute:     timeStop,
	}, nil
}

// FromCatalog renders strategies back into YAML rows, used to seed a
// fresh config file.
func FromCatalog(strategies []catalog.Strategy) *StrategiesConfig {
	rows := make([]StrategyConfig, len(strategies))
	for i, s := range strategies {
		days := make([]string, len(s.Window.Days))
		for j, d := range s.Window.Days {
			days[j] = d.String()[:3]
		}
		timeStop := ""
		if s.TimeStopMinute > 0 {
			timeStop = minuteClock(s.TimeStopMinute)
		}
		bp, _ := s.PerContractBP.Float64()
		risk, _ := s.PerContractRisk.Float64()
		rows[i] = StrategyConfig{
			ID:                 s.ID,
			Name:               s.Name,
			Symbol:             s.Symbol,
			MinPhase:           s.MinPhase,
			Group:              string(s.Group),
			Days:               days,
			Window:             fmt.Sprintf("%s-%s", minuteClock(s.Window.Open), minuteClock(s.Window.Close)),
			TargetDTE:          s.TargetDTE,
			WinRate:            s.WinRate,
			WinLossRatio:       s.WinLossRatio,
			VIXFloor:           s.VIXFloor,
			VIXCeiling:         s.VIXCeiling,
			ProfitTarget:       s.ProfitTarget,
			StopLossMultiple:   s.StopLossMultiple,
			RiskModel:          string(s.RiskModel),
			PerContractBP:      bp,
			PerContractRisk:    risk,
			ContractMultiplier: s.ContractMultiplier,
			PutStructure:       s.PutStructure,
			SameDayExpiry:      s.SameDayExpiry,
			TimeStop:           timeStop,
		}
	}
	return &StrategiesConfig{Strategies: rows}
}

func minuteClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// StrategiesConfigPath is the default location of the strategies file.
func StrategiesConfigPath() string {
	return filepath.Join("config", "strategies.yaml")
}
