// Package catalog holds the static strategy table. Win rates and win/loss
// ratios are methodology reference constants embedded in configuration;
// they are never recomputed from live trade history.
package catalog

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/sizing"
)

// Strategy is one immutable catalog entry.
type Strategy struct {
	ID                 string                  `json:"id"`
	Name               string                  `json:"name"`
	Symbol             string                  `json:"symbol"`
	MinPhase           int                     `json:"min_phase"`
	Group              domain.CorrelationGroup `json:"group"`
	Window             EntryWindow             `json:"window"`
	TargetDTE          int                     `json:"target_dte"`
	WinRate            float64                 `json:"win_rate"`
	WinLossRatio       float64                 `json:"win_loss_ratio"`
	VIXFloor           float64                 `json:"vix_floor"`
	VIXCeiling         float64                 `json:"vix_ceiling"`
	ProfitTarget       float64                 `json:"profit_target"`
	StopLossMultiple   float64                 `json:"stop_loss_multiple"`
	RiskModel          sizing.RiskModel        `json:"risk_model"`
	PerContractBP      decimal.Decimal         `json:"per_contract_bp"`
	PerContractRisk    decimal.Decimal         `json:"per_contract_risk"`
	ContractMultiplier int                     `json:"contract_multiplier"`
	PutStructure       bool                    `json:"put_structure"`
	SameDayExpiry      bool                    `json:"same_day_expiry"`
	TimeStopMinute     int                     `json:"time_stop_minute"`
	Priority           int                     `json:"priority"`
}

// SizingParams adapts the catalog entry for the position sizer.
func (s Strategy) SizingParams() sizing.Params {
	return sizing.Params{
		StrategyID:         s.ID,
		WinRate:            s.WinRate,
		WinLossRatio:       s.WinLossRatio,
		Model:              s.RiskModel,
		PerContractBP:      s.PerContractBP,
		PerContractRisk:    s.PerContractRisk,
		ContractMultiplier: s.ContractMultiplier,
	}
}

// Validate checks one entry's internal consistency.
func (s Strategy) Validate() []string {
	var problems []string
	if s.ID == "" {
		problems = append(problems, "strategy id is empty")
	}
	if s.Symbol == "" {
		problems = append(problems, fmt.Sprintf("%s: symbol is empty", s.ID))
	}
	if s.MinPhase < 1 || s.MinPhase > 4 {
		problems = append(problems, fmt.Sprintf("%s: min phase %d outside 1..4", s.ID, s.MinPhase))
	}
	if _, err := domain.ParseGroup(string(s.Group)); err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", s.ID, err))
	}
	if s.WinRate <= 0 || s.WinRate > 1 {
		problems = append(problems, fmt.Sprintf("%s: win rate %.2f outside (0, 1]", s.ID, s.WinRate))
	}
	if s.WinLossRatio <= 0 {
		problems = append(problems, fmt.Sprintf("%s: win/loss ratio %.2f must be positive", s.ID, s.WinLossRatio))
	}
	if s.TargetDTE < 0 {
		problems = append(problems, fmt.Sprintf("%s: target DTE %d is negative", s.ID, s.TargetDTE))
	}
	if s.SameDayExpiry && s.TargetDTE != 0 {
		problems = append(problems, fmt.Sprintf("%s: same-day strategy with target DTE %d", s.ID, s.TargetDTE))
	}
	if s.SameDayExpiry && s.TimeStopMinute <= s.Window.Open {
		problems = append(problems, fmt.Sprintf("%s: time stop must fall after the entry window opens", s.ID))
	}
	if s.ProfitTarget <= 0 || s.ProfitTarget > 2 {
		problems = append(problems, fmt.Sprintf("%s: profit target %.2f outside (0, 2]", s.ID, s.ProfitTarget))
	}
	if s.StopLossMultiple < 0 {
		problems = append(problems, fmt.Sprintf("%s: stop loss multiple %.2f is negative", s.ID, s.StopLossMultiple))
	}
	if s.VIXCeiling > 0 && s.VIXCeiling <= s.VIXFloor {
		problems = append(problems, fmt.Sprintf("%s: VIX ceiling %.1f at or below floor %.1f", s.ID, s.VIXCeiling, s.VIXFloor))
	}
	switch s.RiskModel {
	case sizing.RiskModelDefinedLoss, sizing.RiskModelMargin:
		if s.PerContractBP.Sign() <= 0 || s.PerContractRisk.Sign() <= 0 {
			problems = append(problems, fmt.Sprintf("%s: %s model needs positive per-contract BP and risk", s.ID, s.RiskModel))
		}
	default:
		problems = append(problems, fmt.Sprintf("%s: unknown risk model %q", s.ID, s.RiskModel))
	}
	if s.Window.Open <= 0 || s.Window.Close <= s.Window.Open {
		problems = append(problems, fmt.Sprintf("%s: entry window %s is invalid", s.ID, s.Window))
	}
	return problems
}

// Catalog is the ordered strategy table. Order doubles as priority: when
// the risk validator must shed candidates, later entries go first.
type Catalog struct {
	strategies []Strategy
	byID       map[string]int
	loc        *time.Location
}

// New builds a catalog, assigns priorities by position, and validates every
// entry. Validation failure is fatal: a broken catalog must never reach an
// evaluation cycle.
func New(strategies []Strategy) (*Catalog, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("strategy catalog is empty")
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("load exchange timezone: %w", err)
	}

	var problems []string
	byID := make(map[string]int, len(strategies))
	out := make([]Strategy, len(strategies))
	for i, s := range strategies {
		s.Priority = i
		if _, dup := byID[s.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate strategy id %q", s.ID))
		}
		byID[s.ID] = i
		problems = append(problems, s.Validate()...)
		out[i] = s
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid strategy catalog: %v", problems)
	}
	return &Catalog{strategies: out, byID: byID, loc: loc}, nil
}

// Strategies returns the ordered table.
func (c *Catalog) Strategies() []Strategy {
	out := make([]Strategy, len(c.strategies))
	copy(out, c.strategies)
	return out
}

// Get looks up a strategy by id.
func (c *Catalog) Get(id string) (Strategy, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Strategy{}, false
	}
	return c.strategies[i], true
}

// UnlockedFor returns the strategies available at the given phase number.
func (c *Catalog) UnlockedFor(phaseNumber int) []Strategy {
	var out []Strategy
	for _, s := range c.strategies {
		if s.MinPhase <= phaseNumber {
			out = append(out, s)
		}
	}
	return out
}

// Location is the exchange timezone used for entry-window checks.
func (c *Catalog) Location() *time.Location {
	return c.loc
}

// Default returns the production catalog.
func Default() []Strategy {
	return []Strategy{
		{
			ID:                 "ODTE_FRIDAY",
			Name:               "Friday 0DTE Iron Condor",
			Symbol:             "SPX",
			MinPhase:           1,
			Group:              domain.GroupEquities,
			Window:             EntryWindow{Days: []time.Weekday{time.Friday}, Open: 10*60 + 30, Close: 14*60 + 30},
			TargetDTE:          0,
			WinRate:            0.88,
			WinLossRatio:       0.50,
			VIXFloor:           12,
			VIXCeiling:         30,
			ProfitTarget:       0.50,
			StopLossMultiple:   2.0,
			RiskModel:          sizing.RiskModelDefinedLoss,
			PerContractBP:      decimal.NewFromInt(1200),
			PerContractRisk:    decimal.NewFromInt(1200),
			ContractMultiplier: 100,
			SameDayExpiry:      true,
			TimeStopMinute:     15*60 + 30,
		},
		{
			ID:                 "MICRO_STRANGLE",
			Name:               "Micro Gold Strangle",
			Symbol:             "MGC",
			MinPhase:           1,
			Group:              domain.GroupMetals,
			Window:             EntryWindow{Days: []time.Weekday{time.Tuesday, time.Thursday}, Open: 10 * 60, Close: 15 * 60},
			TargetDTE:          45,
			WinRate:            0.72,
			WinLossRatio:       0.60,
			VIXFloor:           15,
			ProfitTarget:       0.50,
			StopLossMultiple:   2.0,
			RiskModel:          sizing.RiskModelMargin,
			PerContractBP:      decimal.NewFromInt(900),
			PerContractRisk:    decimal.NewFromInt(700),
			ContractMultiplier: 10,
		},
		{
			ID:                 "LT112",
			Name:               "Long-Term 1-1-2 Put Spread",
			Symbol:             "ES",
			MinPhase:           2,
			Group:              domain.GroupEquities,
			Window:             EntryWindow{Days: []time.Weekday{time.Wednesday}, Open: 10 * 60, Close: 15 * 60},
			TargetDTE:          112,
			WinRate:            0.73,
			WinLossRatio:       0.55,
			VIXFloor:           12,
			ProfitTarget:       0.50,
			StopLossMultiple:   2.0,
			RiskModel:          sizing.RiskModelMargin,
			PerContractBP:      decimal.NewFromInt(4500),
			PerContractRisk:    decimal.NewFromInt(1800),
			ContractMultiplier: 50,
		},
		{
			ID:                 "FUTURES_STRANGLE",
			Name:               "Crude Oil Strangle",
			Symbol:             "CL",
			MinPhase:           2,
			Group:              domain.GroupEnergy,
			Window:             EntryWindow{Days: []time.Weekday{time.Tuesday, time.Thursday}, Open: 10 * 60, Close: 15 * 60},
			TargetDTE:          45,
			WinRate:            0.72,
			WinLossRatio:       0.60,
			VIXFloor:           15,
			ProfitTarget:       0.50,
			StopLossMultiple:   2.0,
			RiskModel:          sizing.RiskModelMargin,
			PerContractBP:      decimal.NewFromInt(3200),
			PerContractRisk:    decimal.NewFromInt(1500),
			ContractMultiplier: 1000,
		},
		{
			ID:                 "IPMCC",
			Name:               "Income Poor Man's Covered Call",
			Symbol:             "SPY",
			MinPhase:           3,
			Group:              domain.GroupEquities,
			Window:             EntryWindow{Days: []time.Weekday{time.Monday}, Open: 9*60 + 45, Close: 15*60 + 30},
			TargetDTE:          30,
			WinRate:            0.83,
			WinLossRatio:       0.45,
			ProfitTarget:       0.25, // income strategy, takes profit earlier
			StopLossMultiple:   1.5,
			RiskModel:          sizing.RiskModelDefinedLoss,
			PerContractBP:      decimal.NewFromInt(2500),
			PerContractRisk:    decimal.NewFromInt(2500),
			ContractMultiplier: 100,
		},
		{
			ID:                 "BOND_LADDER",
			Name:               "Treasury Put Ladder",
			Symbol:             "TLT",
			MinPhase:           3,
			Group:              domain.GroupBonds,
			Window:             EntryWindow{Days: []time.Weekday{time.Monday, time.Wednesday}, Open: 10 * 60, Close: 15 * 60},
			TargetDTE:          60,
			WinRate:            0.78,
			WinLossRatio:       0.50,
			ProfitTarget:       0.50,
			StopLossMultiple:   2.0,
			RiskModel:          sizing.RiskModelDefinedLoss,
			PerContractBP:      decimal.NewFromInt(800),
			PerContractRisk:    decimal.NewFromInt(800),
			ContractMultiplier: 100,
		},
		{
			ID:                 "PUT_HEDGE",
			Name:               "Portfolio Put Hedge",
			Symbol:             "SPX",
			MinPhase:           4,
			Group:              domain.GroupEquities,
			Window:             EntryWindow{Open: 9*60 + 45, Close: 15*60 + 30},
			TargetDTE:          90,
			WinRate:            0.55,
			WinLossRatio:       1.80,
			ProfitTarget:       1.00,
			RiskModel:          sizing.RiskModelDefinedLoss,
			PerContractBP:      decimal.NewFromInt(1500),
			PerContractRisk:    decimal.NewFromInt(1500),
			ContractMultiplier: 100,
			PutStructure:       true,
		},
	}
}
