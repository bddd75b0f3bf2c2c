// Package exits scans open positions each cycle and decides, per position,
// whether an exit is due. Rules run in fixed priority order and the first
// match wins. The defensive DTE rule runs first and depends only on the
// expiry and the clock, so missing market data can never mask it.
package exits

import (
	"fmt"
	"time"

	"github.com/tomking/trading/internal/catalog"
	"github.com/tomking/trading/internal/domain"
)

// Reason identifies the exit rule that fired, in precedence order.
type Reason int

const (
	NoExit Reason = iota
	// DefensiveDTE is the mandatory 21-DTE exit. Highest precedence: a
	// profitable position at 20 DTE still exits, and the rationale stays
	// DTE_DEFENSIVE_EXIT even when a profit target is also satisfied.
	DefensiveDTE
	ProfitTarget
	StopLoss
	// TimeStop is the intraday cutoff for same-day-expiration strategies.
	TimeStop
)

func (r Reason) String() string {
	switch r {
	case DefensiveDTE:
		return "DTE_DEFENSIVE_EXIT"
	case ProfitTarget:
		return "PROFIT_TARGET"
	case StopLoss:
		return "STOP_LOSS"
	case TimeStop:
		return "TIME_STOP"
	default:
		return "no_exit"
	}
}

// Rationale maps the exit reason onto the signal rationale tag.
func (r Reason) Rationale() domain.Rationale {
	switch r {
	case DefensiveDTE:
		return domain.RationaleDTEDefensiveExit
	case ProfitTarget:
		return domain.RationaleProfitTarget
	case StopLoss:
		return domain.RationaleStopLoss
	case TimeStop:
		return domain.RationaleTimeStop
	default:
		return domain.RationaleNone
	}
}

// Result is one per-position exit evaluation.
type Result struct {
	PositionID   string    `json:"position_id"`
	StrategyID   string    `json:"strategy_id"`
	Symbol       string    `json:"symbol"`
	Timestamp    time.Time `json:"timestamp"`
	ShouldExit   bool      `json:"should_exit"`
	Reason       Reason    `json:"reason"`
	ReasonString string    `json:"reason_string"`
	TriggeredBy  string    `json:"triggered_by"`
	DTE          int       `json:"dte"`
	GainFraction float64   `json:"gain_fraction"`
	LossMultiple float64   `json:"loss_multiple"`
	MarkKnown    bool      `json:"mark_known"`
}

// Config holds the exit thresholds shared across strategies. Profit
// targets and stop multiples are per strategy and come from the catalog.
type Config struct {
	DefensiveExitDTE  int `yaml:"defensive_exit_dte"` // 21 by methodology
	MarkMaxAgeSeconds int `yaml:"mark_max_age_seconds"`
}

// DefaultConfig returns the production exit thresholds.
func DefaultConfig() Config {
	return Config{
		DefensiveExitDTE:  21, // gamma and assignment risk outweigh remaining theta
		MarkMaxAgeSeconds: 600,
	}
}

// Engine evaluates exit rules for open positions.
type Engine struct {
	config Config
	loc    *time.Location
}

// NewEngine builds an exit engine; a zero config falls back to defaults.
// loc is the exchange timezone for intraday cutoffs.
func NewEngine(config Config, loc *time.Location) *Engine {
	if config.DefensiveExitDTE == 0 && config.MarkMaxAgeSeconds == 0 {
		config = DefaultConfig()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{config: config, loc: loc}
}

// MarkMaxAge returns the mark freshness threshold.
func (e *Engine) MarkMaxAge() time.Duration {
	return time.Duration(e.config.MarkMaxAgeSeconds) * time.Second
}

// Evaluate runs the rule chain for one position. Rules 2 and 3 need a
// usable mark and are skipped without one; rules 1 and 4 are clock-based
// and always run.
func (e *Engine) Evaluate(pos domain.OpenPosition, strat catalog.Strategy, now time.Time) Result {
	result := Result{
		PositionID: pos.ID,
		StrategyID: pos.StrategyID,
		Symbol:     pos.Symbol,
		Timestamp:  now,
		Reason:     NoExit,
		DTE:        pos.DTE(now),
		MarkKnown:  e.markUsable(pos, now),
	}
	if pos.State != domain.PositionActive {
		result.ReasonString = result.Reason.String()
		return result
	}
	if result.MarkKnown {
		result.GainFraction = pos.GainFraction()
		result.LossMultiple = pos.LossMultiple()
	}

	// 1. Mandatory defensive exit. Same-day strategies are exempt: their
	// DTE is zero from the moment of entry and the time stop governs them
	// instead.
	if !strat.SameDayExpiry && result.DTE <= e.config.DefensiveExitDTE {
		result.ShouldExit = true
		result.Reason = DefensiveDTE
		result.TriggeredBy = fmt.Sprintf("%d DTE at or below the %d DTE defensive threshold",
			result.DTE, e.config.DefensiveExitDTE)
	}

	// 2. Profit target.
	if !result.ShouldExit && result.MarkKnown && strat.ProfitTarget > 0 &&
		result.GainFraction >= strat.ProfitTarget {
		result.ShouldExit = true
		result.Reason = ProfitTarget
		result.TriggeredBy = fmt.Sprintf("gain %.0f%% of credit reached the %.0f%% target",
			result.GainFraction*100, strat.ProfitTarget*100)
	}

	// 3. Stop loss.
	if !result.ShouldExit && result.MarkKnown && strat.StopLossMultiple > 0 &&
		result.LossMultiple >= strat.StopLossMultiple {
		result.ShouldExit = true
		result.Reason = StopLoss
		result.TriggeredBy = fmt.Sprintf("loss %.2fx credit reached the %.1fx stop",
			result.LossMultiple, strat.StopLossMultiple)
	}

	// 4. Same-day time stop, regardless of P&L.
	if !result.ShouldExit && strat.SameDayExpiry && strat.TimeStopMinute > 0 {
		local := now.In(e.loc)
		minute := local.Hour()*60 + local.Minute()
		if minute >= strat.TimeStopMinute {
			result.ShouldExit = true
			result.Reason = TimeStop
			result.TriggeredBy = fmt.Sprintf("past the %02d:%02d intraday cutoff",
				strat.TimeStopMinute/60, strat.TimeStopMinute%60)
		}
	}

	result.ReasonString = result.Reason.String()
	return result
}

// EvaluateAll runs the rule chain over every position, one result per
// position in input order. A position whose strategy id is no longer in
// the catalog is evaluated under a zero-value strategy: profit target and
// stop are disabled but the defensive DTE rule still protects it.
func (e *Engine) EvaluateAll(positions []domain.OpenPosition, cat *catalog.Catalog, now time.Time) []Result {
	results := make([]Result, 0, len(positions))
	for _, pos := range positions {
		strat, _ := cat.Get(pos.StrategyID)
		results = append(results, e.Evaluate(pos, strat, now))
	}
	return results
}

func (e *Engine) markUsable(pos domain.OpenPosition, now time.Time) bool {
	if pos.MarkedAt.IsZero() {
		return false
	}
	return now.Sub(pos.MarkedAt) <= e.MarkMaxAge()
}
