// Package engine is the core orchestrator: one evaluation cycle takes the
// account, a market snapshot, and the clock, runs every catalog strategy
// through the entry gate chain, sizes the survivors, re-validates the set
// as a whole, and emits entry and exit signals. The engine performs no I/O
// and never mutates the account; the only transient state is the in-cycle
// correlation reservation, which is rolled back before returning.
package engine

import (
	"fmt"
	"time"

	"github.com/tomking/trading/internal/catalog"
	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/phase"
	"github.com/tomking/trading/internal/regime"
	"github.com/tomking/trading/internal/risk"
	"github.com/tomking/trading/internal/sizing"
)

// GateCheck is the result of a single entry gate.
type GateCheck struct {
	Name        string      `json:"name"`
	Passed      bool        `json:"passed"`
	Value       interface{} `json:"value"`
	Threshold   interface{} `json:"threshold"`
	Description string      `json:"description"`
}

// EntryEvaluation is the full gate trace for one strategy in one cycle.
// Gates run in fixed order and stop at the first failure: a strategy
// blocked by its entry window is never sized, and a correlation block is
// decided before sizing is attempted.
type EntryEvaluation struct {
	StrategyID     string                `json:"strategy_id"`
	Symbol         string                `json:"symbol"`
	Timestamp      time.Time             `json:"timestamp"`
	Passed         bool                  `json:"passed"`
	GateResults    map[string]*GateCheck `json:"gate_results"`
	PassedGates    []string              `json:"passed_gates"`
	FailureReasons []string              `json:"failure_reasons"`
	Blocked        domain.Rationale      `json:"blocked_rationale"`
	Sizing         *sizing.Result        `json:"sizing,omitempty"`
	Signal         *domain.Signal        `json:"signal,omitempty"`
}

// Evaluator runs the per-strategy entry gate chain.
type Evaluator struct {
	sizer *sizing.Sizer
	guard *risk.DisasterGuard
	loc   *time.Location
}

// NewEvaluator builds an evaluator over shared collaborators.
func NewEvaluator(sizer *sizing.Sizer, guard *risk.DisasterGuard, loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{sizer: sizer, guard: guard, loc: loc}
}

// EvaluateStrategy runs the gate chain for one strategy. On a full pass it
// reserves the correlation slot so later same-group candidates in this
// cycle see it; the engine rolls every reservation back before returning.
func (ev *Evaluator) EvaluateStrategy(
	strat catalog.Strategy,
	account *domain.AccountState,
	snap *domain.MarketSnapshot,
	cls phase.Classification,
	reg regime.VIXRegime,
	now time.Time,
) *EntryEvaluation {
	result := &EntryEvaluation{
		StrategyID:  strat.ID,
		Symbol:      strat.Symbol,
		Timestamp:   now,
		GateResults: make(map[string]*GateCheck),
	}

	// Gate 1: phase unlock.
	check := &GateCheck{
		Name:        "phase",
		Value:       cls.Phase.Number,
		Threshold:   strat.MinPhase,
		Description: fmt.Sprintf("phase %d unlocks strategies of phase %d and below", cls.Phase.Number, strat.MinPhase),
		Passed:      cls.Phase.Number >= strat.MinPhase,
	}
	if !ev.record(result, check, domain.RationalePhaseLocked,
		fmt.Sprintf("%s needs phase %d, account is phase %d", strat.ID, strat.MinPhase, cls.Phase.Number)) {
		return result
	}

	// Gate 2: entry day and time window, exchange time.
	check = &GateCheck{
		Name:        "entry_window",
		Value:       now.In(ev.loc).Format("Mon 15:04"),
		Threshold:   strat.Window.String(),
		Description: fmt.Sprintf("entry window %s", strat.Window),
		Passed:      strat.Window.Contains(now, ev.loc),
	}
	if !ev.record(result, check, domain.RationaleWindowClosed,
		fmt.Sprintf("%s outside entry window %s", strat.ID, strat.Window)) {
		return result
	}

	// Gate 3: VIX regime. UNKNOWN blocks everything; EXTREME admits put
	// structures only; then the strategy's own floor and ceiling apply.
	check = ev.vixGate(strat, snap, reg)
	if !ev.record(result, check, domain.RationaleVIXGate, check.Description) {
		return result
	}

	// Gate 4: correlation capacity, before sizing is attempted.
	check = &GateCheck{
		Name:        "correlation",
		Value:       string(strat.Group),
		Threshold:   cls.Phase.MaxPerGroup,
		Description: fmt.Sprintf("group %s under the phase-%d cap of %d", strat.Group, cls.Phase.Number, cls.Phase.MaxPerGroup),
		Passed:      ev.guard.CanOpen(strat.Group, cls.Phase),
	}
	if !ev.record(result, check, domain.RationaleCorrelationBlock,
		fmt.Sprintf("%s blocked: group %s at the phase-%d cap of %d", strat.ID, strat.Group, cls.Phase.Number, cls.Phase.MaxPerGroup)) {
		return result
	}

	// Gate 5: Kelly sizing must produce at least one contract.
	sized := ev.sizer.Size(strat.SizingParams(), account.Capital, reg, cls.Phase)
	result.Sizing = &sized
	check = &GateCheck{
		Name:        "sizing",
		Value:       sized.Quantity,
		Threshold:   1,
		Description: fmt.Sprintf("sized %d contracts (kelly %.3f, applied %.3f)", sized.Quantity, sized.KellyFraction, sized.AppliedFraction),
		Passed:      sized.Quantity >= 1,
	}
	sizeDetail := fmt.Sprintf("%s sized to zero contracts", strat.ID)
	if sized.Reason != "" {
		sizeDetail = fmt.Sprintf("%s sized to zero: %s", strat.ID, sized.Reason)
	}
	if !ev.record(result, check, domain.RationaleSizingZero, sizeDetail) {
		return result
	}

	// Gate 6: buying-power headroom under the regime ceiling.
	projected := account.BPUsed + sized.BPFraction
	check = &GateCheck{
		Name:        "bp_headroom",
		Value:       projected,
		Threshold:   reg.MaxBPUsage,
		Description: fmt.Sprintf("projected BP %.1f%% under the %s ceiling of %.0f%%", projected*100, reg.Name, reg.MaxBPUsage*100),
		Passed:      projected <= reg.MaxBPUsage,
	}
	if !ev.record(result, check, domain.RationaleBPLimit,
		fmt.Sprintf("%s would push BP to %.1f%%, regime %s allows %.0f%%", strat.ID, projected*100, reg.Name, reg.MaxBPUsage*100)) {
		return result
	}

	// All gates passed: reserve the correlation slot for this cycle and
	// emit the candidate signal. Signal ids are deterministic so that
	// re-evaluating the same cycle yields identical output.
	ev.guard.Reserve(strat.Group)
	result.Passed = true
	result.Signal = &domain.Signal{
		ID:         fmt.Sprintf("entry-%s-%d", strat.ID, now.Unix()),
		Type:       domain.SignalEntry,
		StrategyID: strat.ID,
		Symbol:     strat.Symbol,
		Group:      strat.Group,
		Quantity:   sized.Quantity,
		Rationale:  domain.RationaleEntryWindow,
		RiskAmount: sized.EstMaxLoss,
		BPFraction: sized.BPFraction,
		CreatedAt:  now,
	}
	return result
}

func (ev *Evaluator) vixGate(strat catalog.Strategy, snap *domain.MarketSnapshot, reg regime.VIXRegime) *GateCheck {
	check := &GateCheck{
		Name:      "vix_regime",
		Value:     snap.VIX,
		Threshold: reg.Name,
	}
	switch {
	case reg.BlocksEntries:
		check.Description = fmt.Sprintf("VIX regime %s blocks all new entries", reg.Name)
	case reg.PutStructuresOnly && !strat.PutStructure:
		check.Description = fmt.Sprintf("regime %s admits put structures only", reg.Name)
	case strat.VIXFloor > 0 && snap.VIX < strat.VIXFloor:
		check.Description = fmt.Sprintf("VIX %.1f below the %s floor of %.1f", snap.VIX, strat.ID, strat.VIXFloor)
	case strat.VIXCeiling > 0 && snap.VIX > strat.VIXCeiling:
		check.Description = fmt.Sprintf("VIX %.1f above the %s ceiling of %.1f", snap.VIX, strat.ID, strat.VIXCeiling)
	default:
		check.Passed = true
		check.Description = fmt.Sprintf("VIX %.1f in regime %s", snap.VIX, reg.Name)
	}
	return check
}

// record files the gate check and returns whether the chain continues.
func (ev *Evaluator) record(result *EntryEvaluation, check *GateCheck, blocked domain.Rationale, failure string) bool {
	result.GateResults[check.Name] = check
	if check.Passed {
		result.PassedGates = append(result.PassedGates, check.Name)
		return true
	}
	result.Blocked = blocked
	result.FailureReasons = append(result.FailureReasons, failure)
	return false
}
