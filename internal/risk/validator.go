// Package risk holds the final aggregate gate between sized candidates and
// emitted entry signals. The validator re-checks every hard limit across
// the whole candidate set at once; individual per-strategy gates upstream
// cannot see combined effects like two candidates jointly exceeding the
// regime buying-power ceiling.
package risk

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/phase"
	"github.com/tomking/trading/internal/regime"
)

// Limit identifies which hard limit a validation breached.
type Limit int

const (
	LimitNone Limit = iota
	LimitBPUsage
	LimitPositionCount
	LimitGroupCount
	LimitPerTradeRisk
)

func (l Limit) String() string {
	switch l {
	case LimitBPUsage:
		return "bp_usage"
	case LimitPositionCount:
		return "position_count"
	case LimitGroupCount:
		return "group_count"
	case LimitPerTradeRisk:
		return "per_trade_risk"
	default:
		return "none"
	}
}

// Rationale maps the breached limit onto the rejection rationale tag.
func (l Limit) Rationale() domain.Rationale {
	switch l {
	case LimitBPUsage:
		return domain.RationaleBPLimit
	case LimitGroupCount:
		return domain.RationaleCorrelationBlock
	case LimitPositionCount, LimitPerTradeRisk:
		return domain.RationaleRiskLimit
	default:
		return domain.RationaleNone
	}
}

// Candidate is one sized entry signal awaiting final validation. Priority
// is the catalog table position; higher numbers are shed first.
type Candidate struct {
	Signal   domain.Signal `json:"signal"`
	Priority int           `json:"priority"`
}

// Result is the outcome of one aggregate validation pass.
type Result struct {
	Passed     bool   `json:"passed"`
	Breached   Limit  `json:"breached"`
	OffenderID string `json:"offender_id"` // signal id of the candidate that crossed the limit
	Detail     string `json:"detail"`
}

// Rejection records a candidate shed during trimming.
type Rejection struct {
	Candidate Candidate `json:"candidate"`
	Breached  Limit     `json:"breached"`
	Detail    string    `json:"detail"`
}

// Validator re-checks aggregate limits. It is advisory and side-effect
// free; callers decide what to drop.
type Validator struct{}

// NewValidator builds a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate walks the candidates in priority order, accumulating projected
// usage on top of the live account, and reports the first limit crossed
// and the candidate that crossed it.
func (v *Validator) Validate(candidates []Candidate, account *domain.AccountState, ph phase.Phase, reg regime.VIXRegime) Result {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	bpUsed := account.BPUsed
	count := account.OpenCount()
	groups := account.GroupCounts()

	for _, c := range ordered {
		sig := c.Signal

		bpUsed += sig.BPFraction
		if bpUsed > reg.MaxBPUsage {
			return Result{
				Breached:   LimitBPUsage,
				OffenderID: sig.ID,
				Detail: fmt.Sprintf("%s pushes projected BP to %.1f%%, regime %s allows %.0f%%",
					sig.StrategyID, bpUsed*100, reg.Name, reg.MaxBPUsage*100),
			}
		}

		count++
		if count > ph.MaxPositions {
			return Result{
				Breached:   LimitPositionCount,
				OffenderID: sig.ID,
				Detail: fmt.Sprintf("%s would be position %d, phase %d allows %d",
					sig.StrategyID, count, ph.Number, ph.MaxPositions),
			}
		}

		groups[sig.Group]++
		if groups[sig.Group] > ph.MaxPerGroup {
			return Result{
				Breached:   LimitGroupCount,
				OffenderID: sig.ID,
				Detail: fmt.Sprintf("%s would be position %d in group %s, phase %d allows %d",
					sig.StrategyID, groups[sig.Group], sig.Group, ph.Number, ph.MaxPerGroup),
			}
		}

		if breached, frac := perTradeRiskBreached(sig, account.Capital, ph); breached {
			return Result{
				Breached:   LimitPerTradeRisk,
				OffenderID: sig.ID,
				Detail: fmt.Sprintf("%s risks %.1f%% of capital, limit is %.0f%%",
					sig.StrategyID, frac*100, ph.MaxPerTradeRisk*100),
			}
		}
	}

	return Result{Passed: true}
}

// Trim validates and, on failure, sheds the lowest-priority candidate and
// validates again until the set passes or is empty. The shed candidates
// come back tagged with the limit that removed them so the caller can log
// and count them.
func (v *Validator) Trim(candidates []Candidate, account *domain.AccountState, ph phase.Phase, reg regime.VIXRegime) ([]Candidate, []Rejection) {
	kept := make([]Candidate, len(candidates))
	copy(kept, candidates)

	var rejections []Rejection
	for len(kept) > 0 {
		result := v.Validate(kept, account, ph, reg)
		if result.Passed {
			break
		}

		lowest := 0
		for i := range kept {
			if kept[i].Priority > kept[lowest].Priority {
				lowest = i
			}
		}
		rejections = append(rejections, Rejection{
			Candidate: kept[lowest],
			Breached:  result.Breached,
			Detail:    result.Detail,
		})
		kept = append(kept[:lowest], kept[lowest+1:]...)
	}
	return kept, rejections
}

func perTradeRiskBreached(sig domain.Signal, capital decimal.Decimal, ph phase.Phase) (bool, float64) {
	if capital.Sign() <= 0 || sig.RiskAmount.Sign() <= 0 {
		return false, 0
	}
	frac, _ := sig.RiskAmount.Div(capital).Float64()
	return frac > ph.MaxPerTradeRisk, frac
}
