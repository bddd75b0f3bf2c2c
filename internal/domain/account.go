package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState tracks an open position through its exit lifecycle.
type PositionState int

const (
	PositionActive PositionState = iota
	PositionClosing
	PositionClosed
)

func (s PositionState) String() string {
	switch s {
	case PositionActive:
		return "ACTIVE"
	case PositionClosing:
		return "CLOSING"
	case PositionClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// OpenPosition is one live options structure. EntryCredit and CurrentCredit
// are per contract; ContractMultiplier converts credit points to currency
// (100 for standard equity options). The bookkeeping collaborator owns
// mutation; the engine only reads.
type OpenPosition struct {
	ID                 string           `json:"id"`
	StrategyID         string           `json:"strategy_id"`
	Symbol             string           `json:"symbol"`
	Group              CorrelationGroup `json:"group"`
	OpenedAt           time.Time        `json:"opened_at"`
	Expiry             time.Time        `json:"expiry"`
	EntryCredit        decimal.Decimal  `json:"entry_credit"`
	CurrentCredit      decimal.Decimal  `json:"current_credit"`
	Quantity           int              `json:"quantity"`
	ContractMultiplier int              `json:"contract_multiplier"`
	MaxLossPerContract decimal.Decimal  `json:"max_loss_per_contract"`
	BPFraction         float64          `json:"bp_fraction"`
	State              PositionState    `json:"state"`
	MarkedAt           time.Time        `json:"marked_at"`
}

// DTE returns whole days to expiration at now, floored. Expired positions
// report 0, never negative.
func (p *OpenPosition) DTE(now time.Time) int {
	if !p.Expiry.After(now) {
		return 0
	}
	return int(p.Expiry.Sub(now).Hours() / 24)
}

// UnrealizedPL is the mark-to-market P&L of the whole position. For short
// premium a falling credit is profit.
func (p *OpenPosition) UnrealizedPL() decimal.Decimal {
	perContract := p.EntryCredit.Sub(p.CurrentCredit)
	mult := decimal.NewFromInt(int64(p.Quantity * p.contractMultiplier()))
	return perContract.Mul(mult)
}

// GainFraction is unrealized gain as a fraction of entry credit, positive
// when profitable. Zero entry credit reports 0 so callers never divide by
// zero.
func (p *OpenPosition) GainFraction() float64 {
	if p.EntryCredit.IsZero() {
		return 0
	}
	frac, _ := p.EntryCredit.Sub(p.CurrentCredit).Div(p.EntryCredit).Float64()
	return frac
}

// LossMultiple is unrealized loss expressed as a multiple of entry credit,
// positive when losing. A position at 2.0 has lost twice the credit
// received.
func (p *OpenPosition) LossMultiple() float64 {
	return -p.GainFraction()
}

func (p *OpenPosition) contractMultiplier() int {
	if p.ContractMultiplier <= 0 {
		return 100
	}
	return p.ContractMultiplier
}

// AccountState is the account view the engine evaluates against. It is
// read-only to the engine; only the execution collaborator mutates it.
type AccountState struct {
	Capital      decimal.Decimal `json:"capital"`
	Positions    []OpenPosition  `json:"positions"`
	RealizedPL   decimal.Decimal `json:"realized_pl"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
	BPUsed       float64         `json:"bp_used"`
}

// OpenCount returns the number of positions still active.
func (a *AccountState) OpenCount() int {
	n := 0
	for i := range a.Positions {
		if a.Positions[i].State != PositionClosed {
			n++
		}
	}
	return n
}

// GroupCounts tallies active positions per correlation group.
func (a *AccountState) GroupCounts() map[CorrelationGroup]int {
	counts := make(map[CorrelationGroup]int)
	for i := range a.Positions {
		if a.Positions[i].State != PositionClosed {
			counts[a.Positions[i].Group]++
		}
	}
	return counts
}
