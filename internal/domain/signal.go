package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SignalType discriminates the two signal kinds the engine emits.
type SignalType int

const (
	SignalEntry SignalType = iota
	SignalExit
)

func (t SignalType) String() string {
	if t == SignalExit {
		return "EXIT"
	}
	return "ENTRY"
}

// MarshalText keeps serialized signals readable and stable across enum
// reordering.
func (t SignalType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *SignalType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "EXIT":
		*t = SignalExit
	case "ENTRY":
		*t = SignalEntry
	default:
		return fmt.Errorf("unknown signal type %q", text)
	}
	return nil
}

// Rationale tags why a signal was emitted, or why a candidate was blocked.
// The tags are wire-visible and stable.
type Rationale int

const (
	RationaleNone Rationale = iota
	RationaleEntryWindow
	RationaleProfitTarget
	RationaleDTEDefensiveExit
	RationaleStopLoss
	RationaleTimeStop
	RationalePhaseLocked
	RationaleWindowClosed
	RationaleVIXGate
	RationaleCorrelationBlock
	RationaleSizingZero
	RationaleBPLimit
	RationaleRiskLimit
)

func (r Rationale) String() string {
	switch r {
	case RationaleEntryWindow:
		return "ENTRY_WINDOW"
	case RationaleProfitTarget:
		return "PROFIT_TARGET"
	case RationaleDTEDefensiveExit:
		return "DTE_DEFENSIVE_EXIT"
	case RationaleStopLoss:
		return "STOP_LOSS"
	case RationaleTimeStop:
		return "TIME_STOP"
	case RationalePhaseLocked:
		return "PHASE_LOCKED"
	case RationaleWindowClosed:
		return "WINDOW_CLOSED"
	case RationaleVIXGate:
		return "VIX_GATE"
	case RationaleCorrelationBlock:
		return "CORRELATION_BLOCK"
	case RationaleSizingZero:
		return "SIZING_ZERO"
	case RationaleBPLimit:
		return "BP_LIMIT"
	case RationaleRiskLimit:
		return "RISK_LIMIT"
	default:
		return "NONE"
	}
}

// MarshalText serializes the stable tag instead of the enum ordinal.
func (r Rationale) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rationale) UnmarshalText(text []byte) error {
	for tag := RationaleNone; tag <= RationaleRiskLimit; tag++ {
		if tag.String() == string(text) {
			*r = tag
			return nil
		}
	}
	return fmt.Errorf("unknown rationale %q", text)
}

// Signal is one immutable entry or exit decision. The execution layer
// applies it to its own ledger; the engine never applies its own signals.
type Signal struct {
	ID         string           `json:"id"`
	Type       SignalType       `json:"type"`
	StrategyID string           `json:"strategy_id"`
	Symbol     string           `json:"symbol"`
	Group      CorrelationGroup `json:"group"`
	Quantity   int              `json:"quantity"`
	Rationale  Rationale        `json:"rationale"`
	PositionID string           `json:"position_id,omitempty"`
	RiskAmount decimal.Decimal  `json:"risk_amount"`
	BPFraction float64          `json:"bp_fraction"`
	CreatedAt  time.Time        `json:"created_at"`
}
