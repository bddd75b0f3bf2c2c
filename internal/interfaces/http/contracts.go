package http

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/catalog"
	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/regime"
)

// regimeResponse reports the VIX classification in force right now
type regimeResponse struct {
	Timestamp     time.Time          `json:"timestamp"`
	Regime        regime.VIXRegime   `json:"regime"`
	VIX           float64            `json:"vix"`
	VIXAsOf       time.Time          `json:"vix_as_of,omitempty"`
	VIXAgeSeconds float64            `json:"vix_age_seconds,omitempty"`
	Bands         []regime.VIXRegime `json:"bands"`
}

// positionsResponse reports the account book and the aggregate counts
// the phase limits run against
type positionsResponse struct {
	Timestamp   time.Time                       `json:"timestamp"`
	Capital     decimal.Decimal                 `json:"capital"`
	BPUsed      float64                         `json:"bp_used"`
	RealizedPL  decimal.Decimal                 `json:"realized_pl"`
	Phase       int                             `json:"phase"`
	OpenCount   int                             `json:"open_count"`
	GroupCounts map[domain.CorrelationGroup]int `json:"group_counts"`
	Positions   []domain.OpenPosition           `json:"positions"`
}

// catalogResponse lists every strategy definition and which of them the
// current phase unlocks
type catalogResponse struct {
	Timestamp  time.Time          `json:"timestamp"`
	Count      int                `json:"count"`
	Phase      int                `json:"phase,omitempty"`
	Unlocked   []string           `json:"unlocked,omitempty"`
	Strategies []catalog.Strategy `json:"strategies"`
}

// errorResponse is the standardized error body
type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
