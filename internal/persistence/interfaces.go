// Package persistence defines the journaling contracts the engine and the
// backtester write through when a database is configured. Persistence is
// strictly optional: the decision engine never depends on it, and a
// disabled database leaves every repository nil.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TimeRange is a query window. From and To are inclusive.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SignalRecord is one journaled engine decision. RunID groups the signals
// of one session: a backtest run id or a paper-loop session id.
type SignalRecord struct {
	ID         int64           `json:"id" db:"id"`
	RunID      string          `json:"run_id" db:"run_id"`
	SignalID   string          `json:"signal_id" db:"signal_id"`
	EmittedAt  time.Time       `json:"emitted_at" db:"emitted_at"`
	Type       string          `json:"type" db:"type"` // ENTRY or EXIT
	StrategyID string          `json:"strategy_id" db:"strategy_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Grp        string          `json:"group" db:"grp"`
	Quantity   int             `json:"quantity" db:"quantity"`
	Rationale  string          `json:"rationale" db:"rationale"`
	PositionID string          `json:"position_id,omitempty" db:"position_id"`
	RiskAmount decimal.Decimal `json:"risk_amount" db:"risk_amount"`
	BPFraction float64         `json:"bp_fraction" db:"bp_fraction"`
	VIX        float64         `json:"vix" db:"vix"`
	RegimeName string          `json:"regime" db:"regime"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// BacktestRun is one replay's summary row. The trade log and equity curve
// stay on disk as JSONL; the database keeps the comparable aggregates.
type BacktestRun struct {
	ID             int64           `json:"id" db:"id"`
	RunID          string          `json:"run_id" db:"run_id"`
	Source         string          `json:"source" db:"source"` // csv path or synthetic seed
	StartedAt      time.Time       `json:"started_at" db:"started_at"`
	FinishedAt     time.Time       `json:"finished_at" db:"finished_at"`
	Cycles         int             `json:"cycles" db:"cycles"`
	InitialCapital decimal.Decimal `json:"initial_capital" db:"initial_capital"`
	FinalEquity    decimal.Decimal `json:"final_equity" db:"final_equity"`
	NetReturn      float64         `json:"net_return" db:"net_return"`
	MaxDrawdown    float64         `json:"max_drawdown" db:"max_drawdown"`
	TotalTrades    int             `json:"total_trades" db:"total_trades"`
	WinRate        float64         `json:"win_rate" db:"win_rate"`
	ExitReasons    map[string]int  `json:"exit_reasons" db:"-"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// SignalsRepo journals emitted signals.
type SignalsRepo interface {
	// Insert writes one signal and fills ID/CreatedAt.
	Insert(ctx context.Context, rec *SignalRecord) error
	// InsertBatch writes one cycle's signals atomically.
	InsertBatch(ctx context.Context, recs []SignalRecord) error
	// ListByRun returns a run's signals in emission order.
	ListByRun(ctx context.Context, runID string, limit int) ([]SignalRecord, error)
	// ListByStrategy returns one strategy's signals inside a window,
	// newest first.
	ListByStrategy(ctx context.Context, strategyID string, tr TimeRange, limit int) ([]SignalRecord, error)
	// Latest returns the most recent signals across all runs.
	Latest(ctx context.Context, limit int) ([]SignalRecord, error)
	// CountByRationale tallies signals per rationale tag inside a window.
	CountByRationale(ctx context.Context, tr TimeRange) (map[string]int64, error)
}

// BacktestsRepo stores replay summaries.
type BacktestsRepo interface {
	// Insert writes one run summary and fills ID/CreatedAt.
	Insert(ctx context.Context, run *BacktestRun) error
	// Get returns the run with the given run id, or nil when absent.
	Get(ctx context.Context, runID string) (*BacktestRun, error)
	// ListRecent returns the newest runs.
	ListRecent(ctx context.Context, limit int) ([]BacktestRun, error)
}

// Repository bundles the configured repos. Fields are nil when the
// database is disabled.
type Repository struct {
	Signals   SignalsRepo
	Backtests BacktestsRepo
}

// HealthCheck is one connectivity probe result.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth reports database connectivity for the monitor surface.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
	Stats(ctx context.Context) map[string]interface{}
}
