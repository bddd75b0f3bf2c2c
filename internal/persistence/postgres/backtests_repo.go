package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tomking/trading/internal/persistence"
)

// backtestsRepo implements persistence.BacktestsRepo.
//
//	CREATE TABLE backtest_runs (
//	    id              BIGSERIAL PRIMARY KEY,
//	    run_id          TEXT        NOT NULL UNIQUE,
//	    source          TEXT        NOT NULL,
//	    started_at      TIMESTAMPTZ NOT NULL,
//	    finished_at     TIMESTAMPTZ NOT NULL,
//	    cycles          INT         NOT NULL,
//	    initial_capital NUMERIC     NOT NULL,
//	    final_equity    NUMERIC     NOT NULL,
//	    net_return      DOUBLE PRECISION NOT NULL,
//	    max_drawdown    DOUBLE PRECISION NOT NULL,
//	    total_trades    INT         NOT NULL,
//	    win_rate        DOUBLE PRECISION NOT NULL,
//	    exit_reasons    JSONB       NOT NULL DEFAULT '{}',
//	    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type backtestsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBacktestsRepo builds the backtest summary store.
func NewBacktestsRepo(db *sqlx.DB, timeout time.Duration) persistence.BacktestsRepo {
	return &backtestsRepo{db: db, timeout: timeout}
}

// Insert writes one run summary.
func (r *backtestsRepo) Insert(ctx context.Context, run *persistence.BacktestRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reasonsJSON, err := json.Marshal(run.ExitReasons)
	if err != nil {
		return fmt.Errorf("failed to marshal exit reasons: %w", err)
	}

	query := `
		INSERT INTO backtest_runs (run_id, source, started_at, finished_at, cycles,
			initial_capital, final_equity, net_return, max_drawdown, total_trades,
			win_rate, exit_reasons)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`

	err = r.db.QueryRowxContext(ctx, query,
		run.RunID, run.Source, run.StartedAt, run.FinishedAt, run.Cycles,
		run.InitialCapital, run.FinalEquity, run.NetReturn, run.MaxDrawdown,
		run.TotalTrades, run.WinRate, reasonsJSON).
		Scan(&run.ID, &run.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate backtest run %s: %w", run.RunID, err)
		}
		return fmt.Errorf("failed to insert backtest run: %w", err)
	}
	return nil
}

// Get returns one run by run id, or nil when absent.
func (r *backtestsRepo) Get(ctx context.Context, runID string) (*persistence.BacktestRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, run_id, source, started_at, finished_at, cycles,
			initial_capital, final_equity, net_return, max_drawdown, total_trades,
			win_rate, exit_reasons, created_at
		FROM backtest_runs
		WHERE run_id = $1`

	run, err := r.scanRun(r.db.QueryRowxContext(ctx, query, runID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get backtest run: %w", err)
	}
	return run, nil
}

// ListRecent returns the newest runs.
func (r *backtestsRepo) ListRecent(ctx context.Context, limit int) ([]persistence.BacktestRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, run_id, source, started_at, finished_at, cycles,
			initial_capital, final_equity, net_return, max_drawdown, total_trades,
			win_rate, exit_reasons, created_at
		FROM backtest_runs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []persistence.BacktestRun
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backtest runs: %w", err)
	}
	return runs, nil
}

// rowScanner lets scanRun work over both QueryRowx and Queryx results.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *backtestsRepo) scanRun(row rowScanner) (*persistence.BacktestRun, error) {
	var run persistence.BacktestRun
	var reasonsJSON []byte

	err := row.Scan(
		&run.ID, &run.RunID, &run.Source, &run.StartedAt, &run.FinishedAt, &run.Cycles,
		&run.InitialCapital, &run.FinalEquity, &run.NetReturn, &run.MaxDrawdown,
		&run.TotalTrades, &run.WinRate, &reasonsJSON, &run.CreatedAt)
	if err != nil {
		return nil, err
	}

	run.ExitReasons = make(map[string]int)
	if len(reasonsJSON) > 0 {
		if err := json.Unmarshal(reasonsJSON, &run.ExitReasons); err != nil {
			return nil, fmt.Errorf("failed to unmarshal exit reasons: %w", err)
		}
	}
	return &run, nil
}
