// Package postgres implements the persistence repos over sqlx. Schemas are
// assumed migrated externally; see the DDL comments on each repo.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tomking/trading/internal/persistence"
)

// signalsRepo implements persistence.SignalsRepo.
//
//	CREATE TABLE signals (
//	    id          BIGSERIAL PRIMARY KEY,
//	    run_id      TEXT        NOT NULL,
//	    signal_id   TEXT        NOT NULL UNIQUE,
//	    emitted_at  TIMESTAMPTZ NOT NULL,
//	    type        TEXT        NOT NULL,
//	    strategy_id TEXT        NOT NULL,
//	    symbol      TEXT        NOT NULL,
//	    grp         TEXT        NOT NULL,
//	    quantity    INT         NOT NULL,
//	    rationale   TEXT        NOT NULL,
//	    position_id TEXT        NOT NULL DEFAULT '',
//	    risk_amount NUMERIC     NOT NULL,
//	    bp_fraction DOUBLE PRECISION NOT NULL,
//	    vix         DOUBLE PRECISION NOT NULL,
//	    regime      TEXT        NOT NULL DEFAULT '',
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type signalsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSignalsRepo builds the signals journal over an open connection pool.
func NewSignalsRepo(db *sqlx.DB, timeout time.Duration) persistence.SignalsRepo {
	return &signalsRepo{db: db, timeout: timeout}
}

const signalColumns = `id, run_id, signal_id, emitted_at, type, strategy_id, symbol, grp,
	quantity, rationale, position_id, risk_amount, bp_fraction, vix, regime, created_at`

// Insert writes one signal. A duplicate signal id is reported explicitly
// so callers can distinguish a re-run from a genuine failure.
func (r *signalsRepo) Insert(ctx context.Context, rec *persistence.SignalRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO signals (run_id, signal_id, emitted_at, type, strategy_id, symbol, grp,
			quantity, rationale, position_id, risk_amount, bp_fraction, vix, regime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		rec.RunID, rec.SignalID, rec.EmittedAt, rec.Type, rec.StrategyID, rec.Symbol, rec.Grp,
		rec.Quantity, rec.Rationale, rec.PositionID, rec.RiskAmount, rec.BPFraction,
		rec.VIX, rec.RegimeName).
		Scan(&rec.ID, &rec.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate signal %s: %w", rec.SignalID, err)
		}
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

// InsertBatch writes one cycle's signals in a single transaction so a
// crashed cycle never leaves a half-journaled signal set.
func (r *signalsRepo) InsertBatch(ctx context.Context, recs []persistence.SignalRecord) error {
	if len(recs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(recs)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO signals (run_id, signal_id, emitted_at, type, strategy_id, symbol, grp,
			quantity, rationale, position_id, risk_amount, bp_fraction, vix, regime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		_, err = stmt.ExecContext(ctx,
			rec.RunID, rec.SignalID, rec.EmittedAt, rec.Type, rec.StrategyID, rec.Symbol, rec.Grp,
			rec.Quantity, rec.Rationale, rec.PositionID, rec.RiskAmount, rec.BPFraction,
			rec.VIX, rec.RegimeName)
		if err != nil {
			return fmt.Errorf("failed to insert signal %s in batch: %w", rec.SignalID, err)
		}
	}
	return tx.Commit()
}

// ListByRun returns a run's signals in emission order.
func (r *signalsRepo) ListByRun(ctx context.Context, runID string, limit int) ([]persistence.SignalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s
		FROM signals
		WHERE run_id = $1
		ORDER BY emitted_at ASC, id ASC
		LIMIT $2`, signalColumns)

	var recs []persistence.SignalRecord
	if err := r.db.SelectContext(ctx, &recs, query, runID, limit); err != nil {
		return nil, fmt.Errorf("failed to query signals by run: %w", err)
	}
	return recs, nil
}

// ListByStrategy returns one strategy's signals in a window, newest first.
func (r *signalsRepo) ListByStrategy(ctx context.Context, strategyID string, tr persistence.TimeRange, limit int) ([]persistence.SignalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s
		FROM signals
		WHERE strategy_id = $1 AND emitted_at >= $2 AND emitted_at <= $3
		ORDER BY emitted_at DESC
		LIMIT $4`, signalColumns)

	var recs []persistence.SignalRecord
	if err := r.db.SelectContext(ctx, &recs, query, strategyID, tr.From, tr.To, limit); err != nil {
		return nil, fmt.Errorf("failed to query signals by strategy: %w", err)
	}
	return recs, nil
}

// Latest returns the most recent signals across all runs.
func (r *signalsRepo) Latest(ctx context.Context, limit int) ([]persistence.SignalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s
		FROM signals
		ORDER BY emitted_at DESC, id DESC
		LIMIT $1`, signalColumns)

	var recs []persistence.SignalRecord
	if err := r.db.SelectContext(ctx, &recs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query latest signals: %w", err)
	}
	return recs, nil
}

// CountByRationale tallies signals per rationale tag inside a window.
func (r *signalsRepo) CountByRationale(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT rationale, COUNT(*)
		FROM signals
		WHERE emitted_at >= $1 AND emitted_at <= $2
		GROUP BY rationale
		ORDER BY rationale`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to count signals by rationale: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var rationale string
		var count int64
		if err := rows.Scan(&rationale, &count); err != nil {
			return nil, fmt.Errorf("failed to scan rationale count: %w", err)
		}
		counts[rationale] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rationale counts: %w", err)
	}
	return counts, nil
}
