package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/backtest"
	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/engine"
	httpapi "github.com/tomking/trading/internal/interfaces/http"
	"github.com/tomking/trading/internal/marketdata"
	"github.com/tomking/trading/internal/regime"
)

// Runner drives the paper trading loop. One cycle fetches a snapshot,
// books the engine's exit and entry signals against the paper ledger,
// journals them, and publishes state for the monitoring surfaces. The
// cycle order matches the replay runner: settle expiries, remark, exits,
// then entries, so a defensive exit is never pre-empted by a same-cycle
// entry.
//
// A cycle without usable market data still runs the exit rules. Marks go
// stale and the mark-based rules skip themselves; the clock-based rules
// keep firing, and entries stay blocked until data returns.
type Runner struct {
	engine    *engine.Engine
	provider  marketdata.Provider
	book      *backtest.Book
	journal   *SignalJournal
	metrics   *httpapi.MetricsRegistry
	snapshots *marketdata.SnapshotCache
	fresh     marketdata.Freshness
	interval  time.Duration
	clock     func() time.Time

	mu          sync.RWMutex
	lastSnap    *domain.MarketSnapshot
	lastAccount *domain.AccountState
	lastRegime  string
}

// NewRunner builds the loop over an assembled App. The paper ledger
// starts at the configured capital with the standard friction model.
func NewRunner(app *App, journal *SignalJournal) *Runner {
	metrics := app.Metrics
	if metrics == nil {
		metrics = httpapi.NewMetricsRegistry()
	}
	friction := backtest.DefaultConfig()
	book := backtest.NewBook(
		app.Config.Capital(),
		decimal.NewFromFloat(friction.Commission),
		decimal.NewFromFloat(friction.Slippage),
		friction.Model,
		app.Engine.Catalog(),
	).WithIDPrefix("paper")

	return &Runner{
		engine:    app.Engine,
		provider:  app.Provider,
		book:      book,
		journal:   journal,
		metrics:   metrics,
		snapshots: app.Snapshots,
		fresh: marketdata.Freshness{
			MaxVIXAge:   app.Config.VIXMaxAge(),
			MaxQuoteAge: app.Config.VIXMaxAge(),
		},
		interval: time.Duration(app.Config.Engine.EvaluateEverySecs) * time.Second,
		clock:    time.Now,
	}
}

// WithClock overrides the time source for tests.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// Book exposes the paper ledger for reports and tests.
func (r *Runner) Book() *backtest.Book {
	return r.book
}

// Run evaluates immediately, then on every tick until the context ends.
// Cycle failures are logged and counted; only a cancelled context stops
// the loop.
func (r *Runner) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", r.interval).
		Str("run_id", r.journal.RunID()).
		Msg("paper trading loop started")

	if err := r.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("evaluation cycle failed")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("paper trading loop stopped")
			return nil
		case <-ticker.C:
			if err := r.RunCycle(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				log.Warn().Err(err).Msg("evaluation cycle failed")
			}
		}
	}
}

// RunCycle executes one full evaluation cycle against the paper ledger.
func (r *Runner) RunCycle(ctx context.Context) error {
	now := r.clock().UTC()
	var firstErr error

	snap := r.fetchSnapshot(ctx, now)
	if snap != nil {
		r.book.SettleExpired(now)
		r.book.Remark(snap, now)
	}

	// The regime drives the journal and the gauges even when entries are
	// skipped; without a snapshot the classifier falls back to UNKNOWN.
	var vix float64
	var vixAsOf time.Time
	if snap != nil {
		vix, vixAsOf = snap.VIX, snap.VIXAsOf
	}
	reg := r.engine.Regimes().Classify(vix, vixAsOf, now)

	var emitted []domain.Signal

	exitTimer := r.metrics.StartStepTimer(string(httpapi.StepExits))
	exitCycle, err := r.engine.EvaluateExitsDetailed(ctx, r.book.Account(), snap, now)
	if err != nil {
		exitTimer.Stop(string(httpapi.ResultError))
		r.metrics.RecordCycleError(string(httpapi.StepExits), errorType(err))
		firstErr = fmt.Errorf("exit evaluation: %w", err)
	} else {
		exitTimer.Stop(string(httpapi.ResultSuccess))
		for _, sig := range exitCycle.Signals {
			if err := r.book.Close(sig, now); err != nil {
				log.Warn().Err(err).Str("signal", sig.ID).Msg("exit signal not applied")
				continue
			}
			emitted = append(emitted, sig)
			r.metrics.RecordSignal(sig.Type.String(), sig.Rationale.String())
		}
	}

	entryTimer := r.metrics.StartStepTimer(string(httpapi.StepEntries))
	if snap == nil {
		entryTimer.Stop(string(httpapi.ResultSkipped))
	} else if entryCycle, err := r.engine.EvaluateEntriesDetailed(ctx, r.book.Account(), snap, now); err != nil {
		entryTimer.Stop(string(httpapi.ResultError))
		r.metrics.RecordCycleError(string(httpapi.StepEntries), errorType(err))
		if firstErr == nil {
			firstErr = fmt.Errorf("entry evaluation: %w", err)
		}
	} else {
		entryTimer.Stop(string(httpapi.ResultSuccess))
		r.recordGateFailures(entryCycle)
		for _, sig := range entryCycle.Signals {
			// One open position per strategy keeps the paper ledger
			// readable, same as the replay runner.
			if r.book.HasOpen(sig.StrategyID) {
				continue
			}
			if err := r.book.Open(sig, snap, now); err != nil {
				log.Warn().Err(err).Str("signal", sig.ID).Msg("entry signal not applied")
				continue
			}
			emitted = append(emitted, sig)
			r.metrics.RecordSignal(sig.Type.String(), sig.Rationale.String())
		}
	}

	if len(emitted) > 0 {
		journalTimer := r.metrics.StartStepTimer(string(httpapi.StepJournal))
		if err := r.journal.Record(ctx, emitted, snap, reg, now); err != nil {
			journalTimer.Stop(string(httpapi.ResultError))
			r.metrics.RecordCycleError(string(httpapi.StepJournal), "write")
			log.Error().Err(err).Msg("signal journal write failed")
		} else {
			journalTimer.Stop(string(httpapi.ResultSuccess))
		}
	}

	account := r.book.Account()
	r.publish(ctx, snap, account, reg)
	r.metrics.RecordCycle()

	log.Info().
		Str("regime", reg.Name).
		Int("open_positions", account.OpenCount()).
		Int("signals", len(emitted)).
		Str("equity", r.book.Equity().StringFixed(0)).
		Msg("evaluation cycle complete")
	return firstErr
}

// fetchSnapshot pulls and freshness-checks one snapshot. Any failure
// returns nil; the caller treats a nil snapshot as "no market data".
func (r *Runner) fetchSnapshot(ctx context.Context, now time.Time) *domain.MarketSnapshot {
	timer := r.metrics.StartStepTimer(string(httpapi.StepSnapshot))
	snap, err := r.provider.Snapshot(ctx)
	if err == nil {
		err = r.fresh.Check(snap, now)
	}
	if err != nil {
		timer.Stop(string(httpapi.ResultError))
		r.metrics.RecordCycleError(string(httpapi.StepSnapshot), errorType(err))
		log.Warn().Err(err).Msg("no usable snapshot, entries blocked this cycle")
		return nil
	}
	timer.Stop(string(httpapi.ResultSuccess))
	return snap
}

// recordGateFailures counts each blocked strategy's failed gate. The
// gate chain stops at the first failure, so at most one gate per
// evaluation is counted; portfolio-level rejections count separately.
func (r *Runner) recordGateFailures(cycle *engine.EntryCycle) {
	for _, eval := range cycle.Evaluations {
		if eval.Passed {
			continue
		}
		for name, check := range eval.GateResults {
			if !check.Passed {
				r.metrics.RecordGateFailure(name)
			}
		}
	}
	for _, rej := range cycle.Rejections {
		r.metrics.RecordGateFailure("portfolio_" + strings.ToLower(rej.Breached.String()))
	}
}

// publish refreshes the gauges, the shared state for the HTTP surfaces,
// and the redis snapshot when configured.
func (r *Runner) publish(ctx context.Context, snap *domain.MarketSnapshot, account *domain.AccountState, reg regime.VIXRegime) {
	equity, _ := r.book.Equity().Float64()
	r.metrics.SetAccountGauges(account.OpenCount(), account.BPUsed, equity)
	if snap != nil {
		r.metrics.SetVIX(snap.VIX)
	}
	if r.lastRegime != "" && r.lastRegime != reg.Name {
		r.metrics.RecordRegimeSwitch(r.lastRegime, reg.Name)
	} else {
		r.metrics.SetActiveRegime(reg.Name)
	}
	r.lastRegime = reg.Name

	if r.snapshots != nil && snap != nil {
		persistTimer := r.metrics.StartStepTimer(string(httpapi.StepPersist))
		if err := r.snapshots.Store(ctx, snap); err != nil {
			persistTimer.Stop(string(httpapi.ResultError))
			r.metrics.RecordCycleError(string(httpapi.StepPersist), "redis")
			log.Warn().Err(err).Msg("snapshot publish failed")
		} else {
			persistTimer.Stop(string(httpapi.ResultSuccess))
		}
	}

	r.mu.Lock()
	if snap != nil {
		r.lastSnap = snap
	}
	r.lastAccount = account
	r.mu.Unlock()
}

// LatestSnapshot returns the last usable snapshot, for the HTTP server.
func (r *Runner) LatestSnapshot() (*domain.MarketSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSnap, r.lastSnap != nil
}

// LatestAccount returns the paper account as of the last cycle.
func (r *Runner) LatestAccount() (*domain.AccountState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastAccount, r.lastAccount != nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
