package backtest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/engine"
)

// Config tunes one replay.
type Config struct {
	InitialCapital float64     `yaml:"initial_capital"`
	Commission     float64     `yaml:"commission"` // per contract per side
	Slippage       float64     `yaml:"slippage"`   // per contract per side
	Model          CreditModel `yaml:"model"`
}

// DefaultConfig returns standard replay settings.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 45000,
		Commission:     1.20,
		Slippage:       0.60,
		Model:          DefaultCreditModel(),
	}
}

// Runner replays a quote history through the engine cycle by cycle:
// settle expiries, remark, exits, then entries, in that order, so a
// defensive exit can never be pre-empted by a same-cycle entry.
type Runner struct {
	engine *engine.Engine
	config Config
}

// NewRunner builds a runner over a constructed engine.
func NewRunner(eng *engine.Engine, config Config) *Runner {
	if config.InitialCapital <= 0 {
		config = DefaultConfig()
	}
	return &Runner{engine: eng, config: config}
}

// Run replays the history and returns the report.
func (r *Runner) Run(ctx context.Context, history []domain.MarketSnapshot) (*Report, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("empty history")
	}

	book := NewBook(
		decimal.NewFromFloat(r.config.InitialCapital),
		decimal.NewFromFloat(r.config.Commission),
		decimal.NewFromFloat(r.config.Slippage),
		r.config.Model,
		r.engine.Catalog(),
	)

	report := &Report{
		StartedAt:      history[0].Timestamp,
		FinishedAt:     history[len(history)-1].Timestamp,
		InitialCapital: decimal.NewFromFloat(r.config.InitialCapital),
		ExitReasons:    make(map[string]int),
	}
	peak := book.Equity()

	for i := range history {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap := &history[i]
		now := snap.Timestamp

		book.SettleExpired(now)
		book.Remark(snap, now)

		exitSignals, err := r.engine.EvaluateExits(ctx, book.Account(), snap, now)
		if err != nil {
			return nil, fmt.Errorf("cycle %d exits: %w", i, err)
		}
		for _, sig := range exitSignals {
			if err := book.Close(sig, now); err != nil {
				return nil, fmt.Errorf("cycle %d: %w", i, err)
			}
		}

		entrySignals, err := r.engine.EvaluateEntries(ctx, book.Account(), snap, now)
		if err != nil {
			if domain.IsInvariantViolation(err) {
				return nil, fmt.Errorf("cycle %d entries: %w", i, err)
			}
			log.Warn().Err(err).Int("cycle", i).Msg("entry evaluation skipped")
		}
		for _, sig := range entrySignals {
			if book.HasOpen(sig.StrategyID) {
				continue
			}
			if err := book.Open(sig, snap, now); err != nil {
				return nil, fmt.Errorf("cycle %d: %w", i, err)
			}
		}

		equity := book.Equity()
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if peak.Sign() > 0 {
			dd, _ := peak.Sub(equity).Div(peak).Float64()
			if dd > report.MaxDrawdown {
				report.MaxDrawdown = dd
			}
		}
		report.EquityCurve = append(report.EquityCurve, EquityPoint{
			Timestamp: now,
			Equity:    equity,
			VIX:       snap.VIX,
			Open:      book.Account().OpenCount(),
		})
		report.Cycles++
	}

	// Liquidate whatever is still open at the final mark so the report
	// accounts for every position.
	book.CloseAll("END_OF_HISTORY", history[len(history)-1].Timestamp)

	report.Trades = book.Trades()
	report.FinalEquity = book.Equity()
	report.finish()
	return report, nil
}
