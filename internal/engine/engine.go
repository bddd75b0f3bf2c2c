package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tomking/trading/internal/catalog"
	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/exits"
	"github.com/tomking/trading/internal/phase"
	"github.com/tomking/trading/internal/regime"
	"github.com/tomking/trading/internal/risk"
	"github.com/tomking/trading/internal/sizing"
)

// Options configures an Engine. Zero values fall back to the production
// defaults so tests and tools can construct an engine with a partial set.
type Options struct {
	Phases    []phase.Phase
	Bands     []regime.VIXRegime
	Unknown   regime.VIXRegime
	VIXMaxAge time.Duration
	Catalog   *catalog.Catalog
	Sizing    sizing.Config
	Exits     exits.Config
}

// Engine composes the classifiers, the sizer, the correlation guard, the
// portfolio validator, and the exit rules into the two public operations:
// EvaluateEntries and EvaluateExits. An Engine holds no account state and
// is safe to reuse across cycles; it is not safe for concurrent cycles
// because of the in-cycle correlation reservations.
type Engine struct {
	phases    *phase.Classifier
	regimes   *regime.Classifier
	catalog   *catalog.Catalog
	sizer     *sizing.Sizer
	guard     *risk.DisasterGuard
	validator *risk.Validator
	exits     *exits.Engine
	evaluator *Evaluator
}

// New builds an engine from options, filling defaults for anything unset.
func New(opts Options) (*Engine, error) {
	if opts.Phases == nil {
		opts.Phases = phase.DefaultPhases()
	}
	if opts.Bands == nil {
		opts.Bands = regime.DefaultBands()
	}
	if opts.Unknown.Name == "" {
		opts.Unknown = regime.DefaultUnknown()
	}
	if opts.VIXMaxAge <= 0 {
		opts.VIXMaxAge = 10 * time.Minute
	}
	if opts.Catalog == nil {
		cat, err := catalog.New(catalog.Default())
		if err != nil {
			return nil, fmt.Errorf("default catalog: %w", err)
		}
		opts.Catalog = cat
	}

	phases, err := phase.NewClassifier(opts.Phases)
	if err != nil {
		return nil, domain.ConfigurationInvalid(fmt.Sprintf("phase table: %v", err))
	}
	regimes, err := regime.NewClassifier(opts.Bands, opts.Unknown, opts.VIXMaxAge)
	if err != nil {
		return nil, domain.ConfigurationInvalid(fmt.Sprintf("regime bands: %v", err))
	}

	loc := opts.Catalog.Location()
	sizer := sizing.NewSizer(opts.Sizing)
	guard := risk.NewDisasterGuard(nil)
	return &Engine{
		phases:    phases,
		regimes:   regimes,
		catalog:   opts.Catalog,
		sizer:     sizer,
		guard:     guard,
		validator: risk.NewValidator(),
		exits:     exits.NewEngine(opts.Exits, loc),
		evaluator: NewEvaluator(sizer, guard, loc),
	}, nil
}

// EntryCycle is the full trace of one entry evaluation.
type EntryCycle struct {
	Timestamp   time.Time            `json:"timestamp"`
	Phase       phase.Classification `json:"phase"`
	Regime      regime.VIXRegime     `json:"regime"`
	Evaluations []*EntryEvaluation   `json:"evaluations"`
	Signals     []domain.Signal      `json:"signals"`
	Rejections  []risk.Rejection     `json:"rejections"`
}

// ExitCycle is the full trace of one exit evaluation.
type ExitCycle struct {
	Timestamp time.Time        `json:"timestamp"`
	Regime    regime.VIXRegime `json:"regime"`
	Results   []exits.Result   `json:"results"`
	Signals   []domain.Signal  `json:"signals"`
}

// EvaluateEntries runs one entry cycle and returns the approved entry
// signals. Re-running with the same inputs yields the same signals.
func (e *Engine) EvaluateEntries(ctx context.Context, account *domain.AccountState, snap *domain.MarketSnapshot, now time.Time) ([]domain.Signal, error) {
	cycle, err := e.EvaluateEntriesDetailed(ctx, account, snap, now)
	if err != nil {
		return nil, err
	}
	return cycle.Signals, nil
}

// EvaluateEntriesDetailed runs one entry cycle and returns the full trace:
// every strategy's gate results, the portfolio-level rejections, and the
// surviving signals. The account is never mutated; correlation
// reservations made during the cycle are rolled back before returning.
func (e *Engine) EvaluateEntriesDetailed(ctx context.Context, account *domain.AccountState, snap *domain.MarketSnapshot, now time.Time) (*EntryCycle, error) {
	if account == nil {
		return nil, fmt.Errorf("account state is nil")
	}
	if snap == nil {
		// No market data at all: the regime classifier fails closed to
		// UNKNOWN and every entry is blocked.
		snap = &domain.MarketSnapshot{}
	}

	cls := e.phases.Classify(account.Capital)
	if cls.BelowMinimumCapital {
		log.Warn().
			Str("capital", account.Capital.StringFixed(0)).
			Msg("capital below phase 1 floor, operating under phase 1 limits")
	}
	reg := e.regimes.Classify(snap.VIX, snap.VIXAsOf, now)
	if reg.BlocksEntries {
		log.Warn().
			Float64("vix", snap.VIX).
			Str("regime", reg.Name).
			Msg("VIX regime blocks all entries this cycle")
	}

	if err := e.guard.Begin(account, cls.Phase); err != nil {
		return nil, fmt.Errorf("correlation book rejected: %w", err)
	}
	defer e.guard.Rollback()

	cycle := &EntryCycle{Timestamp: now, Phase: cls, Regime: reg}
	var candidates []risk.Candidate
	byID := make(map[string]*EntryEvaluation)

	for _, strat := range e.catalog.Strategies() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		eval := e.evaluator.EvaluateStrategy(strat, account, snap, cls, reg, now)
		cycle.Evaluations = append(cycle.Evaluations, eval)
		byID[strat.ID] = eval
		if eval.Passed {
			candidates = append(candidates, risk.Candidate{Signal: *eval.Signal, Priority: strat.Priority})
		} else {
			log.Debug().
				Str("strategy", strat.ID).
				Str("rationale", eval.Blocked.String()).
				Msg("entry blocked")
		}
	}

	kept, rejections := e.validator.Trim(candidates, account, cls.Phase, reg)
	cycle.Rejections = rejections
	for _, rej := range rejections {
		eval := byID[rej.Candidate.Signal.StrategyID]
		if eval != nil {
			eval.Passed = false
			eval.Signal = nil
			eval.Blocked = rej.Breached.Rationale()
			eval.FailureReasons = append(eval.FailureReasons, fmt.Sprintf("portfolio validation: %s", rej.Detail))
		}
		log.Info().
			Str("strategy", rej.Candidate.Signal.StrategyID).
			Str("limit", rej.Breached.String()).
			Msg("candidate dropped by portfolio validation")
	}
	for _, c := range kept {
		cycle.Signals = append(cycle.Signals, c.Signal)
		log.Info().
			Str("signal", c.Signal.ID).
			Str("strategy", c.Signal.StrategyID).
			Int("quantity", c.Signal.Quantity).
			Str("risk", c.Signal.RiskAmount.StringFixed(0)).
			Msg("entry signal")
	}
	return cycle, nil
}

// EvaluateExits runs the defensive exit rules over every active position
// and returns the exit signals. The snapshot supplies the regime context
// recorded on the trace; the rules themselves run on position marks and
// the clock, so a nil snapshot still produces defensive exits when every
// feed is down.
func (e *Engine) EvaluateExits(ctx context.Context, account *domain.AccountState, snap *domain.MarketSnapshot, now time.Time) ([]domain.Signal, error) {
	cycle, err := e.EvaluateExitsDetailed(ctx, account, snap, now)
	if err != nil {
		return nil, err
	}
	return cycle.Signals, nil
}

// EvaluateExitsDetailed runs one exit cycle and returns every position's
// exit evaluation alongside the emitted signals.
func (e *Engine) EvaluateExitsDetailed(ctx context.Context, account *domain.AccountState, snap *domain.MarketSnapshot, now time.Time) (*ExitCycle, error) {
	if account == nil {
		return nil, fmt.Errorf("account state is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if snap == nil {
		snap = &domain.MarketSnapshot{}
	}

	cycle := &ExitCycle{
		Timestamp: now,
		Regime:    e.regimes.Classify(snap.VIX, snap.VIXAsOf, now),
	}
	cycle.Results = e.exits.EvaluateAll(account.Positions, e.catalog, now)
	for i, res := range cycle.Results {
		// Results are index-aligned with the positions they evaluate.
		if !res.MarkKnown && account.Positions[i].State == domain.PositionActive {
			log.Debug().
				Str("position", res.PositionID).
				Msg("mark missing or stale, profit target and stop rules skipped")
		}
		if !res.ShouldExit {
			continue
		}
		pos := findPosition(account.Positions, res.PositionID)
		sig := domain.Signal{
			ID:         fmt.Sprintf("exit-%s-%d", res.PositionID, now.Unix()),
			Type:       domain.SignalExit,
			StrategyID: res.StrategyID,
			Symbol:     res.Symbol,
			PositionID: res.PositionID,
			Rationale:  res.Reason.Rationale(),
			CreatedAt:  now,
		}
		if pos != nil {
			sig.Group = pos.Group
			sig.Quantity = pos.Quantity
		}
		cycle.Signals = append(cycle.Signals, sig)
		log.Info().
			Str("signal", sig.ID).
			Str("position", res.PositionID).
			Str("reason", res.ReasonString).
			Str("trigger", res.TriggeredBy).
			Msg("exit signal")
	}
	return cycle, nil
}

// Catalog exposes the strategy catalog the engine evaluates.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Regimes exposes the VIX regime classifier for read-side surfaces.
func (e *Engine) Regimes() *regime.Classifier {
	return e.regimes
}

// Phases exposes the phase classifier for read-side surfaces.
func (e *Engine) Phases() *phase.Classifier {
	return e.phases
}

func findPosition(positions []domain.OpenPosition, id string) *domain.OpenPosition {
	for i := range positions {
		if positions[i].ID == id {
			return &positions[i]
		}
	}
	return nil
}
