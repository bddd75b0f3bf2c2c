package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomking/trading/internal/catalog"
	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/sizing"
)

// wedNoon is a Wednesday 12:00 in New York (17:00 UTC, winter).
var wedNoon = time.Date(2026, time.January, 7, 17, 0, 0, 0, time.UTC)

func anyWeekday(open, close int) catalog.EntryWindow {
	return catalog.EntryWindow{Open: open, Close: close}
}

// testStrategies builds a small controlled catalog: two EQUITIES entries
// and one METALS entry, all open on any weekday 10:00-15:00 New York.
func testStrategies() []catalog.Strategy {
	return []catalog.Strategy{
		{
			ID: "ES_STRANGLE", Name: "ES strangle", Symbol: "ES", MinPhase: 1,
			Group:  domain.GroupEquities,
			Window: anyWeekday(10*60, 15*60),
			TargetDTE: 45, WinRate: 0.72, WinLossRatio: 0.60,
			ProfitTarget: 0.50, StopLossMultiple: 2.0,
			RiskModel:     sizing.RiskModelMargin,
			PerContractBP: decimal.NewFromInt(2500), PerContractRisk: decimal.NewFromInt(1500),
			ContractMultiplier: 50,
		},
		{
			ID: "SPY_SPREAD", Name: "SPY put spread", Symbol: "SPY", MinPhase: 1,
			Group:  domain.GroupEquities,
			Window: anyWeekday(10*60, 15*60),
			TargetDTE: 30, WinRate: 0.80, WinLossRatio: 0.45,
			ProfitTarget: 0.50, StopLossMultiple: 2.0,
			RiskModel:     sizing.RiskModelDefinedLoss,
			PerContractBP: decimal.NewFromInt(1500), PerContractRisk: decimal.NewFromInt(1500),
			ContractMultiplier: 100,
		},
		{
			ID: "GOLD_STRANGLE", Name: "Gold strangle", Symbol: "MGC", MinPhase: 1,
			Group:  domain.GroupMetals,
			Window: anyWeekday(10*60, 15*60),
			TargetDTE: 45, WinRate: 0.72, WinLossRatio: 0.60,
			ProfitTarget: 0.50, StopLossMultiple: 2.0,
			RiskModel:     sizing.RiskModelMargin,
			PerContractBP: decimal.NewFromInt(900), PerContractRisk: decimal.NewFromInt(700),
			ContractMultiplier: 10,
		},
	}
}

func testEngine(t *testing.T, strategies []catalog.Strategy) *Engine {
	t.Helper()
	cat, err := catalog.New(strategies)
	require.NoError(t, err)
	eng, err := New(Options{Catalog: cat})
	require.NoError(t, err)
	return eng
}

func account(capital float64, positions ...domain.OpenPosition) *domain.AccountState {
	bp := 0.0
	for _, p := range positions {
		bp += p.BPFraction
	}
	return &domain.AccountState{
		Capital:   decimal.NewFromFloat(capital),
		Positions: positions,
		BPUsed:    bp,
	}
}

func openPosition(id, stratID string, group domain.CorrelationGroup, dte int, bp float64, now time.Time) domain.OpenPosition {
	return domain.OpenPosition{
		ID:                 id,
		StrategyID:         stratID,
		Symbol:             "ES",
		Group:              group,
		OpenedAt:           now.Add(-24 * time.Hour),
		Expiry:             now.Add(time.Duration(dte)*24*time.Hour + time.Hour),
		EntryCredit:        decimal.NewFromInt(10),
		CurrentCredit:      decimal.NewFromInt(9),
		Quantity:           1,
		ContractMultiplier: 50,
		BPFraction:         bp,
		State:              domain.PositionActive,
		MarkedAt:           now,
	}
}

func freshSnapshot(vix float64, now time.Time) *domain.MarketSnapshot {
	return &domain.MarketSnapshot{Timestamp: now, VIX: vix, VIXAsOf: now.Add(-time.Minute)}
}

func TestEvaluateEntriesEmitsSizedSignals(t *testing.T) {
	eng := testEngine(t, testStrategies())
	acct := account(45000)

	cycle, err := eng.EvaluateEntriesDetailed(context.Background(), acct, freshSnapshot(16, wedNoon), wedNoon)
	require.NoError(t, err)

	require.NotEmpty(t, cycle.Signals)
	assert.Equal(t, 2, cycle.Phase.Phase.Number)
	assert.Equal(t, "NORMAL", cycle.Regime.Name)
	for _, sig := range cycle.Signals {
		assert.Equal(t, domain.SignalEntry, sig.Type)
		assert.Equal(t, domain.RationaleEntryWindow, sig.Rationale)
		assert.GreaterOrEqual(t, sig.Quantity, 1)
		assert.True(t, sig.RiskAmount.Sign() > 0)
	}
}

func TestEvaluateEntriesOutsideWindowIsQuiet(t *testing.T) {
	// Default catalog, phase 1 capital, VIX 18, on a Wednesday evening:
	// every strategy is either phase locked or outside its entry window.
	cat, err := catalog.New(catalog.Default())
	require.NoError(t, err)
	eng, err := New(Options{Catalog: cat})
	require.NoError(t, err)

	evening := time.Date(2026, time.January, 7, 23, 0, 0, 0, time.UTC) // 18:00 New York
	cycle, err := eng.EvaluateEntriesDetailed(context.Background(), account(35000), freshSnapshot(18, evening), evening)
	require.NoError(t, err)

	assert.Empty(t, cycle.Signals)
	assert.Equal(t, 1, cycle.Phase.Phase.Number)
	for _, eval := range cycle.Evaluations {
		assert.False(t, eval.Passed)
		assert.Contains(t, []domain.Rationale{domain.RationalePhaseLocked, domain.RationaleWindowClosed}, eval.Blocked,
			"strategy %s blocked for %s", eval.StrategyID, eval.Blocked)
	}
}

func TestCorrelationBlockHappensBeforeSizing(t *testing.T) {
	// Two EQUITIES positions already open at phase 2 (cap 2). The EQUITIES
	// strategies must be refused on the correlation gate, before any sizing
	// runs; the METALS strategy still goes through.
	eng := testEngine(t, testStrategies())
	acct := account(45000,
		openPosition("p1", "ES_STRANGLE", domain.GroupEquities, 40, 0.05, wedNoon),
		openPosition("p2", "SPY_SPREAD", domain.GroupEquities, 40, 0.05, wedNoon),
	)

	cycle, err := eng.EvaluateEntriesDetailed(context.Background(), acct, freshSnapshot(16, wedNoon), wedNoon)
	require.NoError(t, err)

	for _, eval := range cycle.Evaluations {
		switch eval.StrategyID {
		case "ES_STRANGLE", "SPY_SPREAD":
			assert.False(t, eval.Passed)
			assert.Equal(t, domain.RationaleCorrelationBlock, eval.Blocked)
			assert.Nil(t, eval.Sizing, "%s was sized despite the correlation block", eval.StrategyID)
		case "GOLD_STRANGLE":
			assert.True(t, eval.Passed)
		}
	}
	require.Len(t, cycle.Signals, 1)
	assert.Equal(t, "GOLD_STRANGLE", cycle.Signals[0].StrategyID)
}

func TestInCycleReservationBlocksSameGroup(t *testing.T) {
	// One EQUITIES slot free at phase 2: the first EQUITIES strategy takes
	// it via an in-cycle reservation and the second is refused. Rollback
	// keeps the refusal from leaking into the next cycle.
	eng := testEngine(t, testStrategies())
	acct := account(45000, openPosition("p1", "ES_STRANGLE", domain.GroupEquities, 40, 0.05, wedNoon))

	for cycleNo := 0; cycleNo < 2; cycleNo++ {
		cycle, err := eng.EvaluateEntriesDetailed(context.Background(), acct, freshSnapshot(16, wedNoon), wedNoon)
		require.NoError(t, err)

		ids := make([]string, 0, len(cycle.Signals))
		for _, sig := range cycle.Signals {
			ids = append(ids, sig.StrategyID)
		}
		assert.Equal(t, []string{"ES_STRANGLE", "GOLD_STRANGLE"}, ids, "cycle %d", cycleNo)

		spread := cycle.Evaluations[1]
		require.Equal(t, "SPY_SPREAD", spread.StrategyID)
		assert.Equal(t, domain.RationaleCorrelationBlock, spread.Blocked)
	}
}

func TestStaleVIXBlocksEveryEntry(t *testing.T) {
	eng := testEngine(t, testStrategies())
	snap := &domain.MarketSnapshot{
		Timestamp: wedNoon,
		VIX:       16,
		VIXAsOf:   wedNoon.Add(-11 * time.Minute),
	}

	cycle, err := eng.EvaluateEntriesDetailed(context.Background(), account(45000), snap, wedNoon)
	require.NoError(t, err)

	assert.Equal(t, "UNKNOWN", cycle.Regime.Name)
	assert.Empty(t, cycle.Signals)
	for _, eval := range cycle.Evaluations {
		assert.Equal(t, domain.RationaleVIXGate, eval.Blocked, "strategy %s", eval.StrategyID)
	}
}

func TestNilSnapshotFailsClosed(t *testing.T) {
	eng := testEngine(t, testStrategies())
	cycle, err := eng.EvaluateEntriesDetailed(context.Background(), account(45000), nil, wedNoon)
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", cycle.Regime.Name)
	assert.Empty(t, cycle.Signals)
}

func TestEvaluationIsIdempotent(t *testing.T) {
	eng := testEngine(t, testStrategies())
	acct := account(45000)
	snap := freshSnapshot(16, wedNoon)

	first, err := eng.EvaluateEntries(context.Background(), acct, snap, wedNoon)
	require.NoError(t, err)
	second, err := eng.EvaluateEntries(context.Background(), acct, snap, wedNoon)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.NotEmpty(t, first)
	assert.Equal(t, fmt.Sprintf("entry-ES_STRANGLE-%d", wedNoon.Unix()), first[0].ID)
}

func TestPortfolioValidationTrimsLowestPriority(t *testing.T) {
	// Three passing strategies but only BP headroom for two: the validator
	// sheds the lowest-priority candidate and tags its evaluation. Each
	// candidate fits under the NORMAL ceiling of 0.65 on its own; the set
	// as a whole does not.
	eng := testEngine(t, testStrategies())
	acct := account(45000)
	acct.BPUsed = 0.52

	cycle, err := eng.EvaluateEntriesDetailed(context.Background(), acct, freshSnapshot(16, wedNoon), wedNoon)
	require.NoError(t, err)

	require.NotEmpty(t, cycle.Rejections)
	for _, rej := range cycle.Rejections {
		eval := cycle.Evaluations[findEval(t, cycle, rej.Candidate.Signal.StrategyID)]
		assert.False(t, eval.Passed)
		assert.Nil(t, eval.Signal)
		assert.NotEqual(t, domain.RationaleNone, eval.Blocked)
	}
	for _, sig := range cycle.Signals {
		for _, rej := range cycle.Rejections {
			assert.NotEqual(t, rej.Candidate.Signal.StrategyID, sig.StrategyID)
		}
	}
}

func findEval(t *testing.T, cycle *EntryCycle, strategyID string) int {
	t.Helper()
	for i, eval := range cycle.Evaluations {
		if eval.StrategyID == strategyID {
			return i
		}
	}
	t.Fatalf("no evaluation for %s", strategyID)
	return -1
}

func TestCorruptedBookAbortsTheCycle(t *testing.T) {
	// Three EQUITIES positions against the phase-2 cap of two: the cycle
	// must abort loudly instead of trading on a corrupted book.
	eng := testEngine(t, testStrategies())
	acct := account(45000,
		openPosition("p1", "ES_STRANGLE", domain.GroupEquities, 40, 0.05, wedNoon),
		openPosition("p2", "SPY_SPREAD", domain.GroupEquities, 40, 0.05, wedNoon),
		openPosition("p3", "ES_STRANGLE", domain.GroupEquities, 40, 0.05, wedNoon),
	)

	_, err := eng.EvaluateEntriesDetailed(context.Background(), acct, freshSnapshot(16, wedNoon), wedNoon)
	require.Error(t, err)
	assert.True(t, domain.IsInvariantViolation(err))
}

func TestEvaluateExitsEmitsDefensiveSignal(t *testing.T) {
	eng := testEngine(t, testStrategies())
	acct := account(45000,
		openPosition("old", "ES_STRANGLE", domain.GroupEquities, 20, 0.05, wedNoon),
		openPosition("young", "GOLD_STRANGLE", domain.GroupMetals, 44, 0.02, wedNoon),
	)

	cycle, err := eng.EvaluateExitsDetailed(context.Background(), acct, freshSnapshot(16, wedNoon), wedNoon)
	require.NoError(t, err)

	assert.Equal(t, "NORMAL", cycle.Regime.Name)
	require.Len(t, cycle.Signals, 1)
	sig := cycle.Signals[0]
	assert.Equal(t, domain.SignalExit, sig.Type)
	assert.Equal(t, "old", sig.PositionID)
	assert.Equal(t, domain.RationaleDTEDefensiveExit, sig.Rationale)
	assert.Equal(t, domain.GroupEquities, sig.Group)
	assert.Equal(t, 1, sig.Quantity)
}

func TestEvaluateExitsWithoutMarketData(t *testing.T) {
	// The exit rules run on position marks and the clock: the defensive
	// DTE rule still fires when every feed is down, and the trace records
	// the fail-closed regime.
	eng := testEngine(t, testStrategies())
	pos := openPosition("old", "ES_STRANGLE", domain.GroupEquities, 15, 0.05, wedNoon)
	pos.MarkedAt = time.Time{} // no usable mark at all

	cycle, err := eng.EvaluateExitsDetailed(context.Background(), account(45000, pos), nil, wedNoon)
	require.NoError(t, err)
	require.Len(t, cycle.Signals, 1)
	assert.Equal(t, domain.RationaleDTEDefensiveExit, cycle.Signals[0].Rationale)
	assert.True(t, cycle.Regime.BlocksEntries)
}

func TestCancelledContextStopsTheCycle(t *testing.T) {
	eng := testEngine(t, testStrategies())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.EvaluateEntries(ctx, account(45000), freshSnapshot(16, wedNoon), wedNoon)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = eng.EvaluateExits(ctx, account(45000), nil, wedNoon)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNilAccountRejected(t *testing.T) {
	eng := testEngine(t, testStrategies())
	_, err := eng.EvaluateEntries(context.Background(), nil, freshSnapshot(16, wedNoon), wedNoon)
	require.Error(t, err)
	_, err = eng.EvaluateExits(context.Background(), nil, nil, wedNoon)
	require.Error(t, err)
}
