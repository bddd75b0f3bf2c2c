package application

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomking/trading/internal/catalog"
	"github.com/tomking/trading/internal/config"
	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/engine"
	httpapi "github.com/tomking/trading/internal/interfaces/http"
	"github.com/tomking/trading/internal/marketdata"
	"github.com/tomking/trading/internal/persistence"
	"github.com/tomking/trading/internal/sizing"
)

// One registry per test binary; prometheus rejects duplicate registration.
var testMetrics = httpapi.NewMetricsRegistry()

// thuNoon is a Thursday 12:00 in New York (17:00 UTC, winter).
var thuNoon = time.Date(2026, time.January, 8, 17, 0, 0, 0, time.UTC)

// testCatalog keeps sizing deterministic: at 45k capital in a NORMAL
// regime the gold strangle sizes to three contracts and both equities
// entries size to one.
func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	anyWeekday := catalog.EntryWindow{Open: 10 * 60, Close: 15 * 60}
	cat, err := catalog.New([]catalog.Strategy{
		{
			ID: "ES_STRANGLE", Name: "ES strangle", Symbol: "ES", MinPhase: 1,
			Group:  domain.GroupEquities,
			Window: anyWeekday,
			TargetDTE: 45, WinRate: 0.72, WinLossRatio: 0.60,
			ProfitTarget: 0.50, StopLossMultiple: 2.0,
			RiskModel:     sizing.RiskModelMargin,
			PerContractBP: decimal.NewFromInt(2500), PerContractRisk: decimal.NewFromInt(1500),
			ContractMultiplier: 50,
		},
		{
			ID: "GOLD_STRANGLE", Name: "Gold strangle", Symbol: "MGC", MinPhase: 1,
			Group:  domain.GroupMetals,
			Window: anyWeekday,
			TargetDTE: 45, WinRate: 0.72, WinLossRatio: 0.60,
			ProfitTarget: 0.50, StopLossMultiple: 2.0,
			RiskModel:     sizing.RiskModelMargin,
			PerContractBP: decimal.NewFromInt(900), PerContractRisk: decimal.NewFromInt(700),
			ContractMultiplier: 10,
		},
	})
	require.NoError(t, err)
	return cat
}

func testApp(t *testing.T, history []domain.MarketSnapshot) *App {
	t.Helper()
	eng, err := engine.New(engine.Options{Catalog: testCatalog(t)})
	require.NoError(t, err)
	return &App{
		Config:   config.DefaultFramework(),
		Catalog:  eng.Catalog(),
		Engine:   eng,
		Provider: marketdata.NewReplay(history),
		Metrics:  testMetrics,
	}
}

func testJournal(t *testing.T, repo persistence.SignalsRepo) *SignalJournal {
	t.Helper()
	journal, err := NewSignalJournal(t.TempDir(), "paper-test", repo)
	require.NoError(t, err)
	return journal
}

func freshSnapshot(vix float64, now time.Time) domain.MarketSnapshot {
	return domain.MarketSnapshot{Timestamp: now, VIX: vix, VIXAsOf: now.Add(-time.Minute)}
}

func TestRunnerCycleOpensAndJournals(t *testing.T) {
	history := []domain.MarketSnapshot{freshSnapshot(17, thuNoon)}
	journal := testJournal(t, nil)
	runner := NewRunner(testApp(t, history), journal).
		WithClock(func() time.Time { return thuNoon })

	require.NoError(t, runner.RunCycle(context.Background()))

	account, ok := runner.LatestAccount()
	require.True(t, ok)
	assert.Equal(t, 2, account.OpenCount(), "both strategies should open")

	snap, ok := runner.LatestSnapshot()
	require.True(t, ok)
	assert.Equal(t, 17.0, snap.VIX)

	recs := readJournal(t, journal, thuNoon)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, "paper-test", rec.RunID)
		assert.Equal(t, "ENTRY", rec.Type)
		assert.Equal(t, "NORMAL", rec.RegimeName)
		assert.Equal(t, 17.0, rec.VIX)
	}

	// Position IDs come from the paper ledger, not the replay book.
	assert.Equal(t, "paper-0001", runner.Book().Account().Positions[0].ID)
}

func TestRunnerSecondCycleDoesNotReenter(t *testing.T) {
	day2 := thuNoon.Add(24 * time.Hour)
	history := []domain.MarketSnapshot{
		freshSnapshot(17, thuNoon),
		freshSnapshot(17.5, day2),
	}
	journal := testJournal(t, nil)

	now := thuNoon
	runner := NewRunner(testApp(t, history), journal).
		WithClock(func() time.Time { return now })

	require.NoError(t, runner.RunCycle(context.Background()))
	now = day2
	require.NoError(t, runner.RunCycle(context.Background()))

	account, _ := runner.LatestAccount()
	assert.Equal(t, 2, account.OpenCount(), "open strategies must not re-enter")

	// Day two emitted nothing: same strategies, both already open.
	assert.Len(t, readJournal(t, journal, thuNoon), 2)
	_, err := os.Stat(journalPath(journal, day2))
	assert.True(t, os.IsNotExist(err), "no journal file for a signal-free day")
}

func TestRunnerCycleWithoutDataBlocksEntries(t *testing.T) {
	journal := testJournal(t, nil)
	runner := NewRunner(testApp(t, nil), journal).
		WithClock(func() time.Time { return thuNoon })

	require.NoError(t, runner.RunCycle(context.Background()))

	account, ok := runner.LatestAccount()
	require.True(t, ok)
	assert.Equal(t, 0, account.OpenCount(), "no entries without market data")

	_, ok = runner.LatestSnapshot()
	assert.False(t, ok)
}

func TestRunnerStaleSnapshotBlocksEntries(t *testing.T) {
	stale := domain.MarketSnapshot{
		Timestamp: thuNoon,
		VIX:       17,
		VIXAsOf:   thuNoon.Add(-2 * time.Hour),
	}
	journal := testJournal(t, nil)
	runner := NewRunner(testApp(t, []domain.MarketSnapshot{stale}), journal).
		WithClock(func() time.Time { return thuNoon })

	require.NoError(t, runner.RunCycle(context.Background()))

	account, _ := runner.LatestAccount()
	assert.Equal(t, 0, account.OpenCount(), "stale VIX must fail closed")
	_, ok := runner.LatestSnapshot()
	assert.False(t, ok, "a stale snapshot is never published")
}

type capturingRepo struct {
	persistence.SignalsRepo
	batches [][]persistence.SignalRecord
}

func (r *capturingRepo) InsertBatch(_ context.Context, recs []persistence.SignalRecord) error {
	r.batches = append(r.batches, recs)
	return nil
}

func TestRunnerPersistsBatchesThroughRepo(t *testing.T) {
	history := []domain.MarketSnapshot{freshSnapshot(17, thuNoon)}
	repo := &capturingRepo{}
	runner := NewRunner(testApp(t, history), testJournal(t, repo)).
		WithClock(func() time.Time { return thuNoon })

	require.NoError(t, runner.RunCycle(context.Background()))

	require.Len(t, repo.batches, 1)
	assert.Len(t, repo.batches[0], 2)
	assert.Equal(t, "paper-test", repo.batches[0][0].RunID)
}

func journalPath(j *SignalJournal, day time.Time) string {
	return filepath.Join(j.dir, "signals_"+day.UTC().Format("20060102")+".jsonl")
}

func readJournal(t *testing.T, j *SignalJournal, day time.Time) []persistence.SignalRecord {
	t.Helper()
	f, err := os.Open(journalPath(j, day))
	require.NoError(t, err)
	defer f.Close()

	var recs []persistence.SignalRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec persistence.SignalRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		recs = append(recs, rec)
	}
	require.NoError(t, scanner.Err())
	return recs
}
