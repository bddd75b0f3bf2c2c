package application

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/persistence"
	"github.com/tomking/trading/internal/regime"
)

// SignalJournal records every emitted signal. Each cycle's batch appends
// to a JSONL file per day; when a signals repository is configured the
// batch is also written there. The journal is an audit trail, not a
// gate: a failed write is reported but never blocks the loop, the
// decision has already been made.
type SignalJournal struct {
	dir   string
	runID string
	repo  persistence.SignalsRepo
}

// NewSignalJournal creates the journal directory if needed. repo may be
// nil for file-only operation.
func NewSignalJournal(dir, runID string, repo persistence.SignalsRepo) (*SignalJournal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals dir: %w", err)
	}
	return &SignalJournal{dir: dir, runID: runID, repo: repo}, nil
}

// RunID returns the identifier stamped on every record.
func (j *SignalJournal) RunID() string {
	return j.runID
}

// Record writes one cycle's signals to every configured sink. The
// snapshot may be nil when the cycle ran without market data; exit
// signals still carry the regime the classifier fell back to.
func (j *SignalJournal) Record(ctx context.Context, signals []domain.Signal, snap *domain.MarketSnapshot, reg regime.VIXRegime, now time.Time) error {
	if len(signals) == 0 {
		return nil
	}

	recs := make([]persistence.SignalRecord, len(signals))
	for i, sig := range signals {
		recs[i] = persistence.SignalRecord{
			RunID:      j.runID,
			SignalID:   sig.ID,
			EmittedAt:  now.UTC(),
			Type:       sig.Type.String(),
			StrategyID: sig.StrategyID,
			Symbol:     sig.Symbol,
			Grp:        string(sig.Group),
			Quantity:   sig.Quantity,
			Rationale:  sig.Rationale.String(),
			PositionID: sig.PositionID,
			RiskAmount: sig.RiskAmount,
			BPFraction: sig.BPFraction,
			RegimeName: reg.Name,
		}
		if snap != nil {
			recs[i].VIX = snap.VIX
		}
	}

	var firstErr error
	if err := j.appendJSONL(recs, now); err != nil {
		firstErr = err
	}
	if j.repo != nil {
		if err := j.repo.InsertBatch(ctx, recs); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("persist signals: %w", err)
		}
	}
	return firstErr
}

func (j *SignalJournal) appendJSONL(recs []persistence.SignalRecord, now time.Time) error {
	path := filepath.Join(j.dir, fmt.Sprintf("signals_%s.jsonl", now.UTC().Format("20060102")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open signal journal: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for i := range recs {
		if err := enc.Encode(&recs[i]); err != nil {
			return fmt.Errorf("append signal journal: %w", err)
		}
	}
	return nil
}
