package risk

import (
	"github.com/tomking/trading/internal/correlation"
	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/phase"
)

// DisasterGuard is the entry-side enforcement of the correlation cap, the
// rule written after August 2024 concentrated one day's loss in correlated
// equity-futures strangles. It wraps the tracker so every caller asks the
// same question the same way, and it is never bypassed or softened: not
// for low VIX, not for high win rates, not for partial fills.
type DisasterGuard struct {
	tracker *correlation.Tracker
}

// NewDisasterGuard builds a guard; a nil tracker gets a fresh one.
func NewDisasterGuard(tracker *correlation.Tracker) *DisasterGuard {
	if tracker == nil {
		tracker = correlation.NewTracker()
	}
	return &DisasterGuard{tracker: tracker}
}

// Begin resyncs the tracker from the account book at cycle start. A count
// already above the phase cap means the book was corrupted outside the
// engine and aborts the cycle.
func (g *DisasterGuard) Begin(account *domain.AccountState, ph phase.Phase) error {
	return g.tracker.SyncPositions(account.Positions, ph)
}

// CanOpen reports whether one more position in group fits under the cap,
// counting confirmed positions and this cycle's reservations.
func (g *DisasterGuard) CanOpen(group domain.CorrelationGroup, ph phase.Phase) bool {
	return g.tracker.CanOpen(group, ph)
}

// Reserve tentatively claims a slot for a candidate within the current
// cycle so later candidates in the same group see it.
func (g *DisasterGuard) Reserve(group domain.CorrelationGroup) {
	g.tracker.Reserve(group)
}

// Rollback reverts every in-cycle reservation. Called before evaluation
// returns; re-running the same cycle afterwards yields identical output.
func (g *DisasterGuard) Rollback() {
	g.tracker.ReleaseReservations()
}

// Confirm registers an entry the execution collaborator actually applied.
func (g *DisasterGuard) Confirm(group domain.CorrelationGroup) {
	g.tracker.Register(group)
}

// ReleaseClosed removes a closed position from the confirmed counts.
func (g *DisasterGuard) ReleaseClosed(group domain.CorrelationGroup) {
	g.tracker.Release(group)
}

// Counts returns the confirmed per-group counts.
func (g *DisasterGuard) Counts() map[domain.CorrelationGroup]int {
	return g.tracker.Counts()
}
