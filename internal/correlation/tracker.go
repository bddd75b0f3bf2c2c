// Package correlation enforces the hard per-phase cap on simultaneous open
// positions within one correlation group. The cap is the disaster-prevention
// rule: it is never relaxed for low VIX, high win rates, or any other
// condition.
package correlation

import (
	"sync"

	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/phase"
)

// Tracker counts open positions per correlation group. Confirmed counts come
// from applied entries (Register) or a resync from account positions;
// reservations are in-cycle only, so two candidates in the same group inside
// one evaluation see each other, and are released before the evaluation
// returns.
type Tracker struct {
	mu       sync.Mutex
	counts   map[domain.CorrelationGroup]int
	reserved map[domain.CorrelationGroup]int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		counts:   make(map[domain.CorrelationGroup]int),
		reserved: make(map[domain.CorrelationGroup]int),
	}
}

// SyncPositions rebuilds confirmed counts from the account's open positions
// and drops any stale reservations. A pre-existing count above the phase cap
// means external state corruption and fails loudly.
func (t *Tracker) SyncPositions(positions []domain.OpenPosition, p phase.Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts = make(map[domain.CorrelationGroup]int)
	t.reserved = make(map[domain.CorrelationGroup]int)
	for i := range positions {
		if positions[i].State == domain.PositionClosed {
			continue
		}
		t.counts[positions[i].Group]++
	}
	for group, n := range t.counts {
		if n > p.MaxPerGroup {
			return domain.Invariantf("correlation group %s holds %d positions, phase %d cap is %d",
				group, n, p.Number, p.MaxPerGroup)
		}
	}
	return nil
}

// CanOpen reports whether one more position in group fits under the phase
// cap, counting confirmed positions and in-cycle reservations.
func (t *Tracker) CanOpen(group domain.CorrelationGroup, p phase.Phase) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[group]+t.reserved[group]+1 <= p.MaxPerGroup
}

// Register confirms an opened position in group. Called by the execution
// collaborator when it actually applies an entry signal.
func (t *Tracker) Register(group domain.CorrelationGroup) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[group]++
}

// Release removes a confirmed position from group, typically on close.
// Counts never go negative.
func (t *Tracker) Release(group domain.CorrelationGroup) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[group] > 0 {
		t.counts[group]--
	}
}

// Reserve tentatively claims a slot in group for the current evaluation
// cycle. Reservations are revertible: ReleaseReservations drops them all.
func (t *Tracker) Reserve(group domain.CorrelationGroup) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reserved[group]++
}

// ReleaseReservations reverts every in-cycle reservation, restoring the
// tracker to its confirmed state. Re-evaluating the same inputs afterwards
// yields identical results.
func (t *Tracker) ReleaseReservations() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reserved = make(map[domain.CorrelationGroup]int)
}

// Count returns confirmed plus reserved positions in group.
func (t *Tracker) Count(group domain.CorrelationGroup) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[group] + t.reserved[group]
}

// Counts returns a copy of the confirmed counts per group.
func (t *Tracker) Counts() map[domain.CorrelationGroup]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[domain.CorrelationGroup]int, len(t.counts))
	for g, n := range t.counts {
		out[g] = n
	}
	return out
}
