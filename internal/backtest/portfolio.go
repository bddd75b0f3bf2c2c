package backtest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/catalog"
	"github.com/tomking/trading/internal/domain"
)

// TradeRecord is one completed round trip.
type TradeRecord struct {
	PositionID string          `json:"position_id"`
	StrategyID string          `json:"strategy_id"`
	Symbol     string          `json:"symbol"`
	Group      string          `json:"group"`
	Quantity   int             `json:"quantity"`
	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   time.Time       `json:"closed_at"`
	EntryVIX   float64         `json:"entry_vix"`
	GrossPL    decimal.Decimal `json:"gross_pl"`
	Costs      decimal.Decimal `json:"costs"`
	NetPL      decimal.Decimal `json:"net_pl"`
	ExitReason string          `json:"exit_reason"`
}

// Book is the simulated account. It opens positions from entry signals,
// closes them from exit signals, settles expiries, and tracks realized
// P&L and per-position friction costs.
type Book struct {
	capital    decimal.Decimal
	commission decimal.Decimal
	slippage   decimal.Decimal
	model      CreditModel
	cat        *catalog.Catalog
	prefix     string

	positions []domain.OpenPosition
	entryVIX  map[string]float64
	trades    []TradeRecord
	realized  decimal.Decimal
	seq       int
}

// NewBook builds a book with starting capital and per-contract friction.
// commission and slippage are charged per contract per side.
func NewBook(capital decimal.Decimal, commission, slippage decimal.Decimal, model CreditModel, cat *catalog.Catalog) *Book {
	return &Book{
		capital:    capital,
		commission: commission,
		slippage:   slippage,
		model:      model,
		cat:        cat,
		prefix:     "bt",
		entryVIX:   make(map[string]float64),
	}
}

// WithIDPrefix overrides the position ID prefix. The paper runner uses
// this to keep live-paper position IDs distinguishable from replays.
func (b *Book) WithIDPrefix(prefix string) *Book {
	if prefix != "" {
		b.prefix = prefix
	}
	return b
}

// Account assembles the engine's view of the book. Only active positions
// count toward buying power and unrealized P&L.
func (b *Book) Account() *domain.AccountState {
	bp := 0.0
	unrealized := decimal.Zero
	positions := make([]domain.OpenPosition, len(b.positions))
	copy(positions, b.positions)
	for i := range b.positions {
		if b.positions[i].State == domain.PositionClosed {
			continue
		}
		bp += b.positions[i].BPFraction
		unrealized = unrealized.Add(b.positions[i].UnrealizedPL())
	}
	return &domain.AccountState{
		Capital:      b.capital.Add(b.realized),
		Positions:    positions,
		RealizedPL:   b.realized,
		UnrealizedPL: unrealized,
		BPUsed:       bp,
	}
}

// Equity is capital plus realized and unrealized P&L.
func (b *Book) Equity() decimal.Decimal {
	eq := b.capital.Add(b.realized)
	for i := range b.positions {
		if b.positions[i].State == domain.PositionClosed {
			continue
		}
		eq = eq.Add(b.positions[i].UnrealizedPL())
	}
	return eq
}

// Trades returns the completed round trips.
func (b *Book) Trades() []TradeRecord {
	return b.trades
}

// HasOpen reports whether a strategy already has an open position. One
// position per strategy keeps replays readable; the engine itself does
// not impose this.
func (b *Book) HasOpen(strategyID string) bool {
	for i := range b.positions {
		if b.positions[i].StrategyID == strategyID && b.positions[i].State != domain.PositionClosed {
			return true
		}
	}
	return false
}

// Open books an entry signal at the model credit.
func (b *Book) Open(sig domain.Signal, snap *domain.MarketSnapshot, now time.Time) error {
	strat, ok := b.cat.Get(sig.StrategyID)
	if !ok {
		return fmt.Errorf("entry signal for unknown strategy %s", sig.StrategyID)
	}

	b.seq++
	id := fmt.Sprintf("%s-%04d", b.prefix, b.seq)
	credit := b.model.EntryCredit(strat)

	expiry := now.Add(time.Duration(strat.TargetDTE) * 24 * time.Hour)
	if strat.SameDayExpiry {
		// Same-day structures settle at the close of the entry session.
		y, m, d := now.In(b.cat.Location()).Date()
		expiry = time.Date(y, m, d, 16, 0, 0, 0, b.cat.Location())
	}

	b.positions = append(b.positions, domain.OpenPosition{
		ID:                 id,
		StrategyID:         strat.ID,
		Symbol:             strat.Symbol,
		Group:              strat.Group,
		OpenedAt:           now,
		Expiry:             expiry,
		EntryCredit:        credit,
		CurrentCredit:      credit,
		Quantity:           sig.Quantity,
		ContractMultiplier: strat.ContractMultiplier,
		MaxLossPerContract: strat.PerContractRisk,
		BPFraction:         sig.BPFraction,
		State:              domain.PositionActive,
		MarkedAt:           now,
	})
	b.entryVIX[id] = snap.VIX
	return nil
}

// Remark refreshes every open position's mark from the snapshot.
func (b *Book) Remark(snap *domain.MarketSnapshot, now time.Time) {
	for i := range b.positions {
		pos := &b.positions[i]
		if pos.State == domain.PositionClosed {
			continue
		}
		strat, ok := b.cat.Get(pos.StrategyID)
		if !ok {
			continue
		}
		pos.CurrentCredit = b.model.Mark(*pos, strat, snap.VIX, b.entryVIX[pos.ID], now)
		pos.MarkedAt = now
	}
}

// Close books an exit signal at the current mark.
func (b *Book) Close(sig domain.Signal, now time.Time) error {
	for i := range b.positions {
		pos := &b.positions[i]
		if pos.ID != sig.PositionID || pos.State == domain.PositionClosed {
			continue
		}
		b.close(pos, sig.Rationale.String(), now)
		return nil
	}
	return fmt.Errorf("exit signal for unknown position %s", sig.PositionID)
}

// CloseAll liquidates every open position at its current mark.
func (b *Book) CloseAll(reason string, now time.Time) {
	for i := range b.positions {
		pos := &b.positions[i]
		if pos.State == domain.PositionClosed {
			continue
		}
		b.close(pos, reason, now)
	}
}

// SettleExpired closes positions whose expiry has passed at their last
// mark, tagged as expiries rather than rule exits.
func (b *Book) SettleExpired(now time.Time) {
	for i := range b.positions {
		pos := &b.positions[i]
		if pos.State == domain.PositionClosed || pos.Expiry.After(now) {
			continue
		}
		b.close(pos, "EXPIRED", now)
	}
}

func (b *Book) close(pos *domain.OpenPosition, reason string, now time.Time) {
	gross := pos.UnrealizedPL()
	// Per contract, per side: entry and exit both pay up.
	perContract := b.commission.Add(b.slippage)
	costs := perContract.Mul(decimal.NewFromInt(int64(pos.Quantity * 2)))
	net := gross.Sub(costs)

	b.realized = b.realized.Add(net)
	b.trades = append(b.trades, TradeRecord{
		PositionID: pos.ID,
		StrategyID: pos.StrategyID,
		Symbol:     pos.Symbol,
		Group:      string(pos.Group),
		Quantity:   pos.Quantity,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   now,
		EntryVIX:   b.entryVIX[pos.ID],
		GrossPL:    gross,
		Costs:      costs,
		NetPL:      net,
		ExitReason: reason,
	})
	delete(b.entryVIX, pos.ID)
	pos.State = domain.PositionClosed
}
