package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EquityPoint is one cycle's account value.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	VIX       float64         `json:"vix"`
	Open      int             `json:"open_positions"`
}

// Report is the outcome of one replay.
type Report struct {
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	Cycles         int             `json:"cycles"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalEquity    decimal.Decimal `json:"final_equity"`
	NetReturn      float64         `json:"net_return"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	TotalTrades    int             `json:"total_trades"`
	WinningTrades  int             `json:"winning_trades"`
	WinRate        float64         `json:"win_rate"`
	ExitReasons    map[string]int  `json:"exit_reasons"`
	Trades         []TradeRecord   `json:"-"`
	EquityCurve    []EquityPoint   `json:"-"`
}

// finish derives the aggregate metrics from the trade list.
func (r *Report) finish() {
	r.TotalTrades = len(r.Trades)
	for _, tr := range r.Trades {
		if tr.NetPL.Sign() > 0 {
			r.WinningTrades++
		}
		r.ExitReasons[tr.ExitReason]++
	}
	if r.TotalTrades > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades)
	}
	if r.InitialCapital.Sign() > 0 {
		ret, _ := r.FinalEquity.Sub(r.InitialCapital).Div(r.InitialCapital).Float64()
		r.NetReturn = ret
	}
}

// Summary renders the human-readable digest the CLI prints.
func (r *Report) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Replay %s .. %s (%d cycles)\n",
		r.StartedAt.Format("2006-01-02"), r.FinishedAt.Format("2006-01-02"), r.Cycles)
	fmt.Fprintf(&sb, "  Equity    %s -> %s (%+.2f%%)\n",
		r.InitialCapital.StringFixed(0), r.FinalEquity.StringFixed(0), r.NetReturn*100)
	fmt.Fprintf(&sb, "  Drawdown  %.2f%% max\n", r.MaxDrawdown*100)
	fmt.Fprintf(&sb, "  Trades    %d (%d wins, %.1f%% win rate)\n",
		r.TotalTrades, r.WinningTrades, r.WinRate*100)
	if len(r.ExitReasons) > 0 {
		fmt.Fprintf(&sb, "  Exits:\n")
		for _, reason := range sortedReasons(r.ExitReasons) {
			fmt.Fprintf(&sb, "    %-20s %d\n", reason, r.ExitReasons[reason])
		}
	}
	return sb.String()
}

func sortedReasons(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Write persists the report: a summary JSON, the trade log, and the
// equity curve as JSONL, under dir.
func (r *Report) Write(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}

	summary, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.json"), summary, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if err := writeJSONL(filepath.Join(dir, "trades.jsonl"), len(r.Trades), func(i int) interface{} {
		return r.Trades[i]
	}); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(dir, "equity.jsonl"), len(r.EquityCurve), func(i int) interface{} {
		return r.EquityCurve[i]
	})
}

func writeJSONL(path string, n int, row func(int) interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for i := 0; i < n; i++ {
		if err := enc.Encode(row(i)); err != nil {
			return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}
