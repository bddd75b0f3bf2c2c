package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomking/trading/internal/application"
	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/engine"
)

// evaluateTrace is the JSON shape of one dry evaluation.
type evaluateTrace struct {
	Timestamp time.Time          `json:"timestamp"`
	Capital   string             `json:"capital_gbp"`
	Exits     *engine.ExitCycle  `json:"exits"`
	Entries   *engine.EntryCycle `json:"entries"`
}

// runEvaluate performs one dry cycle: nothing is booked or journaled.
func runEvaluate(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	stratPath, _ := cmd.Flags().GetString("strategies")
	capital, _ := cmd.Flags().GetFloat64("capital")
	positionsPath, _ := cmd.Flags().GetString("positions")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, cat, err := application.LoadConfigs(cfgPath, stratPath)
	if err != nil {
		return err
	}
	if capital > 0 {
		cfg.Account.CapitalGBP = capital
	}

	app, err := application.NewApp(cfg, cat, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	account := &domain.AccountState{Capital: cfg.Capital()}
	if positionsPath != "" {
		positions, err := loadPositions(positionsPath)
		if err != nil {
			return err
		}
		account.Positions = positions
		for _, pos := range positions {
			if pos.State != domain.PositionClosed {
				account.BPUsed += pos.BPFraction
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	snap, err := app.Provider.Snapshot(ctx)
	if err != nil {
		// The engine fails closed on a nil snapshot; show that decision
		// rather than aborting.
		fmt.Fprintf(os.Stderr, "warning: no snapshot (%v); evaluating fail-closed\n", err)
		snap = nil
	}

	exits, err := app.Engine.EvaluateExitsDetailed(ctx, account, snap, now)
	if err != nil {
		return err
	}
	entries, err := app.Engine.EvaluateEntriesDetailed(ctx, account, snap, now)
	if err != nil {
		return err
	}

	if asJSON {
		trace := evaluateTrace{
			Timestamp: now,
			Capital:   cfg.Capital().StringFixed(0),
			Exits:     exits,
			Entries:   entries,
		}
		out, err := json.MarshalIndent(trace, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	printEvaluation(account, snap, exits, entries)
	return nil
}

func printEvaluation(account *domain.AccountState, snap *domain.MarketSnapshot, exits *engine.ExitCycle, entries *engine.EntryCycle) {
	if snap != nil {
		fmt.Printf("Snapshot  VIX %.1f as of %s\n", snap.VIX, snap.VIXAsOf.Format(time.RFC3339))
	} else {
		fmt.Printf("Snapshot  unavailable\n")
	}
	fmt.Printf("Regime    %s (max BP %.0f%%)\n", entries.Regime.Name, entries.Regime.MaxBPUsage*100)
	fmt.Printf("Phase     %d (capital %s, %d open, BP %.1f%%)\n\n",
		entries.Phase.Phase.Number, account.Capital.StringFixed(0), account.OpenCount(), account.BPUsed*100)

	fmt.Printf("Exits (%d positions evaluated):\n", len(exits.Results))
	if len(exits.Signals) == 0 {
		fmt.Printf("  none\n")
	}
	for _, sig := range exits.Signals {
		fmt.Printf("  %-12s CLOSE %-10s %s\n", sig.PositionID, sig.StrategyID, sig.Rationale)
	}

	fmt.Printf("\nEntries:\n")
	for _, eval := range entries.Evaluations {
		if eval.Passed && eval.Signal != nil {
			fmt.Printf("  %-16s PASS   qty %d  risk %s  bp %.1f%%\n",
				eval.StrategyID, eval.Signal.Quantity,
				eval.Signal.RiskAmount.StringFixed(0), eval.Signal.BPFraction*100)
			continue
		}
		reason := "blocked"
		if len(eval.FailureReasons) > 0 {
			reason = eval.FailureReasons[0]
		}
		fmt.Printf("  %-16s -      %s\n", eval.StrategyID, reason)
	}
}

func loadPositions(path string) ([]domain.OpenPosition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read positions file: %w", err)
	}
	var positions []domain.OpenPosition
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("parse positions file: %w", err)
	}
	return positions, nil
}
