package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tomking/trading/internal/application"
	"github.com/tomking/trading/internal/backtest"
	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/infrastructure/db"
	"github.com/tomking/trading/internal/marketdata"
	"github.com/tomking/trading/internal/persistence"
)

// runBacktest replays a history through the full rule set and writes
// the report artifacts. With --csv the recorded history is replayed;
// otherwise a seeded synthetic one is generated.
func runBacktest(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	stratPath, _ := cmd.Flags().GetString("strategies")
	csvPath, _ := cmd.Flags().GetString("csv")
	days, _ := cmd.Flags().GetInt("days")
	seed, _ := cmd.Flags().GetInt64("seed")
	capital, _ := cmd.Flags().GetFloat64("capital")
	outDir, _ := cmd.Flags().GetString("out")

	cfg, cat, err := application.LoadConfigs(cfgPath, stratPath)
	if err != nil {
		return err
	}
	eng, err := application.BuildEngine(cfg, cat)
	if err != nil {
		return err
	}

	var history []domain.MarketSnapshot
	var source string
	if csvPath != "" {
		history, err = marketdata.LoadCSV(csvPath)
		if err != nil {
			return err
		}
		source = csvPath
		log.Info().Str("csv", csvPath).Int("snapshots", len(history)).Msg("history loaded")
	} else {
		if days <= 0 {
			return fmt.Errorf("days must be positive, got %d", days)
		}
		history = marketdata.GenerateHistory(marketdata.GenerateConfig{Days: days, Seed: seed})
		source = fmt.Sprintf("synthetic seed=%d days=%d", seed, days)
		log.Info().Int64("seed", seed).Int("snapshots", len(history)).Msg("history generated")
	}

	btCfg := backtest.DefaultConfig()
	btCfg.InitialCapital = cfg.Account.CapitalGBP
	if capital > 0 {
		btCfg.InitialCapital = capital
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	started := time.Now()
	report, err := backtest.NewRunner(eng, btCfg).Run(ctx, history)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	runDir := filepath.Join(outDir, time.Now().UTC().Format("20060102_150405"))
	if err := report.Write(runDir); err != nil {
		return err
	}

	fmt.Print(report.Summary())
	fmt.Printf("Artifacts: %s\n", runDir)

	log.Info().
		Int("cycles", report.Cycles).
		Int("trades", report.TotalTrades).
		Str("final_equity", report.FinalEquity.StringFixed(0)).
		Dur("elapsed", time.Since(started)).
		Str("artifacts", runDir).
		Msg("replay finished")

	persistReport(report, source)
	return nil
}

// persistReport stores the run's aggregates when the database is
// enabled. The files under the run directory are the primary artifact;
// a persistence failure never fails the replay.
func persistReport(report *backtest.Report, source string) {
	dbCfg, err := db.LoadConfig(db.ConfigPath())
	if err != nil {
		log.Warn().Err(err).Msg("database config unreadable, run not persisted")
		return
	}
	if !dbCfg.Enabled {
		return
	}
	manager, err := db.NewManager(dbCfg)
	if err != nil {
		log.Warn().Err(err).Msg("database unavailable, run not persisted")
		return
	}
	defer manager.Close()

	run := persistence.BacktestRun{
		RunID:          fmt.Sprintf("bt-%s", uuid.New().String()[:8]),
		Source:         source,
		StartedAt:      report.StartedAt,
		FinishedAt:     report.FinishedAt,
		Cycles:         report.Cycles,
		InitialCapital: report.InitialCapital,
		FinalEquity:    report.FinalEquity,
		NetReturn:      report.NetReturn,
		MaxDrawdown:    report.MaxDrawdown,
		TotalTrades:    report.TotalTrades,
		WinRate:        report.WinRate,
		ExitReasons:    report.ExitReasons,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Repository().Backtests.Insert(ctx, &run); err != nil {
		log.Warn().Err(err).Msg("run summary not persisted")
		return
	}
	log.Info().Str("run_id", run.RunID).Msg("run summary persisted")
}
