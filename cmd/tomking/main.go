package main

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/tomking/trading/internal/config"
)

const (
	appName = "tomking"
	version = "v1.2.0"
)

// buildStamp is set at link time; "dev" for local builds.
var buildStamp = "dev"

func main() {
	// .env is optional and the real environment wins over it either way.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Rules-based options income framework",
		Version: version,
		Long: `tomking evaluates a fixed options-selling rule set: phase-gated
strategies, VIX regime limits, fractional Kelly sizing, correlation
caps, and priority-ordered defensive exits.

The framework recommends and journals. It never routes an order.`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level, _ := cmd.Flags().GetString("log-level")
			if lvl, err := zerolog.ParseLevel(level); err == nil {
				zerolog.SetGlobalLevel(lvl)
			}
		},
	}

	// Accept snake_case spellings of the kebab-case flags.
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().String("config", config.FrameworkConfigPath(), "framework config file")
	rootCmd.PersistentFlags().String("strategies", config.StrategiesConfigPath(), "strategy table file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace|debug|info|warn|error)")

	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one evaluation cycle and print the decision trace",
		Long: `Fetches one snapshot from the configured source, runs the exit rules
and the entry gate chain against the given account state, and prints
every gate decision. Nothing is journaled or booked.`,
		RunE: runEvaluate,
	}
	evaluateCmd.Flags().Float64("capital", 0, "account capital override in GBP")
	evaluateCmd.Flags().String("positions", "", "JSON file of open positions")
	evaluateCmd.Flags().Bool("json", false, "emit the full cycle trace as JSON")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the paper trading loop with the monitoring server",
		Long: `Evaluates on the configured interval, books signals against a paper
ledger, journals them, and serves /health, /metrics, /regime,
/positions and /catalog until interrupted.`,
		RunE: runPaper,
	}
	runCmd.Flags().Bool("once", false, "run a single cycle and exit")
	runCmd.Flags().String("listen", "", "HTTP listen address override")

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a quote history through the engine",
		Long: `Replays a recorded CSV history, or a generated one, through the full
rule set and writes the report, trade log, and equity curve.`,
		RunE: runBacktest,
	}
	backtestCmd.Flags().String("csv", "", "replay this CSV history instead of generating one")
	backtestCmd.Flags().Int("days", 60, "trading days to generate when no CSV is given")
	backtestCmd.Flags().Int64("seed", 42, "generator seed; same seed, same history")
	backtestCmd.Flags().Float64("capital", 0, "starting capital override in GBP")
	backtestCmd.Flags().String("out", "out/backtest", "report output directory")

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve the monitoring endpoints from the shared snapshot",
		Long: `Starts the HTTP server apart from the trading loop, reading the
latest snapshot from redis. Needs redis.addr (or TK_REDIS_ADDR) to be
set; the positions surface is unavailable in this mode.`,
		RunE: runMonitor,
	}
	monitorCmd.Flags().String("listen", "", "HTTP listen address override")

	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backtestCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
