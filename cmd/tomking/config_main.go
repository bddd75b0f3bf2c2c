package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tomking/trading/internal/application"
	"github.com/tomking/trading/internal/catalog"
	"github.com/tomking/trading/internal/config"
	"github.com/tomking/trading/internal/infrastructure/db"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate, show, or scaffold the configuration files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check every configuration file and report problems",
		Long: `Parses the framework, strategies, guards, and database files and
prints every problem and warning. Problems make the command fail;
warnings note legal departures from the canonical settings.`,
		RunE: runConfigValidate,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration and strategy table",
		RunE:  runConfigShow,
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration files",
		RunE:  runConfigInit,
	}
	initCmd.Flags().Bool("force", false, "overwrite files that already exist")
	cmd.AddCommand(initCmd)

	return cmd
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	stratPath, _ := cmd.Flags().GetString("strategies")

	failed := false

	fmt.Printf("framework   %s\n", cfgPath)
	fw, problems, err := config.InspectFramework(cfgPath)
	switch {
	case err != nil:
		failed = true
		fmt.Printf("  error: %v\n", err)
	case len(problems) > 0:
		failed = true
		for _, p := range problems {
			fmt.Printf("  problem: %s\n", p)
		}
	default:
		fmt.Printf("  ok: capital £%.0f, %d phases, %d regime bands\n",
			fw.Account.CapitalGBP, len(fw.Phases), len(fw.Regime.Bands))
	}
	if fw != nil {
		reviewAgainstGuards(fw)
	}

	fmt.Printf("strategies  %s\n", stratPath)
	strat, err := config.LoadStrategies(stratPath)
	if err != nil {
		failed = true
		fmt.Printf("  error: %v\n", err)
	} else if cat, err := strat.ToCatalog(); err != nil {
		failed = true
		fmt.Printf("  problem: %v\n", err)
	} else {
		fmt.Printf("  ok: %d strategies\n", len(cat.Strategies()))
	}

	fmt.Printf("database    %s\n", db.ConfigPath())
	dbCfg, err := db.LoadConfig(db.ConfigPath())
	if err != nil {
		failed = true
		fmt.Printf("  error: %v\n", err)
	} else if err := dbCfg.Validate(); err != nil {
		failed = true
		fmt.Printf("  problem: %v\n", err)
	} else if dbCfg.Enabled {
		fmt.Printf("  ok: postgres persistence enabled\n")
	} else {
		fmt.Printf("  ok: persistence disabled\n")
	}

	if failed {
		return fmt.Errorf("configuration invalid")
	}
	return nil
}

// reviewAgainstGuards prints the advisory notes for a parseable
// framework file: canonical-value warnings, and, when a non-standard
// profile is active, any values outside that tighter envelope. These
// never fail validation; the loader's envelope already did the fatal
// checks.
func reviewAgainstGuards(fw *config.FrameworkConfig) {
	guards, err := config.LoadGuards(config.GuardsConfigPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("  note: %v, using built-in guard profiles\n", err)
		}
		guards = config.DefaultGuards()
	}
	ranges, err := guards.ActiveRanges()
	if err != nil {
		fmt.Printf("  note: %v\n", err)
		return
	}
	for _, note := range ranges.Warnings(fw) {
		fmt.Printf("  note: %s\n", note)
	}
	if guards.Active != "standard" {
		for _, p := range ranges.Check(fw) {
			fmt.Printf("  note (%s profile): %s\n", guards.Active, p)
		}
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	stratPath, _ := cmd.Flags().GetString("strategies")

	cfg, cat, err := application.LoadConfigs(cfgPath, stratPath)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("# framework, resolved with environment overrides\n%s\n", out)

	fmt.Printf("# strategy table, priority order\n")
	fmt.Printf("%-16s %-14s %-6s %-5s %-22s %10s\n", "ID", "GROUP", "PHASE", "DTE", "WINDOW", "BP/CONTRACT")
	for _, s := range cat.Strategies() {
		fmt.Printf("%-16s %-14s %-6d %-5d %-22s %10s\n",
			s.ID, s.Group, s.MinPhase, s.TargetDTE, s.Window, s.PerContractBP.StringFixed(0))
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")

	if err := os.MkdirAll(filepath.Dir(config.FrameworkConfigPath()), 0o755); err != nil {
		return err
	}

	files := []struct {
		path  string
		write func(string) error
	}{
		{config.FrameworkConfigPath(), func(p string) error {
			return config.SaveFramework(config.DefaultFramework(), p)
		}},
		{config.StrategiesConfigPath(), func(p string) error {
			return config.SaveStrategies(config.FromCatalog(catalog.Default()), p)
		}},
		{config.GuardsConfigPath(), func(p string) error {
			return config.SaveGuards(config.DefaultGuards(), p)
		}},
		{db.ConfigPath(), func(p string) error {
			return db.SaveConfig(db.DefaultConfig(), p)
		}},
	}

	for _, f := range files {
		if _, err := os.Stat(f.path); err == nil && !force {
			fmt.Printf("kept  %s (exists; --force overwrites)\n", f.path)
			continue
		}
		if err := f.write(f.path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", f.path)
	}
	return nil
}
