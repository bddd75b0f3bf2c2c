package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tomking/trading/internal/application"
	httpapi "github.com/tomking/trading/internal/interfaces/http"
	"github.com/tomking/trading/internal/persistence"
)

// runPaper starts the evaluation loop and the monitoring server, and
// shuts both down on SIGINT/SIGTERM.
func runPaper(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	stratPath, _ := cmd.Flags().GetString("strategies")
	once, _ := cmd.Flags().GetBool("once")
	listen, _ := cmd.Flags().GetString("listen")

	cfg, cat, err := application.LoadConfigs(cfgPath, stratPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.HTTP.Listen = listen
	}

	metrics := httpapi.NewMetricsRegistry()
	app, err := application.NewApp(cfg, cat, metrics)
	if err != nil {
		return err
	}
	defer app.Close()

	runID := fmt.Sprintf("paper-%s", uuid.New().String()[:8])
	var repo persistence.SignalsRepo
	if app.DB.IsEnabled() {
		repo = app.DB.Repository().Signals
		log.Info().Msg("signal persistence enabled")
	}
	journal, err := application.NewSignalJournal(cfg.Persistence.SignalsDir, runID, repo)
	if err != nil {
		return err
	}

	runner := application.NewRunner(app, journal)

	if once {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		return runner.RunCycle(ctx)
	}

	var dbHealth persistence.RepositoryHealth
	if app.DB.IsEnabled() {
		dbHealth = app.DB.Health()
	}
	health := httpapi.NewHealthHandler(app.Engine, runner, dbHealth, version, buildStamp)

	serverCfg := httpapi.DefaultServerConfig()
	serverCfg.Listen = cfg.HTTP.Listen
	server, err := httpapi.NewServer(serverCfg, app.Engine, runner, metrics, health)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if app.Stream != nil {
		go app.Stream.Run(ctx)
	}

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		if err := runner.Run(ctx); err != nil {
			log.Error().Err(err).Msg("paper loop terminated")
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("health", fmt.Sprintf("http://%s/health", server.GetAddress())).
			Str("metrics", fmt.Sprintf("http://%s/metrics", server.GetAddress())).
			Str("regime", fmt.Sprintf("http://%s/regime", server.GetAddress())).
			Str("positions", fmt.Sprintf("http://%s/positions", server.GetAddress())).
			Msg("monitoring endpoints available")
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		cancel()
		<-runnerDone
		return fmt.Errorf("server error: %w", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	<-runnerDone

	log.Info().Msg("shutdown complete")
	return nil
}
