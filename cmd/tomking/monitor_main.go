package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tomking/trading/internal/application"
	httpapi "github.com/tomking/trading/internal/interfaces/http"
	"github.com/tomking/trading/internal/persistence"
)

// runMonitor serves the monitoring endpoints apart from the trading
// loop. The latest snapshot comes from the shared redis cache that the
// paper loop publishes into; position state stays with the loop, so the
// positions surface reports unavailable here.
func runMonitor(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	stratPath, _ := cmd.Flags().GetString("strategies")
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

	if app.Snapshots == nil {
		return fmt.Errorf("monitor mode needs redis; set redis.addr or TK_REDIS_ADDR")
	}
	state := application.NewCachedState(app.Snapshots, metrics)

	var dbHealth persistence.RepositoryHealth
	if app.DB.IsEnabled() {
		dbHealth = app.DB.Health()
	}
	health := httpapi.NewHealthHandler(app.Engine, state, dbHealth, version, buildStamp)

	serverCfg := httpapi.DefaultServerConfig()
	serverCfg.Listen = cfg.HTTP.Listen
	server, err := httpapi.NewServer(serverCfg, app.Engine, state, metrics, health)
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("health", fmt.Sprintf("http://%s/health", server.GetAddress())).
			Str("metrics", fmt.Sprintf("http://%s/metrics", server.GetAddress())).
			Str("regime", fmt.Sprintf("http://%s/regime", server.GetAddress())).
			Str("catalog", fmt.Sprintf("http://%s/catalog", server.GetAddress())).
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
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
		return err
	}

	log.Info().Msg("monitor shutdown complete")
	return nil
}
