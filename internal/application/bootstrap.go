// Package application assembles the framework from its parts: it loads
// the configuration files, builds the engine and the market data
// provider they describe, and drives the paper trading loop behind the
// monitoring surfaces. Nothing in here makes trading decisions; that is
// the engine's job.
package application

import (
	"fmt"
	"time"

	redisv8 "github.com/go-redis/redis/v8"

	"github.com/tomking/trading/internal/catalog"
	"github.com/tomking/trading/internal/config"
	"github.com/tomking/trading/internal/engine"
	"github.com/tomking/trading/internal/exits"
	"github.com/tomking/trading/internal/infrastructure/db"
	httpapi "github.com/tomking/trading/internal/interfaces/http"
	"github.com/tomking/trading/internal/marketdata"
)

// App is the assembled framework. Construction is all-or-nothing: a
// configuration that fails validation or a provider that cannot be
// built never yields a partially wired App.
type App struct {
	Config    *config.FrameworkConfig
	Catalog   *catalog.Catalog
	Engine    *engine.Engine
	Provider  marketdata.Provider
	Stream    *marketdata.QuoteStream
	DB        *db.Manager
	Metrics   *httpapi.MetricsRegistry
	Snapshots *marketdata.SnapshotCache

	redis *redisv8.Client
}

// LoadConfigs reads and validates the framework and strategy files.
func LoadConfigs(frameworkPath, strategiesPath string) (*config.FrameworkConfig, *catalog.Catalog, error) {
	cfg, err := config.LoadFramework(frameworkPath)
	if err != nil {
		return nil, nil, err
	}
	strats, err := config.LoadStrategies(strategiesPath)
	if err != nil {
		return nil, nil, err
	}
	cat, err := strats.ToCatalog()
	if err != nil {
		return nil, nil, err
	}
	return cfg, cat, nil
}

// BuildEngine constructs the decision engine the configuration
// describes. Replays and one-shot evaluations use this without the rest
// of the App.
func BuildEngine(cfg *config.FrameworkConfig, cat *catalog.Catalog) (*engine.Engine, error) {
	bands, unknown := cfg.RegimeBands()
	return engine.New(engine.Options{
		Phases:    cfg.PhaseTable(),
		Bands:     bands,
		Unknown:   unknown,
		VIXMaxAge: cfg.VIXMaxAge(),
		Catalog:   cat,
		Sizing:    cfg.SizingConfig(),
		Exits: exits.Config{
			DefensiveExitDTE:  cfg.Engine.DefensiveExitDTE,
			MarkMaxAgeSeconds: cfg.Engine.VIXMaxAgeSeconds,
		},
	})
}

// NewApp wires the engine and its collaborators from a validated
// configuration. metrics may be nil for one-shot tools that export
// nothing; the paper runner and the monitor always pass a registry.
func NewApp(cfg *config.FrameworkConfig, cat *catalog.Catalog, metrics *httpapi.MetricsRegistry) (*App, error) {
	eng, err := BuildEngine(cfg, cat)
	if err != nil {
		return nil, err
	}

	provider, stream, err := buildProvider(cfg, cat, metrics)
	if err != nil {
		return nil, err
	}

	dbCfg, err := db.LoadConfig(db.ConfigPath())
	if err != nil {
		return nil, err
	}
	manager, err := db.NewManager(dbCfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:   cfg,
		Catalog:  cat,
		Engine:   eng,
		Provider: provider,
		Stream:   stream,
		DB:       manager,
		Metrics:  metrics,
	}
	if cfg.Redis.Addr != "" {
		app.redis = redisv8.NewClient(&redisv8.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		app.Snapshots = marketdata.NewSnapshotCache(app.redis, cfg.RedisTTL())
	}
	return app, nil
}

// Close releases the connections the App owns. Safe to call on a
// partially used App.
func (a *App) Close() {
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// buildProvider constructs the snapshot source the configuration names.
// The cboe source layers the quote stream and the on-demand fetcher over
// the delayed-quote client; csv and synthetic need no network at all.
func buildProvider(cfg *config.FrameworkConfig, cat *catalog.Catalog, metrics *httpapi.MetricsRegistry) (marketdata.Provider, *marketdata.QuoteStream, error) {
	switch cfg.MarketData.Source {
	case "csv":
		history, err := marketdata.LoadCSV(cfg.MarketData.CSVPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load csv history: %w", err)
		}
		return marketdata.NewReplay(history), nil, nil

	case "synthetic":
		return marketdata.NewSynthetic(nil), nil, nil

	case "cboe":
		mdCfg := marketdata.DefaultCBOEConfig()
		if cfg.MarketData.CBOE.BaseURL != "" {
			mdCfg.BaseURL = cfg.MarketData.CBOE.BaseURL
		}
		if cfg.MarketData.CBOE.RPS > 0 {
			mdCfg.RPS = cfg.MarketData.CBOE.RPS
		}
		if cfg.MarketData.CBOE.Burst > 0 {
			mdCfg.Burst = cfg.MarketData.CBOE.Burst
		}
		if cfg.MarketData.CBOE.TimeoutMS > 0 {
			mdCfg.Timeout = time.Duration(cfg.MarketData.CBOE.TimeoutMS) * time.Millisecond
		}

		cache := meterCache(marketdata.NewCache(cfg.Redis.Addr, cfg.Redis.DB), metrics)
		client := marketdata.NewCBOEClient(mdCfg, cache)

		var stream *marketdata.QuoteStream
		var quotes marketdata.QuoteSource
		if cfg.MarketData.Stream.Enabled {
			stream = marketdata.NewQuoteStream(cfg.MarketData.Stream.URL)
			quotes = stream
		}
		live := marketdata.NewLive(client, quotes).
			WithQuoteFetcher(client, catalogSymbols(cat))
		return live, stream, nil

	default:
		// LoadFramework validates the source, this is unreachable from
		// a loaded configuration.
		return nil, nil, fmt.Errorf("unknown market data source %q", cfg.MarketData.Source)
	}
}

// catalogSymbols collects the distinct symbols the strategy table trades,
// in catalog order.
func catalogSymbols(cat *catalog.Catalog) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, strat := range cat.Strategies() {
		if seen[strat.Symbol] {
			continue
		}
		seen[strat.Symbol] = true
		symbols = append(symbols, strat.Symbol)
	}
	return symbols
}
