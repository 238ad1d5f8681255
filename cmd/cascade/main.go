package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/modelcascade/cascade/internal/auth"
	"github.com/modelcascade/cascade/internal/batch"
	"github.com/modelcascade/cascade/internal/config"
	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/experiment"
	"github.com/modelcascade/cascade/internal/gate"
	"github.com/modelcascade/cascade/internal/observability"
	"github.com/modelcascade/cascade/internal/provider"
	"github.com/modelcascade/cascade/internal/router"
	"github.com/modelcascade/cascade/internal/server"
	"github.com/modelcascade/cascade/internal/store"
	"github.com/modelcascade/cascade/internal/store/memory"
	"github.com/modelcascade/cascade/internal/store/sqldb"
	"github.com/modelcascade/cascade/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel()),
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("cascade", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	provider.RegisterBuiltins()
	providers, err := provider.CreateAll(cfg.Providers)
	if err != nil {
		log.Fatalf("Failed to create providers: %v", err)
	}
	if len(providers) == 0 {
		log.Fatal("No providers configured")
	}

	g := gate.New(gate.WithThreshold(cfg.Gate.Threshold))
	metrics := observability.NewMetrics()

	tiers := buildTiers(cfg, providers)
	rt, err := router.New(tiers, g,
		router.WithLogger(logger),
		router.WithObserver(metrics),
		router.WithEscalation(cfg.Escalation.Enabled),
		router.WithTierTimeout(cfg.TierTimeoutDuration()))
	if err != nil {
		log.Fatalf("Failed to create router: %v", err)
	}

	engine, err := experiment.New(providers, g, fallbackTier(cfg, tiers), st,
		experiment.WithLogger(logger),
		experiment.WithMinSamples(cfg.Experiment.MinSamples),
		experiment.WithTierTimeout(cfg.TierTimeoutDuration()))
	if err != nil {
		log.Fatalf("Failed to create experiment engine: %v", err)
	}

	runner, err := batch.NewRunner(batch.EvaluatorFunc(rt.Evaluate), batch.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create batch runner: %v", err)
	}

	var authenticator *auth.Authenticator
	if cfg.Auth.Enabled {
		authenticator = auth.NewAuthenticator(cfg.Auth.APIKeys)
	}

	srv := server.New(cfg.Server.Port, cfg.RequestTimeoutDuration(), logger, authenticator, server.Deps{
		Router:  rt,
		Engine:  engine,
		Batch:   runner,
		Reports: st,
		Metrics: metrics.Handler(),
	})

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	logger.Info("cascade started",
		slog.Int("port", cfg.Server.Port),
		slog.Int("tiers", len(tiers)),
		slog.Bool("escalation", cfg.Escalation.Enabled),
		slog.String("storage", cfg.Storage.Type),
		slog.Bool("auth", cfg.Auth.Enabled))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Storage.Type == "sqlite" {
		return sqldb.New(cfg.Storage.SQLite.Path)
	}
	return memory.New(), nil
}

// buildTiers maps provider configs onto router tiers. Tier order comes from
// Cost; the router sorts.
func buildTiers(cfg *config.Config, providers map[string]domain.Provider) []router.Tier {
	tiers := make([]router.Tier, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		timeout, _ := pc.TimeoutDuration(cfg.TierTimeoutDuration())
		tiers = append(tiers, router.Tier{
			Name:     pc.Name,
			Provider: providers[pc.Name],
			Model:    pc.Model,
			Cost:     pc.Cost,
			Timeout:  timeout,
		})
	}
	return tiers
}

// fallbackTier resolves the experiment fallback: the configured provider, or
// the most expensive tier when unset.
func fallbackTier(cfg *config.Config, tiers []router.Tier) router.Tier {
	if name := cfg.Experiment.FallbackProvider; name != "" {
		for _, t := range tiers {
			if t.Name == name {
				return t
			}
		}
	}
	best := tiers[0]
	for _, t := range tiers[1:] {
		if t.Cost > best.Cost {
			best = t
		}
	}
	return best
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
