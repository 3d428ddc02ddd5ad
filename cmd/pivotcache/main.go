package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pivotcache-lab/pivotcache/internal/collect"
	"github.com/pivotcache-lab/pivotcache/internal/core/cachekey"
	corecfg "github.com/pivotcache-lab/pivotcache/internal/core/config"
	"github.com/pivotcache-lab/pivotcache/internal/core/function"
	"github.com/pivotcache-lab/pivotcache/internal/core/plan"
	"github.com/pivotcache-lab/pivotcache/internal/core/storage/postgres"
	"github.com/pivotcache-lab/pivotcache/internal/evaluate"
	"github.com/pivotcache-lab/pivotcache/internal/executor"
	"github.com/pivotcache-lab/pivotcache/internal/migrations"
	"github.com/pivotcache-lab/pivotcache/internal/refresh"
	"github.com/pivotcache-lab/pivotcache/internal/server"
	"github.com/pivotcache-lab/pivotcache/internal/workbook"
)

func main() {
	configPath := flag.String("config", "pivotcache.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Initialize Cache Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Function Registry
	registry, err := function.NewRegistry(cfg.FunctionLoading.Descriptors)
	if err != nil {
		slog.Error("Failed to build function registry", "error", err)
		os.Exit(1)
	}
	slog.Info("Function registry initialized", "functions", len(cfg.FunctionLoading.Descriptors))

	// 4. Initialize Query Executor (DuckDB)
	exec, err := executor.OpenDuckDB(cfg.Executor.DSN)
	if err != nil {
		slog.Error("Failed to initialize query executor", "error", err)
		os.Exit(1)
	}
	defer exec.Close()

	keys := cachekey.NewBuilder(cfg.Engine.YearMin, cfg.Engine.YearMax)
	fragments := plan.FragmentBuilder{Keys: keys}

	// 5. Initialize Refresh Orchestration (optional, needs a workbook)
	var refresher *refresh.Orchestrator
	if cfg.Workbook.Path != "" {
		source, err := workbook.Open(cfg.Workbook.Path)
		if err != nil {
			slog.Error("Failed to open workbook", "path", cfg.Workbook.Path, "error", err)
			os.Exit(1)
		}
		defer source.Close()

		collector := collect.New(registry, keys, source)
		refresher = refresh.New(collector, fragments, dbAdapter, exec, nil,
			cfg.Engine.MinPoolSize, cfg.Engine.MaxQueryLength)
		slog.Info("Refresh orchestrator initialized", "workbook", cfg.Workbook.Path)
	} else {
		slog.Info("No workbook configured, refresh endpoint disabled")
	}

	// 6. Initialize Evaluation (query API)
	evaluateSvc := evaluate.NewService(registry, keys, fragments, dbAdapter, exec, refresher, cfg.Engine.FetchOnMiss)

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)
	evaluateSvc.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
