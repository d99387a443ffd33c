// Riskengine scores entities against category rule sets and escalates the
// ones that reach their category threshold.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/api"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/archive"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/bus"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/cache"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/decision"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/metrics"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/repository"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/rulefile"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/rules"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/scheduler"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/telemetry"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/velocity"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("RISKENGINE_CONFIG"), "Path to a YAML config file")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("riskengine %s (%s, %s)\n", Version, Commit, BuildDate)
		return
	}

	cfg, err := domain.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)
	shutdownTracing, err := telemetry.Init(context.Background(), cfg.Tracing, Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize tracing: %v\n", err)
		os.Exit(1)
	}

	slog.Info("starting riskengine",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	runErr := run(cfg)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := shutdownTracing(flushCtx); err != nil {
		slog.Warn("failed to flush traces", "error", err)
	}
	cancel()

	if runErr != nil {
		slog.Error("riskengine stopped", "error", runErr)
		os.Exit(1)
	}
	slog.Info("riskengine shutdown complete")
}

func run(cfg *domain.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()

	var auditArchive domain.AuditArchive
	if cfg.Archive.Enabled {
		a, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to initialize archive: %w", err)
		}
		auditArchive = a
		slog.Info("audit archive enabled", "bucket", cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
	}

	registry := rules.NewRegistry(cfg.Engine.MaxDepth)
	if cfg.Rules.SeedFile != "" {
		if err := seedRules(ctx, repo, registry, cfg.Rules.SeedFile); err != nil {
			return err
		}
	}
	res, err := registry.Reload(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("rule registry loaded",
		"rules", res.Loaded,
		"skipped", res.Skipped,
		"fingerprint", res.Fingerprint,
	)

	collector := metrics.New()
	collector.SetRegistry(registry.Count(), res.Version)

	engine := rules.NewEngine(registry, cfg.Engine.MaxWorkers)
	processor := decision.NewProcessor(cfg.Engine)
	pipeline := decision.NewPipeline(engine, processor, decision.Options{
		Repository: repo,
		Cache:      cacheImpl,
		ResultTTL:  cfg.Cache.ResultTTL,
		Velocity:   velocity.NewService(cacheImpl),
		Archive:    auditArchive,
		Bus:        busImpl,
		Metrics:    collector,
	})

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, pipeline, repo)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.Tenants}); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		slog.Info("async worker started", "tenants", cfg.Worker.Tenants)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(cfg.Scheduler.ReloadSpec, func(ctx context.Context) error {
			res, err := registry.Reload(ctx, repo)
			if err != nil {
				return err
			}
			collector.SetRegistry(registry.Count(), res.Version)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		sched.Start()
		slog.Info("scheduled registry reload enabled", "spec", cfg.Scheduler.ReloadSpec)
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, pipeline, collector, Version)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	slog.Info("riskengine is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	if sched != nil {
		sched.Stop()
	}
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return nil
}

// seedRules stores the rules of the seed file that are not stored yet.
func seedRules(ctx context.Context, repo domain.Repository, registry *rules.Registry, path string) error {
	seed, err := rulefile.Load(path, registry.Validator())
	if err != nil {
		return fmt.Errorf("invalid seed file: %w", err)
	}
	created, err := rulefile.Seed(ctx, repo, seed)
	if err != nil {
		return err
	}
	slog.Info("seed rules applied", "file", path, "defined", len(seed), "created", created)
	return nil
}

func setupLogging(cfg domain.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
