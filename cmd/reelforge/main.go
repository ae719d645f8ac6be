// reelforge orchestrates multi-tenant video production pipelines: it claims
// queued tasks, drives them through the asset/video/audio/sfx/assembly/
// upload stages, and serves the HTTP surface external systems talk to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelmedia/reelforge/pkg/alerting"
	"github.com/kestrelmedia/reelforge/pkg/api"
	"github.com/kestrelmedia/reelforge/pkg/channels"
	"github.com/kestrelmedia/reelforge/pkg/cleanup"
	"github.com/kestrelmedia/reelforge/pkg/config"
	"github.com/kestrelmedia/reelforge/pkg/credentials"
	"github.com/kestrelmedia/reelforge/pkg/database"
	"github.com/kestrelmedia/reelforge/pkg/notify"
	"github.com/kestrelmedia/reelforge/pkg/pipeline"
	"github.com/kestrelmedia/reelforge/pkg/planningsync"
	"github.com/kestrelmedia/reelforge/pkg/queue"
	"github.com/kestrelmedia/reelforge/pkg/ratelimit"
	"github.com/kestrelmedia/reelforge/pkg/scheduler"
	"github.com/kestrelmedia/reelforge/pkg/version"
	"github.com/kestrelmedia/reelforge/pkg/workspace"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// errRefreshNotSupported is returned by noopRefresher for every channel:
// every external service issues long-lived tokens an operator rotates out
// of band via pkg/credentials.Vault.Put, so a failed Get never has anything
// automatic to fall back to.
var errRefreshNotSupported = errors.New("credential refresh not supported, rotate manually")

// noopRefresher never refreshes.
type noopRefresher struct{}

func (noopRefresher) Refresh(_ context.Context, _, _ string, _ *credentials.TokenBundle) (*credentials.TokenBundle, error) {
	return nil, errRefreshNotSupported
}

// dsn builds a pgx-style connection URL from a database.Config, for the
// dedicated LISTEN connection pkg/notify opens outside the pooled *sql.DB.
func dsn(cfg database.Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	podID := getEnv("POD_ID", version.AppName+"-"+version.GitCommit)

	log.Printf("Starting %s", version.Full())
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Pod ID: %s", podID)
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	db := dbClient.DB()
	log.Println("✓ Connected to PostgreSQL database")

	dir, err := channels.Sync(ctx, db, cfg.Channels)
	if err != nil {
		log.Fatalf("Failed to sync channel directory: %v", err)
	}
	log.Println("✓ Channel directory synced")

	alerts := alerting.NewService(cfg.System.AlertWebhookURL)
	vault, err := credentials.NewVault(db, cfg.System.EncryptionKey, noopRefresher{})
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}
	ws := workspace.NewManager(cfg.System.WorkspaceRoot)
	rateGate := ratelimit.NewGate(db)
	global := ratelimit.NewGlobalConcurrency(db)

	taskStore := queue.NewStore(db)
	syncStore := planningsync.NewStore(db)

	sched := scheduler.New(taskStore, dir, cfg.Channels, rateGate, global, cfg.ServiceCaps, cfg.Defaults.MaxConcurrent)
	driver := pipeline.New(taskStore, dir, cfg.Channels, rateGate, global, cfg.ServiceCaps, vault, ws, cfg.StageBinaries, alerts)

	if err := queue.CleanupStartupOrphans(ctx, taskStore, cfg.Queue.StaleClaimThreshold); err != nil {
		log.Printf("Warning: startup orphan cleanup failed: %v", err)
	}

	listener := notify.NewListener(dsn(dbConfig))
	var wake <-chan struct{}
	if err := listener.Start(ctx); err != nil {
		log.Printf("Warning: LISTEN/NOTIFY unavailable, falling back to pure polling: %v", err)
	} else {
		wake, err = listener.Subscribe(ctx, notify.ChannelTaskReady)
		if err != nil {
			log.Printf("Warning: failed to subscribe to %s: %v", notify.ChannelTaskReady, err)
		}
		defer listener.Stop(ctx)
	}

	queueCfg := *cfg.Queue
	if cfg.System.WorkerCountOverride > 0 {
		queueCfg.WorkerCount = cfg.System.WorkerCountOverride
	}

	workerPool := queue.NewWorkerPool(podID, taskStore, sched, driver, &queueCfg, wake, alerts, syncStore, driver, ws)
	if err := workerPool.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}
	defer workerPool.Stop(queueCfg.GracefulShutdownTimeout)
	log.Printf("✓ Worker pool started (%d workers)", queueCfg.WorkerCount)

	planningClient := planningsync.NewClient(cfg.System.PlanningStoreBaseURL)
	syncCap := cfg.ServiceCaps[config.ServicePlanningStore]
	syncPool := planningsync.NewPool(syncStore, planningClient, rateGate, syncCap, 2, queueCfg.PollInterval)
	syncPool.Start(ctx)
	defer syncPool.Stop()
	log.Println("✓ Planning-store sync pool started")

	cleanupSvc := cleanup.NewService(cfg.Retention, taskStore, ws, syncStore)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()
	log.Println("✓ Retention cleanup service started")

	server := api.NewServer(cfg, db, taskStore, dir, workerPool, syncStore, cfg.System.PlanningStoreWebhookSecret)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP server listening on :%s", httpPort)
		if err := server.Start(":" + httpPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	<-gctx.Done()
	log.Println("Shutdown signal received, draining in-flight work...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), queueCfg.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := g.Wait(); err != nil {
		log.Printf("HTTP server error: %v", err)
	}
	log.Println("Shutdown complete")
}
