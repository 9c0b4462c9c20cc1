package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegisfield/aegis/internal/agent"
	"github.com/aegisfield/aegis/internal/api"
	"github.com/aegisfield/aegis/internal/attach"
	"github.com/aegisfield/aegis/internal/config"
	"github.com/aegisfield/aegis/internal/connectivity"
	"github.com/aegisfield/aegis/internal/queue"
	"github.com/aegisfield/aegis/internal/store"
	aegissync "github.com/aegisfield/aegis/internal/sync"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "aegis",
	Short: "Aegis - Offline-First Field Incident Reporting",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize the two durable stores (migrations, WAL mode)
	reports, err := store.NewReportStore(cfg.Database.ReportsPath)
	if err != nil {
		return err
	}
	slog.Info("report store initialized", "path", cfg.Database.ReportsPath)

	requests, err := queue.NewRequestQueue(cfg.Database.QueuePath)
	if err != nil {
		return err
	}
	slog.Info("request queue initialized", "path", cfg.Database.QueuePath)

	// 5. Remote client; it doubles as the connectivity prober
	client := aegissync.NewClient(
		cfg.Remote.SyncURL,
		cfg.Remote.UpdateURL,
		cfg.Remote.HealthURL,
		cfg.Remote.APIKey,
		time.Duration(cfg.Remote.HTTPTimeout))

	// 6. Connectivity monitor
	monitor := connectivity.NewMonitor(client,
		time.Duration(cfg.Connectivity.ProbeInterval),
		time.Duration(cfg.Connectivity.Debounce))
	slog.Info("connectivity monitor initialized",
		"probe_interval", time.Duration(cfg.Connectivity.ProbeInterval),
		"debounce", time.Duration(cfg.Connectivity.Debounce))

	// 7. Attachment uploader, sync orchestrator
	uploader, err := attach.NewUploader(cfg.Attachments)
	if err != nil {
		return err
	}

	// The headless daemon has no position source; a platform build injects
	// its Locator here, and reports then carry a sync-time fix.
	orch := aegissync.NewOrchestrator(reports, requests, client, monitor,
		nil, uploader, cfg.Identity, cfg.Sync, logger)
	slog.Info("sync orchestrator initialized")

	// 8. Background replay agent
	notifier := agent.NewNotifier()
	replay := agent.NewReplayAgent(requests, reports, monitor, notifier,
		cfg.Agent, time.Duration(cfg.Remote.HTTPTimeout), logger)
	slog.Info("replay agent initialized",
		"replay_interval", time.Duration(cfg.Agent.ReplayInterval),
		"retention", time.Duration(cfg.Agent.MaxRetention))

	// 9. HTTP router
	handler := api.NewHandler(orch, reports, requests, client, monitor, notifier, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 10. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 11. Start background workers
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "connectivity", monitor.Run)
	startWorker(ctx, &wg, "sync", orch.Run)
	startWorker(ctx, &wg, "replay", replay.Run)

	// 12. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 13. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 14. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 14a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 14b. Wait for workers to complete
	wg.Wait()

	// 14c. Close stores
	if err := requests.Close(); err != nil {
		slog.Error("queue close error", "error", err)
	}
	if err := reports.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
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

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
