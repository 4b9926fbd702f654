package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pureboot/pureboot/internal/api"
	"github.com/pureboot/pureboot/internal/boot"
	"github.com/pureboot/pureboot/internal/config"
	"github.com/pureboot/pureboot/internal/files"
	"github.com/pureboot/pureboot/internal/health"
	"github.com/pureboot/pureboot/internal/lifecycle"
	"github.com/pureboot/pureboot/internal/logging"
	"github.com/pureboot/pureboot/internal/metrics"
	"github.com/pureboot/pureboot/internal/scheduler"
	"github.com/pureboot/pureboot/internal/store"
	"github.com/pureboot/pureboot/internal/websocket"
	"github.com/pureboot/pureboot/internal/workflows"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const metricsPort = 9420

var rootCmd = &cobra.Command{
	Use:     "purebootd",
	Short:   "PureBoot - bare-metal provisioning controller",
	Long:    `PureBoot drives PXE boot decisions, node lifecycle state and fleet health for bare-metal machines.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("PureBoot %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "purebootd",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:    "auto",
		Level:     cfg.LogLevel,
		Component: "purebootd",
	})

	log.Info().Str("version", Version).Msg("Starting PureBoot controller")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.StartServer(ctx, fmt.Sprintf("%s:%d", cfg.Host, metricsPort))

	st, err := store.New(filepath.Join(cfg.DataPath, "pureboot.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open controller database")
	}
	defer st.Close()

	hub := websocket.NewHub()
	go hub.Run()

	resolver := workflows.NewResolver(cfg.WorkflowDir)
	watcher := workflows.NewWatcher(cfg.WorkflowDir, func(workflowID string) {
		hub.Broadcast(websocket.EventWorkflowChanged, map[string]string{"workflowId": workflowID})
	})
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("Workflow watcher stopped")
		}
	}()

	manager := lifecycle.NewManager(st, cfg, hub)
	monitor := health.NewMonitor(st, cfg, manager, hub)
	engine := boot.NewEngine(cfg, manager, resolver)

	var fileServer *files.Server
	if cfg.FilesRoot != "" {
		backend := files.NewLocalBackend("local", cfg.FilesRoot)
		fileServer = files.NewServer(backend, cfg.FileServingBandwidthMbps)
	}

	sched := scheduler.New()
	sched.AddInterval("health_check", time.Minute, monitor.CheckPass)
	sched.AddInterval("health_snapshot",
		time.Duration(cfg.SnapshotIntervalMinutes)*time.Minute, monitor.SnapshotPass)
	sched.AddDaily("health_cleanup", "03:00", monitor.CleanupPass)
	go sched.Run(ctx)

	router := api.NewRouter(cfg, st, manager, engine, resolver, monitor, hub, fileServer)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}
