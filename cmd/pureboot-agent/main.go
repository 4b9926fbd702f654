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

	"github.com/pureboot/pureboot/internal/agent"
	"github.com/pureboot/pureboot/internal/config"
	"github.com/pureboot/pureboot/internal/logging"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// syncInterval is how often the agent refreshes its cache while online.
const syncInterval = 5 * time.Minute

var rootCmd = &cobra.Command{
	Use:     "pureboot-agent",
	Short:   "PureBoot site agent - offline-capable PXE proxy for a remote site",
	Long:    `The site agent answers PXE boots at a remote site, proxying to the central controller when reachable and serving cached decisions when not.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runAgent()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("PureBoot agent %s\n", Version)
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

func runAgent() {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "pureboot-agent",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.CentralURL == "" {
		log.Fatal().Msg("PUREBOOT_CENTRAL_URL is required for the site agent")
	}

	logging.Init(logging.Config{
		Format:    "auto",
		Level:     cfg.LogLevel,
		Component: "pureboot-agent",
	})

	log.Info().Str("version", Version).Str("central", cfg.CentralURL).Msg("Starting PureBoot site agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := agent.Open(filepath.Join(cfg.DataPath, "agent.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open agent database")
	}
	defer st.Close()

	client := agent.NewClient(cfg.CentralURL, cfg.ConnectivityTimeout)
	cacheDir := filepath.Join(cfg.DataPath, "content")
	content := agent.NewContentCache(st, client, cacheDir, cfg.CachePolicy, cfg.CachePattern)

	selfURL := cfg.ServerURL
	offline := agent.NewOfflineDecider(st, content, selfURL, cfg.OfflineDefaultAction)

	conn := agent.NewConnectivity(client.Healthz,
		cfg.ConnectivityCheckInterval, cfg.ConnectivityTimeout, cfg.ConnectivityFailureThreshold)
	processor := agent.NewProcessor(st, client, cfg.QueueBatchSize, cfg.QueueRetryDelay, cfg.QueueMaxRetries)
	resolver := agent.NewConflictResolver(st, cfg.ConflictStrategy)
	syncer := agent.NewSyncer(st, client, content, resolver, cfg.DefaultGroupID)

	// Reconnecting drains the queue first, then resyncs the cache; the sync
	// detects and resolves any divergence that built up while offline.
	conn.OnChange(func(online bool) {
		if !online {
			return
		}
		go func() {
			processor.Drain(ctx)
			if err := syncer.Sync(ctx); err != nil {
				log.Error().Err(err).Msg("Post-reconnect sync failed")
			}
		}()
	})

	go conn.Run(ctx)
	go syncer.Run(ctx, syncInterval, conn.IsOnline)

	server := agent.NewServer(st, client, conn, offline, content)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Agent HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Agent HTTP server failed")
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
		log.Error().Err(err).Msg("Agent HTTP server shutdown failed")
	}
}
