package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/deployrecon/internal/auth"
	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/chains/evm"
	"github.com/pendergraft/deployrecon/internal/config"
	"github.com/pendergraft/deployrecon/internal/observability/metrics"
	"github.com/pendergraft/deployrecon/internal/server"
	"github.com/pendergraft/deployrecon/internal/storage"
	"github.com/pendergraft/deployrecon/pkg/etherscan"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "deployrecon-server",
		Short:   "deployrecon server - deployment manifests and reconciliation over HTTP",
		Version: version,
	}

	// Default behavior (no subcommand) is to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe()
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "token",
		Short: "Generate an API token for API_TOKENS",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	})

	return rootCmd
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg)

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	fmt.Printf("✅ Migrations applied (%s)\n", cfg.Storage.Type)
	return nil
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg)
	logger.Info("starting deployrecon-server", "version", version)

	metrics.Init(cfg.Metrics.Enabled, cfg.Metrics.Service)

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	deps, closeDeps, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDeps()

	if len(cfg.Auth.Tokens) == 0 {
		logger.Warn("API_TOKENS is empty: POST /api/v1/reconcile is open to any client")
	}

	srv := server.New(cfg, store, deps, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr, "network", deps.Network.Name)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// buildDeps resolves the network and dials its endpoints. Without an RPC
// endpoint or an explorer key the server still serves manifests and run
// history, but not reconciliation.
func buildDeps(cfg *config.Config, logger *slog.Logger) (server.Deps, func(), error) {
	network, err := chains.LookupNetwork(cfg.Chain.Network, &chains.Network{
		Name:        cfg.Chain.Network,
		ChainID:     cfg.Chain.ChainID,
		RPCURL:      cfg.Chain.RPCURL,
		ExplorerAPI: cfg.Explorer.APIURL,
	})
	if err != nil {
		return server.Deps{}, nil, err
	}
	deps := server.Deps{Network: network}
	closeFn := func() {}

	if network.RPCURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Chain.RPCTimeout)
		defer cancel()
		reader, client, err := evm.Dial(ctx, network.RPCURL, logger)
		if err != nil {
			logger.Warn("rpc unavailable, reconciliation disabled", "network", network.Name, "error", err)
		} else {
			deps.Reader = reader
			closeFn = client.Close
		}
	}

	if cfg.Explorer.APIKey != "" && network.ExplorerAPI != "" {
		deps.Explorer = etherscan.New(network.ExplorerAPI, cfg.Explorer.APIKey,
			etherscan.WithRateLimit(cfg.Explorer.RequestsPerS, max(cfg.Explorer.Burst, 1)),
			etherscan.WithChainID(network.ChainID),
		)
	} else {
		logger.Warn("no explorer API key, reconciliation disabled", "network", network.Name)
	}

	builder, err := evm.NewBuilders().Resolve(cfg.Manifest.ProjectDir, cfg.Manifest.Builder)
	if err != nil {
		logger.Warn("no build project, reconciliation disabled", "dir", cfg.Manifest.ProjectDir, "error", err)
	} else {
		dir := cfg.Manifest.ProjectDir
		deps.Artifacts = func(id chains.ArtifactID) (*chains.CompiledArtifact, error) {
			return builder.Load(dir, id)
		}
	}

	return deps, closeFn, nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
