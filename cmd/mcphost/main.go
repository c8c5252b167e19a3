// Package main is the entry point for mcphost, which keeps the AKS MCP agent
// running next to a workspace and exposes a local control API for it.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/mcphost/internal/agent/api"
	"github.com/kandev/mcphost/internal/agent/history"
	"github.com/kandev/mcphost/internal/agent/integration"
	"github.com/kandev/mcphost/internal/agent/lifecycle"
	"github.com/kandev/mcphost/internal/agent/provision"
	"github.com/kandev/mcphost/internal/common/config"
	"github.com/kandev/mcphost/internal/common/httpmw"
	"github.com/kandev/mcphost/internal/common/logger"
	"github.com/kandev/mcphost/internal/common/tracing"
	"github.com/kandev/mcphost/internal/events"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configDir string
	root := &cobra.Command{
		Use:           "mcphost",
		Short:         "Run and supervise the AKS MCP agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configDir)
		},
	}
	root.Flags().StringVarP(&configDir, "config", "c", "", "directory containing config.yaml")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mcphost: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir string) error {
	// 1. Load configuration
	src, err := config.NewSource(configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg, err := src.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting mcphost",
		zap.String("config_file", src.ConfigFile()),
		zap.String("workspace", cfg.Workspace.Root))

	// 3. Event bus
	provided, closeBus, err := events.Provide(cfg.Events, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeBus() }()

	// 4. Run history
	store, closeStore, err := history.Provide(cfg.History)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer func() { _ = closeStore() }()

	// 5. Lifecycle manager
	manager, err := lifecycle.NewManager(lifecycle.Options{
		Config:      src,
		Provisioner: provision.NewProvisioner(log),
		Bus:         provided.Bus,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	recorder := history.NewRecorder(store, log)
	manager.Subscribe(recorder.Observe)

	integ := integration.New(integration.Options{
		Manager:  manager,
		Config:   src,
		WatchDir: src.WatchDir(),
		Logger:   log,
	})

	// 6. Control API
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(httpmw.Recovery(log))
	router.Use(httpmw.RequestLogger(log, "mcphost"))
	router.Use(httpmw.OtelTracing(tracing.Tracer("mcphost-api")))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api.SetupRoutes(router.Group("/api/v1/agent"), integ, manager, store, log)

	server := &http.Server{
		Addr:              cfg.Control.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 7. Run until a signal arrives
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Control API listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control API: %w", err)
		}
		return nil
	})

	integ.Activate(gctx)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down mcphost...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := integ.Deactivate(shutdownCtx); err != nil {
			log.Error("agent shutdown error", zap.Error(err))
		}
		if err := manager.Close(shutdownCtx); err != nil {
			log.Error("lifecycle manager close error", zap.Error(err))
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown error", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	log.Info("mcphost stopped")
	return err
}
