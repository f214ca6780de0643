package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lemonberrylabs/flowengine/pkg/api"
	"github.com/lemonberrylabs/flowengine/pkg/dispatch"
	"github.com/lemonberrylabs/flowengine/pkg/flowstore"
	"github.com/lemonberrylabs/flowengine/pkg/flowwatch"
	"github.com/lemonberrylabs/flowengine/web"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the flow management API and dashboard",
		RunE:  runServe,
	}
	cmd.Flags().String("host", "", "bind address (default 0.0.0.0, env FLOWCTL_HOST)")
	cmd.Flags().Int("port", 0, "HTTP port (default 8787, env FLOWCTL_PORT)")
	cmd.Flags().String("watch-dir", "", "directory of flow documents to load and watch (env FLOWCTL_WATCHDIR)")
	cmd.Flags().String("dispatch-url", "", "JSON-RPC endpoint request steps dispatch to; omit to run in mock mode")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger, err := newLogger(verbose)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	var dispatchFn dispatch.Func
	if cfg.DispatchURL != "" {
		dispatchFn = dispatch.NewHTTPClient(cfg.DispatchURL).Dispatch
	} else {
		dispatchFn = dispatch.NewMock().Dispatch
		logger.Warn("no --dispatch-url given; request steps will fail until one is registered")
	}

	store := flowstore.New()
	server := api.New(store, dispatchFn, logger)

	if cfg.WatchDir != "" {
		watcher := flowwatch.New(cfg.WatchDir, store, logger)
		if err := watcher.LoadAll(); err != nil {
			logger.Warn("failed initial flow directory load", zap.String("dir", cfg.WatchDir), zap.Error(err))
		}
		stop := make(chan struct{})
		go func() {
			if err := watcher.Watch(stop); err != nil {
				logger.Warn("flow directory watch stopped", zap.Error(err))
			}
		}()
		defer close(stop)
	}

	ui := web.New(store)
	ui.Register(server.App())

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		if err := server.Shutdown(); err != nil {
			logger.Warn("error during shutdown", zap.Error(err))
		}
	}()

	logger.Info("flowctl serve listening", zap.String("addr", addr), zap.String("watchDir", cfg.WatchDir))
	return server.Listen(addr)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
