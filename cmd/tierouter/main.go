// Command tierouter runs the tier-aware request router: it serves POST
// /chat, routes each request across the priority/standard/overflow worker
// pools according to the caller's tier, and degrades gracefully when no
// pool can take the request.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ira-chat/tier-router/internal/analytics"
	"github.com/ira-chat/tier-router/internal/codec"
	"github.com/ira-chat/tier-router/internal/config"
	"github.com/ira-chat/tier-router/internal/httpapi"
	"github.com/ira-chat/tier-router/internal/kv"
	"github.com/ira-chat/tier-router/internal/logging"
	"github.com/ira-chat/tier-router/internal/poolmgr"
	"github.com/ira-chat/tier-router/internal/tierrouter"
)

func main() {
	var (
		configPath string
		addr       string
	)

	root := &cobra.Command{
		Use:   "tierouter",
		Short: "Tier-aware request router for the chat worker pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, addr)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to a config file (defaults to ./config.yaml if present)")
	root.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, addrOverride string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addrOverride != "" {
		cfg.Addr = addrOverride
	}

	logger := logging.NewLogger(cfg.Logging).WithComponent("tierouter")

	store, err := kv.NewRedisStore(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer store.Close()

	payloadCodec, err := codec.New(codec.TypeJSON)
	if err != nil {
		return fmt.Errorf("build codec: %w", err)
	}

	pools := poolmgr.NewManager(cfg.Pools, cfg.HealthInterval, payloadCodec, logger)
	pools.Start(ctx)
	defer pools.Shutdown()

	waits := map[poolmgr.Name]float64{
		poolmgr.Priority: cfg.Pools.Priority.MaxQueueWaitS,
		poolmgr.Standard: cfg.Pools.Standard.MaxQueueWaitS,
		poolmgr.Overflow: cfg.Pools.Overflow.MaxQueueWaitS,
	}
	router := tierrouter.New(pools, waits)

	analyticsSink := analytics.NewLogSink(logger.WithComponent("analytics"), payloadCodec)
	analyticsQueue := analytics.New(analyticsSink, logger.WithComponent("analytics"))
	analyticsQueue.Start(ctx)
	defer analyticsQueue.Stop()

	server := httpapi.New(router, pools, analyticsQueue, store, logger, cfg.Metrics)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "tierouter listening", "addr", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.InfoContext(context.Background(), "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
