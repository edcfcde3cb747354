package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/config"
	"github.com/karansahani78/sattrack/http"
	"github.com/karansahani78/sattrack/services"
	"github.com/karansahani78/sattrack/services/cache"
	"github.com/karansahani78/sattrack/services/capability"
	"github.com/karansahani78/sattrack/services/connmanager"
	"github.com/karansahani78/sattrack/services/orchestrator"
	"github.com/karansahani78/sattrack/services/poller"
	busTransport "github.com/karansahani78/sattrack/services/pubsub/nats"
	"github.com/karansahani78/sattrack/services/registry"
	"github.com/karansahani78/sattrack/services/restclient"
	watchstore "github.com/karansahani78/sattrack/services/statestore/valkey"
	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the position sync daemon and dashboard feed server",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile, env)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		startServer(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func startServer(cfg *config.Config) {
	logger, cleanup := SetupLogger()
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = slogctx.NewCtx(ctx, logger)

	clock := common.NewRealClock()

	transport := busTransport.NewNatsTransport(cfg.Bus.URL)
	conn := connmanager.New(ctx, transport, clock, cfg.ReconnectDelay(), cfg.HeartbeatInterval())
	conn.Connect()
	defer conn.Shutdown(context.Background())

	pushRegistry := registry.New(ctx, conn)
	guard := capability.New(logger)
	positions := cache.New()
	fetcher := restclient.New(cfg)
	fallback := poller.New(ctx, fetcher, clock)

	pool := orchestrator.NewPool(func() services.SyncHandle {
		return orchestrator.NewSlot(ctx, fetcher, positions, pushRegistry, guard, fallback, cfg.PollInterval())
	})
	defer pool.Shutdown()

	// Resume the persisted watchlist so positions are warm before the
	// first dashboard client connects, and keep the persisted set in
	// step with live pool activity from then on.
	if cfg.StateStore.Enabled {
		store, err := watchstore.NewWatchlistStore(cfg)
		if err != nil {
			logger.Warn("state store unavailable, starting with empty watchlist", "err", err)
		} else {
			defer store.Close()
			pool.SetLifecycleHooks(
				func(entity common.EntityID) {
					if err := store.AddWatchedEntity(ctx, entity); err != nil {
						logger.Warn("could not persist watchlist entry", "entity", entity, "err", err)
					}
				},
				func(entity common.EntityID) {
					if err := store.RemoveWatchedEntity(ctx, entity); err != nil {
						logger.Warn("could not remove watchlist entry", "entity", entity, "err", err)
					}
				},
			)
			resumeWatchlist(ctx, store, pool, logger)
		}
	}

	feedConns := http.NewFeedConnManager()
	server := http.New(pool, positions, feedConns, logger, cfg)

	// Probes, /metrics and pprof live on the health port, off the main
	// feed listener.
	if cfg.Health.Enabled {
		nethttp.HandleFunc(cfg.Health.ReadinessPath, server.HealthChecker().ReadinessHandler())
		nethttp.HandleFunc(cfg.Health.LivenessPath, server.HealthChecker().LivenessHandler())
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Health.Port)
			if err := nethttp.ListenAndServe(addr, nil); err != nil {
				logger.Warn("health listener exited", "err", err)
			}
		}()
	}

	if err := server.Start(ctx); err != nil {
		logger.Error("feed server exited", "err", err)
	}
}

func resumeWatchlist(ctx context.Context, store services.StateStore, pool *orchestrator.Pool, logger *slog.Logger) {
	entities, err := store.ListWatchedEntities(ctx)
	if err != nil {
		logger.Warn("could not read persisted watchlist", "err", err)
		return
	}
	for _, entity := range entities {
		// Held for the daemon lifetime; the pool's Shutdown tears the
		// slots down.
		_ = pool.Acquire(entity)
	}
	if len(entities) > 0 {
		logger.Info("resumed persisted watchlist", "entities", len(entities))
	}
}
