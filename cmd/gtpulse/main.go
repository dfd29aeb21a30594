// main is the entry point of the GTPulse service.
// It wires the data source registry, the reliability layer, the player
// monitor, the price tracker and the admin API, then waits for a signal.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/gtpulse/internal/cache"
	"github.com/woozymasta/gtpulse/internal/config"
	"github.com/woozymasta/gtpulse/internal/failover"
	"github.com/woozymasta/gtpulse/internal/fetch"
	"github.com/woozymasta/gtpulse/internal/health"
	"github.com/woozymasta/gtpulse/internal/logger"
	"github.com/woozymasta/gtpulse/internal/maintenance"
	"github.com/woozymasta/gtpulse/internal/metrics"
	"github.com/woozymasta/gtpulse/internal/monitor"
	"github.com/woozymasta/gtpulse/internal/pricing"
	"github.com/woozymasta/gtpulse/internal/registry"
	"github.com/woozymasta/gtpulse/internal/reliability"
	"github.com/woozymasta/gtpulse/internal/server"
	"github.com/woozymasta/gtpulse/internal/storage"
	"github.com/woozymasta/gtpulse/internal/vars"
)

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger)
	log.Info().Str("version", vars.Version).Msg("Starting gtpulse service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	var store *storage.Repository
	if !cfg.Storage.Disable {
		var err error
		store, err = storage.New(ctx, cfg.Storage.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing database")
			}
		}()

		if maintenance.Run(ctx, cfg, store) {
			return
		}
	}

	reg, err := loadRegistry(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load data sources")
	}
	log.Info().Strs("endpoints", reg.Names()).Msg("Data sources loaded")

	rec := metrics.New(cfg.Metrics.Runtime)

	tracker := health.NewTracker(reg, cfg.Health.Threshold, health.WithObserver(rec.ObserveHealth))
	rec.Seed(tracker.All())

	executor := fetch.NewExecutor(fetch.Config{
		Timeout:        cfg.Fetch.Timeout,
		RetryDelay:     cfg.Fetch.RetryDelay,
		RateLimitDelay: cfg.Fetch.RateLimitDelay,
		MaxConcurrent:  cfg.Fetch.MaxConcurrent,
		MaxRetries:     cfg.Fetch.MaxRetries,
	})

	orch := failover.New(reg, tracker, executor, failover.Config{
		InterSourceDelay: cfg.Fetch.InterSourceDelay,
		SwitchBackDelay:  cfg.Health.SwitchBack,
		MaxRetries:       cfg.Fetch.MaxRetries,
	}, failover.WithAttemptHook(rec.ObserveAttempt))

	layer := reliability.New(orch, tracker, cache.New(), reliability.Config{
		EndpointGap: cfg.Fetch.EndpointGap,
		ClockSkew:   cfg.Cache.ClockSkew,
	}, reliability.WithReadObserver(rec.ObserveRead))

	deps := server.Deps{Reliability: layer, Metrics: rec.Handler()}

	// Background tasks
	if store != nil {
		deps.History = store
		go maintenance.Schedule(ctx, store, cfg.Storage.PruneEvery, cfg.Storage.Retention)
	}

	if !cfg.Pricing.Disable {
		prices := pricing.New(layer, pricing.Config{
			ExchangeInterval: cfg.Pricing.ExchangeInterval,
			PriceInterval:    cfg.Pricing.PriceInterval,
			Defaults:         pricing.Rates{IDR: cfg.Pricing.IDR, EUR: cfg.Pricing.EUR},
		})
		unsubscribe := prices.Subscribe(func(s pricing.Snapshot) {
			log.Info().Str("dl", s.DL.Rp).Str("bgl", s.BGL.Rp).Msg("Diamond lock price changed")
		})
		defer unsubscribe()

		go prices.Start(ctx)
		defer prices.Stop()
		deps.Prices = prices
	}

	if !cfg.Monitor.Disable {
		opts := []monitor.Option{
			monitor.WithNotifier(monitor.NewLogNotifier()),
			monitor.WithSampleHook(func(pd reliability.PlayerData) { rec.ObservePlayers(pd.OnlineUser) }),
		}
		if store != nil {
			opts = append(opts, monitor.WithStore(store))
		}

		watcher := monitor.NewWatcher(layer, cfg.Monitor.Interval, monitor.Config{
			MaintenanceThreshold: cfg.Monitor.MaintenanceThreshold,
			BanwaveLimit:         cfg.Monitor.BanwaveLimit,
			MajorBanRate:         cfg.Monitor.MajorBanRate,
		}, opts...)

		go watcher.Run(ctx)
		deps.Monitor = watcher
	}

	if cfg.Server.Address == "" {
		log.Info().Msg("Admin API disabled")
		<-ctx.Done()
		log.Info().Msg("Service exited")
		return
	}

	// Init server
	srvHandler := server.New(deps, cfg)
	defer srvHandler.Stop()

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           srvHandler.Run(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful Shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	if cfg.Fetch.Sources != "" {
		return registry.Load(cfg.Fetch.Sources, cfg.Cache.Fast)
	}

	return registry.Default(registry.Defaults{
		CurrencyAPIKey: cfg.Fetch.CurrencyAPIKey,
		Fast:           cfg.Cache.Fast,
		Slow:           cfg.Cache.Slow,
		BanWindow:      cfg.Cache.BanWindow,
	}), nil
}
