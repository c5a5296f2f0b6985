package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"mangadrop/internal/api"
	"mangadrop/internal/catalog"
	"mangadrop/internal/clock"
	"mangadrop/internal/config"
	"mangadrop/internal/distribution"
	"mangadrop/internal/economy"
	"mangadrop/internal/feed"
	"mangadrop/internal/logging"
	"mangadrop/internal/metrics"
	"mangadrop/internal/pending"
	"mangadrop/internal/ratelimit"
	"mangadrop/internal/score"
	"mangadrop/internal/stats"
	"mangadrop/internal/storage/sqlite"
	"mangadrop/internal/sweeper"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "", log.LstdFlags)
	clk := clock.RealClock{}
	counters := metrics.NewCounters()

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Fatal(logger, map[string]string{
				"event": "storage_init_failed",
				"error": err.Error(),
			})
		}
	}

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		logging.Fatal(logger, map[string]string{
			"event": "storage_init_failed",
			"error": err.Error(),
		})
	}
	defer store.Close()

	var recorder stats.Recorder = stats.NewMemoryRecorder()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		recorder = stats.NewRedisRecorder(rdb, "mangadrop:quota")
	}

	client := catalog.NewClient(catalog.ClientConfig{
		BaseURL:        cfg.CatalogBaseURL,
		ThrottleRPS:    cfg.CatalogThrottleRPS,
		ThrottleBurst:  cfg.CatalogThrottleBurst,
		FetchRetries:   cfg.CatalogFetchRetries,
		PolicyAttempts: cfg.CatalogPolicyAttempts,
		RetryDelay:     cfg.CatalogRetryDelay,
		CacheTTL:       cfg.CacheTTL,
		CacheMaxSize:   cfg.CacheMaxSize,
	}, catalog.NewContentPolicy(cfg.DenyGenres, cfg.DenyDemographics, cfg.DenyRatings), clk, logger, counters)

	params := score.DefaultParams()
	params.Ceiling = cfg.ScoreCeiling
	params.Knee = cfg.ScoreKnee
	params.JitterSpread = cfg.ScoreJitter
	if len(cfg.ScoreTiers) > 0 {
		tiers := make([]score.Tier, 0, len(cfg.ScoreTiers))
		for _, t := range cfg.ScoreTiers {
			tiers = append(tiers, score.Tier{MaxRank: t.MaxRank, Multiplier: t.Multiplier})
		}
		params.Tiers = tiers
	}
	engine := score.NewEngine(params)

	registry := pending.NewRegistry(clk, pending.Options{
		Expiration:  cfg.PostingExpiration,
		Retention:   cfg.PostingRetention,
		HardCap:     cfg.RegistryHardCap,
		EvictTarget: cfg.RegistryEvictTarget,
	})
	limiter := ratelimit.New(clk, map[ratelimit.Class]ratelimit.Limit{
		ratelimit.ClassRoll:  {Max: cfg.RollLimit.Max, Window: cfg.RollLimit.Window},
		ratelimit.ClassClaim: {Max: cfg.ClaimLimit.Max, Window: cfg.ClaimLimit.Window},
	})

	hub := feed.NewHub()
	econ := economy.NewService(store, engine, clk, cfg.DailyAmount, cfg.DailyCooldown)

	service := distribution.NewService(distribution.Dependencies{
		Catalog:    client,
		Store:      store,
		Registry:   registry,
		Limiter:    limiter,
		Engine:     engine,
		Economy:    econ,
		Hub:        hub,
		Stats:      recorder,
		Clock:      clk,
		Logger:     logger,
		Metrics:    counters,
		Expiration: cfg.PostingExpiration,
	})

	liveness := sweeper.NewLiveness()

	server := api.NewServer(api.Dependencies{
		Config:   cfg,
		Service:  service,
		Store:    store,
		Catalog:  client,
		Economy:  econ,
		Hub:      hub,
		Stats:    recorder,
		Metrics:  counters,
		Clock:    clk,
		Logger:   logger,
		Liveness: liveness,
	})

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           server.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registrySweep := sweeper.New("registry", func(now time.Time) int {
		result := registry.Sweep(now)
		if result.Expired > 0 {
			counters.AddPostingsExpired(result.Expired)
		}
		if result.Evicted > 0 {
			counters.AddPostingsEvicted(result.Evicted)
		}
		return result.Expired + result.Purged + result.Evicted
	}, clk, cfg.RegistrySweepInterval, logger, liveness, counters)
	registrySweep.Start(ctx)

	limiterSweep := sweeper.New("limiter", limiter.Sweep, clk, cfg.LimiterSweepInterval, logger, nil, counters)
	limiterSweep.Start(ctx)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Allowlist(logger, map[string]string{
				"event": "server_error",
				"error": err.Error(),
			})
		}
	}()

	logging.Allowlist(logger, map[string]string{
		"event":   "server_started",
		"address": cfg.Address,
	})

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)
}
