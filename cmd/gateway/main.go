package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // Postgres driver

	"github.com/ocx/gateway/internal/api"
	"github.com/ocx/gateway/internal/background"
	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/config"
	"github.com/ocx/gateway/internal/credentials"
	"github.com/ocx/gateway/internal/embeddings"
	"github.com/ocx/gateway/internal/executor"
	"github.com/ocx/gateway/internal/metrics"
	"github.com/ocx/gateway/internal/queue"
	"github.com/ocx/gateway/internal/ratelimit"
	"github.com/ocx/gateway/internal/search"
	"github.com/ocx/gateway/internal/triggers"
	"github.com/ocx/gateway/internal/webhookreceiver"
)

func main() {
	// Optional in local/dev environments; real deployments set env vars
	// directly and don't ship a .env file.
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg := config.Get()

	pgStore, err := catalog.NewPostgresStore(cfg.Database.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}

	var fbStore catalog.FeedbackStore
	if cfg.GetSupabaseURL() != "" && cfg.GetSupabaseKey() != "" {
		fb, err := catalog.NewSupabaseFeedbackStore(cfg.GetSupabaseURL(), cfg.GetSupabaseKey())
		if err != nil {
			log.Fatalf("failed to initialize supabase feedback store: %v", err)
		}
		fbStore = fb
	} else {
		log.Fatalf("supabase url/service key not configured")
	}

	embedder := embeddings.NewHTTPClient(
		cfg.Embeddings.Endpoint,
		cfg.Embeddings.APIKey,
		cfg.Embeddings.Model,
		time.Duration(cfg.Embeddings.TimeoutSec)*time.Second,
	)
	reranker := search.NewHTTPReranker(cfg.Search.RerankerEndpoint, cfg.Search.RerankerAPIKey, cfg.Search.RerankerModel)
	searchEngine := search.NewEngine(pgStore, embedder, reranker, search.Config{
		Overfetch:      cfg.Search.VectorOverfetch,
		PrefilterLimit: cfg.Search.LexicalPrefilterLimit,
		MinScore:       cfg.Search.MinRelevanceScore,
		CacheCapacity:  cfg.Search.RerankCacheSize,
		CacheTTL:       time.Duration(cfg.Search.RerankCacheTTLSec) * time.Second,
	})

	oauth2Manager := credentials.NewOAuth2Manager(pgStore, cfg.Credentials.OAuth2StateSecret, cfg.Credentials.OAuth2RedirectBaseURL)
	oauth1Manager := credentials.NewOAuth1Manager(fbStore, time.Duration(cfg.Triggers.OAuth1TempTokenTTLSec)*time.Second)
	broker := credentials.NewBroker(pgStore, fbStore, oauth2Manager, oauth1Manager)

	stash := search.NewStashStore(10 * time.Minute)
	exec := executor.New(broker).WithPostHooks(pgStore, fbStore, stash)

	registry := triggers.NewRegistry()
	registry.Add(triggers.NewGitHubConnector())
	registry.Add(triggers.NewShopifyConnector())
	registry.Add(triggers.NewStripeConnector())
	registry.Add(triggers.NewHubSpotConnector())
	registry.Add(triggers.NewSlackConnector())
	registry.Add(triggers.NewGooglePubSubConnector(cfg.Triggers.GooglePubSubAudience, triggers.NewGoogleKeyfunc().Keyfunc))
	registry.Add(triggers.NewMicrosoftGraphConnector())
	registry.Add(triggers.NewNotionConnector())
	triggerService := triggers.NewService(pgStore, registry)

	limiter := wireLimiter(cfg)
	triggerLimiter := ratelimit.New(ratelimit.Config{
		Capacity:    cfg.RateLimit.TriggerCapacity,
		RefillRate:  cfg.RateLimit.TriggerRefillRate,
		RefillEvery: time.Duration(cfg.RateLimit.TriggerRefillEverySec) * time.Second,
	})

	collector := metrics.NewCollector()
	prom := metrics.NewPrometheusExporter()

	publisher := wirePublisher(cfg)
	webhookRecv := webhookreceiver.New(pgStore, registry, limiter, triggerLimiter, publisher)

	scheduler := background.NewScheduler(pgStore, fbStore, triggerService, background.Config{
		RenewBeforeExpirySec:   cfg.Triggers.RenewBeforeExpirySec,
		EventRetentionDays:     cfg.Triggers.EventRetentionDays,
		MaxRegistrationRetries: cfg.Triggers.MaxRegistrationRetries,
	})
	if err := scheduler.Start(); err != nil {
		log.Fatalf("failed to start background scheduler: %v", err)
	}

	srv := api.NewServer(api.Dependencies{
		Store:         pgStore,
		FeedbackStore: fbStore,
		Search:        searchEngine,
		Stash:         stash,
		Broker:        broker,
		OAuth2:        oauth2Manager,
		Executor:      exec,
		Triggers:      triggerService,
		Limiter:       limiter,
		Collector:     collector,
		Prom:          prom,
		WebhookRecv:   webhookRecv,
		CORSOrigins:   cfg.Server.CORSAllowOrigins,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("received shutdown signal, shutting down gracefully")

		scheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("gateway starting", "port", cfg.Server.Port, "env", cfg.Server.Env)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed to start: %v", err)
	}
	slog.Info("server stopped")
}

// wirePublisher builds the Pub/Sub-backed event publisher when the queue
// backend is "pubsub" and a GCP project is configured, always with an
// in-memory fallback behind it; otherwise it runs on the in-memory
// publisher alone.
func wirePublisher(cfg *config.Config) queue.Publisher {
	fallback := queue.NewMemoryPublisher(cfg.Queue.LocalWorkers, func(ctx context.Context, e queue.Event) error {
		slog.Info("trigger event delivered via fallback queue", "trigger_id", e.TriggerID, "event_type", e.EventType)
		return nil
	})

	if cfg.Queue.Backend != "pubsub" || cfg.Queue.GCPProjectID == "" {
		return fallback
	}

	pub, err := queue.NewPubSubPublisher(context.Background(), cfg.Queue.GCPProjectID, cfg.Queue.PubSubTopicID, fallback)
	if err != nil {
		slog.Warn("pubsub publisher unavailable, using in-memory fallback only", "error", err)
		return fallback
	}
	return pub
}

// wireLimiter prefers the Redis-backed distributed limiter when enabled so
// rate limits hold across every gateway replica, falling back to the
// in-memory token bucket (correct for a single instance, or if Redis is
// unreachable at startup) rather than failing the whole process over a
// rate-limit backend.
func wireLimiter(cfg *config.Config) ratelimit.Checker {
	inMemory := func() *ratelimit.Limiter {
		return ratelimit.New(ratelimit.Config{
			Capacity:    cfg.RateLimit.DefaultCapacity,
			RefillRate:  cfg.RateLimit.DefaultRefillRate,
			RefillEvery: time.Duration(cfg.RateLimit.DefaultRefillEverySec) * time.Second,
		})
	}

	if !cfg.Redis.Enabled {
		slog.Info("redis rate limiting disabled, using in-memory limiter")
		return inMemory()
	}

	redisLimiter, err := ratelimit.NewRedisLimiter(
		cfg.Redis.Addr,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.RateLimit.DefaultCapacity,
		time.Duration(cfg.Redis.RateLimitWindowSec)*time.Second,
	)
	if err != nil {
		slog.Warn("redis limiter unavailable, falling back to in-memory limiter", "error", err)
		return inMemory()
	}
	slog.Info("rate limiting backed by redis", "addr", cfg.Redis.Addr)
	return redisLimiter
}
