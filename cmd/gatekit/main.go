package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"

	"github.com/agatticelli/gatekit/internal/alert"
	"github.com/agatticelli/gatekit/internal/platform/aws"
	"github.com/agatticelli/gatekit/internal/platform/cache"
	"github.com/agatticelli/gatekit/internal/platform/config"
	"github.com/agatticelli/gatekit/internal/platform/observability"
	"github.com/agatticelli/gatekit/internal/platform/ratelimit"
	"github.com/agatticelli/gatekit/internal/platform/recovery"
	"github.com/agatticelli/gatekit/internal/platform/worker"
)

func main() {
	// Create root context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad("config.yaml")

	// Setup observability (foundational - must be first)
	log.Println("Setting up observability...")
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("gatekit", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracer, err := observability.NewTracerProvider(ctx, "gatekit", cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracer.Shutdown(ctx)

	logger.Info("observability setup complete")

	// Setup infrastructure
	logger.Info("setting up infrastructure...")

	// Redis client shared by the cache tier and the rate limit state store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.LogError(ctx, "redis ping failed, shared tiers degraded", err)
	}

	// Cache tiers, fastest first
	tiers := []cache.Tier{cache.NewMemoryTier(cfg.Cache.Memory.MaxEntries, cfg.Cache.Memory.SweepInterval)}
	if cfg.Cache.Edge.Enabled {
		tiers = append(tiers, cache.NewEdgeTier(cfg.Cache.Edge.MaxBytes))
	}
	if cfg.Cache.Redis.Enabled {
		tiers = append(tiers, cache.NewRedisTier(redisClient, cfg.Cache.Redis.KeyPrefix))
	}

	// AWS clients (DynamoDB tier, SNS alerts)
	var snsClient *aws.SNSClient
	if cfg.Cache.DynamoDB.Enabled || cfg.Alerting.Enabled {
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region})
		if err != nil {
			logger.LogError(ctx, "failed to load AWS config", err)
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		if cfg.Cache.DynamoDB.Enabled {
			dynamoClient := dynamodb.NewFromConfig(awsCfg)
			tiers = append(tiers, cache.NewDynamoTier(dynamoClient, cfg.Cache.DynamoDB.Table))
		}
		if cfg.Alerting.Enabled {
			snsClient = aws.NewSNSClient(aws.SNSClientConfig{
				AWSConfig: awsCfg,
				Logger:    logger,
			})
		}
	}

	// Tiered cache store
	store, err := cache.NewStore(cache.StoreConfig{
		Tiers:   tiers,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer.Tracer(),
	})
	if err != nil {
		logger.LogError(ctx, "failed to create cache store", err)
		log.Fatalf("Failed to create cache store: %v", err)
	}
	defer store.Close()

	// Rate limiter with Redis-backed distributed state
	limiter := ratelimit.NewLimiter(ratelimit.LimiterConfig{
		Store:   ratelimit.NewRedisStateStore(redisClient, ""),
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer.Tracer(),
	})
	for name, rl := range cfg.RateLimits {
		if err := limiter.SetConfig(name, rl); err != nil {
			logger.LogError(ctx, "invalid rate limit config", err, "name", name)
			log.Fatalf("Invalid rate limit config %q: %v", name, err)
		}
	}

	// Background worker pool for alert delivery
	pool := worker.NewPool(ctx, cfg.Worker.Workers, cfg.Worker.QueueSize)
	defer pool.Close()

	// Alert publisher
	var publisher alert.Publisher = alert.Noop{}
	if cfg.Alerting.Enabled {
		publisher, err = alert.NewSNSPublisher(alert.SNSPublisherConfig{
			Client:   snsClient,
			TopicARN: cfg.Alerting.SNSTopicARN,
			Logger:   logger,
			Metrics:  metrics,
		})
		if err != nil {
			logger.LogError(ctx, "failed to create alert publisher", err)
			log.Fatalf("Failed to create alert publisher: %v", err)
		}
	}

	// Error recovery engine
	engine := recovery.NewEngine(recovery.EngineConfig{
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer.Tracer(),
		Publisher: publisher,
		Pool:      pool,
	})
	engine.RegisterStrategy(recovery.NewRateLimitWaitStrategy())
	engine.RegisterStrategy(recovery.NewNetworkBackoffStrategy())
	engine.RegisterStrategy(recovery.NewCachedFallbackStrategy(store))

	logger.Info("infrastructure ready",
		"cache_tiers", len(tiers),
		"rate_limit_configs", len(cfg.RateLimits),
		"alerting", cfg.Alerting.Enabled,
	)

	// Start HTTP server for health checks, metrics and stats
	logger.Info("starting HTTP server...")
	go startHTTPServer(cfg.HTTP.Port, store, limiter, engine, metrics, logger)

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully stopping...")

	cancel()
	logger.Info("application stopped")
}

// startHTTPServer starts HTTP server for health checks, metrics and
// runtime stats.
func startHTTPServer(
	port int,
	store *cache.Store,
	limiter *ratelimit.Limiter,
	engine *recovery.Engine,
	metrics *observability.Metrics,
	logger *observability.Logger,
) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Readiness check
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Runtime stats across cache, rate limiter and error recovery
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"cache":      store.Stats(r.Context()),
			"rate_limit": limiter.Metrics(),
			"errors":     engine.Stats(),
		})
	})

	// Metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("HTTP server listening", "address", addr)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.LogError(context.Background(), "HTTP server error", err)
	}
}
