// Package main is the entry point for the conversational assistant gateway.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/romanbabin/convogate/internal/api"
	"github.com/romanbabin/convogate/internal/api/handlers"
	"github.com/romanbabin/convogate/internal/api/middleware"
	"github.com/romanbabin/convogate/internal/completion"
	"github.com/romanbabin/convogate/internal/config"
	"github.com/romanbabin/convogate/internal/convcache"
	"github.com/romanbabin/convogate/internal/dashboard"
	"github.com/romanbabin/convogate/internal/escalation"
	"github.com/romanbabin/convogate/internal/health"
	"github.com/romanbabin/convogate/internal/moderation"
	"github.com/romanbabin/convogate/internal/orchestrator"
	"github.com/romanbabin/convogate/internal/patterns"
	"github.com/romanbabin/convogate/internal/prompt"
	"github.com/romanbabin/convogate/internal/rag"
	"github.com/romanbabin/convogate/internal/ratelimit"
	"github.com/romanbabin/convogate/internal/ruleengine"
	"github.com/romanbabin/convogate/internal/rules"
	"github.com/romanbabin/convogate/internal/sanitize"
	"github.com/romanbabin/convogate/internal/stats"
	"github.com/romanbabin/convogate/internal/storage"
	"github.com/romanbabin/convogate/pkg/logger"
	"github.com/romanbabin/convogate/pkg/metrics"
)

const (
	serviceName    = "convogate"
	serviceVersion = "1.0.0"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     serviceName,
	Short:   "Conversational assistant gateway",
	Long:    "Runs the HTTP gateway: sanitizer, rule engine, RAG retrieval, and moderated completion streaming behind a single conversations/messages API.",
	Version: serviceVersion,
	RunE:    runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output,
		Filename: cfg.Log.Filename, MaxSize: cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups, MaxAge: cfg.Log.MaxAge, Compress: cfg.Log.Compress,
	})
	slog.SetDefault(log)
	log.Info("starting gateway", "service", serviceName, "version", serviceVersion, "profile", cfg.Profile)

	registry := prometheus.NewRegistry()
	middleware.RegisterMetrics(registry)

	ctx := context.Background()
	repo, err := buildStorage(ctx, cfg, log, registry)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer repo.Close()

	store := rules.New(repo, rules.Config{
		TTL:                cfg.Cache.TTL,
		FallbackToDefaults: cfg.Pipeline.FallbackToDefaults,
	}, log, metrics.NewConfigStoreMetrics(registry))

	corpus := rag.NewCorpusLoader(repo, log, metrics.NewRAGMetrics(registry))
	if err := corpus.Invalidate(ctx); err != nil {
		log.Warn("initial knowledge base load failed, serving empty corpus", "error", err)
	}
	retriever := rag.New(rag.Config{
		TopK: cfg.Pipeline.RAGTopK, TokenBudgetChars: cfg.Pipeline.RAGTokenBudgetChars,
	}, log, metrics.NewRAGMetrics(registry))

	matcher := patterns.New(patterns.Config{
		MatchBudget: cfg.Pipeline.RegexMatchBudget,
	}, log, metrics.NewPatternMatcherMetrics(registry))
	detector := escalation.New()

	modProvider := moderation.NewHTTPProvider(moderation.Config{
		BaseURL: cfg.Moderation.BaseURL, APIKey: cfg.Moderation.APIKey, Timeout: cfg.Moderation.Timeout,
	}, log, metrics.NewProviderMetrics(registry, "moderation"))

	compProvider := completion.NewHTTPProvider(completion.Config{
		BaseURL: cfg.Completion.BaseURL, APIKey: cfg.Completion.APIKey, Model: cfg.Completion.Model,
		OverallTimeout: cfg.Completion.OverallTimeout, FirstByteTimeout: cfg.Completion.FirstByteTimeout,
	}, log, metrics.NewProviderMetrics(registry, "completion"))

	engine := ruleengine.New(matcher, modProvider, detector, log, metrics.NewPipelineMetrics(registry))

	sanitizer := sanitize.New(sanitize.Config{
		MaxInputChars: cfg.Pipeline.MaxInputChars, Timeout: cfg.Pipeline.SanitizerTimeout,
	}, log, metrics.NewPipelineMetrics(registry))

	limiter, err := buildRateLimiter(ctx, cfg, log, registry)
	if err != nil {
		return fmt.Errorf("initialize rate limiter: %w", err)
	}

	builder, err := prompt.New(cfg.Pipeline.SystemPrompt)
	if err != nil {
		return fmt.Errorf("parse system prompt template: %w", err)
	}

	orch := orchestrator.New(orchestrator.Config{
		ConversationWindow: cfg.Pipeline.ConversationWindow,
		PreCheckTimeout:    cfg.Pipeline.RuleEngineTimeout,
		PostCheckTimeout:   cfg.Pipeline.RuleEngineTimeout,
		RAGTimeout:         cfg.Pipeline.RAGTimeout,
	}, sanitizer, limiter, store, engine, corpus, retriever, builder, compProvider, repo, log,
		metrics.NewPipelineMetrics(registry))

	convCache := buildConversationCache(ctx, cfg, log, registry)
	defer convCache.Close()
	orch.SetCacheInvalidator(convCache)

	cfgSvc := config.NewConfigService(cfg, configPath, time.Now(), configSource(configPath))

	dashboardConnLimiter := ratelimit.New(ratelimit.Config{Limit: 5, Window: time.Minute}, nil)
	dashboardHub := dashboard.New(dashboardConnLimiter, log, metrics.NewDashboardMetrics(registry))
	dashboardCtx, cancelDashboard := context.WithCancel(context.Background())
	go dashboardHub.Run(dashboardCtx)
	defer cancelDashboard()
	orch.SetPublisher(dashboardHub)

	statsCollector := stats.New(repo, stats.Config{}, log)
	healthMonitor := health.New(modProvider, compProvider, repo, health.Config{}, log)
	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	go statsCollector.Run(backgroundCtx)
	go healthMonitor.Run(backgroundCtx)
	defer cancelBackground()

	adminHandler := handlers.NewAdminHandler(repo, store, corpus, retriever, matcher, detector, cfgSvc,
		modProvider, compProvider, log).WithStatsAndHealth(statsCollector, healthMonitor)

	router := api.NewRouter(api.RouterConfig{
		EnableRateLimit:     true,
		EnableCompression:   true,
		EnableCORS:          true,
		EnableMetrics:       true,
		AdminKey:            cfg.Admin.Key,
		MaxRequestBodyBytes: cfg.Server.MaxRequestBodyBytes,
		RateLimitPerMinute:  30,
		RateLimitBurst:      10,
		CORSConfig:          middleware.DefaultCORSConfig(),
		Logger:              log,
		Conversations:       handlers.NewConversationsHandler(repo).WithCache(convCache),
		Messages:            handlers.NewMessagesHandler(orch),
		Admin:               adminHandler,
		DashboardWS:         dashboardHub.HandleWebSocket,
	})
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	signalHandler := NewSignalHandler(log, NewSignalMetrics(registry),
		NewRuleStoreInvalidator(store.Invalidate), corpus)
	signalHandler.Start()
	defer signalHandler.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("http server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

// buildStorage initializes the backend selected by cfg.Profile, connecting
// a Postgres pool first when the standard profile is in effect.
func buildStorage(ctx context.Context, cfg *config.Config, log *slog.Logger, registry prometheus.Registerer) (storage.Repository, error) {
	storageMetrics := metrics.NewStorageMetrics(registry)

	var pool *pgxpool.Pool
	if cfg.Profile == config.ProfileStandard {
		dsn := cfg.Database.URL
		if dsn == "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host,
				cfg.Database.Port, cfg.Database.Database, cfg.Database.SSLMode)
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse postgres DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
		poolCfg.MinConns = int32(cfg.Database.MinConnections)
		poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
		poolCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

		connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
		defer cancel()
		pool, err = pgxpool.NewWithConfig(connectCtx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
	}

	repo, err := storage.New(ctx, cfg, pool, log, storageMetrics)
	if err != nil {
		log.Warn("storage backend initialization failed, falling back to in-memory store", "error", err)
		return storage.NewFallback(log, storageMetrics), nil
	}
	return repo, nil
}

// buildRateLimiter picks a Redis-backed limiter for the standard profile, so
// the sliding window is shared across every instance behind a load
// balancer, and an in-process limiter for the lite profile.
func buildRateLimiter(ctx context.Context, cfg *config.Config, log *slog.Logger, registry prometheus.Registerer) (ratelimit.RateLimiter, error) {
	rlCfg := ratelimit.Config{Limit: cfg.Pipeline.RateLimitPerMinute, Window: cfg.Pipeline.RateLimitWindow}
	m := metrics.NewRateLimiterMetrics(registry)

	if cfg.Profile != config.ProfileStandard {
		return ratelimit.New(rlCfg, m), nil
	}

	redisLimiter, err := ratelimit.NewRedisLimiter(ctx, ratelimit.RedisLimiterConfig{
		Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize, MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout: cfg.Redis.DialTimeout, ReadTimeout: cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout, MaxRetries: cfg.Redis.MaxRetries,
		MinRetryBackoff: cfg.Redis.MinRetryBackoff, MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
	}, rlCfg, m, log)
	if err != nil {
		log.Warn("redis rate limiter unavailable, falling back to in-process limiter", "error", err)
		return ratelimit.New(rlCfg, m), nil
	}
	return redisLimiter, nil
}

// buildConversationCache always builds the in-memory tier; it additionally
// wires a shared Redis tier for the standard profile, so every gateway
// instance behind a load balancer observes the same cached pages. A Redis
// connection failure degrades to the in-memory tier alone rather than
// failing startup, since this cache is an optimization, not a dependency.
func buildConversationCache(ctx context.Context, cfg *config.Config, log *slog.Logger, registry prometheus.Registerer) *convcache.Cache {
	m := metrics.NewConversationCacheMetrics(registry)
	cache := convcache.New(convcache.Config{
		TTL:             cfg.Cache.TTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}, log, m)

	if cfg.Profile != config.ProfileStandard {
		return cache
	}

	redisTier, err := convcache.NewRedisTier(ctx, convcache.RedisConfig{
		Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize, MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout: cfg.Redis.DialTimeout, ReadTimeout: cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout, MaxRetries: cfg.Redis.MaxRetries,
		MinRetryBackoff: cfg.Redis.MinRetryBackoff, MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
	}, cfg.Cache.TTL, log)
	if err != nil {
		log.Warn("redis conversation cache tier unavailable, continuing with in-memory tier only", "error", err)
		return cache
	}
	cache.SetRedisTier(redisTier)
	return cache
}

func configSource(configPath string) config.ConfigSource {
	if configPath != "" {
		return config.ConfigSourceFile
	}
	return config.ConfigSourceEnv
}
