package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pricing-service/internal/config"
	"github.com/noah-isme/pricing-service/internal/health"
	"github.com/noah-isme/pricing-service/internal/inventory"
	"github.com/noah-isme/pricing-service/internal/obs"
	"github.com/noah-isme/pricing-service/internal/pricing"
	"github.com/noah-isme/pricing-service/internal/ratelimit"
	"github.com/noah-isme/pricing-service/internal/resilience"
	"github.com/noah-isme/pricing-service/internal/ruledb"
)

const serviceName = "pricing_service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("service", serviceName).Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "pricing")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "pricing-service",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStart()

	rules, pool, err := loadRules(startCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("source", cfg.RulesSource).Msg("load pricing rules")
	}
	if pool != nil {
		defer pool.Close()
	}
	logger.Info().Str("source", cfg.RulesSource).Int("rules", rules.Len()).Msg("pricing rules loaded")

	breaker := resilience.NewBreaker(cfg.InventoryBreakerMinRequests, cfg.InventoryBreakerFailureRatio, cfg.InventoryBreakerOpenFor).
		WithTarget("inventory").
		WithLogger(logger)
	inventoryClient, err := inventory.NewClient(inventory.ClientConfig{
		BaseURL: cfg.InventoryBaseURL,
		Timeout: cfg.InventoryTimeout,
		Breaker: breaker,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise inventory client")
	}

	engine, err := pricing.NewEngine(pricing.EngineConfig{
		Resolver:    inventoryClient,
		Rules:       rules,
		Concurrency: cfg.LookupConcurrency,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise pricing engine")
	}

	probes := []health.Probe{health.ProbeFunc{Label: "inventory", Fn: inventoryClient.Ping}}
	if pool != nil {
		probes = append(probes, health.ProbeFunc{Label: "database", Fn: pool.Ping})
	}

	var limiter ratelimit.Allower = ratelimit.NewMemoryLimiter("pricing:rl:")
	if cfg.RedisURL != "" {
		redisClient := connectRedis(startCtx, cfg.RedisURL, metricsEnabled, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		limiter = ratelimit.RedisLimiter{Client: redisClient, Prefix: "pricing:rl:"}
		probes = append(probes, health.ProbeFunc{Label: "redis", Fn: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", "")), nil)
	}

	var pprofHandler http.Handler
	if envBool("OBS_ENABLE_PPROF", false) {
		pprofHandler = protectPprof(newPprofMux(),
			envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", ""),
			envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", ""))
	}

	handler := newRouter(routerDeps{
		Logger:         logger,
		HTTPMetrics:    httpMetrics,
		TracingEnabled: tracingEnabled,
		MetricsEnabled: metricsEnabled,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Limiter:        limiter,
		RateLimitMax:   cfg.RateLimitMax,
		RateLimitEvery: cfg.RateLimitWindow,
		Pricing:        &pricing.Handler{Engine: engine, Rules: rules},
		Health: health.Handler{
			Service: serviceName,
			Probes:  probes,
			Timeout: envDurationMillis("HEALTH_READY_TIMEOUT_MS", 500),
		},
		Pprof: pprofHandler,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("inventory", cfg.InventoryBaseURL).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

// loadRules builds the rule snapshot from the configured source. The pool is
// returned only for the postgres source so readiness can probe it.
func loadRules(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pricing.RuleSet, *pgxpool.Pool, error) {
	switch cfg.RulesSource {
	case config.RulesSourcePostgres:
		if cfg.DatabaseMigrate {
			if err := ruledb.Migrate(cfg.DatabaseURL); err != nil {
				return nil, nil, err
			}
			logger.Info().Msg("database migrations applied")
		}
		pool, err := ruledb.Open(ctx, cfg.DatabaseURL, "pricing-service")
		if err != nil {
			return nil, nil, err
		}
		list, err := ruledb.Load(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		rs, err := pricing.NewRuleSet(list)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return rs, pool, nil
	default:
		list := pricing.DefaultRules()
		if cfg.RulesJSON != "" {
			parsed, err := pricing.ParseRulesJSON([]byte(cfg.RulesJSON))
			if err != nil {
				return nil, nil, err
			}
			list = parsed
		}
		rs, err := pricing.NewRuleSet(list)
		return rs, nil, err
	}
}

func connectRedis(ctx context.Context, redisURL string, metricsEnabled bool, logger zerolog.Logger) *redis.Client {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}
