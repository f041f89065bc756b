package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pricing-service/internal/common"
	"github.com/noah-isme/pricing-service/internal/health"
	"github.com/noah-isme/pricing-service/internal/obs"
	"github.com/noah-isme/pricing-service/internal/pricing"
	"github.com/noah-isme/pricing-service/internal/ratelimit"
	"github.com/noah-isme/pricing-service/internal/security"
)

type routerDeps struct {
	Logger         zerolog.Logger
	HTTPMetrics    *obs.HTTPMetrics
	TracingEnabled bool
	MetricsEnabled bool
	AllowedOrigins []string
	MaxBodyBytes   int64
	Limiter        ratelimit.Allower
	RateLimitMax   int
	RateLimitEvery time.Duration
	Pricing        *pricing.Handler
	Health         health.Handler
	Pprof          http.Handler
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if d.MetricsEnabled && d.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(d.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(security.Headers{Enable: true}.Middleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusNotFound, "Endpoint not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	r.Get("/", d.Health.Index)
	r.Get("/test", d.Health.Test)
	r.Get("/health/live", d.Health.Live)
	r.Get("/health/ready", d.Health.Ready)
	if d.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if d.Pprof != nil {
		r.Mount("/debug/pprof", d.Pprof)
	}

	r.Route("/api/pricing", func(p chi.Router) {
		// Throttled clients are turned away before their body is read.
		p.Use(ratelimit.Handler{
			Limiter: d.Limiter,
			Config: ratelimit.Config{
				Key:    ratelimit.ByClientIP,
				Window: d.RateLimitEvery,
				Max:    d.RateLimitMax,
			},
			OnError: func(err error) {
				d.Logger.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
			},
		}.Middleware)
		p.Use(security.BodyLimit{Max: d.MaxBodyBytes}.Middleware)
		d.Pricing.Routes(p)
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
