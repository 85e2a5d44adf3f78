// Package opsapi serves health, metrics and read-only views of the delay
// queue, dead letters and the card copies.
package opsapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventcore/internal/catalog"
	"eventcore/internal/config"
	"eventcore/internal/deadletter"
	"eventcore/internal/delayqueue"
	"eventcore/internal/logger"
	"eventcore/pkg/health"
	"eventcore/pkg/middleware"
	"eventcore/pkg/ratelimit"
	"eventcore/pkg/tracing"
)

type JobInspector interface {
	Get(ctx context.Context, id string) (delayqueue.Job, error)
	Stats(ctx context.Context) (delayqueue.Stats, error)
}

type CardReader interface {
	Get(ctx context.Context, id string) (catalog.Card, error)
}

// Options wires the router. Jobs, DeadLetters and Cards are optional;
// their routes answer 503 when unset.
type Options struct {
	ServiceName    string
	Logger         logger.Logger
	Health         *health.CheckerRegistry
	Jobs           JobInspector
	DeadLetters    deadletter.Reader
	Cards          CardReader
	RateLimit      config.RateLimitConfig
	TracingEnabled bool
}

// NewRouter builds the gin engine. ctx bounds background work such as the
// rate limiter sweeper.
func NewRouter(ctx context.Context, opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if opts.TracingEnabled {
		router.Use(tracing.GinMiddleware(opts.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(opts.Logger))
	router.Use(middleware.LoggerMiddleware(opts.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if opts.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromSettings(opts.RateLimit)
		router.Use(ratelimit.RateLimitMiddleware(ctx, rateLimitConfig))
		opts.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	registry := opts.Health
	if registry == nil {
		registry = health.NewCheckerRegistry()
	}

	router.GET("/health", func(c *gin.Context) {
		h := registry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(opts.Jobs, opts.DeadLetters, opts.Cards, opts.Logger)
	h.RegisterRoutes(router)

	return router
}
