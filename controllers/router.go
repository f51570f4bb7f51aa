package controllers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/saif727/reward-token-relay/metrics"
	"github.com/saif727/reward-token-relay/middleware"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Health      *HealthController
	Disburse    *DisbursementController
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	// Metrics exposes GET /metrics when true.
	Metrics bool
	Log     *logrus.Entry
}

// NewRouter builds the gin engine. The rate limiter, when set, runs before
// every route.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logger(cfg.Log),
		middleware.Recovery(cfg.Log),
		middleware.CORS(cfg.CORSOrigins),
	)
	if cfg.RateLimiter != nil {
		router.Use(cfg.RateLimiter.Handler())
	}
	router.NoRoute(NotFound)

	router.GET("/ping", cfg.Health.Ping)
	router.POST("/send-tokens", cfg.Disburse.SendTokens)

	if cfg.Metrics {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return router
}
