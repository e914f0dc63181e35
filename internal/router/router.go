package router

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/pos-sync/internal/middleware"
	"github.com/jwalitptl/pos-sync/pkg/auth"
	"github.com/jwalitptl/pos-sync/pkg/logger"
	"github.com/jwalitptl/pos-sync/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// Webhook route prefixes. The second keeps deliveries from CRMs configured
// against the older integration path working.
const (
	WebhookPrefix       = "/webhook"
	LegacyWebhookPrefix = "/api/integration/webhook"
	AdminPrefix         = "/admin"
	IntegrationPrefix   = "/api/v1/integration"
)

type Router struct {
	engine       *gin.Engine
	webhookH     Handler
	integrationH Handler
	adminH       Handler
	healthH      Handler
	config       RouterConfig
	metrics      *metrics.Metrics
	logger       *logger.Logger
}

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	RequestTimeout   time.Duration
	MaxBodySize      int64
	AdminToken       string
	// IntegrationTokens validates CRM bearer tokens on the integration API.
	IntegrationTokens auth.JWTService
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

func NewRouter(
	webhookH Handler,
	integrationH Handler,
	adminH Handler,
	healthH Handler,
	config RouterConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Router {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewMetrics("", prometheus.NewRegistry())
	}

	engine := gin.New()

	r := &Router{
		engine:       engine,
		webhookH:     webhookH,
		integrationH: integrationH,
		adminH:       adminH,
		healthH:      healthH,
		config:       config,
		metrics:      m,
		logger:       log,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log, middleware.LoggerConfig{
			SkipBodyPrefixes: []string{WebhookPrefix, LegacyWebhookPrefix},
		}),
		r.metricsMiddleware(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
	)

	return r
}

// Setup registers every route group.
func (r *Router) Setup() {
	inbound := []gin.HandlerFunc{middleware.SizeLimit(middleware.SizeLimitConfig{MaxBodySize: r.config.MaxBodySize})}
	if r.config.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.RateLimit,
			Burst: r.config.RateBurst,
		})
		inbound = append(inbound, limiter.RateLimit())
	}

	for _, prefix := range []string{WebhookPrefix, LegacyWebhookPrefix} {
		r.webhookH.RegisterRoutes(r.engine.Group(prefix, inbound...))
	}

	if r.integrationH != nil {
		tokens := r.config.IntegrationTokens
		if tokens == nil {
			// Every call fails with a configuration error.
			tokens = auth.NewJWTService("", "", 0)
		}
		guarded := append([]gin.HandlerFunc{}, inbound...)
		guarded = append(guarded, middleware.IntegrationAuth(tokens))
		r.integrationH.RegisterRoutes(r.engine.Group(IntegrationPrefix, guarded...))
	}

	admin := r.engine.Group(AdminPrefix, middleware.AdminToken(r.config.AdminToken))
	r.adminH.RegisterRoutes(admin)

	r.healthH.RegisterRoutes(r.engine.Group(""))
	r.engine.GET("/metrics", r.metricsHandler())
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) metricsHandler() gin.HandlerFunc {
	if r.config.Gatherer == nil {
		return gin.WrapH(promhttp.Handler())
	}
	return gin.WrapH(promhttp.HandlerFor(r.config.Gatherer, promhttp.HandlerOpts{}))
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := fmt.Sprintf("%d", c.Writer.Status())

		r.metrics.HTTPLatency.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		r.metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
