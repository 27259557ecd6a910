package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/hms-api/internal/middleware"
	"github.com/jwalitptl/hms-api/pkg/metrics"
	"github.com/jwalitptl/hms-api/pkg/validator"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	CORSConfig       middleware.CORSConfig
	Timeout          time.Duration
	// Gatherer backs /metrics; defaults to the global registry.
	Gatherer prometheus.Gatherer
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	health   Handler
	handlers []Handler
}

// NewRouter builds the engine with the core middlewares. Handlers are
// mounted under /api/v1; mutating routes require a bearer token.
func NewRouter(
	auth *middleware.AuthMiddleware,
	health Handler,
	m *metrics.Metrics,
	config RouterConfig,
	handlers ...Handler,
) *Router {
	validator.Install()

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		middleware.Metrics(m),
	)
	if config.Timeout > 0 {
		engine.Use(middleware.Timeout(middleware.TimeoutConfig{Duration: config.Timeout}))
	}
	engine.Use(middleware.CORS(config.CORSConfig))

	if config.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		}, m)
		engine.Use(rateLimiter.RateLimit())
	}

	gatherer := config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return &Router{
		engine:   engine,
		auth:     auth,
		health:   health,
		handlers: handlers,
	}
}

func (r *Router) Setup() *gin.Engine {
	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.health.RegisterRoutes(api)

	protected := api.Group("")
	protected.Use(middleware.MutationsOnly(r.auth.Authenticate()))
	for _, h := range r.handlers {
		h.RegisterRoutes(protected)
	}
	return r.engine
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
