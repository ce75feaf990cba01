// Package router assembles the gin engine of the transcription API.
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/transcribe/backend/internal/infrastructure/config"
	"github.com/transcribe/backend/internal/infrastructure/logger"
	"github.com/transcribe/backend/internal/infrastructure/telemetry"
	"github.com/transcribe/backend/internal/interfaces/http/dto"
	"github.com/transcribe/backend/internal/interfaces/http/handler"
	"github.com/transcribe/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrars ...RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrars...)
	return r
}

// Setup registers all routes under /api/{version}
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup collects the routes of one API area under a prefix
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new domain-specific route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodGet, path, handlers)
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPost, path, handlers)
}

// DELETE registers a DELETE route
func (dg *DomainGroup) DELETE(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodDelete, path, handlers)
}

func (dg *DomainGroup) handle(method, path string, handlers []gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: method, path: path, handlers: handlers})
	return dg
}

// RegisterRoutes implements RouteRegistrar interface
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Prefix returns the group prefix
func (dg *DomainGroup) Prefix() string {
	return dg.prefix
}

// Dependencies holds what the HTTP surface is built from
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *telemetry.Metrics
	Gatherer prometheus.Gatherer
	Auth     middleware.AuthConfig

	System         *handler.SystemHandler
	Accounts       *handler.AuthHandler
	Subscriptions  *handler.SubscriptionHandler
	Webhooks       *handler.WebhookHandler
	Transcriptions *handler.TranscriptionHandler
	APIKeys        *handler.APIKeyHandler
}

// NewEngine builds the gin engine with the global middleware chain, the
// operational endpoints and the versioned API
func NewEngine(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Warn("Invalid trusted proxies, trusting none", zap.Error(err))
		_ = engine.SetTrustedProxies(nil)
	}
	middleware.SetupValidator()

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		logger.GinMiddleware(log),
		middleware.Tracing(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		}),
		middleware.SpanEnricher(),
		middleware.HTTPMetrics(deps.Metrics),
		middleware.SecureWithConfig(middleware.SecurityConfigFor(cfg.App.Env)),
		middleware.CORSWithConfig(middleware.CORSConfigFrom(cfg.HTTP)),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(dto.ErrCodeNotFound, "Route not found", middleware.GetRequestID(c)))
	})
	engine.GET("/health", deps.System.Health)
	if deps.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	authenticated := []gin.HandlerFunc{middleware.Authenticate(deps.Auth)}
	var public []gin.HandlerFunc
	if limit := cfg.HTTP.RateLimitPerMinute; limit > 0 {
		limiter := middleware.NewRateLimiter(limit, time.Minute)
		authenticated = append(authenticated, middleware.RateLimit(limiter, middleware.RateLimitKey))
		// login attempts are keyed by client IP
		public = append(public, middleware.RateLimit(middleware.NewRateLimiter(limit, time.Minute), middleware.RateLimitKey))
	}

	NewRouter(engine).Register(
		NewDomainGroup("system", "/system").
			GET("/info", deps.System.GetSystemInfo),
		NewDomainGroup("auth", "/auth").Use(public...).
			POST("/register", deps.Accounts.Register).
			POST("/login", deps.Accounts.Login),
		NewDomainGroup("webhooks", "/webhooks").
			POST("/stripe", deps.Webhooks.HandleStripe),
		NewDomainGroup("subscriptions", "/subscriptions").Use(authenticated...).
			GET("/current", deps.Subscriptions.GetCurrent).
			POST("/cancel", deps.Subscriptions.Cancel),
		NewDomainGroup("billing", "/billing").Use(authenticated...).
			POST("/checkout", deps.Subscriptions.Checkout),
		NewDomainGroup("usage", "/usage").Use(authenticated...).
			GET("", deps.Subscriptions.GetUsage),
		NewDomainGroup("transcriptions", "/transcriptions").Use(authenticated...).
			POST("", deps.Transcriptions.Create).
			GET("", deps.Transcriptions.List).
			GET("/:id", deps.Transcriptions.Get).
			GET("/:id/audio", deps.Transcriptions.GetAudio),
		NewDomainGroup("api-keys", "/api-keys").Use(authenticated...).
			POST("", deps.APIKeys.Create).
			GET("", deps.APIKeys.List).
			DELETE("/:id", deps.APIKeys.Revoke),
	).Setup()

	return engine
}
