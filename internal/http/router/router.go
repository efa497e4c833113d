package router

import (
	"context"
	"net/http"
	"time"

	apphttp "crewcommand_backend/internal/http"
	"crewcommand_backend/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const readinessTimeout = 2 * time.Second

// New builds the gin engine: global middleware, health endpoints, metrics and
// every module's routes.
func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	engine.Use(httpkit.Recovery())
	engine.Use(httpkit.RequestContext())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(cors.New(corsConfig(app.Config)))
	if app.Metrics != nil {
		engine.Use(app.Metrics.Middleware())
	}

	limiter := httpkit.NewIPRateLimiter(
		rate.Limit(app.Config.GetRateLimitPerSecond()),
		app.Config.GetRateLimitBurst(),
		app.Logger,
	)

	engine.NoRoute(httpkit.NotFoundHandler())
	engine.NoMethod(httpkit.MethodNotAllowedHandler())

	engine.GET("/api/health", func(c *gin.Context) {
		httpkit.OK(c, gin.H{"status": "ok"})
	})
	engine.GET("/api/ready", readinessHandler(app))

	if app.Metrics != nil && app.Config.IsMetricsEnabled() {
		engine.GET("/metrics", gin.WrapH(app.Metrics.Handler()))
	}

	v1 := engine.Group("/api/v1")
	v1.Use(limiter.RateLimit())

	authenticated := v1.Group("")
	authenticated.Use(httpkit.AuthRequired(app.Config, app.Logger))

	protected := authenticated.Group("")
	if app.ProfileResolver != nil {
		protected.Use(app.ProfileResolver)
	}

	ctx := &apphttp.RouterContext{
		Engine:        engine,
		V1:            v1,
		Authenticated: authenticated,
		Protected:     protected,
	}
	for _, module := range app.Modules {
		module.RegisterRoutes(ctx)
		app.Logger.Debug("registered module routes", "module", module.Name())
	}

	return engine
}

func corsConfig(cfg apphttp.RouterConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID", httpkit.DispatcherSecretHeader},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: cfg.GetCORSAllowCreds(),
		MaxAge:           12 * time.Hour,
	}
	if cfg.GetCORSAllowAll() {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
	} else {
		c.AllowOrigins = cfg.GetCORSOrigins()
	}
	return c
}

func readinessHandler(app *apphttp.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		for name, check := range app.Readiness {
			if err := check.Ping(ctx); err != nil {
				app.Logger.Error("readiness check failed", "dependency", name, "error", err)
				httpkit.Error(c, http.StatusServiceUnavailable, "not_ready", name+" is not reachable")
				return
			}
		}
		httpkit.OK(c, gin.H{"status": "ready"})
	}
}
