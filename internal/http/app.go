package http

import (
	"context"

	"crewcommand_backend/platform/config"
	"crewcommand_backend/platform/logger"
	"crewcommand_backend/platform/metrics"

	"github.com/gin-gonic/gin"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
	config.MetricsConfig
}

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is everything the router needs, assembled in cmd/api.
type App struct {
	// Config holds the router configuration (HTTP, JWT and metrics settings only).
	Config RouterConfig
	// Logger is the structured logger.
	Logger *logger.Logger
	// Readiness maps a dependency name to its ping (database, redis).
	Readiness map[string]HealthChecker
	// Metrics is the Prometheus registry; nil disables request metrics.
	Metrics *metrics.Metrics
	// ProfileResolver loads the caller's profile for the Protected group.
	ProfileResolver gin.HandlerFunc
	// Modules contains all HTTP-facing domain modules.
	Modules []Module
}
