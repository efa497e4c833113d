// Package http holds the composition types shared by the router and the
// feature modules (sync, followups, identity).
package http

import (
	"github.com/gin-gonic/gin"
)

// Module is a feature area that mounts its own routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext carries the route groups a module may mount on.
type RouterContext struct {
	Engine *gin.Engine
	// V1 is /api/v1 with no authentication; modules add their own guard
	// (the dispatcher uses a shared secret).
	V1 *gin.RouterGroup
	// Authenticated requires a valid bearer token but no profile yet.
	Authenticated *gin.RouterGroup
	// Protected requires a valid bearer token and a resolved profile, so
	// handlers can rely on httpkit.MustGetIdentity carrying a tenant.
	Protected *gin.RouterGroup
}
