// Package identity provides the identity bounded context module.
package identity

import (
	"crewcommand_backend/internal/followups/templates"
	apphttp "crewcommand_backend/internal/http"
	"crewcommand_backend/internal/identity/handler"
	"crewcommand_backend/internal/identity/repository"
	"crewcommand_backend/internal/identity/service"
	"crewcommand_backend/platform/logger"
	"crewcommand_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule wires the identity module. tpls are the follow-up templates seeded
// into every new workspace.
func NewModule(pool *pgxpool.Pool, tpls []templates.Template, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, tpls, log)
	h := handler.New(svc, val, log)

	return &Module{handler: h, service: svc}
}

func (m *Module) Name() string {
	return "identity"
}

func (m *Module) Service() *service.Service {
	return m.service
}

// ProfileResolver is the middleware for the Protected route group.
func (m *Module) ProfileResolver() gin.HandlerFunc {
	return m.handler.ResolveProfile()
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Authenticated.POST("/auth/bootstrap", m.handler.Bootstrap)
	ctx.Protected.POST("/devices", m.handler.RegisterDevice)
}

var (
	_ apphttp.Module = (*Module)(nil)
	_ Service        = (*service.Service)(nil)
)
