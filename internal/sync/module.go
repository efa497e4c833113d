// Package sync provides the device sync bounded context: the mutation ledger,
// conflict resolution for offline writes and the change feed.
package sync

import (
	apphttp "crewcommand_backend/internal/http"
	"crewcommand_backend/internal/sync/entity"
	"crewcommand_backend/internal/sync/handler"
	"crewcommand_backend/internal/sync/repository"
	"crewcommand_backend/internal/sync/service"
	"crewcommand_backend/platform/logger"
	"crewcommand_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the sync bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule wires the sync repository, service and handler.
// phoneRegion resolves national-format phone numbers in device payloads.
func NewModule(pool *pgxpool.Pool, val *validator.Validator, log *logger.Logger, metrics service.Recorder, phoneRegion string) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, entity.NewConverter(val, phoneRegion), log, metrics)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "sync"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts the sync routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/sync")
	group.POST("/push", m.handler.Push)
	group.GET("/pull", m.handler.Pull)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
