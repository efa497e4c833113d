// Package followups provides the estimate follow-up bounded context: the
// estimate-sent orchestrator, the per-lead message schedule and the
// dispatcher that delivers due messages.
package followups

import (
	"crewcommand_backend/internal/followups/handler"
	"crewcommand_backend/internal/followups/repository"
	"crewcommand_backend/internal/followups/service"
	apphttp "crewcommand_backend/internal/http"
	"crewcommand_backend/internal/messaging"
	"crewcommand_backend/platform/config"
	"crewcommand_backend/platform/httpkit"
	"crewcommand_backend/platform/logger"
	"crewcommand_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the follow-up bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	secret  string
}

// NewModule wires the follow-up repository, services and handler.
// wake and rec may be nil.
func NewModule(
	pool *pgxpool.Pool,
	sender messaging.Sender,
	wake service.WakeScheduler,
	cfg config.FollowupConfig,
	val *validator.Validator,
	log *logger.Logger,
	rec service.DispatchRecorder,
) *Module {
	repo := repository.New(pool)
	orchestrator := service.NewOrchestrator(repo, wake, cfg.GetFollowupDefaultTimezone(), log)
	dispatcher := NewDispatcher(repo, sender, cfg, log, rec)

	return &Module{
		handler: handler.New(orchestrator, dispatcher, val),
		secret:  cfg.GetFollowupDispatcherSecret(),
	}
}

// NewDispatcher builds a dispatcher from configuration. The scheduler worker
// uses it without the HTTP module.
func NewDispatcher(store repository.DispatchStore, sender messaging.Sender, cfg config.FollowupConfig, log *logger.Logger, rec service.DispatchRecorder) *service.Dispatcher {
	return service.NewDispatcher(store, sender, service.DispatcherConfig{
		BatchLimit: cfg.GetDispatchBatchLimit(),
		LeaseTTL:   cfg.GetDispatchLeaseTTL(),
		FallbackTZ: cfg.GetFollowupDefaultTimezone(),
		BrandName:  cfg.GetFollowupBrandName(),
	}, log, rec)
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "followups"
}

// RegisterRoutes mounts the follow-up routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.POST("/leads/estimate-sent", m.handler.EstimateSent)
	ctx.V1.POST("/followups/dispatch", httpkit.DispatcherSecret(m.secret), m.handler.Dispatch)
}

var _ apphttp.Module = (*Module)(nil)
