package service

import (
	"context"
	"time"

	"crewcommand_backend/internal/sync/entity"
	"crewcommand_backend/internal/sync/repository"
	"crewcommand_backend/platform/apperr"
	"crewcommand_backend/platform/logger"

	"github.com/google/uuid"
)

// Recorder receives sync counters.
type Recorder interface {
	RecordMutation(entityType, outcome string)
	RecordFeedRows(n int)
}

// Actor is the authenticated caller of a sync operation.
type Actor struct {
	TenantID  uuid.UUID
	ProfileID uuid.UUID
}

// Service applies device mutations and serves the change feed.
type Service struct {
	repo    repository.Repository
	conv    *entity.Converter
	log     *logger.Logger
	metrics Recorder
	now     func() time.Time
}

// New creates a new sync service.
func New(repo repository.Repository, conv *entity.Converter, log *logger.Logger, metrics Recorder) *Service {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Service{
		repo:    repo,
		conv:    conv,
		log:     log,
		metrics: metrics,
		now:     time.Now,
	}
}

func (s *Service) requireDevice(ctx context.Context, tenantID, deviceID uuid.UUID) error {
	ok, err := s.repo.DeviceRegistered(ctx, tenantID, deviceID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("device is not registered for this organization").WithCode("device_not_registered")
	}
	return nil
}

type nopRecorder struct{}

func (nopRecorder) RecordMutation(string, string) {}
func (nopRecorder) RecordFeedRows(int)            {}
