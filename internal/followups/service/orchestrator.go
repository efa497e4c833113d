// Package service implements the estimate-sent orchestrator and the
// follow-up dispatcher.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"crewcommand_backend/internal/domain"
	"crewcommand_backend/internal/followups/repository"
	"crewcommand_backend/internal/followups/schedule"
	"crewcommand_backend/internal/followups/transport"
	"crewcommand_backend/platform/apperr"
	"crewcommand_backend/platform/logger"
	"crewcommand_backend/platform/validator"

	"github.com/google/uuid"
)

// maxTransitionAttempts bounds the optimistic update loop of MarkEstimateSent:
// one attempt plus up to three retries.
const maxTransitionAttempts = 4

// WakeScheduler enqueues a dispatcher run for a future instant.
type WakeScheduler interface {
	ScheduleDispatch(ctx context.Context, at time.Time) error
}

// Actor is the authenticated caller.
type Actor struct {
	TenantID  uuid.UUID
	ProfileID uuid.UUID
}

// Orchestrator turns an estimate-sent event into a lead transition and a
// scheduled follow-up sequence.
type Orchestrator struct {
	store      repository.OrchestratorStore
	wake       WakeScheduler
	log        *logger.Logger
	fallbackTZ string
	now        func() time.Time
}

// NewOrchestrator creates an orchestrator. wake may be nil.
func NewOrchestrator(store repository.OrchestratorStore, wake WakeScheduler, fallbackTZ string, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		wake:       wake,
		log:        log,
		fallbackTZ: fallbackTZ,
		now:        time.Now,
	}
}

// MarkEstimateSent transitions the lead and (re)schedules its follow-ups.
func (o *Orchestrator) MarkEstimateSent(ctx context.Context, actor Actor, req transport.EstimateSentRequest) (transport.EstimateSentResponse, error) {
	leadID, err := uuid.Parse(req.LeadID)
	if err != nil {
		return transport.EstimateSentResponse{}, apperr.Validation("lead_id: must be a valid UUID")
	}

	sentAt := o.now().UTC()
	if raw := strings.TrimSpace(req.EstimateSentAt); raw != "" {
		parsed, err := validator.ParseTimestamp(raw)
		if err != nil {
			return transport.EstimateSentResponse{}, apperr.Validation("estimate_sent_at: must be an ISO-8601 timestamp")
		}
		sentAt = parsed.UTC()
	}

	trigger, err := domain.ParseTriggerSource(req.TriggerSource)
	if err != nil {
		return transport.EstimateSentResponse{}, apperr.Validation("trigger_source: must be either 'manual' or 'sent_from_another_tool'")
	}

	if err := o.transitionLead(ctx, actor.TenantID, leadID, sentAt); err != nil {
		return transport.EstimateSentResponse{}, err
	}

	sequenceTZ, orgTZ, err := o.store.ResolveTimezones(ctx, actor.TenantID, leadID)
	if err != nil {
		return transport.EstimateSentResponse{}, err
	}
	tz := schedule.NormalizeTimezone(sequenceTZ, schedule.NormalizeTimezone(orgTZ, o.fallbackTZ))

	result, err := o.store.UpsertSequence(ctx, repository.SequenceUpsert{
		OrganizationID: actor.TenantID,
		LeadID:         leadID,
		Timezone:       tz,
		TriggerSource:  trigger,
		EstimateSentAt: sentAt,
		Entries:        schedule.Build(sentAt, tz),
	})
	if err != nil {
		return transport.EstimateSentResponse{}, err
	}

	if result.NextSendAt != nil && o.wake != nil {
		if err := o.wake.ScheduleDispatch(ctx, *result.NextSendAt); err != nil {
			o.log.WithContext(ctx).Warn("failed to schedule followup wake-up",
				"sequence_id", result.SequenceID, "run_at", *result.NextSendAt, "error", err)
		}
	}

	return transport.EstimateSentResponse{
		LeadID:         leadID.String(),
		OrganizationID: actor.TenantID.String(),
		SequenceID:     result.SequenceID.String(),
		EstimateSentAt: sentAt,
		NextSendAt:     result.NextSendAt,
		Accepted:       true,
	}, nil
}

func (o *Orchestrator) transitionLead(ctx context.Context, tenantID, leadID uuid.UUID, sentAt time.Time) error {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		lead, err := o.store.GetLeadState(ctx, tenantID, leadID)
		if errors.Is(err, repository.ErrLeadNotFound) {
			return apperr.NotFound("Lead was not found in the authenticated organization.")
		}
		if err != nil {
			return err
		}
		if lead.Status.IsTerminal() {
			return apperr.Conflict("Lead is already " + string(lead.Status) + " and cannot return to estimate_sent.")
		}

		ok, err := o.store.MarkEstimateSent(ctx, tenantID, leadID, lead.Version, sentAt)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return apperr.Conflict("Lead was modified concurrently; retry the request.").WithCode("concurrent_modification")
}
