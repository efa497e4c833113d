// Package repository persists follow-up sequences and messages and loads the
// context the dispatcher needs to render and send them.
package repository

import (
	"context"
	"errors"
	"time"

	"crewcommand_backend/internal/domain"
	"crewcommand_backend/internal/followups/schedule"

	"github.com/google/uuid"
)

// ErrLeadNotFound is returned when the lead is absent, deleted or belongs to
// another organization.
var ErrLeadNotFound = errors.New("lead not found")

// LeadState is the part of a lead the orchestrator transitions.
type LeadState struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Status         domain.LeadStatus
	FollowupState  domain.FollowupState
	Version        int
}

// SequenceUpsert describes the sequence and queued messages for one lead.
type SequenceUpsert struct {
	OrganizationID uuid.UUID
	LeadID         uuid.UUID
	Timezone       string
	TriggerSource  domain.TriggerSource
	EstimateSentAt time.Time
	Entries        []schedule.Entry
}

// SequenceResult is the persisted outcome of an upsert.
type SequenceResult struct {
	SequenceID uuid.UUID
	NextSendAt *time.Time
}

// OrchestratorStore is used by the estimate-sent orchestrator.
type OrchestratorStore interface {
	GetLeadState(ctx context.Context, organizationID, leadID uuid.UUID) (LeadState, error)
	// MarkEstimateSent writes the transition only when the lead still has
	// the given version. It reports false on contention.
	MarkEstimateSent(ctx context.Context, organizationID, leadID uuid.UUID, version int, at time.Time) (bool, error)
	// ResolveTimezones returns the existing sequence zone and the
	// organization zone; either may be empty.
	ResolveTimezones(ctx context.Context, organizationID, leadID uuid.UUID) (sequenceTZ, organizationTZ string, err error)
	// UpsertSequence creates or re-activates the lead's sequence, upserts its
	// messages and recomputes next_send_at in one transaction.
	UpsertSequence(ctx context.Context, in SequenceUpsert) (SequenceResult, error)
}

// DueMessage is a queued message claimed by a dispatcher run.
type DueMessage struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	SequenceID     uuid.UUID
	StepNumber     int
	Channel        domain.Channel
	TemplateKey    string
	ScheduledAt    time.Time
	RetryCount     int
}

// Sequence is the dispatcher view of a follow-up sequence.
type Sequence struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	LeadID         uuid.UUID
	State          domain.FollowupState
	Timezone       string
}

// Lead is the dispatcher view of a lead.
type Lead struct {
	ID                 uuid.UUID
	OrganizationID     uuid.UUID
	ClientName         string
	JobType            string
	PhoneE164          string
	Email              string
	Status             domain.LeadStatus
	FollowupState      domain.FollowupState
	CreatedByProfileID *uuid.UUID
}

// Organization is the dispatcher view of a tenant.
type Organization struct {
	ID       uuid.UUID
	Name     string
	Timezone string
}

// Template is an active message template of an organization.
type Template struct {
	OrganizationID uuid.UUID
	Key            string
	SMSBody        string
	EmailSubject   string
	EmailBody      string
}

// Profile is a member of an organization.
type Profile struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	FullName       string
	Role           domain.Role
}

// TemplateRef identifies a template within an organization.
type TemplateRef struct {
	OrganizationID uuid.UUID
	Key            string
}

// DispatchContext holds everything the dispatcher reads for one batch.
type DispatchContext struct {
	Sequences     map[uuid.UUID]Sequence
	Leads         map[uuid.UUID]Lead
	Organizations map[uuid.UUID]Organization
	Templates     map[TemplateRef]Template
	Profiles      map[uuid.UUID]Profile
	// Owners maps an organization to its earliest owner profile.
	Owners map[uuid.UUID]Profile
}

// DispatchStore is used by the dispatcher. Every message write is
// conditioned on the message still being queued and reports false when it
// was not.
type DispatchStore interface {
	// ClaimDue leases up to limit queued messages due at now, oldest first.
	ClaimDue(ctx context.Context, now time.Time, limit int, leaseUntil time.Time) ([]DueMessage, error)
	LoadContext(ctx context.Context, messages []DueMessage) (DispatchContext, error)
	MarkSent(ctx context.Context, messageID uuid.UUID, sentAt time.Time, providerMessageID string) (bool, error)
	Reschedule(ctx context.Context, messageID uuid.UUID, at time.Time, retryCount int, errorMessage *string) (bool, error)
	MarkFailed(ctx context.Context, messageID uuid.UUID, retryCount int, errorMessage string) (bool, error)
	// ReleaseLease makes a skipped message claimable by the next run.
	ReleaseLease(ctx context.Context, messageID uuid.UUID) error
	// RefreshNextSendAt recomputes next_send_at for the given sequences.
	RefreshNextSendAt(ctx context.Context, sequenceIDs []uuid.UUID) error
}
