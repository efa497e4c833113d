package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crewcommand_backend/internal/domain"
	"crewcommand_backend/internal/followups/repository"
	"crewcommand_backend/internal/followups/schedule"
	"crewcommand_backend/internal/followups/templates"
	"crewcommand_backend/internal/followups/transport"
	"crewcommand_backend/internal/messaging"
	"crewcommand_backend/platform/logger"
	"crewcommand_backend/platform/metrics"
	"crewcommand_backend/platform/monitoring"

	"github.com/google/uuid"
)

const (
	// DefaultBatchLimit is the number of due messages claimed per run.
	DefaultBatchLimit = 200
	// DefaultLeaseTTL is how long a claimed message stays invisible to
	// other runs.
	DefaultLeaseTTL = 10 * time.Minute
	// DefaultBrandName is the last fallback for contractor and business names.
	DefaultBrandName = "CrewCommand"
)

// DispatchRecorder receives per-run outcome tallies.
type DispatchRecorder interface {
	RecordDispatchRun(out metrics.DispatchOutcome, elapsed time.Duration)
}

// DispatcherConfig tunes a Dispatcher. Zero values select the defaults.
type DispatcherConfig struct {
	BatchLimit int
	LeaseTTL   time.Duration
	FallbackTZ string
	BrandName  string
}

// Dispatcher sends due follow-up messages.
type Dispatcher struct {
	store   repository.DispatchStore
	sender  messaging.Sender
	log     *logger.Logger
	metrics DispatchRecorder
	cfg     DispatcherConfig
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(store repository.DispatchStore, sender messaging.Sender, cfg DispatcherConfig, log *logger.Logger, rec DispatchRecorder) *Dispatcher {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if strings.TrimSpace(cfg.BrandName) == "" {
		cfg.BrandName = DefaultBrandName
	}
	return &Dispatcher{
		store:   store,
		sender:  sender,
		log:     log,
		metrics: rec,
		cfg:     cfg,
		now:     time.Now,
	}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeRetried
	outcomeFailed
	outcomeDeferred
)

// Run processes one batch of due messages. Each message's outcome is
// committed before the next message is handled, so a cancelled run leaves
// no partial state. Per-message store errors are counted in ErroredCount and
// never abort the batch.
func (d *Dispatcher) Run(ctx context.Context) (transport.DispatchStats, error) {
	start := d.now()
	var stats transport.DispatchStats

	due, err := d.store.ClaimDue(ctx, start, d.cfg.BatchLimit, start.Add(d.cfg.LeaseTTL))
	if err != nil {
		return stats, err
	}
	stats.DueCount = len(due)
	if len(due) == 0 {
		d.finish(stats, start)
		return stats, nil
	}

	dctx, err := d.store.LoadContext(ctx, due)
	if err != nil {
		return stats, err
	}

	touched := make([]uuid.UUID, 0, len(due))
	seen := make(map[uuid.UUID]struct{}, len(due))

	for _, msg := range due {
		if ctx.Err() != nil {
			break
		}
		if _, ok := seen[msg.SequenceID]; !ok {
			seen[msg.SequenceID] = struct{}{}
			touched = append(touched, msg.SequenceID)
		}

		out, err := d.process(ctx, msg, dctx)
		if err != nil {
			stats.ErroredCount++
			d.log.WithContext(ctx).Error("followup dispatch failed",
				"message_id", msg.ID, "sequence_id", msg.SequenceID, "error", err)
			monitoring.CaptureError(ctx, err, map[string]string{
				"component":  "followup_dispatcher",
				"tenant_id":  msg.OrganizationID.String(),
				"message_id": msg.ID.String(),
			})
			continue
		}

		switch out {
		case outcomeSent:
			stats.SentCount++
		case outcomeRetried:
			stats.RetriedCount++
		case outcomeFailed:
			stats.FailedCount++
		case outcomeDeferred:
			stats.DeferredCount++
		default:
			stats.SkippedCount++
		}
	}
	stats.ProcessedCount = stats.SentCount + stats.RetriedCount + stats.FailedCount

	// The refresh must run even when the caller gave up mid-batch.
	if err := d.store.RefreshNextSendAt(context.WithoutCancel(ctx), touched); err != nil {
		stats.ErroredCount++
		d.log.WithContext(ctx).Error("refresh next_send_at failed", "sequences", len(touched), "error", err)
		monitoring.CaptureError(ctx, err, map[string]string{"component": "followup_dispatcher"})
	}

	d.finish(stats, start)
	return stats, nil
}

func (d *Dispatcher) finish(stats transport.DispatchStats, start time.Time) {
	elapsed := d.now().Sub(start)
	d.log.DispatchRun(stats.DueCount, stats.ProcessedCount, stats.SentCount, stats.RetriedCount,
		stats.FailedCount, stats.DeferredCount, stats.SkippedCount, stats.ErroredCount,
		float64(elapsed.Milliseconds()))
	if d.metrics != nil {
		d.metrics.RecordDispatchRun(metrics.DispatchOutcome{
			Sent:     stats.SentCount,
			Retried:  stats.RetriedCount,
			Failed:   stats.FailedCount,
			Deferred: stats.DeferredCount,
			Skipped:  stats.SkippedCount,
			Errored:  stats.ErroredCount,
		}, elapsed)
	}
}

func (d *Dispatcher) process(ctx context.Context, msg repository.DueMessage, dctx repository.DispatchContext) (outcome, error) {
	seq, ok := dctx.Sequences[msg.SequenceID]
	if !ok || seq.State != domain.FollowupActive {
		return d.skip(ctx, msg)
	}

	// Lead state wins over a stale queued message.
	lead, ok := dctx.Leads[seq.LeadID]
	if !ok || lead.Status != domain.LeadStatusEstimateSent || lead.FollowupState != domain.FollowupActive {
		return d.skip(ctx, msg)
	}

	org := dctx.Organizations[msg.OrganizationID]
	tz := schedule.NormalizeTimezone(seq.Timezone, schedule.NormalizeTimezone(org.Timezone, d.cfg.FallbackTZ))

	now := d.now()
	if !schedule.IsWithinSendWindow(now, tz) {
		ok, err := d.store.Reschedule(ctx, msg.ID, schedule.NextSendWindowStart(now, tz), msg.RetryCount, nil)
		return pick(ok, outcomeDeferred), err
	}

	tpl, found := dctx.Templates[repository.TemplateRef{OrganizationID: msg.OrganizationID, Key: msg.TemplateKey}]
	if !found {
		return d.failPermanently(ctx, msg, fmt.Sprintf("No active template found for key '%s'.", msg.TemplateKey))
	}

	tokens := d.tokens(lead, org, dctx)

	var (
		result   messaging.Result
		sendErr  error
		fallback string
	)
	switch msg.Channel {
	case domain.ChannelSMS:
		if strings.TrimSpace(tpl.SMSBody) == "" {
			return d.failPermanently(ctx, msg, fmt.Sprintf("Template '%s' does not have sms_body.", msg.TemplateKey))
		}
		if strings.TrimSpace(lead.PhoneE164) == "" {
			return d.failPermanently(ctx, msg, "Lead is missing phone_e164 for SMS delivery.")
		}
		fallback = "SMS provider request failed."
		result, sendErr = d.sender.SendSMS(ctx, messaging.SMS{
			To:   lead.PhoneE164,
			Body: templates.Render(tpl.SMSBody, tokens),
		})
	case domain.ChannelEmail:
		if strings.TrimSpace(tpl.EmailSubject) == "" || strings.TrimSpace(tpl.EmailBody) == "" {
			return d.failPermanently(ctx, msg, fmt.Sprintf("Template '%s' does not have email subject/body.", msg.TemplateKey))
		}
		if strings.TrimSpace(lead.Email) == "" {
			return d.failPermanently(ctx, msg, "Lead is missing email for email delivery.")
		}
		fallback = "Email provider request failed."
		result, sendErr = d.sender.SendEmail(ctx, messaging.Email{
			To:      lead.Email,
			Subject: templates.Render(tpl.EmailSubject, tokens),
			Body:    templates.Render(tpl.EmailBody, tokens),
		})
	default:
		return d.failPermanently(ctx, msg, fmt.Sprintf("Unsupported channel '%s'.", msg.Channel))
	}

	if sendErr == nil {
		ok, err := d.store.MarkSent(ctx, msg.ID, d.now().UTC(), result.ProviderMessageID)
		return pick(ok, outcomeSent), err
	}

	reason := strings.TrimSpace(sendErr.Error())
	if reason == "" {
		reason = fallback
	}
	if messaging.IsNotConfigured(sendErr) {
		return d.failPermanently(ctx, msg, reason)
	}

	next := msg.RetryCount + 1
	if next >= domain.MaxSendAttempts {
		ok, err := d.store.MarkFailed(ctx, msg.ID, next, reason)
		return pick(ok, outcomeFailed), err
	}
	ok, err := d.store.Reschedule(ctx, msg.ID, schedule.ApplyRetryDelay(now, tz, next), next, &reason)
	return pick(ok, outcomeRetried), err
}

// failPermanently records an unretryable configuration failure. The stored
// retry count is forced to the ceiling.
func (d *Dispatcher) failPermanently(ctx context.Context, msg repository.DueMessage, reason string) (outcome, error) {
	ok, err := d.store.MarkFailed(ctx, msg.ID, domain.MaxSendAttempts, reason)
	return pick(ok, outcomeFailed), err
}

func (d *Dispatcher) skip(ctx context.Context, msg repository.DueMessage) (outcome, error) {
	return outcomeSkipped, d.store.ReleaseLease(ctx, msg.ID)
}

// tokens resolves the contractor as the lead's creator, then the first
// owner, then the organization name, then the brand.
func (d *Dispatcher) tokens(lead repository.Lead, org repository.Organization, dctx repository.DispatchContext) templates.Tokens {
	business := firstNonBlank(org.Name, d.cfg.BrandName)

	var creator, owner string
	if lead.CreatedByProfileID != nil {
		if p, ok := dctx.Profiles[*lead.CreatedByProfileID]; ok && p.OrganizationID == lead.OrganizationID {
			creator = p.FullName
		}
	}
	if p, ok := dctx.Owners[lead.OrganizationID]; ok {
		owner = p.FullName
	}

	return templates.Tokens{
		ClientName:     strings.TrimSpace(lead.ClientName),
		JobType:        strings.TrimSpace(lead.JobType),
		ContractorName: firstNonBlank(creator, owner, org.Name, d.cfg.BrandName),
		BusinessName:   business,
	}
}

// pick maps a conditional write to its outcome; zero rows means another run
// already moved the message.
func pick(written bool, out outcome) outcome {
	if !written {
		return outcomeSkipped
	}
	return out
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
